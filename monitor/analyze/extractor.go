// Package analyze reduces HTML to change signals: a noise-insensitive
// semantic fingerprint and a 0-100 drift score. Everything here is pure CPU;
// nothing suspends.
package analyze

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/net/html"

	"sitewatch/monitor/urlutil"
)

const (
	maxContentSample = 10 * 1024
	maxNavLinks      = 20
)

// Tags whose subtrees never carry semantic content.
var strippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"canvas":   true,
	"video":    true,
	"audio":    true,
	"embed":    true,
	"object":   true,
}

// Class/id fragments that mark ad, consent, and overlay chrome. Matched as
// substrings of the lowercased class and id attributes.
var noisePatterns = []string{
	"cookie", "consent", "gdpr", "popup", "modal", "overlay",
	"advert", "banner", "tracking", "analytics", "newsletter",
}

// Fingerprint hashes the semantic identity of an HTML document: title, meta
// description, Open Graph title/description, a bounded main-content text
// sample, and the first navigation hrefs. Deploy-hash churn, tracker
// scripts, and consent chrome do not move the hash.
func Fingerprint(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		// html.Parse is tolerant; an error here means truncated garbage.
		// Hash the raw input so the caller still gets a stable value.
		sum := sha256.Sum256([]byte(src))
		return hex.EncodeToString(sum[:])
	}

	var parts []string
	add := func(prefix, val string) {
		val = collapse(strings.ToLower(val))
		if val != "" {
			parts = append(parts, prefix+val)
		}
	}

	add("TITLE:", Title(src))
	add("DESC:", metaContent(doc, "name", "description"))
	add("OG_TITLE:", metaContent(doc, "property", "og:title"))
	add("OG_DESC:", metaContent(doc, "property", "og:description"))

	content := mainContentText(doc)
	if len(content) > maxContentSample {
		content = content[:maxContentSample]
	}
	add("CONTENT:", content)

	nav := navHrefs(doc, true)
	if len(nav) > maxNavLinks {
		nav = nav[:maxNavLinks]
	}
	if len(nav) > 0 {
		parts = append(parts, "NAV:"+strings.Join(nav, ","))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// Title extracts the trimmed <title> text. Empty when absent or unparseable.
func Title(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var title string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			title = strings.TrimSpace(textOf(n))
			return false
		}
		return true
	})
	return title
}

// NavLinks extracts hrefs from anchors inside <nav>, falling back to
// <header> when no <nav> yields any. Anchor-only links are dropped; anchors
// and query strings are stripped; order-preserving dedupe.
func NavLinks(src string) []string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	return navHrefs(doc, false)
}

// --- traversal helpers ---

// walk visits nodes depth-first; visit returning false prunes the subtree.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// isNoise reports whether an element subtree should be ignored entirely.
func isNoise(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if strippedTags[n.Data] {
		return true
	}
	marker := strings.ToLower(attr(n, "class") + " " + attr(n, "id"))
	if marker == " " {
		return false
	}
	for _, p := range noisePatterns {
		if strings.Contains(marker, p) {
			return true
		}
	}
	return false
}

// textOf returns concatenated text of a subtree, skipping noise elements.
func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if isNoise(c) {
			return false
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return collapse(b.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func metaContent(doc *html.Node, attrKey, attrVal string) string {
	var content string
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "meta" && attr(n, attrKey) == attrVal {
			content = attr(n, "content")
			return false
		}
		return content == ""
	})
	return content
}

// mainContentText prefers <main>, <article>, role=main, then id=content,
// then <body>.
func mainContentText(doc *html.Node) string {
	var main, article, roleMain, idContent, body *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case n.Data == "main" && main == nil:
			main = n
		case n.Data == "article" && article == nil:
			article = n
		case attr(n, "role") == "main" && roleMain == nil:
			roleMain = n
		case attr(n, "id") == "content" && idContent == nil:
			idContent = n
		case n.Data == "body" && body == nil:
			body = n
		}
		return true
	})
	for _, n := range []*html.Node{main, article, roleMain, idContent, body} {
		if n != nil {
			if text := textOf(n); text != "" {
				return strings.ToLower(text)
			}
		}
	}
	return ""
}

// navHrefs collects anchor hrefs inside <nav> and (headerToo or as fallback)
// <header> elements.
func navHrefs(doc *html.Node, headerToo bool) []string {
	collect := func(tag string) []string {
		var hrefs []string
		walk(doc, func(n *html.Node) bool {
			if n.Type == html.ElementNode && n.Data == tag {
				walk(n, func(a *html.Node) bool {
					if a.Type == html.ElementNode && a.Data == "a" {
						if h := cleanHref(attr(a, "href")); h != "" {
							hrefs = append(hrefs, h)
						}
					}
					return true
				})
				return false
			}
			return true
		})
		return hrefs
	}

	hrefs := collect("nav")
	if headerToo || len(hrefs) == 0 {
		hrefs = append(hrefs, collect("header")...)
	}
	return urlutil.NormalizeAll(hrefs)
}

// cleanHref strips anchors and query strings; pure-fragment links vanish.
func cleanHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	return href
}
