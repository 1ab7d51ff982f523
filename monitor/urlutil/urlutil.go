// Package urlutil holds the URL normalization rules shared by every
// component. All URL comparisons anywhere in the system go through
// Normalize first.
package urlutil

import "strings"

// Normalize lowercases the URL, strips the fragment, and removes trailing
// slashes (a bare "/" path is kept). Idempotent: Normalize(Normalize(u)) ==
// Normalize(u).
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	for len(s) > 1 && strings.HasSuffix(s, "/") {
		s = s[:len(s)-1]
	}
	return s
}

// stripSchemeAndWWW reduces a normalized URL to its host+path identity.
func stripSchemeAndWWW(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	return s
}

// IsHomepage reports whether pageURL and startURL identify the same page,
// ignoring scheme and a leading www. The homepage is special-cased all over:
// it is always kept by the relevance filter and excluded from section link
// lists.
func IsHomepage(pageURL, startURL string) bool {
	a := stripSchemeAndWWW(Normalize(pageURL))
	b := stripSchemeAndWWW(Normalize(startURL))
	if a == b {
		return true
	}
	// A homepage crawled as "site.com/" vs tracked as "site.com".
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// NormalizeAll maps Normalize over urls, deduplicating while preserving
// first-seen order.
func NormalizeAll(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := Normalize(u)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
