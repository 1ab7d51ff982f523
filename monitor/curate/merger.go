package curate

import (
	"fmt"
	"strings"

	"sitewatch/monitor/store"
	"sitewatch/monitor/urlutil"
)

// Canonical section order. Custom sections trail in stored order.
var sectionOrder = []string{
	"Platform Features",
	"Solutions",
	"Integrations",
	"Resources",
	"Pricing",
	"Company",
	"Other",
}

func orderSections(sections []*store.CuratedSection) []*store.CuratedSection {
	byName := make(map[string]*store.CuratedSection, len(sections))
	for _, s := range sections {
		byName[s.Name] = s
	}
	canonical := make(map[string]bool, len(sectionOrder))
	ordered := make([]*store.CuratedSection, 0, len(sections))
	for _, name := range sectionOrder {
		canonical[name] = true
		if s, ok := byName[name]; ok {
			ordered = append(ordered, s)
		}
	}
	for _, s := range sections {
		if !canonical[s.Name] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

// AssembleArtifact renders the site summary document from stored curation.
// The homepage is curation context but never a link entry, so it is filtered
// from every section when baseURL is set.
func AssembleArtifact(overview *store.SiteOverview, sections []*store.CuratedSection, pages []*store.CuratedPage, baseURL string) string {
	byCategory := make(map[string][]*store.CuratedPage)
	for _, p := range pages {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}

	var lines []string
	lines = append(lines, "# "+overview.Title, "")
	if overview.Tagline != "" {
		lines = append(lines, "> "+overview.Tagline, "")
	}
	if overview.Overview != "" {
		lines = append(lines, overview.Overview, "")
	}
	lines = append(lines, "---", "")

	ordered := orderSections(sections)
	for i, sec := range ordered {
		lines = append(lines, "## "+sec.Name, "")
		if sec.Description != "" {
			lines = append(lines, sec.Description, "")
		}

		var links []*store.CuratedPage
		for _, p := range byCategory[sec.Name] {
			if baseURL != "" && urlutil.IsHomepage(p.URL, baseURL) {
				continue
			}
			links = append(links, p)
		}
		if len(links) > 0 {
			lines = append(lines, "### Links", "")
			for _, p := range links {
				if p.Description != "" {
					lines = append(lines, fmt.Sprintf("- [%s](%s): %s", p.Title, p.URL, p.Description))
				} else {
					lines = append(lines, fmt.Sprintf("- [%s](%s)", p.Title, p.URL))
				}
			}
			lines = append(lines, "")
		}

		if i < len(ordered)-1 {
			lines = append(lines, "---", "")
		}
	}

	lines = append(lines, "---", "")
	lines = append(lines, fmt.Sprintf("This document helps AI systems understand %s's purpose and offerings.", overview.Title))
	return strings.Join(lines, "\n")
}
