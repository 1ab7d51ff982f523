package curate

import (
	"strings"
	"testing"

	"sitewatch/monitor/store"
)

func TestAssembleArtifactLayout(t *testing.T) {
	overview := &store.SiteOverview{
		Title:    "Acme",
		Tagline:  "Widgets for everyone",
		Overview: "Acme builds widgets.",
	}
	sections := []*store.CuratedSection{
		{Name: "Company", Description: "About the team."},
		{Name: "Platform Features", Description: "What the product does."},
	}
	pages := []*store.CuratedPage{
		{URL: "https://acme.com/features", Title: "Features", Description: "Feature tour", Category: "Platform Features"},
		{URL: "https://acme.com/about", Title: "About", Description: "Who we are", Category: "Company"},
		{URL: "https://acme.com", Title: "Home", Description: "Homepage", Category: "Platform Features"},
	}

	content := AssembleArtifact(overview, sections, pages, "https://acme.com")

	if !strings.HasPrefix(content, "# Acme\n\n> Widgets for everyone\n\nAcme builds widgets.\n\n---\n") {
		t.Errorf("header wrong:\n%s", content)
	}
	// Canonical order: Platform Features before Company regardless of stored order.
	if strings.Index(content, "## Platform Features") > strings.Index(content, "## Company") {
		t.Error("sections not in canonical order")
	}
	if !strings.Contains(content, "- [Features](https://acme.com/features): Feature tour") {
		t.Errorf("link entry missing:\n%s", content)
	}
	// Homepage is context, never a link.
	if strings.Contains(content, "(https://acme.com)") {
		t.Error("homepage leaked into links")
	}
	if !strings.HasSuffix(content, "This document helps AI systems understand Acme's purpose and offerings.") {
		t.Errorf("footer missing:\n%s", content)
	}
}

func TestAssembleArtifactDeterministic(t *testing.T) {
	overview := &store.SiteOverview{Title: "Acme", Tagline: "t", Overview: "o"}
	sections := []*store.CuratedSection{
		{Name: "Custom Area", Description: "custom"},
		{Name: "Pricing", Description: "plans"},
	}
	pages := []*store.CuratedPage{
		{URL: "https://acme.com/pricing", Title: "Pricing", Category: "Pricing"},
		{URL: "https://acme.com/custom", Title: "Custom", Category: "Custom Area"},
	}

	first := AssembleArtifact(overview, sections, pages, "https://acme.com")
	second := AssembleArtifact(overview, sections, pages, "https://acme.com")
	if first != second {
		t.Error("assembly not deterministic")
	}
	// Custom sections trail the canonical ones.
	if strings.Index(first, "## Pricing") > strings.Index(first, "## Custom Area") {
		t.Error("custom section placed before canonical section")
	}
}

func TestAssembleArtifactSectionWithoutLinks(t *testing.T) {
	overview := &store.SiteOverview{Title: "Acme"}
	sections := []*store.CuratedSection{{Name: "Company", Description: "prose only"}}

	content := AssembleArtifact(overview, sections, nil, "")
	if strings.Contains(content, "### Links") {
		t.Error("empty section rendered a Links block")
	}
	if !strings.Contains(content, "## Company\n\nprose only") {
		t.Errorf("prose missing:\n%s", content)
	}
}
