// Package curate decides what the site summary artifact says. An LLM provider
// writes the prose; the planner decides how much of it to rewrite after a
// recrawl and keeps the stored curation and artifact in sync.
package curate

import "context"

// PageContent is the crawl-derived input handed to the provider.
type PageContent struct {
	URL        string
	Title      string
	Markdown   string
	IsHomepage bool
}

// ChangedPage pairs a page's previous summary with its fresh content so the
// provider can judge whether the change matters.
type ChangedPage struct {
	URL        string
	OldContent string
	NewContent string
}

// CuratedPage is one provider-written page entry.
type CuratedPage struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Section is one artifact section with prose and member pages.
type Section struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Pages       []CuratedPage `json:"pages"`
}

// Curation is the full output of a from-scratch curation pass.
type Curation struct {
	SiteTitle string    `json:"site_title"`
	Tagline   string    `json:"tagline"`
	Overview  string    `json:"overview"`
	Sections  []Section `json:"sections"`
}

// SectionOutcome is the provider's verdict on a single section: either fresh
// prose, or a decision to drop the section entirely.
type SectionOutcome struct {
	Delete       bool
	Description  string
	DeleteReason string
}

// Categorization assigns newly discovered pages to sections.
type Categorization struct {
	Pages       []CuratedPage
	NewSections []string
}

// Provider is the LLM surface the planner depends on. Implementations batch
// internally and apply their own per-batch fallbacks.
type Provider interface {
	// FilterRelevance returns the URLs worth keeping in the artifact.
	FilterRelevance(ctx context.Context, pages []PageContent) ([]string, error)
	// EvaluateSignificance returns url -> reason for changes that warrant
	// rewriting prose. Pages absent from the map are cosmetic changes.
	EvaluateSignificance(ctx context.Context, changes []ChangedPage) (map[string]string, error)
	// CurateFull writes the whole artifact structure from scratch.
	CurateFull(ctx context.Context, pages []PageContent) (*Curation, error)
	// RegenerateSection rewrites one section's prose, or votes to delete it.
	RegenerateSection(ctx context.Context, name string, pages []PageContent, siteTitle, tagline string) (*SectionOutcome, error)
	// CategorizeNewPages slots newly discovered pages into existing or new
	// sections.
	CategorizeNewPages(ctx context.Context, pages []PageContent, siteTitle, tagline string, existingSections []string) (*Categorization, error)
}
