package curate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"sitewatch/monitor/crawl"
	"sitewatch/monitor/observability"
	"sitewatch/monitor/store"
	"sitewatch/monitor/urlutil"
)

// Full-regeneration thresholds. When a recrawl moves past any of these, the
// stored curation is considered stale as a whole and rewritten from scratch
// instead of patched section by section.
const (
	// Pages with less content than this are dropped before relevance filtering.
	minContentChars = 50

	fullRegenRemovedPct = 50.0
	fullRegenChangedPct = 50.0
	fullRegenNewPct     = 30.0

	changedContentPreview = 1500
	pagePreviewChars      = 2000
)

// Plan actions.
const (
	ActionFullCuration    = "full_curation"
	ActionSelectiveUpdate = "selective_update"
	ActionNoChanges       = "no_changes"
)

// ReportFunc receives pipeline progress. May be nil.
type ReportFunc func(stage string, current, total int, extra string)

// PlanResult summarizes what a curation pass did.
type PlanResult struct {
	Action           string   `json:"action"`
	Reason           string   `json:"reason"`
	AffectedSections []string `json:"affected_sections,omitempty"`
	ArtifactVersion  int      `json:"artifact_version,omitempty"`
	PageVersion      int      `json:"page_version"`
	DidWork          bool     `json:"did_work"`
}

// Planner owns the curated state and the artifact. It decides, per recrawl,
// between full curation, selective section updates, and doing nothing.
type Planner struct {
	store    store.Store
	provider Provider
}

func NewPlanner(st store.Store, provider Provider) *Planner {
	return &Planner{store: st, provider: provider}
}

// CurateInitial runs the from-scratch pipeline: relevance filter, full
// curation, curated-state replacement, page snapshot, artifact write.
func (p *Planner) CurateInitial(ctx context.Context, project *store.Project, records []crawl.PageRecord, trigger string, report ReportFunc) (*PlanResult, error) {
	report = ensureReport(report)

	report("FILTER", 0, 1, "classifying page relevance")
	relevant := p.filterRelevant(ctx, toContent(records))
	report("FILTER", 1, 1, fmt.Sprintf("kept %d/%d pages", len(relevant), len(records)))

	report("CURATE", 0, 1, "writing full curation")
	curation, err := p.provider.CurateFull(ctx, relevant)
	if err != nil {
		return nil, fmt.Errorf("full curation: %w", err)
	}
	report("CURATE", 1, 1, fmt.Sprintf("%d sections", len(curation.Sections)))

	hashByURL := contentHashes(records)
	if err := p.replaceCuration(ctx, project.ID, curation, hashByURL); err != nil {
		return nil, err
	}

	pageVersion, err := p.persistPages(ctx, project.ID, records)
	if err != nil {
		return nil, err
	}

	report("GENERATE", 0, 1, "assembling artifact")
	artifactVersion, err := p.assembleAndSave(ctx, project, trigger)
	if err != nil {
		return nil, err
	}
	report("GENERATE", 1, 1, fmt.Sprintf("version %d", artifactVersion))

	observability.PlannerDecisions.WithLabelValues(ActionFullCuration, trigger).Inc()
	return &PlanResult{
		Action:          ActionFullCuration,
		Reason:          "initial curation",
		ArtifactVersion: artifactVersion,
		PageVersion:     pageVersion,
		DidWork:         true,
	}, nil
}

// Apply runs the recrawl pipeline against existing curated state. records is
// the fresh crawl output; diff is the URL inventory reconciliation for this
// run (nil when mapping failed).
func (p *Planner) Apply(ctx context.Context, project *store.Project, records []crawl.PageRecord, diff *store.InventoryDiff, trigger string, report ReportFunc) (*PlanResult, error) {
	report = ensureReport(report)

	curated, err := p.store.GetCuratedPages(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if len(curated) == 0 {
		return p.CurateInitial(ctx, project, records, trigger, report)
	}

	report("ANALYZE", 0, 1, "comparing against curated state")

	scraped := make(map[string]crawl.PageRecord, len(records))
	for _, r := range records {
		scraped[urlutil.Normalize(r.URL)] = r
	}
	removedSet := make(map[string]bool)
	if diff != nil {
		for _, u := range diff.RemovedURLs {
			removedSet[urlutil.Normalize(u)] = true
		}
	}

	// Partition curated pages: removed from the site vs still present.
	var removed []*store.CuratedPage
	var still []*store.CuratedPage
	for _, cp := range curated {
		key := urlutil.Normalize(cp.URL)
		switch {
		case removedSet[key]:
			removed = append(removed, cp)
		default:
			if _, ok := scraped[key]; ok {
				still = append(still, cp)
			}
		}
	}

	// Hash mismatches among still-present curated pages.
	var changes []ChangedPage
	changedCurated := make(map[string]*store.CuratedPage)
	for _, cp := range still {
		rec := scraped[urlutil.Normalize(cp.URL)]
		if rec.ContentHash != "" && cp.ContentHash != "" && rec.ContentHash != cp.ContentHash {
			changes = append(changes, ChangedPage{
				URL:        cp.URL,
				OldContent: cp.Description,
				NewContent: truncateStr(rec.Markdown, changedContentPreview),
			})
			changedCurated[urlutil.Normalize(cp.URL)] = cp
		}
	}

	significant := map[string]string{}
	if len(changes) > 0 {
		report("ANALYZE", 0, 1, fmt.Sprintf("judging %d changed pages", len(changes)))
		significant, err = p.provider.EvaluateSignificance(ctx, changes)
		if err != nil {
			// Fail safe: an unjudged change counts as significant.
			log.Printf("planner: significance evaluation failed, assuming all %d significant: %v", len(changes), err)
			significant = make(map[string]string, len(changes))
			for _, ch := range changes {
				significant[ch.URL] = "evaluation failed, assumed significant"
			}
		}
	}
	var significantPages []*store.CuratedPage
	for url := range significant {
		if cp, ok := changedCurated[urlutil.Normalize(url)]; ok {
			significantPages = append(significantPages, cp)
		}
	}

	// New URLs: filter, then slot into sections.
	overview, err := p.store.GetSiteOverview(ctx, project.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	sections, err := p.store.GetCuratedSections(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	sectionNames := make([]string, 0, len(sections))
	for _, s := range sections {
		sectionNames = append(sectionNames, s.Name)
	}

	var newPages []CuratedPage
	var newSections []string
	if diff != nil && len(diff.NewURLs) > 0 {
		var newRecords []crawl.PageRecord
		for _, u := range diff.NewURLs {
			if rec, ok := scraped[urlutil.Normalize(u)]; ok {
				newRecords = append(newRecords, rec)
			}
		}
		if len(newRecords) > 0 {
			report("FILTER", 0, 1, fmt.Sprintf("filtering %d new pages", len(newRecords)))
			relevant := p.filterRelevant(ctx, toContent(newRecords))
			if len(relevant) > 0 && overview != nil {
				cat, err := p.provider.CategorizeNewPages(ctx, relevant, overview.Title, overview.Tagline, sectionNames)
				if err != nil {
					log.Printf("planner: categorization failed, filing %d pages under Other: %v", len(relevant), err)
					for _, pc := range relevant {
						newPages = append(newPages, CuratedPage{URL: pc.URL, Title: pc.Title, Category: "Other"})
					}
				} else {
					newPages = cat.Pages
					newSections = cat.NewSections
				}
			} else {
				for _, pc := range relevant {
					newPages = append(newPages, CuratedPage{URL: pc.URL, Title: pc.Title, Category: "Other"})
				}
			}
		}
	}

	// Full-regeneration thresholds.
	if regen, reason := fullRegenNeeded(len(curated), len(removed), len(significantPages), len(newPages), len(sections), len(newSections)); regen {
		log.Printf("planner: full regeneration for %s: %s", project.URL, reason)
		report("ANALYZE", 1, 1, "full regeneration: "+reason)

		relevant := p.filterRelevant(ctx, toContent(records))
		report("CURATE", 0, 1, "rewriting full curation")
		curation, err := p.provider.CurateFull(ctx, relevant)
		if err != nil {
			return nil, fmt.Errorf("full curation: %w", err)
		}
		if err := p.replaceCuration(ctx, project.ID, curation, contentHashes(records)); err != nil {
			return nil, err
		}
		pageVersion, err := p.persistPages(ctx, project.ID, records)
		if err != nil {
			return nil, err
		}
		artifactVersion, err := p.assembleAndSave(ctx, project, trigger)
		if err != nil {
			return nil, err
		}
		report("GENERATE", 1, 1, fmt.Sprintf("version %d", artifactVersion))
		observability.PlannerDecisions.WithLabelValues(ActionFullCuration, trigger).Inc()
		return &PlanResult{
			Action:          ActionFullCuration,
			Reason:          reason,
			ArtifactVersion: artifactVersion,
			PageVersion:     pageVersion,
			DidWork:         true,
		}, nil
	}

	anyChanges := len(removed) > 0 || len(significantPages) > 0 || len(newPages) > 0
	if !anyChanges {
		report("CURATE", 1, 1, "skipped, no significant changes")
		pageVersion, err := p.persistPages(ctx, project.ID, records)
		if err != nil {
			return nil, err
		}
		report("GENERATE", 1, 1, "kept existing artifact")
		observability.PlannerDecisions.WithLabelValues(ActionNoChanges, trigger).Inc()
		return &PlanResult{
			Action:      ActionNoChanges,
			Reason:      "no removed, changed, or new relevant pages",
			PageVersion: pageVersion,
		}, nil
	}

	// Selective update.
	report("ANALYZE", 1, 1, fmt.Sprintf("selective: -%d ~%d +%d", len(removed), len(significantPages), len(newPages)))

	affected := make(map[string]bool)
	for _, cp := range removed {
		affected[cp.Category] = true
	}
	for _, cp := range significantPages {
		affected[cp.Category] = true
	}
	for _, np := range newPages {
		affected[np.Category] = true
	}

	// Apply page-level store updates before regenerating prose so section
	// regeneration sees the post-change membership.
	for _, cp := range removed {
		if err := p.store.DeleteCuratedPage(ctx, project.ID, cp.URL); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	for _, cp := range significantPages {
		rec := scraped[urlutil.Normalize(cp.URL)]
		cp.ContentHash = rec.ContentHash
		if rec.Title != "" {
			cp.Title = rec.Title
		}
		if err := p.store.UpsertCuratedPage(ctx, cp); err != nil {
			return nil, err
		}
	}
	for _, np := range newPages {
		rec := scraped[urlutil.Normalize(np.URL)]
		if err := p.store.UpsertCuratedPage(ctx, &store.CuratedPage{
			ProjectID:   project.ID,
			URL:         np.URL,
			Title:       np.Title,
			Description: np.Description,
			Category:    np.Category,
			ContentHash: rec.ContentHash,
		}); err != nil {
			return nil, err
		}
	}

	siteTitle, tagline := project.URL, ""
	if overview != nil {
		siteTitle, tagline = overview.Title, overview.Tagline
	}

	existingSection := make(map[string]*store.CuratedSection, len(sections))
	for _, s := range sections {
		existingSection[s.Name] = s
	}
	names := make([]string, 0, len(affected)+len(newSections))
	for name := range affected {
		names = append(names, name)
	}
	for _, name := range newSections {
		if !affected[name] {
			names = append(names, name)
		}
	}

	total := len(names)
	report("CURATE", 0, total, "regenerating changed sections")
	done := 0
	for _, name := range names {
		members := p.sectionMembers(ctx, project.ID, name, scraped)
		done++

		if len(members) == 0 {
			if _, exists := existingSection[name]; exists {
				log.Printf("planner: section %q emptied, removing", name)
				if err := p.store.DeleteCuratedSection(ctx, project.ID, name); err != nil && !errors.Is(err, store.ErrNotFound) {
					return nil, err
				}
			}
			report("CURATE", done, total, "removed: "+name)
			continue
		}

		outcome, err := p.provider.RegenerateSection(ctx, name, members, siteTitle, tagline)
		if err != nil {
			// Keep the existing prose rather than losing the section.
			log.Printf("planner: regenerate section %q failed, keeping existing prose: %v", name, err)
			report("CURATE", done, total, "kept: "+name)
			continue
		}
		if outcome.Delete {
			log.Printf("planner: section %q marked for deletion: %s", name, outcome.DeleteReason)
			if err := p.deleteSectionWithPages(ctx, project.ID, name); err != nil {
				return nil, err
			}
			report("CURATE", done, total, "deleted: "+name)
			continue
		}

		sec := existingSection[name]
		if sec == nil {
			sec = &store.CuratedSection{ProjectID: project.ID, Name: name}
		}
		sec.Description = outcome.Description
		sec.PageURLs = memberURLs(members)
		if err := p.store.UpsertCuratedSection(ctx, sec); err != nil {
			return nil, err
		}
		report("CURATE", done, total, "regenerated: "+name)
	}

	pageVersion, err := p.persistPages(ctx, project.ID, records)
	if err != nil {
		return nil, err
	}

	report("GENERATE", 0, 1, "reassembling artifact")
	artifactVersion, err := p.assembleAndSave(ctx, project, trigger)
	if err != nil {
		return nil, err
	}
	report("GENERATE", 1, 1, fmt.Sprintf("version %d", artifactVersion))

	observability.PlannerDecisions.WithLabelValues(ActionSelectiveUpdate, trigger).Inc()
	return &PlanResult{
		Action:           ActionSelectiveUpdate,
		Reason:           fmt.Sprintf("%d removed, %d changed, %d new", len(removed), len(significantPages), len(newPages)),
		AffectedSections: names,
		ArtifactVersion:  artifactVersion,
		PageVersion:      pageVersion,
		DidWork:          true,
	}, nil
}

// fullRegenNeeded applies the structural thresholds that escalate a recrawl
// from selective patching to a full rewrite.
func fullRegenNeeded(curatedCount, removedCount, significantCount, newCount, sectionCount, newSectionCount int) (bool, string) {
	if curatedCount == 0 {
		return false, "no existing curated pages"
	}
	if pct := float64(removedCount) / float64(curatedCount) * 100; pct > fullRegenRemovedPct {
		return true, fmt.Sprintf("%.0f%% of curated urls removed (major restructure)", pct)
	}
	if pct := float64(significantCount) / float64(curatedCount) * 100; pct > fullRegenChangedPct {
		return true, fmt.Sprintf("%.0f%% of curated pages changed significantly (major content overhaul)", pct)
	}
	if newCount > 0 {
		if pct := float64(newCount) / float64(curatedCount) * 100; pct > fullRegenNewPct {
			return true, fmt.Sprintf("%.0f%% new relevant urls (major expansion)", pct)
		}
	}
	if newSectionCount > 0 && sectionCount > 0 && newSectionCount >= sectionCount {
		return true, fmt.Sprintf("%d new sections >= %d existing (site pivot)", newSectionCount, sectionCount)
	}
	return false, "changes within selective-update thresholds"
}

// filterRelevant applies the pre-filter and the provider's relevance
// classification. The homepage always survives; a provider error fails open.
func (p *Planner) filterRelevant(ctx context.Context, pages []PageContent) []PageContent {
	var homepage *PageContent
	var candidates []PageContent
	for i := range pages {
		if pages[i].IsHomepage {
			homepage = &pages[i]
			continue
		}
		if len(strings.TrimSpace(pages[i].Markdown)) >= minContentChars {
			candidates = append(candidates, pages[i])
		}
	}
	if len(candidates) == 0 {
		if homepage != nil {
			return []PageContent{*homepage}
		}
		return nil
	}

	urls, err := p.provider.FilterRelevance(ctx, candidates)
	if err != nil {
		log.Printf("planner: relevance filter failed, keeping all %d pages: %v", len(candidates), err)
		if homepage != nil {
			return append([]PageContent{*homepage}, candidates...)
		}
		return candidates
	}
	keep := make(map[string]bool, len(urls))
	for _, u := range urls {
		keep[urlutil.Normalize(u)] = true
	}
	var out []PageContent
	if homepage != nil {
		out = append(out, *homepage)
	}
	for _, pc := range candidates {
		if keep[urlutil.Normalize(pc.URL)] {
			out = append(out, pc)
		}
	}
	return out
}

// replaceCuration maps a Curation onto store rows and swaps them in.
func (p *Planner) replaceCuration(ctx context.Context, projectID string, curation *Curation, hashByURL map[string]string) error {
	overview := &store.SiteOverview{
		ProjectID: projectID,
		Title:     curation.SiteTitle,
		Tagline:   curation.Tagline,
		Overview:  curation.Overview,
	}
	var sections []*store.CuratedSection
	var pages []*store.CuratedPage
	for _, sec := range curation.Sections {
		urls := make([]string, 0, len(sec.Pages))
		for _, cp := range sec.Pages {
			urls = append(urls, cp.URL)
			pages = append(pages, &store.CuratedPage{
				ProjectID:   projectID,
				URL:         cp.URL,
				Title:       cp.Title,
				Description: cp.Description,
				Category:    sec.Name,
				ContentHash: hashByURL[urlutil.Normalize(cp.URL)],
			})
		}
		sections = append(sections, &store.CuratedSection{
			ProjectID:   projectID,
			Name:        sec.Name,
			Description: sec.Description,
			PageURLs:    urls,
		})
	}
	return p.store.ReplaceCuration(ctx, projectID, overview, sections, pages)
}

// persistPages snapshots the crawl at the next page version. Header
// fingerprints start empty so the first lightweight check observes fresh
// headers instead of trusting stale ones.
func (p *Planner) persistPages(ctx context.Context, projectID string, records []crawl.PageRecord) (int, error) {
	maxVersion, err := p.store.MaxPageVersion(ctx, projectID)
	if err != nil {
		return 0, err
	}
	version := maxVersion + 1
	pages := make([]*store.Page, 0, len(records))
	for _, r := range records {
		pages = append(pages, &store.Page{
			ProjectID:      projectID,
			URL:            r.URL,
			Title:          r.Title,
			Description:    r.Description,
			FirstParagraph: truncateStr(r.Markdown, pagePreviewChars),
			ContentHash:    r.ContentHash,
			Version:        version,
		})
	}
	if err := p.store.SaveManyPages(ctx, pages); err != nil {
		return 0, err
	}
	return version, nil
}

func (p *Planner) assembleAndSave(ctx context.Context, project *store.Project, trigger string) (int, error) {
	overview, err := p.store.GetSiteOverview(ctx, project.ID)
	if err != nil {
		return 0, fmt.Errorf("load overview: %w", err)
	}
	sections, err := p.store.GetCuratedSections(ctx, project.ID)
	if err != nil {
		return 0, err
	}
	pages, err := p.store.GetCuratedPages(ctx, project.ID)
	if err != nil {
		return 0, err
	}
	content := AssembleArtifact(overview, sections, pages, project.URL)
	sum := sha256.Sum256([]byte(content))
	version, err := p.store.SaveArtifact(ctx, project.ID, content, hex.EncodeToString(sum[:]), trigger)
	if err != nil {
		return 0, err
	}
	observability.ArtifactVersionsWritten.Inc()
	log.Printf("planner: saved artifact version %d for %s", version, project.URL)
	return version, nil
}

// sectionMembers builds the provider input for one section from the current
// curated membership joined against the fresh crawl.
func (p *Planner) sectionMembers(ctx context.Context, projectID, section string, scraped map[string]crawl.PageRecord) []PageContent {
	curated, err := p.store.GetCuratedPages(ctx, projectID)
	if err != nil {
		log.Printf("planner: load curated pages for section %q: %v", section, err)
		return nil
	}
	var members []PageContent
	for _, cp := range curated {
		if cp.Category != section {
			continue
		}
		rec, ok := scraped[urlutil.Normalize(cp.URL)]
		if !ok {
			continue
		}
		members = append(members, PageContent{URL: cp.URL, Title: cp.Title, Markdown: rec.Markdown})
	}
	return members
}

func (p *Planner) deleteSectionWithPages(ctx context.Context, projectID, name string) error {
	curated, err := p.store.GetCuratedPages(ctx, projectID)
	if err != nil {
		return err
	}
	for _, cp := range curated {
		if cp.Category != name {
			continue
		}
		if err := p.store.DeleteCuratedPage(ctx, projectID, cp.URL); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if err := p.store.DeleteCuratedSection(ctx, projectID, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func toContent(records []crawl.PageRecord) []PageContent {
	out := make([]PageContent, 0, len(records))
	for _, r := range records {
		out = append(out, PageContent{URL: r.URL, Title: r.Title, Markdown: r.Markdown, IsHomepage: r.IsHomepage})
	}
	return out
}

func contentHashes(records []crawl.PageRecord) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[urlutil.Normalize(r.URL)] = r.ContentHash
	}
	return out
}

func memberURLs(members []PageContent) []string {
	urls := make([]string, 0, len(members))
	for _, m := range members {
		urls = append(urls, m.URL)
	}
	return urls
}

func ensureReport(report ReportFunc) ReportFunc {
	if report == nil {
		return func(string, int, int, string) {}
	}
	return report
}
