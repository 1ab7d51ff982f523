package curate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sitewatch/monitor/crawl"
	"sitewatch/monitor/store"
)

type fakeProvider struct {
	relevantURLs []string // nil means echo every candidate
	significant  map[string]string
	curation     *Curation
	curateErr    error
	outcomes     map[string]SectionOutcome
	regenErr     error
	cat          *Categorization

	curateCalls int
	regenCalls  []string
}

func (f *fakeProvider) FilterRelevance(_ context.Context, pages []PageContent) ([]string, error) {
	if f.relevantURLs != nil {
		return f.relevantURLs, nil
	}
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	return urls, nil
}

func (f *fakeProvider) EvaluateSignificance(_ context.Context, changes []ChangedPage) (map[string]string, error) {
	out := map[string]string{}
	for _, ch := range changes {
		if reason, ok := f.significant[ch.URL]; ok {
			out[ch.URL] = reason
		}
	}
	return out, nil
}

func (f *fakeProvider) CurateFull(_ context.Context, pages []PageContent) (*Curation, error) {
	f.curateCalls++
	if f.curateErr != nil {
		return nil, f.curateErr
	}
	return f.curation, nil
}

func (f *fakeProvider) RegenerateSection(_ context.Context, name string, pages []PageContent, _, _ string) (*SectionOutcome, error) {
	f.regenCalls = append(f.regenCalls, name)
	if f.regenErr != nil {
		return nil, f.regenErr
	}
	if out, ok := f.outcomes[name]; ok {
		return &out, nil
	}
	return &SectionOutcome{Description: "regenerated " + name}, nil
}

func (f *fakeProvider) CategorizeNewPages(_ context.Context, pages []PageContent, _, _ string, _ []string) (*Categorization, error) {
	if f.cat != nil {
		return f.cat, nil
	}
	var out Categorization
	for _, p := range pages {
		out.Pages = append(out.Pages, CuratedPage{URL: p.URL, Title: p.Title, Category: "Other"})
	}
	return &out, nil
}

func rec(url, title, markdown, hash string, home bool) crawl.PageRecord {
	return crawl.PageRecord{URL: url, Title: title, Markdown: markdown, ContentHash: hash, IsHomepage: home}
}

// seededPlanner builds a planner with four curated pages in two sections.
func seededPlanner(t *testing.T) (*Planner, *fakeProvider, *store.MemoryStore, *store.Project, []crawl.PageRecord) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := &store.Project{URL: "https://acme.com", Status: store.StatusReady}
	if err := st.CreateProject(ctx, p); err != nil {
		t.Fatalf("create project: %v", err)
	}

	records := []crawl.PageRecord{
		rec("https://acme.com", "Home", strings.Repeat("home content ", 10), "h-home", true),
		rec("https://acme.com/f1", "Feature One", strings.Repeat("feature one ", 10), "h1", false),
		rec("https://acme.com/f2", "Feature Two", strings.Repeat("feature two ", 10), "h2", false),
		rec("https://acme.com/about", "About", strings.Repeat("about us ", 10), "h3", false),
		rec("https://acme.com/pricing", "Pricing", strings.Repeat("plans ", 10), "h4", false),
	}
	provider := &fakeProvider{
		curation: &Curation{
			SiteTitle: "Acme",
			Tagline:   "Widgets for everyone",
			Overview:  "Acme builds widgets.",
			Sections: []Section{
				{Name: "Platform Features", Description: "pf prose", Pages: []CuratedPage{
					{URL: "https://acme.com/f1", Title: "Feature One", Description: "d1"},
					{URL: "https://acme.com/f2", Title: "Feature Two", Description: "d2"},
				}},
				{Name: "Company", Description: "co prose", Pages: []CuratedPage{
					{URL: "https://acme.com/about", Title: "About", Description: "d3"},
					{URL: "https://acme.com/pricing", Title: "Pricing", Description: "d4"},
				}},
			},
		},
	}
	planner := NewPlanner(st, provider)
	res, err := planner.CurateInitial(ctx, p, records, store.TriggerInitial, nil)
	if err != nil {
		t.Fatalf("initial curation: %v", err)
	}
	if res.Action != ActionFullCuration || res.ArtifactVersion != 1 || res.PageVersion != 1 {
		t.Fatalf("initial result = %+v", res)
	}
	return planner, provider, st, p, records
}

func TestCurateInitial(t *testing.T) {
	_, _, st, p, _ := seededPlanner(t)
	ctx := context.Background()

	artifact, err := st.GetArtifact(ctx, p.ID)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if artifact.Version != 1 {
		t.Errorf("artifact version = %d", artifact.Version)
	}
	if !strings.Contains(artifact.Content, "# Acme") || !strings.Contains(artifact.Content, "## Platform Features") {
		t.Errorf("artifact content:\n%s", artifact.Content)
	}

	pages, _ := st.GetPages(ctx, p.ID, 0)
	if len(pages) != 5 {
		t.Fatalf("stored %d pages, want 5", len(pages))
	}
	for _, pg := range pages {
		if pg.Version != 1 || pg.ETag != "" || pg.SampleHash != "" {
			t.Errorf("page %s should start at v1 with empty fingerprints: %+v", pg.URL, pg)
		}
	}

	curated, _ := st.GetCuratedPages(ctx, p.ID)
	if len(curated) != 4 {
		t.Errorf("curated %d pages, want 4", len(curated))
	}
	for _, cp := range curated {
		if cp.ContentHash == "" {
			t.Errorf("curated page %s missing content hash", cp.URL)
		}
	}
}

func TestApplyNoChanges(t *testing.T) {
	planner, provider, st, p, records := seededPlanner(t)
	ctx := context.Background()

	diff := &store.InventoryDiff{TotalStored: 5}
	res, err := planner.Apply(ctx, p, records, diff, store.TriggerScheduledCheck, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionNoChanges || res.DidWork {
		t.Errorf("result = %+v, want no_changes", res)
	}
	if res.PageVersion != 2 {
		t.Errorf("pages should snapshot at v2 even without curation, got v%d", res.PageVersion)
	}
	artifact, _ := st.GetArtifact(ctx, p.ID)
	if artifact.Version != 1 {
		t.Errorf("quiet recrawl wrote artifact v%d", artifact.Version)
	}
	if provider.curateCalls != 1 { // only the seed call
		t.Errorf("curate_full called %d times", provider.curateCalls)
	}
}

func TestApplySelectiveUpdate(t *testing.T) {
	planner, provider, st, p, records := seededPlanner(t)
	ctx := context.Background()

	records[1].ContentHash = "h1-changed"
	records[1].Markdown = strings.Repeat("rewritten feature one ", 10)
	provider.significant = map[string]string{"https://acme.com/f1": "feature overhauled"}
	provider.outcomes = map[string]SectionOutcome{
		"Platform Features": {Description: "pf prose v2"},
	}

	res, err := planner.Apply(ctx, p, records, &store.InventoryDiff{}, store.TriggerLightweightChange, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionSelectiveUpdate || !res.DidWork {
		t.Fatalf("result = %+v, want selective_update", res)
	}
	if len(res.AffectedSections) != 1 || res.AffectedSections[0] != "Platform Features" {
		t.Errorf("affected = %v", res.AffectedSections)
	}

	sections, _ := st.GetCuratedSections(ctx, p.ID)
	for _, s := range sections {
		switch s.Name {
		case "Platform Features":
			if s.Description != "pf prose v2" {
				t.Errorf("section prose not updated: %q", s.Description)
			}
		case "Company":
			if s.Description != "co prose" {
				t.Errorf("untouched section rewritten: %q", s.Description)
			}
		}
	}
	curated, _ := st.GetCuratedPages(ctx, p.ID)
	for _, cp := range curated {
		if cp.URL == "https://acme.com/f1" && cp.ContentHash != "h1-changed" {
			t.Errorf("changed page hash not advanced: %q", cp.ContentHash)
		}
	}
	artifact, _ := st.GetArtifact(ctx, p.ID)
	if artifact.Version != 2 || !strings.Contains(artifact.Content, "pf prose v2") {
		t.Errorf("artifact v%d:\n%s", artifact.Version, artifact.Content)
	}
	if provider.curateCalls != 1 {
		t.Error("selective update should not run full curation")
	}
}

func TestApplyInsignificantChangeIsQuiet(t *testing.T) {
	planner, provider, st, p, records := seededPlanner(t)
	ctx := context.Background()

	records[1].ContentHash = "h1-changed"
	provider.significant = map[string]string{} // judged cosmetic

	res, err := planner.Apply(ctx, p, records, &store.InventoryDiff{}, store.TriggerScheduledCheck, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionNoChanges {
		t.Errorf("cosmetic change produced %s", res.Action)
	}
	artifact, _ := st.GetArtifact(ctx, p.ID)
	if artifact.Version != 1 {
		t.Errorf("artifact advanced to v%d on cosmetic change", artifact.Version)
	}
}

func TestApplyMajorityRemovedTriggersFullRegen(t *testing.T) {
	planner, provider, st, p, _ := seededPlanner(t)
	ctx := context.Background()

	// 3 of 4 curated urls vanished.
	surviving := []crawl.PageRecord{
		rec("https://acme.com", "Home", strings.Repeat("home content ", 10), "h-home", true),
		rec("https://acme.com/about", "About", strings.Repeat("about us ", 10), "h3", false),
	}
	provider.curation = &Curation{
		SiteTitle: "Acme",
		Tagline:   "Smaller now",
		Overview:  "Acme, post-restructure.",
		Sections: []Section{
			{Name: "Company", Description: "what remains", Pages: []CuratedPage{
				{URL: "https://acme.com/about", Title: "About", Description: "d3"},
			}},
		},
	}
	diff := &store.InventoryDiff{
		RemovedURLs: []string{"https://acme.com/f1", "https://acme.com/f2", "https://acme.com/pricing"},
	}

	res, err := planner.Apply(ctx, p, surviving, diff, store.TriggerScheduledCheck, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionFullCuration {
		t.Fatalf("result = %+v, want full_curation", res)
	}
	if !strings.Contains(res.Reason, "removed") {
		t.Errorf("reason = %q", res.Reason)
	}
	if provider.curateCalls != 2 {
		t.Errorf("curate_full called %d times, want 2", provider.curateCalls)
	}
	sections, _ := st.GetCuratedSections(ctx, p.ID)
	if len(sections) != 1 || sections[0].Name != "Company" {
		t.Errorf("curation not replaced: %+v", sections)
	}
	artifact, _ := st.GetArtifact(ctx, p.ID)
	if artifact.Version != 2 || strings.Contains(artifact.Content, "Platform Features") {
		t.Errorf("artifact v%d:\n%s", artifact.Version, artifact.Content)
	}
}

func TestApplySectionDeleteVerdict(t *testing.T) {
	planner, provider, st, p, records := seededPlanner(t)
	ctx := context.Background()

	records[3].ContentHash = "h3-changed"
	provider.significant = map[string]string{"https://acme.com/about": "pivoted"}
	provider.outcomes = map[string]SectionOutcome{
		"Company": {Delete: true, DeleteReason: "no longer coherent"},
	}

	res, err := planner.Apply(ctx, p, records, &store.InventoryDiff{}, store.TriggerScheduledCheck, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionSelectiveUpdate {
		t.Fatalf("result = %+v", res)
	}
	sections, _ := st.GetCuratedSections(ctx, p.ID)
	for _, s := range sections {
		if s.Name == "Company" {
			t.Error("deleted section still stored")
		}
	}
	curated, _ := st.GetCuratedPages(ctx, p.ID)
	for _, cp := range curated {
		if cp.Category == "Company" {
			t.Errorf("page %s of deleted section still stored", cp.URL)
		}
	}
	artifact, _ := st.GetArtifact(ctx, p.ID)
	if strings.Contains(artifact.Content, "## Company") {
		t.Error("deleted section still rendered")
	}
}

func TestApplyRegenErrorKeepsExistingProse(t *testing.T) {
	planner, provider, st, p, records := seededPlanner(t)
	ctx := context.Background()

	records[1].ContentHash = "h1-changed"
	provider.significant = map[string]string{"https://acme.com/f1": "overhauled"}
	provider.regenErr = errors.New("model unavailable")

	res, err := planner.Apply(ctx, p, records, &store.InventoryDiff{}, store.TriggerScheduledCheck, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionSelectiveUpdate {
		t.Fatalf("result = %+v", res)
	}
	sections, _ := st.GetCuratedSections(ctx, p.ID)
	for _, s := range sections {
		if s.Name == "Platform Features" && s.Description != "pf prose" {
			t.Errorf("failed regeneration should keep prose, got %q", s.Description)
		}
	}
}

func TestApplyNewPageCategorized(t *testing.T) {
	planner, provider, st, p, records := seededPlanner(t)
	ctx := context.Background()

	newRec := rec("https://acme.com/team", "Team", strings.Repeat("people ", 20), "h5", false)
	records = append(records, newRec)
	provider.cat = &Categorization{
		Pages: []CuratedPage{{URL: "https://acme.com/team", Title: "Team", Description: "who we are", Category: "Company"}},
	}
	provider.outcomes = map[string]SectionOutcome{"Company": {Description: "co prose v2"}}
	diff := &store.InventoryDiff{NewURLs: []string{"https://acme.com/team"}}

	res, err := planner.Apply(ctx, p, records, diff, store.TriggerScheduledCheck, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Action != ActionSelectiveUpdate {
		t.Fatalf("result = %+v", res)
	}
	curated, _ := st.GetCuratedPages(ctx, p.ID)
	found := false
	for _, cp := range curated {
		if cp.URL == "https://acme.com/team" {
			found = true
			if cp.Category != "Company" || cp.ContentHash != "h5" {
				t.Errorf("new curated page = %+v", cp)
			}
		}
	}
	if !found {
		t.Fatal("new page not curated")
	}
	artifact, _ := st.GetArtifact(ctx, p.ID)
	if !strings.Contains(artifact.Content, "- [Team](https://acme.com/team): who we are") {
		t.Errorf("new page missing from artifact:\n%s", artifact.Content)
	}
}

func TestFilterRelevantAlwaysKeepsHomepage(t *testing.T) {
	provider := &fakeProvider{relevantURLs: []string{"https://acme.com/kept"}}
	planner := NewPlanner(store.NewMemoryStore(), provider)

	pages := []PageContent{
		{URL: "https://acme.com", Markdown: strings.Repeat("x", 100), IsHomepage: true},
		{URL: "https://acme.com/kept", Markdown: strings.Repeat("x", 100)},
		{URL: "https://acme.com/dropped", Markdown: strings.Repeat("x", 100)},
		{URL: "https://acme.com/empty", Markdown: "tiny"},
	}
	out := planner.filterRelevant(context.Background(), pages)
	if len(out) != 2 {
		t.Fatalf("kept %d pages, want homepage + 1: %+v", len(out), out)
	}
	if !out[0].IsHomepage {
		t.Error("homepage not first")
	}
	if out[1].URL != "https://acme.com/kept" {
		t.Errorf("kept wrong page: %s", out[1].URL)
	}
}

func TestFullRegenThresholds(t *testing.T) {
	cases := []struct {
		name                                                string
		curated, removed, significant, newPages, secs, nsec int
		want                                                bool
	}{
		{"no curated state", 0, 10, 10, 10, 0, 5, false},
		{"majority removed", 10, 6, 0, 0, 3, 0, true},
		{"half removed is not enough", 10, 5, 0, 0, 3, 0, false},
		{"majority changed", 10, 0, 6, 0, 3, 0, true},
		{"expansion over 30 percent", 10, 0, 0, 4, 3, 0, true},
		{"expansion at 30 percent", 10, 0, 0, 3, 3, 0, false},
		{"new sections outnumber existing", 10, 0, 0, 1, 2, 2, true},
		{"fewer new sections than existing", 10, 0, 0, 1, 2, 1, false},
		{"quiet", 10, 0, 0, 0, 3, 0, false},
	}
	for _, tc := range cases {
		got, reason := fullRegenNeeded(tc.curated, tc.removed, tc.significant, tc.newPages, tc.secs, tc.nsec)
		if got != tc.want {
			t.Errorf("%s: got %v (%s), want %v", tc.name, got, reason, tc.want)
		}
	}
}
