package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sitewatch/monitor/crawl"
	"sitewatch/monitor/curate"
	"sitewatch/monitor/probe"
	"sitewatch/monitor/progress"
	"sitewatch/monitor/scheduler"
	"sitewatch/monitor/store"
	"sitewatch/monitor/timeline"
)

// fakeCrawler serves a fixed page set without network access.
type fakeCrawler struct {
	pages      []crawl.PageRecord
	mapURLs    []string
	failCrawl  bool
	crawlCalls int
	batchCalls int
	batchURLs  []string
}

func (f *fakeCrawler) CrawlSite(_ context.Context, _ string, _ int) ([]crawl.PageRecord, error) {
	f.crawlCalls++
	if f.failCrawl {
		return nil, fmt.Errorf("crawler unavailable")
	}
	return f.pages, nil
}

func (f *fakeCrawler) CrawlPage(_ context.Context, url string) (*crawl.PageRecord, error) {
	for _, p := range f.pages {
		if p.URL == url {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("page not found: %s", url)
}

func (f *fakeCrawler) MapSite(_ context.Context, _ string) ([]string, error) {
	if len(f.mapURLs) > 0 {
		return f.mapURLs, nil
	}
	urls := make([]string, 0, len(f.pages))
	for _, p := range f.pages {
		urls = append(urls, p.URL)
	}
	return urls, nil
}

func (f *fakeCrawler) BatchScrape(_ context.Context, urls []string, _ string) ([]crawl.PageRecord, error) {
	f.batchCalls++
	f.batchURLs = urls
	want := make(map[string]bool, len(urls))
	for _, u := range urls {
		want[u] = true
	}
	var out []crawl.PageRecord
	for _, p := range f.pages {
		if want[p.URL] {
			out = append(out, p)
		}
	}
	return out, nil
}

// echoProvider curates every page into one fixed layout.
type echoProvider struct {
	significant map[string]string
	curateCalls int
}

func (p *echoProvider) FilterRelevance(_ context.Context, pages []curate.PageContent) ([]string, error) {
	urls := make([]string, 0, len(pages))
	for _, pg := range pages {
		urls = append(urls, pg.URL)
	}
	return urls, nil
}

func (p *echoProvider) EvaluateSignificance(_ context.Context, _ []curate.ChangedPage) (map[string]string, error) {
	return p.significant, nil
}

// CurateFull keeps the homepage and the first few pages, leaving the rest
// uncurated the way a real provider drops boilerplate pages.
func (p *echoProvider) CurateFull(_ context.Context, pages []curate.PageContent) (*curate.Curation, error) {
	p.curateCalls++
	section := curate.Section{Name: "Platform Features", Description: "What the product does."}
	for _, pg := range pages {
		if strings.Contains(pg.URL, "page-5") || strings.Contains(pg.URL, "page-6") {
			continue
		}
		section.Pages = append(section.Pages, curate.CuratedPage{
			URL: pg.URL, Title: pg.Title, Description: "About " + pg.Title,
		})
	}
	return &curate.Curation{
		SiteTitle: "Example",
		Tagline:   "An example site",
		Overview:  "Example sells examples.",
		Sections:  []curate.Section{section},
	}, nil
}

func (p *echoProvider) RegenerateSection(_ context.Context, name string, _ []curate.PageContent, _, _ string) (*curate.SectionOutcome, error) {
	return &curate.SectionOutcome{Description: "Rewritten prose for " + name}, nil
}

func (p *echoProvider) CategorizeNewPages(_ context.Context, pages []curate.PageContent, _, _ string, _ []string) (*curate.Categorization, error) {
	cat := &curate.Categorization{}
	for _, pg := range pages {
		cat.Pages = append(cat.Pages, curate.CuratedPage{URL: pg.URL, Title: pg.Title, Description: "About " + pg.Title, Category: "Other"})
	}
	return cat, nil
}

func sitePages(n int) []crawl.PageRecord {
	pages := []crawl.PageRecord{{
		URL: "https://example.com", Title: "Example", Markdown: "# Welcome to Example, home of all examples",
		IsHomepage: true,
	}}
	for i := 1; i < n; i++ {
		pages = append(pages, crawl.PageRecord{
			URL:      fmt.Sprintf("https://example.com/page-%d", i),
			Title:    fmt.Sprintf("Page %d", i),
			Markdown: fmt.Sprintf("Long-form content of page %d with plenty of words in it", i),
			Depth:    1,
		})
	}
	for i := range pages {
		sum := sha256.Sum256([]byte(pages[i].Markdown))
		pages[i].ContentHash = hex.EncodeToString(sum[:])
	}
	return pages
}

type harness struct {
	store    *store.MemoryStore
	sched    *scheduler.Scheduler
	pool     *WorkerPool
	api      *API
	crawler  *fakeCrawler
	provider *echoProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.NewMemoryStore()
	sched := scheduler.New(rdb, scheduler.DefaultConfig())
	tracker := progress.NewTracker(rdb)
	tl := timeline.NewStore()

	crawler := &fakeCrawler{pages: sitePages(7)}
	provider := &echoProvider{}
	planner := curate.NewPlanner(st, provider)

	pool := NewWorkerPool(st, sched, crawler, planner, tracker, tl, nil, 50)
	cfg := probe.DefaultCheckerConfig()
	cfg.PerRequestDelay = 0
	checker := probe.NewChecker(st, sched, probe.NewProber(&http.Client{}, nil), pool, cfg)
	pool.SetChecker(checker)

	api := NewAPI(st, sched, checker, pool, tracker, tl, nil)
	return &harness{store: st, sched: sched, pool: pool, api: api, crawler: crawler, provider: provider}
}

// createProject mirrors the API's creation path without going over HTTP.
func (h *harness) createProject(t *testing.T, ctx context.Context, url string) (*store.Project, string) {
	t.Helper()
	project := &store.Project{ID: "proj-1", URL: url, Name: "Example", Status: store.StatusPending}
	if err := h.store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	job := &store.CrawlJob{ProjectID: project.ID, TriggerReason: store.TriggerInitial}
	if err := h.store.CreateCrawlJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := h.sched.ScheduleProject(ctx, project.ID); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return project, job.ID
}

func TestInitialCrawlPipeline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project, jobID := h.createProject(t, ctx, "https://example.com")

	h.pool.runFullRescrape(ctx, project.ID, jobID)

	got, err := h.store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Status != store.StatusReady {
		t.Fatalf("status = %q, want ready", got.Status)
	}

	artifact, err := h.store.GetArtifact(ctx, project.ID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if artifact.Version != 1 {
		t.Errorf("artifact version = %d, want 1", artifact.Version)
	}
	if !strings.HasPrefix(artifact.Content, "# Example\n") {
		t.Errorf("artifact should open with the site title, got %q", artifact.Content[:40])
	}

	pages, err := h.store.GetPages(ctx, project.ID, 0)
	if err != nil {
		t.Fatalf("get pages: %v", err)
	}
	if len(pages) != 7 {
		t.Fatalf("pages = %d, want 7", len(pages))
	}
	for _, p := range pages {
		if p.Version != 1 {
			t.Errorf("page %s version = %d, want 1", p.URL, p.Version)
		}
		if p.ETag != "" {
			t.Errorf("page %s should start with a cleared ETag", p.URL)
		}
	}

	inventory, err := h.store.GetInventory(ctx, project.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if len(inventory) != 7 {
		t.Errorf("inventory = %d entries, want 7", len(inventory))
	}

	stats, err := h.sched.Stats(ctx)
	if err != nil {
		t.Fatalf("scheduler stats: %v", err)
	}
	if stats.FullScheduled != 1 || stats.LightweightScheduled != 1 {
		t.Errorf("timers = full %d / lightweight %d, want 1/1", stats.FullScheduled, stats.LightweightScheduled)
	}
	if stats.ActiveCooldowns != 0 {
		t.Errorf("cooldowns = %d, want 0", stats.ActiveCooldowns)
	}

	job, err := h.store.GetCrawlJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
	if job.PagesCrawled != 7 {
		t.Errorf("pages crawled = %d, want 7", job.PagesCrawled)
	}
}

func TestIdenticalRecrawlIsQuietAndBacksOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project, jobID := h.createProject(t, ctx, "https://example.com")
	h.pool.runFullRescrape(ctx, project.ID, jobID)

	job := &store.CrawlJob{ProjectID: project.ID, TriggerReason: store.TriggerScheduledCheck}
	if err := h.store.CreateCrawlJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	h.pool.runFullRescrape(ctx, project.ID, job.ID)

	artifact, err := h.store.GetArtifact(ctx, project.ID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if artifact.Version != 1 {
		t.Errorf("identical recrawl must not write a new artifact version, got %d", artifact.Version)
	}

	pages, err := h.store.GetPages(ctx, project.ID, 0)
	if err != nil {
		t.Fatalf("get pages: %v", err)
	}
	for _, p := range pages {
		if p.Version != 2 {
			t.Errorf("page %s version = %d, want 2 (fingerprints refreshed even on no-op)", p.URL, p.Version)
		}
	}

	interval, err := h.sched.CheckInterval(ctx, project.ID)
	if err != nil {
		t.Fatalf("check interval: %v", err)
	}
	if interval != 48 {
		t.Errorf("interval = %dh, want 48 (24 doubled after quiet check)", interval)
	}
	if h.provider.curateCalls != 1 {
		t.Errorf("curate calls = %d, want 1 (no re-curation on identical content)", h.provider.curateCalls)
	}
}

func TestSignificantChangeResetsInterval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project, jobID := h.createProject(t, ctx, "https://example.com")
	h.pool.runFullRescrape(ctx, project.ID, jobID)

	// Page 1 ships new content the provider judges significant.
	h.crawler.pages[1].Markdown = "Completely rewritten feature description with new claims"
	sum := sha256.Sum256([]byte(h.crawler.pages[1].Markdown))
	h.crawler.pages[1].ContentHash = hex.EncodeToString(sum[:])
	h.provider.significant = map[string]string{h.crawler.pages[1].URL: "feature set changed"}

	job := &store.CrawlJob{ProjectID: project.ID, TriggerReason: store.TriggerScheduledCheck}
	if err := h.store.CreateCrawlJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	h.pool.runFullRescrape(ctx, project.ID, job.ID)

	artifact, err := h.store.GetArtifact(ctx, project.ID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if artifact.Version != 2 {
		t.Errorf("artifact version = %d, want 2", artifact.Version)
	}
	if !strings.Contains(artifact.Content, "Rewritten prose for Platform Features") {
		t.Error("affected section prose should be regenerated")
	}

	interval, err := h.sched.CheckInterval(ctx, project.ID)
	if err != nil {
		t.Fatalf("check interval: %v", err)
	}
	if interval != h.sched.Config().MinIntervalHours {
		t.Errorf("interval = %dh, want min %dh after observed change", interval, h.sched.Config().MinIntervalHours)
	}

	doneJob, _ := h.store.GetCrawlJob(ctx, job.ID)
	if doneJob.PagesChanged != 1 {
		t.Errorf("pages changed = %d, want 1", doneJob.PagesChanged)
	}
}

func TestCrawlFailureMarksJobAndProject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project, jobID := h.createProject(t, ctx, "https://example.com")

	h.crawler.failCrawl = true
	h.crawler.mapURLs = nil // force the crawl path
	h.pool.runFullRescrape(ctx, project.ID, jobID)

	job, err := h.store.GetCrawlJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != store.JobFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "crawler unavailable") {
		t.Errorf("error message should carry the cause, got %q", job.ErrorMessage)
	}

	got, _ := h.store.GetProject(ctx, project.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("project status = %q, want failed", got.Status)
	}

	stats, err := h.sched.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.FullScheduled != 1 {
		t.Errorf("failed project should stay on the full-check timer for retry")
	}
}

func TestAPICreateAndFetchProject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	mux := http.NewServeMux()
	h.api.Routes(mux)

	body, _ := json.Marshal(map[string]string{"url": "https://example.com", "name": "Example"})
	req := httptest.NewRequest(http.MethodPost, "/api/projects", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created createProjectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Project.Status != store.StatusPending {
		t.Errorf("new project status = %q, want pending", created.Project.Status)
	}
	if created.JobID == "" {
		t.Error("expected an initial crawl job id")
	}

	// Duplicate URL conflicts.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/projects", bytes.NewReader(body))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rec.Code)
	}

	// Run the queued crawl, then the artifact endpoint serves plain text.
	h.pool.runFullRescrape(ctx, created.Project.ID, created.JobID)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/projects/"+created.Project.ID+"/artifact", nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("artifact status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("artifact content type = %q", ct)
	}
	if rec.Header().Get("X-Artifact-Version") != "1" {
		t.Errorf("artifact version header = %q, want 1", rec.Header().Get("X-Artifact-Version"))
	}

	// Delete removes the project and its timers.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/projects/"+created.Project.ID, nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	stats, _ := h.sched.Stats(ctx)
	if stats.FullScheduled != 0 || stats.LightweightScheduled != 0 {
		t.Errorf("timers after delete = %d/%d, want 0/0", stats.FullScheduled, stats.LightweightScheduled)
	}
}

func TestManualRecrawlHonorsCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project, jobID := h.createProject(t, ctx, "https://example.com")
	h.pool.runFullRescrape(ctx, project.ID, jobID)

	mux := http.NewServeMux()
	h.api.Routes(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID+"/recrawl", nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first recrawl status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Second request inside the cooldown window is refused.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID+"/recrawl", nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cooldown recrawl status = %d, want 409", rec.Code)
	}
	var result probe.TriggerResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Reason != "cooldown" {
		t.Errorf("reason = %q, want cooldown", result.Reason)
	}

	// force=true clears the cooldown and triggers.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID+"/recrawl?force=true", nil)
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("forced recrawl status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestBatchScrapeTargetsSubset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project, jobID := h.createProject(t, ctx, "https://example.com")
	h.pool.runFullRescrape(ctx, project.ID, jobID)

	// The site map grows by one URL the crawler also knows about.
	extra := crawl.PageRecord{
		URL: "https://example.com/new-page", Title: "New Page",
		Markdown: "Fresh page content that just appeared on the site", Depth: 1,
	}
	sum := sha256.Sum256([]byte(extra.Markdown))
	extra.ContentHash = hex.EncodeToString(sum[:])
	h.crawler.pages = append(h.crawler.pages, extra)
	all := make([]string, 0, len(h.crawler.pages)+3)
	for _, p := range h.crawler.pages {
		all = append(all, p.URL)
	}
	// Padding URLs make the curated+new subset strictly smaller than the map.
	all = append(all, "https://example.com/a", "https://example.com/b", "https://example.com/c")
	h.crawler.mapURLs = all

	job := &store.CrawlJob{ProjectID: project.ID, TriggerReason: store.TriggerScheduledCheck}
	if err := h.store.CreateCrawlJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	before := h.crawler.crawlCalls
	h.pool.runFullRescrape(ctx, project.ID, job.ID)

	if h.crawler.batchCalls != 1 {
		t.Fatalf("batch calls = %d, want 1", h.crawler.batchCalls)
	}
	if h.crawler.crawlCalls != before {
		t.Errorf("full crawl ran despite a smaller batch target set")
	}
	if len(h.crawler.batchURLs) >= len(all) {
		t.Errorf("batch targeted %d urls, want fewer than the %d mapped", len(h.crawler.batchURLs), len(all))
	}
}
