package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitewatch/monitor/urlutil"
)

// MemoryStore is a single-node Store for tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	projects  map[string]*Project
	pages     map[string][]*Page          // projectID -> all versions
	inventory map[string]*InventoryEntry  // projectID|url
	curPages  map[string]*CuratedPage     // projectID|url
	curSecs   map[string]*CuratedSection  // projectID|name
	secOrder  map[string][]string         // projectID -> insertion order of section names
	overviews map[string]*SiteOverview    // projectID
	artifacts map[string]*Artifact        // projectID
	versions  map[string][]*ArtifactVersion
	jobs      map[string]*CrawlJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*Project),
		pages:     make(map[string][]*Page),
		inventory: make(map[string]*InventoryEntry),
		curPages:  make(map[string]*CuratedPage),
		curSecs:   make(map[string]*CuratedSection),
		secOrder:  make(map[string][]string),
		overviews: make(map[string]*SiteOverview),
		artifacts: make(map[string]*Artifact),
		versions:  make(map[string][]*ArtifactVersion),
		jobs:      make(map[string]*CrawlJob),
	}
}

func key2(a, b string) string { return a + "|" + b }

// --- Projects ---

func (m *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.URL = urlutil.Normalize(p.URL)
	for _, existing := range m.projects {
		if existing.URL == p.URL {
			return ErrDuplicate
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetProjectByURL(_ context.Context, url string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url = urlutil.Normalize(url)
	for _, p := range m.projects {
		if p.URL == url {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListProjects(_ context.Context) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateProjectStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *MemoryStore) TouchProjectChecked(_ context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.LastCheckedAt = &t
	return nil
}

func (m *MemoryStore) SetLastLightweightRescrape(_ context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.LastLightweightRescrap = &t
	return nil
}

func (m *MemoryStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	delete(m.pages, id)
	delete(m.overviews, id)
	delete(m.artifacts, id)
	delete(m.versions, id)
	delete(m.secOrder, id)
	for k, e := range m.inventory {
		if e.ProjectID == id {
			delete(m.inventory, k)
		}
	}
	for k, p := range m.curPages {
		if p.ProjectID == id {
			delete(m.curPages, k)
		}
	}
	for k, s := range m.curSecs {
		if s.ProjectID == id {
			delete(m.curSecs, k)
		}
	}
	for k, j := range m.jobs {
		if j.ProjectID == id {
			delete(m.jobs, k)
		}
	}
	return nil
}

// --- Pages ---

func (m *MemoryStore) MaxPageVersion(_ context.Context, projectID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxPageVersionLocked(projectID), nil
}

func (m *MemoryStore) maxPageVersionLocked(projectID string) int {
	maxV := 0
	for _, p := range m.pages[projectID] {
		if p.Version > maxV {
			maxV = p.Version
		}
	}
	return maxV
}

func (m *MemoryStore) GetPages(_ context.Context, projectID string, version int) ([]*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if version <= 0 {
		version = m.maxPageVersionLocked(projectID)
	}
	var out []*Page
	for _, p := range m.pages[projectID] {
		if p.Version == version {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *MemoryStore) SaveManyPages(_ context.Context, pages []*Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pages {
		cp := *p
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.URL = urlutil.Normalize(cp.URL)
		if cp.CrawledAt.IsZero() {
			cp.CrawledAt = time.Now()
		}
		m.pages[cp.ProjectID] = append(m.pages[cp.ProjectID], &cp)
	}
	return nil
}

func (m *MemoryStore) UpdatePageHeaders(_ context.Context, projectID, url, etag, lastModified string, contentLength int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.latestPageLocked(projectID, urlutil.Normalize(url))
	if p == nil {
		return ErrNotFound
	}
	p.ETag = etag
	p.LastModifiedHeader = lastModified
	if contentLength >= 0 {
		p.ContentLength = contentLength
	}
	return nil
}

func (m *MemoryStore) UpdatePageSampleHash(_ context.Context, projectID, url, sampleHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.latestPageLocked(projectID, urlutil.Normalize(url))
	if p == nil {
		return ErrNotFound
	}
	p.SampleHash = sampleHash
	return nil
}

func (m *MemoryStore) latestPageLocked(projectID, url string) *Page {
	var best *Page
	for _, p := range m.pages[projectID] {
		if p.URL == url && (best == nil || p.Version > best.Version) {
			best = p
		}
	}
	return best
}

// --- Inventory ---

func (m *MemoryStore) StoreInventory(_ context.Context, projectID string, urls []string, seenAt time.Time) (*InventoryDiff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := make(map[string]bool)
	for _, u := range urlutil.NormalizeAll(urls) {
		fresh[u] = true
	}

	stored := make(map[string]*InventoryEntry)
	for _, e := range m.inventory {
		if e.ProjectID == projectID {
			stored[e.URL] = e
		}
	}

	diff := &InventoryDiff{}
	for u := range fresh {
		if e, ok := stored[u]; ok {
			e.LastSeenAt = seenAt
			diff.ExistingURLs = append(diff.ExistingURLs, u)
		} else {
			m.inventory[key2(projectID, u)] = &InventoryEntry{
				ProjectID:   projectID,
				URL:         u,
				FirstSeenAt: seenAt,
				LastSeenAt:  seenAt,
			}
			diff.NewURLs = append(diff.NewURLs, u)
		}
	}
	// Removed entries stay; they are just not re-touched.
	for u := range stored {
		if !fresh[u] {
			diff.RemovedURLs = append(diff.RemovedURLs, u)
		}
	}
	sort.Strings(diff.NewURLs)
	sort.Strings(diff.RemovedURLs)
	sort.Strings(diff.ExistingURLs)
	diff.TotalStored = len(stored) + len(diff.NewURLs)
	return diff, nil
}

func (m *MemoryStore) GetInventory(_ context.Context, projectID string) ([]*InventoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*InventoryEntry
	for _, e := range m.inventory {
		if e.ProjectID == projectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// --- Curated state ---

func (m *MemoryStore) GetCuratedPages(_ context.Context, projectID string) ([]*CuratedPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CuratedPage
	for _, p := range m.curPages {
		if p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *MemoryStore) UpsertCuratedPage(_ context.Context, p *CuratedPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.URL = urlutil.Normalize(cp.URL)
	now := time.Now()
	if existing, ok := m.curPages[key2(cp.ProjectID, cp.URL)]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.curPages[key2(cp.ProjectID, cp.URL)] = &cp
	return nil
}

func (m *MemoryStore) DeleteCuratedPage(_ context.Context, projectID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.curPages, key2(projectID, urlutil.Normalize(url)))
	return nil
}

func (m *MemoryStore) GetCuratedSections(_ context.Context, projectID string) ([]*CuratedSection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CuratedSection
	for _, name := range m.secOrder[projectID] {
		if s, ok := m.curSecs[key2(projectID, name)]; ok {
			cp := *s
			cp.PageURLs = append([]string(nil), s.PageURLs...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertCuratedSection(_ context.Context, s *CuratedSection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCuratedSectionLocked(s)
	return nil
}

func (m *MemoryStore) upsertCuratedSectionLocked(s *CuratedSection) {
	cp := *s
	cp.PageURLs = append([]string(nil), s.PageURLs...)
	now := time.Now()
	k := key2(cp.ProjectID, cp.Name)
	if existing, ok := m.curSecs[k]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		m.secOrder[cp.ProjectID] = append(m.secOrder[cp.ProjectID], cp.Name)
	}
	cp.UpdatedAt = now
	m.curSecs[k] = &cp
}

func (m *MemoryStore) DeleteCuratedSection(_ context.Context, projectID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.curSecs, key2(projectID, name))
	order := m.secOrder[projectID]
	for i, n := range order {
		if n == name {
			m.secOrder[projectID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) GetSiteOverview(_ context.Context, projectID string) (*SiteOverview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overviews[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpsertSiteOverview(_ context.Context, o *SiteOverview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.UpdatedAt = time.Now()
	m.overviews[cp.ProjectID] = &cp
	return nil
}

func (m *MemoryStore) ReplaceCuration(_ context.Context, projectID string, overview *SiteOverview, sections []*CuratedSection, pages []*CuratedPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, p := range m.curPages {
		if p.ProjectID == projectID {
			delete(m.curPages, k)
		}
	}
	for k, s := range m.curSecs {
		if s.ProjectID == projectID {
			delete(m.curSecs, k)
		}
	}
	m.secOrder[projectID] = nil

	now := time.Now()
	if overview != nil {
		cp := *overview
		cp.ProjectID = projectID
		cp.UpdatedAt = now
		m.overviews[projectID] = &cp
	}
	for _, s := range sections {
		s.ProjectID = projectID
		m.upsertCuratedSectionLocked(s)
	}
	for _, p := range pages {
		cp := *p
		cp.ProjectID = projectID
		cp.URL = urlutil.Normalize(cp.URL)
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.curPages[key2(projectID, cp.URL)] = &cp
	}
	return nil
}

// --- Artifact ---

func (m *MemoryStore) GetArtifact(_ context.Context, projectID string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetArtifactVersion(_ context.Context, projectID string, version int) (*ArtifactVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions[projectID] {
		if v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListArtifactVersions(_ context.Context, projectID string) ([]*ArtifactVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ArtifactVersion, 0, len(m.versions[projectID]))
	for _, v := range m.versions[projectID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryStore) SaveArtifact(_ context.Context, projectID, content, contentHash, triggerReason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxV := 0
	for _, v := range m.versions[projectID] {
		if v.Version > maxV {
			maxV = v.Version
		}
	}
	version := maxV + 1
	now := time.Now()
	m.versions[projectID] = append(m.versions[projectID], &ArtifactVersion{
		ProjectID:     projectID,
		Version:       version,
		Content:       content,
		ContentHash:   contentHash,
		TriggerReason: triggerReason,
		GeneratedAt:   now,
	})
	m.artifacts[projectID] = &Artifact{
		ProjectID:   projectID,
		Content:     content,
		ContentHash: contentHash,
		Version:     version,
		GeneratedAt: now,
	}
	return version, nil
}

// --- Crawl jobs ---

func (m *MemoryStore) CreateCrawlJob(_ context.Context, job *CrawlJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCrawlJob(_ context.Context, id string) (*CrawlJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) StartCrawlJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	j.Status = JobRunning
	j.StartedAt = &now
	return nil
}

func (m *MemoryStore) CompleteCrawlJob(_ context.Context, id string, pagesCrawled, pagesChanged int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	j.Status = JobCompleted
	j.PagesCrawled = pagesCrawled
	j.PagesChanged = pagesChanged
	j.CompletedAt = &now
	return nil
}

func (m *MemoryStore) FailCrawlJob(_ context.Context, id, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	j.Status = JobFailed
	j.ErrorMessage = errorMessage
	j.CompletedAt = &now
	return nil
}

func (m *MemoryStore) HasActiveCrawl(_ context.Context, projectID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.ProjectID == projectID && (j.Status == JobPending || j.Status == JobRunning) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListCrawlJobs(_ context.Context, projectID string, limit int) ([]*CrawlJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CrawlJob
	for _, j := range m.jobs {
		if j.ProjectID == projectID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
