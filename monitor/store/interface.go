package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all implementations.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrConflict  = errors.New("conflicting operation in progress")
)

// Store is the relational repository behind the monitor. Implementations:
// PostgresStore (production, pgx) and MemoryStore (tests, single node).
type Store interface {
	// Projects.
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	GetProjectByURL(ctx context.Context, url string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProjectStatus(ctx context.Context, id, status string) error
	TouchProjectChecked(ctx context.Context, id string, t time.Time) error
	SetLastLightweightRescrape(ctx context.Context, id string, t time.Time) error
	DeleteProject(ctx context.Context, id string) error // cascades to children

	// Pages (versioned).
	MaxPageVersion(ctx context.Context, projectID string) (int, error)
	GetPages(ctx context.Context, projectID string, version int) ([]*Page, error) // version <= 0 means latest
	SaveManyPages(ctx context.Context, pages []*Page) error                       // one transaction
	UpdatePageHeaders(ctx context.Context, projectID, url, etag, lastModified string, contentLength int64) error
	UpdatePageSampleHash(ctx context.Context, projectID, url, sampleHash string) error

	// URL inventory.
	StoreInventory(ctx context.Context, projectID string, urls []string, seenAt time.Time) (*InventoryDiff, error)
	GetInventory(ctx context.Context, projectID string) ([]*InventoryEntry, error)

	// Curated state (owned by the planner).
	GetCuratedPages(ctx context.Context, projectID string) ([]*CuratedPage, error)
	UpsertCuratedPage(ctx context.Context, p *CuratedPage) error
	DeleteCuratedPage(ctx context.Context, projectID, url string) error
	GetCuratedSections(ctx context.Context, projectID string) ([]*CuratedSection, error)
	UpsertCuratedSection(ctx context.Context, s *CuratedSection) error
	DeleteCuratedSection(ctx context.Context, projectID, name string) error
	GetSiteOverview(ctx context.Context, projectID string) (*SiteOverview, error)
	UpsertSiteOverview(ctx context.Context, o *SiteOverview) error
	// ReplaceCuration swaps the whole curated state in one transaction
	// (full regeneration path).
	ReplaceCuration(ctx context.Context, projectID string, overview *SiteOverview, sections []*CuratedSection, pages []*CuratedPage) error

	// Artifact and version history. SaveArtifact writes version MAX+1 and
	// upserts the current row in the same transaction; returns the version.
	GetArtifact(ctx context.Context, projectID string) (*Artifact, error)
	GetArtifactVersion(ctx context.Context, projectID string, version int) (*ArtifactVersion, error)
	ListArtifactVersions(ctx context.Context, projectID string) ([]*ArtifactVersion, error)
	SaveArtifact(ctx context.Context, projectID, content, contentHash, triggerReason string) (int, error)

	// Crawl jobs.
	CreateCrawlJob(ctx context.Context, job *CrawlJob) error
	GetCrawlJob(ctx context.Context, id string) (*CrawlJob, error)
	StartCrawlJob(ctx context.Context, id string) error
	CompleteCrawlJob(ctx context.Context, id string, pagesCrawled, pagesChanged int) error
	FailCrawlJob(ctx context.Context, id, errorMessage string) error
	HasActiveCrawl(ctx context.Context, projectID string) (bool, error)
	ListCrawlJobs(ctx context.Context, projectID string, limit int) ([]*CrawlJob, error)
}
