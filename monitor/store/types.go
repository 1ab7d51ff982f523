package store

import "time"

// Project statuses.
const (
	StatusPending  = "pending"
	StatusCrawling = "crawling"
	StatusReady    = "ready"
	StatusFailed   = "failed"
)

// Crawl-job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Crawl-job trigger reasons.
const (
	TriggerInitial           = "initial"
	TriggerManual            = "manual"
	TriggerScheduledCheck    = "scheduled_check"
	TriggerLightweightChange = "lightweight_change_detected"
	TriggerChangeDetected    = "change_detected"
)

// Project is the aggregate root for one tracked site. Children reference it
// by id; there are no back-pointers.
type Project struct {
	ID                     string     `json:"id"`
	URL                    string     `json:"url"` // canonical, normalized, unique
	Name                   string     `json:"name"`
	Status                 string     `json:"status"`
	CreatedAt              time.Time  `json:"created_at"`
	LastCheckedAt          *time.Time `json:"last_checked_at,omitempty"`
	LastLightweightRescrap *time.Time `json:"last_lightweight_rescrape_at,omitempty"`
}

// Page is one crawled page at one version. Version-N rows are never mutated
// once version-N+1 exists, except for fingerprint advancement on the
// current version.
type Page struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	URL                string    `json:"url"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	FirstParagraph     string    `json:"first_paragraph"` // truncated content preview, drift baseline
	ContentHash        string    `json:"content_hash"`
	ETag               string    `json:"etag"`
	LastModifiedHeader string    `json:"last_modified_header"`
	ContentLength      int64     `json:"content_length"`
	SampleHash         string    `json:"sample_hash"`
	Version            int       `json:"version"`
	CrawledAt          time.Time `json:"crawled_at"`
}

// InventoryEntry records that a URL was ever observed for a project.
// Entries are never deleted; disappearance shows as a stale LastSeenAt.
type InventoryEntry struct {
	ProjectID   string    `json:"project_id"`
	URL         string    `json:"url"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// InventoryDiff is the result of reconciling a fresh URL set against the
// stored inventory.
type InventoryDiff struct {
	NewURLs      []string `json:"new_urls"`
	RemovedURLs  []string `json:"removed_urls"`
	ExistingURLs []string `json:"existing_urls"`
	TotalStored  int      `json:"total_stored"`
}

// CuratedPage is an LLM-written page description destined for the artifact.
// ContentHash records the hash the description was written from; a mismatch
// against a fresh crawl is the drift signal.
type CuratedPage struct {
	ProjectID          string    `json:"project_id"`
	URL                string    `json:"url"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	ContentHash        string    `json:"content_hash"`
	ETag               string    `json:"etag"`
	LastModifiedHeader string    `json:"last_modified_header"`
	ContentLength      int64     `json:"content_length"`
	SampleHash         string    `json:"sample_hash"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CuratedSection is one section of the artifact with its prose and members.
type CuratedSection struct {
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PageURLs    []string  `json:"page_urls"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SiteOverview is the artifact header material, one per project.
type SiteOverview struct {
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Tagline   string    `json:"tagline"`
	Overview  string    `json:"overview"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Artifact is the current assembled document for a project.
type Artifact struct {
	ProjectID   string    `json:"project_id"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ArtifactVersion is one historical artifact snapshot. Versions are
// strictly monotonic per project.
type ArtifactVersion struct {
	ProjectID     string    `json:"project_id"`
	Version       int       `json:"version"`
	Content       string    `json:"content"`
	ContentHash   string    `json:"content_hash"`
	TriggerReason string    `json:"trigger_reason"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// CrawlJob tracks one crawl pipeline run. Immutable once completed/failed.
type CrawlJob struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Status        string     `json:"status"`
	TriggerReason string     `json:"trigger_reason"`
	PagesCrawled  int        `json:"pages_crawled"`
	PagesChanged  int        `json:"pages_changed"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	TaskHandle    string     `json:"task_handle,omitempty"`
}
