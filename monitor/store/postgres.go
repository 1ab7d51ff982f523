package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sitewatch/monitor/urlutil"
)

// PostgresStore implements Store on pgx. Multi-row updates run inside one
// transaction; the per-project single-writer invariant upstream keeps
// transactions short and conflict-free.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.URL = urlutil.Normalize(p.URL)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, url, name, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.URL, p.Name, p.Status, p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) scanProject(row pgx.Row) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.URL, &p.Name, &p.Status, &p.CreatedAt, &p.LastCheckedAt, &p.LastLightweightRescrap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const projectColumns = `id, url, name, status, created_at, last_checked_at, last_lightweight_rescrape_at`

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (s *PostgresStore) GetProjectByURL(ctx context.Context, url string) (*Project, error) {
	return s.scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE url = $1`, urlutil.Normalize(url)))
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.URL, &p.Name, &p.Status, &p.CreatedAt, &p.LastCheckedAt, &p.LastLightweightRescrap); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchProjectChecked(ctx context.Context, id string, t time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET last_checked_at = $2 WHERE id = $1`, id, t)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetLastLightweightRescrape(ctx context.Context, id string, t time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET last_lightweight_rescrape_at = $2 WHERE id = $1`, id, t)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	// Children cascade via foreign keys.
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Pages ---

func (s *PostgresStore) MaxPageVersion(ctx context.Context, projectID string) (int, error) {
	var maxV int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM pages WHERE project_id = $1`, projectID).Scan(&maxV)
	return maxV, err
}

func (s *PostgresStore) GetPages(ctx context.Context, projectID string, version int) ([]*Page, error) {
	if version <= 0 {
		var err error
		version, err = s.MaxPageVersion(ctx, projectID)
		if err != nil {
			return nil, err
		}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, url, title, description, first_paragraph, content_hash,
		        etag, last_modified_header, content_length, sample_hash, version, crawled_at
		 FROM pages WHERE project_id = $1 AND version = $2 ORDER BY url`,
		projectID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.URL, &p.Title, &p.Description, &p.FirstParagraph,
			&p.ContentHash, &p.ETag, &p.LastModifiedHeader, &p.ContentLength, &p.SampleHash,
			&p.Version, &p.CrawledAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveManyPages(ctx context.Context, pages []*Page) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range pages {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CrawledAt.IsZero() {
			p.CrawledAt = time.Now()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO pages (id, project_id, url, title, description, first_paragraph,
			                    content_hash, etag, last_modified_header, content_length,
			                    sample_hash, version, crawled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			p.ID, p.ProjectID, urlutil.Normalize(p.URL), p.Title, p.Description, p.FirstParagraph,
			p.ContentHash, p.ETag, p.LastModifiedHeader, p.ContentLength,
			p.SampleHash, p.Version, p.CrawledAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdatePageHeaders(ctx context.Context, projectID, url, etag, lastModified string, contentLength int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pages SET etag = $3, last_modified_header = $4,
		        content_length = CASE WHEN $5 >= 0 THEN $5 ELSE content_length END
		 WHERE project_id = $1 AND url = $2
		   AND version = (SELECT MAX(version) FROM pages WHERE project_id = $1 AND url = $2)`,
		projectID, urlutil.Normalize(url), etag, lastModified, contentLength)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdatePageSampleHash(ctx context.Context, projectID, url, sampleHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pages SET sample_hash = $3
		 WHERE project_id = $1 AND url = $2
		   AND version = (SELECT MAX(version) FROM pages WHERE project_id = $1 AND url = $2)`,
		projectID, urlutil.Normalize(url), sampleHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Inventory ---

func (s *PostgresStore) StoreInventory(ctx context.Context, projectID string, urls []string, seenAt time.Time) (*InventoryDiff, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT url FROM url_inventory WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, err
		}
		stored[u] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fresh := urlutil.NormalizeAll(urls)
	freshSet := make(map[string]bool, len(fresh))
	diff := &InventoryDiff{}
	for _, u := range fresh {
		freshSet[u] = true
		if stored[u] {
			diff.ExistingURLs = append(diff.ExistingURLs, u)
		} else {
			diff.NewURLs = append(diff.NewURLs, u)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO url_inventory (project_id, url, first_seen_at, last_seen_at)
			 VALUES ($1, $2, $3, $3)
			 ON CONFLICT (project_id, url) DO UPDATE SET last_seen_at = $3`,
			projectID, u, seenAt); err != nil {
			return nil, err
		}
	}
	// Entries missing from the fresh set are kept untouched: their stale
	// last_seen_at is the removal signal.
	for u := range stored {
		if !freshSet[u] {
			diff.RemovedURLs = append(diff.RemovedURLs, u)
		}
	}
	diff.TotalStored = len(stored) + len(diff.NewURLs)

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return diff, nil
}

func (s *PostgresStore) GetInventory(ctx context.Context, projectID string) ([]*InventoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, url, first_seen_at, last_seen_at
		 FROM url_inventory WHERE project_id = $1 ORDER BY url`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*InventoryEntry
	for rows.Next() {
		var e InventoryEntry
		if err := rows.Scan(&e.ProjectID, &e.URL, &e.FirstSeenAt, &e.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Curated state ---

func (s *PostgresStore) GetCuratedPages(ctx context.Context, projectID string) ([]*CuratedPage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, url, title, description, category, content_hash,
		        etag, last_modified_header, content_length, sample_hash, created_at, updated_at
		 FROM curated_pages WHERE project_id = $1 ORDER BY url`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CuratedPage
	for rows.Next() {
		var p CuratedPage
		if err := rows.Scan(&p.ProjectID, &p.URL, &p.Title, &p.Description, &p.Category,
			&p.ContentHash, &p.ETag, &p.LastModifiedHeader, &p.ContentLength, &p.SampleHash,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertCuratedPage(ctx context.Context, p *CuratedPage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO curated_pages (project_id, url, title, description, category, content_hash,
		                            etag, last_modified_header, content_length, sample_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		 ON CONFLICT (project_id, url) DO UPDATE SET
		   title = $3, description = $4, category = $5, content_hash = $6,
		   etag = $7, last_modified_header = $8, content_length = $9, sample_hash = $10,
		   updated_at = now()`,
		p.ProjectID, urlutil.Normalize(p.URL), p.Title, p.Description, p.Category, p.ContentHash,
		p.ETag, p.LastModifiedHeader, p.ContentLength, p.SampleHash)
	return err
}

func (s *PostgresStore) DeleteCuratedPage(ctx context.Context, projectID, url string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM curated_pages WHERE project_id = $1 AND url = $2`,
		projectID, urlutil.Normalize(url))
	return err
}

func (s *PostgresStore) GetCuratedSections(ctx context.Context, projectID string) ([]*CuratedSection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, name, description, page_urls, content_hash, created_at, updated_at
		 FROM curated_sections WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CuratedSection
	for rows.Next() {
		var sec CuratedSection
		if err := rows.Scan(&sec.ProjectID, &sec.Name, &sec.Description, &sec.PageURLs,
			&sec.ContentHash, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertCuratedSection(ctx context.Context, sec *CuratedSection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO curated_sections (project_id, name, description, page_urls, content_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (project_id, name) DO UPDATE SET
		   description = $3, page_urls = $4, content_hash = $5, updated_at = now()`,
		sec.ProjectID, sec.Name, sec.Description, sec.PageURLs, sec.ContentHash)
	return err
}

func (s *PostgresStore) DeleteCuratedSection(ctx context.Context, projectID, name string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM curated_sections WHERE project_id = $1 AND name = $2`, projectID, name)
	return err
}

func (s *PostgresStore) GetSiteOverview(ctx context.Context, projectID string) (*SiteOverview, error) {
	var o SiteOverview
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, title, tagline, overview, updated_at
		 FROM site_overviews WHERE project_id = $1`, projectID).
		Scan(&o.ProjectID, &o.Title, &o.Tagline, &o.Overview, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) UpsertSiteOverview(ctx context.Context, o *SiteOverview) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO site_overviews (project_id, title, tagline, overview, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (project_id) DO UPDATE SET
		   title = $2, tagline = $3, overview = $4, updated_at = now()`,
		o.ProjectID, o.Title, o.Tagline, o.Overview)
	return err
}

func (s *PostgresStore) ReplaceCuration(ctx context.Context, projectID string, overview *SiteOverview, sections []*CuratedSection, pages []*CuratedPage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM curated_pages WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM curated_sections WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if overview != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO site_overviews (project_id, title, tagline, overview, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (project_id) DO UPDATE SET
			   title = $2, tagline = $3, overview = $4, updated_at = now()`,
			projectID, overview.Title, overview.Tagline, overview.Overview); err != nil {
			return err
		}
	}
	for _, sec := range sections {
		if _, err := tx.Exec(ctx,
			`INSERT INTO curated_sections (project_id, name, description, page_urls, content_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now(), now())`,
			projectID, sec.Name, sec.Description, sec.PageURLs, sec.ContentHash); err != nil {
			return err
		}
	}
	for _, p := range pages {
		if _, err := tx.Exec(ctx,
			`INSERT INTO curated_pages (project_id, url, title, description, category, content_hash,
			                            etag, last_modified_header, content_length, sample_hash, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
			projectID, urlutil.Normalize(p.URL), p.Title, p.Description, p.Category, p.ContentHash,
			p.ETag, p.LastModifiedHeader, p.ContentLength, p.SampleHash); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// --- Artifact ---

func (s *PostgresStore) GetArtifact(ctx context.Context, projectID string) (*Artifact, error) {
	var a Artifact
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, content, content_hash, version, generated_at
		 FROM artifacts WHERE project_id = $1`, projectID).
		Scan(&a.ProjectID, &a.Content, &a.ContentHash, &a.Version, &a.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetArtifactVersion(ctx context.Context, projectID string, version int) (*ArtifactVersion, error) {
	var v ArtifactVersion
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, version, content, content_hash, trigger_reason, generated_at
		 FROM artifact_versions WHERE project_id = $1 AND version = $2`, projectID, version).
		Scan(&v.ProjectID, &v.Version, &v.Content, &v.ContentHash, &v.TriggerReason, &v.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) ListArtifactVersions(ctx context.Context, projectID string) ([]*ArtifactVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT project_id, version, content, content_hash, trigger_reason, generated_at
		 FROM artifact_versions WHERE project_id = $1 ORDER BY version`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ArtifactVersion
	for rows.Next() {
		var v ArtifactVersion
		if err := rows.Scan(&v.ProjectID, &v.Version, &v.Content, &v.ContentHash, &v.TriggerReason, &v.GeneratedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, projectID, content, contentHash, triggerReason string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// MAX(version) + 1 inside the transaction keeps versions strictly
	// monotonic; the (project_id, version) primary key backstops races.
	var version int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM artifact_versions WHERE project_id = $1`,
		projectID).Scan(&version); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO artifact_versions (project_id, version, content, content_hash, trigger_reason, generated_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		projectID, version, content, contentHash, triggerReason); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO artifacts (project_id, content, content_hash, version, generated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (project_id) DO UPDATE SET
		   content = $2, content_hash = $3, version = $4, generated_at = now()`,
		projectID, content, contentHash, version); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return version, nil
}

// --- Crawl jobs ---

func (s *PostgresStore) CreateCrawlJob(ctx context.Context, job *CrawlJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_jobs (id, project_id, status, trigger_reason, created_at, task_handle)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.ProjectID, job.Status, job.TriggerReason, job.CreatedAt, job.TaskHandle)
	return err
}

func (s *PostgresStore) GetCrawlJob(ctx context.Context, id string) (*CrawlJob, error) {
	var j CrawlJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, status, trigger_reason, pages_crawled, pages_changed,
		        error_message, created_at, started_at, completed_at, task_handle
		 FROM crawl_jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.ProjectID, &j.Status, &j.TriggerReason, &j.PagesCrawled, &j.PagesChanged,
			&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.TaskHandle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) StartCrawlJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = $2, started_at = now() WHERE id = $1`, id, JobRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteCrawlJob(ctx context.Context, id string, pagesCrawled, pagesChanged int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = $2, pages_crawled = $3, pages_changed = $4, completed_at = now()
		 WHERE id = $1`, id, JobCompleted, pagesCrawled, pagesChanged)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailCrawlJob(ctx context.Context, id, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_jobs SET status = $2, error_message = $3, completed_at = now()
		 WHERE id = $1`, id, JobFailed, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HasActiveCrawl(ctx context.Context, projectID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM crawl_jobs WHERE project_id = $1 AND status IN ($2, $3)`,
		projectID, JobPending, JobRunning).Scan(&n)
	return n > 0, err
}

func (s *PostgresStore) ListCrawlJobs(ctx context.Context, projectID string, limit int) ([]*CrawlJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, status, trigger_reason, pages_crawled, pages_changed,
		        error_message, created_at, started_at, completed_at, task_handle
		 FROM crawl_jobs WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`,
		projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CrawlJob
	for rows.Next() {
		var j CrawlJob
		if err := rows.Scan(&j.ID, &j.ProjectID, &j.Status, &j.TriggerReason, &j.PagesCrawled, &j.PagesChanged,
			&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.TaskHandle); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}
