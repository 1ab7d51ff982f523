package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DDL applied at startup. Idempotent; no migration tooling.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_checked_at TIMESTAMPTZ,
		last_lightweight_rescrape_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		first_paragraph TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		last_modified_header TEXT NOT NULL DEFAULT '',
		content_length BIGINT NOT NULL DEFAULT 0,
		sample_hash TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		crawled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (project_id, url, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pages_project_version ON pages (project_id, version)`,
	`CREATE TABLE IF NOT EXISTS url_inventory (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (project_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS curated_pages (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		last_modified_header TEXT NOT NULL DEFAULT '',
		content_length BIGINT NOT NULL DEFAULT 0,
		sample_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, url)
	)`,
	`CREATE TABLE IF NOT EXISTS curated_sections (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		page_urls TEXT[] NOT NULL DEFAULT '{}',
		content_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS site_overviews (
		project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		tagline TEXT NOT NULL DEFAULT '',
		overview TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		version INTEGER NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS artifact_versions (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		trigger_reason TEXT NOT NULL DEFAULT '',
		generated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS crawl_jobs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		trigger_reason TEXT NOT NULL DEFAULT '',
		pages_crawled INTEGER NOT NULL DEFAULT 0,
		pages_changed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		task_handle TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_project ON crawl_jobs (project_id, created_at DESC)`,
}

// EnsureSchema creates all tables and indexes if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
