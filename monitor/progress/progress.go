// Package progress keeps an ephemeral per-project progress record in Redis
// so the API and websocket stream can show live crawl state. The record is
// advisory: a failed write is logged, never surfaced.
package progress

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"sitewatch/monitor/observability"
)

const (
	keyPrefix  = "crawl_progress:"
	defaultTTL = time.Hour
)

// Stage identifies the coarse phase of a crawl pipeline run.
type Stage string

const (
	StageCrawl    Stage = "CRAWL"
	StageFilter   Stage = "FILTER"
	StageAnalyze  Stage = "ANALYZE"
	StageCurate   Stage = "CURATE"
	StageGenerate Stage = "GENERATE"
	StageComplete Stage = "COMPLETE"
)

// Snapshot is the stored record, overwritten on every update.
type Snapshot struct {
	Stage          Stage             `json:"stage"`
	Current        int               `json:"current"`
	Total          int               `json:"total"`
	Percent        float64           `json:"percent"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	ETASeconds     float64           `json:"eta_seconds,omitempty"`
	CurrentURL     string            `json:"current_url,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Tracker reads and writes progress snapshots.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client, ttl: defaultTTL}
}

// Get returns the current snapshot, or nil when none exists.
func (t *Tracker) Get(ctx context.Context, projectID string) (*Snapshot, error) {
	start := time.Now()
	defer func() { observability.RedisLatency.Observe(time.Since(start).Seconds()) }()

	data, err := t.client.Get(ctx, keyPrefix+projectID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Clear drops the record, usually right after COMPLETE is read.
func (t *Tracker) Clear(ctx context.Context, projectID string) error {
	return t.client.Del(ctx, keyPrefix+projectID).Err()
}

// Reporter publishes progress for a single pipeline run. ETA is derived
// from the observed rate since the reporter was created.
type Reporter struct {
	tracker   *Tracker
	projectID string
	started   time.Time
}

func (t *Tracker) Reporter(projectID string) *Reporter {
	return &Reporter{tracker: t, projectID: projectID, started: time.Now()}
}

// Report writes a snapshot. Best-effort: errors are logged and swallowed.
func (r *Reporter) Report(ctx context.Context, stage Stage, current, total int, currentURL string, extra map[string]string) {
	elapsed := time.Since(r.started).Seconds()
	snap := Snapshot{
		Stage:          stage,
		Current:        current,
		Total:          total,
		ElapsedSeconds: elapsed,
		CurrentURL:     currentURL,
		Extra:          extra,
		UpdatedAt:      time.Now(),
	}
	if total > 0 {
		snap.Percent = float64(current) / float64(total) * 100
	}
	if stage == StageComplete {
		snap.Percent = 100
	}
	if current > 0 && elapsed > 0 && total > current {
		rate := float64(current) / elapsed
		snap.ETASeconds = float64(total-current) / rate
	}

	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("progress: marshal for %s: %v", r.projectID, err)
		return
	}
	if err := r.tracker.client.Set(ctx, keyPrefix+r.projectID, data, r.tracker.ttl).Err(); err != nil {
		log.Printf("progress: write for %s: %v", r.projectID, err)
	}
}
