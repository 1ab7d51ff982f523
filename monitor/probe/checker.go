package probe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"sitewatch/monitor/analyze"
	"sitewatch/monitor/observability"
	"sitewatch/monitor/scheduler"
	"sitewatch/monitor/store"
)

// CheckerConfig tunes the lightweight batch.
type CheckerConfig struct {
	ConcurrencyLimit      int
	PerRequestDelay       time.Duration
	BulkThresholdPercent  float64
	SignificanceThreshold int
}

func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		ConcurrencyLimit:      20,
		PerRequestDelay:       100 * time.Millisecond,
		BulkThresholdPercent:  20,
		SignificanceThreshold: 30,
	}
}

// RescrapeEnqueuer hands a full-rescrape task to the worker pool.
type RescrapeEnqueuer interface {
	EnqueueFullRescrape(ctx context.Context, projectID, jobID string) error
}

// Checker runs one lightweight change check per invocation: probe every
// current page, analyze drift, and decide whether to trigger a rescrape.
type Checker struct {
	store    store.Store
	sched    *scheduler.Scheduler
	prober   *Prober
	enqueuer RescrapeEnqueuer
	cfg      CheckerConfig
}

func NewChecker(st store.Store, sched *scheduler.Scheduler, prober *Prober, enqueuer RescrapeEnqueuer, cfg CheckerConfig) *Checker {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 20
	}
	if cfg.BulkThresholdPercent <= 0 {
		cfg.BulkThresholdPercent = 20
	}
	if cfg.SignificanceThreshold <= 0 {
		cfg.SignificanceThreshold = 30
	}
	return &Checker{store: st, sched: sched, prober: prober, enqueuer: enqueuer, cfg: cfg}
}

// BatchOutcome summarizes one lightweight check.
type BatchOutcome struct {
	ProjectID        string `json:"project_id"`
	Skipped          bool   `json:"skipped"`
	SkipReason       string `json:"skip_reason,omitempty"`
	TotalPages       int    `json:"total_pages"`
	Changed          int    `json:"changed"`
	FirstObservation int    `json:"first_observation"`
	SampleChecked    int    `json:"sample_checked"`
	Errors           int    `json:"errors"`
	MeanScore        int    `json:"mean_score"`
	Triggered        bool   `json:"triggered"`
	TriggerReason    string `json:"trigger_reason,omitempty"`
}

// TriggerResult reports a trigger_rescrape decision.
type TriggerResult struct {
	Triggered      bool    `json:"triggered"`
	Reason         string  `json:"reason,omitempty"`
	RemainingHours float64 `json:"remaining_hours,omitempty"`
	JobID          string  `json:"job_id,omitempty"`
}

// Run executes the lightweight batch check for one project. Per-page
// failures are logged and absorbed; only infrastructure failures propagate.
func (c *Checker) Run(ctx context.Context, projectID string) (*BatchOutcome, error) {
	start := time.Now()
	defer func() { observability.BatchCheckDuration.Observe(time.Since(start).Seconds()) }()

	out := &BatchOutcome{ProjectID: projectID}

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			out.Skipped, out.SkipReason = true, "project_missing"
			return out, nil
		}
		return nil, err
	}
	if project.Status != store.StatusReady {
		out.Skipped, out.SkipReason = true, "status_"+project.Status
		return out, nil
	}

	pages, err := c.store.GetPages(ctx, projectID, 0)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		out.Skipped, out.SkipReason = true, "no_pages"
		return out, nil
	}
	out.TotalPages = len(pages)

	results := c.probeAll(ctx, pages)

	byURL := make(map[string]*store.Page, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}
	var changed, firstObs, needsSample []Result
	for _, r := range results {
		switch r.Outcome {
		case OutcomeChanged:
			changed = append(changed, r)
		case OutcomeFirstObservation:
			firstObs = append(firstObs, r)
		case OutcomeNeedsSampleCheck:
			needsSample = append(needsSample, r)
		case OutcomeError:
			out.Errors++
			log.Printf("checker: probe %s: %v", r.URL, r.Err)
		}
	}
	if out.Errors == len(pages) {
		// Nothing observed; leave every fingerprint alone and let the
		// next tick retry.
		c.rescheduleLightweight(ctx, projectID)
		return out, fmt.Errorf("all %d probes failed for project %s", len(pages), projectID)
	}

	// First observations: persist everything we saw; header-less origins
	// get a semantic baseline seeded from one fetch.
	for _, r := range firstObs {
		out.FirstObservation++
		if err := c.store.UpdatePageHeaders(ctx, projectID, r.URL, r.Observed.ETag, r.Observed.LastModified, r.Observed.ContentLength); err != nil {
			log.Printf("checker: persist first observation %s: %v", r.URL, err)
			continue
		}
		if r.Observed.ETag == "" && r.Observed.LastModified == "" && r.Observed.ContentLength < 0 {
			if _, hash, err := c.prober.SampleCheck(ctx, r.URL, ""); err == nil {
				if err := c.store.UpdatePageSampleHash(ctx, projectID, r.URL, hash); err != nil {
					log.Printf("checker: persist sample hash %s: %v", r.URL, err)
				}
			} else {
				log.Printf("checker: seed sample hash %s: %v", r.URL, err)
			}
		}
	}

	// Sample checks only matter when nothing cheaper already flagged change.
	if len(changed) == 0 {
		for _, r := range needsSample {
			out.SampleChecked++
			page := byURL[r.URL]
			if page == nil {
				continue
			}
			mismatch, _, err := c.prober.SampleCheck(ctx, r.URL, page.SampleHash)
			if err != nil {
				out.Errors++
				log.Printf("checker: sample check %s: %v", r.URL, err)
				continue
			}
			if mismatch {
				changed = append(changed, Result{URL: r.URL, Outcome: OutcomeChanged, Reason: "sample_hash", Observed: r.Observed})
			}
		}
	}
	out.Changed = len(changed)

	now := time.Now()
	if err := c.store.TouchProjectChecked(ctx, projectID, now); err != nil {
		log.Printf("checker: touch project %s: %v", projectID, err)
	}

	// Bulk short-circuit: enough identity mismatches mean we skip body
	// fetches entirely and go straight to the trigger gate.
	ratio := float64(len(changed)) / float64(len(pages)) * 100
	if ratio > c.cfg.BulkThresholdPercent {
		res, err := c.TriggerRescrape(ctx, project, store.TriggerLightweightChange)
		if err != nil {
			return nil, err
		}
		out.Triggered = res.Triggered
		out.TriggerReason = "bulk_change"
		if !res.Triggered {
			out.TriggerReason = res.Reason
		}
		c.rescheduleLightweight(ctx, projectID)
		return out, nil
	}

	// Cumulative drift: score each changed page against its preserved
	// baseline (the stored first paragraph, which is deliberately NOT
	// advanced on non-significant changes).
	var scores []int
	for _, r := range changed {
		page := byURL[r.URL]
		if page == nil {
			continue
		}
		body, err := c.prober.FetchBody(ctx, r.URL)
		if err != nil {
			out.Errors++
			log.Printf("checker: fetch %s: %v", r.URL, err)
			continue
		}
		score := analyze.DriftScore(page.FirstParagraph, body)
		observability.DriftScores.Observe(float64(score))
		scores = append(scores, score)
	}

	verdict := analyze.Aggregate(scores, len(changed), len(pages), c.cfg.BulkThresholdPercent, c.cfg.SignificanceThreshold)
	out.MeanScore = verdict.Score

	if verdict.Significant {
		res, err := c.TriggerRescrape(ctx, project, store.TriggerLightweightChange)
		if err != nil {
			return nil, err
		}
		out.Triggered = res.Triggered
		out.TriggerReason = verdict.Reason
		if !res.Triggered {
			out.TriggerReason = res.Reason
		}
	} else {
		// Advance header fingerprints so the same mismatch does not
		// re-flag forever; the semantic baseline stays put so drift
		// keeps accumulating.
		for _, r := range changed {
			if err := c.store.UpdatePageHeaders(ctx, projectID, r.URL, r.Observed.ETag, r.Observed.LastModified, r.Observed.ContentLength); err != nil {
				log.Printf("checker: advance fingerprint %s: %v", r.URL, err)
			}
		}
	}

	c.rescheduleLightweight(ctx, projectID)
	return out, nil
}

// probeAll fans out conditional probes bounded by the concurrency limit and
// spaced by the per-request delay.
func (c *Checker) probeAll(ctx context.Context, pages []*store.Page) []Result {
	results := make([]Result, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ConcurrencyLimit)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			if c.cfg.PerRequestDelay > 0 {
				select {
				case <-time.After(c.cfg.PerRequestDelay):
				case <-gctx.Done():
					results[i] = Result{URL: page.URL, Outcome: OutcomeError, Err: gctx.Err()}
					return nil
				}
			}
			results[i] = c.prober.Check(gctx, page.URL, Fingerprint{
				ETag:          page.ETag,
				LastModified:  page.LastModifiedHeader,
				ContentLength: page.ContentLength,
				SampleHash:    page.SampleHash,
			})
			return nil
		})
	}
	g.Wait()
	return results
}

// TriggerRescrape applies the cooldown gate and, when open, stages a full
// rescrape: crawl job row, project to pending, cooldown set, full-check
// timer reset, task enqueued. The cooldown check happens here regardless of
// how strong the change signal was.
func (c *Checker) TriggerRescrape(ctx context.Context, project *store.Project, triggerReason string) (*TriggerResult, error) {
	in, remaining, err := c.sched.InCooldown(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if in {
		observability.TriggerDecisions.WithLabelValues("suppressed", "cooldown").Inc()
		log.Printf("checker: rescrape of %s suppressed, cooldown ends in %s", project.ID, remaining.Round(time.Minute))
		return &TriggerResult{Triggered: false, Reason: "cooldown", RemainingHours: remaining.Hours()}, nil
	}

	job := &store.CrawlJob{ProjectID: project.ID, TriggerReason: triggerReason}
	if err := c.store.CreateCrawlJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create crawl job: %w", err)
	}
	if err := c.store.UpdateProjectStatus(ctx, project.ID, store.StatusPending); err != nil {
		return nil, err
	}
	now := time.Now()
	if err := c.store.SetLastLightweightRescrape(ctx, project.ID, now); err != nil {
		log.Printf("checker: record rescrape time %s: %v", project.ID, err)
	}

	interval, err := c.sched.CheckInterval(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := c.sched.ScheduleFullCheck(ctx, project.ID, interval, time.Time{}); err != nil {
		return nil, err
	}
	if err := c.sched.SetCooldown(ctx, project.ID, 0); err != nil {
		return nil, err
	}

	if err := c.enqueuer.EnqueueFullRescrape(ctx, project.ID, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue rescrape: %w", err)
	}
	observability.TriggerDecisions.WithLabelValues("triggered", triggerReason).Inc()
	return &TriggerResult{Triggered: true, JobID: job.ID}, nil
}

func (c *Checker) rescheduleLightweight(ctx context.Context, projectID string) {
	if err := c.sched.ScheduleLightweightCheck(ctx, projectID, time.Time{}); err != nil {
		log.Printf("checker: reschedule lightweight %s: %v", projectID, err)
	}
}
