package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sitewatch/monitor/crawl"
	"sitewatch/monitor/curate"
	"sitewatch/monitor/observability"
	"sitewatch/monitor/probe"
	"sitewatch/monitor/progress"
	"sitewatch/monitor/scheduler"
	"sitewatch/monitor/store"
	"sitewatch/monitor/streaming"
	"sitewatch/monitor/timeline"
	"sitewatch/monitor/urlutil"
)

// Task soft time limits. A run that exceeds its limit fails the crawl job
// and marks the project failed; the next scheduler tick retries.
const (
	fullRescrapeTimeout     = 600 * time.Second
	lightweightCheckTimeout = 120 * time.Second
)

type taskKind int

const (
	taskLightweightCheck taskKind = iota
	taskFullRescrape
)

type task struct {
	kind      taskKind
	projectID string
	jobID     string // full rescrape only
}

// WorkerPool executes check and rescrape tasks from a buffered queue.
// It is the RescrapeEnqueuer behind the batch checker: triggers feed
// the same queue as scheduled dispatches.
type WorkerPool struct {
	store     store.Store
	sched     *scheduler.Scheduler
	checker   *probe.Checker
	crawler   crawl.Crawler
	planner   *curate.Planner
	tracker   *progress.Tracker
	timeline  *timeline.Store
	publisher streaming.Publisher
	maxPages  int

	tasks chan task
}

func NewWorkerPool(st store.Store, sched *scheduler.Scheduler, crawler crawl.Crawler, planner *curate.Planner, tracker *progress.Tracker, tl *timeline.Store, publisher streaming.Publisher, maxPages int) *WorkerPool {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &WorkerPool{
		store:     st,
		sched:     sched,
		crawler:   crawler,
		planner:   planner,
		tracker:   tracker,
		timeline:  tl,
		publisher: publisher,
		maxPages:  maxPages,
		tasks:     make(chan task, 256),
	}
}

// SetChecker breaks the construction cycle: the checker needs the pool as
// its enqueuer, and the pool runs the checker.
func (p *WorkerPool) SetChecker(c *probe.Checker) { p.checker = c }

// EnqueueFullRescrape queues a full rescrape without blocking the caller.
func (p *WorkerPool) EnqueueFullRescrape(ctx context.Context, projectID, jobID string) error {
	select {
	case p.tasks <- task{kind: taskFullRescrape, projectID: projectID, jobID: jobID}:
		return nil
	default:
		return fmt.Errorf("task queue full, rejecting rescrape for %s", projectID)
	}
}

// EnqueueLightweightCheck queues a batch check without blocking.
func (p *WorkerPool) EnqueueLightweightCheck(projectID string) error {
	select {
	case p.tasks <- task{kind: taskLightweightCheck, projectID: projectID}:
		return nil
	default:
		return fmt.Errorf("task queue full, rejecting check for %s", projectID)
	}
}

// Run starts n workers and blocks until ctx is cancelled.
func (p *WorkerPool) Run(ctx context.Context, n int) {
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		go p.worker(ctx, i)
	}
	<-ctx.Done()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			switch t.kind {
			case taskLightweightCheck:
				p.runLightweightCheck(ctx, t.projectID)
			case taskFullRescrape:
				p.runFullRescrape(ctx, t.projectID, t.jobID)
			}
		}
	}
}

func (p *WorkerPool) runLightweightCheck(ctx context.Context, projectID string) {
	ctx, cancel := context.WithTimeout(ctx, lightweightCheckTimeout)
	defer cancel()

	p.timeline.Record(timeline.CheckEvent{ProjectID: projectID, Stage: "PROBE_STARTED"})

	out, err := p.checker.Run(ctx, projectID)
	if err != nil {
		log.Printf("worker: lightweight check %s: %v", projectID, err)
		p.timeline.Record(timeline.CheckEvent{
			ProjectID: projectID,
			Stage:     "FAILED",
			Metadata:  map[string]string{"phase": "lightweight_check", "error": err.Error()},
		})
		return
	}
	if out.Skipped {
		log.Printf("worker: lightweight check %s skipped (%s)", projectID, out.SkipReason)
		return
	}

	meta := map[string]string{
		"changed":    fmt.Sprint(out.Changed),
		"total":      fmt.Sprint(out.TotalPages),
		"mean_score": fmt.Sprint(out.MeanScore),
	}
	if out.Triggered {
		meta["trigger"] = out.TriggerReason
		p.timeline.Record(timeline.CheckEvent{ProjectID: projectID, Stage: "RESCRAPE_QUEUED", Metadata: meta})
		p.publish(ctx, streaming.TopicRescrapeTriggered, out)
	} else {
		p.timeline.Record(timeline.CheckEvent{ProjectID: projectID, Stage: "PROBE_COMPLETED", Metadata: meta})
	}
	p.publish(ctx, streaming.TopicCheckCompleted, out)

	if err := p.store.TouchProjectChecked(ctx, projectID, time.Now()); err != nil {
		log.Printf("worker: touch checked %s: %v", projectID, err)
	}
}

func (p *WorkerPool) runFullRescrape(ctx context.Context, projectID, jobID string) {
	start := time.Now()
	defer func() { observability.CrawlJobDuration.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, fullRescrapeTimeout)
	defer cancel()

	job, err := p.store.GetCrawlJob(ctx, jobID)
	if err != nil {
		log.Printf("worker: rescrape %s: job %s missing: %v", projectID, jobID, err)
		return
	}
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.failJob(ctx, jobID, projectID, "project deleted before crawl started", false)
			return
		}
		log.Printf("worker: rescrape %s: load project: %v", projectID, err)
		return
	}
	if project.Status != store.StatusPending && project.Status != store.StatusReady {
		log.Printf("worker: rescrape %s refused, project status %s", projectID, project.Status)
		p.failJob(ctx, jobID, projectID, "refused: project status "+project.Status, false)
		return
	}

	if err := p.store.StartCrawlJob(ctx, jobID); err != nil {
		log.Printf("worker: start job %s: %v", jobID, err)
		return
	}
	if err := p.store.UpdateProjectStatus(ctx, projectID, store.StatusCrawling); err != nil {
		log.Printf("worker: mark crawling %s: %v", projectID, err)
	}

	p.timeline.Record(timeline.CheckEvent{
		ProjectID: projectID,
		Stage:     "CRAWL_STARTED",
		Metadata:  map[string]string{"job_id": jobID, "trigger": job.TriggerReason},
	})

	reporter := p.tracker.Reporter(projectID)
	report := func(stage string, current, total int, extra string) {
		var meta map[string]string
		if extra != "" {
			meta = map[string]string{"detail": extra}
		}
		reporter.Report(ctx, progress.Stage(stage), current, total, "", meta)
	}

	records, diff, err := p.collect(ctx, project, reporter)
	if err != nil {
		observability.CrawlJobFailures.WithLabelValues(failureReason(ctx, err)).Inc()
		p.failJob(ctx, jobID, projectID, err.Error(), true)
		return
	}
	p.timeline.Record(timeline.CheckEvent{
		ProjectID: projectID,
		Stage:     "CRAWL_COMPLETED",
		Metadata:  map[string]string{"pages": fmt.Sprint(len(records))},
	})

	curated, err := p.store.GetCuratedPages(ctx, projectID)
	if err != nil {
		observability.CrawlJobFailures.WithLabelValues("store_error").Inc()
		p.failJob(ctx, jobID, projectID, "load curated state: "+err.Error(), true)
		return
	}
	pagesChanged := countChanged(curated, records)

	var plan *curate.PlanResult
	if len(curated) == 0 {
		plan, err = p.planner.CurateInitial(ctx, project, records, job.TriggerReason, report)
	} else {
		plan, err = p.planner.Apply(ctx, project, records, diff, job.TriggerReason, report)
	}
	if err != nil {
		observability.CrawlJobFailures.WithLabelValues(failureReason(ctx, err)).Inc()
		p.failJob(ctx, jobID, projectID, "curation: "+err.Error(), true)
		return
	}
	p.timeline.Record(timeline.CheckEvent{
		ProjectID: projectID,
		Stage:     "CURATION_APPLIED",
		Metadata:  map[string]string{"action": plan.Action, "reason": plan.Reason},
	})
	if plan.DidWork {
		p.timeline.Record(timeline.CheckEvent{
			ProjectID: projectID,
			Stage:     "ARTIFACT_WRITTEN",
			Metadata:  map[string]string{"version": fmt.Sprint(plan.ArtifactVersion)},
		})
		p.publish(ctx, streaming.TopicArtifactWritten, plan)
	}

	p.reschedule(ctx, projectID, job.TriggerReason, plan.DidWork)

	if err := p.store.CompleteCrawlJob(ctx, jobID, len(records), pagesChanged); err != nil {
		log.Printf("worker: complete job %s: %v", jobID, err)
	}
	if err := p.store.UpdateProjectStatus(ctx, projectID, store.StatusReady); err != nil {
		log.Printf("worker: mark ready %s: %v", projectID, err)
	}
	if err := p.store.TouchProjectChecked(ctx, projectID, time.Now()); err != nil {
		log.Printf("worker: touch checked %s: %v", projectID, err)
	}
	reporter.Report(ctx, progress.StageComplete, 1, 1, "", map[string]string{"action": plan.Action})
	log.Printf("worker: rescrape %s done: %s (%d pages, %d changed, artifact v%d)",
		projectID, plan.Action, len(records), pagesChanged, plan.ArtifactVersion)
}

// collect maps the site, reconciles the URL inventory, then fetches page
// content. When the changed-or-new subset is strictly smaller than the full
// map, only that subset is batch-scraped; otherwise the whole site is
// crawled.
func (p *WorkerPool) collect(ctx context.Context, project *store.Project, reporter *progress.Reporter) ([]crawl.PageRecord, *store.InventoryDiff, error) {
	reporter.Report(ctx, progress.StageCrawl, 0, 0, project.URL, nil)

	mapped, err := p.crawler.MapSite(ctx, project.URL)
	if err != nil {
		log.Printf("worker: map %s failed, falling back to full crawl: %v", project.URL, err)
		mapped = nil
	}

	if len(mapped) > 0 {
		mapped = urlutil.NormalizeAll(mapped)
		diff, err := p.store.StoreInventory(ctx, project.ID, mapped, time.Now())
		if err != nil {
			return nil, nil, fmt.Errorf("store inventory: %w", err)
		}

		if targets := p.scrapeTargets(ctx, project.ID, diff); len(targets) > 0 && len(targets) < len(mapped) {
			records, err := p.crawler.BatchScrape(ctx, targets, project.URL)
			if err != nil {
				return nil, nil, fmt.Errorf("batch scrape: %w", err)
			}
			reporter.Report(ctx, progress.StageCrawl, len(records), len(records), "", nil)
			return records, diff, nil
		}

		records, err := p.crawler.CrawlSite(ctx, project.URL, p.maxPages)
		if err != nil {
			return nil, nil, fmt.Errorf("crawl site: %w", err)
		}
		reporter.Report(ctx, progress.StageCrawl, len(records), len(records), "", nil)
		return records, diff, nil
	}

	// No site map: crawl first, derive the inventory from the crawl itself.
	records, err := p.crawler.CrawlSite(ctx, project.URL, p.maxPages)
	if err != nil {
		return nil, nil, fmt.Errorf("crawl site: %w", err)
	}
	urls := make([]string, 0, len(records))
	for _, r := range records {
		urls = append(urls, r.URL)
	}
	diff, err := p.store.StoreInventory(ctx, project.ID, urlutil.NormalizeAll(urls), time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("store inventory: %w", err)
	}
	reporter.Report(ctx, progress.StageCrawl, len(records), len(records), "", nil)
	return records, diff, nil
}

// scrapeTargets is the union of still-curated URLs and truly-new URLs:
// the pages whose content the planner will actually look at.
func (p *WorkerPool) scrapeTargets(ctx context.Context, projectID string, diff *store.InventoryDiff) []string {
	curated, err := p.store.GetCuratedPages(ctx, projectID)
	if err != nil || len(curated) == 0 {
		return nil // initial crawl or store trouble: scrape everything
	}
	removed := make(map[string]bool, len(diff.RemovedURLs))
	for _, u := range diff.RemovedURLs {
		removed[urlutil.Normalize(u)] = true
	}
	seen := make(map[string]bool)
	var targets []string
	for _, cp := range curated {
		u := urlutil.Normalize(cp.URL)
		if !removed[u] && !seen[u] {
			seen[u] = true
			targets = append(targets, u)
		}
	}
	for _, u := range diff.NewURLs {
		u = urlutil.Normalize(u)
		if !seen[u] {
			seen[u] = true
			targets = append(targets, u)
		}
	}
	return targets
}

// reschedule applies backoff for recurring triggers and re-arms both
// timers. Initial and manual runs keep the stored interval untouched.
func (p *WorkerPool) reschedule(ctx context.Context, projectID, trigger string, didWork bool) {
	interval := 0
	switch trigger {
	case store.TriggerScheduledCheck, store.TriggerLightweightChange, store.TriggerChangeDetected:
		next, err := p.sched.ApplyBackoff(ctx, projectID, didWork)
		if err != nil {
			log.Printf("worker: backoff %s: %v", projectID, err)
		} else {
			interval = next
		}
	}
	if err := p.sched.ScheduleFullCheck(ctx, projectID, interval, time.Time{}); err != nil {
		log.Printf("worker: schedule full check %s: %v", projectID, err)
	}
	if err := p.sched.ScheduleLightweightCheck(ctx, projectID, time.Time{}); err != nil {
		log.Printf("worker: schedule lightweight check %s: %v", projectID, err)
	}
}

func (p *WorkerPool) failJob(ctx context.Context, jobID, projectID, msg string, markFailed bool) {
	// The task context may already be past its deadline; use a detached
	// context so the failure is still recorded.
	ctx = context.WithoutCancel(ctx)
	if err := p.store.FailCrawlJob(ctx, jobID, msg); err != nil {
		log.Printf("worker: fail job %s: %v", jobID, err)
	}
	if markFailed {
		if err := p.store.UpdateProjectStatus(ctx, projectID, store.StatusFailed); err != nil {
			log.Printf("worker: mark failed %s: %v", projectID, err)
		}
		// Keep the timers armed so the next tick retries.
		if err := p.sched.ScheduleFullCheck(ctx, projectID, 0, time.Time{}); err != nil {
			log.Printf("worker: schedule retry %s: %v", projectID, err)
		}
	}
	p.timeline.Record(timeline.CheckEvent{
		ProjectID: projectID,
		Stage:     "FAILED",
		Metadata:  map[string]string{"job_id": jobID, "error": msg},
	})
}

func (p *WorkerPool) publish(ctx context.Context, topic string, payload interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), topic, payload); err != nil {
		log.Printf("worker: publish %s: %v", topic, err)
	}
}

func countChanged(curated []*store.CuratedPage, records []crawl.PageRecord) int {
	stored := make(map[string]string, len(curated))
	for _, cp := range curated {
		stored[urlutil.Normalize(cp.URL)] = cp.ContentHash
	}
	changed := 0
	for _, r := range records {
		if h, ok := stored[urlutil.Normalize(r.URL)]; ok && h != r.ContentHash {
			changed++
		}
	}
	return changed
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict):
		return "store_error"
	default:
		return "crawl_error"
	}
}
