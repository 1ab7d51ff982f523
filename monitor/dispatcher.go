package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"sitewatch/monitor/observability"
	"sitewatch/monitor/scheduler"
	"sitewatch/monitor/store"
)

const (
	dispatchTick    = time.Minute
	dispatchTimeout = 30 * time.Second
)

// Dispatcher polls the scheduler timers once a minute and hands due work to
// the worker pool. Claiming is atomic (the scheduler removes ids before
// returning them), so multiple dispatchers never double-deliver.
type Dispatcher struct {
	store store.Store
	sched *scheduler.Scheduler
	pool  *WorkerPool
	batch int
}

func NewDispatcher(st store.Store, sched *scheduler.Scheduler, pool *WorkerPool, batch int) *Dispatcher {
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{store: st, sched: sched, pool: pool, batch: batch}
}

// Run blocks until ctx is cancelled, ticking both timers once a minute.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick, cancel := context.WithTimeout(ctx, dispatchTimeout)
			d.dispatchLightweight(tick)
			d.dispatchFull(tick)
			d.observeTimers(tick)
			cancel()
		}
	}
}

func (d *Dispatcher) dispatchLightweight(ctx context.Context) {
	ids, err := d.sched.DueLightweightChecks(ctx, d.batch)
	if err != nil {
		log.Printf("dispatcher: due lightweight checks: %v", err)
		return
	}
	for _, id := range ids {
		if err := d.pool.EnqueueLightweightCheck(id); err != nil {
			// Lost this tick; re-arm so the project is not forgotten.
			log.Printf("dispatcher: %v", err)
			if err := d.sched.ScheduleLightweightCheck(ctx, id, time.Time{}); err != nil {
				log.Printf("dispatcher: re-arm lightweight %s: %v", id, err)
			}
			continue
		}
		observability.DispatchedChecks.WithLabelValues("lightweight").Inc()
	}
}

// dispatchFull creates one scheduled-check crawl job per due project and
// queues the full rescrape. A project with a crawl already in flight is
// re-armed for the next tick instead.
func (d *Dispatcher) dispatchFull(ctx context.Context) {
	ids, err := d.sched.DueFullChecks(ctx, d.batch)
	if err != nil {
		log.Printf("dispatcher: due full checks: %v", err)
		return
	}
	for _, id := range ids {
		if err := d.dispatchOneFull(ctx, id); err != nil {
			log.Printf("dispatcher: full check %s: %v", id, err)
		}
	}
}

func (d *Dispatcher) dispatchOneFull(ctx context.Context, projectID string) error {
	project, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		// Deleted projects simply fall off the timer.
		return nil
	}
	active, err := d.store.HasActiveCrawl(ctx, projectID)
	if err != nil {
		return err
	}
	if active || project.Status == store.StatusCrawling {
		return d.sched.ScheduleFullCheck(ctx, projectID, 0, time.Now().Add(dispatchTick))
	}

	job := &store.CrawlJob{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Status:        store.JobPending,
		TriggerReason: store.TriggerScheduledCheck,
	}
	if err := d.store.CreateCrawlJob(ctx, job); err != nil {
		return err
	}
	if err := d.pool.EnqueueFullRescrape(ctx, projectID, job.ID); err != nil {
		if ferr := d.store.FailCrawlJob(ctx, job.ID, err.Error()); ferr != nil {
			log.Printf("dispatcher: fail job %s: %v", job.ID, ferr)
		}
		return d.sched.ScheduleFullCheck(ctx, projectID, 0, time.Now().Add(dispatchTick))
	}
	observability.DispatchedChecks.WithLabelValues("full").Inc()
	return nil
}

// observeTimers refreshes the due-depth and cooldown gauges, which
// Stats sets as a side effect of being computed.
func (d *Dispatcher) observeTimers(ctx context.Context) {
	if _, err := d.sched.Stats(ctx); err != nil {
		log.Printf("dispatcher: scheduler stats: %v", err)
	}
}
