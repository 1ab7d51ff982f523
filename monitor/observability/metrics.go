package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchedChecks counts check tasks handed to workers by the dispatcher.
	DispatchedChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_dispatched_checks_total",
		Help: "Check tasks dispatched to workers, by check kind",
	}, []string{"kind"}) // lightweight, full

	// DueTimerDepth tracks the number of projects currently at or past due.
	DueTimerDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitewatch_due_timer_depth",
		Help: "Projects at or past their due time per scheduler timer",
	}, []string{"timer"}) // full_check, lightweight_check

	// ActiveCooldowns tracks unexpired entries in the cooldown set.
	ActiveCooldowns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitewatch_active_cooldowns",
		Help: "Projects currently in the rescrape cooldown window",
	})

	// RedisLatency tracks scheduler/progress Redis roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitewatch_redis_roundtrip_latency_seconds",
		Help:    "Redis operation latency (scheduling spine health)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// ProbeOutcomes counts fingerprint probe classifications.
	ProbeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_probe_outcomes_total",
		Help: "Fingerprint probe results by classification",
	}, []string{"outcome"}) // unchanged, changed, first_observation, needs_sample_check, error

	// BatchCheckDuration tracks wall time of one lightweight batch check.
	BatchCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitewatch_batch_check_duration_seconds",
		Help:    "Duration of a full lightweight batch check for one project",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3min
	})

	// TriggerDecisions counts rescrape trigger decisions and why.
	TriggerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_trigger_decisions_total",
		Help: "Rescrape trigger outcomes by decision and reason",
	}, []string{"decision", "reason"}) // triggered/suppressed x bulk_change/cumulative_drift/cooldown

	// DriftScores observes per-page significance scores (0-100).
	DriftScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitewatch_drift_score",
		Help:    "Per-page drift significance scores",
		Buckets: prometheus.LinearBuckets(0, 10, 11), // 0-100
	})

	// PlannerDecisions counts what the regeneration planner decided per run.
	PlannerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_planner_decisions_total",
		Help: "Selective-regeneration planner outcomes by action and job trigger",
	}, []string{"action", "trigger"}) // full_curation, selective_update, no_changes

	// ArtifactVersionsWritten counts new artifact versions.
	ArtifactVersionsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitewatch_artifact_versions_written_total",
		Help: "Total artifact versions written across all projects",
	})

	// CrawlJobDuration tracks wall time of full rescrape jobs.
	CrawlJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitewatch_crawl_job_duration_seconds",
		Help:    "Full rescrape job duration",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~34min
	})

	// CrawlJobFailures counts failed crawl jobs by reason.
	CrawlJobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_crawl_job_failures_total",
		Help: "Crawl jobs that ended in failure",
	}, []string{"reason"}) // crawl_error, timeout, store_error

	// LLMCallFailures counts provider calls that errored or mis-formatted.
	// Every increment here corresponds to a fallback path being taken.
	LLMCallFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_llm_call_failures_total",
		Help: "LLM provider call failures by operation",
	}, []string{"operation"}) // filter_relevance, evaluate_significance, curate_full, regenerate_section, categorize_new_pages

	// BackoffIntervalHours observes the interval chosen after each backoff step.
	BackoffIntervalHours = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitewatch_backoff_interval_hours",
		Help:    "Full-check interval after backoff adjustment",
		Buckets: []float64{6, 12, 24, 48, 96, 168},
	})

	// ProgressStreamClients tracks connected websocket progress clients.
	ProgressStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitewatch_progress_stream_clients",
		Help: "Currently connected websocket progress clients",
	})

	// EventPublishFailures tracks failed event publish attempts (best-effort).
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitewatch_event_publish_failures_total",
		Help: "Failed event publish attempts (non-blocking, best-effort)",
	}, []string{"event_type"})
)
