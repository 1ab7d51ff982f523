package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"sitewatch/monitor/crawl"
	"sitewatch/monitor/curate"
	"sitewatch/monitor/middleware"
	"sitewatch/monitor/probe"
	"sitewatch/monitor/progress"
	"sitewatch/monitor/scheduler"
	"sitewatch/monitor/store"
	"sitewatch/monitor/streaming"
	"sitewatch/monitor/timeline"
)

func main() {
	cfg := LoadConfig()
	ctx := context.Background()

	// Redis carries the scheduling spine; the process cannot run without it.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
	}
	cancel()
	log.Printf("connected to Redis at %s", cfg.RedisAddr)

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer pg.Close()
		st = pg
		log.Println("using Postgres store")
	} else {
		st = store.NewMemoryStore()
		log.Println("DATABASE_URL not set, using in-memory store (single node, non-durable)")
	}

	sched := scheduler.New(rdb, cfg.Scheduler)
	tracker := progress.NewTracker(rdb)
	tl := timeline.NewStore()

	publisher := streaming.NewLogPublisher()
	defer publisher.Close()

	crawler := crawl.NewClient(cfg.CrawlerBaseURL, cfg.CrawlerAPIKey, cfg.CrawlerWaitMS, nil)
	llm := curate.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	planner := curate.NewPlanner(st, llm)

	pool := NewWorkerPool(st, sched, crawler, planner, tracker, tl, publisher, cfg.MaxCrawlPages)

	// 10 req/s per origin host keeps HEAD sweeps polite.
	limiter := probe.NewHostLimiter(10, 5)
	prober := probe.NewProber(&http.Client{Timeout: 15 * time.Second}, limiter)
	checker := probe.NewChecker(st, sched, prober, pool, probe.DefaultCheckerConfig())
	pool.SetChecker(checker)

	dispatcher := NewDispatcher(st, sched, pool, cfg.DispatchBatch)
	api := NewAPI(st, sched, checker, pool, tracker, tl, publisher)

	go pool.Run(ctx, cfg.WorkerCount)
	go dispatcher.Run(ctx)
	go api.wsHub.Run(ctx)

	// Re-arm timers for projects that existed before this process started.
	enrollExisting(ctx, st, sched)

	mux := http.NewServeMux()
	api.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Wrap all routes with CORS middleware for frontend access
	handler := middleware.CORSMiddleware(mux)

	log.Printf("sitewatch monitor listening on %s (workers=%d, min_interval=%dh, cooldown=%.1fh)",
		cfg.ListenAddr, cfg.WorkerCount, cfg.Scheduler.MinIntervalHours, cfg.Scheduler.CooldownHours)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, handler))
}

// enrollExisting re-enrolls every stored project into the scheduler. Timer
// membership is last-writer-wins, so a restart simply resets due times to
// one interval from now.
func enrollExisting(ctx context.Context, st store.Store, sched *scheduler.Scheduler) {
	projects, err := st.ListProjects(ctx)
	if err != nil {
		log.Printf("startup enrollment: list projects: %v", err)
		return
	}
	enrolled := 0
	for _, p := range projects {
		if p.Status != store.StatusReady {
			continue
		}
		if err := sched.ScheduleProject(ctx, p.ID); err != nil {
			log.Printf("startup enrollment: %s: %v", p.ID, err)
			continue
		}
		enrolled++
	}
	if enrolled > 0 {
		log.Printf("startup enrollment: re-armed timers for %d projects", enrolled)
	}
}
