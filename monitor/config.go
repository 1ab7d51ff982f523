package main

import (
	"os"
	"strconv"
	"time"

	"sitewatch/monitor/scheduler"
)

// Config carries every env-driven setting. Loaded once at startup; zero
// values mean "use the default".
type Config struct {
	ListenAddr  string
	RedisAddr   string
	DatabaseURL string // empty means in-memory store (single node, dev)

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	CrawlerBaseURL string
	CrawlerAPIKey  string
	CrawlerWaitMS  int
	MaxCrawlPages  int
	WorkerCount    int
	DispatchBatch  int

	Scheduler scheduler.Config
}

func LoadConfig() Config {
	cfg := Config{
		ListenAddr:     envStr("LISTEN_ADDR", ":8080"),
		RedisAddr:      envStr("REDIS_ADDR", "localhost:6379"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LLMBaseURL:     envStr("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMModel:       envStr("LLM_MODEL", "gpt-4o-mini"),
		CrawlerBaseURL: envStr("CRAWLER_BASE_URL", "https://api.firecrawl.dev"),
		CrawlerAPIKey:  os.Getenv("CRAWLER_API_KEY"),
		CrawlerWaitMS:  envInt("CRAWLER_WAIT_FOR_MS", 2000),
		MaxCrawlPages:  envInt("MAX_CRAWL_PAGES", 50),
		WorkerCount:    envInt("WORKER_COUNT", 4),
		DispatchBatch:  envInt("DISPATCH_BATCH", 100),
	}

	sched := scheduler.DefaultConfig()
	sched.DefaultIntervalHours = envInt("DEFAULT_CHECK_INTERVAL_HOURS", sched.DefaultIntervalHours)
	sched.MinIntervalHours = envInt("MIN_CHECK_INTERVAL_HOURS", sched.MinIntervalHours)
	sched.MaxIntervalHours = envInt("MAX_CHECK_INTERVAL_HOURS", sched.MaxIntervalHours)
	if m := envInt("LIGHTWEIGHT_CHECK_INTERVAL_MINUTES", 0); m > 0 {
		sched.LightweightInterval = time.Duration(m) * time.Minute
	}
	if h := envFloat("FULL_RESCRAPE_COOLDOWN_HOURS", 0); h > 0 {
		sched.CooldownHours = h
	}
	cfg.Scheduler = sched

	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}
