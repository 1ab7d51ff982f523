// Package scheduler owns the four Redis keys that stage change checks:
// two sorted-set timers (full check, lightweight check), the cooldown set,
// and the per-project interval store. No other component writes these keys.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sitewatch/monitor/observability"
)

const (
	keyFullCheck        = "schedule:full_check"
	keyLightweightCheck = "schedule:lightweight_check"
	keyCooldowns        = "schedule:cooldowns"
	keyIntervals        = "schedule:intervals"
)

// Config bounds the adaptive backoff and fixes the lightweight cadence.
type Config struct {
	DefaultIntervalHours int
	MinIntervalHours     int
	MaxIntervalHours     int
	LightweightInterval  time.Duration
	CooldownHours        float64
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		DefaultIntervalHours: 24,
		MinIntervalHours:     6,
		MaxIntervalHours:     168,
		LightweightInterval:  5 * time.Minute,
		CooldownHours:        4,
	}
}

// Scheduler is safe for concurrent use; all state lives in Redis.
type Scheduler struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time // overridable in tests
}

func New(client *redis.Client, cfg Config) *Scheduler {
	if cfg.DefaultIntervalHours <= 0 {
		cfg.DefaultIntervalHours = 24
	}
	if cfg.MinIntervalHours <= 0 {
		cfg.MinIntervalHours = 6
	}
	if cfg.MaxIntervalHours <= 0 {
		cfg.MaxIntervalHours = 168
	}
	if cfg.LightweightInterval <= 0 {
		cfg.LightweightInterval = 5 * time.Minute
	}
	if cfg.CooldownHours <= 0 {
		cfg.CooldownHours = 4
	}
	return &Scheduler{client: client, cfg: cfg, now: time.Now}
}

// Config exposes the effective (clamped) configuration.
func (s *Scheduler) Config() Config { return s.cfg }

func (s *Scheduler) observe(start time.Time) {
	observability.RedisLatency.Observe(time.Since(start).Seconds())
}

// ScheduleFullCheck upserts the project's full-check due time.
// runAt wins when non-zero; else now + intervalHours; else now + stored
// interval (default when none stored). ZADD overwrites, so each project
// holds at most one timer entry.
func (s *Scheduler) ScheduleFullCheck(ctx context.Context, projectID string, intervalHours int, runAt time.Time) error {
	start := s.now()
	defer s.observe(start)

	due := runAt
	if due.IsZero() {
		hours := intervalHours
		if hours <= 0 {
			stored, err := s.CheckInterval(ctx, projectID)
			if err != nil {
				return err
			}
			hours = stored
		}
		due = s.now().Add(time.Duration(hours) * time.Hour)
	}
	return s.client.ZAdd(ctx, keyFullCheck, redis.Z{
		Score:  float64(due.Unix()),
		Member: projectID,
	}).Err()
}

// ScheduleLightweightCheck upserts the project's lightweight-check due time.
// A zero runAt means one lightweight interval from now.
func (s *Scheduler) ScheduleLightweightCheck(ctx context.Context, projectID string, runAt time.Time) error {
	start := s.now()
	defer s.observe(start)

	if runAt.IsZero() {
		runAt = s.now().Add(s.cfg.LightweightInterval)
	}
	return s.client.ZAdd(ctx, keyLightweightCheck, redis.Z{
		Score:  float64(runAt.Unix()),
		Member: projectID,
	}).Err()
}

// DueFullChecks returns up to limit project ids whose full check is due,
// removing them from the timer before the caller sees them.
func (s *Scheduler) DueFullChecks(ctx context.Context, limit int) ([]string, error) {
	return s.popDue(ctx, keyFullCheck, limit)
}

// DueLightweightChecks is the lightweight twin of DueFullChecks.
func (s *Scheduler) DueLightweightChecks(ctx context.Context, limit int) ([]string, error) {
	return s.popDue(ctx, keyLightweightCheck, limit)
}

// popDue range-queries members with score <= now, then removes each in one
// pipelined batch. Only ids whose removal succeeded are returned, so two
// concurrent dispatchers never claim the same project (at-most-once).
func (s *Scheduler) popDue(ctx context.Context, key string, limit int) ([]string, error) {
	start := s.now()
	defer s.observe(start)

	if limit <= 0 {
		limit = 100
	}
	nowScore := strconv.FormatInt(s.now().Unix(), 10)
	ids, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    nowScore,
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due %s: %w", key, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.TxPipeline()
	removals := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		removals[i] = pipe.ZRem(ctx, key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("claim due %s: %w", key, err)
	}

	claimed := make([]string, 0, len(ids))
	for i, id := range ids {
		if removals[i].Val() > 0 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// CancelFullCheck removes the project from the full-check timer. Idempotent.
func (s *Scheduler) CancelFullCheck(ctx context.Context, projectID string) error {
	start := s.now()
	defer s.observe(start)
	return s.client.ZRem(ctx, keyFullCheck, projectID).Err()
}

// CancelLightweightCheck removes the project from the lightweight timer.
func (s *Scheduler) CancelLightweightCheck(ctx context.Context, projectID string) error {
	start := s.now()
	defer s.observe(start)
	return s.client.ZRem(ctx, keyLightweightCheck, projectID).Err()
}

// CheckInterval returns the stored full-check interval for the project,
// clamped, or the default when none is stored.
func (s *Scheduler) CheckInterval(ctx context.Context, projectID string) (int, error) {
	start := s.now()
	defer s.observe(start)

	val, err := s.client.HGet(ctx, keyIntervals, projectID).Result()
	if err == redis.Nil {
		return s.cfg.DefaultIntervalHours, nil
	}
	if err != nil {
		return 0, err
	}
	hours, err := strconv.Atoi(val)
	if err != nil {
		return s.cfg.DefaultIntervalHours, nil
	}
	return s.clamp(hours), nil
}

// SetCheckInterval stores the interval (clamped) and returns the stored value.
func (s *Scheduler) SetCheckInterval(ctx context.Context, projectID string, hours int) (int, error) {
	start := s.now()
	defer s.observe(start)

	hours = s.clamp(hours)
	if err := s.client.HSet(ctx, keyIntervals, projectID, hours).Err(); err != nil {
		return 0, err
	}
	return hours, nil
}

// ApplyBackoff adjusts the full-check interval from the observed outcome:
// a changed site snaps back to the minimum; an unchanged one doubles up to
// the maximum. Returns the new interval in hours.
func (s *Scheduler) ApplyBackoff(ctx context.Context, projectID string, changed bool) (int, error) {
	current, err := s.CheckInterval(ctx, projectID)
	if err != nil {
		return 0, err
	}
	next := s.cfg.MinIntervalHours
	if !changed {
		next = current * 2
		if next > s.cfg.MaxIntervalHours {
			next = s.cfg.MaxIntervalHours
		}
	}
	stored, err := s.SetCheckInterval(ctx, projectID, next)
	if err != nil {
		return 0, err
	}
	observability.BackoffIntervalHours.Observe(float64(stored))
	return stored, nil
}

func (s *Scheduler) clamp(hours int) int {
	if hours < s.cfg.MinIntervalHours {
		return s.cfg.MinIntervalHours
	}
	if hours > s.cfg.MaxIntervalHours {
		return s.cfg.MaxIntervalHours
	}
	return hours
}

// SetCooldown forbids rescrapes for the project until now + hours.
// A non-positive hours uses the configured default.
func (s *Scheduler) SetCooldown(ctx context.Context, projectID string, hours float64) error {
	start := s.now()
	defer s.observe(start)

	if hours <= 0 {
		hours = s.cfg.CooldownHours
	}
	expires := s.now().Add(time.Duration(hours * float64(time.Hour)))
	return s.client.ZAdd(ctx, keyCooldowns, redis.Z{
		Score:  float64(expires.Unix()),
		Member: projectID,
	}).Err()
}

// InCooldown reports whether the project is inside its quiet period and how
// long remains. Expired entries are evicted on read.
func (s *Scheduler) InCooldown(ctx context.Context, projectID string) (bool, time.Duration, error) {
	start := s.now()
	defer s.observe(start)

	score, err := s.client.ZScore(ctx, keyCooldowns, projectID).Result()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	expires := time.Unix(int64(score), 0)
	if !expires.After(s.now()) {
		// Lazy eviction.
		if err := s.client.ZRem(ctx, keyCooldowns, projectID).Err(); err != nil {
			return false, 0, err
		}
		return false, 0, nil
	}
	return true, expires.Sub(s.now()), nil
}

// ClearCooldown lifts the quiet period early. Idempotent.
func (s *Scheduler) ClearCooldown(ctx context.Context, projectID string) error {
	start := s.now()
	defer s.observe(start)
	return s.client.ZRem(ctx, keyCooldowns, projectID).Err()
}

// ScheduleProject enrolls a project in both timers and seeds its interval,
// in one pipelined round trip. Used on project creation and bulk migration.
func (s *Scheduler) ScheduleProject(ctx context.Context, projectID string) error {
	start := s.now()
	defer s.observe(start)

	now := s.now()
	fullDue := now.Add(time.Duration(s.cfg.DefaultIntervalHours) * time.Hour)
	lightDue := now.Add(s.cfg.LightweightInterval)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, keyFullCheck, redis.Z{Score: float64(fullDue.Unix()), Member: projectID})
	pipe.ZAdd(ctx, keyLightweightCheck, redis.Z{Score: float64(lightDue.Unix()), Member: projectID})
	pipe.HSetNX(ctx, keyIntervals, projectID, s.cfg.DefaultIntervalHours)
	_, err := pipe.Exec(ctx)
	return err
}

// UnscheduleProject removes every trace of the project from all four keys,
// in one pipelined round trip. Idempotent.
func (s *Scheduler) UnscheduleProject(ctx context.Context, projectID string) error {
	start := s.now()
	defer s.observe(start)

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, keyFullCheck, projectID)
	pipe.ZRem(ctx, keyLightweightCheck, projectID)
	pipe.ZRem(ctx, keyCooldowns, projectID)
	pipe.HDel(ctx, keyIntervals, projectID)
	_, err := pipe.Exec(ctx)
	return err
}

// Stats summarizes the scheduler's Redis state for operators.
type Stats struct {
	FullScheduled        int64 `json:"full_scheduled"`
	FullDue              int64 `json:"full_due"`
	LightweightScheduled int64 `json:"lightweight_scheduled"`
	LightweightDue       int64 `json:"lightweight_due"`
	ActiveCooldowns      int64 `json:"active_cooldowns"`
	TrackedIntervals     int64 `json:"tracked_intervals"`
}

// Stats counts timer membership and due backlogs in one pipelined batch.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	start := s.now()
	defer s.observe(start)

	nowScore := strconv.FormatInt(s.now().Unix(), 10)
	pipe := s.client.TxPipeline()
	fullAll := pipe.ZCard(ctx, keyFullCheck)
	fullDue := pipe.ZCount(ctx, keyFullCheck, "-inf", nowScore)
	lightAll := pipe.ZCard(ctx, keyLightweightCheck)
	lightDue := pipe.ZCount(ctx, keyLightweightCheck, "-inf", nowScore)
	cooldowns := pipe.ZCount(ctx, keyCooldowns, nowScore, "+inf")
	intervals := pipe.HLen(ctx, keyIntervals)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	st := &Stats{
		FullScheduled:        fullAll.Val(),
		FullDue:              fullDue.Val(),
		LightweightScheduled: lightAll.Val(),
		LightweightDue:       lightDue.Val(),
		ActiveCooldowns:      cooldowns.Val(),
		TrackedIntervals:     intervals.Val(),
	}
	observability.DueTimerDepth.WithLabelValues("full_check").Set(float64(st.FullDue))
	observability.DueTimerDepth.WithLabelValues("lightweight_check").Set(float64(st.LightweightDue))
	observability.ActiveCooldowns.Set(float64(st.ActiveCooldowns))
	return st, nil
}
