package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestScheduler(t *testing.T) (*Scheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, DefaultConfig()), mr
}

func TestScheduleFullCheckUpserts(t *testing.T) {
	s, mr := newTestScheduler(t)
	ctx := context.Background()

	if err := s.ScheduleFullCheck(ctx, "p1", 24, time.Time{}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleFullCheck(ctx, "p1", 6, time.Time{}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	members, err := mr.ZMembers("schedule:full_check")
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 1 || members[0] != "p1" {
		t.Errorf("expected single entry for p1, got %v", members)
	}
}

func TestDueChecksClaimOnce(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := s.ScheduleFullCheck(ctx, id, 0, past); err != nil {
			t.Fatalf("schedule %s: %v", id, err)
		}
	}
	// Not yet due.
	if err := s.ScheduleFullCheck(ctx, "p4", 0, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule p4: %v", err)
	}

	// Two concurrent dispatchers must never claim the same project.
	var mu sync.Mutex
	claimed := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := s.DueFullChecks(ctx, 10)
			if err != nil {
				t.Errorf("due: %v", err)
				return
			}
			mu.Lock()
			for _, id := range ids {
				claimed[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 3 {
		t.Errorf("expected 3 distinct claims, got %v", claimed)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("project %s claimed %d times", id, n)
		}
	}
	if _, ok := claimed["p4"]; ok {
		t.Error("claimed p4 before its due time")
	}

	// A second pass finds nothing.
	ids, err := s.DueFullChecks(ctx, 10)
	if err != nil {
		t.Fatalf("second due: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty second claim, got %v", ids)
	}
}

func TestDueChecksRespectsLimit(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := s.ScheduleLightweightCheck(ctx, id, past); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	ids, err := s.DueLightweightChecks(ctx, 2)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 claims, got %v", ids)
	}
}

func TestApplyBackoffBounds(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	// Unchanged doubles: 24 -> 48 -> 96 -> 168 (cap) -> 168.
	want := []int{48, 96, 168, 168}
	for i, w := range want {
		got, err := s.ApplyBackoff(ctx, "p1", false)
		if err != nil {
			t.Fatalf("backoff %d: %v", i, err)
		}
		if got != w {
			t.Errorf("backoff step %d = %d, want %d", i, got, w)
		}
	}

	// Changed always snaps to the minimum.
	got, err := s.ApplyBackoff(ctx, "p1", true)
	if err != nil {
		t.Fatalf("backoff changed: %v", err)
	}
	if got != s.cfg.MinIntervalHours {
		t.Errorf("changed backoff = %d, want %d", got, s.cfg.MinIntervalHours)
	}

	stored, err := s.CheckInterval(ctx, "p1")
	if err != nil {
		t.Fatalf("interval: %v", err)
	}
	if stored < s.cfg.MinIntervalHours || stored > s.cfg.MaxIntervalHours {
		t.Errorf("stored interval %d outside [%d, %d]", stored, s.cfg.MinIntervalHours, s.cfg.MaxIntervalHours)
	}
}

func TestSetCheckIntervalClamps(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	if got, _ := s.SetCheckInterval(ctx, "p1", 1); got != 6 {
		t.Errorf("below min: got %d, want 6", got)
	}
	if got, _ := s.SetCheckInterval(ctx, "p1", 999); got != 168 {
		t.Errorf("above max: got %d, want 168", got)
	}
	if got, _ := s.CheckInterval(ctx, "unknown"); got != 24 {
		t.Errorf("default interval: got %d, want 24", got)
	}
}

func TestCooldownLifecycle(t *testing.T) {
	s, mr := newTestScheduler(t)
	ctx := context.Background()

	if err := s.SetCooldown(ctx, "p1", 4); err != nil {
		t.Fatalf("set cooldown: %v", err)
	}
	in, remaining, err := s.InCooldown(ctx, "p1")
	if err != nil {
		t.Fatalf("in cooldown: %v", err)
	}
	if !in {
		t.Fatal("expected p1 in cooldown")
	}
	if remaining <= 3*time.Hour || remaining > 4*time.Hour {
		t.Errorf("remaining %v outside (3h, 4h]", remaining)
	}

	// Expired entries are evicted on read.
	mr.ZAdd("schedule:cooldowns", float64(time.Now().Add(-time.Minute).Unix()), "p2")
	in, _, err = s.InCooldown(ctx, "p2")
	if err != nil {
		t.Fatalf("expired cooldown: %v", err)
	}
	if in {
		t.Error("expired cooldown still reported active")
	}
	if _, err := mr.ZScore("schedule:cooldowns", "p2"); err == nil {
		t.Error("expired cooldown entry not evicted")
	}

	if err := s.ClearCooldown(ctx, "p1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	in, _, _ = s.InCooldown(ctx, "p1")
	if in {
		t.Error("cooldown still active after clear")
	}
}

func TestScheduleAndUnscheduleProject(t *testing.T) {
	s, mr := newTestScheduler(t)
	ctx := context.Background()

	if err := s.ScheduleProject(ctx, "p1"); err != nil {
		t.Fatalf("schedule project: %v", err)
	}
	for _, key := range []string{"schedule:full_check", "schedule:lightweight_check"} {
		if _, err := mr.ZScore(key, "p1"); err != nil {
			t.Errorf("p1 missing from %s", key)
		}
	}
	if got, _ := s.CheckInterval(ctx, "p1"); got != 24 {
		t.Errorf("seeded interval = %d, want 24", got)
	}

	if err := s.UnscheduleProject(ctx, "p1"); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	for _, key := range []string{"schedule:full_check", "schedule:lightweight_check", "schedule:cooldowns"} {
		if _, err := mr.ZScore(key, "p1"); err == nil {
			t.Errorf("p1 still present in %s after unschedule", key)
		}
	}
	if mr.HGet("schedule:intervals", "p1") != "" {
		t.Error("interval entry survived unschedule")
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	s.ScheduleFullCheck(ctx, "due", 0, time.Now().Add(-time.Minute))
	s.ScheduleFullCheck(ctx, "later", 0, time.Now().Add(time.Hour))
	s.ScheduleLightweightCheck(ctx, "due", time.Now().Add(-time.Minute))
	s.SetCooldown(ctx, "due", 1)
	s.SetCheckInterval(ctx, "due", 24)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.FullScheduled != 2 || st.FullDue != 1 {
		t.Errorf("full: scheduled=%d due=%d, want 2/1", st.FullScheduled, st.FullDue)
	}
	if st.LightweightScheduled != 1 || st.LightweightDue != 1 {
		t.Errorf("lightweight: scheduled=%d due=%d, want 1/1", st.LightweightScheduled, st.LightweightDue)
	}
	if st.ActiveCooldowns != 1 {
		t.Errorf("cooldowns = %d, want 1", st.ActiveCooldowns)
	}
	if st.TrackedIntervals != 1 {
		t.Errorf("intervals = %d, want 1", st.TrackedIntervals)
	}
}
