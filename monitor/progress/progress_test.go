package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client), mr
}

func TestReportAndGet(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	rep := tracker.Reporter("p1")
	rep.Report(ctx, StageCrawl, 3, 10, "https://example.com/docs", nil)

	snap, err := tracker.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap == nil {
		t.Fatal("expected snapshot")
	}
	if snap.Stage != StageCrawl {
		t.Errorf("stage = %s, want CRAWL", snap.Stage)
	}
	if snap.Percent != 30 {
		t.Errorf("percent = %f, want 30", snap.Percent)
	}
	if snap.CurrentURL != "https://example.com/docs" {
		t.Errorf("current_url = %s", snap.CurrentURL)
	}
}

func TestReportOverwrites(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	rep := tracker.Reporter("p1")
	rep.Report(ctx, StageCrawl, 1, 4, "", nil)
	rep.Report(ctx, StageComplete, 4, 4, "", map[string]string{"versions": "2"})

	snap, err := tracker.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Stage != StageComplete || snap.Percent != 100 {
		t.Errorf("expected COMPLETE at 100%%, got %s at %f", snap.Stage, snap.Percent)
	}
	if snap.Extra["versions"] != "2" {
		t.Errorf("extra not carried: %v", snap.Extra)
	}
}

func TestSnapshotExpires(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	tracker.Reporter("p1").Report(ctx, StageCrawl, 1, 2, "", nil)
	mr.FastForward(2 * time.Hour)

	snap, err := tracker.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap != nil {
		t.Error("snapshot survived past TTL")
	}
}

func TestGetMissing(t *testing.T) {
	tracker, _ := newTestTracker(t)
	snap, err := tracker.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap != nil {
		t.Error("expected nil snapshot for missing project")
	}
}

func TestClear(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.Reporter("p1").Report(ctx, StageCrawl, 1, 2, "", nil)
	if err := tracker.Clear(ctx, "p1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	snap, _ := tracker.Get(ctx, "p1")
	if snap != nil {
		t.Error("snapshot survived clear")
	}
}
