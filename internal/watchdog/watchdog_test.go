package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/swarm"
)

func newTestCoordinator(t *testing.T) (*swarm.Coordinator, *frontier.Frontier) {
	t.Helper()

	f := frontier.New(config.FrontierConfig{
		MaxDepth:     3,
		BasePriority: 10,
		SeedBoost:    2,
		MaxRetries:   1,
		RetryDecay:   0.5,
	})
	coord := swarm.New(config.SwarmConfig{
		MinSafetyScore: 0.1,
		FailurePenalty: 0.05,
		VoteQuorum:     2,
		HistoryLimit:   16,
	}, swarm.DefaultRoles(), f, nil)
	return coord, f
}

func TestSweepFailsOnlyStaleAssignments(t *testing.T) {
	coord, f := newTestCoordinator(t)
	f.AddSeeds([]string{"https://old.example/", "https://new.example/"})

	if coord.RegisterAgent("scout-1", swarm.RoleScout) == nil {
		t.Fatal("register scout-1 failed")
	}
	if coord.RegisterAgent("scout-2", swarm.RoleScout) == nil {
		t.Fatal("register scout-2 failed")
	}

	stale := coord.AssignNext("scout-1")
	if stale == nil {
		t.Fatal("expected assignment for scout-1")
	}

	w := New(coord, config.WatchdogConfig{Timeout: 50 * time.Millisecond, Interval: time.Hour})
	time.Sleep(80 * time.Millisecond)

	fresh := coord.AssignNext("scout-2")
	if fresh == nil {
		t.Fatal("expected assignment for scout-2")
	}

	if failed := w.Sweep(); failed != 1 {
		t.Fatalf("sweep failed %d assignments, want 1", failed)
	}

	// First failure on max_retries 1 requeues rather than terminally fails.
	e := f.GetEntry(stale.URL)
	if e == nil || e.Status != frontier.StatusQueued {
		t.Errorf("stale entry not requeued: %+v", e)
	}
	if a := coord.GetAgent("scout-1"); a.CurrentAssignment != "" || a.Status != swarm.AgentIdle {
		t.Errorf("scout-1 not cleared: %+v", a)
	}
	if b := coord.GetAgent("scout-2"); b.CurrentAssignment != fresh.URL {
		t.Errorf("scout-2 assignment disturbed: %+v", b)
	}
}

func TestSweepNoStale(t *testing.T) {
	coord, f := newTestCoordinator(t)
	f.AddSeeds([]string{"https://a.example/"})
	coord.RegisterAgent("scout-1", swarm.RoleScout)
	if coord.AssignNext("scout-1") == nil {
		t.Fatal("expected assignment")
	}

	w := New(coord, config.WatchdogConfig{Timeout: time.Hour, Interval: time.Hour})
	if failed := w.Sweep(); failed != 0 {
		t.Errorf("sweep failed %d assignments, want 0", failed)
	}
}

func TestSetTimeout(t *testing.T) {
	coord, f := newTestCoordinator(t)
	f.AddSeeds([]string{"https://a.example/"})
	coord.RegisterAgent("scout-1", swarm.RoleScout)
	if coord.AssignNext("scout-1") == nil {
		t.Fatal("expected assignment")
	}

	w := New(coord, config.WatchdogConfig{Timeout: time.Hour, Interval: time.Hour})

	w.SetTimeout(0) // ignored
	if w.Timeout() != time.Hour {
		t.Errorf("zero timeout applied: %v", w.Timeout())
	}

	time.Sleep(30 * time.Millisecond)
	w.SetTimeout(10 * time.Millisecond)
	if failed := w.Sweep(); failed != 1 {
		t.Errorf("sweep after timeout change failed %d, want 1", failed)
	}
}

func TestStartSweepsOnTicker(t *testing.T) {
	coord, f := newTestCoordinator(t)
	f.AddSeeds([]string{"https://a.example/"})
	coord.RegisterAgent("scout-1", swarm.RoleScout)
	if coord.AssignNext("scout-1") == nil {
		t.Fatal("expected assignment")
	}

	w := New(coord, config.WatchdogConfig{Timeout: 10 * time.Millisecond, Interval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if a := coord.GetAgent("scout-1"); a.CurrentAssignment == "" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("watchdog never reclaimed the stale assignment")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
