// Package watchdog reclaims crawl assignments that workers never report
// back on. A claimed frontier entry has no intrinsic timeout; the watchdog
// supplies one from the outside by failing stale assignments, which requeues
// or terminally fails the URL under the frontier's normal retry policy.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/swarm"
)

const timeoutReason = "assignment timed out"

type Watchdog struct {
	coord    *swarm.Coordinator
	interval time.Duration

	mu      sync.Mutex
	timeout time.Duration
}

func New(coord *swarm.Coordinator, cfg config.WatchdogConfig) *Watchdog {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Watchdog{coord: coord, interval: interval, timeout: timeout}
}

// Timeout returns the current stale cutoff.
func (w *Watchdog) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

// SetTimeout swaps the stale cutoff; the next sweep uses it.
func (w *Watchdog) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
	slog.Info("watchdog timeout updated", "timeout", d)
}

func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("watchdog started", "interval", w.interval, "timeout", w.Timeout())

	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep fails every assignment older than the timeout and returns how many
// it failed. An assignment that resolves between the staleness check and the
// failure report is skipped.
func (w *Watchdog) Sweep() int {
	stale := w.coord.StaleAssignments(w.Timeout())

	failed := 0
	for _, a := range stale {
		requeued, ok := w.coord.ReportFailure(a.CurrentAssignment, a.ID, timeoutReason)
		if !ok {
			continue
		}
		failed++
		slog.Warn("stale assignment reclaimed",
			"agent", a.ID, "url", a.CurrentAssignment, "requeued", requeued)
	}
	return failed
}
