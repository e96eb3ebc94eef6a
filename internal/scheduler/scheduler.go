package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/schedule"
	"github.com/scbe-labs/arachne/internal/store"
)

const publisherID = "scheduler"

// Scheduler polls the seed_schedules table and injects due campaigns'
// seed URLs into the frontier.
type Scheduler struct {
	store        *store.Store
	frontier     *frontier.Frontier
	bus          *natsbus.Bus
	pollInterval time.Duration
	reloadCh     chan struct{}
	now          func() time.Time
}

func New(s *store.Store, f *frontier.Frontier, bus *natsbus.Bus, cfg config.SchedulerConfig) *Scheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		store:        s,
		frontier:     f,
		bus:          bus,
		pollInterval: interval,
		reloadCh:     make(chan struct{}, 1),
		now:          time.Now,
	}
}

// UpdateConfig swaps the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	if pollInterval <= 0 {
		return
	}
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll fires every due campaign once.
func (s *Scheduler) Poll() {
	due, err := s.store.GetDueSchedules(s.now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sched := range due {
		s.fire(sched)
	}
}

func (s *Scheduler) fire(sched store.SeedSchedule) {
	slog.Info("firing seed campaign", "id", sched.ID, "name", sched.Name)

	lastStatus := "success"
	lastError := ""
	added := 0

	var seeds []string
	if err := json.Unmarshal([]byte(sched.Seeds), &seeds); err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("campaign has malformed seeds", "id", sched.ID, "error", err)
	} else {
		added = s.frontier.AddSeeds(seeds)
	}

	nextRun := schedule.NextRun(sched.Schedule, s.now())
	if err := s.store.UpdateScheduleRun(sched.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update schedule run", "id", sched.ID, "error", err)
	}

	s.publish(natsbus.ChannelLifecycle, natsbus.EventScheduleFired, map[string]any{
		"schedule_id": sched.ID,
		"name":        sched.Name,
		"added":       added,
		"status":      lastStatus,
	})
	if added > 0 {
		s.publish(natsbus.ChannelDiscovery, natsbus.EventSeedsAdded, map[string]any{
			"added":  added,
			"source": "schedule:" + sched.ID,
		})
	}

	// Campaigns with no further firing time are done.
	if nextRun == nil {
		slog.Info("campaign has no next run, marking completed", "id", sched.ID, "name", sched.Name)
		if err := s.store.UpdateScheduleStatus(sched.ID, "completed"); err != nil {
			slog.Error("failed to complete schedule", "id", sched.ID, "error", err)
		}
	}
}

func (s *Scheduler) publish(channel, event string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Publish(publisherID, channel, event, payload, nil); err != nil {
		slog.Warn("scheduler event publish failed", "event", event, "error", err)
	}
}
