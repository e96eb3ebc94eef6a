package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/container"
	"github.com/scbe-labs/arachne/internal/control"
	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/metrics"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/notify"
	"github.com/scbe-labs/arachne/internal/recorder"
	"github.com/scbe-labs/arachne/internal/scheduler"
	"github.com/scbe-labs/arachne/internal/store"
	"github.com/scbe-labs/arachne/internal/swarm"
	"github.com/scbe-labs/arachne/internal/vault"
	"github.com/scbe-labs/arachne/internal/watchdog"
	"github.com/scbe-labs/arachne/internal/web"
)

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log.Level)

	slog.Info("starting arachne", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	// Credential vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v, err = vault.New(cfg.Vault.Passphrase)
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
	} else {
		slog.Warn("vault passphrase not set, credential endpoints disabled")
	}

	// URL frontier
	front := frontier.New(cfg.Frontier)

	// Swarm coordinator with the braid role topology
	roles, err := swarm.RolesFromConfig(cfg.Roles)
	if err != nil {
		return fmt.Errorf("init roles: %w", err)
	}
	coord := swarm.New(cfg.Swarm, roles, front, bus)

	// Metrics
	m := metrics.New()
	m.ObserveSwarm(coord)

	// Recorder: bus traffic into the audit tables
	rec := recorder.New(db, bus, m)
	if err := rec.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	defer rec.Stop()

	// Seed campaign scheduler
	sched := scheduler.New(db, front, bus, cfg.Scheduler)
	go sched.Start(ctx)

	// Watchdog for stalled assignments
	var wd *watchdog.Watchdog
	if cfg.Watchdog.Enabled {
		wd = watchdog.New(coord, cfg.Watchdog)
		go wd.Start(ctx)
	}

	// Control plane for arachnectl
	ctl, err := control.New(bus, coord, front, version)
	if err != nil {
		return fmt.Errorf("init control: %w", err)
	}
	if err := ctl.Start(); err != nil {
		return fmt.Errorf("start control: %w", err)
	}
	defer ctl.Stop()

	// Telegram safety notifications
	var notifier *notify.Notifier
	if cfg.Telegram.Token != "" {
		notifier, err = notify.New(cfg.Telegram, bus)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		if err := notifier.Start(); err != nil {
			return fmt.Errorf("start notifier: %w", err)
		}
		defer notifier.Stop()
		slog.Info("telegram notifier started", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram token not set, notifier disabled")
	}

	// Worker fleet
	var fleet *container.Fleet
	if cfg.Fleet.Enabled {
		fleet, err = container.New(cfg.Fleet)
		if err != nil {
			return fmt.Errorf("init fleet: %w", err)
		}
		if err := fleet.CleanupStale(ctx); err != nil {
			slog.Warn("stale worker cleanup failed", "error", err)
		}
		if err := fleet.StartWorkers(ctx); err != nil {
			slog.Warn("not all workers started", "error", err)
		}
		slog.Info("worker fleet started", "workers", len(fleet.ListRunning()))
	}

	// Web UI and API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, coord, front, v, m, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Signal loop: SIGINT/SIGTERM shut down, SIGHUP reloads config.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig)
			break
		}
		cfg = reloadConfig(cfg, front, sched, wd, notifier)
	}
	cancel()

	if fleet != nil {
		fleet.StopAll(context.Background())
	}
	return nil
}

// reloadConfig re-reads the config file and applies every reloadable change
// to the running components. Returns the config now in effect.
func reloadConfig(old *config.Config, front *frontier.Frontier, sched *scheduler.Scheduler, wd *watchdog.Watchdog, notifier *notify.Notifier) *config.Config {
	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed, keeping current config", "error", err)
		return old
	}

	d := config.Diff(old, next)
	for _, field := range d.NonReloadable {
		slog.Warn("config change needs a restart", "field", field)
	}
	if !d.HasChanges() {
		slog.Info("config reloaded, no live changes")
		return next
	}

	if d.SchedulerChanged {
		sched.UpdateConfig(d.NewScheduler.PollInterval)
	}
	if d.WatchdogChanged && wd != nil {
		wd.SetTimeout(d.NewWatchdog.Timeout)
	}
	if d.FrontierChanged {
		front.SetMaxDepth(d.NewFrontier.MaxDepth)
		front.SetPacing(d.NewFrontier.DomainWindow)
	}
	if d.ChatIDChanged && notifier != nil {
		notifier.SetChatID(d.NewChatID)
	}

	slog.Info("config reloaded")
	return next
}
