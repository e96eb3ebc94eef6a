package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	WatchdogChanged bool
	NewWatchdog     WatchdogConfig

	FrontierChanged bool
	NewFrontier     FrontierConfig

	ChatIDChanged bool
	NewChatID     int64

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.SchedulerChanged ||
		d.WatchdogChanged ||
		d.FrontierChanged ||
		d.ChatIDChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	// Scheduler
	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	// Watchdog timeout applies on the next sweep. The sweep interval drives
	// a running ticker and needs a restart.
	if old.Watchdog.Timeout != new.Watchdog.Timeout {
		d.WatchdogChanged = true
		d.NewWatchdog = new.Watchdog
	}
	if old.Watchdog.Enabled != new.Watchdog.Enabled {
		d.NonReloadable = append(d.NonReloadable, "watchdog.enabled")
	}
	if old.Watchdog.Interval != new.Watchdog.Interval {
		d.NonReloadable = append(d.NonReloadable, "watchdog.interval")
	}

	// Frontier: max depth and the pacing window can be retuned live; the
	// rest shapes entries already admitted and needs a restart.
	if old.Frontier.MaxDepth != new.Frontier.MaxDepth ||
		old.Frontier.DomainWindow != new.Frontier.DomainWindow {
		d.FrontierChanged = true
		d.NewFrontier = new.Frontier
	}
	if old.Frontier.BasePriority != new.Frontier.BasePriority ||
		old.Frontier.SeedBoost != new.Frontier.SeedBoost ||
		old.Frontier.MaxRetries != new.Frontier.MaxRetries ||
		old.Frontier.RetryDecay != new.Frontier.RetryDecay ||
		!reflect.DeepEqual(old.Frontier.BlockedDomains, new.Frontier.BlockedDomains) {
		d.NonReloadable = append(d.NonReloadable, "frontier.admission")
	}

	// Telegram chat target
	if old.Telegram.ChatID != new.Telegram.ChatID {
		d.ChatIDChanged = true
		d.NewChatID = new.Telegram.ChatID
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if !reflect.DeepEqual(old.Swarm, new.Swarm) {
		d.NonReloadable = append(d.NonReloadable, "swarm")
	}
	if !reflect.DeepEqual(old.Roles, new.Roles) {
		d.NonReloadable = append(d.NonReloadable, "roles")
	}
	if !reflect.DeepEqual(old.Fleet, new.Fleet) {
		d.NonReloadable = append(d.NonReloadable, "fleet")
	}

	return d
}
