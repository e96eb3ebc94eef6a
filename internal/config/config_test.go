package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/arachne.db" {
		t.Errorf("expected store path data/arachne.db, got %s", cfg.Store.Path)
	}
	if cfg.Frontier.MaxDepth != 6 {
		t.Errorf("expected max_depth 6, got %d", cfg.Frontier.MaxDepth)
	}
	if cfg.Frontier.RetryDecay != 0.5 {
		t.Errorf("expected retry_decay 0.5, got %v", cfg.Frontier.RetryDecay)
	}
	if cfg.Frontier.DomainWindow != 2*time.Second {
		t.Errorf("expected domain_window 2s, got %v", cfg.Frontier.DomainWindow)
	}
	if cfg.Swarm.MinSafetyScore != 0.3 {
		t.Errorf("expected min_safety_score 0.3, got %v", cfg.Swarm.MinSafetyScore)
	}
	if cfg.Swarm.VoteQuorum != 2 {
		t.Errorf("expected vote_quorum 2, got %d", cfg.Swarm.VoteQuorum)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected poll_interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
	if !cfg.Watchdog.Enabled {
		t.Error("expected watchdog enabled by default")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config at a missing file so defaults apply.
	t.Setenv("ARACHNE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("ARACHNE_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("ARACHNE_WEB_PASSWORD", "secret")
	t.Setenv("ARACHNE_WEB_PORT", "9090")
	t.Setenv("ARACHNE_VAULT_PASSPHRASE", "hunter2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Vault.Passphrase != "hunter2" {
		t.Errorf("expected vault passphrase hunter2, got %s", cfg.Vault.Passphrase)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
web:
  port: 3000
  enabled: false
frontier:
  max_depth: 3
  domain_window: 5s
  blocked_domains: ["ads.example.com"]
swarm:
  require_consensus: true
  vote_quorum: 3
roles:
  coordinates:
    scout: [-1, 0]
    analyzer: [0, 0]
    sentinel: [0, 1]
    reporter: [1, 0]
  claimable: [scout, analyzer]
fleet:
  workers:
    - id: scout-1
      role: scout
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ARACHNE_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("ARACHNE_WEB_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if cfg.Frontier.MaxDepth != 3 {
		t.Errorf("expected max_depth 3, got %d", cfg.Frontier.MaxDepth)
	}
	if cfg.Frontier.DomainWindow != 5*time.Second {
		t.Errorf("expected domain_window 5s, got %v", cfg.Frontier.DomainWindow)
	}
	if len(cfg.Frontier.BlockedDomains) != 1 || cfg.Frontier.BlockedDomains[0] != "ads.example.com" {
		t.Errorf("expected one blocked domain, got %v", cfg.Frontier.BlockedDomains)
	}
	if !cfg.Swarm.RequireConsensus {
		t.Error("expected consensus required")
	}
	if cfg.Swarm.VoteQuorum != 3 {
		t.Errorf("expected vote_quorum 3, got %d", cfg.Swarm.VoteQuorum)
	}
	// Defaults survive a partial file
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected default nats port, got %d", cfg.NATS.Port)
	}
	if coords := cfg.Roles.Coordinates["sentinel"]; len(coords) != 2 || coords[0] != 0 || coords[1] != 1 {
		t.Errorf("expected sentinel at [0 1], got %v", coords)
	}
	if len(cfg.Fleet.Workers) != 1 || cfg.Fleet.Workers[0].Role != "scout" {
		t.Errorf("expected one scout worker, got %v", cfg.Fleet.Workers)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
vault:
  passphrase: "${TEST_ARACHNE_PASS}"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ARACHNE_CONFIG", cfgPath)
	t.Setenv("ARACHNE_VAULT_PASSPHRASE", "")
	t.Setenv("TEST_ARACHNE_PASS", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vault.Passphrase != "from-env" {
		t.Errorf("expected expanded passphrase, got %s", cfg.Vault.Passphrase)
	}
}
