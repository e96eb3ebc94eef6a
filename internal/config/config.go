package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Frontier  FrontierConfig  `yaml:"frontier"`
	Swarm     SwarmConfig     `yaml:"swarm"`
	Roles     RolesConfig     `yaml:"roles"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Vault     VaultConfig     `yaml:"vault"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Fleet     FleetConfig     `yaml:"fleet"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type NATSConfig struct {
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"`
	PendingMsgs  int    `yaml:"pending_msgs"`
	PendingBytes int    `yaml:"pending_bytes"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type FrontierConfig struct {
	MaxDepth       int           `yaml:"max_depth"`
	BasePriority   float64       `yaml:"base_priority"`
	SeedBoost      float64       `yaml:"seed_boost"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDecay     float64       `yaml:"retry_decay"`
	DomainWindow   time.Duration `yaml:"domain_window"`
	BlockedDomains []string      `yaml:"blocked_domains"`
}

type SwarmConfig struct {
	MinSafetyScore   float64 `yaml:"min_safety_score"`
	SafeReward       float64 `yaml:"safe_reward"`
	UnsafePenalty    float64 `yaml:"unsafe_penalty"`
	FailurePenalty   float64 `yaml:"failure_penalty"`
	RequireConsensus bool    `yaml:"require_consensus"`
	VoteQuorum       int     `yaml:"vote_quorum"`
	HistoryLimit     int     `yaml:"history_limit"`
}

// RolesConfig optionally overrides the built-in braid layout. Axis values
// must stay in {-1, 0, 1}; an empty config means the defaults apply.
type RolesConfig struct {
	Coordinates map[string][]int `yaml:"coordinates"`
	Claimable   []string         `yaml:"claimable"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WatchdogConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type FleetConfig struct {
	Enabled bool         `yaml:"enabled"`
	Image   string       `yaml:"image"`
	Network string       `yaml:"network"`
	NATSURL string       `yaml:"nats_url"`
	APIURL  string       `yaml:"api_url"`
	Workers []WorkerSpec `yaml:"workers"`
	Mounts  []Mount      `yaml:"mounts"`
}

type WorkerSpec struct {
	ID    string `yaml:"id"`
	Role  string `yaml:"role"`
	Image string `yaml:"image"`
}

type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		NATS: NATSConfig{
			Port:         4222,
			DataDir:      "data/nats",
			PendingMsgs:  4096,
			PendingBytes: 8 << 20,
		},
		Store: StoreConfig{
			Path: "data/arachne.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Frontier: FrontierConfig{
			MaxDepth:     6,
			BasePriority: 1.0,
			SeedBoost:    2.0,
			MaxRetries:   3,
			RetryDecay:   0.5,
			DomainWindow: 2 * time.Second,
		},
		Swarm: SwarmConfig{
			MinSafetyScore:   0.3,
			SafeReward:       0.05,
			UnsafePenalty:    0.2,
			FailurePenalty:   0.05,
			RequireConsensus: false,
			VoteQuorum:       2,
			HistoryLimit:     256,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Enabled:  true,
			Timeout:  10 * time.Minute,
			Interval: time.Minute,
		},
		Fleet: FleetConfig{
			Image:   "ghcr.io/scbe-labs/arachne-worker:latest",
			Network: "arachne-net",
			NATSURL: "nats://host.docker.internal:4222",
			APIURL:  "http://host.docker.internal:8080",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("ARACHNE_CONFIG")
	if path == "" {
		path = "config/arachne.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ARACHNE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ARACHNE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("ARACHNE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("ARACHNE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("ARACHNE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ARACHNE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
