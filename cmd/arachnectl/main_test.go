package main

import (
	"strings"
	"testing"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/control"
	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/swarm"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag map[string]string
		wantPos  []string
	}{
		{
			name:     "empty",
			args:     []string{},
			wantFlag: map[string]string{},
		},
		{
			name:     "positional only",
			args:     []string{"https://a.example", "https://b.example"},
			wantFlag: map[string]string{},
			wantPos:  []string{"https://a.example", "https://b.example"},
		},
		{
			name:     "flag with value",
			args:     []string{"worker-1", "--reason", "flaky results"},
			wantFlag: map[string]string{"reason": "flaky results"},
			wantPos:  []string{"worker-1"},
		},
		{
			name:     "flag without value stays positional",
			args:     []string{"--reason"},
			wantFlag: map[string]string{},
			wantPos:  []string{"--reason"},
		},
		{
			name:     "short dash not treated as flag",
			args:     []string{"-r", "x"},
			wantFlag: map[string]string{},
			wantPos:  []string{"-r", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, pos := parseArgs(tt.args)
			if len(flags) != len(tt.wantFlag) {
				t.Errorf("parseArgs(%v) returned %d flags, want %d", tt.args, len(flags), len(tt.wantFlag))
			}
			for k, v := range tt.wantFlag {
				if flags[k] != v {
					t.Errorf("parseArgs(%v) flag %q = %q, want %q", tt.args, k, flags[k], v)
				}
			}
			if len(pos) != len(tt.wantPos) {
				t.Fatalf("parseArgs(%v) returned %d positionals, want %d", tt.args, len(pos), len(tt.wantPos))
			}
			for i := range pos {
				if pos[i] != tt.wantPos[i] {
					t.Errorf("parseArgs(%v) positional %d = %q, want %q", tt.args, i, pos[i], tt.wantPos[i])
				}
			}
		})
	}
}

func TestFormatCounts(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]int
		want  string
	}{
		{"empty", nil, "none"},
		{"single", map[string]int{"scout": 2}, "2 scout"},
		{"sorted", map[string]int{"sentinel": 1, "analyzer": 3}, "3 analyzer, 1 sentinel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCounts(tt.input); got != tt.want {
				t.Errorf("formatCounts(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// startControlPlane runs a real daemon control plane on an in-process NATS
// server and returns its client URL plus the coordinator for seeding state.
func startControlPlane(t *testing.T) (string, *swarm.Coordinator, *frontier.Frontier) {
	t.Helper()

	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	front := frontier.New(config.FrontierConfig{MaxDepth: 3})
	coord := swarm.New(config.SwarmConfig{MinSafetyScore: 0.3, VoteQuorum: 2}, swarm.DefaultRoles(), front, bus)

	responder, err := control.New(bus, coord, front, "test")
	if err != nil {
		t.Fatalf("create responder: %v", err)
	}
	if err := responder.Start(); err != nil {
		t.Fatalf("start responder: %v", err)
	}
	t.Cleanup(responder.Stop)

	return bus.ClientURL(), coord, front
}

func TestStatusCommand(t *testing.T) {
	url, coord, _ := startControlPlane(t)
	coord.RegisterAgent("worker-1", swarm.RoleScout)

	resp, err := sendControl(url, "status", nil)
	if err != nil {
		t.Fatalf("sendControl: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok response, got error %q", resp.Error)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Stats == nil {
		t.Fatal("expected stats in response")
	}
	if resp.Stats.Agents != 1 {
		t.Errorf("stats.agents = %d, want 1", resp.Stats.Agents)
	}
	if resp.Stats.ByRole["scout"] != 1 {
		t.Errorf("by_role[scout] = %d, want 1", resp.Stats.ByRole["scout"])
	}
}

func TestAgentsCommand(t *testing.T) {
	url, coord, _ := startControlPlane(t)
	coord.RegisterAgent("worker-1", swarm.RoleScout)
	coord.RegisterAgent("worker-2", swarm.RoleSentinel)

	resp, err := sendControl(url, "agents", nil)
	if err != nil {
		t.Fatalf("sendControl: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok response, got error %q", resp.Error)
	}
	if len(resp.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(resp.Agents))
	}

	found := make(map[string]string)
	for _, a := range resp.Agents {
		found[a.ID] = a.Role
	}
	if found["worker-1"] != "scout" || found["worker-2"] != "sentinel" {
		t.Errorf("unexpected agents: %v", found)
	}
}

func TestSeedAndBlockCommands(t *testing.T) {
	url, _, front := startControlPlane(t)

	resp, err := sendControl(url, "seed", map[string]any{
		"urls": []string{"https://spam.example/a", "https://ok.example/b"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if resp.Added != 2 {
		t.Errorf("added = %d, want 2", resp.Added)
	}

	// Seeding the same urls again dedups to zero.
	resp, err = sendControl(url, "seed", map[string]any{
		"urls": []string{"https://spam.example/a"},
	})
	if err != nil {
		t.Fatalf("repeat seed: %v", err)
	}
	if resp.Added != 0 {
		t.Errorf("repeat added = %d, want 0", resp.Added)
	}

	resp, err = sendControl(url, "block", map[string]any{"pattern": "spam.example"})
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if resp.Transitioned != 1 {
		t.Errorf("transitioned = %d, want 1", resp.Transitioned)
	}
	if got := front.Stats().Blocked; got != 1 {
		t.Errorf("frontier blocked = %d, want 1", got)
	}
}

func TestSeedRequiresURLs(t *testing.T) {
	url, _, _ := startControlPlane(t)

	resp, err := sendControl(url, "seed", map[string]any{})
	if err != nil {
		t.Fatalf("sendControl: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected error for empty seed payload")
	}
}

func TestQuarantineAndReleaseCommands(t *testing.T) {
	url, coord, _ := startControlPlane(t)
	coord.RegisterAgent("worker-1", swarm.RoleScout)

	resp, err := sendControl(url, "quarantine", map[string]any{
		"agent_id": "worker-1",
		"reason":   "manual hold",
	})
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok, got error %q", resp.Error)
	}
	if a := coord.GetAgent("worker-1"); a == nil || a.Status != swarm.AgentQuarantined {
		t.Fatalf("agent not quarantined: %+v", a)
	}

	resp, err = sendControl(url, "release", map[string]any{"agent_id": "worker-1"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok, got error %q", resp.Error)
	}
	if a := coord.GetAgent("worker-1"); a == nil || a.Status != swarm.AgentIdle {
		t.Fatalf("agent not released: %+v", a)
	}
}

func TestQuarantineUnknownAgent(t *testing.T) {
	url, _, _ := startControlPlane(t)

	resp, err := sendControl(url, "quarantine", map[string]any{"agent_id": "ghost"})
	if err != nil {
		t.Fatalf("sendControl: %v", err)
	}
	if !strings.Contains(resp.Error, "unknown agent") {
		t.Errorf("error = %q, want unknown agent", resp.Error)
	}
}

func TestUnknownCommand(t *testing.T) {
	url, _, _ := startControlPlane(t)

	resp, err := sendControl(url, "selfdestruct", nil)
	if err != nil {
		t.Fatalf("sendControl: %v", err)
	}
	if !strings.Contains(resp.Error, "unknown command") {
		t.Errorf("error = %q, want unknown command", resp.Error)
	}
}
