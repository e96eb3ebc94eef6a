package control

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/swarm"
)

func newTestControl(t *testing.T) (*natsbus.Client, *swarm.Coordinator, *frontier.Frontier) {
	t.Helper()

	bus, err := natsbus.New(config.NATSConfig{
		Port:    -1, // random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	front := frontier.New(config.FrontierConfig{
		MaxDepth:     3,
		BasePriority: 10,
		SeedBoost:    2,
		MaxRetries:   1,
		RetryDecay:   0.5,
	})
	coord := swarm.New(config.SwarmConfig{
		MinSafetyScore: 0.3,
		VoteQuorum:     2,
	}, swarm.DefaultRoles(), front, bus)

	resp, err := New(bus, coord, front, "test")
	if err != nil {
		t.Fatalf("failed to create responder: %v", err)
	}
	if err := resp.Start(); err != nil {
		t.Fatalf("failed to start responder: %v", err)
	}
	t.Cleanup(resp.Stop)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, coord, front
}

func send(t *testing.T, client *natsbus.Client, typ string, payload any) map[string]any {
	t.Helper()

	cmd := Command{Type: typ}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		cmd.Payload = b
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}

	msg, err := client.Request(Subject, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", typ, err)
	}
	var reply map[string]any
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return reply
}

func TestStatusCommand(t *testing.T) {
	client, _, _ := newTestControl(t)

	reply := send(t, client, "status", nil)
	if reply["ok"] != true {
		t.Fatalf("unexpected reply %v", reply)
	}
	if reply["version"] != "test" {
		t.Errorf("version = %v", reply["version"])
	}
	if _, ok := reply["stats"]; !ok {
		t.Error("reply missing stats")
	}
}

func TestSeedAndAgentsCommands(t *testing.T) {
	client, coord, front := newTestControl(t)

	reply := send(t, client, "seed", map[string]any{
		"urls": []string{"https://a.example/", "https://b.example/"},
	})
	if reply["ok"] != true || reply["added"] != float64(2) {
		t.Fatalf("unexpected seed reply %v", reply)
	}
	if got := front.Stats().Queued; got != 2 {
		t.Errorf("frontier queued = %d, want 2", got)
	}

	coord.RegisterAgent("scout-1", swarm.RoleScout)
	reply = send(t, client, "agents", nil)
	agents, ok := reply["agents"].([]any)
	if !ok || len(agents) != 1 {
		t.Fatalf("unexpected agents reply %v", reply)
	}
}

func TestSeedRequiresURLs(t *testing.T) {
	client, _, _ := newTestControl(t)

	reply := send(t, client, "seed", map[string]any{"urls": []string{}})
	if _, ok := reply["error"]; !ok {
		t.Errorf("expected error for empty urls, got %v", reply)
	}
}

func TestBlockCommand(t *testing.T) {
	client, _, front := newTestControl(t)
	front.AddSeeds([]string{"https://bad.example/", "https://good.example/"})

	reply := send(t, client, "block", map[string]any{"pattern": "bad.example"})
	if reply["ok"] != true || reply["transitioned"] != float64(1) {
		t.Fatalf("unexpected block reply %v", reply)
	}
	if e := front.GetEntry("https://bad.example/"); e == nil || e.Status != frontier.StatusBlocked {
		t.Errorf("entry not blocked: %+v", e)
	}
}

func TestQuarantineAndRelease(t *testing.T) {
	client, coord, _ := newTestControl(t)
	coord.RegisterAgent("scout-1", swarm.RoleScout)

	reply := send(t, client, "quarantine", map[string]any{"agent_id": "scout-1"})
	if reply["ok"] != true {
		t.Fatalf("unexpected quarantine reply %v", reply)
	}
	if a := coord.GetAgent("scout-1"); a.Status != swarm.AgentQuarantined {
		t.Errorf("agent status = %s", a.Status)
	}

	reply = send(t, client, "release", map[string]any{"agent_id": "scout-1"})
	if reply["ok"] != true {
		t.Fatalf("unexpected release reply %v", reply)
	}
	if a := coord.GetAgent("scout-1"); a.Status != swarm.AgentIdle {
		t.Errorf("agent status after release = %s", a.Status)
	}

	reply = send(t, client, "quarantine", map[string]any{"agent_id": "ghost"})
	if _, ok := reply["error"]; !ok {
		t.Errorf("expected error for unknown agent, got %v", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	client, _, _ := newTestControl(t)

	reply := send(t, client, "frobnicate", nil)
	if _, ok := reply["error"]; !ok {
		t.Errorf("expected error reply, got %v", reply)
	}
}
