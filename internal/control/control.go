// Package control is the daemon's admin plane: a NATS request/reply
// responder on a raw subject outside the bus topic scheme, spoken by
// arachnectl. Requests are JSON {type, payload}; replies carry {ok, ...} or
// {error}.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/swarm"
)

// Subject is the raw NATS subject the responder answers on.
const Subject = "arachne.ctl"

const publisherID = "control"

// Command is the request envelope.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Responder struct {
	client  *natsbus.Client
	bus     *natsbus.Bus
	coord   *swarm.Coordinator
	front   *frontier.Frontier
	version string
	started time.Time
	sub     *nats.Subscription
}

func New(bus *natsbus.Bus, coord *swarm.Coordinator, front *frontier.Frontier, version string) (*Responder, error) {
	client, err := natsbus.NewClient(bus)
	if err != nil {
		return nil, fmt.Errorf("control client: %w", err)
	}
	return &Responder{
		client:  client,
		bus:     bus,
		coord:   coord,
		front:   front,
		version: version,
		started: time.Now(),
	}, nil
}

func (r *Responder) Start() error {
	sub, err := r.client.Subscribe(Subject, r.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject, err)
	}
	r.sub = sub
	if err := r.client.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	slog.Info("control responder listening", "subject", Subject)
	return nil
}

func (r *Responder) Stop() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.client.Close()
}

func (r *Responder) handle(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid control command", "error", err)
		r.respond(msg, map[string]any{"error": "invalid command"})
		return
	}

	slog.Info("control command received", "type", cmd.Type)

	switch cmd.Type {
	case "status":
		r.ctlStatus(msg)
	case "agents":
		r.ctlAgents(msg)
	case "seed":
		r.ctlSeed(msg, cmd.Payload)
	case "block":
		r.ctlBlock(msg, cmd.Payload)
	case "quarantine":
		r.ctlQuarantine(msg, cmd.Payload)
	case "release":
		r.ctlRelease(msg, cmd.Payload)
	default:
		slog.Warn("unknown control command", "type", cmd.Type)
		r.respond(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (r *Responder) respond(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal control response", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("failed to respond to control command", "error", err)
	}
}

func (r *Responder) ctlStatus(msg *nats.Msg) {
	r.respond(msg, map[string]any{
		"ok":      true,
		"version": r.version,
		"uptime":  time.Since(r.started).Round(time.Second).String(),
		"stats":   r.coord.GetStats(),
	})
}

func (r *Responder) ctlAgents(msg *nats.Msg) {
	r.respond(msg, map[string]any{
		"ok":     true,
		"agents": r.coord.Agents(),
	})
}

func (r *Responder) ctlSeed(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || len(req.URLs) == 0 {
		r.respond(msg, map[string]any{"error": "urls are required"})
		return
	}

	added := r.front.AddSeeds(req.URLs)
	if added > 0 {
		r.publish(natsbus.ChannelDiscovery, natsbus.EventSeedsAdded, map[string]any{
			"added":  added,
			"source": publisherID,
		})
	}
	slog.Info("seeds added via control", "submitted", len(req.URLs), "added", added)
	r.respond(msg, map[string]any{"ok": true, "added": added})
}

func (r *Responder) ctlBlock(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Pattern == "" {
		r.respond(msg, map[string]any{"error": "pattern is required"})
		return
	}

	transitioned := r.front.BlockDomain(req.Pattern)
	r.publish(natsbus.ChannelDiscovery, natsbus.EventDomainBlocked, map[string]any{
		"pattern":      req.Pattern,
		"transitioned": transitioned,
		"source":       publisherID,
	})
	slog.Info("domain blocked via control", "pattern", req.Pattern, "transitioned", transitioned)
	r.respond(msg, map[string]any{"ok": true, "transitioned": transitioned})
}

func (r *Responder) ctlQuarantine(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		AgentID string `json:"agent_id"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.AgentID == "" {
		r.respond(msg, map[string]any{"error": "agent_id is required"})
		return
	}
	if req.Reason == "" {
		req.Reason = "quarantined by operator"
	}

	if !r.coord.QuarantineAgent(req.AgentID, req.Reason) {
		r.respond(msg, map[string]any{"error": "unknown agent: " + req.AgentID})
		return
	}
	r.respond(msg, map[string]any{"ok": true})
}

func (r *Responder) ctlRelease(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.AgentID == "" {
		r.respond(msg, map[string]any{"error": "agent_id is required"})
		return
	}

	if !r.coord.ReleaseFromQuarantine(req.AgentID) {
		r.respond(msg, map[string]any{"error": "agent not releasable: " + req.AgentID})
		return
	}
	r.respond(msg, map[string]any{"ok": true})
}

// publish mirrors the coordinator's fire-and-forget event style: a control
// mutation that cannot announce itself still succeeds.
func (r *Responder) publish(channel, event string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	if _, err := r.bus.Publish(publisherID, channel, event, payload, nil); err != nil {
		slog.Warn("control event publish failed", "event", event, "error", err)
	}
}
