// Package recorder tails the bus and turns traffic into the audit trail:
// discovery events become crawl records, safety events become safety rows,
// and every event bumps its Prometheus counter. Persistence is best-effort;
// a failed insert is logged and the event dropped so the bus never backs up
// behind the database.
package recorder

import (
	"fmt"
	"log/slog"

	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/metrics"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/store"
)

const recorderID = "recorder"

type Recorder struct {
	store   *store.Store
	bus     *natsbus.Bus
	metrics *metrics.Metrics
	subs    []*natsbus.Subscription
}

func New(st *store.Store, bus *natsbus.Bus, m *metrics.Metrics) *Recorder {
	return &Recorder{store: st, bus: bus, metrics: m}
}

// Start subscribes to the discovery and safety channels under the recorder's
// own agent id, so coordinator broadcasts reach it like any other subscriber.
func (r *Recorder) Start() error {
	sub, err := r.bus.Subscribe(recorderID, natsbus.ChannelPattern(natsbus.ChannelDiscovery), r.onDiscovery)
	if err != nil {
		return fmt.Errorf("subscribe discovery: %w", err)
	}
	r.subs = append(r.subs, sub)

	sub, err = r.bus.Subscribe(recorderID, natsbus.ChannelPattern(natsbus.ChannelSafety), r.onSafety)
	if err != nil {
		return fmt.Errorf("subscribe safety: %w", err)
	}
	r.subs = append(r.subs, sub)

	slog.Info("recorder started")
	return nil
}

func (r *Recorder) Stop() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *Recorder) onDiscovery(msg natsbus.Message) error {
	if r.metrics != nil {
		r.metrics.CountCrawlEvent(msg.Event)
	}

	switch msg.Event {
	case natsbus.EventCrawlCompleted:
		url := payloadString(msg.Payload, "url")
		outcome := "completed"
		if safe, ok := msg.Payload["safe"].(bool); ok && !safe {
			outcome = "unsafe"
		}
		r.saveCrawl(&store.CrawlRecord{
			URL:        url,
			Domain:     frontier.ExtractDomain(url),
			AgentID:    payloadString(msg.Payload, "agent_id"),
			Role:       payloadString(msg.Payload, "role"),
			Outcome:    outcome,
			RiskScore:  payloadFloat(msg.Payload, "risk_score"),
			Discovered: payloadInt(msg.Payload, "discovered"),
			DurationMs: int64(payloadFloat(msg.Payload, "duration_ms")),
		})
	case natsbus.EventCrawlFailed:
		url := payloadString(msg.Payload, "url")
		r.saveCrawl(&store.CrawlRecord{
			URL:     url,
			Domain:  frontier.ExtractDomain(url),
			AgentID: payloadString(msg.Payload, "agent_id"),
			Role:    payloadString(msg.Payload, "role"),
			Outcome: "failed",
			Reason:  payloadString(msg.Payload, "reason"),
		})
	}
	return nil
}

func (r *Recorder) onSafety(msg natsbus.Message) error {
	if r.metrics != nil {
		r.metrics.CountSafetyEvent(msg.Event)
	}

	switch msg.Event {
	case natsbus.EventSafetyAlert, natsbus.EventQuarantined, natsbus.EventQuarantineLifted:
		// Alerts carry the assessed risk; quarantine events carry the
		// agent's score at the time.
		score := payloadFloat(msg.Payload, "score")
		if msg.Event == natsbus.EventSafetyAlert {
			score = payloadFloat(msg.Payload, "risk_score")
		}
		r.saveSafety(&store.SafetyEvent{
			AgentID: payloadString(msg.Payload, "agent_id"),
			Event:   msg.Event,
			Reason:  payloadString(msg.Payload, "reason"),
			Score:   score,
			URL:     payloadString(msg.Payload, "url"),
		})
	}
	return nil
}

func (r *Recorder) saveCrawl(rec *store.CrawlRecord) {
	if err := r.store.SaveCrawlRecord(rec); err != nil {
		slog.Warn("crawl record not persisted", "url", rec.URL, "error", err)
	}
}

func (r *Recorder) saveSafety(e *store.SafetyEvent) {
	if err := r.store.SaveSafetyEvent(e); err != nil {
		slog.Warn("safety event not persisted", "agent", e.AgentID, "error", err)
	}
}

// Payload values come off the wire as JSON, so numbers arrive as float64.

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadFloat(p map[string]any, key string) float64 {
	f, _ := p[key].(float64)
	return f
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
