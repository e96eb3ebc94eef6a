package natsbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subscription is the capability handed back by Subscribe. Unsubscribe stops
// delivery; it is safe to call more than once.
type Subscription struct {
	bus     *Bus
	agentID string
	pattern string
	sub     *nats.Subscription
}

func (s *Subscription) Unsubscribe() {
	_ = s.sub.Unsubscribe()
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}

// Stats is a snapshot of the bus counters. Agents lists the distinct agent
// ids holding at least one active subscription, sorted.
type Stats struct {
	Published     uint64            `json:"published"`
	Delivered     uint64            `json:"delivered"`
	HandlerErrors uint64            `json:"handler_errors"`
	PerChannel    map[string]uint64 `json:"per_channel"`
	Agents        []string          `json:"agents"`
}

// Publish assigns the message its id, per-fromAgent sequence (starting at 1)
// and timestamp, then sends it on scbe.crawl.<channel>.<event>. The sequence
// counter and the transport write happen under one lock so per-publisher
// ordering holds on the wire as well as in the sequence field.
func (b *Bus) Publish(fromAgent, channel, event string, payload map[string]any, opts *PublishOptions) (*Message, error) {
	if fromAgent == "" {
		return nil, fmt.Errorf("publish: from agent required")
	}
	if !validToken(channel) {
		return nil, fmt.Errorf("publish: invalid channel %q", channel)
	}
	if !validToken(event) {
		return nil, fmt.Errorf("publish: invalid event %q", event)
	}

	msg := Message{
		ID:        uuid.NewString(),
		FromAgent: fromAgent,
		Channel:   channel,
		Event:     event,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now().UTC(),
	}
	if opts != nil {
		msg.ToAgent = opts.ToAgent
		msg.CorrelationID = opts.CorrelationID
		if opts.Priority != "" {
			msg.Priority = opts.Priority
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seqs[fromAgent]++
	msg.Sequence = b.seqs[fromAgent]

	data, err := json.Marshal(msg)
	if err != nil {
		b.seqs[fromAgent]--
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if err := b.conn.Publish(BuildTopic(channel, event), data); err != nil {
		b.seqs[fromAgent]--
		return nil, fmt.Errorf("publish: %w", err)
	}

	b.published++
	b.perChannel[channel]++
	return &msg, nil
}

// Subscribe registers a handler for every message matching the pattern.
// Each subscription gets its own bounded pending queue on the transport, so
// a slow handler falls behind alone instead of stalling publishers.
// Broadcasts never reach the publishing agent's own subscriptions; messages
// with a target agent reach only that agent's.
func (b *Bus) Subscribe(agentID, pattern string, handler Handler) (*Subscription, error) {
	if agentID == "" {
		return nil, fmt.Errorf("subscribe: agent id required")
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe: handler required")
	}
	subject, ok := subjectFor(pattern)
	if !ok {
		return nil, fmt.Errorf("subscribe: invalid pattern %q", pattern)
	}

	s := &Subscription{bus: b, agentID: agentID, pattern: pattern}
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		b.dispatch(s, m, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := sub.SetPendingLimits(b.pendingMsgs, b.pendingBytes); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("set pending limits: %w", err)
	}
	s.sub = sub

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *Bus) dispatch(s *Subscription, m *nats.Msg, handler Handler) {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		slog.Warn("bus: dropping undecodable message", "subject", m.Subject, "error", err)
		return
	}
	if !TopicMatches(m.Subject, s.pattern) {
		return
	}
	if msg.ToAgent != "" {
		if msg.ToAgent != s.agentID {
			return
		}
	} else if msg.FromAgent == s.agentID {
		return
	}

	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()

	if err := handler(msg); err != nil {
		b.mu.Lock()
		b.handlerErrors++
		b.mu.Unlock()
		slog.Warn("bus: subscriber handler failed",
			"agent", s.agentID, "topic", m.Subject, "error", err)
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	perChannel := make(map[string]uint64, len(b.perChannel))
	for ch, n := range b.perChannel {
		perChannel[ch] = n
	}

	seen := make(map[string]struct{}, len(b.subs))
	for s := range b.subs {
		seen[s.agentID] = struct{}{}
	}
	agents := make([]string, 0, len(seen))
	for id := range seen {
		agents = append(agents, id)
	}
	sort.Strings(agents)

	return Stats{
		Published:     b.published,
		Delivered:     b.delivered,
		HandlerErrors: b.handlerErrors,
		PerChannel:    perChannel,
		Agents:        agents,
	}
}

// Reset drops every subscription and clears counters and sequence state.
// The bus stays usable; Close tears it down.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		_ = s.sub.Unsubscribe()
	}
	b.subs = make(map[*Subscription]struct{})
	b.seqs = make(map[string]uint64)
	b.published = 0
	b.delivered = 0
	b.handlerErrors = 0
	b.perChannel = make(map[string]uint64)
}
