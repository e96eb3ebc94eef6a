package natsbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/scbe-labs/arachne/internal/config"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    -1, // random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func waitMsg(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestBuildAndParseTopic(t *testing.T) {
	topic := BuildTopic(ChannelDiscovery, EventTaskAssigned)
	if topic != "scbe.crawl.discovery.task_assigned" {
		t.Errorf("unexpected topic %q", topic)
	}

	channel, event, ok := ParseTopic(topic)
	if !ok {
		t.Fatal("expected topic to parse")
	}
	if channel != ChannelDiscovery || event != EventTaskAssigned {
		t.Errorf("got %s/%s", channel, event)
	}

	bad := []string{
		"scbe.crawl.discovery",
		"scbe.crawl.discovery.task.extra",
		"nats.crawl.discovery.task",
		"scbe.web.discovery.task",
		"scbe.crawl..task",
		"scbe.crawl.discovery.",
		"",
	}
	for _, topic := range bad {
		if _, _, ok := ParseTopic(topic); ok {
			t.Errorf("expected %q to be rejected", topic)
		}
	}
}

func TestTopicMatches(t *testing.T) {
	topic := BuildTopic(ChannelSafety, EventSafetyAlert)

	cases := []struct {
		pattern string
		want    bool
	}{
		{topic, true},
		{ChannelPattern(ChannelSafety), true},
		{PatternAll, true},
		{ChannelPattern(ChannelDiscovery), false},
		{BuildTopic(ChannelSafety, EventQuarantined), false},
		{"scbe.crawl.safety", false},
	}
	for _, tc := range cases {
		if got := TopicMatches(topic, tc.pattern); got != tc.want {
			t.Errorf("TopicMatches(%q, %q) = %v, want %v", topic, tc.pattern, got, tc.want)
		}
	}

	if TopicMatches("not.a.topic", PatternAll) {
		t.Error("global pattern must not match a malformed topic")
	}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan Message, 1)
	_, err := bus.Subscribe("watcher", ChannelPattern(ChannelDiscovery), func(msg Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	sent, err := bus.Publish("agent-1", ChannelDiscovery, EventTaskAssigned,
		map[string]any{"url": "https://a.com/"}, nil)
	if err != nil {
		t.Fatalf("publish error: %v", err)
	}
	bus.Flush()

	msg := waitMsg(t, received)
	if msg.ID != sent.ID {
		t.Errorf("expected id %s, got %s", sent.ID, msg.ID)
	}
	if msg.FromAgent != "agent-1" {
		t.Errorf("expected from agent-1, got %s", msg.FromAgent)
	}
	if msg.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", msg.Sequence)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("expected normal priority, got %s", msg.Priority)
	}
	if got := msg.Payload["url"]; got != "https://a.com/" {
		t.Errorf("payload did not round-trip, got %v", got)
	}
}

func TestGlobalWildcard(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan Message, 2)
	_, err := bus.Subscribe("watcher", PatternAll, func(msg Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if _, err := bus.Publish("agent-1", ChannelDiscovery, EventTaskAssigned, nil, nil); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if _, err := bus.Publish("agent-1", ChannelSafety, EventSafetyAlert, nil, nil); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	bus.Flush()

	first := waitMsg(t, received)
	second := waitMsg(t, received)
	if first.Channel != ChannelDiscovery || second.Channel != ChannelSafety {
		t.Errorf("got channels %s, %s", first.Channel, second.Channel)
	}
}

func TestPublisherExcludedFromBroadcast(t *testing.T) {
	bus := newTestBus(t)

	own := make(chan Message, 1)
	other := make(chan Message, 1)
	if _, err := bus.Subscribe("agent-1", ChannelPattern(ChannelDiscovery), func(msg Message) error {
		own <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	if _, err := bus.Subscribe("agent-2", ChannelPattern(ChannelDiscovery), func(msg Message) error {
		other <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if _, err := bus.Publish("agent-1", ChannelDiscovery, EventTaskAssigned, nil, nil); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	bus.Flush()

	waitMsg(t, other)
	select {
	case <-own:
		t.Fatal("publisher received its own broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDirectedDelivery(t *testing.T) {
	bus := newTestBus(t)

	target := make(chan Message, 1)
	bystander := make(chan Message, 1)
	if _, err := bus.Subscribe("agent-2", PatternAll, func(msg Message) error {
		target <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	if _, err := bus.Subscribe("agent-3", PatternAll, func(msg Message) error {
		bystander <- msg
		return nil
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	_, err := bus.Publish("agent-1", ChannelGovernance, EventSwitchRequested,
		map[string]any{"request": "r1"},
		&PublishOptions{ToAgent: "agent-2", Priority: PriorityHigh, CorrelationID: "corr-7"})
	if err != nil {
		t.Fatalf("publish error: %v", err)
	}
	bus.Flush()

	msg := waitMsg(t, target)
	if msg.ToAgent != "agent-2" {
		t.Errorf("expected to_agent agent-2, got %s", msg.ToAgent)
	}
	if msg.Priority != PriorityHigh {
		t.Errorf("expected high priority, got %s", msg.Priority)
	}
	if msg.CorrelationID != "corr-7" {
		t.Errorf("expected correlation corr-7, got %s", msg.CorrelationID)
	}

	select {
	case <-bystander:
		t.Fatal("directed message reached a bystander")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSequencesPerAgent(t *testing.T) {
	bus := newTestBus(t)

	for i := 1; i <= 3; i++ {
		msg, err := bus.Publish("agent-a", ChannelLifecycle, EventAgentRegistered, nil, nil)
		if err != nil {
			t.Fatalf("publish error: %v", err)
		}
		if msg.Sequence != uint64(i) {
			t.Errorf("expected sequence %d for agent-a, got %d", i, msg.Sequence)
		}
	}

	msg, err := bus.Publish("agent-b", ChannelLifecycle, EventAgentRegistered, nil, nil)
	if err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if msg.Sequence != 1 {
		t.Errorf("expected independent sequence 1 for agent-b, got %d", msg.Sequence)
	}
}

func TestPublishRejectsBadTokens(t *testing.T) {
	bus := newTestBus(t)

	cases := []struct {
		channel, event string
	}{
		{"", EventTaskAssigned},
		{"dis.covery", EventTaskAssigned},
		{ChannelDiscovery, ""},
		{ChannelDiscovery, "task assigned"},
		{ChannelDiscovery, "task*"},
		{ChannelDiscovery, "task>"},
	}
	for _, tc := range cases {
		if _, err := bus.Publish("agent-1", tc.channel, tc.event, nil, nil); err == nil {
			t.Errorf("expected rejection for channel=%q event=%q", tc.channel, tc.event)
		}
	}
	if _, err := bus.Publish("", ChannelDiscovery, EventTaskAssigned, nil, nil); err == nil {
		t.Error("expected rejection for empty from agent")
	}

	if stats := bus.Stats(); stats.Published != 0 {
		t.Errorf("rejected publishes must not count, got %d", stats.Published)
	}
}

func TestSubscribeRejectsBadPatterns(t *testing.T) {
	bus := newTestBus(t)

	bad := []string{
		"",
		"scbe.crawl.discovery",
		"scbe.crawl.>",
		"events.>",
		"scbe.crawl.*.task_assigned",
		"scbe.crawl.dis covery.*",
	}
	for _, pattern := range bad {
		if _, err := bus.Subscribe("agent-1", pattern, func(Message) error { return nil }); err == nil {
			t.Errorf("expected invalid pattern %q to be rejected", pattern)
		}
	}
}

func TestStatsAndReset(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan Message, 4)
	_, err := bus.Subscribe("watcher", PatternAll, func(msg Message) error {
		received <- msg
		return fmt.Errorf("handler boom")
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if _, err := bus.Publish("agent-1", ChannelDiscovery, EventTaskAssigned, nil, nil); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if _, err := bus.Publish("agent-1", ChannelSafety, EventSafetyAlert, nil, nil); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	bus.Flush()
	waitMsg(t, received)
	waitMsg(t, received)

	// Handler errors are counted asynchronously after delivery.
	deadline := time.After(2 * time.Second)
	for {
		stats := bus.Stats()
		if stats.Delivered == 2 && stats.HandlerErrors == 2 {
			if stats.Published != 2 {
				t.Errorf("expected 2 published, got %d", stats.Published)
			}
			if stats.PerChannel[ChannelDiscovery] != 1 || stats.PerChannel[ChannelSafety] != 1 {
				t.Errorf("unexpected per-channel counts %v", stats.PerChannel)
			}
			if len(stats.Agents) != 1 || stats.Agents[0] != "watcher" {
				t.Errorf("expected connected agent watcher, got %v", stats.Agents)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stats never settled: %+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}

	bus.Reset()

	stats := bus.Stats()
	if stats.Published != 0 || stats.Delivered != 0 || stats.HandlerErrors != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", stats)
	}
	if len(stats.Agents) != 0 {
		t.Errorf("expected no connected agents after reset, got %v", stats.Agents)
	}

	// Sequences restart and dropped subscriptions stay silent.
	msg, err := bus.Publish("agent-1", ChannelDiscovery, EventTaskAssigned, nil, nil)
	if err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if msg.Sequence != 1 {
		t.Errorf("expected sequence restart at 1, got %d", msg.Sequence)
	}
	bus.Flush()
	select {
	case <-received:
		t.Fatal("reset subscription still received a message")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan Message, 1)
	sub, err := bus.Subscribe("watcher", ChannelPattern(ChannelDiscovery), func(msg Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	sub.Unsubscribe()

	if _, err := bus.Publish("agent-1", ChannelDiscovery, EventTaskAssigned, nil, nil); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	bus.Flush()

	select {
	case <-received:
		t.Fatal("unsubscribed handler received a message")
	case <-time.After(200 * time.Millisecond):
	}

	if stats := bus.Stats(); len(stats.Agents) != 0 {
		t.Errorf("expected no connected agents, got %v", stats.Agents)
	}
}
