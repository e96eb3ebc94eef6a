package natsbus

import "time"

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Message is the envelope carried on every bus topic. It is immutable once
// published; subscribers receive their own decoded copy.
type Message struct {
	ID            string         `json:"id"`
	FromAgent     string         `json:"from_agent"`
	ToAgent       string         `json:"to_agent,omitempty"`
	Channel       string         `json:"channel"`
	Event         string         `json:"event"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      Priority       `json:"priority"`
	Sequence      uint64         `json:"sequence"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PublishOptions carries the optional publish fields. ToAgent restricts
// delivery to subscriptions registered under that agent id.
type PublishOptions struct {
	ToAgent       string
	Priority      Priority
	CorrelationID string
}

// Handler consumes a delivered message. A returned error is logged and
// counted; it never reaches the publisher.
type Handler func(Message) error
