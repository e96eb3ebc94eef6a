package natsbus

import (
	"fmt"
	"strings"
	"unicode"
)

// Topic scheme: scbe.crawl.<channel>.<event>, exactly four dot-separated
// segments. Subscriptions may use a per-channel wildcard
// (scbe.crawl.<channel>.*) or the global pattern "*".

const (
	topicPrefix = "scbe.crawl"

	// PatternAll matches every topic on the bus.
	PatternAll = "*"
)

// Channels.
const (
	ChannelDiscovery  = "discovery"
	ChannelSafety     = "safety"
	ChannelGovernance = "governance"
	ChannelLifecycle  = "lifecycle"
)

// Events.
const (
	EventSeedsAdded     = "seeds_added"
	EventTaskAssigned   = "task_assigned"
	EventCrawlCompleted = "crawl_completed"
	EventCrawlFailed    = "crawl_failed"
	EventDomainBlocked  = "domain_blocked"

	EventSafetyAlert      = "alert"
	EventQuarantined      = "quarantined"
	EventQuarantineLifted = "quarantine_lifted"

	EventSwitchRequested = "switch_requested"
	EventSwitchApplied   = "switch_applied"
	EventSwitchDenied    = "switch_denied"

	EventAgentRegistered = "agent_registered"
	EventAgentRemoved    = "agent_removed"
	EventScheduleFired   = "schedule_fired"
)

// BuildTopic joins a channel and event into a full topic string.
func BuildTopic(channel, event string) string {
	return fmt.Sprintf("%s.%s.%s", topicPrefix, channel, event)
}

// ChannelPattern returns the wildcard pattern matching every event on one
// channel.
func ChannelPattern(channel string) string {
	return fmt.Sprintf("%s.%s.*", topicPrefix, channel)
}

// ParseTopic splits a topic into its channel and event. ok is false when the
// string does not have exactly four dot-separated segments starting with the
// fixed prefix, or when the channel or event segment is empty.
func ParseTopic(topic string) (channel, event string, ok bool) {
	parts := strings.Split(topic, ".")
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[0] != "scbe" || parts[1] != "crawl" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// TopicMatches reports whether a concrete topic matches a subscription
// pattern: exact topic, per-channel wildcard, or the global "*".
func TopicMatches(topic, pattern string) bool {
	channel, _, ok := ParseTopic(topic)
	if !ok {
		return false
	}
	if pattern == PatternAll || pattern == topic {
		return true
	}
	return pattern == ChannelPattern(channel)
}

// validToken accepts the channel/event segments allowed at publish time:
// non-empty ASCII without separators or NATS wildcards.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || r <= ' ' {
			return false
		}
		switch r {
		case '.', '*', '>':
			return false
		}
	}
	return true
}

// subjectFor translates a subscription pattern into the NATS subject it
// rides on. The global pattern maps to a prefix-scoped ">" subject; exact
// topics and channel wildcards map onto themselves.
func subjectFor(pattern string) (string, bool) {
	if pattern == PatternAll {
		return topicPrefix + ".>", true
	}
	channel, event, ok := ParseTopic(pattern)
	if !ok {
		return "", false
	}
	if !validToken(channel) {
		return "", false
	}
	if event == "*" {
		return pattern, true
	}
	if !validToken(event) {
		return "", false
	}
	return pattern, true
}
