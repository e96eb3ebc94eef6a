// Package notify pushes safety-channel events to a Telegram chat: content
// alerts, quarantines and quarantine lifts. Send failures are logged and
// dropped; the swarm never blocks on Telegram.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/natsbus"
)

const notifierID = "notifier"

// telegramMaxLen is Telegram's per-message character limit.
const telegramMaxLen = 4096

type Notifier struct {
	bot *telego.Bot
	bus *natsbus.Bus
	sub *natsbus.Subscription

	mu     sync.Mutex
	chatID int64
}

func New(cfg config.TelegramConfig, bus *natsbus.Bus) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token required")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, bus: bus, chatID: cfg.ChatID}, nil
}

// Start subscribes to the safety channel. Events arriving while no chat is
// configured are dropped.
func (n *Notifier) Start() error {
	sub, err := n.bus.Subscribe(notifierID, natsbus.ChannelPattern(natsbus.ChannelSafety), n.onSafety)
	if err != nil {
		return fmt.Errorf("subscribe safety: %w", err)
	}
	n.sub = sub
	slog.Info("safety notifier started", "chat", n.ChatID())
	return nil
}

func (n *Notifier) Stop() {
	if n.sub != nil {
		n.sub.Unsubscribe()
		n.sub = nil
	}
}

func (n *Notifier) ChatID() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chatID
}

// SetChatID retargets alerts; applied by config reload.
func (n *Notifier) SetChatID(id int64) {
	n.mu.Lock()
	n.chatID = id
	n.mu.Unlock()
	slog.Info("notifier chat updated", "chat", id)
}

func (n *Notifier) onSafety(msg natsbus.Message) error {
	text := formatSafetyEvent(msg)
	if text == "" {
		return nil
	}
	chatID := n.ChatID()
	if chatID == 0 {
		return nil
	}
	if err := n.send(context.Background(), chatID, text); err != nil {
		slog.Error("failed to send telegram alert", "chat", chatID, "error", err)
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, telegramMaxLen) {
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// formatSafetyEvent renders one safety event as a plain-text alert. Empty
// for event types the notifier does not announce.
func formatSafetyEvent(msg natsbus.Message) string {
	agent := stringField(msg.Payload, "agent_id")

	switch msg.Event {
	case natsbus.EventSafetyAlert:
		var b strings.Builder
		fmt.Fprintf(&b, "unsafe content reported by %s\n", agent)
		if url := stringField(msg.Payload, "url"); url != "" {
			b.WriteString(url)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "risk %.2f", floatField(msg.Payload, "risk_score"))
		if flags := flagList(msg.Payload); len(flags) > 0 {
			fmt.Fprintf(&b, ", flags: %s", strings.Join(flags, ", "))
		}
		return b.String()
	case natsbus.EventQuarantined:
		reason := stringField(msg.Payload, "reason")
		if reason == "" {
			reason = "unspecified"
		}
		return fmt.Sprintf("agent %s quarantined: %s (score %.2f)",
			agent, reason, floatField(msg.Payload, "score"))
	case natsbus.EventQuarantineLifted:
		return fmt.Sprintf("agent %s released from quarantine (score %.2f)",
			agent, floatField(msg.Payload, "score"))
	}
	return ""
}

func stringField(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func floatField(p map[string]any, key string) float64 {
	f, _ := p[key].(float64)
	return f
}

// flagList handles both in-process ([]string) and off-the-wire ([]any)
// payload shapes.
func flagList(p map[string]any) []string {
	switch v := p["flags"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// chunkMessage splits text into pieces below Telegram's size limit,
// preferring newline boundaries in the back half of each chunk.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}
