// Package insight generates a short, advisory-only natural-language
// narrative over Orchestration's recent audit trail. It sits entirely
// outside the fast and smart decision paths: a
// Narrator only ever reads audit history and broadcasts a "narrative"
// message for an operator dashboard to display. A slow or failing call to
// the model is logged and dropped, never retried synchronously and never
// capable of delaying or blocking an action.
package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/orchestration"
	robohttp "github.com/jordigilh/robosafe/pkg/shared/http"
)

// MsgNarrative is the message type a Narrator broadcasts.
const MsgNarrative = "narrative"

// AuditSource is the slice of orchestration.Agent a Narrator depends on;
// accepting the interface rather than *orchestration.Agent keeps this
// package testable without constructing a full orchestration stack.
type AuditSource interface {
	AuditLog(limit int, eventType string) []orchestration.AuditEntry
}

// Config controls the model, cadence, and history window a Narrator reads.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	Interval       time.Duration
	RequestTimeout time.Duration
	HistoryLimit   int
}

// DefaultConfig narrates once a minute over the last 20 audit entries, using
// a small/cheap Claude model since the narrative is advisory, not safety
// critical.
func DefaultConfig() Config {
	return Config{
		Model:          "claude-3-5-haiku-20241022",
		MaxTokens:      256,
		Interval:       60 * time.Second,
		RequestTimeout: 10 * time.Second,
		HistoryLimit:   20,
	}
}

// Narrator periodically summarizes recent audit activity and broadcasts the
// result; it never gates or delays a decision.
type Narrator struct {
	client anthropic.Client
	cfg    Config
	source AuditSource
	b      *bus.Bus
	name   string
	log    *zap.Logger
}

// New constructs a Narrator. cfg zero-values are filled from DefaultConfig.
func New(cfg Config, source AuditSource, b *bus.Bus, logger *zap.Logger) *Narrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = d.HistoryLimit
	}

	return &Narrator{
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(robohttp.NewClient(robohttp.LLMClientConfig(cfg.RequestTimeout))),
		),
		cfg:    cfg,
		source: source,
		b:      b,
		name:   "insight",
		log:    logger,
	}
}

// Run narrates at cfg.Interval until ctx is cancelled.
func (n *Narrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.narrateOnce(ctx)
		}
	}
}

// narrateOnce builds a prompt from the most recent audit entries, asks the
// model for a short narrative, and broadcasts it. Any failure is logged and
// swallowed: insight has no caller relying on its result.
func (n *Narrator) narrateOnce(ctx context.Context) {
	entries := n.source.AuditLog(n.cfg.HistoryLimit, "")
	if len(entries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(n.cfg.Model),
		MaxTokens: n.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: "You are an advisory narrator for an industrial robot cell safety supervisor. " +
				"Summarize the recent audit entries in two or three plain sentences for an operator. " +
				"Never suggest a specific safety action; you are read-only advisory commentary."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(entries))),
		},
	}

	message, err := n.client.Messages.New(ctx, params)
	if err != nil {
		n.log.Warn("insight_narrate_failed", zap.Error(err))
		return
	}

	text := extractText(message)
	if text == "" {
		return
	}

	msg := bus.NewMessage(MsgNarrative, map[string]any{
		"narrative":   text,
		"entry_count": len(entries),
	})
	msg.Priority = bus.PriorityLow
	n.b.PublishFrom(n.name, msg)
}

func buildPrompt(entries []orchestration.AuditEntry) string {
	var sb strings.Builder
	sb.WriteString("Recent audit entries, oldest first:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", e.Timestamp.Format(time.RFC3339), e.EventType, e.Message)
	}
	return sb.String()
}

func extractText(message *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
