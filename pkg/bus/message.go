// Package bus implements the typed inter-component message bus connecting
// Perception, Analysis, Decision, and Orchestration: bounded
// per-agent inboxes, TTL expiry at dequeue, and concurrent broadcast fan-out.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Priority is a message's delivery priority, carried for diagnostics; the
// bus itself does not reorder by priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

const defaultTTL = 10 * time.Second

// Message is a single envelope exchanged between agents: an id, source,
// target (empty means broadcast), a type tag, a priority, an arbitrary
// payload, a creation timestamp, and a TTL.
type Message struct {
	ID           string
	Source       string
	Target       string // empty = broadcast
	Type         string
	Priority     Priority
	Payload      map[string]any
	CreatedAt    time.Time
	TTL          time.Duration
	RequiresAck  bool
}

// NewMessage constructs a Message with a generated id, CreatedAt set to now,
// and TTL defaulted to 10s if unset.
func NewMessage(msgType string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		CreatedAt: time.Now(),
		TTL:       defaultTTL,
	}
}

// IsExpired reports whether the message has outlived its TTL as of now.
func (m Message) IsExpired(now time.Time) bool {
	ttl := m.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return now.Sub(m.CreatedAt) > ttl
}
