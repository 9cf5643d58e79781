// Package rules implements the RuleEngine fast path: priority-ordered
// predicate evaluation against a signal snapshot, driving the safety state
// machine with deterministic latency.
package rules

import (
	"time"

	"github.com/jordigilh/robosafe/pkg/signal"
)

// Priority is the rule evaluation order, P0 first. Lower values are
// evaluated first and carry the tighter latency budget.
type Priority int

const (
	P0Critical Priority = iota
	P1High
	P2Medium
	P3Low
	P4Diagnostic
)

// MaxLatency returns the maximum end-to-end latency this priority's rules
// must meet.
func (p Priority) MaxLatency() time.Duration {
	switch p {
	case P0Critical:
		return 100 * time.Millisecond
	case P1High:
		return 500 * time.Millisecond
	case P2Medium:
		return time.Second
	case P3Low:
		return 5 * time.Second
	default: // P4Diagnostic
		return 10 * time.Second
	}
}

func (p Priority) String() string {
	switch p {
	case P0Critical:
		return "P0"
	case P1High:
		return "P1"
	case P2Medium:
		return "P2"
	case P3Low:
		return "P3"
	default:
		return "P4"
	}
}

// AllPriorities lists priorities in evaluation order.
var AllPriorities = []Priority{P0Critical, P1High, P2Medium, P3Low, P4Diagnostic}

// ActionKind is the tagged-union discriminant for RuleAction.
type ActionKind int

const (
	ActionEStop ActionKind = iota
	ActionStopCat1
	ActionSlow
	ActionAlert
	ActionLog
	ActionSetDegraded
	ActionBlockReset
	ActionIncreaseMargin
)

func (k ActionKind) String() string {
	switch k {
	case ActionEStop:
		return "EStop"
	case ActionStopCat1:
		return "StopCat1"
	case ActionSlow:
		return "Slow"
	case ActionAlert:
		return "Alert"
	case ActionLog:
		return "Log"
	case ActionSetDegraded:
		return "SetDegraded"
	case ActionBlockReset:
		return "BlockReset"
	case ActionIncreaseMargin:
		return "IncreaseMargin"
	default:
		return "Unknown"
	}
}

// Action is a tagged union: EStop | StopCat1 |
// Slow(percent) | Alert(target, message) | Log(payload) |
// SetDegraded(subsystem) | BlockReset | IncreaseMargin(percent).
type Action struct {
	Kind    ActionKind
	Percent int            // Slow, IncreaseMargin
	Target  string         // Alert, SetDegraded (subsystem name)
	Message string         // Alert
	Payload map[string]any // Log
}

func EStop() Action                       { return Action{Kind: ActionEStop} }
func StopCat1() Action                    { return Action{Kind: ActionStopCat1} }
func Slow(percent int) Action             { return Action{Kind: ActionSlow, Percent: percent} }
func Alert(target, message string) Action { return Action{Kind: ActionAlert, Target: target, Message: message} }
func Log(payload map[string]any) Action   { return Action{Kind: ActionLog, Payload: payload} }
func SetDegraded(subsystem string) Action { return Action{Kind: ActionSetDegraded, Target: subsystem} }
func BlockReset() Action                  { return Action{Kind: ActionBlockReset} }
func IncreaseMargin(percent int) Action   { return Action{Kind: ActionIncreaseMargin, Percent: percent} }

// Snapshot is a point-in-time, read-only view of the signal store passed to
// rule predicates, per Design Note "dynamic predicate dispatch": a typed
// accessor layer instead of a raw map threaded through business logic.
type Snapshot struct {
	values map[string]signal.Signal
}

// NewSnapshot builds a Snapshot from a signal store's current state.
func NewSnapshot(values map[string]signal.Signal) Snapshot {
	return Snapshot{values: values}
}

// Has reports whether id was present in the snapshot.
func (s Snapshot) Has(id string) bool {
	_, ok := s.values[id]
	return ok
}

// Raw returns the raw observed value for id (not fail-safe substituted),
// and whether the id was present. Predicates that need to distinguish
// "value absent" from "value is zero" should use this.
func (s Snapshot) Raw(id string) (any, bool) {
	sig, ok := s.values[id]
	if !ok {
		return nil, false
	}
	return sig.Value, true
}

// Quality returns id's quality, or signal.Unknown if absent.
func (s Snapshot) Quality(id string) signal.Quality {
	sig, ok := s.values[id]
	if !ok {
		return signal.Unknown
	}
	return sig.Quality
}

// IsValid reports whether id is present with a trustworthy quality (Good or
// Degraded). A signal that was never observed, timed out, or went bad is not
// valid, even though its fail-safe value is still readable.
func (s Snapshot) IsValid(id string) bool {
	sig, ok := s.values[id]
	return ok && sig.IsValid()
}

// Bool returns id's value as a bool, or def if absent/wrong type.
func (s Snapshot) Bool(id string, def bool) bool {
	v, ok := s.Raw(id)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Int returns id's value as an int, or def if absent/wrong type.
func (s Snapshot) Int(id string, def int) int {
	v, ok := s.Raw(id)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// Float returns id's value as a float64, or def if absent/wrong type.
func (s Snapshot) Float(id string, def float64) float64 {
	v, ok := s.Raw(id)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// String returns id's value as a string, or def if absent/wrong type.
func (s Snapshot) String(id string, def string) string {
	v, ok := s.Raw(id)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// AsMap flattens the snapshot to a plain map for PolicyRule (Rego) evaluation.
func (s Snapshot) AsMap() map[string]any {
	out := make(map[string]any, len(s.values))
	for id, sig := range s.values {
		out[id] = sig.Value
	}
	return out
}

// Predicate is a rule's trigger condition, a closure over a typed snapshot.
type Predicate func(Snapshot) bool

// Rule is a single intervention rule.
type Rule struct {
	ID              string
	Name            string
	Priority        Priority
	Condition       Predicate
	Actions         []Action
	Description     string
	Enabled         bool
	Cooldown        time.Duration
	RequiredSignals []string

	lastTriggered time.Time
	triggerCount  int
}

// CanTrigger reports whether the rule's cooldown has elapsed.
func (r *Rule) CanTrigger(now time.Time) bool {
	if r.Cooldown <= 0 || r.lastTriggered.IsZero() {
		return true
	}
	return now.Sub(r.lastTriggered) >= r.Cooldown
}

// MarkTriggered records a trigger at now.
func (r *Rule) MarkTriggered(now time.Time) {
	r.lastTriggered = now
	r.triggerCount++
}

// TriggerCount returns how many times the rule has fired.
func (r *Rule) TriggerCount() int {
	return r.triggerCount
}

// Result is a single rule's evaluation outcome for one cycle.
type Result struct {
	RuleID          string
	Triggered       bool
	Timestamp       time.Time
	ActionsExecuted []ActionKind
	ExecutionTime   time.Duration
	Error           error
}
