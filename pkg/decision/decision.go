// Package decision implements the Decision agent: it turns Analysis's
// risk updates into bounded ActionRecommendations for
// Orchestration, applying a fixed threshold ladder, a minimum-confidence
// gate, and per-(action, category) cooldown suppression.
package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/analysis"
	"github.com/jordigilh/robosafe/pkg/bus"
)

// MsgRecommendation is the message type Decision publishes to Orchestration.
const MsgRecommendation = "action_recommendation"

// ActionType is a candidate safety response, ordered from least to most
// severe so numeric comparison (action >= ActionStop) is meaningful.
type ActionType int

const (
	ActionNone ActionType = iota
	ActionLog
	ActionAlert
	ActionSlow50
	ActionSlow25
	ActionStop
	ActionEStop
)

func (a ActionType) String() string {
	switch a {
	case ActionLog:
		return "LOG"
	case ActionAlert:
		return "ALERT"
	case ActionSlow50:
		return "SLOW_50"
	case ActionSlow25:
		return "SLOW_25"
	case ActionStop:
		return "STOP"
	case ActionEStop:
		return "ESTOP"
	default:
		return "NONE"
	}
}

// Urgency drives the bus priority a recommendation is sent with.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyHigh
	UrgencyImmediate
)

func (u Urgency) String() string {
	switch u {
	case UrgencyNormal:
		return "NORMAL"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyImmediate:
		return "IMMEDIATE"
	default:
		return "LOW"
	}
}

func (u Urgency) busPriority() bus.Priority {
	switch u {
	case UrgencyNormal:
		return bus.PriorityNormal
	case UrgencyHigh:
		return bus.PriorityHigh
	case UrgencyImmediate:
		return bus.PriorityCritical
	default:
		return bus.PriorityLow
	}
}

// Source identifies who originated a Recommendation: the Decision agent's
// own risk-driven evaluation, or an operator command synthesized directly by
// Orchestration.
type Source int

const (
	SourceDecisionAgent Source = iota
	SourceOperator
)

func (s Source) String() string {
	if s == SourceOperator {
		return "OPERATOR"
	}
	return "DECISION_AGENT"
}

// Recommendation is a single candidate intervention handed to Orchestration,
// which arbitrates among all currently outstanding recommendations.
type Recommendation struct {
	ID                   string
	Action               ActionType
	Urgency              Urgency
	Reason               string
	RiskCategory         string
	RiskScore            float64
	Confidence           float64
	Timestamp            time.Time
	SuppressionDurationS float64
	RequiresAck          bool
	AutoExecute          bool
	Source               Source
	ReceivedAt           time.Time
	OperatorID           string
}

// Config controls Decision's cadence, threshold ladder, and cooldown.
type Config struct {
	CycleInterval time.Duration

	ThresholdAlert  float64
	ThresholdSlow50 float64
	ThresholdSlow25 float64
	ThresholdStop   float64
	ThresholdEStop  float64

	MinConfidence      float64
	ActionCooldown     time.Duration
	AutoExecuteEnabled bool
}

// DefaultConfig is the standard decision matrix: threshold ladder, 0.7
// confidence floor, 2s cooldown.
func DefaultConfig() Config {
	return Config{
		CycleInterval:      100 * time.Millisecond,
		ThresholdAlert:     25,
		ThresholdSlow50:    50,
		ThresholdSlow25:    65,
		ThresholdStop:      80,
		ThresholdEStop:     95,
		MinConfidence:      0.7,
		ActionCooldown:     2 * time.Second,
		AutoExecuteEnabled: true,
	}
}

// Agent is the Decision component.
type Agent struct {
	b    *bus.Bus
	name string
	cfg  Config
	log  *zap.Logger

	inbox *bus.Inbox

	mu            sync.Mutex
	latest        analysis.RiskUpdate
	haveRisk      bool
	actionHistory map[string]time.Time
	active        []Recommendation
	nextID        uint64

	decisionsMade      uint64
	actionsRecommended uint64
}

// New constructs a Decision agent reading RiskUpdates from and publishing
// Recommendations to b.
func New(b *bus.Bus, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultConfig().CycleInterval
	}
	a := &Agent{
		b:             b,
		name:          "decision",
		cfg:           cfg,
		log:           logger,
		actionHistory: make(map[string]time.Time),
	}
	a.inbox = b.Register(a.name, 0)
	return a
}

// Run processes inbound RiskUpdates and runs a decision cycle at
// cfg.CycleInterval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, msg := range a.inbox.Drain(10) {
				a.handle(msg)
			}
			a.cycle()
		}
	}
}

func (a *Agent) handle(msg bus.Message) {
	if msg.Type != analysis.MsgRiskUpdate {
		return
	}
	update, ok := msg.Payload["update"].(analysis.RiskUpdate)
	if !ok {
		return
	}
	a.mu.Lock()
	a.latest = update
	a.haveRisk = true
	a.mu.Unlock()
}

func (a *Agent) cycle() {
	a.mu.Lock()
	if !a.haveRisk {
		a.mu.Unlock()
		return
	}
	a.cleanupOldRecommendations()

	rec, ok := a.evaluateAndRecommend()
	a.decisionsMade++
	if !ok {
		a.mu.Unlock()
		return
	}

	if !a.checkCooldown(rec) {
		a.mu.Unlock()
		return
	}
	a.active = append(a.active, rec)
	a.actionsRecommended++
	a.mu.Unlock()

	msg := bus.NewMessage(MsgRecommendation, map[string]any{"recommendation": rec})
	msg.Target = "orchestrator"
	msg.Priority = rec.Urgency.busPriority()
	a.b.PublishFrom(a.name, msg)

	a.log.Info("action_recommended",
		zap.String("action", rec.Action.String()),
		zap.String("reason", rec.Reason),
		zap.Float64("score", rec.RiskScore),
	)
}

// evaluateAndRecommend applies the confidence gate and threshold ladder to
// the latest global risk score. Caller must hold a.mu.
func (a *Agent) evaluateAndRecommend() (Recommendation, bool) {
	global := a.latest.Global
	if global.Confidence < a.cfg.MinConfidence {
		return Recommendation{}, false
	}

	action, urgency := a.determineAction(global.Score)
	if action == ActionNone {
		return Recommendation{}, false
	}

	dominant := a.findDominantRisk()
	a.nextID++

	return Recommendation{
		ID:                   fmt.Sprintf("REC-%05d", a.nextID),
		Action:               action,
		Urgency:              urgency,
		Reason:               a.formatReason(dominant, global.Factors),
		RiskCategory:         dominant,
		RiskScore:            global.Score,
		Confidence:           global.Confidence,
		Timestamp:            time.Now(),
		SuppressionDurationS: a.cfg.ActionCooldown.Seconds(),
		RequiresAck:          action >= ActionStop,
		AutoExecute:          a.canAutoExecute(action),
	}, true
}

// determineAction walks the threshold ladder from most to least severe.
func (a *Agent) determineAction(score float64) (ActionType, Urgency) {
	switch {
	case score >= a.cfg.ThresholdEStop:
		return ActionEStop, UrgencyImmediate
	case score >= a.cfg.ThresholdStop:
		return ActionStop, UrgencyImmediate
	case score >= a.cfg.ThresholdSlow25:
		return ActionSlow25, UrgencyHigh
	case score >= a.cfg.ThresholdSlow50:
		return ActionSlow50, UrgencyHigh
	case score >= a.cfg.ThresholdAlert:
		return ActionAlert, UrgencyNormal
	default:
		return ActionNone, UrgencyLow
	}
}

// findDominantRisk returns the category with the highest score. Caller must
// hold a.mu.
func (a *Agent) findDominantRisk() string {
	dominant := "unknown"
	maxScore := 0.0
	for category, risk := range a.latest.Categories {
		if risk.Score > maxScore {
			maxScore = risk.Score
			dominant = category
		}
	}
	return dominant
}

func (a *Agent) formatReason(dominant string, factors []string) string {
	parts := []string{fmt.Sprintf("elevated %s risk", dominant)}
	if len(factors) > 0 {
		n := len(factors)
		if n > 3 {
			n = 3
		}
		parts = append(parts, "factors: "+strings.Join(factors[:n], ", "))
	}
	if len(a.latest.Patterns) > 0 {
		n := len(a.latest.Patterns)
		if n > 2 {
			n = 2
		}
		types := make([]string, 0, n)
		for _, p := range a.latest.Patterns[:n] {
			types = append(types, p.Type)
		}
		parts = append(parts, "patterns: "+strings.Join(types, ", "))
	}
	return strings.Join(parts, ". ")
}

func (a *Agent) canAutoExecute(action ActionType) bool {
	if !a.cfg.AutoExecuteEnabled {
		return false
	}
	return action >= ActionSlow50
}

// checkCooldown reports whether an identical (action, category) pair may
// fire again, recording the time only when it may; a suppressed repeat
// leaves the recorded time unchanged. Caller must hold a.mu.
func (a *Agent) checkCooldown(rec Recommendation) bool {
	key := rec.Action.String() + "_" + rec.RiskCategory
	if last, ok := a.actionHistory[key]; ok {
		if time.Since(last) < a.cfg.ActionCooldown {
			return false
		}
	}
	a.actionHistory[key] = time.Now()
	return true
}

func (a *Agent) cleanupOldRecommendations() {
	cutoff := time.Now().Add(-30 * time.Second)
	kept := a.active[:0]
	for _, r := range a.active {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	a.active = kept
}

// ActiveRecommendations returns a snapshot of currently tracked
// recommendations (those issued within the last 30 seconds).
func (a *Agent) ActiveRecommendations() []Recommendation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Recommendation, len(a.active))
	copy(out, a.active)
	return out
}

// Stats summarizes Decision activity for diagnostics.
type Stats struct {
	DecisionsMade      uint64
	ActionsRecommended uint64
}

// Stats reports current agent counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{DecisionsMade: a.decisionsMade, ActionsRecommended: a.actionsRecommended}
}
