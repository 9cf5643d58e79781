// Package orchestration implements the Orchestration agent: it arbitrates
// among outstanding Recommendations, executes the winner
// through a registered Executor, sweeps in-flight executions for timeout,
// maintains a bounded audit trail, and periodically broadcasts system state.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/decision"
	"github.com/jordigilh/robosafe/pkg/executor"
	"github.com/jordigilh/robosafe/pkg/shared/ring"
	"github.com/jordigilh/robosafe/pkg/statemachine"
)

// Instrumentation uses the process-global OTel providers: no-ops unless the
// deployment installs a real tracer/meter provider at startup.
var (
	tracer = otel.Tracer("github.com/jordigilh/robosafe/pkg/orchestration")
	meter  = otel.Meter("github.com/jordigilh/robosafe/pkg/orchestration")
)

// Message types Orchestration publishes.
const (
	MsgExecutionResult = "execution_result"
	MsgOperatorAlert   = "operator_alert"
	MsgSystemState     = "system_state"
	MsgAuditLog        = "audit_log"
)

// ExecutionStatus is the lifecycle state of one executed action.
type ExecutionStatus int

const (
	StatusPending ExecutionStatus = iota
	StatusApproved
	StatusExecuting
	StatusSuccess
	StatusFailed
	StatusCancelled
	StatusTimeout
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusApproved:
		return "APPROVED"
	case StatusExecuting:
		return "EXECUTING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "PENDING"
	}
}

// ExecutionRecord tracks one dispatched action from start to completion.
type ExecutionRecord struct {
	ID               string
	RecommendationID string
	Action           decision.ActionType
	Status           ExecutionStatus
	StartedAt        time.Time
	CompletedAt      time.Time
	Completed        bool
	Result           string
	OperatorID       string
}

// AuditEntry is one line of the in-memory (and optionally externally mirrored)
// audit trail.
type AuditEntry struct {
	Timestamp time.Time
	EventType string
	Message   string
	Details   map[string]any
}

// SystemState is the periodic broadcast snapshot.
type SystemState struct {
	CurrentAction    decision.ActionType
	SafetyState      string
	LastActionTime   time.Time
	ActiveExecutions int
	ActionsExecuted  uint64
	ActionsFailed    uint64
	Timestamp        time.Time
}

// Executor is an alias for executor.Func, kept local so call sites that
// predate pkg/executor's extraction don't need to change.
type Executor = executor.Func

// Config controls Orchestration's cadence, timeouts, and audit retention.
type Config struct {
	CycleInterval       time.Duration
	ActionTimeout       time.Duration
	MaxAuditEntries     int
	ExecutionRetention  time.Duration
}

// DefaultConfig: 50ms cadence (20Hz), 5s
// per-action timeout, a 10000-entry audit tail, 5-minute execution retention.
func DefaultConfig() Config {
	return Config{
		CycleInterval:      50 * time.Millisecond,
		ActionTimeout:      5 * time.Second,
		MaxAuditEntries:    10000,
		ExecutionRetention: 5 * time.Minute,
	}
}

// Agent is the Orchestration component: the final arbiter between
// Decision's recommendations and the equipment/state-machine it commands.
type Agent struct {
	b       *bus.Bus
	name    string
	cfg     Config
	log     *zap.Logger
	machine *statemachine.Machine

	inbox *bus.Inbox

	mu         sync.Mutex
	pending    []decision.Recommendation
	executions map[string]*ExecutionRecord
	executors  *executor.Registry
	audit      *ring.Buffer[AuditEntry]

	currentAction  decision.ActionType
	lastActionTime time.Time

	executionCounter metric.Int64Counter

	actionsExecuted uint64
	actionsFailed   uint64
	escalations     uint64
}

// New constructs an Orchestration agent. machine may be nil if the
// deployment has no safety state machine to drive (tests exercising pure
// arbitration); in that case state-changing default executors simulate
// success without touching any state.
func New(b *bus.Bus, machine *statemachine.Machine, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultConfig().CycleInterval
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if cfg.MaxAuditEntries <= 0 {
		cfg.MaxAuditEntries = DefaultConfig().MaxAuditEntries
	}
	if cfg.ExecutionRetention <= 0 {
		cfg.ExecutionRetention = DefaultConfig().ExecutionRetention
	}
	a := &Agent{
		b:          b,
		name:       "orchestrator",
		cfg:        cfg,
		log:        logger,
		machine:    machine,
		executions: make(map[string]*ExecutionRecord),
		executors:  executor.NewDefaultRegistry(b, "orchestrator", logger),
		audit:      ring.New[AuditEntry](cfg.MaxAuditEntries),
	}
	a.executionCounter, _ = meter.Int64Counter("robosafe.orchestration.executions",
		metric.WithDescription("Actions executed by the orchestrator, by action and status"))
	a.inbox = b.Register(a.name, 0)
	a.logAudit("system_start", "Orchestrator started", nil)
	return a
}

// RegisterExecutor installs (or replaces) the Executor used for action,
// wrapped in a circuit breaker (pkg/executor.Supervise) so a deployment's
// external integration degrades to simulated success instead of
// retry-storming once it starts failing repeatedly.
func (a *Agent) RegisterExecutor(action decision.ActionType, ex Executor) {
	supervised := executor.Supervise(action.String(), ex, executor.DefaultBreakerConfig())
	a.executors.Register(action, supervised)
	a.log.Info("executor_registered", zap.String("action", action.String()))
}

// Run processes inbound recommendations/operator commands and drives the
// arbitrate -> execute -> sweep -> broadcast cycle at cfg.CycleInterval
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one orchestration cycle synchronously; exported so tests (and a
// virtual-clock driven scenario harness) can step deterministically.
func (a *Agent) Tick(ctx context.Context) {
	for _, msg := range a.inbox.Drain(20) {
		a.handle(ctx, msg)
	}

	a.mu.Lock()
	selected, ok := a.arbitrate()
	a.mu.Unlock()
	if ok {
		a.executeAction(ctx, selected)
	}

	a.checkActiveExecutions()
	a.broadcastSystemState()
}

func (a *Agent) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case decision.MsgRecommendation:
		rec, ok := msg.Payload["recommendation"].(decision.Recommendation)
		if !ok {
			return
		}
		rec.ReceivedAt = time.Now()
		a.mu.Lock()
		a.pending = append(a.pending, rec)
		a.mu.Unlock()
	case "operator_command":
		a.handleOperatorCommand(ctx, msg)
	}
}

func (a *Agent) handleOperatorCommand(ctx context.Context, msg bus.Message) {
	operatorID, _ := msg.Payload["operator_id"].(string)
	if operatorID == "" {
		operatorID = "unknown"
	}
	reason, _ := msg.Payload["reason"].(string)

	// RESET and NORMAL are ramp-back requests against the state machine, not
	// interventions an executor performs; the transition table still decides
	// whether the current state permits them.
	if cmd, ok := msg.Payload["command"].(string); ok && (cmd == "RESET" || cmd == "NORMAL") {
		accepted := false
		if a.machine != nil {
			if cmd == "RESET" {
				accepted = a.machine.RequestRecovery("operator " + operatorID)
			} else {
				accepted = a.machine.RequestNormal("operator " + operatorID)
			}
		}
		a.logAudit("operator_command", fmt.Sprintf("Operator %s: %s", operatorID, cmd), map[string]any{
			"command": cmd, "operator": operatorID, "reason": reason, "accepted": accepted,
		})
		return
	}

	action, _ := msg.Payload["action"].(decision.ActionType)

	a.logAudit("operator_command", fmt.Sprintf("Operator %s: %s", operatorID, action), map[string]any{
		"action": action.String(), "operator": operatorID, "reason": reason,
	})

	rec := decision.Recommendation{
		ID:          "OP-" + uuid.NewString()[:8],
		Action:      action,
		Urgency:     decision.UrgencyImmediate,
		Reason:      "operator command: " + reason,
		RiskScore:   100,
		Confidence:  1.0,
		AutoExecute: true,
		Source:      decision.SourceOperator,
		OperatorID:  operatorID,
		ReceivedAt:  time.Now(),
		Timestamp:   time.Now(),
	}
	a.executeAction(ctx, rec)
}

// arbitrate sorts pending recommendations by urgency desc, risk score desc,
// received-at asc, and returns the winner, clearing the queue. Caller must hold a.mu.
func (a *Agent) arbitrate() (decision.Recommendation, bool) {
	if len(a.pending) == 0 {
		return decision.Recommendation{}, false
	}
	recs := a.pending
	a.pending = nil

	best := recs[0]
	for _, r := range recs[1:] {
		if betterRecommendation(r, best) {
			best = r
		}
	}
	a.log.Info("recommendation_selected", zap.String("action", best.Action.String()), zap.String("reason", best.Reason))
	return best, true
}

// betterRecommendation reports whether candidate should be preferred over
// current under the arbitration ordering: urgency desc, then risk score
// desc, then earlier received_at.
func betterRecommendation(candidate, current decision.Recommendation) bool {
	if candidate.Urgency != current.Urgency {
		return candidate.Urgency > current.Urgency
	}
	if candidate.RiskScore != current.RiskScore {
		return candidate.RiskScore > current.RiskScore
	}
	return candidate.ReceivedAt.Before(current.ReceivedAt)
}

func (a *Agent) executeAction(ctx context.Context, rec decision.Recommendation) {
	ctx, span := tracer.Start(ctx, "orchestration.execute_action", trace.WithAttributes(
		attribute.String("action", rec.Action.String()),
		attribute.String("recommendation_id", rec.ID),
	))
	defer span.End()

	execID := "EXEC-" + uuid.NewString()[:8]
	record := &ExecutionRecord{
		ID:               execID,
		RecommendationID: rec.ID,
		Action:           rec.Action,
		Status:           StatusExecuting,
		StartedAt:        time.Now(),
		OperatorID:       rec.OperatorID,
	}

	a.mu.Lock()
	a.executions[execID] = record
	fn, hasExecutor := a.executors.Get(rec.Action)
	if !hasExecutor {
		fn = a.driveStateMachine
	}
	a.mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, a.cfg.ActionTimeout)
	defer cancel()

	success, err := a.runExecutor(execCtx, fn, rec)

	a.mu.Lock()
	if err != nil {
		record.Status = StatusFailed
		record.Result = err.Error()
		a.actionsFailed++
		span.RecordError(err)
		a.log.Error("execution_error", zap.String("action", rec.Action.String()), zap.Error(err))
	} else if success {
		record.Status = StatusSuccess
		record.Result = "action executed successfully"
		a.actionsExecuted++
	} else {
		record.Status = StatusFailed
		record.Result = "execution failed"
		a.actionsFailed++
	}
	record.CompletedAt = time.Now()
	record.Completed = true
	a.currentAction = rec.Action
	a.lastActionTime = time.Now()
	a.mu.Unlock()

	a.executionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", rec.Action.String()),
		attribute.String("status", record.Status.String()),
	))

	a.logAudit("action_executed", fmt.Sprintf("Action %s: %s", rec.Action, record.Status), map[string]any{
		"exec_id":           execID,
		"recommendation_id": rec.ID,
		"action":            rec.Action.String(),
		"status":            record.Status.String(),
		"duration_ms":        record.CompletedAt.Sub(record.StartedAt).Milliseconds(),
	})

	msg := bus.NewMessage(MsgExecutionResult, map[string]any{"record": *record})
	msg.Priority = bus.PriorityHigh
	a.b.PublishFrom(a.name, msg)
}

// runExecutor invokes fn, recovering a panic as a failed execution so one
// broken executor can never wedge the orchestration cycle.
func (a *Agent) runExecutor(ctx context.Context, fn Executor, rec decision.Recommendation) (success bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			success, err = false, fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return fn(ctx, rec)
}

// driveStateMachine is the fallback executor for the four motion-changing
// actions when no deployment-specific Executor has been registered: it
// applies the corresponding SafetyStateMachine transition directly.
func (a *Agent) driveStateMachine(ctx context.Context, rec decision.Recommendation) (bool, error) {
	if a.machine == nil {
		return true, nil // no machine wired: simulate success (tests, pure arbitration)
	}
	switch rec.Action {
	case decision.ActionSlow50:
		return a.machine.RequestSlow(50, "orchestration", rec.ID), nil
	case decision.ActionSlow25:
		return a.machine.RequestSlow(25, "orchestration", rec.ID), nil
	case decision.ActionStop:
		return a.machine.RequestStop("orchestration", rec.ID), nil
	case decision.ActionEStop:
		return a.machine.RequestEStop("orchestration", rec.ID), nil
	default:
		return true, nil
	}
}

// checkActiveExecutions marks any still-EXECUTING record older than
// ActionTimeout as TIMEOUT, then evicts completed records past
// ExecutionRetention.
func (a *Agent) checkActiveExecutions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for execID, record := range a.executions {
		if record.Status == StatusExecuting && now.Sub(record.StartedAt) > a.cfg.ActionTimeout {
			record.Status = StatusTimeout
			record.CompletedAt = now
			record.Completed = true
			record.Result = "execution timed out"
			a.logAuditLocked("execution_timeout", fmt.Sprintf("Action %s timed out", record.Action), map[string]any{"exec_id": execID})
		}
	}
	cutoff := now.Add(-a.cfg.ExecutionRetention)
	for execID, record := range a.executions {
		if record.Completed && record.CompletedAt.Before(cutoff) {
			delete(a.executions, execID)
		}
	}
}

func (a *Agent) broadcastSystemState() {
	a.mu.Lock()
	state := SystemState{
		CurrentAction:    a.currentAction,
		LastActionTime:   a.lastActionTime,
		ActiveExecutions: len(a.executions),
		ActionsExecuted:  a.actionsExecuted,
		ActionsFailed:    a.actionsFailed,
		Timestamp:        time.Now(),
	}
	a.mu.Unlock()
	if a.machine != nil {
		state.SafetyState = a.machine.CurrentState().String()
	} else {
		state.SafetyState = "UNKNOWN"
	}

	msg := bus.NewMessage(MsgSystemState, map[string]any{"state": state})
	msg.Priority = bus.PriorityNormal
	a.b.PublishFrom(a.name, msg)
}

func (a *Agent) logAudit(eventType, message string, details map[string]any) {
	a.mu.Lock()
	a.logAuditLocked(eventType, message, details)
	a.mu.Unlock()
}

// logAuditLocked appends an audit entry and broadcasts it. Caller must hold a.mu.
func (a *Agent) logAuditLocked(eventType, message string, details map[string]any) {
	entry := AuditEntry{Timestamp: time.Now(), EventType: eventType, Message: message, Details: details}
	a.audit.Push(entry)

	msg := bus.NewMessage(MsgAuditLog, map[string]any{"entry": entry})
	msg.Priority = bus.PriorityLow
	a.b.PublishFrom(a.name, msg)
}

// AuditLog returns up to limit of the most recent audit entries, oldest
// first, optionally filtered to a single eventType.
func (a *Agent) AuditLog(limit int, eventType string) []AuditEntry {
	all := a.audit.Snapshot()
	if eventType != "" {
		filtered := all[:0]
		for _, e := range all {
			if e.EventType == eventType {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// ExecutionHistory returns a snapshot of currently tracked executions.
func (a *Agent) ExecutionHistory() []ExecutionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ExecutionRecord, 0, len(a.executions))
	for _, r := range a.executions {
		out = append(out, *r)
	}
	return out
}

// Stats summarizes Orchestration activity for diagnostics.
type Stats struct {
	ActionsExecuted uint64
	ActionsFailed   uint64
	Escalations     uint64
}

// Stats reports current agent counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{ActionsExecuted: a.actionsExecuted, ActionsFailed: a.actionsFailed, Escalations: a.escalations}
}
