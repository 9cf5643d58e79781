package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/shared/logging"
	"github.com/jordigilh/robosafe/pkg/shared/ring"
	"github.com/jordigilh/robosafe/pkg/signal"
	"github.com/jordigilh/robosafe/pkg/statemachine"
)

const defaultResultHistory = 10000

// meter uses the process-global OTel provider: a no-op unless the deployment
// installs a real meter provider at startup.
var meter = otel.Meter("github.com/jordigilh/robosafe/pkg/rules")

// DegradedEvent is emitted by the SetDegraded action for the orchestration
// layer and notification sink to observe.
type DegradedEvent struct {
	Subsystem string
	RuleID    string
	Timestamp time.Time
}

// MarginRegister is the runtime-mutable safety margin, adjusted by the
// IncreaseMargin action, the supervisor's fail-safe monitor and the
// fsnotify-driven admin-file watch. Factor expresses it as a multiplier; no
// rule predicate or risk threshold in this module reads the register, so a
// change of margin does not alter any evaluation.
type MarginRegister struct {
	mu      sync.RWMutex
	percent int
}

// Percent returns the current margin percentage (0 = no adjustment).
func (m *MarginRegister) Percent() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.percent
}

// Factor returns the margin as a multiplicative factor, e.g. 30% -> 1.30.
func (m *MarginRegister) Factor() float64 {
	return 1.0 + float64(m.Percent())/100.0
}

// Set sets the margin percentage directly (used by the admin-file watch).
func (m *MarginRegister) Set(percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.percent = percent
}

// Increase adds percent to the current margin (used by the IncreaseMargin action).
func (m *MarginRegister) Increase(percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.percent += percent
}

// Engine evaluates rules at a fixed cadence in strict priority order,
// driving the state machine and producing an audited result history.
type Engine struct {
	store   *signal.Store
	machine *statemachine.Machine
	margin  *MarginRegister

	mu        sync.RWMutex
	rules     map[string]*Rule
	byPriority map[Priority][]*Rule
	policies  map[string]*PolicyRule

	results *ring.Buffer[Result]

	onTriggered []func(Result)
	onDegraded  []func(DegradedEvent)
	onAlert     []func(Action, string)

	evalCount    uint64
	triggerCount uint64
	errorCount   uint64

	cycleDuration  metric.Float64Histogram
	triggerCounter metric.Int64Counter

	log *zap.Logger
}

// New constructs an Engine bound to store and machine.
func New(store *signal.Store, machine *statemachine.Machine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:      store,
		machine:    machine,
		margin:     &MarginRegister{},
		rules:      make(map[string]*Rule),
		byPriority: make(map[Priority][]*Rule),
		policies:   make(map[string]*PolicyRule),
		results:    ring.New[Result](defaultResultHistory),
		log:        logger,
	}
	e.cycleDuration, _ = meter.Float64Histogram("robosafe.rules.cycle_duration",
		metric.WithDescription("Wall time of one full rule evaluation cycle"), metric.WithUnit("ms"))
	e.triggerCounter, _ = meter.Int64Counter("robosafe.rules.triggers",
		metric.WithDescription("Rule triggers, by rule id and priority"))
	return e
}

// Margin returns the engine's runtime-mutable margin register.
func (e *Engine) Margin() *MarginRegister { return e.margin }

// Register adds a rule to the engine.
func (e *Engine) Register(r *Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.ID] = r
	e.byPriority[r.Priority] = append(e.byPriority[r.Priority], r)
	e.log.Info("rule_registered", logging.RuleFields(r.ID, r.Priority.String()).Zap()...)
}

// RegisterAll registers multiple rules.
func (e *Engine) RegisterAll(rs []*Rule) {
	for _, r := range rs {
		e.Register(r)
	}
}

// RegisterPolicy adds a PolicyRule, restricted to P2 and below (no Rego on
// the P0/P1 critical latency path).
func (e *Engine) RegisterPolicy(p *PolicyRule) error {
	if p.Priority == P0Critical || p.Priority == P1High {
		return fmt.Errorf("rules: policy rule %s rejected: P0/P1 must use native Go predicates, not Rego", p.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.ID] = p
	e.log.Info("policy_rule_registered", logging.RuleFields(p.ID, p.Priority.String()).Zap()...)
	return nil
}

// Enable enables a rule by id, returning false if it is unknown.
func (e *Engine) Enable(id string) bool { return e.setEnabled(id, true) }

// Disable disables a rule by id, returning false if it is unknown.
func (e *Engine) Disable(id string) bool { return e.setEnabled(id, false) }

func (e *Engine) setEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return false
	}
	r.Enabled = enabled
	return true
}

// OnTriggered registers a callback invoked for every triggered rule result.
func (e *Engine) OnTriggered(cb func(Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTriggered = append(e.onTriggered, cb)
}

// OnDegraded registers a callback invoked when a SetDegraded action runs.
func (e *Engine) OnDegraded(cb func(DegradedEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDegraded = append(e.onDegraded, cb)
}

// OnAlert registers a callback invoked when an Alert action runs, receiving
// the action and the triggering rule id.
func (e *Engine) OnAlert(cb func(Action, string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAlert = append(e.onAlert, cb)
}

// History returns a snapshot of the rule-result history, oldest first.
func (e *Engine) History() []Result {
	return e.results.Snapshot()
}

// Stats summarizes engine activity.
type Stats struct {
	TotalRules    int
	EnabledRules  int
	EvalCount     uint64
	TriggerCount  uint64
	ErrorCount    uint64
}

// Stats reports current engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	enabled := 0
	for _, r := range e.rules {
		if r.Enabled {
			enabled++
		}
	}
	return Stats{
		TotalRules:   len(e.rules),
		EnabledRules: enabled,
		EvalCount:    e.evalCount,
		TriggerCount: e.triggerCount,
		ErrorCount:   e.errorCount,
	}
}

// EvaluateAll builds a snapshot and evaluates every rule in strict priority
// order P0->P4, native rules first within a priority, then policy rules.
// A P0/P1 trigger does not stop
// evaluation of lower priorities: their state-changing actions simply
// become no-ops once the state machine refuses a less conservative target.
func (e *Engine) EvaluateAll() []Result {
	cycleStart := time.Now()
	snapshot := NewSnapshot(e.store.All())

	e.mu.Lock()
	e.evalCount++
	var ordered []*Rule
	for _, p := range AllPriorities {
		ordered = append(ordered, e.byPriority[p]...)
	}
	policies := make([]*PolicyRule, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, p)
	}
	e.mu.Unlock()

	results := make([]Result, 0, len(ordered)+len(policies))
	for _, prio := range AllPriorities {
		for _, r := range ordered {
			if r.Priority == prio {
				results = append(results, e.evaluateRule(r, snapshot))
			}
		}
		for _, p := range policies {
			if p.Priority == prio {
				results = append(results, e.evaluatePolicy(p, snapshot))
			}
		}
	}

	for _, res := range results {
		e.results.Push(res)
	}
	e.cycleDuration.Record(context.Background(), float64(time.Since(cycleStart).Microseconds())/1000.0)
	return results
}

func (e *Engine) evaluateRule(r *Rule, snapshot Snapshot) Result {
	start := time.Now()
	result := Result{RuleID: r.ID, Timestamp: start}

	if !r.Enabled {
		return result
	}
	if !r.CanTrigger(start) {
		return result
	}

	triggered := e.safeEval(r, snapshot, &result)
	result.Triggered = triggered
	if triggered {
		r.MarkTriggered(start)
		e.mu.Lock()
		e.triggerCount++
		e.mu.Unlock()
		for _, action := range r.Actions {
			e.executeAction(r.ID, action)
			result.ActionsExecuted = append(result.ActionsExecuted, action.Kind)
		}
		e.notifyTriggered(result)
		e.triggerCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("rule_id", r.ID),
			attribute.String("priority", r.Priority.String()),
		))
		e.log.Info("rule_triggered", logging.RuleFields(r.ID, r.Priority.String()).Zap()...)
	}

	result.ExecutionTime = time.Since(start)
	return result
}

func (e *Engine) safeEval(r *Rule, snapshot Snapshot, result *Result) (triggered bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.mu.Lock()
			e.errorCount++
			e.mu.Unlock()
			result.Error = fmt.Errorf("rule %s predicate panicked: %v", r.ID, rec)
			e.log.Error("rule_evaluation_error", logging.RuleFields(r.ID, r.Priority.String()).Error(result.Error).Zap()...)
			triggered = false
		}
	}()
	return r.Condition(snapshot)
}

func (e *Engine) executeAction(ruleID string, action Action) {
	defer func() {
		if rec := recover(); rec != nil {
			e.mu.Lock()
			e.errorCount++
			e.mu.Unlock()
			e.log.Error("action_execution_error", logging.RuleFields(ruleID, "").Custom("action", action.Kind.String()).Custom("panic", rec).Zap()...)
		}
	}()

	trigger := fmt.Sprintf("Rule %s", ruleID)
	switch action.Kind {
	case ActionEStop:
		e.machine.RequestEStop(trigger, ruleID)
	case ActionStopCat1:
		e.machine.RequestStop(trigger, ruleID)
	case ActionSlow:
		e.machine.RequestSlow(action.Percent, trigger, ruleID)
	case ActionAlert:
		e.log.Warn("alert_triggered", logging.RuleFields(ruleID, "").Custom("target", action.Target).Custom("message", action.Message).Zap()...)
		e.notifyAlert(action, ruleID)
	case ActionLog:
		e.log.Info("rule_log", logging.RuleFields(ruleID, "").Custom("message", action.Message).Custom("data", action.Payload).Zap()...)
	case ActionSetDegraded:
		e.notifyDegraded(DegradedEvent{Subsystem: action.Target, RuleID: ruleID, Timestamp: time.Now()})
	case ActionBlockReset:
		e.machine.SetBlockReset(true)
	case ActionIncreaseMargin:
		e.margin.Increase(action.Percent)
	}
}

func (e *Engine) notifyTriggered(r Result) {
	e.mu.RLock()
	cbs := append([]func(Result){}, e.onTriggered...)
	e.mu.RUnlock()
	for _, cb := range cbs {
		e.safeInvoke(func() { cb(r) })
	}
}

func (e *Engine) notifyDegraded(ev DegradedEvent) {
	e.mu.RLock()
	cbs := append([]func(DegradedEvent){}, e.onDegraded...)
	e.mu.RUnlock()
	for _, cb := range cbs {
		e.safeInvoke(func() { cb(ev) })
	}
}

func (e *Engine) notifyAlert(action Action, ruleID string) {
	e.mu.RLock()
	cbs := append([]func(Action, string){}, e.onAlert...)
	e.mu.RUnlock()
	for _, cb := range cbs {
		e.safeInvoke(func() { cb(action, ruleID) })
	}
}

func (e *Engine) safeInvoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("callback_error", logging.NewFields().Custom("panic", rec).Zap()...)
		}
	}()
	fn()
}

// Run evaluates all rules at the given cadence until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.EvaluateAll()
		}
	}
}
