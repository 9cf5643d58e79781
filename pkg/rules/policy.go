package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/jordigilh/robosafe/pkg/shared/logging"
)

// PolicyRule is a declarative rule whose predicate is a compiled Rego query
// evaluated against the signal snapshot, marshaled to map[string]interface{}.
// Operators can add or tune a rule without a binary rebuild. Restricted to
// P2 and below: no Rego on the P0/P1 critical latency path.
type PolicyRule struct {
	ID              string
	Name            string
	Priority        Priority
	Query           rego.PreparedEvalQuery
	Actions         []Action
	Enabled         bool
	Cooldown        time.Duration
	RequiredSignals []string

	lastTriggered time.Time
}

// CompilePolicy prepares a Rego query from source for use as a PolicyRule
// predicate. The query is expected to produce a single boolean result
// bound to "result" (e.g. `result := input.vision_min_distance < 800`).
func CompilePolicy(ctx context.Context, module, query string) (rego.PreparedEvalQuery, error) {
	r := rego.New(
		rego.Query(query),
		rego.Module("policy.rego", module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("rules: compiling policy: %w", err)
	}
	return prepared, nil
}

// Evaluate runs the compiled query against the snapshot's flattened signal
// map and returns whether "result" evaluated to true.
func (p *PolicyRule) Evaluate(ctx context.Context, snapshot Snapshot) (bool, error) {
	rs, err := p.Query.Eval(ctx, rego.EvalInput(snapshot.AsMap()))
	if err != nil {
		return false, fmt.Errorf("rules: evaluating policy %s: %w", p.ID, err)
	}
	if len(rs) == 0 || len(rs[0].Bindings) == 0 {
		return false, nil
	}
	val, ok := rs[0].Bindings["result"]
	if !ok {
		return false, nil
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("rules: policy %s query did not bind a boolean result", p.ID)
	}
	return b, nil
}

func (e *Engine) evaluatePolicy(p *PolicyRule, snapshot Snapshot) Result {
	start := time.Now()
	result := Result{RuleID: p.ID, Timestamp: start}

	if !p.Enabled {
		return result
	}
	if p.Cooldown > 0 && !p.lastTriggered.IsZero() && start.Sub(p.lastTriggered) < p.Cooldown {
		return result
	}

	ctx := context.Background()
	triggered, err := p.Evaluate(ctx, snapshot)
	if err != nil {
		e.mu.Lock()
		e.errorCount++
		e.mu.Unlock()
		result.Error = err
		e.log.Error("policy_evaluation_error", logging.RuleFields(p.ID, p.Priority.String()).Error(err).Zap()...)
		result.ExecutionTime = time.Since(start)
		return result
	}

	result.Triggered = triggered
	if triggered {
		p.lastTriggered = start
		e.mu.Lock()
		e.triggerCount++
		e.mu.Unlock()
		for _, action := range p.Actions {
			e.executeAction(p.ID, action)
			result.ActionsExecuted = append(result.ActionsExecuted, action.Kind)
		}
		e.notifyTriggered(result)
	}
	result.ExecutionTime = time.Since(start)
	return result
}
