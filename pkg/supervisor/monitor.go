package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/signal"
	"github.com/jordigilh/robosafe/pkg/statemachine"
)

// visionCommSignals are the vision-subsystem signals whose watchdog timeout
// means the smart pipeline has lost its richest sensor: the cell drops to
// Fallback and trusts the safety PLC alone, with tightened margins.
var visionCommSignals = []string{"vision_presence", "vision_min_distance"}

// ruleEngineStallGrace is how long the rule engine's evaluation counter may
// sit still before the monitor concludes the fast path is dead. Generous
// against scheduling jitter: the engine normally advances every 10-100ms.
const ruleEngineStallGrace = time.Second

// RunFailSafeMonitor implements the partial-failure dispositions no single
// component can see on its own: loss of vision comms drops the cell to
// Fallback with tightened margins, and a stalled rule-engine evaluation loop
// commands a controlled stop before entering Fallback, since without the
// fast path nothing else meets the critical latency budget.
func (s *Supervisor) RunFailSafeMonitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastEval := s.Rules.Stats().EvalCount
	lastProgress := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkVisionComms()
			lastEval, lastProgress = s.checkRuleEngineLiveness(lastEval, lastProgress)
		}
	}
}

// checkVisionComms enters Fallback (and tightens the margin register to at
// least the configured safety margin) when any vision signal's quality has
// been demoted to Timeout by the store's watchdog.
func (s *Supervisor) checkVisionComms() {
	if s.Machine.CurrentState() == statemachine.Fallback {
		return
	}
	for _, id := range visionCommSignals {
		sig, ok := s.Store.Get(id)
		if !ok || sig.Quality != signal.Timeout {
			continue
		}
		s.log.Warn("vision_comm_lost", zap.String("signal_id", id))
		s.Machine.EnterFallback("vision_comm_lost")
		margin := s.Rules.Margin()
		margin.Set(max(margin.Percent(), s.cfg.Thresholds.SafetyMarginPercent))
		return
	}
}

// checkRuleEngineLiveness compares the engine's evaluation counter against
// the last observed value; if it has not advanced within the grace period,
// the monitor commands Stop and enters Fallback once.
func (s *Supervisor) checkRuleEngineLiveness(lastEval uint64, lastProgress time.Time) (uint64, time.Time) {
	current := s.Rules.Stats().EvalCount
	if current != lastEval {
		return current, time.Now()
	}
	if time.Since(lastProgress) < ruleEngineStallGrace {
		return lastEval, lastProgress
	}
	if s.Machine.CurrentState() != statemachine.Fallback {
		s.log.Error("rule_engine_stalled", zap.Uint64("eval_count", current))
		s.Machine.RequestStop("rule_engine_stalled", "")
		s.Machine.EnterFallback("rule_engine_stalled")
	}
	return lastEval, time.Now()
}
