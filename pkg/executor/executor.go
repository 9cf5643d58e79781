// Package executor implements the Executor contract: the pluggable action
// registry Orchestration dispatches through, the three
// default LOG/ALERT/NONE implementations, and a circuit-breaker
// wrapper so an externally-registered executor that starts failing
// repeatedly degrades to simulated success instead of retry-storming.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/decision"
)

// Func performs one recommended action and reports whether it succeeded.
// Implementations must be safe to call concurrently; Orchestration wraps
// every call in its own per-action timeout, but a Func should still
// respect ctx cancellation rather than relying on that alone.
type Func func(ctx context.Context, rec decision.Recommendation) (bool, error)

// Registry is the concurrency-safe action -> Func dispatch table
// Orchestration consults to pick an executor for an ActionType.
type Registry struct {
	mu    sync.RWMutex
	funcs map[decision.ActionType]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[decision.ActionType]Func)}
}

// Register installs (or replaces) the Func used for action.
func (r *Registry) Register(action decision.ActionType, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[action] = fn
}

// Get returns the Func registered for action, if any.
func (r *Registry) Get(action decision.ActionType) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[action]
	return fn, ok
}

// IsRegistered reports whether action has an executor.
func (r *Registry) IsRegistered(action decision.ActionType) bool {
	_, ok := r.Get(action)
	return ok
}

// RegisteredActions lists every action currently dispatchable.
func (r *Registry) RegisteredActions() []decision.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]decision.ActionType, 0, len(r.funcs))
	for a := range r.funcs {
		out = append(out, a)
	}
	return out
}

// NewDefaultRegistry builds a Registry with the three non-motion default
// executors wired. Motion-changing actions (SLOW_50/SLOW_25/STOP/ESTOP) are
// deliberately left unregistered: Orchestration's driveStateMachine
// fallback handles those directly against the safety state machine, since a
// real typed Machine should never need to be "simulated" by a no-op
// executor.
func NewDefaultRegistry(b *bus.Bus, name string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := NewRegistry()
	r.Register(decision.ActionLog, func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		log.Info("action_log", zap.String("reason", rec.Reason))
		return true, nil
	})
	r.Register(decision.ActionAlert, func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		msg := bus.NewMessage("operator_alert", map[string]any{"alert": rec.Reason, "level": "WARNING"})
		msg.Priority = bus.PriorityHigh
		b.PublishFrom(name, msg)
		return true, nil
	})
	r.Register(decision.ActionNone, func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		return true, nil
	})
	return r
}

// BreakerConfig tunes Supervise's circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig trips after 3 consecutive failures and probes again
// after a 10s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxRequests: 1, Interval: 30 * time.Second, Timeout: 10 * time.Second, FailureThreshold: 3}
}

// Supervise wraps fn in a circuit breaker keyed by name. Once the breaker
// trips, calls short-circuit to a simulated success rather than invoking fn
// again, so a wedged external integration (a Slack webhook, a PLC command
// channel) degrades gracefully instead of retry-storming every
// orchestration cycle.
func Supervise(name string, fn Func, cfg BreakerConfig) Func {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})
	return func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		result, err := cb.Execute(func() (interface{}, error) {
			ok, ferr := fn(ctx, rec)
			if ferr != nil {
				return ok, ferr
			}
			if !ok {
				return ok, errors.New("executor reported failure")
			}
			return ok, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return true, nil
			}
			return false, err
		}
		return result.(bool), nil
	}
}
