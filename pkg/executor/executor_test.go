package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/decision"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if r.IsRegistered(decision.ActionLog) {
		t.Fatal("empty registry must report nothing registered")
	}
	r.Register(decision.ActionLog, func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		return true, nil
	})
	if !r.IsRegistered(decision.ActionLog) {
		t.Error("expected ActionLog to be registered")
	}
	if len(r.RegisteredActions()) != 1 {
		t.Errorf("len(RegisteredActions) = %d, want 1", len(r.RegisteredActions()))
	}
}

func TestNewDefaultRegistry_WiresNonMotionActions(t *testing.T) {
	b := bus.New(nil)
	observer := b.Register("observer", 10)
	r := NewDefaultRegistry(b, "orchestrator", nil)

	for _, action := range []decision.ActionType{decision.ActionLog, decision.ActionAlert, decision.ActionNone} {
		if !r.IsRegistered(action) {
			t.Errorf("expected %v to be registered by default", action)
		}
	}
	for _, motion := range []decision.ActionType{decision.ActionSlow50, decision.ActionSlow25, decision.ActionStop, decision.ActionEStop} {
		if r.IsRegistered(motion) {
			t.Errorf("expected %v to be left unregistered for the state-machine fallback", motion)
		}
	}

	fn, _ := r.Get(decision.ActionAlert)
	ok, err := fn(context.Background(), decision.Recommendation{Reason: "test"})
	if err != nil || !ok {
		t.Fatalf("ALERT executor = %v, %v, want true, nil", ok, err)
	}
	if _, ok := observer.Receive(context.Background()); !ok {
		t.Error("expected ALERT executor to broadcast an operator_alert")
	}
}

func TestSupervise_TripsAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	failing := func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		calls++
		return false, errors.New("boom")
	}
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	supervised := Supervise("test", failing, cfg)

	for i := 0; i < 2; i++ {
		if ok, err := supervised(context.Background(), decision.Recommendation{}); ok || err == nil {
			t.Fatalf("call %d: expected failure to propagate before the breaker trips", i)
		}
	}

	// Breaker should now be open: the wrapped fn is not invoked again, and
	// the call degrades to a simulated success instead of retry-storming.
	ok, err := supervised(context.Background(), decision.Recommendation{})
	if err != nil || !ok {
		t.Errorf("tripped breaker call = %v, %v, want simulated success (true, nil)", ok, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (third call must short-circuit)", calls)
	}
}

func TestSupervise_PassesThroughSuccess(t *testing.T) {
	supervised := Supervise("ok", func(ctx context.Context, rec decision.Recommendation) (bool, error) {
		return true, nil
	}, DefaultBreakerConfig())
	ok, err := supervised(context.Background(), decision.Recommendation{})
	if err != nil || !ok {
		t.Errorf("got %v, %v, want true, nil", ok, err)
	}
}
