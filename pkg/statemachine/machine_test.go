package statemachine

import "testing"

func TestNew_StartsAtInitialState(t *testing.T) {
	m := New(Init, 10, nil)
	if m.CurrentState() != Init {
		t.Errorf("CurrentState() = %v, want Init", m.CurrentState())
	}
	if _, ok := m.PreviousState(); ok {
		t.Error("PreviousState() should report false before any transition")
	}
}

func TestTransitionTo_SameStateIsNoOp(t *testing.T) {
	m := New(Normal, 10, nil)
	if ok := m.TransitionTo(Normal, "noop", "", nil, false); !ok {
		t.Error("transitioning to the same state should return true")
	}
	if len(m.History()) != 0 {
		t.Error("same-state transition should not append to history")
	}
}

func TestTransitionTo_RejectsIllegalTransition(t *testing.T) {
	m := New(EStop, 10, nil)
	if ok := m.TransitionTo(Normal, "bad", "", nil, false); ok {
		t.Error("EStop -> Normal should be rejected (only Recovery is legal)")
	}
	if m.CurrentState() != EStop {
		t.Errorf("CurrentState() after rejected transition = %v, want EStop unchanged", m.CurrentState())
	}
}

func TestTransitionTo_AllowsLegalTransition(t *testing.T) {
	m := New(Normal, 10, nil)
	if ok := m.TransitionTo(Slow50, "scanner warn", "RS-010", nil, false); !ok {
		t.Fatal("Normal -> Slow50 should be legal")
	}
	if m.CurrentState() != Slow50 {
		t.Errorf("CurrentState() = %v, want Slow50", m.CurrentState())
	}
	prev, ok := m.PreviousState()
	if !ok || prev != Normal {
		t.Errorf("PreviousState() = (%v, %v), want (Normal, true)", prev, ok)
	}
}

func TestRequestEStop_AlwaysSucceedsEvenFromIllegalSource(t *testing.T) {
	m := New(Recovery, 10, nil)
	if ok := m.RequestEStop("hazard", "RS-001"); !ok {
		t.Fatal("RequestEStop should always succeed")
	}
	if m.CurrentState() != EStop {
		t.Errorf("CurrentState() = %v, want EStop", m.CurrentState())
	}
}

func TestEnterFallback_AlwaysSucceeds(t *testing.T) {
	m := New(EStop, 10, nil)
	if ok := m.EnterFallback(""); !ok {
		t.Fatal("EnterFallback should always succeed, even from EStop")
	}
	if m.CurrentState() != Fallback {
		t.Errorf("CurrentState() = %v, want Fallback", m.CurrentState())
	}
}

func TestEStop_OnlyAllowsRecovery(t *testing.T) {
	m := New(EStop, 10, nil)
	for _, target := range []SafetyState{Normal, Warning, Slow50, Slow25, Stop, Fallback} {
		if m.CanTransitionTo(target) {
			t.Errorf("EStop -> %v should not be legal", target)
		}
	}
	if ok := m.RequestRecovery(""); !ok {
		t.Error("EStop -> Recovery should be legal")
	}
}

func TestRequestSlow_PicksTargetBySpeed(t *testing.T) {
	m := New(Normal, 10, nil)
	m.RequestSlow(25, "t", "")
	if m.CurrentState() != Slow25 {
		t.Errorf("RequestSlow(25) -> %v, want Slow25", m.CurrentState())
	}
	m2 := New(Normal, 10, nil)
	m2.RequestSlow(50, "t", "")
	if m2.CurrentState() != Slow50 {
		t.Errorf("RequestSlow(50) -> %v, want Slow50", m2.CurrentState())
	}
}

func TestBlockReset_PreventsLeavingStopOrEStop(t *testing.T) {
	m := New(Stop, 10, nil)
	m.SetBlockReset(true)
	if ok := m.RequestRecovery(""); ok {
		t.Error("Recovery from Stop should be blocked while BlockReset is set")
	}
	m.SetBlockReset(false)
	if ok := m.RequestRecovery(""); !ok {
		t.Error("Recovery from Stop should succeed once BlockReset is cleared")
	}
}

func TestBlockReset_DoesNotPreventForcedEscapes(t *testing.T) {
	m := New(Stop, 10, nil)
	m.SetBlockReset(true)
	if ok := m.RequestEStop("hazard", ""); !ok {
		t.Error("forced EStop must bypass BlockReset")
	}
}

func TestHistory_BoundedByMaxHistory(t *testing.T) {
	m := New(Normal, 2, nil)
	m.TransitionTo(Warning, "a", "", nil, false)
	m.TransitionTo(Normal, "b", "", nil, false)
	m.TransitionTo(Warning, "c", "", nil, false)
	history := m.History()
	if len(history) != 2 {
		t.Fatalf("History() len = %d, want 2 (bounded)", len(history))
	}
	if history[0].Trigger != "b" {
		t.Errorf("oldest retained transition trigger = %q, want %q", history[0].Trigger, "b")
	}
}

func TestOnTransition_CallbackInvokedAndPanicRecovered(t *testing.T) {
	m := New(Normal, 10, nil)
	called := make(chan struct{}, 1)
	m.OnTransition(func(Transition) { panic("boom") })
	m.OnTransition(func(t Transition) { called <- struct{}{} })

	if ok := m.TransitionTo(Warning, "t", "", nil, false); !ok {
		t.Fatal("transition should succeed despite a panicking callback")
	}
	select {
	case <-called:
	default:
		t.Error("second callback should still have been invoked")
	}
}

func TestMaxSpeedPercentMonotoneNonIncreasing(t *testing.T) {
	ladder := []SafetyState{Normal, Warning, Slow50, Slow25, Stop}
	for i := 1; i < len(ladder); i++ {
		if ladder[i].MaxSpeedPercent() > ladder[i-1].MaxSpeedPercent() {
			t.Errorf("%v.MaxSpeedPercent()=%d > %v.MaxSpeedPercent()=%d, want non-increasing",
				ladder[i], ladder[i].MaxSpeedPercent(), ladder[i-1], ladder[i-1].MaxSpeedPercent())
		}
	}
}

func TestAllowsProduction(t *testing.T) {
	production := []SafetyState{Normal, Warning, Slow50, Slow25}
	for _, s := range production {
		if !s.AllowsProduction() {
			t.Errorf("%v.AllowsProduction() = false, want true", s)
		}
	}
	nonProduction := []SafetyState{Init, Stop, EStop, Recovery, Fallback}
	for _, s := range nonProduction {
		if s.AllowsProduction() {
			t.Errorf("%v.AllowsProduction() = true, want false", s)
		}
	}
}

func TestGetStatus(t *testing.T) {
	m := New(Normal, 10, nil)
	m.TransitionTo(Slow50, "t", "", nil, false)
	status := m.GetStatus()
	if status.CurrentState != Slow50 || status.MaxSpeedPercent != 50 {
		t.Errorf("GetStatus() = %+v", status)
	}
	if status.TransitionCount != 1 {
		t.Errorf("TransitionCount = %d, want 1", status.TransitionCount)
	}
}
