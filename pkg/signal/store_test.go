package signal

import (
	"context"
	"testing"
	"time"
)

func testDef(id string, timeout time.Duration) Definition {
	return Definition{
		ID:          id,
		Name:        id,
		Source:      SourceScanner,
		DataType:    KindInt,
		FrequencyHz: 10,
		Timeout:     timeout,
		Min:         ptr(0),
		Max:         ptr(8000),
		FailSafe:    0,
		Critical:    true,
	}
}

func TestRegister_InitialValueIsFailSafeUnknown(t *testing.T) {
	s := New(nil)
	if err := s.Register(testDef("d1", time.Second)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	sig, ok := s.Get("d1")
	if !ok {
		t.Fatal("Get() did not find registered signal")
	}
	if sig.Quality != Unknown {
		t.Errorf("initial quality = %v, want Unknown", sig.Quality)
	}
	if sig.Value != 0 {
		t.Errorf("initial value = %v, want fail-safe 0", sig.Value)
	}
}

func TestRegister_IdempotentOnIdenticalContent(t *testing.T) {
	s := New(nil)
	def := testDef("d1", time.Second)
	if err := s.Register(def); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := s.Register(def); err != nil {
		t.Fatalf("re-Register() with identical content should be a no-op, got error = %v", err)
	}
}

func TestRegister_RejectsChangedDefinition(t *testing.T) {
	s := New(nil)
	def := testDef("d1", time.Second)
	if err := s.Register(def); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	changed := def
	changed.Timeout = 2 * time.Second
	if err := s.Register(changed); err == nil {
		t.Error("re-Register() with different content should be rejected (frozen definition)")
	}
}

func TestRegister_ValidationRejectsBadDefinition(t *testing.T) {
	s := New(nil)
	bad := Definition{ID: "d1", Name: "d1", Source: SourceScanner, FrequencyHz: 0, Timeout: time.Second}
	if err := s.Register(bad); err == nil {
		t.Error("Register() with FrequencyHz=0 should fail validation")
	}
}

func TestUpdate_UnknownIDDropped(t *testing.T) {
	s := New(nil)
	if err := s.Update("nonexistent", 5, Good, time.Now()); err == nil {
		t.Error("Update() on unknown id should return an error")
	}
	if s.Stats().UnknownIDCount != 1 {
		t.Errorf("UnknownIDCount = %d, want 1", s.Stats().UnknownIDCount)
	}
}

func TestUpdate_OutOfRangeDemotesToDegraded(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	if err := s.Update("d1", 9000, Good, time.Now()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	sig, _ := s.Get("d1")
	if sig.Quality != Degraded {
		t.Errorf("quality = %v, want Degraded for out-of-range value", sig.Quality)
	}
}

func TestValueOrFailSafe(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	_ = s.Update("d1", 300, Good, time.Now())
	v, ok := s.ValueOrFailSafe("d1")
	if !ok || v != 300 {
		t.Errorf("ValueOrFailSafe() = (%v, %v), want (300, true)", v, ok)
	}

	_ = s.Update("d1", 300, Bad, time.Now())
	v, ok = s.ValueOrFailSafe("d1")
	if !ok || v != 0 {
		t.Errorf("ValueOrFailSafe() on Bad quality = (%v, %v), want fail-safe (0, true)", v, ok)
	}
}

func TestBatchUpdate(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	_ = s.Register(testDef("d2", time.Second))
	n := s.BatchUpdate(map[string]any{"d1": 1, "d2": 2, "unknown": 3}, Good)
	if n != 2 {
		t.Errorf("BatchUpdate() = %d, want 2", n)
	}
}

func TestSubscribe_DeliversUpdates(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	received := make(chan Signal, 1)
	s.Subscribe("d1", func(sig Signal) { received <- sig })
	_ = s.Update("d1", 42, Good, time.Now())

	select {
	case sig := <-received:
		if sig.Value != 42 {
			t.Errorf("delivered value = %v, want 42", sig.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive update")
	}
}

func TestSubscribe_PanicDoesNotBlockOthers(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	received := make(chan struct{}, 1)
	s.Subscribe("d1", func(Signal) { panic("boom") })
	s.Subscribe("d1", func(Signal) { received <- struct{}{} })

	if err := s.Update("d1", 1, Good, time.Now()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("second subscriber was not invoked after first panicked")
	}
}

func TestSubscribeAll(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	_ = s.Register(testDef("d2", time.Second))
	count := 0
	done := make(chan struct{}, 2)
	s.SubscribeAll(func(Signal) { count++; done <- struct{}{} })
	_ = s.Update("d1", 1, Good, time.Now())
	_ = s.Update("d2", 2, Good, time.Now())
	<-done
	<-done
	if count != 2 {
		t.Errorf("global subscriber invocation count = %d, want 2", count)
	}
}

func TestWatchdog_DemotesToTimeoutAndAppliesFailSafe(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", 20*time.Millisecond))
	_ = s.Update("d1", 500, Good, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	go s.RunWatchdog(ctx, 10*time.Millisecond)
	<-ctx.Done()

	sig, _ := s.Get("d1")
	if sig.Quality != Timeout {
		t.Errorf("quality after watchdog = %v, want Timeout", sig.Quality)
	}
	if sig.Value != 0 {
		t.Errorf("value after watchdog timeout = %v, want fail-safe 0", sig.Value)
	}
}

func TestWatchdog_NeverLowersBadToTimeout(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", 20*time.Millisecond))
	_ = s.Update("d1", 500, Bad, time.Now())

	s.checkTimeouts()
	time.Sleep(30 * time.Millisecond)
	s.checkTimeouts()

	sig, _ := s.Get("d1")
	if sig.Quality != Bad {
		t.Errorf("quality = %v, want Bad to be kept (worse than Timeout)", sig.Quality)
	}
}

func TestWatchdog_EmitsQualityAlertForCriticalSignal(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", 10*time.Millisecond))
	_ = s.Update("d1", 500, Good, time.Now())
	time.Sleep(20 * time.Millisecond)
	s.checkTimeouts()

	select {
	case alert := <-s.QualityAlerts():
		if alert.SignalID != "d1" {
			t.Errorf("alert.SignalID = %q, want d1", alert.SignalID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a quality alert for a critical signal timeout")
	}
}

func TestStats(t *testing.T) {
	s := New(nil)
	_ = s.Register(testDef("d1", time.Second))
	_ = s.Update("d1", 1, Good, time.Now())
	stats := s.Stats()
	if stats.TotalSignals != 1 || stats.ValidSignals != 1 || stats.UpdateCount != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWeldingCellSignals_RegisterCleanly(t *testing.T) {
	s := New(nil)
	defs := WeldingCellSignals()
	if len(defs) == 0 {
		t.Fatal("WeldingCellSignals() returned no definitions")
	}
	if err := s.RegisterBatch(defs); err != nil {
		t.Fatalf("RegisterBatch() error = %v", err)
	}
	if _, ok := s.Get("scanner_min_distance"); !ok {
		t.Error("expected scanner_min_distance to be registered")
	}
}
