package rules

import (
	"context"
	"testing"
	"time"

	"github.com/jordigilh/robosafe/pkg/signal"
)

func registerReal(store *signal.Store, id string) {
	store.Register(signal.Definition{
		ID: id, Name: id, Source: signal.SourceWelding,
		DataType: signal.KindReal, FrequencyHz: 10, Timeout: time.Second,
	})
}

func TestCompilePolicy_TriggersOnBoundQuery(t *testing.T) {
	prepared, err := CompilePolicy(context.Background(), `
package policy.rego

result := input.vision_min_distance_mm < 800
`, "result = data.policy.rego.result")
	if err != nil {
		t.Fatalf("CompilePolicy: %v", err)
	}

	e, store, _ := newTestEngine()
	registerReal(store, "vision_min_distance_mm")
	store.UpdateNow("vision_min_distance_mm", 500.0)

	if err := e.RegisterPolicy(&PolicyRule{
		ID: "POLICY-1", Priority: P2Medium, Enabled: true,
		Query:   prepared,
		Actions: []Action{Log(nil)},
	}); err != nil {
		t.Fatalf("RegisterPolicy: %v", err)
	}

	results := e.EvaluateAll()
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if !results[0].Triggered {
		t.Error("policy rule should have triggered: distance 500 < 800")
	}
}

func TestCompilePolicy_DoesNotTriggerWhenFalse(t *testing.T) {
	prepared, err := CompilePolicy(context.Background(), `
package policy.rego

result := input.vision_min_distance_mm < 800
`, "result = data.policy.rego.result")
	if err != nil {
		t.Fatalf("CompilePolicy: %v", err)
	}

	e, store, _ := newTestEngine()
	registerReal(store, "vision_min_distance_mm")
	store.UpdateNow("vision_min_distance_mm", 2000.0)

	if err := e.RegisterPolicy(&PolicyRule{
		ID: "POLICY-2", Priority: P3Low, Enabled: true,
		Query:   prepared,
		Actions: []Action{Log(nil)},
	}); err != nil {
		t.Fatalf("RegisterPolicy: %v", err)
	}

	results := e.EvaluateAll()
	if results[0].Triggered {
		t.Error("policy rule should not trigger: distance 2000 >= 800")
	}
}
