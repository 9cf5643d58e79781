package rules

import (
	"testing"

	"github.com/jordigilh/robosafe/pkg/signal"
)

func TestWeldingCellRules_UniqueIDsAndAssignedPriority(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range WeldingCellRules() {
		if r.ID == "" {
			t.Error("rule with empty ID")
		}
		if seen[r.ID] {
			t.Errorf("duplicate rule ID %s", r.ID)
		}
		seen[r.ID] = true
		if r.Condition == nil {
			t.Errorf("rule %s has a nil Condition", r.ID)
		}
		if len(r.Actions) == 0 {
			t.Errorf("rule %s has no Actions", r.ID)
		}
		if !r.Enabled {
			t.Errorf("rule %s should be enabled by default", r.ID)
		}
	}
	if len(seen) != 13 {
		t.Errorf("len(WeldingCellRules()) = %d, want 13", len(seen))
	}
}

func TestWeldingCellRules_P0RulesHaveNoCooldown(t *testing.T) {
	for _, r := range WeldingCellRules() {
		if r.Priority == P0Critical && r.Cooldown != 0 {
			t.Errorf("P0 rule %s should not have a cooldown, got %v", r.ID, r.Cooldown)
		}
	}
}

func TestWeldingCellRules_EStopPressedTriggers(t *testing.T) {
	rules := WeldingCellRules()
	var estop *Rule
	for _, r := range rules {
		if r.ID == "RS-001" {
			estop = r
		}
	}
	if estop == nil {
		t.Fatal("RS-001 not found")
	}
	snapshot := NewSnapshot(map[string]signal.Signal{})
	if estop.Condition(snapshot) {
		t.Error("RS-001 should not trigger on an empty snapshot (estop_status defaults to 0)")
	}

	pressed := NewSnapshot(map[string]signal.Signal{
		"estop_status": {ID: "estop_status", Value: 1},
	})
	if !estop.Condition(pressed) {
		t.Error("RS-001 should trigger when estop_status is 1")
	}
}
