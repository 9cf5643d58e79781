package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestStandardFields_Component(t *testing.T) {
	fields := NewFields().Component("signal")
	if fields["component"] != "signal" {
		t.Errorf("Component() = %v, want %v", fields["component"], "signal")
	}
}

func TestStandardFields_Resource(t *testing.T) {
	fields := NewFields().Resource("signal", "scanner_min_distance")
	if fields["resource_type"] != "signal" {
		t.Errorf("Resource() resource_type = %v, want %v", fields["resource_type"], "signal")
	}
	if fields["resource_name"] != "scanner_min_distance" {
		t.Errorf("Resource() resource_name = %v, want %v", fields["resource_name"], "scanner_min_distance")
	}
}

func TestStandardFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("signal", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestStandardFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("Duration() = %v, want %v", fields["duration_ms"], int64(150))
	}
}

func TestStandardFields_Error(t *testing.T) {
	err := errors.New("watchdog timeout")
	fields := NewFields().Error(err)
	if fields["error"] != "watchdog timeout" {
		t.Errorf("Error() = %v, want %v", fields["error"], "watchdog timeout")
	}
}

func TestStandardFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)
	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set error field")
	}
}

func TestStandardFields_ChainedCalls(t *testing.T) {
	fields := NewFields().
		Component("rules").
		Operation("evaluate").
		Resource("rule", "RS-002").
		Duration(5 * time.Millisecond).
		Count(14)

	expected := map[string]interface{}{
		"component":     "rules",
		"operation":     "evaluate",
		"resource_type": "rule",
		"resource_name": "RS-002",
		"duration_ms":   int64(5),
		"count":         14,
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("chained calls: %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestSignalFields(t *testing.T) {
	fields := SignalFields("plc_heartbeat", "plc", "Timeout")
	expected := map[string]interface{}{
		"component":     "signal",
		"resource_type": "signal",
		"resource_name": "plc_heartbeat",
		"source":        "plc",
		"quality":       "Timeout",
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("SignalFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestRuleFields(t *testing.T) {
	fields := RuleFields("RS-001", "P0")
	if fields["resource_name"] != "RS-001" || fields["priority"] != "P0" {
		t.Errorf("RuleFields() = %v", fields)
	}
}

func TestStateFields(t *testing.T) {
	fields := StateFields("Normal", "EStop", "Rule RS-002")
	if fields["from_state"] != "Normal" || fields["to_state"] != "EStop" {
		t.Errorf("StateFields() = %v", fields)
	}
}

func TestRiskFields(t *testing.T) {
	fields := RiskFields("distance", 82.5, 0.9)
	if fields["category"] != "distance" || fields["score"] != 82.5 || fields["confidence"] != 0.9 {
		t.Errorf("RiskFields() = %v", fields)
	}
}

func TestExecutionFields(t *testing.T) {
	fields := ExecutionFields("STOP", "Success")
	if fields["action"] != "STOP" || fields["status"] != "Success" {
		t.Errorf("ExecutionFields() = %v", fields)
	}
}

func TestFieldsZap(t *testing.T) {
	fields := NewFields().Component("signal").Count(3)
	zf := fields.Zap()
	if len(zf) != 2 {
		t.Errorf("Zap() len = %d, want 2", len(zf))
	}
}
