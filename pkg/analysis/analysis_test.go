package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/perception"
)

func TestDistanceRisk_Bands(t *testing.T) {
	cases := []struct {
		dist  float64
		level RiskLevel
	}{
		{400, RiskCritical},
		{700, RiskHigh},
		{1000, RiskMedium},
		{1800, RiskLow},
		{5000, RiskNone},
	}
	for _, c := range cases {
		got := distanceRisk(c.dist, 10000, true)
		if got.Level != c.level {
			t.Errorf("distanceRisk(%v) level = %v, want %v", c.dist, got.Level, c.level)
		}
	}
}

func TestCollisionRisk_TimeToCollisionBands(t *testing.T) {
	// distance 100mm, speed 1000mm/s -> ttc = 0.1s -> Critical
	got := collisionRisk(100, 1000)
	if got.Level != RiskCritical {
		t.Errorf("collisionRisk ttc=0.1 level = %v, want Critical", got.Level)
	}
	// speed 0 -> infinite ttc -> None
	got = collisionRisk(100, 0)
	if got.Level != RiskNone {
		t.Errorf("collisionRisk with zero speed level = %v, want None", got.Level)
	}
}

func TestExposureRisk_Bands(t *testing.T) {
	if got := exposureRisk(1.3); got.Level != RiskCritical {
		t.Errorf("level = %v, want Critical", got.Level)
	}
	if got := exposureRisk(0.1); got.Level != RiskNone {
		t.Errorf("level = %v, want None", got.Level)
	}
}

func TestEquipmentRisk_IssueCounting(t *testing.T) {
	got := equipmentRisk(EquipmentInput{PPEOk: false})
	if got.Level != RiskMedium { // PPE missing counts as 2 -> issues=2 -> Medium
		t.Errorf("PPE-missing-only level = %v, want Medium", got.Level)
	}
	got = equipmentRisk(EquipmentInput{PPEOk: true, DegradedCritical: []string{"a", "b", "c"}})
	if got.Level != RiskHigh {
		t.Errorf("3 degraded signals level = %v, want High", got.Level)
	}
	got = equipmentRisk(EquipmentInput{PPEOk: true})
	if got.Level != RiskNone {
		t.Errorf("no issues level = %v, want None", got.Level)
	}
}

func TestGlobalRisk_WeightedMeanAndMaxLevel(t *testing.T) {
	cats := map[string]RiskScore{
		"collision": {Category: "collision", Level: RiskCritical, Score: 100},
		"distance":  {Category: "distance", Level: RiskLow, Score: 25},
	}
	got := globalRisk(cats)
	if got.Level != RiskCritical {
		t.Errorf("global level = %v, want Critical (max of categories)", got.Level)
	}
	want := (100*0.35 + 25*0.30) / (0.35 + 0.30)
	if got.Score < want-0.001 || got.Score > want+0.001 {
		t.Errorf("global score = %v, want %v", got.Score, want)
	}
}

func TestGlobalRisk_EmptyCategoriesIsNone(t *testing.T) {
	got := globalRisk(map[string]RiskScore{})
	if got.Level != RiskNone || got.Score != 0 {
		t.Errorf("empty-categories global = %+v, want zero value", got)
	}
}

func TestAgent_CycleEmitsRiskUpdate(t *testing.T) {
	b := bus.New(nil)
	decision := b.Register("decision", 10)
	b.Register("perception", 10)

	cfg := DefaultConfig()
	a := New(b, cfg, nil)

	msg := bus.NewMessage(perception.MsgSignalBatch, map[string]any{
		"signals": []perception.NormalizedSample{
			{ID: "scanner_min_distance", Value: 1500, Timestamp: time.Now()},
			{ID: "fanuc_tcp_speed", Value: 200, Timestamp: time.Now()},
		},
	})
	msg.Target = "analysis"
	b.PublishFrom("perception", msg)

	for _, m := range a.inbox.Drain(10) {
		a.handle(m)
	}
	a.cycle()

	out, ok := decision.Receive(context.Background())
	if !ok {
		t.Fatal("expected a risk_update message")
	}
	if out.Type != MsgRiskUpdate {
		t.Errorf("msg.Type = %q, want %q", out.Type, MsgRiskUpdate)
	}
	update, ok := out.Payload["update"].(RiskUpdate)
	if !ok {
		t.Fatal("payload missing update")
	}
	if update.Global.Category != "global" {
		t.Errorf("global category = %q", update.Global.Category)
	}
}

func TestAgent_NoSignalsYetSkipsCycle(t *testing.T) {
	b := bus.New(nil)
	decision := b.Register("decision", 10)
	b.Register("perception", 10)
	a := New(b, DefaultConfig(), nil)
	a.cycle()
	if decision.Len() != 0 {
		t.Error("cycle with no signals yet should not publish a risk_update")
	}
}

func TestAgent_QualityAlertMarksDegraded(t *testing.T) {
	b := bus.New(nil)
	b.Register("decision", 10)
	b.Register("perception", 10)
	a := New(b, DefaultConfig(), nil)

	msg := bus.NewMessage(perception.MsgQualityAlert, map[string]any{"signal_id": "plc_heartbeat"})
	msg.Target = "analysis"
	b.PublishFrom("perception", msg)
	for _, m := range a.inbox.Drain(10) {
		a.handle(m)
	}
	if !a.degraded["plc_heartbeat"] {
		t.Error("quality_alert should mark the signal degraded")
	}
}
