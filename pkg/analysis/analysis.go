package analysis

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/bus"
	robomath "github.com/jordigilh/robosafe/pkg/shared/math"
	"github.com/jordigilh/robosafe/pkg/perception"
)

// MsgRiskUpdate is the message type Analysis publishes to Decision each cycle.
const MsgRiskUpdate = "risk_update"

// RiskUpdate is the payload Analysis sends to Decision.
type RiskUpdate struct {
	Global     RiskScore
	Categories map[string]RiskScore
	Patterns   []PatternAlert
	Timestamp  time.Time
}

type sample struct {
	at    time.Time
	value float64
}

// Config controls Analysis's cadence and risk-scoring thresholds.
type Config struct {
	CycleInterval time.Duration
	Thresholds    Thresholds
}

// DefaultConfig: 100ms cadence (10Hz).
func DefaultConfig() Config {
	return Config{CycleInterval: 100 * time.Millisecond, Thresholds: DefaultThresholds()}
}

// Agent is the Analysis component: it consumes SignalBatch/QualityAlert
// messages from Perception and emits a RiskUpdate to Decision every cycle.
type Agent struct {
	b    *bus.Bus
	name string
	cfg  Config
	log  *zap.Logger

	inbox *bus.Inbox

	mu        sync.Mutex
	current   map[string]perception.NormalizedSample
	degraded  map[string]bool
	history   map[string][]sample

	analysesPerformed uint64
	patternsDetected  uint64
}

// New constructs an Analysis agent reading from and publishing to b.
func New(b *bus.Bus, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultConfig().CycleInterval
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	a := &Agent{
		b:        b,
		name:     "analysis",
		cfg:      cfg,
		log:      logger,
		current:  make(map[string]perception.NormalizedSample),
		degraded: make(map[string]bool),
		history:  make(map[string][]sample),
	}
	a.inbox = b.Register(a.name, 0)
	return a
}

// Run processes inbound messages and runs an analysis cycle at
// cfg.CycleInterval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, msg := range a.inbox.Drain(10) {
				a.handle(msg)
			}
			a.cycle()
		}
	}
}

func (a *Agent) handle(msg bus.Message) {
	switch msg.Type {
	case perception.MsgSignalBatch:
		samples, ok := msg.Payload["signals"].([]perception.NormalizedSample)
		if !ok {
			return
		}
		a.mu.Lock()
		for _, s := range samples {
			a.current[s.ID] = s
			a.appendHistory(s.ID, s.Value)
		}
		a.mu.Unlock()
	case perception.MsgQualityAlert:
		id, _ := msg.Payload["signal_id"].(string)
		if id == "" {
			return
		}
		a.mu.Lock()
		a.degraded[id] = true
		a.mu.Unlock()
	}
}

func (a *Agent) appendHistory(id string, value float64) {
	cutoff := time.Now().Add(-a.cfg.Thresholds.PatternWindow)
	hist := append(a.history[id], sample{at: time.Now(), value: value})
	trimmed := hist[:0]
	for _, s := range hist {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	a.history[id] = trimmed
}

func (a *Agent) signalValue(id string, def float64) float64 {
	s, ok := a.current[id]
	if !ok {
		return def
	}
	return s.Value
}

func (a *Agent) cycle() {
	a.mu.Lock()
	if len(a.current) == 0 {
		a.mu.Unlock()
		return
	}

	categories := map[string]RiskScore{
		"distance":  distanceRisk(a.signalValue("scanner_min_distance", 10000), a.signalValue("vision_min_distance", 10000), a.signalPresent("scanner_min_distance")),
		"collision": collisionRisk(a.signalValue("scanner_min_distance", 10000), a.signalValue("fanuc_tcp_speed", 0)),
		"exposure":  exposureRisk(a.signalValue("fumes_vlep_ratio", 0)),
		"equipment": equipmentRisk(a.equipmentInput()),
	}
	patterns := a.detectPatterns()
	global := globalRisk(categories)
	a.analysesPerformed++
	a.patternsDetected += uint64(len(patterns))
	a.mu.Unlock()

	now := time.Now()
	update := RiskUpdate{Global: global, Categories: categories, Patterns: patterns, Timestamp: now}

	msg := bus.NewMessage(MsgRiskUpdate, map[string]any{"update": update})
	msg.Target = "decision"
	msg.Priority = bus.PriorityHigh
	a.b.PublishFrom(a.name, msg)
}

func (a *Agent) signalPresent(id string) bool {
	_, ok := a.current[id]
	return ok
}

func (a *Agent) equipmentInput() EquipmentInput {
	ppeOk := true
	if s, ok := a.current["vision_ppe_ok"]; ok {
		ppeOk = s.Value != 0
	}
	var degraded []string
	for _, id := range []string{"scanner_min_distance", "plc_heartbeat", "estop_status"} {
		if a.degraded[id] {
			degraded = append(degraded, id)
		}
	}
	return EquipmentInput{PPEOk: ppeOk, DegradedCritical: degraded}
}

func (a *Agent) detectPatterns() []PatternAlert {
	var patterns []PatternAlert
	if p, ok := a.detectRapidApproach(); ok {
		patterns = append(patterns, p)
	}
	if p, ok := a.detectOscillation(); ok {
		patterns = append(patterns, p)
	}
	if p, ok := a.detectDriftUp(); ok {
		patterns = append(patterns, p)
	}
	return patterns
}

// detectRapidApproach flags a steep closing rate on scanner_min_distance
// over the pattern window.
func (a *Agent) detectRapidApproach() (PatternAlert, bool) {
	hist := a.history["scanner_min_distance"]
	if len(hist) < 5 {
		return PatternAlert{}, false
	}
	span := hist[len(hist)-1].at.Sub(hist[0].at).Seconds()
	if span <= 0 {
		return PatternAlert{}, false
	}
	rate := (hist[0].value - hist[len(hist)-1].value) / span
	if rate <= a.cfg.Thresholds.ApproachRateThreshold {
		return PatternAlert{}, false
	}
	return PatternAlert{
		Type: "rapid_approach", Severity: RiskHigh,
		Description:     "rapid approach detected",
		SignalsInvolved: []string{"scanner_min_distance"},
		Timestamp:       time.Now(),
	}, true
}

// detectOscillation flags repeated sign changes in scanner_zone_status's
// first difference.
func (a *Agent) detectOscillation() (PatternAlert, bool) {
	hist := a.history["scanner_zone_status"]
	if len(hist) < 5 {
		return PatternAlert{}, false
	}
	changes := 0
	for i := 2; i < len(hist); i++ {
		if (hist[i].value-hist[i-1].value)*(hist[i-1].value-hist[i-2].value) < 0 {
			changes++
		}
	}
	if changes < a.cfg.Thresholds.OscillationThreshold {
		return PatternAlert{}, false
	}
	return PatternAlert{
		Type: "oscillation", Severity: RiskMedium,
		Description:     "oscillation detected",
		SignalsInvolved: []string{"scanner_zone_status"},
		Timestamp:       time.Now(),
	}, true
}

// detectDriftUp flags a rising fumes VLEP ratio between the first and
// second half of the window.
func (a *Agent) detectDriftUp() (PatternAlert, bool) {
	hist := a.history["fumes_vlep_ratio"]
	if len(hist) < 10 {
		return PatternAlert{}, false
	}
	mid := len(hist) / 2
	var first, second []float64
	for i, s := range hist {
		if i < mid {
			first = append(first, s.value)
		} else {
			second = append(second, s.value)
		}
	}
	drift := robomath.Mean(second) - robomath.Mean(first)
	if drift <= a.cfg.Thresholds.DriftThreshold {
		return PatternAlert{}, false
	}
	return PatternAlert{
		Type: "drift_up", Severity: RiskMedium,
		Description:     "fumes ratio drifting upward",
		SignalsInvolved: []string{"fumes_vlep_ratio"},
		Timestamp:       time.Now(),
	}, true
}

// Stats summarizes Analysis activity for diagnostics.
type Stats struct {
	AnalysesPerformed uint64
	PatternsDetected  uint64
}

// Stats reports current agent counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{AnalysesPerformed: a.analysesPerformed, PatternsDetected: a.patternsDetected}
}
