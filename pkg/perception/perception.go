// Package perception implements the Perception agent: pull raw
// samples from driver callbacks, validate and smooth them via the shared
// SignalStore, and forward a normalized batch to Analysis at a fixed cadence.
package perception

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/bus"
	robomath "github.com/jordigilh/robosafe/pkg/shared/math"
	"github.com/jordigilh/robosafe/pkg/signal"
)

const (
	// MsgSignalBatch is the message type a Perception cycle publishes to
	// Analysis once per cycle when it has at least one normalized sample.
	MsgSignalBatch = "signal_batch"
	// MsgQualityAlert is broadcast whenever a critical signal's quality
	// demotes in the SignalStore watchdog, relayed by
	// RunQualityAlertForwarder; the Perception cycle runs no timeout sweep.
	MsgQualityAlert = "quality_alert"

	maxSmoothingTail = 10
)

// SensorCallback returns a batch of raw id->value samples. A callback that
// errors or panics must never block the others.
type SensorCallback func() (map[string]any, error)

// NormalizedSample is one signal's post-smoothing observation, the unit
// Perception hands off to Analysis inside a SignalBatch payload.
type NormalizedSample struct {
	ID        string
	Source    signal.Source
	RawValue  any
	Value     float64
	Unit      string
	Quality   signal.Quality
	Timestamp time.Time
	Critical  bool
}

// Config controls Perception's cadence and smoothing behaviour.
type Config struct {
	CycleInterval    time.Duration
	EnableSmoothing  bool
	SmoothingAlpha   float64
}

// DefaultConfig: 50ms cadence, EMA alpha 0.3.
func DefaultConfig() Config {
	return Config{
		CycleInterval:   50 * time.Millisecond,
		EnableSmoothing: true,
		SmoothingAlpha:  0.3,
	}
}

// Agent is the Perception component.
type Agent struct {
	store *signal.Store
	b     *bus.Bus
	name  string
	cfg   Config
	log   *zap.Logger

	mu        sync.Mutex
	callbacks []SensorCallback
	tails     map[string][]float64

	cyclesRun    uint64
	samplesSeen  uint64
}

// New constructs a Perception agent publishing to b under name (typically
// "perception"), reading and writing through store.
func New(store *signal.Store, b *bus.Bus, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultConfig().CycleInterval
	}
	a := &Agent{
		store: store,
		b:     b,
		name:  "perception",
		cfg:   cfg,
		log:   logger,
		tails: make(map[string][]float64),
	}
	b.Register(a.name, 0)
	return a
}

// AddSensorCallback registers cb to be polled every cycle.
func (a *Agent) AddSensorCallback(cb SensorCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, cb)
}

// Run drives Perception's cycle at cfg.CycleInterval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.cycle()
		}
	}
}

// RunQualityAlertForwarder relays the SignalStore's watchdog-emitted
// QualityAlerts onto the bus as a broadcast. The
// store's own RunWatchdog goroutine detects the timeout; this one just
// republishes it for the other three agents to observe.
func (a *Agent) RunQualityAlertForwarder(ctx context.Context) error {
	alerts := a.store.QualityAlerts()
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert := <-alerts:
			msg := bus.NewMessage(MsgQualityAlert, map[string]any{
				"signal_id": alert.SignalID,
				"quality":   alert.Quality.String(),
			})
			msg.Priority = bus.PriorityHigh
			a.b.PublishFrom(a.name, msg)
		}
	}
}

func (a *Agent) cycle() {
	raw := a.collect()
	if len(raw) == 0 {
		return
	}

	normalized := make([]NormalizedSample, 0, len(raw))
	for id, value := range raw {
		sample, ok := a.normalize(id, value)
		if !ok {
			continue
		}
		normalized = append(normalized, sample)
	}

	a.mu.Lock()
	a.cyclesRun++
	a.samplesSeen += uint64(len(normalized))
	a.mu.Unlock()

	if len(normalized) > 0 {
		msg := bus.NewMessage(MsgSignalBatch, map[string]any{"signals": normalized})
		msg.Target = "analysis"
		msg.Priority = bus.PriorityHigh
		a.b.PublishFrom(a.name, msg)
	}
}

// collect invokes every registered sensor callback, merging their results;
// an erroring or panicking callback is logged and skipped, never fatal to
// the cycle.
func (a *Agent) collect() map[string]any {
	a.mu.Lock()
	callbacks := append([]SensorCallback{}, a.callbacks...)
	a.mu.Unlock()

	merged := make(map[string]any)
	for _, cb := range callbacks {
		a.safeCollectInto(merged, cb)
	}
	return merged
}

func (a *Agent) safeCollectInto(into map[string]any, cb SensorCallback) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("sensor_callback_panicked")
		}
	}()
	data, err := cb()
	if err != nil {
		a.log.Warn("sensor_callback_error", zap.Error(err))
		return
	}
	for k, v := range data {
		into[k] = v
	}
}

// normalize writes value into the signal store (deriving quality from the
// registered Definition's range) and returns the corresponding
// NormalizedSample, applying EMA smoothing if enabled.
func (a *Agent) normalize(id string, value any) (NormalizedSample, bool) {
	defs := a.store.Definitions()
	def, known := defs[id]
	if !known {
		return NormalizedSample{}, false
	}

	quality := signal.Good
	if value == nil {
		quality = signal.Timeout
	}
	_ = a.store.Update(id, value, quality, time.Now())

	sig, _ := a.store.Get(id)
	numeric, isNumeric := toFloat(value)
	if a.cfg.EnableSmoothing && isNumeric {
		numeric = a.smooth(id, numeric)
	}

	return NormalizedSample{
		ID:        id,
		Source:    def.Source,
		RawValue:  value,
		Value:     numeric,
		Unit:      def.Unit,
		Quality:   sig.Quality,
		Timestamp: sig.Timestamp,
		Critical:  def.Critical,
	}, true
}

func (a *Agent) smooth(id string, value float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	tail := a.tails[id]
	if len(tail) == 0 {
		a.tails[id] = []float64{value}
		return value
	}
	last := tail[len(tail)-1]
	smoothed := robomath.EMA(last, value, a.cfg.SmoothingAlpha)
	tail = append(tail, smoothed)
	if len(tail) > maxSmoothingTail {
		tail = tail[len(tail)-maxSmoothingTail:]
	}
	a.tails[id] = tail
	return smoothed
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Stats summarizes Perception activity for diagnostics.
type Stats struct {
	CyclesRun   uint64
	SamplesSeen uint64
}

// Stats reports current agent counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{CyclesRun: a.cyclesRun, SamplesSeen: a.samplesSeen}
}
