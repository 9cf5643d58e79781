package signal

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	roboerrors "github.com/jordigilh/robosafe/pkg/shared/errors"
	"github.com/jordigilh/robosafe/pkg/shared/logging"
)

// Store is the concurrent signal-id -> latest-observation map.
// Writes are atomic per id; reads are wait-free except for the
// brief map-lookup lock, which never blocks on subscriber dispatch.
type Store struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	signals     map[string]Signal
	subscribers map[string][]Subscriber
	global      []Subscriber

	updateCount    uint64
	unknownIDCount uint64
	timeoutCount   uint64
	panicCount     uint64

	qualityAlerts chan QualityAlert

	log      *zap.Logger
	validate *validator.Validate
}

// New constructs an empty Store. logger may be nil, in which case
// zap.NewNop() is used.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		definitions:   make(map[string]Definition),
		signals:       make(map[string]Signal),
		subscribers:   make(map[string][]Subscriber),
		qualityAlerts: make(chan QualityAlert, 64),
		log:           logger,
		validate:      validator.New(),
	}
}

// Register adds a signal definition, idempotently. A second call with
// identical content is a no-op. A second call with different content is
// rejected, since definitions are frozen after first registration.
func (s *Store) Register(def Definition) error {
	if err := s.validate.Struct(def); err != nil {
		return roboerrors.ValidationError(def.ID, err.Error())
	}
	if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
		return roboerrors.ValidationError(def.ID, "min_value must be <= max_value")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.definitions[def.ID]; ok {
		if reflect.DeepEqual(existing, def) {
			return nil
		}
		s.log.Warn("signal_definition_already_registered", logging.SignalFields(def.ID, string(def.Source), "").Zap()...)
		return roboerrors.ConfigurationError(def.ID, "definition already registered and frozen")
	}

	s.definitions[def.ID] = def
	s.signals[def.ID] = Signal{
		ID:        def.ID,
		Name:      def.Name,
		Source:    def.Source,
		Value:     def.FailSafe,
		Timestamp: time.Now(),
		Quality:   Unknown,
		Unit:      def.Unit,
		Min:       def.Min,
		Max:       def.Max,
		FailSafe:  def.FailSafe,
	}
	s.log.Debug("signal_registered", logging.SignalFields(def.ID, string(def.Source), Unknown.String()).Zap()...)
	return nil
}

// RegisterBatch registers every definition, chaining any failures.
func (s *Store) RegisterBatch(defs []Definition) error {
	var errs []error
	for _, def := range defs {
		if err := s.Register(def); err != nil {
			errs = append(errs, err)
		}
	}
	return roboerrors.Chain(errs...)
}

// classifyRange demotes quality to at most Degraded when a numeric value
// falls outside the registered [min, max] range.
func classifyRange(def Definition, value any, quality Quality) Quality {
	if def.Min == nil && def.Max == nil {
		return quality
	}
	f, ok := toFloat(value)
	if !ok {
		return quality
	}
	outOfRange := (def.Min != nil && f < *def.Min) || (def.Max != nil && f > *def.Max)
	if outOfRange && quality == Good {
		return Degraded
	}
	return quality
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
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Update writes a single signal observation. Unknown ids are dropped and
// counted, never faulted. Notification happens outside the store's lock.
func (s *Store) Update(id string, value any, quality Quality, ts time.Time) error {
	s.mu.Lock()
	def, ok := s.definitions[id]
	if !ok {
		s.mu.Unlock()
		atomic.AddUint64(&s.unknownIDCount, 1)
		s.log.Debug("unknown_signal_update", logging.NewFields().Resource("signal", id).Zap()...)
		return roboerrors.ValidationError(id, "unknown signal id")
	}

	quality = classifyRange(def, value, quality)

	sig := Signal{
		ID:        id,
		Name:      def.Name,
		Source:    def.Source,
		Value:     value,
		Timestamp: ts,
		Quality:   quality,
		Unit:      def.Unit,
		Min:       def.Min,
		Max:       def.Max,
		FailSafe:  def.FailSafe,
	}
	s.signals[id] = sig
	atomic.AddUint64(&s.updateCount, 1)

	subs := append([]Subscriber(nil), s.subscribers[id]...)
	global := append([]Subscriber(nil), s.global...)
	s.mu.Unlock()

	s.notify(sig, subs, global)
	return nil
}

// UpdateNow updates a signal with Good quality at the current time.
func (s *Store) UpdateNow(id string, value any) error {
	return s.Update(id, value, Good, time.Now())
}

// BatchUpdate updates multiple signals sharing a timestamp and quality,
// returning the count that were accepted.
func (s *Store) BatchUpdate(updates map[string]any, quality Quality) int {
	ts := time.Now()
	count := 0
	for id, value := range updates {
		if err := s.Update(id, value, quality, ts); err == nil {
			count++
		}
	}
	return count
}

func (s *Store) notify(sig Signal, subs, global []Subscriber) {
	for _, cb := range subs {
		s.invoke(cb, sig)
	}
	for _, cb := range global {
		s.invoke(cb, sig)
	}
}

func (s *Store) invoke(cb Subscriber, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&s.panicCount, 1)
			s.log.Error("subscriber_callback_error", logging.NewFields().Resource("signal", sig.ID).Custom("panic", r).Zap()...)
		}
	}()
	cb(sig)
}

// Get returns the current signal and whether it is registered.
func (s *Store) Get(id string) (Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	return sig, ok
}

// ValueOrFailSafe returns the signal's value if valid, else its fail-safe
// value; ok is false only if the id is unregistered.
func (s *Store) ValueOrFailSafe(id string) (value any, ok bool) {
	sig, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	return sig.ValueOrFailSafe(), true
}

// BySource returns a snapshot of all signals from the given source.
func (s *Store) BySource(source Source) []Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Signal, 0)
	for _, sig := range s.signals {
		if sig.Source == source {
			out = append(out, sig)
		}
	}
	return out
}

// All returns a snapshot copy of every signal, keyed by id.
func (s *Store) All() map[string]Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Signal, len(s.signals))
	for k, v := range s.signals {
		out[k] = v
	}
	return out
}

// Definitions returns a snapshot copy of every registered definition.
func (s *Store) Definitions() map[string]Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Definition, len(s.definitions))
	for k, v := range s.definitions {
		out[k] = v
	}
	return out
}

// Subscribe registers cb for updates to a single signal id. Delivery order
// per id matches write order; cross-id order is not guaranteed.
func (s *Store) Subscribe(id string, cb Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = append(s.subscribers[id], cb)
}

// SubscribeAll registers cb for updates to every signal id.
func (s *Store) SubscribeAll(cb Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = append(s.global, cb)
}

// QualityAlerts exposes the channel of critical-signal timeout alerts for
// consumption by Perception or the supervisor's notification path.
func (s *Store) QualityAlerts() <-chan QualityAlert {
	return s.qualityAlerts
}

func (s *Store) emitQualityAlert(alert QualityAlert) {
	select {
	case s.qualityAlerts <- alert:
	default:
		s.log.Warn("quality_alert_channel_full", logging.NewFields().Resource("signal", alert.SignalID).Zap()...)
	}
}

// Stats reports current store activity counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	valid := 0
	for _, sig := range s.signals {
		if sig.IsValid() {
			valid++
		}
	}
	subCount := 0
	for _, subs := range s.subscribers {
		subCount += len(subs)
	}
	return Stats{
		TotalSignals:          len(s.signals),
		ValidSignals:          valid,
		InvalidSignals:        len(s.signals) - valid,
		UpdateCount:           atomic.LoadUint64(&s.updateCount),
		UnknownIDCount:        atomic.LoadUint64(&s.unknownIDCount),
		TimeoutCount:          atomic.LoadUint64(&s.timeoutCount),
		SubscriberCount:       subCount,
		GlobalSubscriberCount: len(s.global),
	}
}

// RunWatchdog runs the timeout-detection loop at the given cadence until ctx
// is cancelled. It is intended to be run as one
// goroutine under the supervisor's errgroup.
func (s *Store) RunWatchdog(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.checkTimeouts()
		}
	}
}

func (s *Store) checkTimeouts() {
	now := time.Now()

	s.mu.Lock()
	type demotion struct {
		id       string
		sig      Signal
		critical bool
	}
	var demoted []demotion
	for id, sig := range s.signals {
		def, ok := s.definitions[id]
		if !ok || sig.Quality == Timeout {
			continue
		}
		if now.Sub(sig.Timestamp) <= def.Timeout {
			continue
		}

		newQuality := worseOf(sig.Quality, Timeout)
		updated := Signal{
			ID:        id,
			Name:      sig.Name,
			Source:    sig.Source,
			Value:     sig.FailSafe,
			Timestamp: sig.Timestamp,
			Quality:   newQuality,
			Unit:      sig.Unit,
			Min:       sig.Min,
			Max:       sig.Max,
			FailSafe:  sig.FailSafe,
		}
		s.signals[id] = updated
		atomic.AddUint64(&s.timeoutCount, 1)
		demoted = append(demoted, demotion{id: id, sig: updated, critical: def.Critical})
	}
	s.mu.Unlock()

	for _, d := range demoted {
		s.log.Warn("signal_timeout",
			logging.SignalFields(d.id, string(d.sig.Source), d.sig.Quality.String()).Zap()...)
		if d.critical {
			s.emitQualityAlert(QualityAlert{SignalID: d.id, Quality: d.sig.Quality, Timestamp: now})
		}
	}
}
