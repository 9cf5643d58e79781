package statemachine

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/shared/logging"
	"github.com/jordigilh/robosafe/pkg/shared/ring"
)

const defaultMaxHistory = 1000

// Machine is the safety state machine: it guards legal transitions,
// publishes the current state lock-free, and retains a bounded history.
type Machine struct {
	current  atomic.Int32
	previous atomic.Int32
	hasPrev  atomic.Bool

	// enteredAtNano is the unix-nano timestamp the current state was
	// entered, read/written atomically so StateDuration never blocks.
	enteredAtNano atomic.Int64

	mu          sync.Mutex // linearises transitions and blockReset
	history     *ring.Buffer[Transition]
	onTransition []func(Transition)
	blockReset  bool

	log *zap.Logger
}

// New constructs a Machine starting in initial (typically Init), retaining
// up to maxHistory transitions. logger may be nil.
func New(initial SafetyState, maxHistory int, logger *zap.Logger) *Machine {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		history: ring.New[Transition](maxHistory),
		log:     logger,
	}
	m.current.Store(int32(initial))
	m.previous.Store(int32(initial))
	m.enteredAtNano.Store(time.Now().UnixNano())
	m.log.Info("state_machine_initialized", logging.StateFields("", initial.String(), "init").Zap()...)
	return m
}

// CurrentState returns the current state; this read never blocks.
func (m *Machine) CurrentState() SafetyState {
	return SafetyState(m.current.Load())
}

// PreviousState returns the state held immediately before the current one,
// and whether a previous state exists (false only before the first transition).
func (m *Machine) PreviousState() (SafetyState, bool) {
	return SafetyState(m.previous.Load()), m.hasPrev.Load()
}

// StateDuration returns how long the machine has been in its current state.
func (m *Machine) StateDuration() time.Duration {
	entered := time.Unix(0, m.enteredAtNano.Load())
	return time.Since(entered)
}

// History returns a snapshot copy of the transition history, oldest first.
func (m *Machine) History() []Transition {
	return m.history.Snapshot()
}

// CanTransitionTo reports whether target is reachable from the current
// state under the legal transition table (self-transitions are always legal).
func (m *Machine) CanTransitionTo(target SafetyState) bool {
	current := m.CurrentState()
	if current == target {
		return true
	}
	for _, allowed := range validTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// OnTransition registers a callback invoked after every accepted transition.
// Callbacks are invoked outside the machine's internal lock; a panicking
// callback is recovered, counted via a log line, and never blocks others.
func (m *Machine) OnTransition(cb func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = append(m.onTransition, cb)
}

// BlockReset reports whether transitions out of Stop/EStop are currently
// blocked by a RuleAction BlockReset.
func (m *Machine) BlockReset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockReset
}

// SetBlockReset sets or clears the BlockReset latch.
func (m *Machine) SetBlockReset(blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockReset = blocked
}

// TransitionTo attempts a transition to target. If target equals the current
// state, this is a no-op that returns true. If force is false and target is
// not reachable under the legal table (or a BlockReset latch forbids leaving
// Stop/EStop), the transition is rejected and false is returned. force MUST
// only be used by RequestEStop and EnterFallback, which bypass both the
// table and the BlockReset latch; they are the fail-safe escapes.
func (m *Machine) TransitionTo(target SafetyState, trigger, ruleID string, payload map[string]any, force bool) bool {
	m.mu.Lock()

	current := SafetyState(m.current.Load())
	if current == target {
		m.mu.Unlock()
		return true
	}

	if !force {
		if !m.canTransitionLocked(current, target) {
			m.mu.Unlock()
			m.log.Warn("invalid_transition_attempt", logging.StateFields(current.String(), target.String(), trigger).Zap()...)
			return false
		}
		if m.blockReset && (current == Stop || current == EStop) {
			m.mu.Unlock()
			m.log.Warn("transition_blocked_by_block_reset", logging.StateFields(current.String(), target.String(), trigger).Zap()...)
			return false
		}
	}

	transition := Transition{
		From:      current,
		To:        target,
		Timestamp: time.Now(),
		Trigger:   trigger,
		RuleID:    ruleID,
		Payload:   payload,
	}

	m.previous.Store(int32(current))
	m.hasPrev.Store(true)
	m.current.Store(int32(target))
	m.enteredAtNano.Store(transition.Timestamp.UnixNano())
	m.history.Push(transition)

	callbacks := append([]func(Transition){}, m.onTransition...)
	m.mu.Unlock()

	m.log.Info("state_transition", logging.StateFields(current.String(), target.String(), trigger).Zap()...)
	m.dispatch(callbacks, transition)
	return true
}

func (m *Machine) canTransitionLocked(current, target SafetyState) bool {
	for _, allowed := range validTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (m *Machine) dispatch(callbacks []func(Transition), t Transition) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("transition_callback_error", logging.NewFields().Custom("panic", r).Zap()...)
				}
			}()
			cb(t)
		}()
	}
}

// RequestEStop always succeeds: EStop is the ultimate fail-safe escape.
func (m *Machine) RequestEStop(trigger, ruleID string) bool {
	return m.TransitionTo(EStop, trigger, ruleID, nil, true)
}

// RequestStop requests a controlled Category 1 stop.
func (m *Machine) RequestStop(trigger, ruleID string) bool {
	return m.TransitionTo(Stop, trigger, ruleID, nil, false)
}

// RequestSlow requests a speed reduction; percent <= 25 maps to Slow25,
// anything else maps to Slow50.
func (m *Machine) RequestSlow(percent int, trigger, ruleID string) bool {
	target := Slow50
	if percent <= 25 {
		target = Slow25
	}
	return m.TransitionTo(target, trigger, ruleID, nil, false)
}

// RequestRecovery requests the transitional ramp-back state.
func (m *Machine) RequestRecovery(trigger string) bool {
	if trigger == "" {
		trigger = "reset_acknowledged"
	}
	return m.TransitionTo(Recovery, trigger, "", nil, false)
}

// RequestNormal requests a return to normal production.
func (m *Machine) RequestNormal(trigger string) bool {
	if trigger == "" {
		trigger = "all_clear"
	}
	return m.TransitionTo(Normal, trigger, "", nil, false)
}

// EnterFallback always succeeds: Fallback is the other fail-safe escape,
// entered when the smart pipeline can no longer be trusted.
func (m *Machine) EnterFallback(trigger string) bool {
	if trigger == "" {
		trigger = "ia_comm_lost"
	}
	return m.TransitionTo(Fallback, trigger, "", nil, true)
}

// Status summarizes the machine's current posture for diagnostics and the
// periodic SystemState broadcast.
type Status struct {
	CurrentState        SafetyState
	StateCode           int
	PreviousState       SafetyState
	HasPreviousState    bool
	MaxSpeedPercent     int
	AllowsProduction    bool
	StateDurationSeconds float64
	TransitionCount     int
}

// GetStatus returns a Status snapshot.
func (m *Machine) GetStatus() Status {
	current := m.CurrentState()
	previous, hasPrev := m.PreviousState()
	return Status{
		CurrentState:         current,
		StateCode:            current.Code(),
		PreviousState:        previous,
		HasPreviousState:     hasPrev,
		MaxSpeedPercent:      current.MaxSpeedPercent(),
		AllowsProduction:     current.AllowsProduction(),
		StateDurationSeconds: m.StateDuration().Seconds(),
		TransitionCount:      m.history.Len(),
	}
}
