// Package statemachine implements the SafetyStateMachine: the single
// authority for the robot cell's current safety posture, its legal
// transition table, and its transition history.
package statemachine

// SafetyState is one of the finite set of safety postures the cell can be
// in. The zero value is Init, matching the machine's startup state.
type SafetyState int32

const (
	Init SafetyState = iota
	Normal
	Warning
	Slow50
	Slow25
	Stop
	EStop
	Recovery
	Fallback
)

func (s SafetyState) String() string {
	switch s {
	case Init:
		return "Init"
	case Normal:
		return "Normal"
	case Warning:
		return "Warning"
	case Slow50:
		return "Slow50"
	case Slow25:
		return "Slow25"
	case Stop:
		return "Stop"
	case EStop:
		return "EStop"
	case Recovery:
		return "Recovery"
	case Fallback:
		return "Fallback"
	default:
		return "Unknown"
	}
}

// Code returns the state's numeric wire code.
func (s SafetyState) Code() int {
	switch s {
	case Init:
		return 0x00
	case Normal:
		return 0x01
	case Warning:
		return 0x02
	case Slow50:
		return 0x03
	case Slow25:
		return 0x04
	case Stop:
		return 0x10
	case EStop:
		return 0xFF
	case Recovery:
		return 0x20
	case Fallback:
		return 0xF0
	default:
		return 0xFF
	}
}

// MaxSpeedPercent returns the maximum robot speed permitted in this state.
// Monotone non-increasing along any transition path that does not visit
// Recovery.
func (s SafetyState) MaxSpeedPercent() int {
	switch s {
	case Normal, Warning:
		return 100
	case Slow50, Fallback:
		return 50
	case Slow25:
		return 25
	case Recovery:
		return 10
	default: // Init, Stop, EStop
		return 0
	}
}

// AllowsProduction reports whether the cell may keep producing in this state.
func (s SafetyState) AllowsProduction() bool {
	switch s {
	case Normal, Warning, Slow50, Slow25:
		return true
	default:
		return false
	}
}

// validTransitions is the legal transition table. A state
// transitioning to itself is always legal and handled separately as a no-op
// by TransitionTo, so it is deliberately absent here.
var validTransitions = map[SafetyState][]SafetyState{
	Init:     {Normal, Fallback, EStop},
	Normal:   {Warning, Slow50, Slow25, Stop, EStop, Fallback},
	Warning:  {Normal, Slow50, Slow25, Stop, EStop, Fallback},
	Slow50:   {Normal, Warning, Slow25, Stop, EStop, Fallback},
	Slow25:   {Normal, Warning, Slow50, Stop, EStop, Fallback},
	Stop:     {Recovery, EStop, Fallback},
	EStop:    {Recovery},
	Recovery: {Normal, Stop, EStop, Fallback},
	Fallback: {Normal, Recovery, EStop},
}
