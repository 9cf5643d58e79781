// Package signal implements the SignalStore: a single concurrent mapping
// from signal id to its latest observation, with an integrated timeout
// watchdog and fail-safe substitution. It is the one significant shared
// mutable state in robosafe.
package signal

import "time"

// Source tags where a signal's value originates.
type Source string

const (
	SourceRobot     Source = "robot"
	SourcePLCSafety Source = "plc_safety"
	SourceScanner   Source = "scanner"
	SourceVision    Source = "vision"
	SourceFumes     Source = "fumes"
	SourceWelding   Source = "welding"
	SourceWearable  Source = "wearable"
	SourceRoboSafe  Source = "robosafe"
)

// Kind is the closed set of value shapes a signal can carry, so consumers
// branch on a tag instead of scattering dynamic type switches through the
// codebase.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindReal
	KindEnum
	KindBitfield
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindEnum:
		return "enum"
	case KindBitfield:
		return "bitfield"
	default:
		return "unknown"
	}
}

// Quality expresses how much a reader should trust a signal's current
// value. Severity ranks Good as best and Bad as worst so the watchdog can
// "keep the worst" quality instead of overwriting it.
type Quality int

const (
	Unknown Quality = iota
	Good
	Degraded
	Timeout
	Bad
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "Good"
	case Degraded:
		return "Degraded"
	case Bad:
		return "Bad"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// severity orders quality from best (0) to worst, used to decide whether the
// watchdog's Timeout classification may overwrite the current quality.
func (q Quality) severity() int {
	switch q {
	case Good:
		return 0
	case Degraded:
		return 1
	case Timeout:
		return 2
	case Bad:
		return 3
	default: // Unknown
		return 0
	}
}

// worseOf returns whichever of a, b has the higher severity.
func worseOf(a, b Quality) Quality {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Definition is a signal's immutable metadata, registered once at startup.
type Definition struct {
	ID          string        `validate:"required"`
	Name        string        `validate:"required"`
	Source      Source        `validate:"required"`
	DataType    Kind
	Unit        string
	FrequencyHz float64 `validate:"gt=0"`
	Timeout     time.Duration `validate:"gt=0"`
	Min         *float64
	Max         *float64
	FailSafe    any
	Description string
	Critical    bool
}

// Signal is a single observation of a signal id at a point in time.
type Signal struct {
	ID        string
	Name      string
	Source    Source
	Value     any
	Timestamp time.Time
	Quality   Quality
	Unit      string
	Min       *float64
	Max       *float64
	FailSafe  any
}

// Age returns how long ago the signal was observed.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// IsValid reports whether the signal's value should be trusted as-is
// (Good or Degraded); on Bad, Timeout, and Unknown, readers should fall back
// to the fail-safe value.
func (s Signal) IsValid() bool {
	return s.Quality == Good || s.Quality == Degraded
}

// ValueOrFailSafe returns the observed value if valid, else the fail-safe value.
func (s Signal) ValueOrFailSafe() any {
	if s.IsValid() {
		return s.Value
	}
	return s.FailSafe
}

// QualityAlert is broadcast when a critical signal's quality demotes to
// Timeout, so Perception/Orchestration can raise an operator-visible event.
type QualityAlert struct {
	SignalID  string
	Quality   Quality
	Timestamp time.Time
}

// Subscriber receives a copy of every Signal delivered to it. It must not
// block or panic; the store recovers and counts any panic so one misbehaving
// subscriber never drops notifications to others.
type Subscriber func(Signal)

// Stats summarizes store activity for diagnostics and tests.
type Stats struct {
	TotalSignals        int
	ValidSignals        int
	InvalidSignals      int
	UpdateCount         uint64
	UnknownIDCount      uint64
	TimeoutCount        uint64
	SubscriberCount     int
	GlobalSubscriberCount int
}
