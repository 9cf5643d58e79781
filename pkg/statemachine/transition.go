package statemachine

import "time"

// Transition is an immutable record of a single state change.
type Transition struct {
	From      SafetyState
	To        SafetyState
	Timestamp time.Time
	Trigger   string
	RuleID    string
	Payload   map[string]any
}
