// Package driver defines the boundary between robosafe and physical sensor
// and actuator endpoints. It is deliberately thin: a Driver exposes a
// connection lifecycle and a
// snapshot of current readings shaped like perception.SensorCallback's
// return value, so any Driver.Snapshot can be registered directly as a
// perception sensor callback. CommandDriver adds the one outbound
// operation the rest of the system needs: pushing a named command (a
// speed limit, a stop, a reset) to an actuator-capable endpoint.
package driver

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Snapshot/SendCommand when called against a
// driver that hasn't completed Connect (or has since disconnected).
var ErrNotConnected = errors.New("driver: not connected")

// CommandName is the closed set of outbound commands Orchestration's
// executors may issue to a CommandDriver, mirroring the ActionType ladder
// in pkg/decision without importing it (drivers must not depend on
// decision logic).
type CommandName string

const (
	CommandSlow50 CommandName = "slow_50"
	CommandSlow25 CommandName = "slow_25"
	CommandStop   CommandName = "stop"
	CommandEStop  CommandName = "estop"
	CommandReset  CommandName = "reset"
)

// Driver is a read-only sensor endpoint: something that can be connected
// to, polled for a disconnection-aware status, and snapshotted into raw
// id -> value samples.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Snapshot() (map[string]any, error)
}

// CommandDriver is a Driver that also accepts outbound commands, for
// endpoints capable of actuation (the robot controller, a PLC safety
// input) rather than pure sensing.
type CommandDriver interface {
	Driver
	SendCommand(ctx context.Context, name CommandName) error
}
