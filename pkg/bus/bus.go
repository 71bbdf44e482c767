// Package bus abstracts the shared serial servo bus: batched telemetry
// and target I/O, control-mode switching, current limits and torque.
package bus

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ControlMode selects how every motor on the bus interprets target
// commands. It is a whole-bus setting; switching is an explicit,
// non-concurrent operation.
type ControlMode string

const (
	ModeCurrent              ControlMode = "current"
	ModeVelocity             ControlMode = "velocity"
	ModePosition             ControlMode = "position"
	ModeMultiTurnPosition    ControlMode = "multi_turn_position"
	ModeCurrentBasedPosition ControlMode = "current_based_position"
)

// Valid reports whether m names a known control mode.
func (m ControlMode) Valid() bool {
	switch m {
	case ModeCurrent, ModeVelocity, ModePosition, ModeMultiTurnPosition, ModeCurrentBasedPosition:
		return true
	}
	return false
}

// ErrUnsupportedMode is returned by adapters whose hardware cannot
// realize the requested control mode.
var ErrUnsupportedMode = errors.New("control mode not supported by this servo")

// Telemetry is one motor's readback sample. Position is always
// populated. Current and Velocity are best effort: adapters whose
// per-tick transaction carries only positions leave Current zero and
// derive Velocity from consecutive reads.
type Telemetry struct {
	Position int     // encoder ticks
	Current  int     // mA, signed by drive direction, when available
	Velocity float64 // ticks per second
}

// TransportError wraps a failed bus exchange. Transient by contract:
// callers retry a bounded number of times before escalating.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Bus is the motor-bus boundary. One ReadTelemetry and at most one
// WriteTargets per control tick keep bus occupancy bounded. Every call
// can fail and must be treated as such.
type Bus interface {
	// Addresses returns the motor addresses the bus serves.
	Addresses() []int
	// ReadTelemetry samples every motor in one transaction.
	ReadTelemetry(ctx context.Context) (map[int]Telemetry, error)
	// WriteTargets sends per-motor targets in one transaction,
	// interpreted per the active control mode.
	WriteTargets(ctx context.Context, targets map[int]int) error
	// SetMode switches every motor into the given mode. Torque drops
	// during the switch; callers re-enable afterwards.
	SetMode(ctx context.Context, mode ControlMode) error
	// SetCurrentLimits bounds per-motor current draw in mA.
	SetCurrentLimits(ctx context.Context, limits map[int]int) error
	// EnableTorque powers the listed motors, or all when none given.
	EnableTorque(ctx context.Context, addrs ...int) error
	// DisableTorque cuts drive on the listed motors (all when none
	// given), leaving them compliant.
	DisableTorque(ctx context.Context, addrs ...int) error
	Close() error
}
