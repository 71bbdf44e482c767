package bus

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FakeServo is the scripted mechanics of one motor on a Fake bus: it
// slews toward its goal between reads and pins against its hard stops.
type FakeServo struct {
	Position float64 // raw ticks
	Goal     float64
	Slew     float64 // ticks moved toward the goal per read
	StopLow  float64 // mechanical stops
	StopHigh float64
	Jitter   float64 // alternating read-to-read wobble, ticks
	Current  int     // reported draw, mA
}

// Fake is an in-memory Bus with deterministic mechanics, used by tests
// and the --fake dry-run mode.
type Fake struct {
	mu     sync.Mutex
	servos map[int]*FakeServo
	addrs  []int
	flip   float64

	mode     ControlMode
	modes    []ControlMode
	limits   map[int]int
	enabled  map[int]bool
	writes   []map[int]int
	lastRead time.Time

	failReads  int
	failWrites int
	closed     bool
}

var _ Bus = (*Fake)(nil)

// NewFake builds a fake bus with one servo per address, parked at
// mid-range with full encoder travel.
func NewFake(addrs ...int) *Fake {
	f := &Fake{
		servos:  make(map[int]*FakeServo, len(addrs)),
		addrs:   make([]int, len(addrs)),
		flip:    1,
		mode:    ModePosition,
		limits:  make(map[int]int, len(addrs)),
		enabled: make(map[int]bool, len(addrs)),
	}
	copy(f.addrs, addrs)
	for _, addr := range addrs {
		f.servos[addr] = &FakeServo{
			Position: 2048,
			Goal:     2048,
			Slew:     60,
			StopLow:  0,
			StopHigh: 4095,
		}
	}
	return f
}

// Servo exposes one motor's mechanics for test setup.
func (f *Fake) Servo(addr int) *FakeServo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servos[addr]
}

// FailReads makes the next n reads fail.
func (f *Fake) FailReads(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = n
}

// FailWrites makes the next n target writes fail.
func (f *Fake) FailWrites(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = n
}

// Writes returns every target batch sent, oldest first.
func (f *Fake) Writes() []map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[int]int, len(f.writes))
	copy(out, f.writes)
	return out
}

// LastWrite returns the most recent target batch, or nil.
func (f *Fake) LastWrite() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

// Mode returns the active control mode.
func (f *Fake) Mode() ControlMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// ModeHistory returns every mode switch in order.
func (f *Fake) ModeHistory() []ControlMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ControlMode, len(f.modes))
	copy(out, f.modes)
	return out
}

// Limits returns the current limit written per address, in mA.
func (f *Fake) Limits() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.limits))
	for a, ma := range f.limits {
		out[a] = ma
	}
	return out
}

// Enabled reports whether a motor's torque is on.
func (f *Fake) Enabled(addr int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[addr]
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Addresses returns the fake motor addresses.
func (f *Fake) Addresses() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.addrs))
	copy(out, f.addrs)
	return out
}

// ReadTelemetry advances each servo's mechanics one step and reports
// the result. Disabled servos do not move; jitter wobbles regardless.
func (f *Fake) ReadTelemetry(ctx context.Context) (map[int]Telemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failReads > 0 {
		f.failReads--
		return nil, &TransportError{Op: "sync read", Err: errors.New("injected read failure")}
	}

	now := time.Now()
	dt := now.Sub(f.lastRead).Seconds()
	priming := f.lastRead.IsZero()
	f.lastRead = now

	f.flip = -f.flip
	out := make(map[int]Telemetry, len(f.servos))
	for addr, s := range f.servos {
		prev := s.Position
		if f.enabled[addr] {
			delta := s.Goal - s.Position
			if delta > s.Slew {
				delta = s.Slew
			}
			if delta < -s.Slew {
				delta = -s.Slew
			}
			s.Position += delta
		}
		if s.Jitter != 0 {
			s.Position += s.Jitter * f.flip
		}
		if s.Position < s.StopLow {
			s.Position = s.StopLow
		}
		if s.Position > s.StopHigh {
			s.Position = s.StopHigh
		}
		var vel float64
		if !priming && dt > 0 {
			vel = (s.Position - prev) / dt
		}
		out[addr] = Telemetry{
			Position: int(math.Round(s.Position)),
			Current:  s.Current,
			Velocity: vel,
		}
	}
	return out, nil
}

// WriteTargets records the batch and retargets the named servos.
func (f *Fake) WriteTargets(ctx context.Context, targets map[int]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWrites > 0 {
		f.failWrites--
		return &TransportError{Op: "sync write", Err: errors.New("injected write failure")}
	}

	batch := make(map[int]int, len(targets))
	for addr, pos := range targets {
		s, ok := f.servos[addr]
		if !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		s.Goal = float64(pos)
		batch[addr] = pos
	}
	f.writes = append(f.writes, batch)
	return nil
}

// SetMode records the switch and drops torque, as the hardware does.
func (f *Fake) SetMode(ctx context.Context, mode ControlMode) error {
	if !mode.Valid() {
		return errors.Wrapf(ErrUnsupportedMode, "%s", mode)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mode = mode
	f.modes = append(f.modes, mode)
	for addr := range f.enabled {
		f.enabled[addr] = false
	}
	return nil
}

// SetCurrentLimits records per-motor limits.
func (f *Fake) SetCurrentLimits(ctx context.Context, limits map[int]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for addr, ma := range limits {
		if _, ok := f.servos[addr]; !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		f.limits[addr] = ma
	}
	return nil
}

// EnableTorque powers the listed motors, or all when none given.
func (f *Fake) EnableTorque(ctx context.Context, addrs ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(addrs) == 0 {
		addrs = f.addrs
	}
	for _, addr := range addrs {
		if _, ok := f.servos[addr]; !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		f.enabled[addr] = true
	}
	return nil
}

// DisableTorque cuts drive on the listed motors, or all when none
// given.
func (f *Fake) DisableTorque(ctx context.Context, addrs ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(addrs) == 0 {
		addrs = f.addrs
	}
	for _, addr := range addrs {
		if _, ok := f.servos[addr]; !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		f.enabled[addr] = false
	}
	return nil
}

// Close marks the bus closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
