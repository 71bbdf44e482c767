package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
)

// DefaultServoModel is the servo fitted throughout the hand.
const DefaultServoModel = "sts3215"

// stallCurrentMA approximates the STS3215 stall draw at rated voltage.
// Current limits in mA scale through it onto the servo's permille
// torque_limit register.
const stallCurrentMA = 2700

// FeetechConfig configures the serial adapter.
type FeetechConfig struct {
	Port      string
	Baudrate  int           // defaults to 1 Mbaud
	Timeout   time.Duration // per exchange, must fit inside a control tick
	Addresses []int
	Model     string // defaults to DefaultServoModel

	// Transport overrides the serial port, for tests.
	Transport feetech.Transport
}

// Feetech drives Feetech STS-series servos over a shared serial port.
// Group sync read/write keeps per-tick I/O to one transaction each way.
type Feetech struct {
	mu     sync.Mutex
	bus    *feetech.Bus
	group  *feetech.ServoGroup
	servos map[int]*feetech.Servo
	addrs  []int

	lastPos map[int]int
	lastAt  time.Time
}

var _ Bus = (*Feetech)(nil)

// stsModeValue maps supported control modes onto the STS operating_mode
// register. The register has no torque-control loop, so current mode is
// out; current_based_position is position mode under an active
// torque_limit.
var stsModeValue = map[ControlMode]int{
	ModePosition:             0,
	ModeMultiTurnPosition:    3,
	ModeCurrentBasedPosition: 0,
}

// NewFeetech opens the serial port and prepares a servo group for the
// given addresses.
func NewFeetech(cfg FeetechConfig) (*Feetech, error) {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = 1_000_000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Millisecond
	}
	if cfg.Model == "" {
		cfg.Model = DefaultServoModel
	}
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("no motor addresses configured")
	}
	model, ok := feetech.GetModel(cfg.Model)
	if !ok {
		return nil, errors.Errorf("unknown servo model %q", cfg.Model)
	}

	fb, err := feetech.NewBus(feetech.BusConfig{
		Port:      cfg.Port,
		BaudRate:  cfg.Baudrate,
		Protocol:  feetech.ProtocolSTS,
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open bus on %s", cfg.Port)
	}

	addrs := make([]int, len(cfg.Addresses))
	copy(addrs, cfg.Addresses)
	servos := make(map[int]*feetech.Servo, len(addrs))
	for _, addr := range addrs {
		servos[addr] = feetech.NewServo(fb, addr, model)
	}

	return &Feetech{
		bus:     fb,
		group:   feetech.NewServoGroupByIDs(fb, addrs...),
		servos:  servos,
		addrs:   addrs,
		lastPos: make(map[int]int, len(addrs)),
	}, nil
}

// Addresses returns the served motor addresses.
func (f *Feetech) Addresses() []int {
	addrs := make([]int, len(f.addrs))
	copy(addrs, f.addrs)
	return addrs
}

// ReadTelemetry sync-reads all positions. Velocity is derived from the
// previous read; present current is not part of the sync read frame,
// so stall handling upstream relies on position stability instead.
func (f *Feetech) ReadTelemetry(ctx context.Context) (map[int]Telemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.group.Positions(ctx)
	if err != nil {
		return nil, &TransportError{Op: "sync read", Err: err}
	}

	now := time.Now()
	out := deriveTelemetry(raw, f.lastPos, now.Sub(f.lastAt).Seconds())
	f.lastPos = raw
	f.lastAt = now
	return out, nil
}

// deriveTelemetry turns one positions frame into telemetry samples.
// Velocity comes from the previous frame when the motor appeared in it;
// a motor's first frame reads as velocity zero.
func deriveTelemetry(raw, prev map[int]int, dt float64) map[int]Telemetry {
	out := make(map[int]Telemetry, len(raw))
	for addr, pos := range raw {
		t := Telemetry{Position: pos}
		if p, ok := prev[addr]; ok && dt > 0 {
			t.Velocity = float64(pos-p) / dt
		}
		out[addr] = t
	}
	return out
}

// WriteTargets sync-writes goal positions.
func (f *Feetech) WriteTargets(ctx context.Context, targets map[int]int) error {
	if len(targets) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for addr := range targets {
		if _, ok := f.servos[addr]; !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
	}
	if err := f.group.SetPositions(ctx, feetech.PositionMap(targets)); err != nil {
		return &TransportError{Op: "sync write", Err: err}
	}
	return nil
}

// SetMode drops torque and writes the operating mode on every servo.
func (f *Feetech) SetMode(ctx context.Context, mode ControlMode) error {
	val, ok := stsModeValue[mode]
	if !ok {
		return errors.Wrapf(ErrUnsupportedMode, "%s", mode)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.group.DisableAll(ctx); err != nil {
		return &TransportError{Op: "torque off", Err: err}
	}
	for _, addr := range f.addrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.servos[addr].SetOperatingMode(ctx, val); err != nil {
			return &TransportError{Op: fmt.Sprintf("set mode on servo %d", addr), Err: err}
		}
	}
	return nil
}

// SetCurrentLimits writes per-servo torque limits scaled from mA.
func (f *Feetech) SetCurrentLimits(ctx context.Context, limits map[int]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for addr, ma := range limits {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, ok := f.servos[addr]
		if !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		data := f.bus.Protocol().EncodeWord(uint16(torqueLimitPermille(ma)))
		if err := s.WriteRegister(ctx, "torque_limit", data); err != nil {
			return &TransportError{Op: fmt.Sprintf("set current limit on servo %d", addr), Err: err}
		}
	}
	return nil
}

// torqueLimitPermille converts a current bound in mA to the servo's
// 0..1000 torque_limit scale.
func torqueLimitPermille(ma int) int {
	p := ma * 1000 / stallCurrentMA
	if p < 0 {
		return 0
	}
	if p > 1000 {
		return 1000
	}
	return p
}

// EnableTorque powers the listed servos, or all when none are given.
func (f *Feetech) EnableTorque(ctx context.Context, addrs ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(addrs) == 0 {
		if err := f.group.EnableAll(ctx); err != nil {
			return &TransportError{Op: "torque on", Err: err}
		}
		return nil
	}
	for _, addr := range addrs {
		s, ok := f.servos[addr]
		if !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		if err := s.Enable(ctx); err != nil {
			return &TransportError{Op: fmt.Sprintf("torque on servo %d", addr), Err: err}
		}
	}
	return nil
}

// DisableTorque cuts drive on the listed servos, or all when none are
// given.
func (f *Feetech) DisableTorque(ctx context.Context, addrs ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(addrs) == 0 {
		if err := f.group.DisableAll(ctx); err != nil {
			return &TransportError{Op: "torque off", Err: err}
		}
		return nil
	}
	for _, addr := range addrs {
		s, ok := f.servos[addr]
		if !ok {
			return errors.Errorf("unknown motor address %d", addr)
		}
		if err := s.Disable(ctx); err != nil {
			return &TransportError{Op: fmt.Sprintf("torque off servo %d", addr), Err: err}
		}
	}
	return nil
}

// Close releases the serial port.
func (f *Feetech) Close() error {
	return f.bus.Close()
}
