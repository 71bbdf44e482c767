package hand

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/gwillem/orcahand/pkg/bus"
)

// ErrCalibrating rejects control traffic while the calibration engine
// owns the bus.
var ErrCalibrating = errors.New("hand is calibrating")

// controlRetries is how many extra attempts a control tick grants a
// failed bus exchange before skipping the tick.
const controlRetries = 1

// State is a per-tick snapshot published on States().
type State struct {
	Positions   map[JointID]float64
	Telemetry   map[JointID]bus.Telemetry
	Mode        bus.ControlMode
	Calibrating bool
	Err         error
	Timestamp   time.Time
}

// OutOfRange reports a target that exceeded a calibrated joint's range
// of motion and was clipped to it.
type OutOfRange struct {
	Joint     JointID
	Requested float64
	Clipped   float64
	Timestamp time.Time
}

// Hand drives all joints from a single control loop: one telemetry read
// and one target write per tick, both batched across the bus.
type Hand struct {
	cfg   *Config
	bus   bus.Bus
	jm    *JointMap
	store *ROMStore
	clk   clock.Clock

	mu          sync.Mutex
	running     bool
	calibrating bool
	mode        bus.ControlMode
	targets     map[JointID]float64
	positions   map[JointID]float64
	telemetry   map[JointID]bus.Telemetry
	defaults    map[JointID]JointCalibration

	stateCh chan State
	warnCh  chan OutOfRange
	logCh   chan string
}

// Option adjusts a Hand.
type Option func(*Hand)

// WithClock substitutes the control loop's tick source.
func WithClock(c clock.Clock) Option {
	return func(h *Hand) { h.clk = c }
}

// New validates the configuration and builds a hand over the given bus.
// Joints start uncalibrated on the full-range default mapping; import a
// saved calibration or run the engine to tighten them.
func New(cfg *Config, b bus.Bus, opts ...Option) (*Hand, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	jm, err := cfg.JointMap()
	if err != nil {
		return nil, err
	}

	h := &Hand{
		cfg:       cfg,
		bus:       b,
		jm:        jm,
		store:     NewROMStore(cfg.Spans()),
		clk:       clock.New(),
		mode:      cfg.ControlMode,
		targets:   make(map[JointID]float64),
		positions: make(map[JointID]float64),
		telemetry: make(map[JointID]bus.Telemetry),
		defaults:  make(map[JointID]JointCalibration, len(AllJoints())),
		stateCh:   make(chan State, 1),
		warnCh:    make(chan OutOfRange, 10),
		logCh:     make(chan string, 10),
	}
	for _, j := range jm.Joints() {
		motor, _ := jm.MotorFor(j)
		h.defaults[j] = DefaultJointCalibration(motor.Polarity)
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// States returns a channel of control loop snapshots.
func (h *Hand) States() <-chan State {
	return h.stateCh
}

// Warnings returns a channel of out-of-range clip events.
func (h *Hand) Warnings() <-chan OutOfRange {
	return h.warnCh
}

// Logs returns a channel of log messages.
func (h *Hand) Logs() <-chan string {
	return h.logCh
}

// Store exposes the range-of-motion store shared with the calibration
// engine.
func (h *Hand) Store() *ROMStore {
	return h.store
}

// Mode returns the active control mode.
func (h *Hand) Mode() bus.ControlMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// IsCalibrated reports whether a joint has both range-of-motion bounds.
// Uncalibrated joints still accept targets, unclipped; callers gating
// motion on safety should check this first.
func (h *Hand) IsCalibrated(j JointID) bool {
	_, ok := h.store.ROM(j)
	return ok
}

// FullyCalibrated reports whether every joint has a range of motion.
func (h *Hand) FullyCalibrated() bool {
	return h.store.IsComplete()
}

// ImportCalibration seeds the range-of-motion store from persisted
// records.
func (h *Hand) ImportCalibration(cal Calibration) error {
	return h.store.Import(cal)
}

// Run owns the control loop until the context ends: each tick reads all
// telemetry in one exchange and writes all staged targets in another.
// On shutdown the motors are released.
func (h *Hand) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.New("hand already running")
	}
	h.running = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	h.mu.Lock()
	mode := h.mode
	err := h.reinitLocked(ctx, mode)
	if err == nil {
		h.stageNeutralLocked()
	}
	h.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "initialize hand")
	}
	h.log("hand running: %d joints, %s mode, %.0fms tick",
		len(h.jm.Joints()), mode, h.cfg.TickPeriod*1000)

	ticker := h.clk.Ticker(h.cfg.Tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case <-ticker.C:
			h.step(ctx)
		}
	}
}

// step runs one control tick. The lock spans all bus traffic so mode
// switches and the calibration latch can never interleave mid-exchange.
func (h *Hand) step(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.calibrating {
		return // engine owns the bus
	}

	tel, err := h.readLocked(ctx)
	if err != nil {
		h.log("tick skipped: %v", err)
		h.sendState(State{
			Mode:      h.mode,
			Err:       err,
			Timestamp: time.Now(),
		})
		return
	}
	for addr, t := range tel {
		j, ok := h.jm.JointFor(addr)
		if !ok {
			continue
		}
		h.positions[j] = h.calFor(j).ToDegrees(t.Position)
		h.telemetry[j] = t
	}

	if len(h.targets) > 0 {
		if err := h.writeTargetsLocked(ctx); err != nil {
			h.log("target write skipped: %v", err)
		}
	}

	h.sendState(State{
		Positions: h.positionsCopy(),
		Telemetry: h.telemetryCopy(),
		Mode:      h.mode,
		Timestamp: time.Now(),
	})
}

func (h *Hand) readLocked(ctx context.Context) (map[int]bus.Telemetry, error) {
	var err error
	for attempt := 0; attempt <= controlRetries; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout())
		tel, rerr := h.bus.ReadTelemetry(tctx)
		cancel()
		if rerr == nil {
			return tel, nil
		}
		err = rerr
	}
	return nil, err
}

// writeTargetsLocked converts every staged logical target to raw ticks
// and ships the batch in one sync write.
func (h *Hand) writeTargetsLocked(ctx context.Context) error {
	batch := make(map[int]int, len(h.targets))
	for j, deg := range h.targets {
		motor, ok := h.jm.MotorFor(j)
		if !ok {
			continue
		}
		ticks := h.calFor(j).ToTicks(deg)
		if ticks < 0 {
			ticks = 0
		}
		if ticks > EncoderMax {
			ticks = EncoderMax
		}
		batch[motor.Address] = ticks
	}
	if len(batch) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt <= controlRetries; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout())
		werr := h.bus.WriteTargets(tctx, batch)
		cancel()
		if werr == nil {
			return nil
		}
		err = werr
	}
	return err
}

// calFor returns the joint's calibrated mapping, or the full-range
// default when no bounds are recorded yet.
func (h *Hand) calFor(j JointID) JointCalibration {
	if cal, ok := h.store.ROM(j); ok {
		return cal
	}
	return h.defaults[j]
}

// SetTarget stages a logical target in degrees. Calibrated joints are
// clipped to their range of motion; clips are reported on Warnings()
// and the clipped value is driven. Uncalibrated joints pass through
// unclipped on the default mapping.
func (h *Hand) SetTarget(j JointID, deg float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setTargetLocked(j, deg)
}

// SetTargets stages a pose. The whole batch is validated before any
// joint is staged.
func (h *Hand) SetTargets(pose map[JointID]float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for j := range pose {
		if _, ok := h.jm.MotorFor(j); !ok {
			return errors.Errorf("unknown joint %q", j)
		}
	}
	for j, deg := range pose {
		if err := h.setTargetLocked(j, deg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hand) setTargetLocked(j JointID, deg float64) error {
	if h.calibrating {
		return ErrCalibrating
	}
	if _, ok := h.jm.MotorFor(j); !ok {
		return errors.Errorf("unknown joint %q", j)
	}
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		// NaN slips past the range clip and converts to a raw extreme.
		return errors.Errorf("target for %s is not a finite angle: %v", j, deg)
	}

	if cal, ok := h.store.ROM(j); ok {
		clipped, wasClipped := cal.Clip(deg)
		if wasClipped {
			h.warn(OutOfRange{
				Joint:     j,
				Requested: deg,
				Clipped:   clipped,
				Timestamp: time.Now(),
			})
			deg = clipped
		}
	}
	h.targets[j] = deg
	return nil
}

// Neutral drives every calibrated joint to its configured rest
// position. With the loop running the pose is staged for the next tick;
// otherwise the hand is initialized and the pose written directly.
func (h *Hand) Neutral(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.calibrating {
		return ErrCalibrating
	}
	if h.running {
		h.stageNeutralLocked()
		return nil
	}
	if err := h.reinitLocked(ctx, h.mode); err != nil {
		return errors.Wrap(err, "initialize hand")
	}
	h.stageNeutralLocked()
	return h.writeTargetsLocked(ctx)
}

// stageNeutralLocked stages the rest pose for every calibrated joint.
// Uncalibrated joints are left alone: without bounds a neutral target
// could drive into a hard stop.
func (h *Hand) stageNeutralLocked() {
	for _, j := range h.store.Joints() {
		if cal, ok := h.store.ROM(j); ok {
			h.targets[j] = cal.Neutral
		}
	}
}

// SetMode switches every motor to the given control mode, restores the
// current limit and re-enables torque. Staged targets are dropped since
// they only mean something in the mode that staged them.
func (h *Hand) SetMode(ctx context.Context, mode bus.ControlMode) error {
	if !mode.Valid() {
		return errors.Wrapf(bus.ErrUnsupportedMode, "%s", mode)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calibrating {
		return ErrCalibrating
	}
	if err := h.reinitLocked(ctx, mode); err != nil {
		return errors.Wrapf(err, "switch to %s", mode)
	}
	h.targets = make(map[JointID]float64)
	h.log("control mode now %s", mode)
	return nil
}

// BeginCalibration parks the control loop and hands the bus to the
// calibration engine. Control traffic is rejected until
// EndCalibration.
func (h *Hand) BeginCalibration() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.calibrating {
		return errors.New("calibration already in progress")
	}
	h.calibrating = true
	h.targets = make(map[JointID]float64)
	h.log("control parked for calibration")
	return nil
}

// EndCalibration takes the bus back. With the loop running the hand is
// re-initialized in its previous mode and freshly calibrated joints are
// staged to their rest positions.
func (h *Hand) EndCalibration(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.calibrating {
		return errors.New("not calibrating")
	}
	h.calibrating = false
	if !h.running {
		return nil
	}
	if err := h.reinitLocked(ctx, h.mode); err != nil {
		return errors.Wrap(err, "reinitialize after calibration")
	}
	h.stageNeutralLocked()
	h.log("control resumed after calibration")
	return nil
}

// EnableTorque powers all motors.
func (h *Hand) EnableTorque(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calibrating {
		return ErrCalibrating
	}
	return h.bus.EnableTorque(ctx)
}

// DisableTorque releases all motors. Staged targets are dropped so a
// later enable does not snap joints back to stale positions.
func (h *Hand) DisableTorque(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calibrating {
		return ErrCalibrating
	}
	h.targets = make(map[JointID]float64)
	return h.bus.DisableTorque(ctx)
}

// Positions returns the last observed logical position per joint.
func (h *Hand) Positions() map[JointID]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.positionsCopy()
}

// Close releases the underlying bus.
func (h *Hand) Close() error {
	return h.bus.Close()
}

// reinitLocked pushes mode, current limits and torque to every motor.
func (h *Hand) reinitLocked(ctx context.Context, mode bus.ControlMode) error {
	if err := h.bus.SetMode(ctx, mode); err != nil {
		return err
	}
	limits := make(map[int]int, len(h.jm.Joints()))
	for _, addr := range h.jm.Addresses() {
		limits[addr] = h.cfg.MaxCurrent
	}
	if err := h.bus.SetCurrentLimits(ctx, limits); err != nil {
		return err
	}
	if err := h.bus.EnableTorque(ctx); err != nil {
		return err
	}
	h.mode = mode
	return nil
}

// shutdown releases the motors when the loop exits. The loop context is
// already dead, so a fresh deadline covers the final exchange.
func (h *Hand) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.bus.DisableTorque(ctx); err != nil {
		h.log("release on shutdown: %v", err)
	}
	h.log("hand stopped")
}

func (h *Hand) positionsCopy() map[JointID]float64 {
	out := make(map[JointID]float64, len(h.positions))
	for j, p := range h.positions {
		out[j] = p
	}
	return out
}

func (h *Hand) telemetryCopy() map[JointID]bus.Telemetry {
	out := make(map[JointID]bus.Telemetry, len(h.telemetry))
	for j, t := range h.telemetry {
		out[j] = t
	}
	return out
}

func (h *Hand) sendState(s State) {
	s.Calibrating = h.calibrating
	select {
	case h.stateCh <- s:
	default:
		// Drop old snapshot, replace with new
		select {
		case <-h.stateCh:
		default:
		}
		h.stateCh <- s
	}
}

func (h *Hand) warn(w OutOfRange) {
	select {
	case h.warnCh <- w:
	default:
		// Drop if channel full
	}
}

func (h *Hand) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case h.logCh <- msg:
	default:
		// Drop if channel full
	}
}
