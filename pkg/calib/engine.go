package calib

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/gwillem/orcahand/pkg/bus"
	"github.com/gwillem/orcahand/pkg/hand"
)

// State names the engine's position in its run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateAdvancing State = "advancing"
	StateComplete  State = "complete"
	StateAborted   State = "aborted"
)

// Phase names one joint's progress within the active step.
type Phase string

const (
	PhaseSeeking     Phase = "seeking"
	PhaseStabilizing Phase = "stabilizing"
	PhaseRecorded    Phase = "recorded"
)

// JointProgress is one joint's view within the active step.
type JointProgress struct {
	Joint     hand.JointID
	Direction hand.Direction
	Phase     Phase
	Position  int // raw ticks
	Samples   int
}

// Event is a progress snapshot published on States().
type Event struct {
	State     State
	Step      int // 0-based index into the sequence
	Steps     int
	Joints    []JointProgress
	Err       error
	Timestamp time.Time
}

// ErrIncomplete reports a finished sequence that left at least one
// joint without both bounds. Non-fatal: recorded bounds stay usable.
var ErrIncomplete = errors.New("calibration incomplete")

// StallTimeoutError aborts a run when a joint keeps moving past the
// sample ceiling without settling.
type StallTimeoutError struct {
	Joint hand.JointID
	Step  int
}

func (e *StallTimeoutError) Error() string {
	return fmt.Sprintf("joint %s never stalled in step %d", e.Joint, e.Step)
}

// NoTravelError aborts a run when a joint's second stop lands on its
// first, within the detector's noise band. The rejected stop never
// enters the store.
type NoTravelError struct {
	Joint hand.JointID
	Step  int
	Stop  int // raw position of the rejected stop
	Prior int // raw position of the bound already recorded
}

func (e *NoTravelError) Error() string {
	return fmt.Sprintf("joint %s did not travel in step %d: stops at %d and %d", e.Joint, e.Step, e.Stop, e.Prior)
}

// Config tunes the stall-seeking drive. Current must already honor the
// global ceiling; RestoreCurrent is written back once seeking ends.
type Config struct {
	Current        int // mA while seeking
	RestoreCurrent int // mA afterwards
	StepSize       float64
	StepPeriod     time.Duration
	Threshold      float64 // degrees
	NumStable      int
	MaxSamples     int
	Retries        int           // extra bus attempts per tick
	Timeout        time.Duration // per bus exchange
}

func (c Config) withDefaults() Config {
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 10000
	}
	if c.RestoreCurrent <= 0 {
		c.RestoreCurrent = c.Current
	}
	// All attempts of one tick must fit inside that tick.
	if c.Timeout <= 0 {
		if c.StepPeriod > 0 {
			c.Timeout = c.StepPeriod / time.Duration(c.Retries+1)
		} else {
			c.Timeout = 10 * time.Millisecond
		}
	}
	return c
}

// FromHandConfig derives engine tuning from the model file. The global
// current limit dominates the calibration current.
func FromHandConfig(c *hand.Config) Config {
	return Config{
		Current:        c.EffectiveCalibCurrent(),
		RestoreCurrent: c.MaxCurrent,
		StepSize:       c.Calibration.StepSize,
		StepPeriod:     c.Calibration.Period(),
		Threshold:      c.Calibration.Threshold,
		NumStable:      c.Calibration.NumStable,
		MaxSamples:     c.Calibration.MaxSamples,
	}
}

// Engine interprets an ordered calibration sequence against the bus,
// recording each discovered bound into the ROM store.
type Engine struct {
	cfg   Config
	bus   bus.Bus
	jm    *hand.JointMap
	store *hand.ROMStore
	seq   []hand.CalibrationStep
	clk   clock.Clock

	mu      sync.Mutex
	running bool

	stateCh chan Event
	logCh   chan string
}

// Option adjusts an Engine.
type Option func(*Engine)

// WithClock substitutes the tick source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// New builds an engine over the given bus that records into store. A
// nil sequence runs the default full-hand sequence.
func New(cfg Config, b bus.Bus, jm *hand.JointMap, store *hand.ROMStore, seq []hand.CalibrationStep, opts ...Option) *Engine {
	if seq == nil {
		seq = hand.DefaultSequence()
	}
	e := &Engine{
		cfg:     cfg.withDefaults(),
		bus:     b,
		jm:      jm,
		store:   store,
		seq:     seq,
		clk:     clock.New(),
		stateCh: make(chan Event, 1),
		logCh:   make(chan string, 10),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// States returns a channel of progress snapshots.
func (e *Engine) States() <-chan Event {
	return e.stateCh
}

// Logs returns a channel of log messages.
func (e *Engine) Logs() <-chan string {
	return e.logCh
}

// Steps returns the number of steps in the sequence.
func (e *Engine) Steps() int {
	return len(e.seq)
}

func (e *Engine) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case e.logCh <- msg:
	default:
		// Drop if channel full
	}
}

func (e *Engine) sendEvent(ev Event) {
	select {
	case e.stateCh <- ev:
	default:
		// Drop old snapshot, replace with new
		select {
		case <-e.stateCh:
		default:
		}
		e.stateCh <- ev
	}
}

// jointRun tracks one joint through one step.
type jointRun struct {
	joint    hand.JointID
	dir      hand.Direction
	motor    hand.Motor
	det      *Detector
	goal     float64 // raw ticks, ratcheted each tick
	position int
	samples  int
	recorded bool
	phase    Phase
}

// Run executes the sequence. Calibration is exclusive: the caller must
// keep other bus traffic parked until Run returns. Cancelling the
// context aborts immediately; bounds already recorded stay in the
// store.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("calibration already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.validateSequence(); err != nil {
		return err
	}

	if err := e.bus.SetMode(ctx, bus.ModeCurrentBasedPosition); err != nil {
		cause := errors.Wrap(err, "enter calibration drive mode")
		e.sendEvent(Event{State: StateAborted, Steps: len(e.seq), Err: cause, Timestamp: time.Now()})
		return cause
	}
	e.log("calibration started: %d steps", len(e.seq))

	ticker := e.clk.Ticker(e.cfg.StepPeriod)
	defer ticker.Stop()

	for i := range e.seq {
		if err := e.runStep(ctx, i, ticker); err != nil {
			return err
		}
		e.sendEvent(Event{State: StateAdvancing, Step: i, Steps: len(e.seq), Timestamp: time.Now()})
	}

	if !e.store.IsComplete() {
		e.sendEvent(Event{State: StateAborted, Step: len(e.seq) - 1, Steps: len(e.seq), Err: ErrIncomplete, Timestamp: time.Now()})
		e.log("sequence finished without full coverage")
		return ErrIncomplete
	}
	e.sendEvent(Event{State: StateComplete, Step: len(e.seq) - 1, Steps: len(e.seq), Timestamp: time.Now()})
	e.log("calibration complete")
	return nil
}

// validateSequence fails fast on a sequence the joint map cannot serve.
func (e *Engine) validateSequence() error {
	if len(e.seq) == 0 {
		return &hand.ConfigError{Field: "calibration.sequence", Reason: "no steps"}
	}
	for i, step := range e.seq {
		if len(step) == 0 {
			return &hand.ConfigError{Field: "calibration.sequence", Reason: fmt.Sprintf("step %d lists no joints", i)}
		}
		for j, d := range step {
			if !d.Valid() {
				return &hand.ConfigError{Field: "calibration.sequence", Reason: fmt.Sprintf("step %d joint %s: unknown direction %q", i, j, d)}
			}
			if _, ok := e.jm.MotorFor(j); !ok {
				return &hand.ConfigError{Field: "calibration.sequence", Reason: fmt.Sprintf("step %d names unmapped joint %q", i, j)}
			}
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, idx int, ticker *clock.Ticker) error {
	step := e.seq[idx]

	runs := make([]*jointRun, 0, len(step))
	limits := make(map[int]int, len(step))
	addrs := make([]int, 0, len(step))
	for _, j := range stepJoints(step) {
		motor, _ := e.jm.MotorFor(j)
		runs = append(runs, &jointRun{
			joint: j,
			dir:   step[j],
			motor: motor,
			det:   NewDetector(e.cfg.Threshold*hand.TicksPerDegree, e.cfg.NumStable),
			phase: PhaseSeeking,
		})
		limits[motor.Address] = e.cfg.Current
		addrs = append(addrs, motor.Address)
	}

	tel, err := e.readAll(ctx)
	if err != nil {
		return e.abortStep(idx, runs, err)
	}
	for _, r := range runs {
		t, ok := tel[r.motor.Address]
		if !ok {
			return e.abortStep(idx, runs, errors.Errorf("no telemetry for motor %d (%s)", r.motor.Address, r.joint))
		}
		r.goal = float64(t.Position)
		r.position = t.Position
	}

	if err := e.bus.SetCurrentLimits(ctx, limits); err != nil {
		return e.abortStep(idx, runs, err)
	}
	if err := e.bus.EnableTorque(ctx, addrs...); err != nil {
		return e.abortStep(idx, runs, err)
	}
	e.log("step %d/%d: %s", idx+1, len(e.seq), describeStep(step))

	stepTicks := e.cfg.StepSize * hand.TicksPerDegree
	for {
		select {
		case <-ctx.Done():
			return e.abortStep(idx, runs, ctx.Err())
		case <-ticker.C:
		}

		tel, err := e.readAll(ctx)
		if err != nil {
			return e.abortStep(idx, runs, err)
		}

		targets := make(map[int]int, len(runs))
		done := true
		for _, r := range runs {
			if r.recorded {
				continue
			}
			t, ok := tel[r.motor.Address]
			if !ok {
				// A motor silent in an otherwise good read still
				// consumes a sample; the ceiling covers it too.
				r.samples++
				if r.samples >= e.cfg.MaxSamples {
					return e.abortStep(idx, runs, &StallTimeoutError{Joint: r.joint, Step: idx})
				}
				done = false
				continue
			}
			r.position = t.Position
			r.samples++

			if r.det.Observe(t.Position) {
				if err := e.checkTravel(idx, r, t.Position); err != nil {
					return e.abortStep(idx, runs, err)
				}
				if err := e.store.RecordBound(r.joint, r.dir, t.Position); err != nil {
					return e.abortStep(idx, runs, err)
				}
				r.recorded = true
				r.phase = PhaseRecorded
				// Stop grinding against the end-stop.
				if err := e.bus.DisableTorque(ctx, r.motor.Address); err != nil {
					e.log("release %s: %v", r.joint, err)
				}
				e.log("%s %s limit at %d", r.joint, r.dir, t.Position)
				continue
			}
			if r.det.Streak() > 0 {
				r.phase = PhaseStabilizing
			} else {
				r.phase = PhaseSeeking
			}
			if r.samples >= e.cfg.MaxSamples {
				return e.abortStep(idx, runs, &StallTimeoutError{Joint: r.joint, Step: idx})
			}

			done = false
			r.goal += stepTicks * r.dir.Sign() * float64(r.motor.Polarity)
			if r.goal < 0 {
				r.goal = 0
			}
			if r.goal > hand.EncoderMax {
				r.goal = hand.EncoderMax
			}
			targets[r.motor.Address] = int(math.Round(r.goal))
		}

		if len(targets) > 0 {
			if err := e.writeAll(ctx, targets); err != nil {
				return e.abortStep(idx, runs, err)
			}
		}
		e.sendEvent(Event{State: StateRunning, Step: idx, Steps: len(e.seq), Joints: progress(runs), Timestamp: time.Now()})

		if done {
			break
		}
	}

	if err := e.release(ctx, addrs); err != nil {
		e.log("release after step %d: %v", idx+1, err)
	}
	return nil
}

// checkTravel rejects a stop that coincides with the joint's opposite
// bound. Two stops inside the detector's noise band mean the joint
// never moved between them, so the pair cannot anchor a range.
func (e *Engine) checkTravel(idx int, r *jointRun, raw int) error {
	bound, ok := hand.BoundFor(r.joint.Class(), r.dir)
	if !ok {
		return nil
	}
	prior, ok := e.store.Bound(r.joint, bound.Opposite())
	if !ok {
		return nil
	}
	minSpan := e.cfg.Threshold * hand.TicksPerDegree
	if minSpan < 1 {
		minSpan = 1
	}
	if math.Abs(float64(raw-prior)) <= minSpan {
		return &NoTravelError{Joint: r.joint, Step: idx, Stop: raw, Prior: prior}
	}
	return nil
}

// abortStep releases the step's joints, reports the abort and returns
// the cause combined with any release failure.
func (e *Engine) abortStep(idx int, runs []*jointRun, cause error) error {
	addrs := make([]int, 0, len(runs))
	for _, r := range runs {
		addrs = append(addrs, r.motor.Address)
	}
	relErr := e.release(context.Background(), addrs)

	e.sendEvent(Event{State: StateAborted, Step: idx, Steps: len(e.seq), Joints: progress(runs), Err: cause, Timestamp: time.Now()})
	e.log("calibration aborted at step %d: %v", idx+1, cause)
	return multierr.Combine(cause, relErr)
}

// release cuts drive on the given motors and restores the operating
// current limit.
func (e *Engine) release(ctx context.Context, addrs []int) error {
	if len(addrs) == 0 {
		return nil
	}
	restore := make(map[int]int, len(addrs))
	for _, a := range addrs {
		restore[a] = e.cfg.RestoreCurrent
	}
	var err error
	if derr := e.bus.DisableTorque(ctx, addrs...); derr != nil {
		err = multierr.Append(err, derr)
	}
	if lerr := e.bus.SetCurrentLimits(ctx, restore); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}

func (e *Engine) readAll(ctx context.Context) (map[int]bus.Telemetry, error) {
	var err error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		tel, rerr := e.bus.ReadTelemetry(tctx)
		cancel()
		if rerr == nil {
			return tel, nil
		}
		err = rerr
	}
	return nil, errors.Wrapf(err, "after %d attempts", e.cfg.Retries+1)
}

func (e *Engine) writeAll(ctx context.Context, targets map[int]int) error {
	var err error
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		werr := e.bus.WriteTargets(tctx, targets)
		cancel()
		if werr == nil {
			return nil
		}
		err = werr
	}
	return errors.Wrapf(err, "after %d attempts", e.cfg.Retries+1)
}

// stepJoints returns a step's joints in AllJoints order.
func stepJoints(step hand.CalibrationStep) []hand.JointID {
	joints := make([]hand.JointID, 0, len(step))
	for _, j := range hand.AllJoints() {
		if _, ok := step[j]; ok {
			joints = append(joints, j)
		}
	}
	return joints
}

func describeStep(step hand.CalibrationStep) string {
	parts := make([]string, 0, len(step))
	for _, j := range stepJoints(step) {
		parts = append(parts, fmt.Sprintf("%s %s", j, step[j]))
	}
	return strings.Join(parts, ", ")
}

func progress(runs []*jointRun) []JointProgress {
	out := make([]JointProgress, len(runs))
	for i, r := range runs {
		out[i] = JointProgress{
			Joint:     r.joint,
			Direction: r.dir,
			Phase:     r.phase,
			Position:  r.position,
			Samples:   r.samples,
		}
	}
	return out
}
