package hand

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gwillem/orcahand/pkg/bus"
)

const (
	DefaultConfigFile      = "orcahand.yaml"
	DefaultCalibrationFile = "calibration.json"
)

// ConfigError reports a malformed or inconsistent configuration. It is
// fatal: the hand refuses to start rather than run on a bad mapping.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// CalibrationStep drives the listed joints concurrently, each toward
// one directional limit. Steps execute strictly in sequence order.
type CalibrationStep map[JointID]Direction

// CalibrationParams tunes the stall-seeking drive.
type CalibrationParams struct {
	Current    int     `yaml:"current"`     // mA ceiling while seeking
	StepSize   float64 `yaml:"step_size"`   // degrees advanced per tick
	StepPeriod float64 `yaml:"step_period"` // seconds between ticks
	Threshold  float64 `yaml:"threshold"`   // max stable delta, degrees
	NumStable  int     `yaml:"num_stable"`  // consecutive stable ticks for a stall
	MaxSamples int     `yaml:"max_samples"` // per-joint sample ceiling per step

	// Sequence overrides the built-in full-hand sequence when set.
	Sequence []CalibrationStep `yaml:"sequence,omitempty"`
}

// Period returns the tick duration between calibration samples.
func (p CalibrationParams) Period() time.Duration {
	return seconds(p.StepPeriod)
}

// Config is the model file for one hand.
type Config struct {
	Version      string                `yaml:"version"`
	Port         string                `yaml:"port"`
	Baudrate     int                   `yaml:"baudrate"`
	Laterality   string                `yaml:"laterality"` // left or right
	ControlMode  bus.ControlMode       `yaml:"control_mode"`
	MaxCurrent   int                   `yaml:"max_current"` // mA, global ceiling
	TickPeriod   float64               `yaml:"tick_period"` // control loop, seconds
	BusTimeout   float64               `yaml:"bus_timeout"` // per-exchange, seconds
	MotorIDs     []int                 `yaml:"motor_ids,omitempty"`
	JointIDs     []JointID             `yaml:"joint_ids,omitempty"`
	JointToMotor map[JointID]int       `yaml:"joint_to_motor_map"`
	JointROMs    map[JointID][]float64 `yaml:"joint_roms"`
	NeutralPos   map[JointID]float64   `yaml:"neutral_position"`
	Calibration  CalibrationParams     `yaml:"calibration"`
}

// defaultROMs are the nominal per-joint spans in degrees. Calibration
// maps them onto each hand's discovered raw travel.
var defaultROMs = map[JointID][]float64{
	ThumbMCP:  {-50, 50},
	ThumbABD:  {-20, 42},
	ThumbPIP:  {-12, 108},
	ThumbDIP:  {-20, 112},
	IndexABD:  {-37, 37},
	IndexMCP:  {-20, 95},
	IndexPIP:  {-20, 108},
	MiddleABD: {-37, 37},
	MiddleMCP: {-20, 91},
	MiddlePIP: {-20, 107},
	RingABD:   {-37, 37},
	RingMCP:   {-20, 91},
	RingPIP:   {-20, 107},
	PinkyABD:  {-37, 37},
	PinkyMCP:  {-20, 98},
	PinkyPIP:  {-20, 108},
	Wrist:     {-50, 30},
}

// DefaultConfig returns a complete right-hand configuration with motor
// addresses 1..17 in AllJoints order and the neutral pose at zero.
func DefaultConfig() *Config {
	cfg := &Config{
		Version:      "1.0",
		Port:         "/dev/ttyUSB0",
		Baudrate:     1_000_000,
		Laterality:   "right",
		ControlMode:  bus.ModePosition,
		MaxCurrent:   600,
		TickPeriod:   0.02,
		BusTimeout:   0.01,
		JointToMotor: make(map[JointID]int, len(AllJoints())),
		JointROMs:    make(map[JointID][]float64, len(defaultROMs)),
		NeutralPos:   make(map[JointID]float64, len(AllJoints())),
		Calibration: CalibrationParams{
			Current:    300,
			StepSize:   0.5,
			StepPeriod: 0.05,
			Threshold:  0.25,
			NumStable:  25,
			MaxSamples: 1200,
		},
	}
	for i, j := range AllJoints() {
		cfg.JointToMotor[j] = i + 1
		cfg.MotorIDs = append(cfg.MotorIDs, i+1)
		cfg.JointIDs = append(cfg.JointIDs, j)
		cfg.NeutralPos[j] = 0
		rom := defaultROMs[j]
		cfg.JointROMs[j] = []float64{rom[0], rom[1]}
	}
	return cfg
}

// LoadConfig reads a YAML model file, layering it over the defaults,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration as YAML.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

// Validate checks the whole model file. Any violation is a ConfigError
// naming the offending field.
func (c *Config) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if c.Port == "" {
		return bad("port", "missing serial port")
	}
	if c.Baudrate <= 0 {
		return bad("baudrate", "must be positive, got %d", c.Baudrate)
	}
	if c.Laterality != "left" && c.Laterality != "right" {
		return bad("laterality", "must be left or right, got %q", c.Laterality)
	}
	if !c.ControlMode.Valid() {
		return bad("control_mode", "unknown mode %q", c.ControlMode)
	}
	if c.MaxCurrent <= 0 {
		return bad("max_current", "must be positive, got %d", c.MaxCurrent)
	}
	if c.TickPeriod <= 0 {
		return bad("tick_period", "must be positive, got %g", c.TickPeriod)
	}
	if c.BusTimeout <= 0 {
		return bad("bus_timeout", "must be positive, got %g", c.BusTimeout)
	}
	if c.BusTimeout >= c.TickPeriod {
		return bad("bus_timeout", "%gs does not fit inside the %gs control tick", c.BusTimeout, c.TickPeriod)
	}

	p := c.Calibration
	if p.Current <= 0 {
		return bad("calibration.current", "must be positive, got %d", p.Current)
	}
	if p.StepSize <= 0 {
		return bad("calibration.step_size", "must be positive, got %g", p.StepSize)
	}
	if p.Threshold <= 0 {
		return bad("calibration.threshold", "must be positive, got %g", p.Threshold)
	}
	if p.StepSize <= p.Threshold {
		return bad("calibration.step_size", "%g does not exceed threshold %g, so seeking motion itself would read as stable", p.StepSize, p.Threshold)
	}
	if p.NumStable < 2 {
		return bad("calibration.num_stable", "need at least 2 stable ticks, got %d", p.NumStable)
	}
	if p.MaxSamples <= p.NumStable {
		return bad("calibration.max_samples", "%d must exceed num_stable %d", p.MaxSamples, p.NumStable)
	}
	if settle := p.StepPeriod * float64(p.NumStable); settle < 1.0 {
		return bad("calibration.num_stable", "stall window settles in %.2fs, need at least 1s to ride out compliance and backlash", settle)
	}
	if c.BusTimeout >= p.StepPeriod {
		return bad("bus_timeout", "%gs does not fit inside the %gs calibration tick", c.BusTimeout, p.StepPeriod)
	}

	jm, err := NewJointMap(c.JointToMotor)
	if err != nil {
		return err
	}
	for _, j := range AllJoints() {
		if _, ok := c.JointToMotor[j]; !ok {
			return bad("joint_to_motor_map", "joint %s has no motor", j)
		}
	}
	if len(c.JointIDs) > 0 {
		if err := sameJointSet(c.JointIDs); err != nil {
			return bad("joint_ids", "%v", err)
		}
	}
	if len(c.MotorIDs) > 0 {
		if err := sameAddressSet(c.MotorIDs, jm); err != nil {
			return bad("motor_ids", "%v", err)
		}
	}

	for _, j := range AllJoints() {
		rom, ok := c.JointROMs[j]
		if !ok {
			return bad("joint_roms", "joint %s has no span", j)
		}
		if len(rom) != 2 {
			return bad("joint_roms", "%s needs [min, max], got %d values", j, len(rom))
		}
		if rom[0] >= rom[1] {
			return bad("joint_roms", "%s min %.1f not below max %.1f", j, rom[0], rom[1])
		}
		neutral, ok := c.NeutralPos[j]
		if !ok {
			return bad("neutral_position", "joint %s has no neutral", j)
		}
		if neutral < rom[0] || neutral > rom[1] {
			return bad("neutral_position", "%s neutral %.1f outside rom [%.1f, %.1f]", j, neutral, rom[0], rom[1])
		}
	}

	for i, step := range p.Sequence {
		if len(step) == 0 {
			return bad("calibration.sequence", "step %d lists no joints", i)
		}
		for j, d := range step {
			if !KnownJoint(j) {
				return bad("calibration.sequence", "step %d names unknown joint %q", i, j)
			}
			if !d.Valid() {
				return bad("calibration.sequence", "step %d joint %s: unknown direction %q", i, j, d)
			}
		}
	}
	return nil
}

func sameJointSet(joints []JointID) error {
	seen := make(map[JointID]bool, len(joints))
	for _, j := range joints {
		if !KnownJoint(j) {
			return fmt.Errorf("unknown joint %q", j)
		}
		if seen[j] {
			return fmt.Errorf("duplicate joint %q", j)
		}
		seen[j] = true
	}
	if len(seen) != len(AllJoints()) {
		return fmt.Errorf("lists %d joints, hand has %d", len(seen), len(AllJoints()))
	}
	return nil
}

func sameAddressSet(ids []int, jm *JointMap) error {
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		addr := id
		if addr < 0 {
			addr = -addr
		}
		if _, ok := jm.JointFor(addr); !ok {
			return fmt.Errorf("motor %d not in joint_to_motor_map", id)
		}
		if seen[addr] {
			return fmt.Errorf("duplicate motor address %d", addr)
		}
		seen[addr] = true
	}
	if len(seen) != len(jm.Joints()) {
		return fmt.Errorf("lists %d motors, map has %d", len(seen), len(jm.Joints()))
	}
	return nil
}

// JointMap builds the joint-to-motor translation from the config.
func (c *Config) JointMap() (*JointMap, error) {
	return NewJointMap(c.JointToMotor)
}

// Spans returns the logical span and neutral for every joint.
func (c *Config) Spans() map[JointID]Span {
	spans := make(map[JointID]Span, len(c.JointROMs))
	for j, rom := range c.JointROMs {
		spans[j] = Span{Min: rom[0], Max: rom[1], Neutral: c.NeutralPos[j]}
	}
	return spans
}

// EffectiveCalibCurrent is the calibration drive current after the
// global ceiling is applied: the global limit always dominates.
func (c *Config) EffectiveCalibCurrent() int {
	if c.Calibration.Current > c.MaxCurrent {
		return c.MaxCurrent
	}
	return c.Calibration.Current
}

// ResolveJoint accepts a bare joint name or one prefixed with the
// hand's laterality (right_thumb_mcp for a right hand).
func (c *Config) ResolveJoint(name string) (JointID, error) {
	if j := JointID(name); KnownJoint(j) {
		return j, nil
	}
	if rest, ok := strings.CutPrefix(name, c.Laterality+"_"); ok {
		if j := JointID(rest); KnownJoint(j) {
			return j, nil
		}
	}
	return "", errors.Errorf("unknown joint %q", name)
}

// Tick returns the control loop period.
func (c *Config) Tick() time.Duration {
	return seconds(c.TickPeriod)
}

// Timeout returns the per-exchange bus deadline.
func (c *Config) Timeout() time.Duration {
	return seconds(c.BusTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Sequence returns the configured calibration sequence, or the default
// full-hand sequence when the config leaves it unset.
func (c *Config) Sequence() []CalibrationStep {
	if len(c.Calibration.Sequence) > 0 {
		return c.Calibration.Sequence
	}
	return DefaultSequence()
}

// DefaultSequence calibrates every joint in both directions. Flexion
// joints, the thumb spread and the wrist run one at a time; the four
// finger spread joints move together since they cannot collide.
func DefaultSequence() []CalibrationStep {
	fingerSpread := []JointID{IndexABD, MiddleABD, RingABD, PinkyABD}

	var steps []CalibrationStep
	add := func(joints []JointID, d Direction) {
		step := make(CalibrationStep, len(joints))
		for _, j := range joints {
			step[j] = d
		}
		steps = append(steps, step)
	}

	for _, j := range AllJoints() {
		switch j {
		case IndexABD:
			add(fingerSpread, Extend)
			add(fingerSpread, Flex)
		case MiddleABD, RingABD, PinkyABD:
			// covered by the grouped spread steps
		default:
			add([]JointID{j}, Extend)
			add([]JointID{j}, Flex)
		}
	}
	return steps
}
