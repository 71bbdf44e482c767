package hand

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := len(cfg.JointToMotor); got != len(AllJoints()) {
		t.Errorf("map covers %d joints, want %d", got, len(AllJoints()))
	}
	if got := cfg.Spans()[ThumbMCP]; got != (Span{Min: -50, Max: 50, Neutral: 0}) {
		t.Errorf("thumb_mcp span = %+v", got)
	}
}

func TestConfigValidateViolations(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantField  string
		wantReason string // optional substring
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "port", ""},
		{"bad baudrate", func(c *Config) { c.Baudrate = 0 }, "baudrate", ""},
		{"bad laterality", func(c *Config) { c.Laterality = "up" }, "laterality", ""},
		{"bad control mode", func(c *Config) { c.ControlMode = "warp" }, "control_mode", ""},
		{"bad max current", func(c *Config) { c.MaxCurrent = 0 }, "max_current", ""},
		{"bad tick period", func(c *Config) { c.TickPeriod = 0 }, "tick_period", ""},
		{"bad bus timeout", func(c *Config) { c.BusTimeout = -1 }, "bus_timeout", ""},
		{"timeout swallows tick", func(c *Config) { c.BusTimeout = 0.05 }, "bus_timeout", "control tick"},
		{"timeout swallows calibration tick", func(c *Config) {
			c.TickPeriod = 0.1
			c.BusTimeout = 0.06
		}, "bus_timeout", "calibration tick"},
		{"bad calibration current", func(c *Config) { c.Calibration.Current = 0 }, "calibration.current", ""},
		{"bad step size", func(c *Config) { c.Calibration.StepSize = 0 }, "calibration.step_size", ""},
		{"bad threshold", func(c *Config) { c.Calibration.Threshold = 0 }, "calibration.threshold", ""},
		{"step inside noise floor", func(c *Config) { c.Calibration.StepSize = 0.2 }, "calibration.step_size", "stable"},
		{"num_stable too small", func(c *Config) { c.Calibration.NumStable = 1 }, "calibration.num_stable", ""},
		{"max_samples too small", func(c *Config) { c.Calibration.MaxSamples = 10 }, "calibration.max_samples", ""},
		{"stall window too short", func(c *Config) { c.Calibration.StepPeriod = 0.01 }, "calibration.num_stable", "settle"},
		{"unmapped joint", func(c *Config) { delete(c.JointToMotor, ThumbMCP) }, "joint_to_motor_map", ""},
		{"duplicate joint_ids", func(c *Config) { c.JointIDs[0] = c.JointIDs[1] }, "joint_ids", ""},
		{"stray motor_ids", func(c *Config) { c.MotorIDs[0] = 99 }, "motor_ids", ""},
		{"missing rom", func(c *Config) { delete(c.JointROMs, Wrist) }, "joint_roms", ""},
		{"short rom", func(c *Config) { c.JointROMs[Wrist] = []float64{10} }, "joint_roms", ""},
		{"inverted rom", func(c *Config) { c.JointROMs[Wrist] = []float64{30, -50} }, "joint_roms", ""},
		{"missing neutral", func(c *Config) { delete(c.NeutralPos, Wrist) }, "neutral_position", ""},
		{"neutral outside rom", func(c *Config) { c.NeutralPos[Wrist] = 99 }, "neutral_position", ""},
		{"empty sequence step", func(c *Config) {
			c.Calibration.Sequence = []CalibrationStep{{}}
		}, "calibration.sequence", ""},
		{"sequence unknown joint", func(c *Config) {
			c.Calibration.Sequence = []CalibrationStep{{"elbow": Flex}}
		}, "calibration.sequence", ""},
		{"sequence bad direction", func(c *Config) {
			c.Calibration.Sequence = []CalibrationStep{{ThumbMCP: "sideways"}}
		}, "calibration.sequence", ""},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)

		err := cfg.Validate()
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("%s: err = %v, want ConfigError", tt.name, err)
			continue
		}
		if ce.Field != tt.wantField {
			t.Errorf("%s: field = %q, want %q", tt.name, ce.Field, tt.wantField)
		}
		if tt.wantReason != "" && !strings.Contains(ce.Reason, tt.wantReason) {
			t.Errorf("%s: reason %q does not mention %q", tt.name, ce.Reason, tt.wantReason)
		}
	}
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orcahand.yaml")
	body := `port: /dev/ttyACM1
laterality: left
joint_roms:
  wrist: [-40, 20]
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "/dev/ttyACM1" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.Laterality != "left" {
		t.Errorf("laterality = %q", cfg.Laterality)
	}
	if got := cfg.JointROMs[Wrist]; got[0] != -40 || got[1] != 20 {
		t.Errorf("wrist rom = %v, want [-40, 20]", got)
	}
	// Untouched fields keep their defaults.
	if cfg.Baudrate != 1_000_000 {
		t.Errorf("baudrate = %d, want default", cfg.Baudrate)
	}
	if got := cfg.JointROMs[ThumbMCP]; got[0] != -50 || got[1] != 50 {
		t.Errorf("thumb_mcp rom = %v, want default [-50, 50]", got)
	}
	if got := len(cfg.JointToMotor); got != len(AllJoints()) {
		t.Errorf("motor map shrank to %d joints", got)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orcahand.yaml")
	if err := os.WriteFile(path, []byte("laterality: up\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file did not error")
	}
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orcahand.yaml")
	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyUSB3"
	cfg.JointToMotor[Wrist] = -17 // inverted wiring survives the trip
	cfg.MotorIDs[len(cfg.MotorIDs)-1] = -17

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Port != cfg.Port {
		t.Errorf("port = %q, want %q", loaded.Port, cfg.Port)
	}
	if !reflect.DeepEqual(loaded.JointToMotor, cfg.JointToMotor) {
		t.Errorf("motor map changed:\n got %v\nwant %v", loaded.JointToMotor, cfg.JointToMotor)
	}
	if !reflect.DeepEqual(loaded.Calibration, cfg.Calibration) {
		t.Errorf("calibration params changed:\n got %+v\nwant %+v", loaded.Calibration, cfg.Calibration)
	}
}

func TestEffectiveCalibCurrent(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.EffectiveCalibCurrent(); got != 300 {
		t.Errorf("effective current = %d, want configured 300", got)
	}
	cfg.Calibration.Current = 900
	if got := cfg.EffectiveCalibCurrent(); got != 600 {
		t.Errorf("effective current = %d, want ceiling 600", got)
	}
}

func TestResolveJoint(t *testing.T) {
	right := DefaultConfig()
	left := DefaultConfig()
	left.Laterality = "left"

	tests := []struct {
		cfg     *Config
		name    string
		want    JointID
		wantErr bool
	}{
		{right, "thumb_mcp", ThumbMCP, false},
		{right, "right_wrist", Wrist, false},
		{right, "left_wrist", "", true},
		{right, "elbow", "", true},
		{left, "left_index_mcp", IndexMCP, false},
		{left, "index_mcp", IndexMCP, false},
	}
	for _, tt := range tests {
		got, err := tt.cfg.ResolveJoint(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ResolveJoint(%q) err = %v, wantErr %t", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveJoint(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Tick(); got != 20*time.Millisecond {
		t.Errorf("tick = %v, want 20ms", got)
	}
	if got := cfg.Timeout(); got != 10*time.Millisecond {
		t.Errorf("timeout = %v, want 10ms", got)
	}
	if got := cfg.Calibration.Period(); got != 50*time.Millisecond {
		t.Errorf("calibration period = %v, want 50ms", got)
	}
}

func TestDefaultSequenceCoversEveryJoint(t *testing.T) {
	steps := DefaultSequence()

	count := make(map[JointID]map[Direction]int)
	for _, j := range AllJoints() {
		count[j] = make(map[Direction]int)
	}
	grouped := 0
	for _, step := range steps {
		if len(step) == 4 {
			grouped++
		} else if len(step) != 1 {
			t.Errorf("step %v has %d joints, want 1 or the spread group of 4", step, len(step))
		}
		for j, d := range step {
			count[j][d]++
		}
	}

	for _, j := range AllJoints() {
		if count[j][Extend] != 1 || count[j][Flex] != 1 {
			t.Errorf("%s driven extend %d / flex %d times, want exactly once each",
				j, count[j][Extend], count[j][Flex])
		}
	}
	if grouped != 2 {
		t.Errorf("%d grouped spread steps, want 2", grouped)
	}
	if got, want := len(steps), 2*len(AllJoints())-2*4+2; got != want {
		t.Errorf("sequence has %d steps, want %d", got, want)
	}
}

func TestConfigSequenceOverride(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := len(cfg.Sequence()), len(DefaultSequence()); got != want {
		t.Errorf("unset sequence has %d steps, want default %d", got, want)
	}

	custom := []CalibrationStep{{Wrist: Extend}, {Wrist: Flex}}
	cfg.Calibration.Sequence = custom
	if got := cfg.Sequence(); len(got) != 2 || !reflect.DeepEqual(got, custom) {
		t.Errorf("override ignored: %v", got)
	}
}
