package hand

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestJointCalibrationToTicks(t *testing.T) {
	forward := JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50}
	inverted := JointCalibration{RawLower: 3300, RawUpper: 900, Min: -50, Max: 30}

	tests := []struct {
		name string
		cal  JointCalibration
		deg  float64
		want int
	}{
		{"forward min", forward, -50, 700},
		{"forward max", forward, 50, 3200},
		{"forward mid", forward, 0, 1950},
		{"forward quarter", forward, 25, 2575},
		{"forward beyond span", forward, -60, 450}, // affine, no clamping here
		{"inverted min", inverted, -50, 3300},
		{"inverted max", inverted, 30, 900},
		{"inverted mid", inverted, 0, 1800},
	}
	for _, tt := range tests {
		if got := tt.cal.ToTicks(tt.deg); got != tt.want {
			t.Errorf("%s: ToTicks(%g) = %d, want %d", tt.name, tt.deg, got, tt.want)
		}
	}
}

func TestJointCalibrationToDegrees(t *testing.T) {
	forward := JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50}
	inverted := JointCalibration{RawLower: 3300, RawUpper: 900, Min: -50, Max: 30}

	tests := []struct {
		name  string
		cal   JointCalibration
		ticks int
		want  float64
	}{
		{"forward lower anchor", forward, 700, -50},
		{"forward upper anchor", forward, 3200, 50},
		{"forward mid", forward, 1950, 0},
		{"inverted lower anchor", inverted, 3300, -50},
		{"inverted upper anchor", inverted, 900, 30},
		{"inverted mid", inverted, 1800, 0},
	}
	for _, tt := range tests {
		if got := tt.cal.ToDegrees(tt.ticks); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: ToDegrees(%d) = %g, want %g", tt.name, tt.ticks, got, tt.want)
		}
	}
}

func TestJointCalibrationRoundTrip(t *testing.T) {
	cals := []JointCalibration{
		{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50},
		{RawLower: 3300, RawUpper: 900, Min: -50, Max: 30},
		DefaultJointCalibration(1),
		DefaultJointCalibration(-1),
	}
	for _, cal := range cals {
		for deg := cal.Min; deg <= cal.Max; deg += (cal.Max - cal.Min) / 7 {
			back := cal.ToDegrees(cal.ToTicks(deg))
			if math.Abs(back-deg) > 0.05 { // half a tick of rounding
				t.Errorf("cal %+v: %g degrees came back as %g", cal, deg, back)
			}
		}
	}
}

func TestDefaultJointCalibration(t *testing.T) {
	fwd := DefaultJointCalibration(1)
	if fwd.RawLower != 0 || fwd.RawUpper != EncoderMax {
		t.Errorf("forward anchors = {%d, %d}, want {0, %d}", fwd.RawLower, fwd.RawUpper, EncoderMax)
	}
	if fwd.Min != -180 || fwd.Max != 180 || fwd.Neutral != 0 {
		t.Errorf("forward span = {%g, %g, %g}, want {-180, 180, 0}", fwd.Min, fwd.Max, fwd.Neutral)
	}
	if err := fwd.Validate(); err != nil {
		t.Errorf("forward default invalid: %v", err)
	}

	inv := DefaultJointCalibration(-1)
	if inv.RawLower != EncoderMax || inv.RawUpper != 0 {
		t.Errorf("inverted anchors = {%d, %d}, want {%d, 0}", inv.RawLower, inv.RawUpper, EncoderMax)
	}
	if got := inv.ToDegrees(EncoderMax); got != -180 {
		t.Errorf("inverted ToDegrees(%d) = %g, want -180", EncoderMax, got)
	}
	if got := inv.ToDegrees(0); got != 180 {
		t.Errorf("inverted ToDegrees(0) = %g, want 180", got)
	}
}

func TestJointCalibrationClip(t *testing.T) {
	cal := JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50}

	tests := []struct {
		deg     float64
		want    float64
		clipped bool
	}{
		{-60, -50, true},
		{999, 50, true},
		{0, 0, false},
		{-50, -50, false},
		{50, 50, false},
	}
	for _, tt := range tests {
		got, clipped := cal.Clip(tt.deg)
		if got != tt.want || clipped != tt.clipped {
			t.Errorf("Clip(%g) = (%g, %t), want (%g, %t)", tt.deg, got, clipped, tt.want, tt.clipped)
		}
	}
}

func TestJointCalibrationValidate(t *testing.T) {
	tests := []struct {
		name    string
		cal     JointCalibration
		wantErr bool
	}{
		{"valid", JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50}, false},
		{"valid inverted", JointCalibration{RawLower: 3200, RawUpper: 700, Min: -50, Max: 50}, false},
		{"min equals max", JointCalibration{RawLower: 700, RawUpper: 3200, Min: 50, Max: 50}, true},
		{"min above max", JointCalibration{RawLower: 700, RawUpper: 3200, Min: 60, Max: 50}, true},
		{"neutral below span", JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50, Neutral: -51}, true},
		{"neutral above span", JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50, Neutral: 51}, true},
		{"anchors coincide", JointCalibration{RawLower: 1500, RawUpper: 1500, Min: -50, Max: 50}, true},
	}
	for _, tt := range tests {
		err := tt.cal.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %t", tt.name, err, tt.wantErr)
		}
	}
}

func TestCalibrationSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	cal := Calibration{
		ThumbMCP: {RawLower: 700, RawUpper: 3200, Min: -50, Max: 50, Neutral: 0},
		Wrist:    {RawLower: 3100, RawUpper: 900, Min: -50, Max: 30, Neutral: -10},
		IndexPIP: {RawLower: 512, RawUpper: 3583, Min: -20, Max: 108, Neutral: 5},
	}

	if err := cal.SaveTo(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(loaded, cal) {
		t.Errorf("round trip changed the data:\n got %+v\nwant %+v", loaded, cal)
	}
}

func TestLoadCalibrationErrors(t *testing.T) {
	if _, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file did not error")
	}

	path := filepath.Join(t.TempDir(), "garbage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCalibration(path); err == nil {
		t.Error("malformed JSON did not error")
	}
}
