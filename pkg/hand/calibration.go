package hand

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
)

// TicksPerDegree converts between raw encoder ticks (one revolution is
// 4096 counts) and logical degrees.
const TicksPerDegree = 4096.0 / 360.0

// EncoderMax is the largest raw position a servo reports.
const EncoderMax = 4095

// JointCalibration maps a joint's logical span in degrees onto the raw
// encoder readings found at its mechanical limits. RawLower anchors Min
// and RawUpper anchors Max; with an inverted motor the anchors are in
// descending raw order and the mapping flips with them.
type JointCalibration struct {
	RawLower int     `json:"raw_lower"`
	RawUpper int     `json:"raw_upper"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Neutral  float64 `json:"neutral"`
}

// DefaultJointCalibration maps the full encoder range onto one
// revolution centered on zero. Joints carry it until calibrated.
func DefaultJointCalibration(polarity int) JointCalibration {
	c := JointCalibration{
		RawLower: 0,
		RawUpper: EncoderMax,
		Min:      -180,
		Max:      180,
	}
	if polarity < 0 {
		c.RawLower, c.RawUpper = c.RawUpper, c.RawLower
	}
	return c
}

// Validate checks the record's internal consistency.
func (c JointCalibration) Validate() error {
	if c.Min >= c.Max {
		return errors.Errorf("min %.2f not below max %.2f", c.Min, c.Max)
	}
	if c.Neutral < c.Min || c.Neutral > c.Max {
		return errors.Errorf("neutral %.2f outside [%.2f, %.2f]", c.Neutral, c.Min, c.Max)
	}
	if c.RawLower == c.RawUpper {
		return errors.Errorf("raw anchors coincide at %d", c.RawLower)
	}
	return nil
}

// ToTicks converts a logical position in degrees to a raw servo target.
func (c JointCalibration) ToTicks(deg float64) int {
	scale := float64(c.RawUpper-c.RawLower) / (c.Max - c.Min)
	return int(math.Round(float64(c.RawLower) + (deg-c.Min)*scale))
}

// ToDegrees converts a raw servo reading to a logical position.
func (c JointCalibration) ToDegrees(ticks int) float64 {
	scale := (c.Max - c.Min) / float64(c.RawUpper-c.RawLower)
	return c.Min + float64(ticks-c.RawLower)*scale
}

// Clip bounds a logical target to the joint's span and reports whether
// clipping occurred.
func (c JointCalibration) Clip(deg float64) (float64, bool) {
	if deg < c.Min {
		return c.Min, true
	}
	if deg > c.Max {
		return c.Max, true
	}
	return deg, false
}

// Calibration holds the persisted records for all calibrated joints,
// keyed by joint name.
type Calibration map[JointID]JointCalibration

// LoadCalibration reads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read calibration file")
	}

	var raw map[string]JointCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse calibration JSON")
	}

	cal := make(Calibration, len(raw))
	for name, jc := range raw {
		cal[JointID(name)] = jc
	}
	return cal, nil
}

// SaveTo writes the calibration as indented JSON.
func (c Calibration) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode calibration")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write calibration file")
	}
	return nil
}
