// Package calib discovers each joint's range of motion by driving it
// against its mechanical limits under a bounded current and recording
// where it stalls.
package calib

import "math"

// Detector debounces stall detection: a joint counts as stalled only
// after enough consecutive samples each moved less than the threshold.
// Settling is required, so a slow approach or backlash bounce never
// triggers early.
type Detector struct {
	threshold float64 // max |delta| in ticks counting as stable
	needed    int

	primed bool
	last   int
	streak int
}

// NewDetector builds a detector requiring needed consecutive deltas
// below threshold ticks.
func NewDetector(threshold float64, needed int) *Detector {
	return &Detector{threshold: threshold, needed: needed}
}

// Observe feeds one position sample and reports whether the stall
// criterion is now met. The first sample only primes the window.
func (d *Detector) Observe(pos int) bool {
	if !d.primed {
		d.primed = true
		d.last = pos
		return false
	}
	delta := math.Abs(float64(pos - d.last))
	d.last = pos
	if delta < d.threshold {
		d.streak++
	} else {
		d.streak = 0
	}
	return d.streak >= d.needed
}

// Streak returns the current run of stable samples.
func (d *Detector) Streak() int {
	return d.streak
}

// Reset clears the window for reuse on another joint or direction.
func (d *Detector) Reset() {
	d.primed = false
	d.streak = 0
}
