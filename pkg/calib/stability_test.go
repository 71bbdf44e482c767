package calib

import "testing"

func TestDetector_DeclaresAtFirstSatisfyingTick(t *testing.T) {
	// Threshold 3 ticks, 3 stable deltas required. The trace moves
	// fast, then settles: exactly three sub-threshold deltas in a row.
	d := NewDetector(3, 3)
	trace := []int{0, 10, 20, 22, 24, 25}

	var firstStall = -1
	for i, pos := range trace {
		if d.Observe(pos) && firstStall == -1 {
			firstStall = i
		}
	}
	if firstStall != 5 {
		t.Errorf("stall declared at sample %d, want 5", firstStall)
	}
}

func TestDetector_NeverDeclaresOnNoisyTrace(t *testing.T) {
	// Every window of 3 contains at least one delta >= threshold.
	d := NewDetector(3, 3)
	trace := []int{0, 1, 2, 10, 11, 12, 20, 21, 22, 30}
	for i, pos := range trace {
		if d.Observe(pos) {
			t.Fatalf("stall declared at sample %d on a noisy trace", i)
		}
	}
}

func TestDetector_StreakResetsOnMotion(t *testing.T) {
	d := NewDetector(3, 4)
	for _, pos := range []int{100, 101, 102, 103} {
		d.Observe(pos)
	}
	if d.Streak() != 3 {
		t.Fatalf("streak = %d, want 3", d.Streak())
	}
	d.Observe(200)
	if d.Streak() != 0 {
		t.Errorf("streak = %d after a jump, want 0", d.Streak())
	}
	if d.Observe(201) {
		t.Error("stall declared right after a jump")
	}
}

func TestDetector_DirectionAgnostic(t *testing.T) {
	// Deltas count by magnitude, descending approaches settle too.
	d := NewDetector(3, 2)
	trace := []int{500, 480, 460, 458, 456}
	var stalled bool
	for _, pos := range trace {
		stalled = d.Observe(pos)
	}
	if !stalled {
		t.Error("descending settle not detected")
	}
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector(3, 2)
	for _, pos := range []int{10, 11, 12} {
		d.Observe(pos)
	}
	d.Reset()
	if d.Streak() != 0 {
		t.Errorf("streak = %d after reset", d.Streak())
	}
	// First observation after reset primes, never declares.
	if d.Observe(1000) {
		t.Error("priming sample declared a stall")
	}
}
