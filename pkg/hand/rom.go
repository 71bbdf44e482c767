package hand

import (
	"sync"

	"github.com/pkg/errors"
)

// Span is a joint's configured logical extent in degrees plus its
// neutral rest position.
type Span struct {
	Min     float64
	Max     float64
	Neutral float64
}

// ROMStore collects range-of-motion bounds as calibration discovers
// them. The calibration engine is the only writer; the control layer
// reads concurrently.
type ROMStore struct {
	mu      sync.RWMutex
	spans   map[JointID]Span
	entries map[JointID]*romEntry
}

type romEntry struct {
	cal   JointCalibration
	lower bool
	upper bool
}

// NewROMStore creates an empty store over the configured joint spans.
func NewROMStore(spans map[JointID]Span) *ROMStore {
	s := &ROMStore{
		spans:   make(map[JointID]Span, len(spans)),
		entries: make(map[JointID]*romEntry, len(spans)),
	}
	for j, sp := range spans {
		s.spans[j] = sp
	}
	return s
}

// RecordBound stores the raw servo position found at a joint's
// mechanical limit in the given drive direction. The joint's class
// decides whether that limit is the lower or the upper bound.
func (s *ROMStore) RecordBound(j JointID, d Direction, raw int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	span, ok := s.spans[j]
	if !ok {
		return errors.Errorf("record bound: joint %q not configured", j)
	}
	bound, ok := BoundFor(j.Class(), d)
	if !ok {
		return errors.Errorf("record bound: %s has no bound for direction %q", j, d)
	}

	e := s.entries[j]
	if e == nil {
		e = &romEntry{cal: JointCalibration{
			Min:     span.Min,
			Max:     span.Max,
			Neutral: span.Neutral,
		}}
		s.entries[j] = e
	}
	if bound == LowerBound {
		e.cal.RawLower = raw
		e.lower = true
	} else {
		e.cal.RawUpper = raw
		e.upper = true
	}
	return nil
}

// Bound returns the raw position recorded at one end of a joint's
// range, if that end has been recorded.
func (s *ROMStore) Bound(j JointID, b Bound) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[j]
	if e == nil {
		return 0, false
	}
	if b == LowerBound {
		if !e.lower {
			return 0, false
		}
		return e.cal.RawLower, true
	}
	if !e.upper {
		return 0, false
	}
	return e.cal.RawUpper, true
}

// ROM returns a joint's full calibration record once both bounds have
// been recorded.
func (s *ROMStore) ROM(j JointID) (JointCalibration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[j]
	if e == nil || !e.lower || !e.upper {
		return JointCalibration{}, false
	}
	return e.cal, true
}

// IsComplete reports whether every configured joint has both bounds.
func (s *ROMStore) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for j := range s.spans {
		e := s.entries[j]
		if e == nil || !e.lower || !e.upper {
			return false
		}
	}
	return true
}

// Joints returns the configured joint set in AllJoints order.
func (s *ROMStore) Joints() []JointID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	joints := make([]JointID, 0, len(s.spans))
	for _, j := range AllJoints() {
		if _, ok := s.spans[j]; ok {
			joints = append(joints, j)
		}
	}
	return joints
}

// Calibration snapshots every completed record for persistence.
// Joints missing a bound are left out.
func (s *ROMStore) Calibration() Calibration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal := make(Calibration, len(s.entries))
	for j, e := range s.entries {
		if e.lower && e.upper {
			cal[j] = e.cal
		}
	}
	return cal
}

// Import seeds the store from a previously persisted calibration,
// replacing any bounds already held for the imported joints.
func (s *ROMStore) Import(cal Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for j, c := range cal {
		if _, ok := s.spans[j]; !ok {
			return errors.Errorf("import calibration: joint %q not configured", j)
		}
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "import calibration: joint %s", j)
		}
	}
	for j, c := range cal {
		s.entries[j] = &romEntry{cal: c, lower: true, upper: true}
	}
	return nil
}
