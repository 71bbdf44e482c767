package hand

import (
	"reflect"
	"testing"
)

func testSpans() map[JointID]Span {
	return map[JointID]Span{
		ThumbMCP: {Min: -50, Max: 50, Neutral: 0},
		IndexABD: {Min: -37, Max: 37, Neutral: 0},
		Wrist:    {Min: -50, Max: 30, Neutral: -10},
	}
}

func TestROMStoreRecordBound(t *testing.T) {
	s := NewROMStore(testSpans())

	// Flexing a flexion joint finds its upper logical bound.
	if err := s.RecordBound(ThumbMCP, Flex, 3200); err != nil {
		t.Fatalf("record flex: %v", err)
	}
	if _, ok := s.ROM(ThumbMCP); ok {
		t.Fatal("rom defined with only one bound")
	}
	if err := s.RecordBound(ThumbMCP, Extend, 700); err != nil {
		t.Fatalf("record extend: %v", err)
	}

	cal, ok := s.ROM(ThumbMCP)
	if !ok {
		t.Fatal("rom missing after both bounds")
	}
	want := JointCalibration{RawLower: 700, RawUpper: 3200, Min: -50, Max: 50, Neutral: 0}
	if cal != want {
		t.Errorf("rom = %+v, want %+v", cal, want)
	}
}

func TestROMStoreRecordBoundSpanCarried(t *testing.T) {
	s := NewROMStore(testSpans())
	if err := s.RecordBound(Wrist, Flex, 2800); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordBound(Wrist, Extend, 1100); err != nil {
		t.Fatal(err)
	}
	cal, _ := s.ROM(Wrist)
	if cal.Min != -50 || cal.Max != 30 || cal.Neutral != -10 {
		t.Errorf("span = {%g, %g, %g}, want {-50, 30, -10}", cal.Min, cal.Max, cal.Neutral)
	}
}

func TestROMStoreUnconfiguredJoint(t *testing.T) {
	s := NewROMStore(testSpans())
	if err := s.RecordBound(PinkyPIP, Flex, 2000); err == nil {
		t.Error("recording an unconfigured joint did not error")
	}
}

func TestROMStoreCompleteness(t *testing.T) {
	s := NewROMStore(testSpans())
	if s.IsComplete() {
		t.Error("empty store reports complete")
	}

	s.RecordBound(ThumbMCP, Flex, 3200)
	s.RecordBound(ThumbMCP, Extend, 700)
	s.RecordBound(IndexABD, Flex, 3000) // half done
	if s.IsComplete() {
		t.Error("store complete with a half-calibrated joint")
	}
	if got := len(s.Calibration()); got != 1 {
		t.Errorf("snapshot has %d joints, want only the finished one", got)
	}

	s.RecordBound(IndexABD, Extend, 1000)
	s.RecordBound(Wrist, Flex, 2800)
	s.RecordBound(Wrist, Extend, 1100)
	if !s.IsComplete() {
		t.Error("store incomplete with every joint bounded")
	}
	if got := len(s.Calibration()); got != 3 {
		t.Errorf("snapshot has %d joints, want 3", got)
	}
}

func TestROMStoreJointsOrdered(t *testing.T) {
	s := NewROMStore(testSpans())
	want := []JointID{ThumbMCP, IndexABD, Wrist}
	if got := s.Joints(); !reflect.DeepEqual(got, want) {
		t.Errorf("Joints() = %v, want %v", got, want)
	}
}

func TestROMStoreImport(t *testing.T) {
	s := NewROMStore(testSpans())
	cal := Calibration{
		ThumbMCP: {RawLower: 700, RawUpper: 3200, Min: -50, Max: 50},
		Wrist:    {RawLower: 3100, RawUpper: 900, Min: -50, Max: 30, Neutral: -10},
	}
	if err := s.Import(cal); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, ok := s.ROM(Wrist)
	if !ok || got != cal[Wrist] {
		t.Errorf("wrist rom = %+v (ok=%t), want %+v", got, ok, cal[Wrist])
	}
	if s.IsComplete() {
		t.Error("store complete though index_abd was never imported")
	}
}

func TestROMStoreImportRejectsBadBatch(t *testing.T) {
	tests := []struct {
		name string
		cal  Calibration
	}{
		{"unconfigured joint", Calibration{
			MiddlePIP: {RawLower: 700, RawUpper: 3200, Min: -20, Max: 107},
		}},
		{"invalid record", Calibration{
			ThumbMCP: {RawLower: 700, RawUpper: 3200, Min: 50, Max: -50},
		}},
	}
	for _, tt := range tests {
		s := NewROMStore(testSpans())
		// A good record in the same batch must not slip in.
		tt.cal[Wrist] = JointCalibration{RawLower: 3100, RawUpper: 900, Min: -50, Max: 30}

		if err := s.Import(tt.cal); err == nil {
			t.Errorf("%s: import did not error", tt.name)
		}
		if len(s.Calibration()) != 0 {
			t.Errorf("%s: bad batch partially applied", tt.name)
		}
	}
}

func TestROMStoreImportOverwrites(t *testing.T) {
	s := NewROMStore(testSpans())
	s.RecordBound(ThumbMCP, Flex, 3200)
	s.RecordBound(ThumbMCP, Extend, 700)

	fresh := Calibration{ThumbMCP: {RawLower: 650, RawUpper: 3250, Min: -50, Max: 50}}
	if err := s.Import(fresh); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, _ := s.ROM(ThumbMCP)
	if got.RawLower != 650 || got.RawUpper != 3250 {
		t.Errorf("anchors = {%d, %d}, want imported {650, 3250}", got.RawLower, got.RawUpper)
	}
}
