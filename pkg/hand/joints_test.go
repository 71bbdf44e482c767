package hand

import "testing"

func TestAllJointsUnique(t *testing.T) {
	joints := AllJoints()
	if len(joints) != 17 {
		t.Fatalf("expected 17 joints, got %d", len(joints))
	}
	seen := map[JointID]bool{}
	for _, j := range joints {
		if seen[j] {
			t.Errorf("duplicate joint %q", j)
		}
		seen[j] = true
		if !KnownJoint(j) {
			t.Errorf("KnownJoint(%q) = false", j)
		}
	}
	if KnownJoint("elbow") {
		t.Error("KnownJoint accepted unknown name")
	}
}

func TestJointClass(t *testing.T) {
	tests := []struct {
		joint JointID
		want  JointClass
	}{
		{ThumbMCP, ClassFlexion},
		{ThumbDIP, ClassFlexion},
		{IndexPIP, ClassFlexion},
		{ThumbABD, ClassAbduction},
		{MiddleABD, ClassAbduction},
		{PinkyABD, ClassAbduction},
		{Wrist, ClassWrist},
	}
	for _, tt := range tests {
		if got := tt.joint.Class(); got != tt.want {
			t.Errorf("%s: class = %s, want %s", tt.joint, got, tt.want)
		}
	}
}

func TestBoundPolicyTotal(t *testing.T) {
	classes := []JointClass{ClassFlexion, ClassAbduction, ClassWrist}
	for _, c := range classes {
		flexBound, ok := BoundFor(c, Flex)
		if !ok {
			t.Fatalf("%s: no bound for flex", c)
		}
		extBound, ok := BoundFor(c, Extend)
		if !ok {
			t.Fatalf("%s: no bound for extend", c)
		}
		if flexBound == extBound {
			t.Errorf("%s: flex and extend map to the same bound %s", c, flexBound)
		}
	}
	if _, ok := BoundFor(JointClass("tentacle"), Flex); ok {
		t.Error("BoundFor accepted unknown class")
	}
}

func TestDirectionSign(t *testing.T) {
	if Flex.Sign() != 1 {
		t.Errorf("flex sign = %v, want 1", Flex.Sign())
	}
	if Extend.Sign() != -1 {
		t.Errorf("extend sign = %v, want -1", Extend.Sign())
	}
	if !Flex.Valid() || !Extend.Valid() {
		t.Error("flex/extend should be valid")
	}
	if Direction("sideways").Valid() {
		t.Error("unknown direction should be invalid")
	}
}
