// Package hand provides joint abstractions, calibration state and
// position control for the orca dexterous hand.
package hand

// JointID identifies one logical degree of freedom of the hand.
type JointID string

// Joint names for the 17-DOF hand.
const (
	ThumbMCP  JointID = "thumb_mcp"
	ThumbABD  JointID = "thumb_abd"
	ThumbPIP  JointID = "thumb_pip"
	ThumbDIP  JointID = "thumb_dip"
	IndexABD  JointID = "index_abd"
	IndexMCP  JointID = "index_mcp"
	IndexPIP  JointID = "index_pip"
	MiddleABD JointID = "middle_abd"
	MiddleMCP JointID = "middle_mcp"
	MiddlePIP JointID = "middle_pip"
	RingABD   JointID = "ring_abd"
	RingMCP   JointID = "ring_mcp"
	RingPIP   JointID = "ring_pip"
	PinkyABD  JointID = "pinky_abd"
	PinkyMCP  JointID = "pinky_mcp"
	PinkyPIP  JointID = "pinky_pip"
	Wrist     JointID = "wrist"
)

// AllJoints returns every joint name in a stable order (thumb to pinky,
// wrist last).
func AllJoints() []JointID {
	return []JointID{
		ThumbMCP, ThumbABD, ThumbPIP, ThumbDIP,
		IndexABD, IndexMCP, IndexPIP,
		MiddleABD, MiddleMCP, MiddlePIP,
		RingABD, RingMCP, RingPIP,
		PinkyABD, PinkyMCP, PinkyPIP,
		Wrist,
	}
}

// KnownJoint reports whether name is one of the hand's joints.
func KnownJoint(name JointID) bool {
	for _, j := range AllJoints() {
		if j == name {
			return true
		}
	}
	return false
}

// JointClass groups joints by their kinematic role. The class decides
// which ROM bound each calibration direction terminates at.
type JointClass string

const (
	ClassFlexion   JointClass = "flexion"   // mcp, pip, dip knuckles
	ClassAbduction JointClass = "abduction" // finger spread joints
	ClassWrist     JointClass = "wrist"
)

// Class returns the joint's kinematic class, derived from its name.
func (j JointID) Class() JointClass {
	switch {
	case j == Wrist:
		return ClassWrist
	case len(j) > 4 && j[len(j)-4:] == "_abd":
		return ClassAbduction
	default:
		return ClassFlexion
	}
}

// Direction is a calibration drive direction. Flex moves toward
// increasing logical position, extend toward decreasing, before the
// motor polarity is applied.
type Direction string

const (
	Flex   Direction = "flex"
	Extend Direction = "extend"
)

// Sign returns the logical motion sign of the direction: +1 for flex,
// -1 for extend.
func (d Direction) Sign() float64 {
	if d == Extend {
		return -1
	}
	return 1
}

// Valid reports whether d is a recognized direction.
func (d Direction) Valid() bool {
	return d == Flex || d == Extend
}

// Bound names one end of a joint's range of motion.
type Bound int

const (
	LowerBound Bound = iota
	UpperBound
)

func (b Bound) String() string {
	if b == LowerBound {
		return "lower"
	}
	return "upper"
}

// Opposite returns the other end of the range.
func (b Bound) Opposite() Bound {
	if b == LowerBound {
		return UpperBound
	}
	return LowerBound
}

// boundPolicy maps each calibration direction to the ROM bound it
// terminates at, per joint class. The hand's tendon routing makes flex
// the upper bound everywhere today; a class whose convention diverges
// only needs its row changed here.
var boundPolicy = map[JointClass]map[Direction]Bound{
	ClassFlexion:   {Flex: UpperBound, Extend: LowerBound},
	ClassAbduction: {Flex: UpperBound, Extend: LowerBound},
	ClassWrist:     {Flex: UpperBound, Extend: LowerBound},
}

// BoundFor resolves which ROM bound a drive direction terminates at for
// the given joint class.
func BoundFor(c JointClass, d Direction) (Bound, bool) {
	m, ok := boundPolicy[c]
	if !ok {
		return 0, false
	}
	b, ok := m[d]
	return b, ok
}
