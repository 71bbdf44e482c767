package hand

import "fmt"

// Motor is the physical actuator behind a joint: a bus address plus the
// polarity of its wiring relative to the joint's flex direction.
type Motor struct {
	Address  int
	Polarity int // +1 or -1
}

// JointMap is the bidirectional translation between joints and motors.
// It is immutable after construction.
type JointMap struct {
	motors map[JointID]Motor
	joints map[int]JointID
}

// NewJointMap builds the map from signed motor ids: the magnitude is
// the bus address, a negative sign marks inverted wiring. Construction
// fails if a joint is unknown, an id is zero, or two joints share an
// address.
func NewJointMap(ids map[JointID]int) (*JointMap, error) {
	m := &JointMap{
		motors: make(map[JointID]Motor, len(ids)),
		joints: make(map[int]JointID, len(ids)),
	}
	for _, j := range AllJoints() {
		id, ok := ids[j]
		if !ok {
			continue
		}
		if id == 0 {
			return nil, &ConfigError{Field: "joint_to_motor_map", Reason: fmt.Sprintf("motor id for %s is zero", j)}
		}
		addr, pol := id, 1
		if id < 0 {
			addr, pol = -id, -1
		}
		if prev, dup := m.joints[addr]; dup {
			return nil, &ConfigError{Field: "joint_to_motor_map", Reason: fmt.Sprintf("joints %s and %s share motor address %d", prev, j, addr)}
		}
		m.motors[j] = Motor{Address: addr, Polarity: pol}
		m.joints[addr] = j
	}
	for j := range ids {
		if !KnownJoint(j) {
			return nil, &ConfigError{Field: "joint_to_motor_map", Reason: fmt.Sprintf("unknown joint %q", j)}
		}
	}
	return m, nil
}

// MotorFor returns the motor a joint drives.
func (m *JointMap) MotorFor(j JointID) (Motor, bool) {
	mo, ok := m.motors[j]
	return mo, ok
}

// JointFor returns the joint wired to a motor address.
func (m *JointMap) JointFor(address int) (JointID, bool) {
	j, ok := m.joints[address]
	return j, ok
}

// Joints returns the mapped joints in AllJoints order.
func (m *JointMap) Joints() []JointID {
	joints := make([]JointID, 0, len(m.motors))
	for _, j := range AllJoints() {
		if _, ok := m.motors[j]; ok {
			joints = append(joints, j)
		}
	}
	return joints
}

// Addresses returns the motor addresses in AllJoints order.
func (m *JointMap) Addresses() []int {
	addrs := make([]int, 0, len(m.motors))
	for _, j := range m.Joints() {
		addrs = append(addrs, m.motors[j].Address)
	}
	return addrs
}
