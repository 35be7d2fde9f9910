package structure

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inputs selects the observation channels the controller consumes.
type Inputs struct {
	RootOrientationX bool
	RootOrientationY bool
	RootOrientationZ bool
	RootOrientationW bool
	ZPosition        bool
	VelocityX        bool
	VelocityY        bool
	VelocityZ        bool
	Oscillators      bool

	CapsulePositionX        bool
	CapsulePositionY        bool
	CapsulePositionZ        bool
	CapsuleVelocityX        bool
	CapsuleVelocityY        bool
	CapsuleVelocityZ        bool
	CapsuleAngularVelocityX bool
	CapsuleAngularVelocityY bool
	CapsuleAngularVelocityZ bool

	MotorAngleX bool
	MotorAngleY bool
	MotorAngleZ bool

	Feedbacks bool
}

// MotorAngle reports whether motor angles around the axis are observed.
func (in Inputs) MotorAngle(a Axis) bool {
	switch a {
	case AxisX:
		return in.MotorAngleX
	case AxisY:
		return in.MotorAngleY
	case AxisZ:
		return in.MotorAngleZ
	}
	return false
}

// AllInputs returns an Inputs value with every channel enabled.
func AllInputs() Inputs {
	var in Inputs
	for _, f := range in.fields() {
		*f.flag = true
	}
	return in
}

type inputField struct {
	key  string
	flag *bool
}

// fields lists the wire keys in the order the trainer declares them.
func (in *Inputs) fields() []inputField {
	return []inputField{
		{"root-orientation-x", &in.RootOrientationX},
		{"root-orientation-y", &in.RootOrientationY},
		{"root-orientation-z", &in.RootOrientationZ},
		{"root-orientation-w", &in.RootOrientationW},
		{"z-position", &in.ZPosition},
		{"velocity-x", &in.VelocityX},
		{"velocity-y", &in.VelocityY},
		{"velocity-z", &in.VelocityZ},
		{"oscillators", &in.Oscillators},
		{"capsule-position-x", &in.CapsulePositionX},
		{"capsule-position-y", &in.CapsulePositionY},
		{"capsule-position-z", &in.CapsulePositionZ},
		{"capsule-velocity-x", &in.CapsuleVelocityX},
		{"capsule-velocity-y", &in.CapsuleVelocityY},
		{"capsule-velocity-z", &in.CapsuleVelocityZ},
		{"capsule-angular-velocity-x", &in.CapsuleAngularVelocityX},
		{"capsule-angular-velocity-y", &in.CapsuleAngularVelocityY},
		{"capsule-angular-velocity-z", &in.CapsuleAngularVelocityZ},
		{"motor-angle-x", &in.MotorAngleX},
		{"motor-angle-y", &in.MotorAngleY},
		{"motor-angle-z", &in.MotorAngleZ},
		{"feedbacks", &in.Feedbacks},
	}
}

func (in *Inputs) fromMap(m map[string]flag) error {
	for _, f := range in.fields() {
		v, ok := m[f.key]
		if !ok {
			return fmt.Errorf("inputs: missing flag %q", f.key)
		}
		*f.flag = bool(v)
	}
	return nil
}

func (in Inputs) toMap() map[string]flag {
	m := make(map[string]flag, 22)
	for _, f := range in.fields() {
		m[f.key] = flag(*f.flag)
	}
	return m
}

// flag is a boolean encoded as 0/1 on the wire. JSON booleans are accepted too.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "1", "1.0", "true":
		*f = true
		return nil
	case "0", "0.0", "false":
		*f = false
		return nil
	}
	return fmt.Errorf("flag: want 0 or 1, got %s", data)
}

func (f flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

var _ json.Unmarshaler = (*flag)(nil)
