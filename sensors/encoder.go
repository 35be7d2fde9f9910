// Package sensors builds the per-tick observation vector fed to a creature's
// motor controller.
package sensors

import (
	"fmt"
	"math"

	"github.com/dage/machine-evolved/physics"
	"github.com/dage/machine-evolved/structure"
)

// Calibration scales bringing each channel to roughly unit magnitude. The
// controllers on the server were trained with these exact values.
const (
	CalibrationZPosition         = 5
	CalibrationVelocity          = 7
	CalibrationCapsulePosition   = 2
	CalibrationCapsuleVelocity   = 7
	CalibrationCapsuleAngularVel = 1
	CalibrationConstraintAngle   = 3
	TicksPerSecond               = 60
)

// Motor is one enabled joint axis, in declaration order.
type Motor struct {
	Joint physics.JointID
	Axis  structure.Axis
}

// Encoder produces observation vectors for one creature.
type Encoder struct {
	structure *structure.Structure
	world     physics.Adapter
	bodies    []physics.BodyID // parallel to structure.Capsules()
	root      physics.BodyID
	motors    []Motor

	totalLength float64
	size        int
}

// NewEncoder creates an encoder. bodies must be in capsule declaration order.
func NewEncoder(s *structure.Structure, world physics.Adapter, bodies []physics.BodyID, motors []Motor) (*Encoder, error) {
	capsules := s.Capsules()
	if len(bodies) != len(capsules) {
		return nil, fmt.Errorf("encoder: %d bodies for %d capsules", len(bodies), len(capsules))
	}
	if len(motors) != s.NumMotors() {
		return nil, fmt.Errorf("encoder: %d motors, structure declares %d", len(motors), s.NumMotors())
	}
	e := &Encoder{
		structure:   s,
		world:       world,
		bodies:      bodies,
		motors:      motors,
		totalLength: s.TotalLength(),
		size:        s.NumInputs(),
	}
	for i, c := range capsules {
		if c.IsRoot() {
			e.root = bodies[i]
		}
	}
	if e.totalLength <= 0 {
		return nil, fmt.Errorf("encoder: total capsule length %v", e.totalLength)
	}
	return e, nil
}

// Size returns the observation vector length.
func (e *Encoder) Size() int { return e.size }

// Encode appends the observation for tick to dst[:0] and returns it. feedbacks
// are the controller's feedback outputs from the previous tick.
func (e *Encoder) Encode(tick int, feedbacks []float32, dst []float32) ([]float32, error) {
	in := e.structure.Inputs
	out := dst[:0]
	push := func(enabled bool, v float64) {
		if enabled {
			out = append(out, float32(v))
		}
	}

	// Whole creature.
	q := e.world.Pose(e.root).Orientation
	push(in.RootOrientationX, q.V[0])
	push(in.RootOrientationY, q.V[1])
	push(in.RootOrientationZ, q.V[2])
	push(in.RootOrientationW, q.W)

	com, comVel := physics.CenterOfMass(e.world, e.bodies)
	push(in.ZPosition, com[2]/e.totalLength*CalibrationZPosition)
	vel := comVel.Mul(1 / e.totalLength)
	push(in.VelocityX, vel[0]*CalibrationVelocity)
	push(in.VelocityY, vel[1]*CalibrationVelocity)
	push(in.VelocityZ, vel[2]*CalibrationVelocity)

	if in.Oscillators {
		osc := e.structure.Oscillators
		t := float32(tick) / TicksPerSecond
		freq := float32(osc.Start)
		for k := 0; k < osc.Count; k++ {
			out = append(out, float32(math.Sin(float64(freq*t))))
			freq *= float32(osc.Multiplier)
		}
	}

	// Per capsule.
	for _, b := range e.bodies {
		pos := e.world.Pose(b).Position.Sub(com).Mul(1 / e.totalLength)
		v := e.world.LinearVelocity(b).Sub(comVel).Mul(1 / e.totalLength)
		w := e.world.AngularVelocity(b).Mul(1 / math.Pi)

		push(in.CapsulePositionX, pos[0]*CalibrationCapsulePosition)
		push(in.CapsulePositionY, pos[1]*CalibrationCapsulePosition)
		push(in.CapsulePositionZ, pos[2]*CalibrationCapsulePosition)
		push(in.CapsuleVelocityX, v[0]*CalibrationCapsuleVelocity)
		push(in.CapsuleVelocityY, v[1]*CalibrationCapsuleVelocity)
		push(in.CapsuleVelocityZ, v[2]*CalibrationCapsuleVelocity)
		push(in.CapsuleAngularVelocityX, w[0]*CalibrationCapsuleAngularVel)
		push(in.CapsuleAngularVelocityY, w[1]*CalibrationCapsuleAngularVel)
		push(in.CapsuleAngularVelocityZ, w[2]*CalibrationCapsuleAngularVel)
	}

	// Per motor axis.
	for _, m := range e.motors {
		if in.MotorAngle(m.Axis) {
			angle := e.world.Angle(m.Joint, physics.Axis(m.Axis))
			out = append(out, float32(angle/math.Pi*CalibrationConstraintAngle))
		}
	}

	if in.Feedbacks {
		if len(feedbacks) != e.structure.Feedbacks {
			return nil, fmt.Errorf("encoder: %d feedback values, structure declares %d", len(feedbacks), e.structure.Feedbacks)
		}
		out = append(out, feedbacks...)
	}

	if len(out) != e.size {
		return nil, fmt.Errorf("encoder: produced %d values, structure needs %d", len(out), e.size)
	}
	return out, nil
}
