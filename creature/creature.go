// Package creature instantiates a work unit's morphology and controller in a
// physics world and drives it tick by tick.
package creature

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dage/machine-evolved/neural"
	"github.com/dage/machine-evolved/physics"
	"github.com/dage/machine-evolved/sensors"
	"github.com/dage/machine-evolved/structure"
)

// Creature owns everything one simulated creature allocated: its structure,
// controller, physics bodies and joints. Release frees all of it at once.
type Creature struct {
	Structure  *structure.Structure
	Controller *neural.Controller

	world   physics.Adapter
	bodies  []physics.BodyID
	joints  []physics.JointID
	motors  []sensors.Motor
	encoder *sensors.Encoder

	feedbacks   []float32
	observation []float32
	ticks       int
	released    bool
}

// Build parses the structure and controller documents and spawns the creature
// with its structure offset by origin.
func Build(world physics.Adapter, structureDoc, controllerDoc []byte, origin mgl64.Vec3) (*Creature, error) {
	s, err := structure.Parse(structureDoc)
	if err != nil {
		return nil, err
	}
	c, err := neural.Parse(controllerDoc, s.NumInputs(), s.NumOutputs())
	if err != nil {
		return nil, err
	}
	return Spawn(world, s, c, origin)
}

// Spawn creates bodies and joints for s in world. On error nothing is left
// allocated in the world.
func Spawn(world physics.Adapter, s *structure.Structure, c *neural.Controller, origin mgl64.Vec3) (*Creature, error) {
	if c.NumInputs() != s.NumInputs() {
		return nil, fmt.Errorf("controller takes %d inputs, structure produces %d", c.NumInputs(), s.NumInputs())
	}
	if c.NumOutputs() != s.NumOutputs() {
		return nil, fmt.Errorf("%w: controller produces %d, structure needs %d", neural.ErrOutputMismatch, c.NumOutputs(), s.NumOutputs())
	}

	cr := &Creature{
		Structure:  s,
		Controller: c,
		world:      world,
		feedbacks:  make([]float32, s.Feedbacks),
	}

	capsules := s.Capsules()
	index := make(map[string]int, len(capsules))
	for i, capsule := range capsules {
		pose := physics.Pose{
			Position:    capsule.Position.Add(origin),
			Orientation: capsule.Orientation,
		}
		cr.bodies = append(cr.bodies, world.CreateCapsuleBody(capsule.InnerHeight, capsule.Radius, pose))
		index[capsule.ID] = i
	}

	for i, capsule := range capsules {
		if capsule.Constraint == nil {
			continue
		}
		pi := index[capsule.Constraint.ParentID]
		parent := capsules[pi]

		var limits [3]physics.AxisLimit
		for axis, r := range capsule.Constraint.Axes {
			lo, hi := r.Radians()
			limits[axis] = physics.AxisLimit{Enabled: r.Enabled, Lower: lo, Upper: hi}
		}
		offsetA := 0.5*parent.InnerHeight + parent.Radius
		offsetB := -0.5*capsule.InnerHeight - capsule.Radius
		j := world.CreateMotorizedJoint(cr.bodies[pi], cr.bodies[i], offsetA, offsetB, limits)
		cr.joints = append(cr.joints, j)

		for axis, r := range capsule.Constraint.Axes {
			if r.Enabled {
				cr.motors = append(cr.motors, sensors.Motor{Joint: j, Axis: structure.Axis(axis)})
			}
		}
	}

	enc, err := sensors.NewEncoder(s, world, cr.bodies, cr.motors)
	if err != nil {
		cr.Release()
		return nil, err
	}
	cr.encoder = enc
	cr.observation = make([]float32, 0, enc.Size())
	return cr, nil
}

// Tick observes the creature, runs the controller and applies its outputs:
// motor target velocities first, then next tick's feedback values.
func (c *Creature) Tick() error {
	c.ticks++
	obs, err := c.encoder.Encode(c.ticks, c.feedbacks, c.observation)
	if err != nil {
		return err
	}
	c.observation = obs

	out, err := c.Controller.Forward(obs)
	if err != nil {
		return err
	}
	for i, m := range c.motors {
		c.world.SetTargetVelocity(m.Joint, physics.Axis(m.Axis), float64(out[i]))
	}
	copy(c.feedbacks, out[len(c.motors):])
	return nil
}

// CenterOfMass returns the creature's mass-weighted center.
func (c *Creature) CenterOfMass() mgl64.Vec3 {
	pos, _ := physics.CenterOfMass(c.world, c.bodies)
	return pos
}

// Ticks returns the number of completed Tick calls.
func (c *Creature) Ticks() int { return c.ticks }

// Motors returns the enabled joint axes in declaration order.
func (c *Creature) Motors() []sensors.Motor { return c.motors }

// Feedbacks returns the feedback values consumed on the next tick.
func (c *Creature) Feedbacks() []float32 { return c.feedbacks }

// Release frees the creature's joints and bodies. Safe to call twice.
func (c *Creature) Release() {
	if c.released {
		return
	}
	c.released = true
	for _, j := range c.joints {
		c.world.ReleaseJoint(j)
	}
	for _, b := range c.bodies {
		c.world.ReleaseBody(b)
	}
	c.joints, c.bodies = nil, nil
}
