// Package systems contains ECS systems for the articulated-body world.
package systems

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"

	"github.com/dage/machine-evolved/components"
)

// PhysicsParams holds the world constants the physics system applies.
type PhysicsParams struct {
	Gravity     float64 // acceleration along Z
	Friction    float64 // ground friction coefficient
	ContactSlop float64 // distance above the ground still treated as contact
}

// PhysicsSystem moves free roots under gravity, resolves ground contact per
// tree and estimates velocities from the step's displacement.
type PhysicsSystem struct {
	filter ecs.Filter3[components.Pose, components.Motion, components.Body]
	params PhysicsParams

	contacts map[ecs.Entity]*treeContact
}

type treeContact struct {
	lowest  float64    // lowest capsule surface point
	slip    mgl64.Vec3 // summed horizontal displacement of touching caps
	touches int
}

// NewPhysicsSystem creates a new physics system.
func NewPhysicsSystem(w *ecs.World, params PhysicsParams) *PhysicsSystem {
	return &PhysicsSystem{
		filter:   *ecs.NewFilter3[components.Pose, components.Motion, components.Body](w),
		params:   params,
		contacts: make(map[ecs.Entity]*treeContact),
	}
}

// Integrate records the previous pose of every body and advances free roots.
// Run before the joint system.
func (s *PhysicsSystem) Integrate(w *ecs.World, dt float64) {
	query := s.filter.Query()
	for query.Next() {
		pose, motion, body := query.Get()
		motion.PrevPosition = pose.Position
		motion.PrevOrientation = pose.Orientation

		if !body.Joint.IsZero() {
			continue
		}
		motion.Drift[2] += s.params.Gravity * dt
		pose.Position = pose.Position.Add(motion.Drift.Mul(dt))
	}
}

// Resolve applies ground contact and friction, then estimates velocities.
// Run after the joint system.
func (s *PhysicsSystem) Resolve(w *ecs.World, dt float64) {
	clear(s.contacts)

	query := s.filter.Query()
	for query.Next() {
		pose, motion, body := query.Get()
		c := s.contacts[body.Root]
		if c == nil {
			c = &treeContact{lowest: math.Inf(1)}
			s.contacts[body.Root] = c
		}

		prev := components.Pose{Position: motion.PrevPosition, Orientation: motion.PrevOrientation}
		a, b := body.Endpoints(*pose)
		pa, pb := body.Endpoints(prev)
		for _, ends := range [2][2]mgl64.Vec3{{a, pa}, {b, pb}} {
			bottom := ends[0][2] - body.Radius
			c.lowest = math.Min(c.lowest, bottom)
			if bottom <= s.params.ContactSlop {
				d := ends[0].Sub(ends[1])
				c.slip = c.slip.Add(mgl64.Vec3{d[0], d[1], 0})
				c.touches++
			}
		}
	}

	// Touching caps grip the ground: the tree is pushed against their slip.
	grip := s.params.Friction / (s.params.Friction + 1)
	damping := math.Max(0, 1-s.params.Friction*dt)

	query = s.filter.Query()
	for query.Next() {
		pose, motion, body := query.Get()
		c := s.contacts[body.Root]

		var correction mgl64.Vec3
		if c.lowest < 0 {
			correction[2] = -c.lowest
		}
		if c.touches > 0 {
			correction = correction.Sub(c.slip.Mul(grip / float64(c.touches)))
		}
		pose.Position = pose.Position.Add(correction)

		if body.Joint.IsZero() && c.touches > 0 {
			motion.Drift[0] *= damping
			motion.Drift[1] *= damping
			if motion.Drift[2] < 0 {
				motion.Drift[2] = 0
			}
		}

		motion.Linear = pose.Position.Sub(motion.PrevPosition).Mul(1 / dt)
		motion.Angular = angularVelocity(motion.PrevOrientation, pose.Orientation, dt)
	}
}

// angularVelocity returns the world-space angular velocity rotating from to
// to over dt.
func angularVelocity(from, to mgl64.Quat, dt float64) mgl64.Vec3 {
	d := to.Mul(from.Conjugate())
	if d.W < 0 {
		d = d.Scale(-1)
	}
	sinHalf := d.V.Len()
	if sinHalf < 1e-12 {
		return mgl64.Vec3{}
	}
	angle := 2 * math.Atan2(sinHalf, d.W)
	return d.V.Mul(angle / (sinHalf * dt))
}
