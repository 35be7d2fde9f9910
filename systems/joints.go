package systems

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"

	"github.com/dage/machine-evolved/components"
)

// JointSystem integrates joint motors and places attached bodies by forward
// kinematics, parents before children.
type JointSystem struct {
	filter     ecs.Filter1[components.Joint]
	bodyFilter ecs.Filter1[components.Body]
	joints     *ecs.Map[components.Joint]
	poses      *ecs.Map[components.Pose]
	bodies     *ecs.Map[components.Body]

	maxForce    float64
	maxVelocity float64

	order []ecs.Entity
	dirty bool
}

// NewJointSystem creates a joint system.
func NewJointSystem(w *ecs.World, maxForce, maxVelocity float64) *JointSystem {
	return &JointSystem{
		filter:      *ecs.NewFilter1[components.Joint](w),
		bodyFilter:  *ecs.NewFilter1[components.Body](w),
		joints:      ecs.NewMap[components.Joint](w),
		poses:       ecs.NewMap[components.Pose](w),
		bodies:      ecs.NewMap[components.Body](w),
		maxForce:    maxForce,
		maxVelocity: maxVelocity,
		dirty:       true,
	}
}

// Invalidate marks the tree topology as changed.
func (s *JointSystem) Invalidate() { s.dirty = true }

// Rebuild recomputes joint depths, the parent-first joint order and each
// body's tree root. Called automatically by Update when invalidated.
func (s *JointSystem) Rebuild(w *ecs.World) {
	s.order = s.order[:0]
	query := s.filter.Query()
	for query.Next() {
		s.order = append(s.order, query.Entity())
	}

	for _, e := range s.order {
		j := s.joints.Get(e)
		j.Depth = s.depth(w, e)
	}
	slices.SortStableFunc(s.order, func(a, b ecs.Entity) int {
		return s.joints.Get(a).Depth - s.joints.Get(b).Depth
	})

	bq := s.bodyFilter.Query()
	for bq.Next() {
		body := bq.Get()
		body.Root = s.root(w, bq.Entity())
	}
	s.dirty = false
}

// depth counts joints between e and its tree root.
func (s *JointSystem) depth(w *ecs.World, e ecs.Entity) int {
	d := 0
	for steps := 0; !e.IsZero() && w.Alive(e); steps++ {
		if steps > len(s.order) {
			break
		}
		d++
		parent := s.joints.Get(e).Parent
		if !w.Alive(parent) {
			break
		}
		e = s.bodies.Get(parent).Joint
	}
	return d
}

func (s *JointSystem) root(w *ecs.World, body ecs.Entity) ecs.Entity {
	for steps := 0; steps <= len(s.order); steps++ {
		joint := s.bodies.Get(body).Joint
		if joint.IsZero() || !w.Alive(joint) {
			return body
		}
		parent := s.joints.Get(joint).Parent
		if !w.Alive(parent) {
			return body
		}
		body = parent
	}
	return body
}

// Update advances every motor by dt and re-places attached bodies.
func (s *JointSystem) Update(w *ecs.World, dt float64) {
	if s.dirty {
		s.Rebuild(w)
	}
	for _, e := range s.order {
		j := s.joints.Get(e)
		if !w.Alive(j.Parent) || !w.Alive(j.Child) {
			continue
		}
		child := s.bodies.Get(j.Child)
		for i := range j.Axes {
			s.driveMotor(&j.Axes[i], child, dt)
		}
		s.place(j)
	}
}

// driveMotor moves the motor velocity toward its target, limited by the
// torque the motor can apply to the child capsule, then integrates the angle.
func (s *JointSystem) driveMotor(m *components.Motor, child *components.Body, dt float64) {
	if !m.Enabled {
		m.Angle, m.Velocity = 0, 0
		return
	}
	target := mgl64.Clamp(m.TargetVelocity, -s.maxVelocity, s.maxVelocity)

	length := child.InnerHeight + 2*child.Radius
	inertia := child.Mass * length * length / 12
	if inertia > 0 && s.maxForce > 0 {
		maxDelta := s.maxForce / inertia * dt
		m.Velocity += mgl64.Clamp(target-m.Velocity, -maxDelta, maxDelta)
	} else {
		m.Velocity = target
	}

	m.Angle += m.Velocity * dt
	if m.Angle <= m.Lower {
		m.Angle = m.Lower
		m.Velocity = math.Max(m.Velocity, 0)
	} else if m.Angle >= m.Upper {
		m.Angle = m.Upper
		m.Velocity = math.Min(m.Velocity, 0)
	}
}

// place positions the child so both anchors coincide and its orientation is
// the parent's rotated by the motor angles.
func (s *JointSystem) place(j *components.Joint) {
	parent := s.poses.Get(j.Parent)
	child := s.poses.Get(j.Child)

	child.Orientation = parent.Orientation.Mul(j.Rotation()).Normalize()
	anchor := parent.Position.Add(parent.Orientation.Rotate(mgl64.Vec3{0, 0, j.OffsetA}))
	child.Position = anchor.Sub(child.Orientation.Rotate(mgl64.Vec3{0, 0, j.OffsetB}))
}
