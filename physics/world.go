package physics

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"

	"github.com/dage/machine-evolved/components"
	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/systems"
)

// World is an Adapter backed by an ECS world. Attached bodies follow their
// joints kinematically; each tree falls under gravity as a whole, rests on the
// ground plane z=0 and is pushed along by the slip of its touching capsules.
// A World is not safe for concurrent use.
type World struct {
	world *ecs.World

	bodyMapper *ecs.Map3[components.Pose, components.Motion, components.Body]
	jointMap   *ecs.Map[components.Joint]
	poseMap    *ecs.Map[components.Pose]
	motionMap  *ecs.Map[components.Motion]
	bodyMap    *ecs.Map[components.Body]

	joints  *systems.JointSystem
	physics *systems.PhysicsSystem

	massScale float64
	ticks     int
}

// NewWorld creates an empty world from physics config.
func NewWorld(cfg config.PhysicsConfig) *World {
	w := ecs.NewWorld()
	return &World{
		world:      w,
		bodyMapper: ecs.NewMap3[components.Pose, components.Motion, components.Body](w),
		jointMap:   ecs.NewMap[components.Joint](w),
		poseMap:    ecs.NewMap[components.Pose](w),
		motionMap:  ecs.NewMap[components.Motion](w),
		bodyMap:    ecs.NewMap[components.Body](w),
		joints:     systems.NewJointSystem(w, cfg.MaxMotorForce, cfg.MaxMotorVelocity),
		physics: systems.NewPhysicsSystem(w, systems.PhysicsParams{
			Gravity:     cfg.Gravity,
			Friction:    cfg.GroundFriction,
			ContactSlop: cfg.ContactSlop,
		}),
		massScale: cfg.MassScale,
	}
}

// Ticks returns the number of steps taken.
func (w *World) Ticks() int { return w.ticks }

// CreateCapsuleBody implements Adapter.
func (w *World) CreateCapsuleBody(innerHeight, radius float64, pose Pose) BodyID {
	p := components.Pose{Position: pose.Position, Orientation: pose.Orientation.Normalize()}
	m := components.Motion{PrevPosition: p.Position, PrevOrientation: p.Orientation}
	b := components.Body{
		InnerHeight: innerHeight,
		Radius:      radius,
		Mass:        components.CapsuleMass(innerHeight, radius, w.massScale),
	}
	e := w.bodyMapper.NewEntity(&p, &m, &b)
	w.bodyMap.Get(e).Root = e
	w.joints.Invalidate()
	return BodyID(e)
}

// CreateMotorizedJoint implements Adapter. Initial motor angles are taken from
// the bodies' relative orientation, clamped into the limits.
func (w *World) CreateMotorizedJoint(parent, child BodyID, offsetA, offsetB float64, limits [3]AxisLimit) JointID {
	pe, ce := ecs.Entity(parent), ecs.Entity(child)
	rel := w.poseMap.Get(pe).Orientation.Conjugate().Mul(w.poseMap.Get(ce).Orientation)
	a, b, c := components.EulerXYZ(rel)
	initial := [3]float64{a, b, c}

	j := components.Joint{
		Parent:  pe,
		Child:   ce,
		OffsetA: offsetA,
		OffsetB: offsetB,
	}
	for i, l := range limits {
		if !l.Enabled {
			continue
		}
		j.Axes[i] = components.Motor{
			Enabled: true,
			Lower:   l.Lower,
			Upper:   l.Upper,
			Angle:   mgl64.Clamp(initial[i], l.Lower, l.Upper),
		}
	}

	e := w.jointMap.NewEntity(&j)
	w.bodyMap.Get(ce).Joint = e
	w.joints.Invalidate()
	return JointID(e)
}

func (w *World) motor(j JointID, axis Axis) *components.Motor {
	e := ecs.Entity(j)
	if axis < AxisX || axis > AxisZ || !w.world.Alive(e) {
		return nil
	}
	return &w.jointMap.Get(e).Axes[axis]
}

// SetTargetVelocity implements Adapter. Disabled axes ignore the target.
func (w *World) SetTargetVelocity(j JointID, axis Axis, v float64) {
	if m := w.motor(j, axis); m != nil && m.Enabled {
		m.TargetVelocity = v
	}
}

// TargetVelocity implements Adapter.
func (w *World) TargetVelocity(j JointID, axis Axis) float64 {
	if m := w.motor(j, axis); m != nil {
		return m.TargetVelocity
	}
	return 0
}

// Angle implements Adapter.
func (w *World) Angle(j JointID, axis Axis) float64 {
	if m := w.motor(j, axis); m != nil {
		return m.Angle
	}
	return 0
}

// Step implements Adapter.
func (w *World) Step(dt float64) {
	w.physics.Integrate(w.world, dt)
	w.joints.Update(w.world, dt)
	w.physics.Resolve(w.world, dt)
	w.ticks++
}

// Pose implements Adapter.
func (w *World) Pose(b BodyID) Pose {
	e := ecs.Entity(b)
	if !w.world.Alive(e) {
		return Pose{Orientation: mgl64.QuatIdent()}
	}
	p := w.poseMap.Get(e)
	return Pose{Position: p.Position, Orientation: p.Orientation}
}

// LinearVelocity implements Adapter.
func (w *World) LinearVelocity(b BodyID) mgl64.Vec3 {
	e := ecs.Entity(b)
	if !w.world.Alive(e) {
		return mgl64.Vec3{}
	}
	return w.motionMap.Get(e).Linear
}

// AngularVelocity implements Adapter.
func (w *World) AngularVelocity(b BodyID) mgl64.Vec3 {
	e := ecs.Entity(b)
	if !w.world.Alive(e) {
		return mgl64.Vec3{}
	}
	return w.motionMap.Get(e).Angular
}

// Mass implements Adapter.
func (w *World) Mass(b BodyID) float64 {
	e := ecs.Entity(b)
	if !w.world.Alive(e) {
		return 0
	}
	return w.bodyMap.Get(e).Mass
}

// ReleaseJoint implements Adapter. The child becomes a free root.
func (w *World) ReleaseJoint(j JointID) {
	e := ecs.Entity(j)
	if !w.world.Alive(e) {
		return
	}
	child := w.jointMap.Get(e).Child
	if w.world.Alive(child) {
		w.bodyMap.Get(child).Joint = ecs.Entity{}
	}
	w.world.RemoveEntity(e)
	w.joints.Invalidate()
}

// ReleaseBody implements Adapter. Joints still referencing the body become
// inert until released.
func (w *World) ReleaseBody(b BodyID) {
	e := ecs.Entity(b)
	if !w.world.Alive(e) {
		return
	}
	w.world.RemoveEntity(e)
	w.joints.Invalidate()
}

// NumBodies returns the number of live bodies.
func (w *World) NumBodies() int {
	n := 0
	query := ecs.NewFilter1[components.Body](w.world).Query()
	for query.Next() {
		n++
	}
	return n
}

// NumJoints returns the number of live joints.
func (w *World) NumJoints() int {
	n := 0
	query := ecs.NewFilter1[components.Joint](w.world).Query()
	for query.Next() {
		n++
	}
	return n
}

var _ Adapter = (*World)(nil)
