package components

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"
)

// Body holds the capsule shape and its place in an articulated tree.
type Body struct {
	InnerHeight float64
	Radius      float64
	Mass        float64

	Joint ecs.Entity // joint attaching this body to its parent; zero for roots
	Root  ecs.Entity // root body of the tree, maintained by the joint system
}

// CapsuleMass returns the mass of a capsule using the trainer's volume formula
// (the cap term keeps its 4*3/π factor) times scale.
func CapsuleMass(innerHeight, radius, scale float64) float64 {
	volume := math.Pi*radius*radius*innerHeight + 4*3/math.Pi*radius*radius*radius
	return volume * scale
}

// Endpoints returns the centers of the two hemispherical caps in world space.
// Capsules are aligned with their local Z axis.
func (b *Body) Endpoints(p Pose) (mgl64.Vec3, mgl64.Vec3) {
	half := p.Orientation.Rotate(mgl64.Vec3{0, 0, b.InnerHeight / 2})
	return p.Position.Add(half), p.Position.Sub(half)
}

// Motor drives one rotational axis of a joint.
type Motor struct {
	Enabled        bool
	Lower, Upper   float64 // radians
	Angle          float64
	Velocity       float64
	TargetVelocity float64
}

// Joint is a motorized 3-axis rotational constraint between two bodies.
// Anchors sit on the local Z axis of each body.
type Joint struct {
	Parent  ecs.Entity
	Child   ecs.Entity
	OffsetA float64 // anchor on the parent, local Z
	OffsetB float64 // anchor on the child, local Z
	Axes    [3]Motor
	Depth   int // distance from the tree root, maintained by the joint system
}

// Rotation returns the child orientation relative to the parent for the
// current motor angles, applied in X, Y, Z order.
func (j *Joint) Rotation() mgl64.Quat {
	qx := mgl64.QuatRotate(j.Axes[0].Angle, mgl64.Vec3{1, 0, 0})
	qy := mgl64.QuatRotate(j.Axes[1].Angle, mgl64.Vec3{0, 1, 0})
	qz := mgl64.QuatRotate(j.Axes[2].Angle, mgl64.Vec3{0, 0, 1})
	return qx.Mul(qy).Mul(qz)
}

// EulerXYZ decomposes q into angles (a, b, c) such that
// q = Rx(a) * Ry(b) * Rz(c).
func EulerXYZ(q mgl64.Quat) (a, b, c float64) {
	m := q.Normalize().Mat4()
	sinB := mgl64.Clamp(m.At(0, 2), -1, 1)
	b = math.Asin(sinB)
	a = math.Atan2(-m.At(1, 2), m.At(2, 2))
	c = math.Atan2(-m.At(0, 1), m.At(0, 0))
	return a, b, c
}
