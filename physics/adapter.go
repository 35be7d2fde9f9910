// Package physics defines the rigid-body capability the worker simulates
// creatures with, and a small articulated-body World implementing it.
package physics

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/mlange-42/ark/ecs"
)

// BodyID is a handle to a capsule body.
type BodyID ecs.Entity

// JointID is a handle to a motorized joint.
type JointID ecs.Entity

// Axis is a rotational axis of a joint.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// AxisLimit is the allowed rotation around one joint axis, in radians.
// A disabled axis is locked.
type AxisLimit struct {
	Enabled      bool
	Lower, Upper float64
}

// Pose is a position and orientation in world space.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// Adapter is the physics capability used by creatures. Handles are only
// valid on the adapter that created them.
type Adapter interface {
	// CreateCapsuleBody adds a Z-aligned capsule whose center of mass is at pose.
	CreateCapsuleBody(innerHeight, radius float64, pose Pose) BodyID
	// CreateMotorizedJoint connects child to parent. The anchors are at
	// offsetA and offsetB along the local Z axis of parent and child.
	CreateMotorizedJoint(parent, child BodyID, offsetA, offsetB float64, limits [3]AxisLimit) JointID

	SetTargetVelocity(j JointID, axis Axis, v float64)
	TargetVelocity(j JointID, axis Axis) float64
	Angle(j JointID, axis Axis) float64

	Step(dt float64)

	Pose(b BodyID) Pose
	LinearVelocity(b BodyID) mgl64.Vec3
	AngularVelocity(b BodyID) mgl64.Vec3
	Mass(b BodyID) float64

	ReleaseJoint(j JointID)
	ReleaseBody(b BodyID)
}

// CenterOfMass returns the mass-weighted mean position and velocity of bodies.
func CenterOfMass(a Adapter, bodies []BodyID) (position, velocity mgl64.Vec3) {
	var total float64
	for _, b := range bodies {
		m := a.Mass(b)
		total += m
		position = position.Add(a.Pose(b).Position.Mul(m))
		velocity = velocity.Add(a.LinearVelocity(b).Mul(m))
	}
	if total == 0 {
		return mgl64.Vec3{}, mgl64.Vec3{}
	}
	return position.Mul(1 / total), velocity.Mul(1 / total)
}
