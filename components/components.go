// Package components defines ECS components for the articulated-body world.
package components

import "github.com/go-gl/mathgl/mgl64"

// Pose is a body's world-space center of mass and orientation.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// Motion holds per-step kinematic state.
type Motion struct {
	Linear  mgl64.Vec3 // world-space linear velocity, estimated from the last step
	Angular mgl64.Vec3 // world-space angular velocity, estimated from the last step

	// Free-flight velocity integrated under gravity. Only meaningful for roots;
	// attached bodies are placed by their joint.
	Drift mgl64.Vec3

	PrevPosition    mgl64.Vec3
	PrevOrientation mgl64.Quat
}
