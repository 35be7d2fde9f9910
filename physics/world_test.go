package physics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dage/machine-evolved/config"
)

func testPhysics() config.PhysicsConfig {
	return config.PhysicsConfig{
		Gravity:          -200,
		GroundFriction:   4,
		MaxMotorForce:    2000,
		MaxMotorVelocity: 12,
		MassScale:        0.0001,
		ContactSlop:      0.05,
	}
}

func upright(x, y, z float64) Pose {
	return Pose{Position: mgl64.Vec3{x, y, z}, Orientation: mgl64.QuatIdent()}
}

func TestCapsuleFallsAndRests(t *testing.T) {
	w := NewWorld(testPhysics())
	b := w.CreateCapsuleBody(1, 0.5, upright(3, 4, 5))

	for i := 0; i < 240; i++ {
		w.Step(1.0 / 60)
	}

	p := w.Pose(b)
	// Lowest point is inner height/2 + radius below the center.
	if math.Abs(p.Position[2]-1) > 1e-9 {
		t.Errorf("resting height = %v, want 1", p.Position[2])
	}
	if p.Position[0] != 3 || p.Position[1] != 4 {
		t.Errorf("capsule drifted horizontally to %v", p.Position)
	}
	if v := w.LinearVelocity(b); v.Len() > 1e-6 {
		t.Errorf("resting velocity = %v, want 0", v)
	}
	if w.Ticks() != 240 {
		t.Errorf("Ticks = %d, want 240", w.Ticks())
	}
}

func TestJointAngleClampsAtLimit(t *testing.T) {
	w := NewWorld(testPhysics())
	parent := w.CreateCapsuleBody(2, 0.5, upright(0, 0, 20))
	child := w.CreateCapsuleBody(1, 0.25, upright(0, 0, 21.75))
	limits := [3]AxisLimit{{Enabled: true, Lower: -math.Pi / 4, Upper: math.Pi / 4}}
	j := w.CreateMotorizedJoint(parent, child, 1.5, -0.75, limits)

	w.SetTargetVelocity(j, AxisX, 1)
	if got := w.TargetVelocity(j, AxisX); got != 1 {
		t.Fatalf("TargetVelocity = %v, want 1", got)
	}
	// Disabled axes ignore targets.
	w.SetTargetVelocity(j, AxisY, 3)
	if got := w.TargetVelocity(j, AxisY); got != 0 {
		t.Errorf("disabled axis target = %v, want 0", got)
	}

	w.Step(1.0 / 60)
	if a := w.Angle(j, AxisX); a <= 0 || a > 1.0/60+1e-9 {
		t.Errorf("angle after one step = %v", a)
	}
	for i := 0; i < 120; i++ {
		w.Step(1.0 / 60)
	}
	if a := w.Angle(j, AxisX); math.Abs(a-math.Pi/4) > 1e-9 {
		t.Errorf("angle = %v, want pi/4", a)
	}
	if a := w.Angle(j, AxisY); a != 0 {
		t.Errorf("locked axis angle = %v", a)
	}
}

func TestJointKeepsAnchorsTogether(t *testing.T) {
	w := NewWorld(testPhysics())
	parent := w.CreateCapsuleBody(2, 0.5, upright(0, 0, 20))
	child := w.CreateCapsuleBody(1, 0.25, upright(0, 0, 21.75))
	limits := [3]AxisLimit{
		{Enabled: true, Lower: -1, Upper: 1},
		{Enabled: true, Lower: -1, Upper: 1},
		{Enabled: true, Lower: -1, Upper: 1},
	}
	j := w.CreateMotorizedJoint(parent, child, 1.5, -0.75, limits)
	w.SetTargetVelocity(j, AxisX, 2)
	w.SetTargetVelocity(j, AxisZ, -1)

	for i := 0; i < 30; i++ {
		w.Step(1.0 / 60)
	}

	pp, cp := w.Pose(parent), w.Pose(child)
	anchorA := pp.Position.Add(pp.Orientation.Rotate(mgl64.Vec3{0, 0, 1.5}))
	anchorB := cp.Position.Add(cp.Orientation.Rotate(mgl64.Vec3{0, 0, -0.75}))
	if d := anchorA.Sub(anchorB).Len(); d > 1e-9 {
		t.Errorf("anchors separated by %v", d)
	}
	if w.AngularVelocity(child).Len() == 0 {
		t.Error("rotating child reports zero angular velocity")
	}
}

func TestCenterOfMass(t *testing.T) {
	w := NewWorld(testPhysics())
	a := w.CreateCapsuleBody(1, 0.5, upright(0, 0, 10))
	b := w.CreateCapsuleBody(1, 0.5, upright(4, 0, 10))
	c := w.CreateCapsuleBody(3, 0.5, upright(0, 8, 10))

	pos, vel := CenterOfMass(w, []BodyID{a, b})
	if pos.Sub(mgl64.Vec3{2, 0, 10}).Len() > 1e-12 {
		t.Errorf("COM = %v, want (2,0,10)", pos)
	}
	if vel.Len() != 0 {
		t.Errorf("velocity before stepping = %v", vel)
	}

	// A heavier capsule pulls the center toward itself.
	pos, _ = CenterOfMass(w, []BodyID{a, c})
	if pos[1] <= 4 {
		t.Errorf("COM y = %v, want > 4", pos[1])
	}
	if w.Mass(c) <= w.Mass(a) {
		t.Errorf("mass(c) = %v not above mass(a) = %v", w.Mass(c), w.Mass(a))
	}
}

func TestReleaseRemovesBodiesAndJoints(t *testing.T) {
	w := NewWorld(testPhysics())
	parent := w.CreateCapsuleBody(2, 0.5, upright(0, 0, 5))
	child := w.CreateCapsuleBody(1, 0.25, upright(0, 0, 6.75))
	j := w.CreateMotorizedJoint(parent, child, 1.5, -0.75, [3]AxisLimit{{Enabled: true, Lower: -1, Upper: 1}})
	w.Step(1.0 / 60)

	if w.NumBodies() != 2 || w.NumJoints() != 1 {
		t.Fatalf("bodies=%d joints=%d, want 2/1", w.NumBodies(), w.NumJoints())
	}

	w.ReleaseJoint(j)
	w.ReleaseBody(child)
	w.ReleaseBody(parent)
	if w.NumBodies() != 0 || w.NumJoints() != 0 {
		t.Errorf("after release bodies=%d joints=%d, want 0/0", w.NumBodies(), w.NumJoints())
	}

	// Stale handles are harmless.
	w.ReleaseBody(parent)
	if m := w.Mass(parent); m != 0 {
		t.Errorf("mass of released body = %v", m)
	}
	w.Step(1.0 / 60)
}

func BenchmarkStep(b *testing.B) {
	w := NewWorld(testPhysics())
	root := w.CreateCapsuleBody(2, 0.5, upright(0, 0, 2))
	for i := 0; i < 6; i++ {
		leg := w.CreateCapsuleBody(1, 0.25, upright(0, 0, 3.75))
		j := w.CreateMotorizedJoint(root, leg, 1.5, -0.75, [3]AxisLimit{{Enabled: true, Lower: -1, Upper: 1}})
		w.SetTargetVelocity(j, AxisX, float64(i%3)-1)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Step(1.0 / 60)
	}
}
