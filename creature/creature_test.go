package creature

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/creature/creaturetest"
	"github.com/dage/machine-evolved/neural"
	"github.com/dage/machine-evolved/physics"
)

func newWorld() *physics.World {
	return physics.NewWorld(config.Default().Physics)
}

func TestBuildAndTick(t *testing.T) {
	w := newWorld()
	c, err := Build(w, []byte(creaturetest.Structure()), []byte(creaturetest.Controller()), mgl64.Vec3{10, 0, 0})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if w.NumBodies() != 3 || w.NumJoints() != 2 {
		t.Fatalf("bodies=%d joints=%d, want 3/2", w.NumBodies(), w.NumJoints())
	}
	if len(c.Motors()) != 2 {
		t.Fatalf("motors = %d, want 2", len(c.Motors()))
	}

	start := c.CenterOfMass()
	if start[0] < 9 || start[0] > 11 {
		t.Errorf("spawn not offset by origin: COM %v", start)
	}

	for i := 0; i < 120; i++ {
		w.Step(1.0 / 60)
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if c.Ticks() != 120 {
		t.Errorf("Ticks = %d, want 120", c.Ticks())
	}

	// The legs are driven in antiphase.
	m := c.Motors()
	v0 := w.TargetVelocity(m[0].Joint, physics.Axis(m[0].Axis))
	v1 := w.TargetVelocity(m[1].Joint, physics.Axis(m[1].Axis))
	if v0 == 0 || v0 != -v1 {
		t.Errorf("target velocities %v, %v; want equal magnitude, opposite sign", v0, v1)
	}
	if fb := c.Feedbacks(); len(fb) != 1 || fb[0] == 0 {
		t.Errorf("feedbacks = %v, want one non-zero value", fb)
	}

	c.Release()
	c.Release()
	if w.NumBodies() != 0 || w.NumJoints() != 0 {
		t.Errorf("after Release bodies=%d joints=%d", w.NumBodies(), w.NumJoints())
	}
}

func TestBuildRejectsMismatchedController(t *testing.T) {
	w := newWorld()
	bad := `{"layers": [{"weights": [1,0,0,0,0, 0,1,0,0,0], "biases": [0,0,0,0,0, 0,0,0,0,0], "activation": "tanh"}]}`
	_, err := Build(w, []byte(creaturetest.Structure()), []byte(bad), mgl64.Vec3{})
	if !errors.Is(err, neural.ErrOutputMismatch) {
		t.Fatalf("Build error = %v, want ErrOutputMismatch", err)
	}
	if w.NumBodies() != 0 {
		t.Errorf("failed build leaked %d bodies", w.NumBodies())
	}
}

func TestBuildRejectsMalformedStructure(t *testing.T) {
	w := newWorld()
	if _, err := Build(w, []byte(`{"capsules": []}`), []byte(creaturetest.Controller()), mgl64.Vec3{}); err == nil {
		t.Fatal("expected error")
	}
	if w.NumBodies() != 0 {
		t.Errorf("failed build leaked %d bodies", w.NumBodies())
	}
}
