package fitness

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// path is a subject whose center of mass is read from a function of the
// number of times it has been sampled.
type path struct {
	samples int
	at      func(i int) mgl64.Vec3
}

func (p *path) CenterOfMass() mgl64.Vec3 {
	pos := p.at(p.samples)
	p.samples++
	return pos
}

func stationary() *path {
	return &path{at: func(int) mgl64.Vec3 { return mgl64.Vec3{3, -2, 7} }}
}

func TestMoveFarStationary(t *testing.T) {
	e := NewEvaluator()
	task, err := e.Add(Descriptor{Name: TaskMoveFar, ID: "a", ExperimentID: "x"}, stationary())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	for tick := 1; tick < MoveFarTicks; tick++ {
		if done := e.Tick(); len(done) != 0 {
			t.Fatalf("completed early at tick %d", tick)
		}
		if task.Score() != 0 {
			t.Fatalf("tick %d: maxDistance = %v, want 0", tick, task.Score())
		}
	}
	done := e.Tick()
	if len(done) != 1 || done[0] != task {
		t.Fatalf("tick %d: done = %v, want the task", MoveFarTicks, done)
	}
	if task.State != StateCompleted {
		t.Errorf("state = %v, want completed", task.State)
	}
	if e.Len() != 0 {
		t.Errorf("Len = %d after completion", e.Len())
	}
}

func TestMoveFarStraightLine(t *testing.T) {
	// Moves 0.01 per tick along a diagonal after the start sample; vertical
	// motion is ignored.
	dir := mgl64.Vec3{3, 4, 0}.Normalize()
	subject := &path{at: func(i int) mgl64.Vec3 {
		return dir.Mul(0.01 * float64(i)).Add(mgl64.Vec3{0, 0, float64(i)})
	}}

	e := NewEvaluator()
	task, err := e.Add(Descriptor{Name: TaskMoveFar, ID: "b", ExperimentID: "x"}, subject)
	if err != nil {
		t.Fatal(err)
	}
	var done []*Task
	ticks := 0
	for len(done) == 0 {
		done = e.Tick()
		ticks++
	}
	if ticks != MoveFarTicks {
		t.Errorf("completed after %d ticks, want %d", ticks, MoveFarTicks)
	}
	want := 0.01 * MoveFarTicks
	if math.Abs(task.Score()-want) > 1e-9 {
		t.Errorf("maxDistance = %v, want %v", task.Score(), want)
	}
}

func TestMoveFarKeepsMaximum(t *testing.T) {
	// Goes out to 5 and comes back.
	subject := &path{at: func(i int) mgl64.Vec3 {
		if i <= 5 {
			return mgl64.Vec3{float64(i), 0, 0}
		}
		return mgl64.Vec3{0, 0, 0}
	}}
	e := NewEvaluator(WithMoveFarTicks(20))
	task, _ := e.Add(Descriptor{Name: TaskMoveFar, ID: "c"}, subject)
	for i := 0; i < 19; i++ {
		e.Tick()
	}
	if task.Score() != 5 {
		t.Errorf("maxDistance = %v, want 5", task.Score())
	}
	if done := e.Tick(); len(done) != 1 {
		t.Errorf("expected completion on tick 20")
	}
}

func TestAddUnknownTask(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Add(Descriptor{Name: "JUMP_HIGH", ID: "z"}, stationary())
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("error = %v, want ErrUnknownTask", err)
	}
	if e.Len() != 0 {
		t.Errorf("Len = %d after failed Add", e.Len())
	}
}

func TestRemove(t *testing.T) {
	e := NewEvaluator(WithMoveFarTicks(10))
	a, b := stationary(), stationary()
	ta, _ := e.Add(Descriptor{Name: TaskMoveFar, ID: "a"}, a)
	e.Add(Descriptor{Name: TaskMoveFar, ID: "b"}, b)

	if n := e.Remove(a); n != 1 {
		t.Fatalf("Remove = %d, want 1", n)
	}
	if ta.State != StateCancelled {
		t.Errorf("state = %v, want cancelled", ta.State)
	}
	if n := e.Remove(a); n != 0 {
		t.Errorf("second Remove = %d, want 0", n)
	}
	if e.Len() != 1 || e.Tasks()[0].ID != "b" {
		t.Errorf("remaining tasks = %v", e.Tasks())
	}

	var done []*Task
	for i := 0; i < 10; i++ {
		done = append(done, e.Tick()...)
	}
	if len(done) != 1 || done[0].ID != "b" {
		t.Errorf("done = %v, want only b", done)
	}
}

func TestCompletionOrderFollowsInsertion(t *testing.T) {
	e := NewEvaluator(WithMoveFarTicks(3))
	for _, id := range []string{"first", "second", "third"} {
		e.Add(Descriptor{Name: TaskMoveFar, ID: id}, stationary())
	}
	e.Tick()
	e.Tick()
	done := e.Tick()
	if len(done) != 3 {
		t.Fatalf("done = %d, want 3", len(done))
	}
	for i, id := range []string{"first", "second", "third"} {
		if done[i].ID != id {
			t.Errorf("done[%d] = %s, want %s", i, done[i].ID, id)
		}
	}
}

func TestMarshalResult(t *testing.T) {
	e := NewEvaluator()
	subject := &path{at: func(i int) mgl64.Vec3 {
		if i == 0 {
			return mgl64.Vec3{1, 1, 0}
		}
		return mgl64.Vec3{4, 5, 0}
	}}
	task, _ := e.Add(Descriptor{Name: TaskMoveFar, ID: "id-1", ExperimentID: "exp-9"}, subject)
	for len(e.Tick()) == 0 {
	}

	data, err := task.MarshalResult()
	if err != nil {
		t.Fatalf("MarshalResult: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "id-1" || got["experimentId"] != "exp-9" {
		t.Errorf("ids = %v", got)
	}
	if got["maxDistance"] != 5.0 {
		t.Errorf("maxDistance = %v, want 5", got["maxDistance"])
	}
	if got["simulatedTime"] != 60.0 {
		t.Errorf("simulatedTime = %v, want 60", got["simulatedTime"])
	}
	if len(got) != 4 {
		t.Errorf("result has %d fields, want 4", len(got))
	}
}
