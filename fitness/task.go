// Package fitness tracks the fitness tasks of simulated creatures and reports
// them when finished.
package fitness

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrUnknownTask is returned by Add for task names without a variant.
var ErrUnknownTask = errors.New("unknown task")

// Task names understood by the evaluator.
const (
	TaskMoveFar = "MOVE_FAR"
)

// Default durations.
const (
	TicksPerSecond = 60
	MoveFarTicks   = 60 * TicksPerSecond
)

// Subject is the simulated creature a task measures.
type Subject interface {
	CenterOfMass() mgl64.Vec3
}

// Descriptor names a task as delivered in a work unit.
type Descriptor struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	ExperimentID string `json:"experimentId"`
}

// State is the lifecycle state of a task.
type State int

const (
	StateActive State = iota
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Task is one in-flight fitness measurement.
type Task struct {
	Descriptor
	Subject Subject
	State   State
	Variant Variant
}

// Variant is the task-specific state machine. The set of variants is closed:
// the interface has an unexported method.
type Variant interface {
	// step advances one tick and reports whether the task finished.
	step(pos mgl64.Vec3) bool
	result(d Descriptor) any
	isVariant()
}

// Score returns the task's current fitness value.
func (t *Task) Score() float64 {
	switch v := t.Variant.(type) {
	case *MoveFar:
		return v.MaxDistance
	}
	return 0
}

// Result returns the task's result in its wire form.
func (t *Task) Result() any {
	return t.Variant.result(t.Descriptor)
}

// MarshalResult serializes the task's result.
func (t *Task) MarshalResult() (json.RawMessage, error) {
	data, err := json.Marshal(t.Result())
	if err != nil {
		return nil, fmt.Errorf("marshaling %s result for %s: %w", t.Name, t.ID, err)
	}
	return data, nil
}

// MoveFar measures the largest horizontal distance the subject's center of
// mass reaches from where it started.
type MoveFar struct {
	Start          mgl64.Vec2
	MaxDistance    float64
	RemainingTicks int
	TotalTicks     int
}

// MoveFarResult is the wire form of a finished MoveFar task.
type MoveFarResult struct {
	ID            string  `json:"id"`
	ExperimentID  string  `json:"experimentId"`
	MaxDistance   float64 `json:"maxDistance"`
	SimulatedTime int     `json:"simulatedTime"`
}

func newMoveFar(start mgl64.Vec3, ticks int) *MoveFar {
	return &MoveFar{
		Start:          mgl64.Vec2{start[0], start[1]},
		RemainingTicks: ticks,
		TotalTicks:     ticks,
	}
}

func (m *MoveFar) step(pos mgl64.Vec3) bool {
	d := mgl64.Vec2{pos[0], pos[1]}.Sub(m.Start).Len()
	if d > m.MaxDistance {
		m.MaxDistance = d
	}
	m.RemainingTicks--
	return m.RemainingTicks <= 0
}

func (m *MoveFar) result(d Descriptor) any {
	return MoveFarResult{
		ID:            d.ID,
		ExperimentID:  d.ExperimentID,
		MaxDistance:   m.MaxDistance,
		SimulatedTime: m.TotalTicks / TicksPerSecond,
	}
}

func (*MoveFar) isVariant() {}
