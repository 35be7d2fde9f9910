package fitness

import "fmt"

// Evaluator holds the active tasks of one physics world. It is not safe for
// concurrent use.
type Evaluator struct {
	tasks        []*Task
	moveFarTicks int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMoveFarTicks overrides the MoveFar duration.
func WithMoveFarTicks(ticks int) Option {
	return func(e *Evaluator) {
		if ticks > 0 {
			e.moveFarTicks = ticks
		}
	}
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{moveFarTicks: MoveFarTicks}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add builds the task named by d for subject and starts tracking it.
func (e *Evaluator) Add(d Descriptor, subject Subject) (*Task, error) {
	var v Variant
	switch d.Name {
	case TaskMoveFar:
		v = newMoveFar(subject.CenterOfMass(), e.moveFarTicks)
	default:
		return nil, fmt.Errorf("%w %q (task %s)", ErrUnknownTask, d.Name, d.ID)
	}
	t := &Task{Descriptor: d, Subject: subject, State: StateActive, Variant: v}
	e.tasks = append(e.tasks, t)
	return t, nil
}

// Remove cancels every task measuring subject and returns how many there were.
func (e *Evaluator) Remove(subject Subject) int {
	kept := e.tasks[:0]
	removed := 0
	for _, t := range e.tasks {
		if t.Subject == subject {
			t.State = StateCancelled
			removed++
			continue
		}
		kept = append(kept, t)
	}
	clear(e.tasks[len(kept):])
	e.tasks = kept
	return removed
}

// Tick advances every active task by one simulation step and returns those
// that finished, in the order they were added. Finished tasks are no longer
// tracked; the caller disposes of their subjects.
func (e *Evaluator) Tick() []*Task {
	var done []*Task
	kept := e.tasks[:0]
	for _, t := range e.tasks {
		if t.Variant.step(t.Subject.CenterOfMass()) {
			t.State = StateCompleted
			done = append(done, t)
			continue
		}
		kept = append(kept, t)
	}
	clear(e.tasks[len(kept):])
	e.tasks = kept
	return done
}

// Len returns the number of active tasks.
func (e *Evaluator) Len() int { return len(e.tasks) }

// Tasks returns the active tasks. The slice must not be modified.
func (e *Evaluator) Tasks() []*Task { return e.tasks }
