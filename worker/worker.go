// Package worker runs the evaluation loop: fetch a work unit, simulate the
// creature it describes until its fitness task finishes, hand back the
// result and repeat.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/creature"
	"github.com/dage/machine-evolved/fitness"
	"github.com/dage/machine-evolved/physics"
	"github.com/dage/machine-evolved/protocol"
	"github.com/dage/machine-evolved/telemetry"
)

// Source hands out work units and takes results. Both the batching proxy and
// the synchronous protocol client satisfy it.
type Source interface {
	GetWork(ctx context.Context) (protocol.WorkUnit, bool)
	SendResult(ctx context.Context, result json.RawMessage) bool
}

// Completion describes one finished evaluation.
type Completion struct {
	WorkerID int
	Task     fitness.Descriptor
	Score    float64
	Result   json.RawMessage
	// SimulatedTime is in seconds.
	SimulatedTime int
	Wall          time.Duration
	At            time.Time
}

// Hooks are called from the worker's goroutine.
type Hooks struct {
	OnComplete func(Completion)
	OnReject   func(workerID int, unit protocol.WorkUnit, err error)
}

// slot is the creature currently being evaluated together with its task.
type slot struct {
	creature *creature.Creature
	task     *fitness.Task
	started  time.Time
}

// Worker owns one physics world and evaluates one creature at a time. Run
// must be called from a single goroutine; Stop and the counters may be used
// from any goroutine.
type Worker struct {
	id     int
	source Source
	logger *slog.Logger
	hooks  Hooks
	perf   *telemetry.PerfCollector

	world     *physics.World
	evaluator *fitness.Evaluator
	slot      *slot

	dt           float64
	idle         time.Duration
	origin       mgl64.Vec3
	maxCreatures int

	stopped   atomic.Bool
	completed atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the base logger; the worker adds its id.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithHooks sets completion and rejection callbacks.
func WithHooks(h Hooks) Option {
	return func(w *Worker) { w.hooks = h }
}

// WithPerf records iteration phase timings into pc.
func WithPerf(pc *telemetry.PerfCollector) Option {
	return func(w *Worker) { w.perf = pc }
}

// WithMaxCreatures stops the worker after n completions. Zero means no limit.
func WithMaxCreatures(n int) Option {
	return func(w *Worker) { w.maxCreatures = n }
}

// New creates a worker with its own world and evaluator.
func New(id int, source Source, cfg *config.Config, opts ...Option) *Worker {
	w := &Worker{
		id:           id,
		source:       source,
		logger:       slog.Default(),
		world:        physics.NewWorld(cfg.Physics),
		evaluator:    fitness.NewEvaluator(fitness.WithMoveFarTicks(cfg.Fitness.MoveFarTicks)),
		dt:           cfg.Derived.DT,
		idle:         cfg.Worker.IdleInterval,
		origin:       mgl64.Vec3(cfg.Worker.SpawnPosition),
		maxCreatures: cfg.Worker.MaxCreatures,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker_id", id)
	if w.perf == nil {
		w.perf = telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	}
	return w
}

// ID returns the worker id.
func (w *Worker) ID() int { return w.id }

// Completed returns the number of results handed back.
func (w *Worker) Completed() int { return int(w.completed.Load()) }

// Rejected returns the number of work units that could not be simulated.
func (w *Worker) Rejected() int { return int(w.rejected.Load()) }

// Busy reports whether a creature is being evaluated. Like Step it belongs
// to the goroutine driving the worker.
func (w *Worker) Busy() bool { return w.slot != nil }

// Perf returns the worker's phase timings.
func (w *Worker) Perf() *telemetry.PerfCollector { return w.perf }

// Stop asks Run to return after the current iteration.
func (w *Worker) Stop() { w.stopped.Store(true) }

func (w *Worker) done(ctx context.Context) bool {
	if w.stopped.Load() || ctx.Err() != nil {
		return true
	}
	return w.maxCreatures > 0 && w.Completed() >= w.maxCreatures
}

// Run evaluates work units until Stop is called, ctx is cancelled or the
// completion limit is reached. A creature still in flight is discarded.
func (w *Worker) Run(ctx context.Context) (completed int, err error) {
	w.logger.Debug("worker started")
	defer w.vacate()

	for !w.done(ctx) {
		if w.Step(ctx) {
			continue
		}
		t := time.NewTimer(w.idle)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	w.logger.Debug("worker stopped", "completed", w.Completed(), "rejected", w.Rejected())
	return w.Completed(), nil
}

// Step runs one iteration. It reports false when the slot was empty and no
// work was available, in which case the caller should idle.
func (w *Worker) Step(ctx context.Context) bool {
	w.perf.StartTick()

	if w.slot == nil {
		w.perf.StartPhase(telemetry.PhaseFetch)
		unit, ok := w.source.GetWork(ctx)
		if !ok {
			w.perf.EndTick()
			return false
		}
		w.perf.StartPhase(telemetry.PhaseSpawn)
		if err := w.occupy(unit); err != nil {
			w.reject(unit, err)
			w.perf.EndTick()
			return true
		}
	}

	w.perf.StartPhase(telemetry.PhasePhysics)
	w.world.Step(w.dt)

	w.perf.StartPhase(telemetry.PhaseControl)
	if err := w.slot.creature.Tick(); err != nil {
		unit := protocol.WorkUnit{Task: protocol.TaskDescriptor(w.slot.task.Descriptor)}
		w.vacate()
		w.reject(unit, fmt.Errorf("ticking creature: %w", err))
		w.perf.EndTick()
		return true
	}

	w.perf.StartPhase(telemetry.PhaseEvaluate)
	finished := w.evaluator.Tick()

	w.perf.StartPhase(telemetry.PhaseHarvest)
	for _, t := range finished {
		w.harvest(ctx, t)
	}

	w.perf.EndTick()
	return true
}

// occupy instantiates unit in the world and registers its task.
func (w *Worker) occupy(unit protocol.WorkUnit) error {
	c, err := creature.Build(w.world, unit.Creature.Structure, unit.Creature.MotorController, w.origin)
	if err != nil {
		return err
	}
	task, err := w.evaluator.Add(fitness.Descriptor(unit.Task), c)
	if err != nil {
		c.Release()
		return err
	}
	w.slot = &slot{creature: c, task: task, started: time.Now()}
	return nil
}

// vacate cancels the slot's task and frees its creature.
func (w *Worker) vacate() {
	if w.slot == nil {
		return
	}
	w.evaluator.Remove(w.slot.creature)
	w.slot.creature.Release()
	w.slot = nil
}

func (w *Worker) reject(unit protocol.WorkUnit, err error) {
	w.rejected.Add(1)
	w.logger.Error("rejected work unit",
		"task", unit.Task.Name,
		"task_id", unit.Task.ID,
		"experiment_id", unit.Task.ExperimentID,
		"error", err,
	)
	if w.hooks.OnReject != nil {
		w.hooks.OnReject(w.id, unit, err)
	}
}

func (w *Worker) harvest(ctx context.Context, t *fitness.Task) {
	s := w.slot
	if s == nil || t.Subject != fitness.Subject(s.creature) {
		w.logger.Error("finished task has no slot", "task_id", t.ID)
		return
	}

	result, err := t.MarshalResult()
	if err != nil {
		w.logger.Error("encoding result", "task_id", t.ID, "error", err)
	} else if !w.source.SendResult(ctx, result) {
		w.logger.Warn("result not delivered", "task_id", t.ID)
	}

	w.completed.Add(1)
	c := Completion{
		WorkerID:      w.id,
		Task:          t.Descriptor,
		Score:         t.Score(),
		Result:        result,
		SimulatedTime: s.creature.Ticks() / fitness.TicksPerSecond,
		Wall:          time.Since(s.started),
		At:            time.Now(),
	}
	w.logger.Debug("creature evaluated", "task_id", t.ID, "fitness", c.Score, "wall_ms", c.Wall.Milliseconds())

	s.creature.Release()
	w.slot = nil

	if w.hooks.OnComplete != nil {
		w.hooks.OnComplete(c)
	}
}
