package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/creature"
	"github.com/dage/machine-evolved/fitness"
	"github.com/dage/machine-evolved/physics"
	"github.com/dage/machine-evolved/protocol"
)

// PreviewResult is the outcome of a preview run.
type PreviewResult struct {
	Task      fitness.Descriptor
	Score     float64
	Ticks     int
	Completed bool
}

// PreviewOptions tune a preview run.
type PreviewOptions struct {
	// Realtime paces the simulation at the configured tick rate.
	Realtime bool
	// Progress, when set, is called once per simulated second.
	Progress func(ticks int, score float64)
	Logger   *slog.Logger
}

// Preview simulates unit in a private world until its task finishes. If ctx
// is cancelled first, the task is removed from evaluation, the creature is
// released and the partial result is returned with ctx's error.
func Preview(ctx context.Context, unit protocol.WorkUnit, cfg *config.Config, opts PreviewOptions) (PreviewResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	world := physics.NewWorld(cfg.Physics)
	evaluator := fitness.NewEvaluator(fitness.WithMoveFarTicks(cfg.Fitness.MoveFarTicks))

	c, err := creature.Build(world, unit.Creature.Structure, unit.Creature.MotorController, mgl64.Vec3(cfg.Worker.SpawnPosition))
	if err != nil {
		return PreviewResult{}, fmt.Errorf("building preview creature: %w", err)
	}
	defer c.Release()

	task, err := evaluator.Add(fitness.Descriptor(unit.Task), c)
	if err != nil {
		return PreviewResult{}, err
	}
	res := PreviewResult{Task: task.Descriptor}
	logger.Info("preview started", "task", task.Name, "task_id", task.ID, "experiment_id", task.ExperimentID)

	var pace <-chan time.Time
	if opts.Realtime {
		ticker := time.NewTicker(cfg.Derived.TickDuration)
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		if pace != nil {
			select {
			case <-ctx.Done():
			case <-pace:
			}
		}
		if err := ctx.Err(); err != nil {
			evaluator.Remove(c)
			res.Score = task.Score()
			res.Ticks = c.Ticks()
			logger.Info("preview cancelled", "task_id", task.ID, "ticks", res.Ticks, "fitness", res.Score)
			return res, err
		}

		world.Step(cfg.Derived.DT)
		if err := c.Tick(); err != nil {
			evaluator.Remove(c)
			return res, fmt.Errorf("ticking preview creature: %w", err)
		}
		finished := evaluator.Tick()

		if opts.Progress != nil && c.Ticks()%fitness.TicksPerSecond == 0 {
			opts.Progress(c.Ticks(), task.Score())
		}
		if len(finished) > 0 {
			res.Score = task.Score()
			res.Ticks = c.Ticks()
			res.Completed = true
			logger.Info("preview finished", "task_id", task.ID, "fitness", res.Score, "simulated_seconds", res.Ticks/fitness.TicksPerSecond)
			return res, nil
		}
	}
}
