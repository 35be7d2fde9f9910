// Package main measures local evaluation throughput: it simulates one work
// unit repeatedly on a worker pool without contacting a server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/creature/creaturetest"
	"github.com/dage/machine-evolved/fitness"
	"github.com/dage/machine-evolved/protocol"
	"github.com/dage/machine-evolved/telemetry"
	"github.com/dage/machine-evolved/worker"
)

// repeatSource hands out copies of one unit with numbered task ids.
type repeatSource struct {
	unit protocol.WorkUnit

	mu     sync.Mutex
	issued int
	limit  int
}

func (s *repeatSource) GetWork(context.Context) (protocol.WorkUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.issued >= s.limit {
		return protocol.WorkUnit{}, false
	}
	s.issued++
	u := s.unit
	u.Task.ID = fmt.Sprintf("bench-%d", s.issued)
	return u, true
}

func (s *repeatSource) SendResult(context.Context, json.RawMessage) bool { return true }

func loadUnit(path string) (protocol.WorkUnit, error) {
	data := []byte(creaturetest.WorkUnit(fitness.TaskMoveFar, "bench", "bench"))
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return protocol.WorkUnit{}, fmt.Errorf("reading work unit: %w", err)
		}
	}
	var u protocol.WorkUnit
	if err := json.Unmarshal(data, &u); err != nil {
		return protocol.WorkUnit{}, fmt.Errorf("parsing work unit: %w", err)
	}
	if u.Empty() {
		return protocol.WorkUnit{}, fmt.Errorf("work unit has no creature")
	}
	return u, nil
}

// formatDuration formats a duration as MM:SS, or HH:MM:SS when longer.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	unitPath := flag.String("unit", "", "Work unit JSON to simulate (empty = built-in walker)")
	creatures := flag.Int("creatures", 100, "Number of creatures to evaluate")
	workers := flag.Int("workers", 0, "Number of workers (0 = config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Worker.Count = *workers
	}
	if *outputDir != "" {
		cfg.Telemetry.OutputDir = *outputDir
	}
	if err := cfg.Recompute(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	unit, err := loadUnit(*unitPath)
	if err != nil {
		slog.Error("failed to load work unit", "error", err)
		os.Exit(1)
	}

	om, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		slog.Error("failed to create output", "error", err)
		os.Exit(1)
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	src := &repeatSource{unit: unit, limit: *creatures}
	pool := worker.NewPool(src, cfg,
		worker.WithPoolLogger(logger),
		worker.WithRunID("bench"),
		worker.WithOutput(om),
	)

	// Every issued unit ends completed or rejected.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if pool.Completed()+pool.Rejected() >= *creatures {
				pool.Stop()
				return
			}
		}
	}()

	slog.Info("starting benchmark",
		"creatures", *creatures,
		"workers", cfg.Derived.Workers,
		"ticks_per_creature", cfg.Fitness.MoveFarTicks,
	)
	start := time.Now()
	completed, _ := pool.Run(ctx)
	elapsed := time.Since(start)

	rate := float64(completed) / elapsed.Seconds()
	slog.Info("benchmark finished",
		"completed", completed,
		"rejected", pool.Rejected(),
		"elapsed", formatDuration(elapsed),
		"creatures_per_sec", rate,
		"ticks_per_sec", rate*float64(cfg.Fitness.MoveFarTicks),
	)
	for _, w := range pool.Workers() {
		slog.Info("worker perf", "worker_id", w.ID(), "completed", w.Completed(), "stats", w.Perf().Stats())
	}
}
