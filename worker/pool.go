package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/journal"
	"github.com/dage/machine-evolved/protocol"
	"github.com/dage/machine-evolved/telemetry"
)

// Pool runs a fixed set of workers sharing one source and aggregates what
// they report.
type Pool struct {
	cfg    *config.Config
	source Source
	logger *slog.Logger

	runID     string
	store     journal.Store
	output    *telemetry.OutputManager
	collector *telemetry.Collector
	queue     func() telemetry.QueueState
	onDone    func(Completion)

	workers []*Worker
	wg      sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger handed to every worker.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithRunID tags journal entries and CSV rows.
func WithRunID(id string) PoolOption {
	return func(p *Pool) { p.runID = id }
}

// WithJournal records every completion in s.
func WithJournal(s journal.Store) PoolOption {
	return func(p *Pool) { p.store = s }
}

// WithOutput writes results, perf and throughput rows to om.
func WithOutput(om *telemetry.OutputManager) PoolOption {
	return func(p *Pool) { p.output = om }
}

// WithQueueState reports proxy queue sizes and server status in throughput
// windows.
func WithQueueState(fn func() telemetry.QueueState) PoolOption {
	return func(p *Pool) { p.queue = fn }
}

// WithOnComplete is called after each completion is recorded. It may be
// called from several goroutines at once.
func WithOnComplete(fn func(Completion)) PoolOption {
	return func(p *Pool) { p.onDone = fn }
}

// NewPool creates cfg.Derived.Workers workers with ids 0..n-1.
func NewPool(source Source, cfg *config.Config, opts ...PoolOption) *Pool {
	p := &Pool{
		cfg:    cfg,
		source: source,
		logger: slog.Default(),
		store:  journal.Discard{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.collector = telemetry.NewCollector(cfg.Telemetry.StatsWindow, time.Now())

	hooks := Hooks{OnComplete: p.record, OnReject: p.recordReject}
	for i := 0; i < cfg.Derived.Workers; i++ {
		p.workers = append(p.workers, New(i, source, cfg,
			WithLogger(p.logger),
			WithHooks(hooks),
			WithMaxCreatures(cfg.Worker.MaxCreatures),
		))
	}
	return p
}

// Workers returns the pool's workers.
func (p *Pool) Workers() []*Worker { return p.workers }

// Collector returns the throughput collector.
func (p *Pool) Collector() *telemetry.Collector { return p.collector }

// Completed returns the completions of all workers.
func (p *Pool) Completed() int {
	n := 0
	for _, w := range p.workers {
		n += w.Completed()
	}
	return n
}

// Rejected returns the rejections of all workers.
func (p *Pool) Rejected() int {
	n := 0
	for _, w := range p.workers {
		n += w.Rejected()
	}
	return n
}

// Run starts every worker and blocks until all have returned, reporting
// throughput every stats window meanwhile. It returns the total number of
// completions.
func (p *Pool) Run(ctx context.Context) (int, error) {
	p.logger.Info("starting workers", "workers", len(p.workers), "run_id", p.runID)

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(p.collector.Window())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			p.report(time.Now())
			p.logger.Info("workers stopped", "completed", p.Completed(), "rejected", p.Rejected())
			return p.Completed(), nil
		case now := <-ticker.C:
			p.report(now)
		}
	}
}

// Stop asks every worker to return after its current iteration.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

func (p *Pool) report(now time.Time) {
	var q telemetry.QueueState
	if p.queue != nil {
		q = p.queue()
	}
	ws := p.collector.Flush(now, q)
	p.logger.Info("throughput", "window", ws)
	if err := p.output.WriteThroughput(ws); err != nil {
		p.logger.Error("failed to write throughput", "error", err)
	}
	for _, w := range p.workers {
		stats := w.Perf().Stats()
		if stats.Samples == 0 {
			continue
		}
		p.logger.Debug("perf", "worker_id", w.ID(), "stats", stats)
		if err := p.output.WritePerf(stats, w.ID(), w.Completed()); err != nil {
			p.logger.Error("failed to write perf", "error", err)
		}
	}
}

func (p *Pool) record(c Completion) {
	p.collector.RecordCompleted(c.Score)

	entry := journal.Entry{
		RunID:         p.runID,
		WorkerID:      c.WorkerID,
		Task:          c.Task.Name,
		TaskID:        c.Task.ID,
		ExperimentID:  c.Task.ExperimentID,
		Fitness:       c.Score,
		SimulatedTime: c.SimulatedTime,
		Result:        c.Result,
		CompletedAt:   c.At,
	}
	if err := p.store.Save(context.Background(), entry); err != nil {
		p.logger.Error("failed to journal result", "task_id", c.Task.ID, "error", err)
	}

	row := telemetry.ResultRecord{
		RunID:         p.runID,
		WorkerID:      c.WorkerID,
		Task:          c.Task.Name,
		TaskID:        c.Task.ID,
		ExperimentID:  c.Task.ExperimentID,
		Fitness:       c.Score,
		SimulatedTime: c.SimulatedTime,
		WallMillis:    c.Wall.Milliseconds(),
		CompletedAt:   c.At.UTC().Format(time.RFC3339Nano),
	}
	if err := p.output.WriteResult(row); err != nil {
		p.logger.Error("failed to write result", "error", err)
	}

	if p.onDone != nil {
		p.onDone(c)
	}
}

func (p *Pool) recordReject(int, protocol.WorkUnit, error) {
	p.collector.RecordRejected()
}
