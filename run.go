package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/dage/machine-evolved/healthcheck"
	"github.com/dage/machine-evolved/journal"
	"github.com/dage/machine-evolved/protocol"
	"github.com/dage/machine-evolved/proxy"
	"github.com/dage/machine-evolved/telemetry"
	"github.com/dage/machine-evolved/worker"
)

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "evaluate work units until interrupted",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of workers (0 = config)"},
			&cli.IntFlag{Name: "creatures", Aliases: []string{"n"}, Usage: "stop after N creatures in total and show progress (0 = unlimited)"},
			&cli.BoolFlag{Name: "no-proxy", Usage: "talk to the server directly instead of batching"},
			&cli.StringFlag{Name: "output-dir", Usage: "directory for CSV output and a config snapshot"},
			&cli.StringFlag{Name: "journal", Usage: "journal backend: memory, sqlite or none (overrides config)"},
			&cli.StringFlag{Name: "health-addr", Usage: "serve /health and /status on this address"},
			&cli.StringFlag{Name: "run-id", Usage: "run id for logs and output (default: random)"},
		},
		Action: a.run,
	}
}

func (a *app) run(c *cli.Context) error {
	cfg := a.cfg
	if n := c.Int("workers"); n > 0 {
		cfg.Worker.Count = n
	}
	if c.Bool("no-proxy") {
		cfg.Proxy.Enabled = false
	}
	if s := c.String("output-dir"); s != "" {
		cfg.Telemetry.OutputDir = s
	}
	if s := c.String("journal"); s != "" {
		cfg.Journal.Backend = s
	}
	if s := c.String("health-addr"); s != "" {
		cfg.Health.Addr = s
	}
	if err := cfg.Recompute(); err != nil {
		return err
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := a.logger.With("run_id", runID)
	ctx := c.Context

	store, err := journal.NewStore(cfg.Journal)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer store.Close()

	om, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return err
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		logger.Error("failed to write config snapshot", "error", err)
	}

	client := a.client()
	var (
		source    worker.Source = client
		queue     func() telemetry.QueueState
		px        *proxy.Proxy
		proxyDone = make(chan error, 1)
	)
	proxyCtx, stopProxy := context.WithCancel(context.Background())
	defer stopProxy()
	if cfg.Proxy.Enabled {
		px = proxy.New(client, cfg.Proxy, logger)
		source = px
		queue = func() telemetry.QueueState {
			work, results := px.Pending()
			return telemetry.QueueState{
				QueuedWork:     work,
				QueueTarget:    px.TargetQueueSize(),
				PendingResults: results,
				ServerStatus:   px.ServerStatus(),
			}
		}
		go func() { proxyDone <- px.Run(proxyCtx) }()
	} else {
		proxyDone <- nil
	}

	var (
		bar   *pb.ProgressBar
		limit = int64(c.Int("creatures"))
		total atomic.Int64
		pool  *worker.Pool
	)
	if limit > 0 {
		bar = pb.StartNew(int(limit))
		defer bar.Finish()
	}
	onComplete := func(worker.Completion) {
		n := total.Add(1)
		if bar != nil {
			bar.Increment()
		}
		if limit > 0 && n >= limit {
			pool.Stop()
		}
	}

	pool = worker.NewPool(source, cfg,
		worker.WithPoolLogger(logger),
		worker.WithRunID(runID),
		worker.WithJournal(store),
		worker.WithOutput(om),
		worker.WithQueueState(queue),
		worker.WithOnComplete(onComplete),
	)

	if cfg.Health.Addr != "" {
		hs := healthcheck.NewServer(cfg.Health.Addr, logger)
		hs.Register("server", func(context.Context) error {
			if px != nil && px.ServerStatus() == protocol.StatusServerDown {
				return errors.New(protocol.StatusServerDown)
			}
			return nil
		})
		hs.Provide("run_id", func() any { return runID })
		hs.Provide("completed", func() any { return pool.Completed() })
		hs.Provide("rejected", func() any { return pool.Rejected() })
		hs.Provide("best", func() any {
			top, err := store.Top(ctx, 5)
			if err != nil {
				return err.Error()
			}
			return bestSummary(top)
		})
		if queue != nil {
			hs.Provide("proxy", func() any { return queue() })
		}
		go func() {
			if err := hs.ListenAndServe(ctx); err != nil {
				logger.Error("health endpoint failed", "error", err)
			}
		}()
	}

	logger.Info("starting run",
		"server", cfg.Server.Address,
		"workers", cfg.Derived.Workers,
		"proxy", cfg.Proxy.Enabled,
		"journal", cfg.Journal.Backend,
		"output_dir", om.Dir(),
	)
	completed, err := pool.Run(ctx)

	stopProxy()
	if perr := <-proxyDone; perr != nil && err == nil {
		err = perr
	}
	var dropped int64
	if px != nil {
		dropped = px.Dropped()
	}
	logger.Info("run finished", "completed", completed, "rejected", pool.Rejected(), "dropped_results", dropped)
	return err
}

// bestEntry is the /status view of one journal entry.
type bestEntry struct {
	TaskID       string  `json:"task_id"`
	ExperimentID string  `json:"experiment_id"`
	Fitness      float64 `json:"fitness"`
	WorkerID     int     `json:"worker_id"`
	CompletedAt  string  `json:"completed_at"`
}

func bestSummary(entries []journal.Entry) []bestEntry {
	out := make([]bestEntry, len(entries))
	for i, e := range entries {
		out[i] = bestEntry{
			TaskID:       e.TaskID,
			ExperimentID: e.ExperimentID,
			Fitness:      e.Fitness,
			WorkerID:     e.WorkerID,
			CompletedAt:  e.CompletedAt.Format(time.RFC3339),
		}
	}
	return out
}
