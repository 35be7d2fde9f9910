// Package proxy batches worker traffic to the work server. Workers pop work
// units and push results through non-blocking calls while a single loop
// exchanges them with the server in STEP_BATCH round trips.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/protocol"
)

// Transport is the subset of protocol.Client the proxy uses.
type Transport interface {
	StepBatch(ctx context.Context, req protocol.StepRequest) (protocol.Batch, bool)
	BestCreature(ctx context.Context) (protocol.WorkUnit, bool)
}

// Proxy buffers work units and results between workers and the server.
type Proxy struct {
	transport Transport
	cfg       config.ProxyConfig
	logger    *slog.Logger

	workMu sync.Mutex
	work   []protocol.WorkUnit

	resultMu sync.Mutex
	results  []json.RawMessage

	target atomic.Int64
	status atomic.Value // string

	steps   atomic.Int64
	flushed atomic.Int64
	dropped atomic.Int64
}

// New creates a proxy. Run must be called for any traffic to flow.
func New(transport Transport, cfg config.ProxyConfig, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("component", "proxy"),
	}
	p.target.Store(int64(cfg.InitialQueueSize))
	p.status.Store("")
	return p
}

// GetWork pops the oldest queued work unit. It never blocks on the network.
func (p *Proxy) GetWork(context.Context) (protocol.WorkUnit, bool) {
	p.workMu.Lock()
	defer p.workMu.Unlock()
	if len(p.work) == 0 {
		return protocol.WorkUnit{}, false
	}
	unit := p.work[0]
	p.work[0] = protocol.WorkUnit{}
	p.work = p.work[1:]
	return unit, true
}

// SendResult queues a result for the next exchange. It never blocks on the
// network and always reports true.
func (p *Proxy) SendResult(_ context.Context, result json.RawMessage) bool {
	p.resultMu.Lock()
	p.results = append(p.results, result)
	p.resultMu.Unlock()
	return true
}

// ServerStatus returns the status from the last successful exchange, or an
// empty string before the first one.
func (p *Proxy) ServerStatus() string {
	return p.status.Load().(string)
}

// TargetQueueSize returns how many work units the proxy tries to keep queued.
func (p *Proxy) TargetQueueSize() int {
	return int(p.target.Load())
}

// Pending returns the number of queued work units and unsent results.
func (p *Proxy) Pending() (work, results int) {
	p.workMu.Lock()
	work = len(p.work)
	p.workMu.Unlock()
	p.resultMu.Lock()
	results = len(p.results)
	p.resultMu.Unlock()
	return work, results
}

// Stats returns the number of successful exchanges and results delivered.
func (p *Proxy) Stats() (steps, flushed int64) {
	return p.steps.Load(), p.flushed.Load()
}

// BestCreature asks the server for its best creature, bypassing the queue.
func (p *Proxy) BestCreature(ctx context.Context) (protocol.WorkUnit, bool) {
	return p.transport.BestCreature(ctx)
}

func (p *Proxy) drainResults() []json.RawMessage {
	p.resultMu.Lock()
	defer p.resultMu.Unlock()
	out := p.results
	p.results = nil
	return out
}

// requeue puts undelivered results back in front of any queued since. When
// the backlog exceeds MaxPendingResults the oldest results are dropped.
func (p *Proxy) requeue(results []json.RawMessage) {
	if len(results) == 0 {
		return
	}
	p.resultMu.Lock()
	p.results = append(results, p.results...)
	var drop int
	if limit := p.cfg.MaxPendingResults; limit > 0 && len(p.results) > limit {
		drop = len(p.results) - limit
		clear(p.results[:drop])
		p.results = p.results[drop:]
	}
	pending := len(p.results)
	p.resultMu.Unlock()

	if drop > 0 {
		total := p.dropped.Add(int64(drop))
		p.logger.Warn("result backlog full, dropped oldest results",
			"dropped", drop,
			"dropped_total", total,
			"pending", pending,
		)
	}
}

// Dropped returns how many undelivered results were discarded because the
// backlog was full.
func (p *Proxy) Dropped() int64 { return p.dropped.Load() }

func (p *Proxy) queuedWork() int {
	p.workMu.Lock()
	defer p.workMu.Unlock()
	return len(p.work)
}

// grow applies the congestion rule: a full flush against an empty work queue
// means the queue is too small for the workers.
func (p *Proxy) grow(flushed, queued int) {
	target := p.TargetQueueSize()
	if flushed != target || queued != 0 {
		return
	}
	next := target * p.cfg.GrowthFactor
	if p.cfg.MaxQueueSize > 0 && next > p.cfg.MaxQueueSize {
		next = p.cfg.MaxQueueSize
	}
	if next == target {
		return
	}
	p.target.Store(int64(next))
	p.logger.Info("queue target grown", "from", target, "to", next)
}

// Step performs one exchange with the server. It reports whether the server
// answered.
func (p *Proxy) Step(ctx context.Context) bool {
	results := p.drainResults()
	queued := p.queuedWork()
	p.grow(len(results), queued)

	want := max(p.TargetQueueSize()-queued, 0)
	batch, ok := p.transport.StepBatch(ctx, protocol.StepRequest{Results: results, MaxWorkUnits: want})
	if !ok {
		p.requeue(results)
		return false
	}
	p.steps.Add(1)
	p.flushed.Add(int64(len(results)))

	if len(batch.WorkUnits) > 0 {
		p.workMu.Lock()
		for _, u := range batch.WorkUnits {
			if !u.Empty() {
				p.work = append(p.work, u)
			}
		}
		p.workMu.Unlock()
	}
	p.status.Store(batch.Status)

	p.logger.Debug("step", "results", len(results), "requested", want, "received", len(batch.WorkUnits), "status", batch.Status)
	return true
}

func (p *Proxy) newBackOff() backoff.BackOff {
	if p.cfg.Backoff == "exponential" {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.Interval
		b.MaxInterval = p.cfg.MaxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(p.cfg.Interval)
}

// Run exchanges with the server until ctx is cancelled, then flushes pending
// results when configured to.
func (p *Proxy) Run(ctx context.Context) error {
	b := p.newBackOff()
	for {
		if p.Step(ctx) {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = p.cfg.MaxInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.flush()
			return nil
		case <-timer.C:
		}
	}
}

// flush delivers results still pending at shutdown without asking for work.
func (p *Proxy) flush() {
	if !p.cfg.FlushOnStop {
		return
	}
	results := p.drainResults()
	if len(results) == 0 {
		return
	}
	ctx := context.Background()
	if p.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FlushTimeout)
		defer cancel()
	}
	if _, ok := p.transport.StepBatch(ctx, protocol.StepRequest{Results: results}); !ok {
		p.requeue(results)
		p.logger.Warn("final flush failed", "results", len(results))
		return
	}
	p.flushed.Add(int64(len(results)))
	p.logger.Info("flushed results on stop", "results", len(results))
}
