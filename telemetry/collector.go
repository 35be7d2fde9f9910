package telemetry

import (
	"sync"
	"time"
)

// QueueState is a snapshot of the batching proxy for a window report.
type QueueState struct {
	QueuedWork     int
	QueueTarget    int
	PendingResults int
	ServerStatus   string
}

// Collector accumulates completions from all workers within wall-clock
// windows and produces WindowStats. It is safe for concurrent use.
type Collector struct {
	window time.Duration

	mu          sync.Mutex
	windowStart time.Time
	completed   int
	rejected    int
	scores      []float64
	total       int64
}

// NewCollector creates a collector whose windows last window, starting now.
func NewCollector(window time.Duration, now time.Time) *Collector {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Collector{window: window, windowStart: now}
}

// RecordCompleted records one finished creature and its score.
func (c *Collector) RecordCompleted(score float64) {
	c.mu.Lock()
	c.completed++
	c.total++
	c.scores = append(c.scores, score)
	c.mu.Unlock()
}

// RecordRejected records a work unit that could not be instantiated.
func (c *Collector) RecordRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

// Total returns the number of completions since the collector was created.
func (c *Collector) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// ShouldFlush reports whether the current window has elapsed at now.
func (c *Collector) ShouldFlush(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.windowStart) >= c.window
}

// Window returns the configured window length.
func (c *Collector) Window() time.Duration { return c.window }

// Flush produces the stats of the window ending at now and starts a new one.
func (c *Collector) Flush(now time.Time, q QueueState) WindowStats {
	c.mu.Lock()
	elapsed := now.Sub(c.windowStart)
	completed, rejected, total := c.completed, c.rejected, c.total
	scores := c.scores

	c.windowStart = now
	c.completed = 0
	c.rejected = 0
	c.scores = nil
	c.mu.Unlock()

	var rate float64
	if elapsed > 0 {
		rate = float64(completed) / elapsed.Seconds()
	}
	return WindowStats{
		WindowEnd:       float64(now.UnixMilli()) / 1000,
		DurationSec:     elapsed.Seconds(),
		Completed:       completed,
		Rejected:        rejected,
		CreaturesPerSec: rate,
		TotalCompleted:  total,
		Fitness:         ComputeFitnessStats(scores),
		QueuedWork:      q.QueuedWork,
		QueueTarget:     q.QueueTarget,
		PendingResult:   q.PendingResults,
		ServerStatus:    q.ServerStatus,
	}
}
