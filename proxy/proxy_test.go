package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/protocol"
	"github.com/dage/machine-evolved/protocol/protocoltest"
)

type fakeTransport struct {
	mu       sync.Mutex
	requests []protocol.StepRequest
	reply    func(req protocol.StepRequest) (protocol.Batch, bool)
}

func (f *fakeTransport) StepBatch(_ context.Context, req protocol.StepRequest) (protocol.Batch, bool) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return protocol.Batch{Status: "OK"}, true
	}
	return reply(req)
}

func (f *fakeTransport) BestCreature(context.Context) (protocol.WorkUnit, bool) {
	return protocol.WorkUnit{}, false
}

func (f *fakeTransport) Requests() []protocol.StepRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.StepRequest(nil), f.requests...)
}

func testConfig() config.ProxyConfig {
	cfg := config.Default().Proxy
	cfg.Interval = time.Millisecond
	cfg.MaxInterval = 10 * time.Millisecond
	return cfg
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func workUnit(id string) protocol.WorkUnit {
	return protocol.WorkUnit{
		Creature: protocol.CreatureDoc{
			Structure:       json.RawMessage(`{"capsules":[]}`),
			MotorController: json.RawMessage(`{}`),
		},
		Task: protocol.TaskDescriptor{Name: "MOVE_FAR", ID: id, ExperimentID: "exp"},
	}
}

func result(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":"r%d","experimentId":"exp","maxDistance":%d,"simulatedTime":60}`, i, i))
}

func TestGetWorkEmpty(t *testing.T) {
	p := New(&fakeTransport{}, testConfig(), quiet())
	_, ok := p.GetWork(context.Background())
	assert.False(t, ok)
}

func TestStepFlushesAllResults(t *testing.T) {
	ft := &fakeTransport{}
	p := New(ft, testConfig(), quiet())
	for i := range 5 {
		p.SendResult(context.Background(), result(i))
	}

	require.True(t, p.Step(context.Background()))
	reqs := ft.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Results, 5)
	for i, r := range reqs[0].Results {
		assert.JSONEq(t, string(result(i)), string(r))
	}
	assert.Equal(t, 16, reqs[0].MaxWorkUnits)

	_, pending := p.Pending()
	assert.Zero(t, pending)

	require.True(t, p.Step(context.Background()))
	assert.Empty(t, ft.Requests()[1].Results)
}

func TestStepQueuesWorkInOrder(t *testing.T) {
	ft := &fakeTransport{reply: func(req protocol.StepRequest) (protocol.Batch, bool) {
		units := []protocol.WorkUnit{workUnit("a"), workUnit("b"), {Status: protocol.StatusNoWork}}
		return protocol.Batch{WorkUnits: units, Status: "gen 3"}, true
	}}
	p := New(ft, testConfig(), quiet())
	require.True(t, p.Step(context.Background()))

	work, _ := p.Pending()
	assert.Equal(t, 2, work)
	assert.Equal(t, "gen 3", p.ServerStatus())

	u, ok := p.GetWork(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", u.Task.ID)
	u, ok = p.GetWork(context.Background())
	require.True(t, ok)
	assert.Equal(t, "b", u.Task.ID)
	_, ok = p.GetWork(context.Background())
	assert.False(t, ok)

	// Next request only asks for what the queue is missing.
	p.work = append(p.work, workUnit("c"))
	require.True(t, p.Step(context.Background()))
	assert.Equal(t, 15, ft.Requests()[1].MaxWorkUnits)
}

func TestTargetDoublesWhenStarved(t *testing.T) {
	ft := &fakeTransport{}
	p := New(ft, testConfig(), quiet())
	require.Equal(t, 16, p.TargetQueueSize())

	for i := range 16 {
		p.SendResult(context.Background(), result(i))
	}
	require.True(t, p.Step(context.Background()))
	assert.Equal(t, 32, p.TargetQueueSize())
	assert.Equal(t, 32, ft.Requests()[0].MaxWorkUnits)

	require.True(t, p.Step(context.Background()))
	assert.Equal(t, 32, ft.Requests()[1].MaxWorkUnits)
}

func TestTargetStaysWhenWorkQueued(t *testing.T) {
	p := New(&fakeTransport{}, testConfig(), quiet())
	p.work = append(p.work, workUnit("a"))
	for i := range 16 {
		p.SendResult(context.Background(), result(i))
	}
	require.True(t, p.Step(context.Background()))
	assert.Equal(t, 16, p.TargetQueueSize())
}

func TestTargetCapped(t *testing.T) {
	cfg := testConfig()
	cfg.InitialQueueSize = 4
	cfg.MaxQueueSize = 6
	p := New(&fakeTransport{}, cfg, quiet())
	for i := range 4 {
		p.SendResult(context.Background(), result(i))
	}
	require.True(t, p.Step(context.Background()))
	assert.Equal(t, 6, p.TargetQueueSize())
}

func TestFailedStepKeepsResults(t *testing.T) {
	ft := &fakeTransport{reply: func(protocol.StepRequest) (protocol.Batch, bool) {
		return protocol.Batch{}, false
	}}
	p := New(ft, testConfig(), quiet())
	p.SendResult(context.Background(), result(1))
	p.SendResult(context.Background(), result(2))

	assert.False(t, p.Step(context.Background()))
	p.SendResult(context.Background(), result(3))
	_, pending := p.Pending()
	require.Equal(t, 3, pending)

	ft.mu.Lock()
	ft.reply = nil
	ft.mu.Unlock()
	require.True(t, p.Step(context.Background()))
	last := ft.Requests()[1]
	require.Len(t, last.Results, 3)
	assert.JSONEq(t, string(result(1)), string(last.Results[0]))
	assert.JSONEq(t, string(result(3)), string(last.Results[2]))
}

func TestFailedStepDropsOldestBeyondLimit(t *testing.T) {
	ft := &fakeTransport{reply: func(protocol.StepRequest) (protocol.Batch, bool) {
		return protocol.Batch{}, false
	}}
	cfg := testConfig()
	cfg.MaxPendingResults = 3
	p := New(ft, cfg, quiet())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		p.SendResult(ctx, result(i))
		assert.False(t, p.Step(ctx))
	}
	_, pending := p.Pending()
	require.Equal(t, 3, pending)
	assert.Equal(t, int64(2), p.Dropped())

	ft.mu.Lock()
	ft.reply = nil
	ft.mu.Unlock()
	require.True(t, p.Step(ctx))
	reqs := ft.Requests()
	last := reqs[len(reqs)-1]
	require.Len(t, last.Results, 3)
	assert.JSONEq(t, string(result(3)), string(last.Results[0]))
	assert.JSONEq(t, string(result(5)), string(last.Results[2]))
}

func TestRunFlushesOnStop(t *testing.T) {
	ft := &fakeTransport{}
	cfg := testConfig()
	cfg.Interval = time.Hour
	p := New(ft, cfg, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ft.Requests()) == 1 }, time.Second, time.Millisecond)
	p.SendResult(context.Background(), result(7))
	cancel()
	require.NoError(t, <-done)

	reqs := ft.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Results, 1)
	assert.Zero(t, reqs[1].MaxWorkUnits)
}

func TestRunWithoutFlush(t *testing.T) {
	ft := &fakeTransport{}
	cfg := testConfig()
	cfg.Interval = time.Hour
	cfg.FlushOnStop = false
	p := New(ft, cfg, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return len(ft.Requests()) == 1 }, time.Second, time.Millisecond)
	p.SendResult(context.Background(), result(1))
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, ft.Requests(), 1)
	_, pending := p.Pending()
	assert.Equal(t, 1, pending)
}

func TestConcurrentWorkers(t *testing.T) {
	p := New(&fakeTransport{}, testConfig(), quiet())
	for i := range 100 {
		p.work = append(p.work, workUnit(fmt.Sprint(i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				u, ok := p.GetWork(context.Background())
				if !ok {
					return
				}
				mu.Lock()
				seen[u.Task.ID] = true
				mu.Unlock()
				p.SendResult(context.Background(), result(0))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	_, pending := p.Pending()
	assert.Equal(t, 100, pending)
}

func TestEndToEnd(t *testing.T) {
	q := protocoltest.NewQueue(workUnit("a"), workUnit("b"))
	srv := protocoltest.NewServer(t, q.Handle)
	client := protocol.NewClient(srv.Addr(), protocol.WithLogger(quiet()))
	p := New(client, testConfig(), quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var got []string
	require.Eventually(t, func() bool {
		if u, ok := p.GetWork(context.Background()); ok {
			got = append(got, u.Task.ID)
			p.SendResult(context.Background(), json.RawMessage(fmt.Sprintf(`{"id":%q}`, u.Task.ID)))
		}
		return len(got) == 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)

	_, ok := p.GetWork(context.Background())
	assert.False(t, ok)

	require.Eventually(t, func() bool { return len(q.Results()) == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "OK", p.ServerStatus())
	assert.GreaterOrEqual(t, srv.Count(protocol.StepBatch), 2)
}
