// Package protocoltest provides an in-process work server for tests.
package protocoltest

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/dage/machine-evolved/protocol"
)

// Handler answers one request. A nil reply closes the connection without
// writing anything.
type Handler func(req protocol.Request) []byte

// Server accepts connections on a loopback port and records every request.
type Server struct {
	ln      net.Listener
	handler Handler

	mu       sync.Mutex
	requests []protocol.Request

	wg sync.WaitGroup
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, h Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{ln: ln, handler: h}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting and waits for in-flight connections.
func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}

// Requests returns a copy of the requests received so far.
func (s *Server) Requests() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.requests...)
}

// Count returns how many requests of type cmd were received.
func (s *Server) Count(cmd protocol.Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Type == cmd {
			n++
		}
	}
	return n
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	raw, err := protocol.ReadFrame(conn)
	if err != nil && !errors.Is(err, io.EOF) {
		return
	}
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.handler == nil {
		return
	}
	reply := s.handler(req)
	if req.Type.ExpectsReply() && reply != nil {
		conn.Write(reply)
	}
}

// JSON marshals v for use as a handler reply, panicking on failure.
func JSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Queue is a Handler backing GET_WORK, GET_WORK_BATCH and STEP_BATCH with a
// fixed list of work units. Results delivered through STEP_BATCH or RESULT
// are collected.
type Queue struct {
	mu      sync.Mutex
	units   []protocol.WorkUnit
	results []json.RawMessage
	Status  string
}

// NewQueue returns a queue serving units in order.
func NewQueue(units ...protocol.WorkUnit) *Queue {
	return &Queue{units: units, Status: "OK"}
}

// Results returns the results received so far.
func (q *Queue) Results() []json.RawMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]json.RawMessage(nil), q.results...)
}

// Remaining returns the number of undelivered units.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

func (q *Queue) take(n int) []protocol.WorkUnit {
	if n > len(q.units) {
		n = len(q.units)
	}
	if n < 0 {
		n = 0
	}
	out := append([]protocol.WorkUnit{}, q.units[:n]...)
	q.units = q.units[n:]
	return out
}

// Handle implements Handler.
func (q *Queue) Handle(req protocol.Request) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch req.Type {
	case protocol.Ping:
		return []byte(`{"status":"PONG"}`)
	case protocol.GetServerStatus:
		return JSON(map[string]string{"status": q.Status})
	case protocol.GetWork:
		units := q.take(1)
		if len(units) == 0 {
			return JSON(map[string]string{"status": protocol.StatusNoWork})
		}
		return JSON(units[0])
	case protocol.GetWorkBatch, protocol.StepBatch:
		var data protocol.StepRequest
		if err := json.Unmarshal(req.Data, &data); err != nil {
			return nil
		}
		q.results = append(q.results, data.Results...)
		return JSON(protocol.Batch{WorkUnits: q.take(data.MaxWorkUnits), Status: q.Status})
	case protocol.Result:
		q.results = append(q.results, req.Data)
	}
	return nil
}
