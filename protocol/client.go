package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Default socket timeouts.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// Client performs synchronous calls against the work server, opening a fresh
// connection for each. Failures are logged and reported as empty results;
// callers decide when to retry. A Client is safe for concurrent use.
type Client struct {
	addr        string
	dialTimeout time.Duration
	readTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithReadTimeout bounds how long a call waits for the reply. Zero waits
// until the peer closes or completes the document.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithLogger sets the logger for transport diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the server at addr (host:port).
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{
		addr:        addr,
		dialTimeout: DefaultDialTimeout,
		readTimeout: DefaultReadTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

// Call sends one request and returns the raw reply. Commands that get no
// reply return nil. data is ignored for commands that carry none.
func (c *Client) Call(ctx context.Context, cmd Command, data []byte) ([]byte, error) {
	req := Request{Type: cmd}
	if cmd.HasData() {
		if len(data) == 0 {
			data = []byte("{}")
		}
		req.Data = data
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", cmd, err)
	}

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if c.readTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, fmt.Errorf("setting deadline: %w", err)
		}
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("sending %s: %w", cmd, err)
	}
	if !cmd.ExpectsReply() {
		return nil, nil
	}

	reply, err := ReadFrame(conn)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("reading %s reply: %w", cmd, err)
	}
	return reply, nil
}

// callJSON performs cmd and decodes a non-empty reply into out. It reports
// false on any failure, after logging it.
func (c *Client) callJSON(ctx context.Context, cmd Command, data []byte, out any) bool {
	reply, err := c.Call(ctx, cmd, data)
	if err != nil {
		c.logger.Warn("server call failed", "command", cmd.String(), "addr", c.addr, "error", err)
		return false
	}
	if len(bytes.TrimSpace(reply)) == 0 {
		return false
	}
	if err := json.Unmarshal(reply, out); err != nil {
		c.logger.Warn("malformed server reply", "command", cmd.String(), "bytes", len(reply), "error", err)
		return false
	}
	return true
}

// Ping reports whether the server answered.
func (c *Client) Ping(ctx context.Context) bool {
	reply, err := c.Call(ctx, Ping, nil)
	if err != nil {
		c.logger.Warn("server call failed", "command", Ping.String(), "addr", c.addr, "error", err)
		return false
	}
	return len(bytes.TrimSpace(reply)) > 0
}

// GetWork fetches a single work unit. ok is false when the server has no
// work or could not be reached.
func (c *Client) GetWork(ctx context.Context) (unit WorkUnit, ok bool) {
	if !c.callJSON(ctx, GetWork, nil, &unit) || unit.Empty() {
		return WorkUnit{}, false
	}
	return unit, true
}

// GetWorkBatch fetches up to max work units.
func (c *Client) GetWorkBatch(ctx context.Context, max int) (batch Batch, ok bool) {
	data, err := json.Marshal(workBatchRequest{MaxWorkUnits: max})
	if err != nil {
		return Batch{}, false
	}
	if !c.callJSON(ctx, GetWorkBatch, data, &batch) {
		return Batch{}, false
	}
	return batch, true
}

// StepBatch delivers results and fetches new work in one round trip.
func (c *Client) StepBatch(ctx context.Context, req StepRequest) (batch Batch, ok bool) {
	data, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("encoding step batch", "results", len(req.Results), "error", err)
		return Batch{}, false
	}
	if !c.callJSON(ctx, StepBatch, data, &batch) {
		return Batch{}, false
	}
	return batch, true
}

// SendResult delivers one result without waiting for a reply.
func (c *Client) SendResult(ctx context.Context, result json.RawMessage) bool {
	if _, err := c.Call(ctx, Result, result); err != nil {
		c.logger.Warn("server call failed", "command", Result.String(), "addr", c.addr, "error", err)
		return false
	}
	return true
}

// ServerStatus returns the server's status line, or StatusServerDown.
func (c *Client) ServerStatus(ctx context.Context) string {
	var reply statusReply
	if !c.callJSON(ctx, GetServerStatus, nil, &reply) {
		return StatusServerDown
	}
	return reply.Status
}

// BestCreature fetches the best creature found so far as a work unit.
func (c *Client) BestCreature(ctx context.Context) (unit WorkUnit, ok bool) {
	if !c.callJSON(ctx, GetBestCreature, nil, &unit) || unit.Empty() {
		return WorkUnit{}, false
	}
	return unit, true
}

// IsTimeout reports whether err came from a socket deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
