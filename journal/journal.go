// Package journal records completed evaluations locally so a run can be
// inspected after the fact without asking the server.
package journal

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dage/machine-evolved/config"
)

// Entry is one completed evaluation.
type Entry struct {
	RunID         string
	WorkerID      int
	Task          string
	TaskID        string
	ExperimentID  string
	Fitness       float64
	SimulatedTime int
	Result        json.RawMessage
	CompletedAt   time.Time
}

// Store persists entries. Implementations are safe for concurrent use.
type Store interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, e Entry) error
	// Top returns up to n entries, best fitness first.
	Top(ctx context.Context, n int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewStore returns the backend selected by cfg.
func NewStore(cfg config.JournalConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.Keep), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path), nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("unsupported journal backend: %s", cfg.Backend)
	}
}

// byFitness orders entries best first, oldest first among equal scores.
func byFitness(a, b Entry) int {
	if c := cmp.Compare(b.Fitness, a.Fitness); c != 0 {
		return c
	}
	return a.CompletedAt.Compare(b.CompletedAt)
}

// Discard is a Store that keeps nothing.
type Discard struct{}

func (Discard) Init(context.Context) error                { return nil }
func (Discard) Save(context.Context, Entry) error         { return nil }
func (Discard) Top(context.Context, int) ([]Entry, error) { return nil, nil }
func (Discard) Count(context.Context) (int, error)        { return 0, nil }
func (Discard) Close() error                              { return nil }
