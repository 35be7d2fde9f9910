package journal

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps the best entries in process memory, ordered best first.
// With a positive keep it retains at most keep entries and drops the worst.
type MemoryStore struct {
	keep int

	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates a store retaining the keep best entries. keep <= 0
// retains everything.
func NewMemoryStore(keep int) *MemoryStore {
	return &MemoryStore{keep: keep}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Save(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.entries), func(i int) bool {
		return byFitness(s.entries[i], e) > 0
	})
	if s.keep > 0 && i >= s.keep {
		return nil
	}
	e.Result = slices.Clone(e.Result)
	s.entries = slices.Insert(s.entries, i, e)
	if s.keep > 0 && len(s.entries) > s.keep {
		s.entries[s.keep] = Entry{}
		s.entries = s.entries[:s.keep]
	}
	return nil
}

func (s *MemoryStore) Top(_ context.Context, n int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	return slices.Clone(s.entries[:n]), nil
}

// Count returns the number of retained entries.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error { return nil }
