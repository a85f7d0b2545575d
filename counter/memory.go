package counter

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps counts in process memory. Counts are lost on restart
// and are not shared between instances.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts: make(map[string]int64),
	}
}

func (m *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	if err := ctxErr(ctx, "increment", key); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[key]++
	return m.counts[key], nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrEmptyKey
	}
	if err := ctxErr(ctx, "get", key); err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.counts[key]
	return n, ok, nil
}

// List returns all records ordered by key
func (m *MemoryStore) List(ctx context.Context) ([]Record, error) {
	if err := ctxErr(ctx, "list", ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	records := make([]Record, 0, len(m.counts))
	for k, v := range m.counts {
		records = append(records, Record{Key: k, Count: v})
	}
	m.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}
