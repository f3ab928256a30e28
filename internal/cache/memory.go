package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

type memoryEntry struct {
	response *types.NormalizedResponse
	storedAt time.Time
}

// MemoryStore keeps entries in process memory and evicts them on read.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*types.NormalizedResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().Sub(entry.storedAt) >= m.ttl {
		delete(m.entries, key)
		return nil, false, nil
	}
	return entry.response.Clone(), true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, resp *types.NormalizedResponse) error {
	stored := resp.Clone()
	stored.Cached = false

	m.mu.Lock()
	m.entries[key] = memoryEntry{response: stored, storedAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Len reports the number of entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	return nil
}
