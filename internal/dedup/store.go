package dedup

import (
	"context"
	"sync"
)

// Store remembers which news ids were already notified and the last alerted
// tier per instrument. Membership only grows within a process lifetime.
type Store interface {
	HasSeen(ctx context.Context, id string) (bool, error)
	MarkSeen(ctx context.Context, id string) error
	// MarkIfUnseen inserts id and reports true only for the caller that inserted it.
	MarkIfUnseen(ctx context.Context, id string) (bool, error)

	CurrentTier(ctx context.Context, instrumentID string) (string, bool, error)
	SetTier(ctx context.Context, instrumentID, tier string) error
	// SwapTier records tier and returns whatever was recorded before, as one step.
	// An empty tier clears the record.
	SwapTier(ctx context.Context, instrumentID, tier string) (prev string, err error)
}

// MemoryStore is the process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	tiers map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:  make(map[string]struct{}),
		tiers: make(map[string]string),
	}
}

func (m *MemoryStore) HasSeen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok, nil
}

func (m *MemoryStore) MarkSeen(_ context.Context, id string) error {
	m.mu.Lock()
	m.seen[id] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) MarkIfUnseen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

func (m *MemoryStore) CurrentTier(_ context.Context, instrumentID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tier, ok := m.tiers[instrumentID]
	return tier, ok, nil
}

func (m *MemoryStore) SetTier(_ context.Context, instrumentID, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tier == "" {
		delete(m.tiers, instrumentID)
		return nil
	}
	m.tiers[instrumentID] = tier
	return nil
}

func (m *MemoryStore) SwapTier(_ context.Context, instrumentID, tier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.tiers[instrumentID]
	if tier == "" {
		delete(m.tiers, instrumentID)
	} else {
		m.tiers[instrumentID] = tier
	}
	return prev, nil
}

// Len reports how many ids have been marked.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

var _ Store = (*MemoryStore)(nil)
