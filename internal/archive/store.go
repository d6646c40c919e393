// Package archive records every refund attempt. The archive is append-only
// and deliberately written before the transfer is tried, so a failed refund
// still leaves enough behind (address and derivation path) to resolve it
// manually.
package archive

import (
	"context"
	"sync"
	"time"
)

// Entry is one completed refund attempt, successful or not.
type Entry struct {
	RequestID      string    `json:"requestId"`
	RequesterID    string    `json:"requesterId,omitempty"`
	DerivationPath string    `json:"derivationPath"`
	DepositAddress string    `json:"depositAddress"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// Store abstracts archive persistence.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
}

// MemoryStore is mostly for testing and key-less dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}
