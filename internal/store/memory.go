package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu  sync.RWMutex
	raw string
	set bool
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored credential.
func (m *MemoryStore) Load(_ context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.raw, m.set, nil
}

// Save replaces the stored credential.
func (m *MemoryStore) Save(_ context.Context, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	m.set = true
	return nil
}

// Clear empties the slot.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = ""
	m.set = false
	return nil
}
