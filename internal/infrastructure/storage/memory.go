// Package storage provides the durable key/value backends a window persists
// its basket and pending messages to.
package storage

import (
	"context"
	"sync"

	"github.com/mfshop/storefront/internal/domain/shared"
)

// InMemoryStore implements KeyValueStore using a map.
// State does not survive a restart; use it for tests and throwaway demos.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under key
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores a copy of value under key
func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = v
	return nil
}

// Remove deletes key
func (s *InMemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Keys returns the number of stored keys
func (s *InMemoryStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op
func (s *InMemoryStore) Close() error {
	return nil
}

var _ shared.KeyValueStore = (*InMemoryStore)(nil)
