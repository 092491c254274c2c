// Package storage persists the session identifier pair across restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Persisted keys. Values are plain strings set and removed in lockstep
// with the in-memory session.
const (
	KeyConversationID = "conv_id"
	KeyDocumentID     = "pdf_id"
)

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("storage key is required")

// Open returns the store for driver ("sqlite" or "memory").
func Open(driver, path string) (Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Store is a durable key-value store for client state.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes every listed key atomically. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// MemoryStore implements Store with a map, suitable for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied values.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	items := make(map[string]string, len(seed))
	for k, v := range seed {
		items[k] = v
	}
	return &MemoryStore{items: items}
}

// Get looks up a key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

// Set stores a value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}

// Remove deletes keys under a single lock.
func (s *MemoryStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
