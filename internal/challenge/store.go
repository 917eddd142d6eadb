// Package challenge holds short-lived single-use secrets such as WebAuthn
// session data and one-time codes.
package challenge

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Take when the key was never stored, was already
// taken, or has been reclaimed. Callers treat it as an expired or replayed
// challenge rather than as a failure of the store.
var ErrNotFound = errors.New("challenge not found")

// Store keeps at most one secret per key. Put overwrites; Take returns the
// secret and removes it in a single atomic step. PutIfAbsent stores secret
// only when key is empty and reports whether it did.
type Store interface {
	Put(ctx context.Context, key string, secret []byte) error
	PutIfAbsent(ctx context.Context, key string, secret []byte) (bool, error)
	Take(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte)}
}

// Put stores a copy of secret under key.
func (s *MemoryStore) Put(_ context.Context, key string, secret []byte) error {
	cp := make([]byte, len(secret))
	copy(cp, secret)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = cp
	return nil
}

// PutIfAbsent stores a copy of secret unless key already holds one.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, secret []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; ok {
		return false, nil
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	s.secrets[key] = cp
	return true, nil
}

// Take returns and deletes the secret under key.
func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.secrets, key)
	return secret, nil
}

// Len reports the number of unconsumed secrets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.secrets)
}
