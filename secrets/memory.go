package secrets

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: map[string]*Secret{}}
}

// Put registers a secret under its reference id.
func (s *MemoryStore) Put(secret *Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secret.Ref.ID] = secret
}

// Resolve implements Store.
func (s *MemoryStore) Resolve(_ context.Context, ref Ref) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[ref.ID]
	if !ok {
		return nil, &ResolutionError{Ref: ref, Err: ErrNotFound}
	}
	if secret.Ref.Type != ref.Type {
		return nil, &ResolutionError{Ref: ref, Err: ErrTypeMismatch}
	}
	out := *secret
	out.Ref = ref
	return &out, nil
}
