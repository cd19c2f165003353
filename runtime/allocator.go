package runtime

import (
	"sync"

	"github.com/google/uuid"
)

// Allocator assigns a persistent executor identity to each variant,
// lazily on first request, reused for the variant's lifetime within one
// build invocation. Chained phase continuations of the same variant
// resolve to the identical handle without a new allocation.
//
// Concurrent allocations for distinct variants proceed independently;
// the mapping is the only mutable state and is mutex-guarded.
type Allocator struct {
	mu      sync.Mutex
	handles map[string]Handle
}

// NewAllocator creates an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{handles: map[string]Handle{}}
}

// Allocate returns the executor handle for the variant, creating one on
// first use. The bool reports whether this call allocated.
func (a *Allocator) Allocate(variant, label string) (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h, ok := a.handles[variant]; ok {
		return h, false
	}
	h := Handle{ID: uuid.New().String(), Label: label}
	a.handles[variant] = h
	return h, true
}

// Lookup returns the variant's handle without allocating.
func (a *Allocator) Lookup(variant string) (Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[variant]
	return h, ok
}

// Release drops the variant's handle. Called when the build finishes;
// a subsequent Allocate would create a fresh executor.
func (a *Allocator) Release(variant string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handles, variant)
}

// ReleaseAll drops every handle.
func (a *Allocator) ReleaseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handles = map[string]Handle{}
}
