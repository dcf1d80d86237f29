// Package registry tracks live tracer instances by ID without keeping
// them alive. Entries hold weak pointers: a tracer that goes out of
// scope in user code is collectable even if it never called Shutdown,
// and its registry slot reads as absent afterwards.
package registry

import (
	"sync"
	"weak"
)

// Registry maps string IDs to weakly-held instances of T. The zero
// value is not usable; call New.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]weak.Pointer[T]

	defaultMu sync.RWMutex
	fallback  weak.Pointer[T]
	hasDef    bool
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]weak.Pointer[T])}
}

// Register stores value under id, replacing any previous entry. Dead
// entries are swept while the write lock is held.
func (r *Registry[T]) Register(id string, value *T) {
	if value == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.entries[id] = weak.Make(value)
}

// Lookup returns the live instance registered under id. A collected
// instance reads as absent and its slot is dropped.
func (r *Registry[T]) Lookup(id string) (*T, bool) {
	r.mu.RLock()
	ptr, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	value := ptr.Value()
	if value == nil {
		r.mu.Lock()
		// Re-check: the slot may have been re-registered since the
		// read lock was dropped.
		if current, ok := r.entries[id]; ok && current.Value() == nil {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		return nil, false
	}
	return value, true
}

// Unregister removes id. Removing an absent id is a no-op.
func (r *Registry[T]) Unregister(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// SetDefault marks value as the process-wide fallback instance.
// Passing nil clears it.
func (r *Registry[T]) SetDefault(value *T) {
	r.defaultMu.Lock()
	defer r.defaultMu.Unlock()
	if value == nil {
		r.fallback = weak.Pointer[T]{}
		r.hasDef = false
		return
	}
	r.fallback = weak.Make(value)
	r.hasDef = true
}

// Default returns the fallback instance if one is set and still alive.
func (r *Registry[T]) Default() (*T, bool) {
	r.defaultMu.RLock()
	defer r.defaultMu.RUnlock()
	if !r.hasDef {
		return nil, false
	}
	value := r.fallback.Value()
	if value == nil {
		return nil, false
	}
	return value, true
}

// Sweep drops entries whose instances have been collected and reports
// how many remain.
func (r *Registry[T]) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.entries)
}

// Len reports the number of slots, live or not.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry[T]) sweepLocked() {
	for id, ptr := range r.entries {
		if ptr.Value() == nil {
			delete(r.entries, id)
		}
	}
}
