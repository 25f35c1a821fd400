package registry

import (
	"iter"
	"maps"
	"sync"
)

// Registry is a concurrency-safe name index. Reads take a shared lock, so
// lookups from concurrently executing tasks do not contend.
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
	}
}

// Register adds value under key, replacing any previous entry.
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// RegisterMany adds every entry of entries.
func (r *Registry[K, V]) RegisterMany(entries map[K]V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.entries, entries)
}

// Get returns the value for key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Has reports whether key is registered.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes key.
func (r *Registry[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns every key in unspecified order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// All iterates over a snapshot of the registry. Registering or deleting
// during iteration does not affect the entries visited.
func (r *Registry[K, V]) All() iter.Seq2[K, V] {
	r.mu.RLock()
	snapshot := maps.Clone(r.entries)
	r.mu.RUnlock()

	return func(yield func(K, V) bool) {
		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// GetOrCreate returns the value for key, creating it with factory when
// absent. factory runs at most once per key under concurrent access.
func (r *Registry[K, V]) GetOrCreate(key K, factory func() V) V {
	r.mu.RLock()
	v, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries[key]; ok {
		return v
	}
	v = factory()
	r.entries[key] = v
	return v
}
