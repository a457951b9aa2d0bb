// Package registry holds live infrastructure clients keyed by name.
//
// A Registry is owned by whoever bootstraps the clients (see bootstrap.App) and is
// handed by reference to the components that need to look clients up. Registration
// happens during bootstrap; lookups may happen from many goroutines afterwards.
package registry

import (
	"sort"
	"sync"
)

// Registry maps names to clients of type T.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register stores item under name, replacing any previous entry.
// It returns the replaced item and whether one existed.
func (r *Registry[T]) Register(name string, item T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.items[name]
	r.items[name] = item
	return prev, ok
}

// Get returns the item registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	return item, ok
}

// Remove deletes name and returns the removed item.
func (r *Registry[T]) Remove(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[name]
	delete(r.items, name)
	return item, ok
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered items.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Range calls fn for every item in name order until fn returns false.
// fn must not register or remove items.
func (r *Registry[T]) Range(fn func(name string, item T) bool) {
	for _, name := range r.Names() {
		item, ok := r.Get(name)
		if !ok {
			continue
		}
		if !fn(name, item) {
			return
		}
	}
}
