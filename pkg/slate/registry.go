package slate

import (
	"fmt"
	"slices"
	"sync"

	"slate/pkg/domain"
)

// Snapshot is an immutable value captured from a managed object at a commit
// boundary. Relationships are not embedded; resolve them through a
// QueryContext.
type Snapshot interface {
	SlateID() domain.ID
}

// Factory builds the snapshot of a managed object.
type Factory func(*domain.Object) Snapshot

// Registry maps entity names to snapshot factories. The mutation pipeline
// captures changesets only for registered entities.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds entity to factory and returns the typed descriptor used to
// query, resolve and observe snapshots of that entity. It panics if entity is
// already registered.
func Register[T Snapshot](r *Registry, entity string, factory func(*domain.Object) T) *Entity[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[entity]; dup {
		panic(fmt.Sprintf("slate: entity %q registered twice", entity))
	}
	r.factories[entity] = func(o *domain.Object) Snapshot { return factory(o) }
	return &Entity[T]{name: entity, factory: factory}
}

func (r *Registry) factory(entity string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[entity]
	return f, ok
}

// Entities returns the registered entity names in sorted order.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// validate checks every registered entity against model.
func (r *Registry) validate(model *domain.Model) error {
	for _, name := range r.Entities() {
		if _, ok := model.Entity(name); !ok {
			return fmt.Errorf("slate: registered entity %q: %w", name, domain.ErrUnknownEntity)
		}
	}
	return nil
}

// snapshot converts o through the cache using the registered factory.
func (r *Registry) snapshot(cache *objectCache, o *domain.Object) (Snapshot, error) {
	f, ok := r.factory(o.Entity())
	if !ok {
		return nil, fmt.Errorf("slate: no snapshot factory for %q: %w", o.Entity(), domain.ErrUnknownEntity)
	}
	return cache.getOrCreate(o.ID(), func() Snapshot { return f(o) }), nil
}
