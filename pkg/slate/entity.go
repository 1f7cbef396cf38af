package slate

import (
	"context"

	"slate/pkg/domain"
)

// Entity is the typed descriptor of a registered entity. It is returned by
// Register and is the entry point for typed queries, relationship
// resolution, change sets and streams.
type Entity[T Snapshot] struct {
	name    string
	factory func(*domain.Object) T
}

// Name returns the entity name.
func (e *Entity[T]) Name() string { return e.name }

// Query starts a request for e's snapshots inside qc.
func (e *Entity[T]) Query(qc *QueryContext) *Request[T] {
	return &Request[T]{qc: qc, entity: e, fetch: domain.FetchRequest{Entity: e.name}}
}

// Get returns the snapshot of the object identified by id.
func (e *Entity[T]) Get(ctx context.Context, qc *QueryContext, id domain.ID) (T, error) {
	var out T
	err := qc.use(ctx, func(oc domain.ObjectContext) error {
		o, err := oc.Object(id)
		if err != nil {
			return underlying("lookup "+string(id), err)
		}
		out, err = e.snapshot(qc.c.cache, o)
		return err
	})
	return out, err
}

// ResolveOne follows the to-one relationship rel of from. The boolean is
// false when the relationship is empty.
func (e *Entity[T]) ResolveOne(ctx context.Context, qc *QueryContext, from Snapshot, rel string) (T, bool, error) {
	var out T
	var found bool
	err := qc.related(ctx, from.SlateID(), rel, false, func(o *domain.Object) error {
		s, err := e.snapshot(qc.c.cache, o)
		out, found = s, err == nil
		return err
	})
	return out, found, err
}

// ResolveMany follows the to-many relationship rel of from.
func (e *Entity[T]) ResolveMany(ctx context.Context, qc *QueryContext, from Snapshot, rel string) ([]T, error) {
	var out []T
	err := qc.related(ctx, from.SlateID(), rel, true, func(o *domain.Object) error {
		s, err := e.snapshot(qc.c.cache, o)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// Convert turns managed objects of qc into cached snapshots.
func (e *Entity[T]) Convert(ctx context.Context, qc *QueryContext, objects []*domain.Object) ([]T, error) {
	out := make([]T, 0, len(objects))
	err := qc.use(ctx, func(oc domain.ObjectContext) error {
		for _, o := range objects {
			if o.Owner() != domain.ObjectOwner(oc) {
				return scopeViolation("object %s belongs to another context", o.ID())
			}
			s, err := e.snapshot(qc.c.cache, o)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// Create inserts a new managed object of e inside a mutation block.
func (e *Entity[T]) Create(w *WriteContext) (*domain.Object, error) {
	return w.Create(e.name)
}

// Fetch starts a managed-object request for e inside a mutation block.
func (e *Entity[T]) Fetch(w *WriteContext) *ObjectRequest {
	return w.Fetch(e.name)
}

// Changes returns the part of result concerning e. The set is computed
// once per result.
func (e *Entity[T]) Changes(result *MutationResult) ChangeSet[T] {
	return result.memo(e, func() any {
		return ChangeSet[T]{
			Inserted: castAll[T](result.inserted[e.name]),
			Updated:  castAll[T](result.updated[e.name]),
			Deleted:  castAll[T](result.deleted[e.name]),
		}
	}).(ChangeSet[T])
}

func (e *Entity[T]) snapshot(cache *objectCache, o *domain.Object) (T, error) {
	var zero T
	if o.Entity() != e.name {
		return zero, invalidCast("%s %s requested as %s", o.Entity(), o.ID(), e.name)
	}
	s := cache.getOrCreate(o.ID(), func() Snapshot { return e.factory(o) })
	v, ok := s.(T)
	if !ok {
		return zero, invalidCast("cached %T for %s is not %T", s, o.ID(), zero)
	}
	return v, nil
}

func castAll[T Snapshot](in map[domain.ID]Snapshot) map[domain.ID]T {
	out := make(map[domain.ID]T, len(in))
	for id, s := range in {
		if v, ok := s.(T); ok {
			out[id] = v
		}
	}
	return out
}
