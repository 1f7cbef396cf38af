package slate

import (
	"maps"
	"slices"
	"sync"

	"slate/pkg/domain"
)

type changeMaps map[string]map[domain.ID]Snapshot

func (m changeMaps) add(entity string, id domain.ID, s Snapshot) {
	if m[entity] == nil {
		m[entity] = make(map[domain.ID]Snapshot)
	}
	m[entity][id] = s
}

func (m changeMaps) flatten() map[domain.ID]Snapshot {
	out := make(map[domain.ID]Snapshot)
	for _, bucket := range m {
		maps.Copy(out, bucket)
	}
	return out
}

func (m changeMaps) count() int {
	n := 0
	for _, bucket := range m {
		n += len(bucket)
	}
	return n
}

// MutationResult describes one committed mutation. Listeners receive it
// while the write barrier is still held.
type MutationResult struct {
	// Value is the value the block committed with.
	Value any

	inserted changeMaps
	updated  changeMaps
	deleted  changeMaps
	qc       *QueryContext

	mu    sync.Mutex
	memos map[any]any
}

// Context returns a query context over the committed state. It is usable
// only through the ctx passed to the listener, and only during the
// announcement.
func (r *MutationResult) Context() *QueryContext { return r.qc }

// Entities returns the sorted names of the entities the mutation touched.
func (r *MutationResult) Entities() []string {
	set := make(map[string]struct{})
	for _, m := range []changeMaps{r.inserted, r.updated, r.deleted} {
		for entity := range m {
			set[entity] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Touches reports whether the mutation inserted, updated or deleted an
// object of entity.
func (r *MutationResult) Touches(entity string) bool {
	return len(r.inserted[entity]) > 0 || len(r.updated[entity]) > 0 || len(r.deleted[entity]) > 0
}

// Counts returns the number of inserted, updated and deleted snapshots.
func (r *MutationResult) Counts() (inserted, updated, deleted int) {
	return r.inserted.count(), r.updated.count(), r.deleted.count()
}

// Inserted returns the inserted snapshots of entity keyed by identity.
func (r *MutationResult) Inserted(entity string) map[domain.ID]Snapshot {
	return maps.Clone(r.inserted[entity])
}

// Updated returns the updated snapshots of entity keyed by identity.
func (r *MutationResult) Updated(entity string) map[domain.ID]Snapshot {
	return maps.Clone(r.updated[entity])
}

// Deleted returns the last snapshots of the deleted objects of entity.
func (r *MutationResult) Deleted(entity string) map[domain.ID]Snapshot {
	return maps.Clone(r.deleted[entity])
}

func (r *MutationResult) memo(key any, compute func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.memos[key]; ok {
		return v
	}
	if r.memos == nil {
		r.memos = make(map[any]any)
	}
	v := compute()
	r.memos[key] = v
	return v
}

// ChangeSet is the typed view of a MutationResult for one entity.
type ChangeSet[T Snapshot] struct {
	Inserted map[domain.ID]T
	Updated  map[domain.ID]T
	Deleted  map[domain.ID]T
}

// Empty reports whether the set holds no change.
func (s ChangeSet[T]) Empty() bool {
	return len(s.Inserted) == 0 && len(s.Updated) == 0 && len(s.Deleted) == 0
}
