package domain

import "context"

// ObjectChanges lists the pending modifications of an object context.
// Updated never contains inserted or deleted objects.
type ObjectChanges struct {
	Inserted []*Object
	Updated  []*Object
	Deleted  []*Object
}

// Empty reports whether no modification is pending.
func (c ObjectChanges) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// ObjectContext is a working set of managed objects over a persistent store.
// The master context is the only one that can commit; derived contexts see
// the committed state as of their creation and are read-only. A context is
// not safe for concurrent use.
type ObjectContext interface {
	ObjectOwner
	// Model returns the schema the context validates against.
	Model() *Model
	// Create inserts a new object with a temporary identity.
	Create(entity string) (*Object, error)
	// Delete removes an object, applying relationship delete rules.
	Delete(o *Object) error
	// Fetch returns the objects matching the request, pending changes included.
	Fetch(req FetchRequest) ([]*Object, error)
	// Count returns the number of objects Fetch would return.
	Count(req FetchRequest) (int, error)
	// ObtainPermanentIDs replaces temporary identities of inserted objects.
	ObtainPermanentIDs() error
	// Changes reports the pending modifications.
	Changes() ObjectChanges
	// Save commits the pending modifications. On failure the committed state
	// is unchanged and the pending modifications remain.
	Save(ctx context.Context) error
	// Reset discards pending modifications and registered objects.
	Reset()
	// NewChild derives a read-only context bound to the committed state.
	NewChild() ObjectContext
}

// PersistentStore is the durable object store a coordinator fronts.
type PersistentStore interface {
	// NewMasterContext returns the store's single writable context.
	NewMasterContext() ObjectContext
	Close() error
}

// Archiver is implemented by stores that can export and replace their
// committed state wholesale. Used by backup and restore.
type Archiver interface {
	Export(ctx context.Context) ([]Record, error)
	Import(ctx context.Context, records []Record) error
}
