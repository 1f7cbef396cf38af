package slate

import (
	"sync/atomic"

	"slate/pkg/domain"
)

// WriteContext gives a mutation block access to the master object context.
// It is closed when the block returns.
type WriteContext struct {
	c       *Coordinator
	objects domain.ObjectContext
	open    atomic.Bool
}

func (w *WriteContext) check() error {
	if !w.open.Load() {
		return scopeViolation("write context used after its block returned")
	}
	return nil
}

// Model returns the schema of the store.
func (w *WriteContext) Model() *domain.Model { return w.objects.Model() }

// Create inserts a new managed object.
func (w *WriteContext) Create(entity string) (*domain.Object, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	return w.objects.Create(entity)
}

// Object returns the managed object identified by id.
func (w *WriteContext) Object(id domain.ID) (*domain.Object, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	return w.objects.Object(id)
}

// Edit returns the managed object behind a snapshot.
func (w *WriteContext) Edit(s Snapshot) (*domain.Object, error) {
	return w.Object(s.SlateID())
}

// Delete deletes objects, applying relationship delete rules.
func (w *WriteContext) Delete(objects ...*domain.Object) error {
	if err := w.check(); err != nil {
		return err
	}
	for _, o := range objects {
		if err := w.objects.Delete(o); err != nil {
			return err
		}
	}
	return nil
}

// Fetch starts a managed-object request for entity.
func (w *WriteContext) Fetch(entity string) *ObjectRequest {
	return &ObjectRequest{w: w, fetch: domain.FetchRequest{Entity: entity}}
}
