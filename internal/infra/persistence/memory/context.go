package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"slate/pkg/domain"
)

var _ domain.ObjectContext = (*objectContext)(nil)

// objectContext is a working set of managed objects. The master context (base
// == nil) reads the store's current committed state; derived contexts are
// read-only and pinned to the state current when they were created.
type objectContext struct {
	store    *Store
	base     *memoryState
	readOnly bool
	seq      uint64

	objects  map[domain.ID]*domain.Object
	inserted map[domain.ID]*domain.Object
	updated  map[domain.ID]*domain.Object
	deleted  map[domain.ID]*domain.Object
}

func newObjectContext(s *Store, base *memoryState) *objectContext {
	c := &objectContext{store: s, base: base, readOnly: base != nil}
	c.clear()
	return c
}

func (c *objectContext) clear() {
	c.objects = make(map[domain.ID]*domain.Object)
	c.inserted = make(map[domain.ID]*domain.Object)
	c.updated = make(map[domain.ID]*domain.Object)
	c.deleted = make(map[domain.ID]*domain.Object)
}

func (c *objectContext) committed() memoryState {
	if c.base != nil {
		return *c.base
	}
	return c.store.current()
}

func (c *objectContext) Model() *domain.Model { return c.store.model }

func (c *objectContext) Object(id domain.ID) (*domain.Object, error) {
	if o, ok := c.objects[id]; ok {
		return o, nil
	}
	rec, ok := c.committed().lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	em, ok := c.store.model.Entity(rec.Entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, rec.Entity)
	}
	o := domain.NewObject(c, em, rec)
	c.objects[id] = o
	return o, nil
}

func (c *objectContext) WillChange(o *domain.Object) error {
	if c.readOnly {
		return domain.ErrReadOnly
	}
	if o.Owner() != domain.ObjectOwner(c) {
		return domain.ErrForeignObject
	}
	id := o.ID()
	if _, ok := c.inserted[id]; ok {
		return nil
	}
	if o.IsDeleted() {
		return nil
	}
	c.updated[id] = o
	return nil
}

func (c *objectContext) Create(entity string) (*domain.Object, error) {
	if c.readOnly {
		return nil, domain.ErrReadOnly
	}
	em, ok := c.store.model.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, entity)
	}
	c.seq++
	id := domain.TempID(c.seq)
	o := domain.NewObject(c, em, domain.Record{ID: id, Entity: entity})
	c.objects[id] = o
	c.inserted[id] = o
	return o, nil
}

func (c *objectContext) Delete(o *domain.Object) error {
	if c.readOnly {
		return domain.ErrReadOnly
	}
	if o.Owner() != domain.ObjectOwner(c) {
		return domain.ErrForeignObject
	}
	if o.IsDeleted() {
		return nil
	}
	cascade, err := o.Detach()
	if err != nil {
		return err
	}
	o.MarkDeleted()
	id := o.ID()
	if _, ok := c.inserted[id]; ok {
		delete(c.inserted, id)
	} else {
		delete(c.updated, id)
		c.deleted[id] = o
	}
	for _, t := range cascade {
		if err := c.Delete(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *objectContext) Fetch(req domain.FetchRequest) ([]*domain.Object, error) {
	if _, ok := c.store.model.Entity(req.Entity); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntity, req.Entity)
	}
	bucket := c.committed().buckets[req.Entity]
	objects := make([]*domain.Object, 0, len(bucket)+len(c.inserted))
	for id := range bucket {
		o, err := c.Object(id)
		if err != nil {
			return nil, err
		}
		if !o.IsDeleted() {
			objects = append(objects, o)
		}
	}
	for _, o := range c.inserted {
		if o.Entity() == req.Entity {
			objects = append(objects, o)
		}
	}
	return req.Apply(objects), nil
}

func (c *objectContext) Count(req domain.FetchRequest) (int, error) {
	objects, err := c.Fetch(req)
	if err != nil {
		return 0, err
	}
	return len(objects), nil
}

func (c *objectContext) ObtainPermanentIDs() error {
	if c.readOnly {
		return domain.ErrReadOnly
	}
	mapping := make(map[domain.ID]domain.ID)
	for id := range c.inserted {
		if id.IsTemporary() {
			mapping[id] = domain.NewPermanentID()
		}
	}
	if len(mapping) == 0 {
		return nil
	}
	objects := make(map[domain.ID]*domain.Object, len(c.objects))
	for _, o := range c.objects {
		o.Rebind(mapping)
		objects[o.ID()] = o
	}
	c.objects = objects
	c.inserted = rekey(c.inserted)
	return nil
}

func rekey(in map[domain.ID]*domain.Object) map[domain.ID]*domain.Object {
	out := make(map[domain.ID]*domain.Object, len(in))
	for _, o := range in {
		out[o.ID()] = o
	}
	return out
}

func sortedObjects(in map[domain.ID]*domain.Object) []*domain.Object {
	out := slices.Collect(maps.Values(in))
	slices.SortFunc(out, func(a, b *domain.Object) int { return strings.Compare(string(a.ID()), string(b.ID())) })
	return out
}

func (c *objectContext) Changes() domain.ObjectChanges {
	return domain.ObjectChanges{
		Inserted: sortedObjects(c.inserted),
		Updated:  sortedObjects(c.updated),
		Deleted:  sortedObjects(c.deleted),
	}
}

func (c *objectContext) Save(ctx context.Context) error {
	if c.readOnly {
		return domain.ErrReadOnly
	}
	changes := c.Changes()
	if changes.Empty() {
		return nil
	}
	if err := c.ObtainPermanentIDs(); err != nil {
		return err
	}
	changes = c.Changes()
	if err := validate(changes); err != nil {
		return err
	}
	var delta Delta
	for _, o := range changes.Inserted {
		delta.Upserted = append(delta.Upserted, o.Record())
	}
	for _, o := range changes.Updated {
		delta.Upserted = append(delta.Upserted, o.Record())
	}
	for _, o := range changes.Deleted {
		delta.Deleted = append(delta.Deleted, o.Record())
	}
	if err := c.store.commit(ctx, delta); err != nil {
		return err
	}
	c.clear()
	return nil
}

func validate(changes domain.ObjectChanges) error {
	var issues []domain.ValidationIssue
	check := func(o *domain.Object) {
		em := o.EntityModel()
		for _, a := range em.Attributes {
			if !a.Optional && o.Value(a.Name) == nil {
				issues = append(issues, domain.ValidationIssue{Entity: em.Name, ID: o.ID(), Property: a.Name, Message: "required"})
			}
		}
	}
	for _, o := range changes.Inserted {
		check(o)
	}
	for _, o := range changes.Updated {
		check(o)
	}
	if len(issues) > 0 {
		return domain.ValidationError{Issues: issues}
	}
	return nil
}

func (c *objectContext) Reset() { c.clear() }

func (c *objectContext) NewChild() domain.ObjectContext {
	st := c.store.current()
	return newObjectContext(c.store, &st)
}
