package domain

import (
	"errors"
	"testing"
)

var libraryModel = MustModel(
	EntityModel{
		Name: "Author",
		Attributes: []Attribute{
			{Name: "name", Type: TypeString},
			{Name: "born", Type: TypeTime, Optional: true},
		},
		Relationships: []Relationship{
			{Name: "books", Destination: "Book", Inverse: "author", ToMany: true, Ordered: true, DeleteRule: DeleteCascade},
		},
	},
	EntityModel{
		Name: "Book",
		Attributes: []Attribute{
			{Name: "title", Type: TypeString},
			{Name: "pages", Type: TypeInt, Optional: true},
			{Name: "rating", Type: TypeFloat, Optional: true},
		},
		Relationships: []Relationship{
			{Name: "author", Destination: "Author", Inverse: "books"},
		},
	},
)

// mapOwner is a minimal ObjectOwner keeping objects in a map.
type mapOwner struct {
	objects  map[ID]*Object
	changed  map[ID]int
	readOnly bool
}

func newMapOwner() *mapOwner {
	return &mapOwner{objects: make(map[ID]*Object), changed: make(map[ID]int)}
}

func (m *mapOwner) Object(id ID) (*Object, error) {
	o, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mapOwner) WillChange(o *Object) error {
	if m.readOnly {
		return ErrReadOnly
	}
	m.changed[o.ID()]++
	return nil
}

func (m *mapOwner) add(t *testing.T, entity string, id ID, attrs map[string]any) *Object {
	t.Helper()
	em, ok := libraryModel.Entity(entity)
	if !ok {
		t.Fatalf("unknown entity %s", entity)
	}
	o := NewObject(m, em, Record{ID: id, Entity: entity, Attributes: attrs})
	m.objects[id] = o
	return o
}

func mustErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
