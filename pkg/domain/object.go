package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Record is the storable form of a managed object.
type Record struct {
	ID            ID              `json:"id"`
	Entity        string          `json:"entity"`
	Attributes    map[string]any  `json:"attributes,omitempty"`
	Relationships map[string][]ID `json:"relationships,omitempty"`
}

// Clone returns a deep copy of the record's maps and ID lists.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Entity: r.Entity}
	if len(r.Attributes) > 0 {
		out.Attributes = maps.Clone(r.Attributes)
	}
	if len(r.Relationships) > 0 {
		out.Relationships = make(map[string][]ID, len(r.Relationships))
		for k, v := range r.Relationships {
			out.Relationships[k] = slices.Clone(v)
		}
	}
	return out
}

// ObjectOwner is the object context a managed object belongs to. Objects use
// it to resolve related identities and to announce modifications.
type ObjectOwner interface {
	// Object resolves an identity within the owning context.
	Object(id ID) (*Object, error)
	// WillChange is invoked before the object is modified. Returning an error
	// vetoes the modification.
	WillChange(o *Object) error
}

// Object is a mutable managed object owned by exactly one object context. It
// is not safe for concurrent use; it must only be touched by the goroutine
// currently holding its context.
type Object struct {
	owner   ObjectOwner
	entity  *EntityModel
	id      ID
	attrs   map[string]any
	rels    map[string][]ID
	deleted bool
}

// NewObject materializes a record for an owner. The record is copied.
func NewObject(owner ObjectOwner, entity *EntityModel, rec Record) *Object {
	c := rec.Clone()
	if c.Attributes == nil {
		c.Attributes = make(map[string]any)
	}
	if c.Relationships == nil {
		c.Relationships = make(map[string][]ID)
	}
	return &Object{owner: owner, entity: entity, id: rec.ID, attrs: c.Attributes, rels: c.Relationships}
}

func (o *Object) ID() ID { return o.id }
func (o *Object) Entity() string { return o.entity.Name }
func (o *Object) EntityModel() *EntityModel { return o.entity }
func (o *Object) Owner() ObjectOwner { return o.owner }
func (o *Object) IsDeleted() bool { return o.deleted }

// Value returns the raw attribute value or nil.
func (o *Object) Value(attr string) any { return o.attrs[attr] }

// String returns a string attribute or "".
func (o *Object) String(attr string) string {
	s, _ := o.attrs[attr].(string)
	return s
}

// Int returns an integer attribute or 0.
func (o *Object) Int(attr string) int64 {
	v, err := NormalizeValue(TypeInt, o.attrs[attr])
	if err != nil || v == nil {
		return 0
	}
	return v.(int64)
}

// Float returns a float attribute or 0.
func (o *Object) Float(attr string) float64 {
	v, err := NormalizeValue(TypeFloat, o.attrs[attr])
	if err != nil || v == nil {
		return 0
	}
	return v.(float64)
}

// Bool returns a bool attribute or false.
func (o *Object) Bool(attr string) bool {
	b, _ := o.attrs[attr].(bool)
	return b
}

// Time returns a time attribute or the zero time.
func (o *Object) Time(attr string) time.Time {
	v, err := NormalizeValue(TypeTime, o.attrs[attr])
	if err != nil || v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// Bytes returns a copy of a bytes attribute.
func (o *Object) Bytes(attr string) []byte {
	v, err := NormalizeValue(TypeBytes, o.attrs[attr])
	if err != nil || v == nil {
		return nil
	}
	return v.([]byte)
}

// Set assigns an attribute. The value is normalized to the attribute type;
// nil clears it.
func (o *Object) Set(attr string, value any) error {
	a, ok := o.entity.Attribute(attr)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, o.entity.Name, attr)
	}
	if o.deleted {
		return fmt.Errorf("set %s.%s: %w", o.entity.Name, attr, ErrDeleted)
	}
	v, err := NormalizeValue(a.Type, value)
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", o.entity.Name, attr, err)
	}
	if err := o.owner.WillChange(o); err != nil {
		return err
	}
	if v == nil {
		delete(o.attrs, attr)
		return nil
	}
	o.attrs[attr] = v
	return nil
}

// SetValues assigns several attributes, stopping at the first failure.
func (o *Object) SetValues(values map[string]any) error {
	keys := slices.Sorted(maps.Keys(values))
	for _, k := range keys {
		if err := o.Set(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// RelatedIDs returns a copy of the identities linked through rel.
func (o *Object) RelatedIDs(rel string) []ID {
	return slices.Clone(o.rels[rel])
}

// ToOne resolves a to-one relationship. A nil object and nil error mean the
// relationship is empty.
func (o *Object) ToOne(rel string) (*Object, error) {
	if _, err := o.relationship(rel, false); err != nil {
		return nil, err
	}
	ids := o.rels[rel]
	if len(ids) == 0 {
		return nil, nil
	}
	return o.owner.Object(ids[0])
}

// ToMany resolves a to-many relationship in stored order.
func (o *Object) ToMany(rel string) ([]*Object, error) {
	if _, err := o.relationship(rel, true); err != nil {
		return nil, err
	}
	ids := o.rels[rel]
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		t, err := o.owner.Object(id)
		if err != nil {
			return nil, fmt.Errorf("resolve %s.%s: %w", o.entity.Name, rel, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// SetToOne replaces the target of a to-one relationship; nil clears it. The
// inverse relationship, if any, is updated on both the old and new targets.
func (o *Object) SetToOne(rel string, target *Object) error {
	r, err := o.relationship(rel, false)
	if err != nil {
		return err
	}
	if err := o.checkTarget(r, target); err != nil {
		return err
	}
	current := o.rels[rel]
	if target != nil && len(current) == 1 && current[0] == target.id {
		return nil
	}
	if target == nil && len(current) == 0 {
		return nil
	}
	if err := o.owner.WillChange(o); err != nil {
		return err
	}
	if len(current) == 1 {
		if old, err := o.owner.Object(current[0]); err == nil {
			if err := o.unlinkInverse(r, old); err != nil {
				return err
			}
		}
	}
	if target == nil {
		delete(o.rels, rel)
		return nil
	}
	o.rels[rel] = []ID{target.id}
	return o.linkInverse(r, target)
}

// Add appends targets to a to-many relationship, skipping ones already linked.
func (o *Object) Add(rel string, targets ...*Object) error {
	r, err := o.relationship(rel, true)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if t == nil {
			continue
		}
		if err := o.checkTarget(r, t); err != nil {
			return err
		}
		if slices.Contains(o.rels[rel], t.id) {
			continue
		}
		if err := o.owner.WillChange(o); err != nil {
			return err
		}
		o.rels[rel] = append(o.rels[rel], t.id)
		if err := o.linkInverse(r, t); err != nil {
			return err
		}
	}
	return nil
}

// Remove unlinks targets from a to-many relationship.
func (o *Object) Remove(rel string, targets ...*Object) error {
	r, err := o.relationship(rel, true)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if t == nil || !slices.Contains(o.rels[rel], t.id) {
			continue
		}
		if err := o.owner.WillChange(o); err != nil {
			return err
		}
		o.removeRaw(rel, t.id)
		if err := o.unlinkInverse(r, t); err != nil {
			return err
		}
	}
	return nil
}

// Record returns the storable form of the object.
func (o *Object) Record() Record {
	return Record{ID: o.id, Entity: o.entity.Name, Attributes: o.attrs, Relationships: o.rels}.Clone()
}

// MarkDeleted flags the object as deleted. Called by object contexts.
func (o *Object) MarkDeleted() { o.deleted = true }

// Rebind rewrites the object's identity and relationship targets through
// mapping. Object contexts call it when temporary identities become permanent.
func (o *Object) Rebind(mapping map[ID]ID) {
	if id, ok := mapping[o.id]; ok {
		o.id = id
	}
	for _, ids := range o.rels {
		for i, id := range ids {
			if repl, ok := mapping[id]; ok {
				ids[i] = repl
			}
		}
	}
}

// Detach applies the entity's delete rules ahead of a delete: nullify and
// cascade relationships drop this object from their inverses, deny
// relationships refuse while non-empty. The objects a cascade rule wants
// deleted are returned for the caller to delete. The object's own links are
// left intact so a snapshot of the deleted state remains complete.
func (o *Object) Detach() ([]*Object, error) {
	for _, r := range o.entity.Relationships {
		if r.DeleteRule == DeleteDeny && len(o.rels[r.Name]) > 0 {
			return nil, fmt.Errorf("%w: %s(%s).%s", ErrDeleteDenied, o.entity.Name, o.id, r.Name)
		}
	}
	var cascade []*Object
	for _, r := range o.entity.Relationships {
		for _, id := range slices.Clone(o.rels[r.Name]) {
			t, err := o.owner.Object(id)
			if err != nil {
				continue
			}
			if err := o.unlinkInverse(r, t); err != nil {
				return nil, err
			}
			if r.DeleteRule == DeleteCascade && !t.deleted {
				cascade = append(cascade, t)
			}
		}
	}
	return cascade, nil
}

func (o *Object) relationship(name string, toMany bool) (Relationship, error) {
	r, ok := o.entity.Relationship(name)
	if !ok {
		return Relationship{}, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, o.entity.Name, name)
	}
	if r.ToMany != toMany {
		return Relationship{}, fmt.Errorf("%w: %s.%s", ErrCardinality, o.entity.Name, name)
	}
	return r, nil
}

func (o *Object) checkTarget(r Relationship, t *Object) error {
	if o.deleted {
		return fmt.Errorf("link %s.%s: %w", o.entity.Name, r.Name, ErrDeleted)
	}
	if t == nil {
		return nil
	}
	if t.owner != o.owner {
		return fmt.Errorf("link %s.%s: %w", o.entity.Name, r.Name, ErrForeignObject)
	}
	if t.entity.Name != r.Destination {
		return fmt.Errorf("%w: %s.%s expects %s, got %s", ErrTypeMismatch, o.entity.Name, r.Name, r.Destination, t.entity.Name)
	}
	if t.deleted {
		return fmt.Errorf("link %s.%s: %w", o.entity.Name, r.Name, ErrDeleted)
	}
	return nil
}

func (o *Object) linkInverse(r Relationship, t *Object) error {
	if r.Inverse == "" {
		return nil
	}
	inv, _ := t.entity.Relationship(r.Inverse)
	if err := o.owner.WillChange(t); err != nil {
		return err
	}
	if inv.ToMany {
		if !slices.Contains(t.rels[inv.Name], o.id) {
			t.rels[inv.Name] = append(t.rels[inv.Name], o.id)
		}
		return nil
	}
	if prev := t.rels[inv.Name]; len(prev) == 1 && prev[0] != o.id {
		if p, err := o.owner.Object(prev[0]); err == nil {
			if err := o.owner.WillChange(p); err != nil {
				return err
			}
			p.removeRaw(r.Name, t.id)
		}
	}
	t.rels[inv.Name] = []ID{o.id}
	return nil
}

func (o *Object) unlinkInverse(r Relationship, t *Object) error {
	if r.Inverse == "" || !slices.Contains(t.rels[r.Inverse], o.id) {
		return nil
	}
	if err := o.owner.WillChange(t); err != nil {
		return err
	}
	t.removeRaw(r.Inverse, o.id)
	return nil
}

func (o *Object) removeRaw(rel string, id ID) {
	ids := slices.DeleteFunc(o.rels[rel], func(x ID) bool { return x == id })
	if len(ids) == 0 {
		delete(o.rels, rel)
		return
	}
	o.rels[rel] = ids
}
