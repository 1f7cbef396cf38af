package slate

import (
	"context"
	"fmt"

	"slate/pkg/domain"
)

// Resolver follows the relationships of one snapshot inside a query
// context. Destinations are returned as cached snapshots.
type Resolver struct {
	qc *QueryContext
	id domain.ID
}

// One resolves a to-one relationship. It returns nil when the relationship
// is empty.
func (r *Resolver) One(ctx context.Context, rel string) (Snapshot, error) {
	var out Snapshot
	err := r.qc.related(ctx, r.id, rel, false, func(o *domain.Object) error {
		s, err := r.qc.c.registry.snapshot(r.qc.c.cache, o)
		out = s
		return err
	})
	return out, err
}

// Many resolves a to-many relationship in its stored order.
func (r *Resolver) Many(ctx context.Context, rel string) ([]Snapshot, error) {
	var out []Snapshot
	err := r.qc.related(ctx, r.id, rel, true, func(o *domain.Object) error {
		s, err := r.qc.c.registry.snapshot(r.qc.c.cache, o)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// IDs returns the destination identities without building snapshots.
func (r *Resolver) IDs(ctx context.Context, rel string) ([]domain.ID, error) {
	var out []domain.ID
	err := r.qc.use(ctx, func(oc domain.ObjectContext) error {
		o, err := oc.Object(r.id)
		if err != nil {
			return underlying("resolve "+rel, err)
		}
		if _, ok := o.EntityModel().Relationship(rel); !ok {
			return fmt.Errorf("%w: %s.%s", domain.ErrUnknownProperty, o.Entity(), rel)
		}
		out = o.RelatedIDs(rel)
		return nil
	})
	return out, err
}

// related loads the object behind id, traverses rel and hands every
// destination to visit.
func (qc *QueryContext) related(ctx context.Context, id domain.ID, rel string, toMany bool, visit func(*domain.Object) error) error {
	return qc.use(ctx, func(oc domain.ObjectContext) error {
		o, err := oc.Object(id)
		if err != nil {
			return underlying("resolve "+rel, err)
		}
		var targets []*domain.Object
		if toMany {
			targets, err = o.ToMany(rel)
		} else {
			var t *domain.Object
			t, err = o.ToOne(rel)
			if t != nil {
				targets = []*domain.Object{t}
			}
		}
		if err != nil {
			return fmt.Errorf("slate: resolve %s.%s: %w", o.Entity(), rel, err)
		}
		for _, t := range targets {
			if err := visit(t); err != nil {
				return err
			}
		}
		return nil
	})
}
