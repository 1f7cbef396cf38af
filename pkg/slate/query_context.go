package slate

import (
	"context"
	"sync"
	"sync/atomic"

	"slate/pkg/domain"
)

// QueryContext binds one object context to the scope of one read block, or
// to the announce phase of one mutation. It is valid only while that block
// runs and only through the ctx the block received (or contexts derived
// from it).
type QueryContext struct {
	c       *Coordinator
	objects domain.ObjectContext
	kind    scopeKind
	mu      sync.Mutex
	open    atomic.Bool
}

func newQueryContext(c *Coordinator, objects domain.ObjectContext, kind scopeKind) *QueryContext {
	qc := &QueryContext{c: c, objects: objects, kind: kind}
	qc.open.Store(true)
	return qc
}

func (qc *QueryContext) close() { qc.open.Store(false) }

// check verifies that qc is still open and is the context active in ctx.
func (qc *QueryContext) check(ctx context.Context) error {
	if !qc.open.Load() {
		return scopeViolation("%s context used after its block returned", qc.kind)
	}
	if s := scopeFrom(ctx); s == nil || s.qc != qc {
		return scopeViolation("%s context is not the active context of this scope", qc.kind)
	}
	return nil
}

// use runs fn against the underlying object context after the scope check.
// Object contexts are not safe for concurrent use, so calls are serialised.
func (qc *QueryContext) use(ctx context.Context, fn func(domain.ObjectContext) error) error {
	if err := qc.check(ctx); err != nil {
		return err
	}
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return fn(qc.objects)
}

// Object returns the snapshot of the object identified by id.
func (qc *QueryContext) Object(ctx context.Context, id domain.ID) (Snapshot, error) {
	var out Snapshot
	err := qc.use(ctx, func(oc domain.ObjectContext) error {
		o, err := oc.Object(id)
		if err != nil {
			return underlying("lookup "+string(id), err)
		}
		out, err = qc.c.registry.snapshot(qc.c.cache, o)
		return err
	})
	return out, err
}

// Count returns the number of entity objects matching p.
func (qc *QueryContext) Count(ctx context.Context, entity string, p domain.Predicate) (int, error) {
	var n int
	err := qc.use(ctx, func(oc domain.ObjectContext) error {
		var err error
		n, err = oc.Count(domain.FetchRequest{Entity: entity, Predicate: p})
		if err != nil {
			return underlying("count "+entity, err)
		}
		return nil
	})
	return n, err
}

// Resolve returns a resolver for the relationships of s.
func (qc *QueryContext) Resolve(s Snapshot) *Resolver {
	return &Resolver{qc: qc, id: s.SlateID()}
}
