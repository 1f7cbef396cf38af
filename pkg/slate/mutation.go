package slate

import (
	"context"
	"time"

	"slate/pkg/domain"
)

// MutationBlock is the body of a mutation. Returning an error or Abort()
// discards every change the block made.
type MutationBlock func(ctx context.Context, w *WriteContext) (Outcome, error)

// mutate runs the pipeline while the caller holds the barrier: block,
// permanent identities, changeset capture, commit, cache update, announce.
// The cache is touched only after the store accepted the commit.
func (c *Coordinator) mutate(ctx context.Context, block MutationBlock) (err error) {
	if c.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	defer func() {
		c.metrics.observeMutation(time.Since(start))
		c.metrics.observeOperation("mutation", err)
	}()

	master := c.master
	w := &WriteContext{c: c, objects: master}
	w.open.Store(true)
	outcome, err := c.runBlock(ctx, w, block)
	if err == nil && outcome.Aborted() {
		err = ErrAborted
	}
	if err != nil {
		master.Reset()
		if isAbort(err) {
			c.logger.Debug("mutation aborted")
		}
		return err
	}

	if err := master.ObtainPermanentIDs(); err != nil {
		master.Reset()
		return underlying("obtain permanent identities", err)
	}
	inserted, updated, deleted := c.capture(master.Changes())
	if err := master.Save(ctx); err != nil {
		master.Reset()
		c.logger.Error("commit failed", "error", err)
		return underlying("commit", err)
	}
	deletedIDs := make([]domain.ID, 0, deleted.count())
	for _, bucket := range deleted {
		for id := range bucket {
			deletedIDs = append(deletedIDs, id)
		}
	}
	c.cache.apply(updated.flatten(), inserted.flatten(), deletedIDs)

	result := &MutationResult{
		Value:    outcome.Value(),
		inserted: inserted,
		updated:  updated,
		deleted:  deleted,
		qc:       newQueryContext(c, master, scopeAnnounce),
	}
	defer result.qc.close()
	c.announce(ctx, result)
	return nil
}

// runBlock runs block with the write scope active and closes w afterwards.
// A panicking block leaves no pending changes behind.
func (c *Coordinator) runBlock(ctx context.Context, w *WriteContext, block MutationBlock) (Outcome, error) {
	defer func() {
		w.open.Store(false)
		if r := recover(); r != nil {
			w.objects.Reset()
			panic(r)
		}
	}()
	return block(withScope(ctx, &scope{kind: scopeWrite, wc: w}), w)
}

// capture builds fresh snapshots of the changed objects of registered
// entities. Deleted objects keep their last attribute values.
func (c *Coordinator) capture(changes domain.ObjectChanges) (inserted, updated, deleted changeMaps) {
	inserted, updated, deleted = changeMaps{}, changeMaps{}, changeMaps{}
	for _, set := range []struct {
		objects []*domain.Object
		into    changeMaps
	}{
		{changes.Inserted, inserted},
		{changes.Updated, updated},
		{changes.Deleted, deleted},
	} {
		for _, o := range set.objects {
			f, ok := c.registry.factory(o.Entity())
			if !ok {
				continue
			}
			set.into.add(o.Entity(), o.ID(), f(o))
		}
	}
	return inserted, updated, deleted
}
