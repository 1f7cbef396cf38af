// Package slate coordinates access to a graph-shaped object store. Any
// number of reads run concurrently against immutable, identity-stable
// snapshots; exactly one mutation runs at a time, behind a barrier that
// excludes reads, and announces its changes to listeners before the barrier
// is released.
package slate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"slate/pkg/domain"
)

// QueryBlock is the body of a read.
type QueryBlock func(ctx context.Context, qc *QueryContext) error

// Coordinator is the single-writer / multi-reader access coordinator.
type Coordinator struct {
	registry  *Registry
	logger    Logger
	metrics   *Metrics
	queue     accessQueue
	cache     *objectCache
	listeners listenerRegistry

	uncaughtMu   sync.Mutex
	uncaught     map[uint64]func(error)
	nextUncaught uint64

	mu         sync.Mutex
	configured bool
	closed     atomic.Bool
	store      domain.PersistentStore
	master     domain.ObjectContext
	location   string
}

// New returns an unconfigured coordinator. Work submitted before Configure
// waits until configuration succeeds.
func New(registry *Registry, opts ...Option) *Coordinator {
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Coordinator{registry: registry, logger: noopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = newObjectCache(c.metrics)
	return c
}

// Registry returns the entity registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// QuerySync runs block as a read and returns once it finished. When ctx
// belongs to a running read or announce block, block runs immediately on
// that block's query context. Issued from inside a mutation block it fails
// with ErrScopeViolation.
func (c *Coordinator) QuerySync(ctx context.Context, block QueryBlock) *Handle {
	h := c.newHandle()
	h.s.finish(c.querySync(ctx, block))
	return h
}

func (c *Coordinator) querySync(ctx context.Context, block QueryBlock) error {
	if s := scopeFrom(ctx); s.open() {
		if s.kind == scopeWrite {
			return scopeViolation("read issued inside a mutation block")
		}
		return block(ctx, s.qc)
	}
	if err := c.queue.acquire(ctx, false); err != nil {
		return err
	}
	defer c.queue.release(false)
	return c.read(ctx, block)
}

// QueryAsync schedules block as a read and returns immediately.
func (c *Coordinator) QueryAsync(ctx context.Context, block QueryBlock) *Handle {
	h := c.newHandle()
	s, dctx := h.s, detach(ctx)
	c.queue.submit(false, func() { s.finish(c.read(dctx, block)) })
	return h
}

// Query runs block as a read and returns its value.
func Query[T any](ctx context.Context, c *Coordinator, block func(ctx context.Context, qc *QueryContext) (T, error)) (T, error) {
	var out T
	err := c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		v, err := block(ctx, qc)
		out = v
		return err
	}).Wait()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (c *Coordinator) read(ctx context.Context, block QueryBlock) (err error) {
	if c.closed.Load() {
		return ErrClosed
	}
	qc := newQueryContext(c, c.master.NewChild(), scopeRead)
	defer qc.close()
	defer func() { c.metrics.observeOperation("query", err) }()
	return block(withScope(ctx, &scope{kind: scopeRead, qc: qc}), qc)
}

// MutateSync runs block as a mutation and returns once its changes were
// committed and announced. It fails with ErrScopeViolation when ctx belongs
// to a running block, since waiting for the barrier there would deadlock.
func (c *Coordinator) MutateSync(ctx context.Context, block MutationBlock) *Handle {
	h := c.newHandle()
	h.s.finish(c.mutateSync(ctx, block))
	return h
}

func (c *Coordinator) mutateSync(ctx context.Context, block MutationBlock) error {
	if s := scopeFrom(ctx); s.open() {
		return scopeViolation("mutation issued inside a %s block", s.kind)
	}
	if err := c.queue.acquire(ctx, true); err != nil {
		return err
	}
	defer c.queue.release(true)
	return c.mutate(ctx, block)
}

// MutateAsync schedules block as a mutation and returns immediately.
func (c *Coordinator) MutateAsync(ctx context.Context, block MutationBlock) *Handle {
	h := c.newHandle()
	s, dctx := h.s, detach(ctx)
	c.queue.submit(true, func() { s.finish(c.mutate(dctx, block)) })
	return h
}

// Mutate runs block as a mutation and returns the committed value. Returning
// ErrAborted from block discards the changes; Mutate then returns
// ErrAborted.
func Mutate[T any](ctx context.Context, c *Coordinator, block func(ctx context.Context, w *WriteContext) (T, error)) (T, error) {
	var out T
	h := c.MutateSync(ctx, func(ctx context.Context, w *WriteContext) (Outcome, error) {
		v, err := block(ctx, w)
		if err != nil {
			return Outcome{}, err
		}
		out = v
		return Commit(v), nil
	})
	var zero T
	if err := h.Wait(); err != nil {
		return zero, err
	}
	if h.Aborted() {
		return zero, ErrAborted
	}
	return out, nil
}

// Export returns every committed record. The store must implement
// domain.Archiver.
func (c *Coordinator) Export(ctx context.Context) ([]domain.Record, error) {
	return Query(ctx, c, func(ctx context.Context, _ *QueryContext) ([]domain.Record, error) {
		a, err := c.archiver()
		if err != nil {
			return nil, err
		}
		records, err := a.Export(ctx)
		if err != nil {
			return nil, underlying("export", err)
		}
		return records, nil
	})
}

// Import replaces the committed state with records under the barrier. The
// cache is purged and listeners are not notified.
func (c *Coordinator) Import(ctx context.Context, records []domain.Record) error {
	if s := scopeFrom(ctx); s.open() {
		return scopeViolation("import issued inside a %s block", s.kind)
	}
	if err := c.queue.acquire(ctx, true); err != nil {
		return err
	}
	defer c.queue.release(true)
	if c.closed.Load() {
		return ErrClosed
	}
	a, err := c.archiver()
	if err != nil {
		return err
	}
	c.master.Reset()
	if err := a.Import(ctx, records); err != nil {
		return underlying("import", err)
	}
	c.cache.purge()
	c.logger.Info("imported records", "count", len(records))
	return nil
}

var errNotArchiver = errors.New("slate: store does not support export and import")

func (c *Coordinator) archiver() (domain.Archiver, error) {
	a, ok := c.store.(domain.Archiver)
	if !ok {
		return nil, errNotArchiver
	}
	return a, nil
}

// OnUncaughtError registers fn for errors whose Handle was dropped without
// consuming them. Without registered handlers such errors are logged.
func (c *Coordinator) OnUncaughtError(fn func(error)) (cancel func()) {
	c.uncaughtMu.Lock()
	defer c.uncaughtMu.Unlock()
	if c.uncaught == nil {
		c.uncaught = make(map[uint64]func(error))
	}
	c.nextUncaught++
	id := c.nextUncaught
	c.uncaught[id] = fn
	return func() {
		c.uncaughtMu.Lock()
		defer c.uncaughtMu.Unlock()
		delete(c.uncaught, id)
	}
}

func (c *Coordinator) reportUncaught(err error) {
	c.metrics.uncaughtError()
	c.uncaughtMu.Lock()
	handlers := make([]func(error), 0, len(c.uncaught))
	for _, fn := range c.uncaught {
		handlers = append(handlers, fn)
	}
	c.uncaughtMu.Unlock()
	if len(handlers) == 0 {
		c.logger.Error("uncaught transaction error", "error", err)
		return
	}
	for _, fn := range handlers {
		fn(err)
	}
}

func (c *Coordinator) newHandle() *Handle {
	return newHandle(c.reportUncaught)
}
