package slate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"slate/pkg/domain"
)

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, "counter")[0]

	const n = 64
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			return f.c.MutateSync(context.Background(), func(_ context.Context, w *WriteContext) (Outcome, error) {
				o, err := w.Object(id)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{}, o.Set("count", o.Int("count")+1)
			}).Wait()
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(n), f.author(t, id).Count)
}

func TestReadAfterWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "X")

	var matches []*author
	err := f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		var err error
		matches, err = f.authors.Query(qc).Filter(domain.Eq("name", "X")).Fetch(ctx)
		return err
	}).Wait()
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "X", matches[0].Name)
}

func TestReadsNeverObserveConcurrentMutation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A")
	ctx := context.Background()

	started, release := make(chan struct{}), make(chan struct{})
	var before, after int
	read := f.c.QueryAsync(ctx, func(ctx context.Context, qc *QueryContext) error {
		var err error
		if before, err = f.authors.Query(qc).Count(ctx); err != nil {
			return err
		}
		close(started)
		<-release
		after, err = f.authors.Query(qc).Count(ctx)
		return err
	})
	<-started

	write := f.c.MutateAsync(ctx, func(_ context.Context, w *WriteContext) (Outcome, error) {
		o, err := w.Create("Author")
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{}, o.Set("name", "B")
	})
	var late int
	lateRead := f.c.QueryAsync(ctx, func(ctx context.Context, qc *QueryContext) error {
		var err error
		late, err = f.authors.Query(qc).Count(ctx)
		return err
	})

	select {
	case <-write.Done():
		t.Fatal("mutation ran while a read was in flight")
	case <-lateRead.Done():
		t.Fatal("read overtook a pending mutation")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	require.NoError(t, read.Wait())
	require.NoError(t, write.Wait())
	require.NoError(t, lateRead.Wait())
	assert.Equal(t, 1, before)
	assert.Equal(t, before, after)
	assert.Equal(t, 2, late)
}

func TestCacheReturnsSameSnapshotUntilUpdated(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, "Ada")[0]

	first := f.author(t, id)
	second := f.author(t, id)
	assert.Same(t, first, second)

	require.NoError(t, f.c.MutateSync(context.Background(), func(_ context.Context, w *WriteContext) (Outcome, error) {
		return Outcome{}, rename(w, id, "Ada L.")
	}).Wait())

	third := f.author(t, id)
	assert.NotSame(t, first, third)
	assert.Equal(t, "Ada", first.Name, "snapshots are immutable")
	assert.Equal(t, "Ada L.", third.Name)
	assert.Same(t, third, f.author(t, id))
}

func TestCacheUpdatesOnlyExistingEntries(t *testing.T) {
	c := newObjectCache(nil)
	a := &author{id: "a", Name: "old"}
	c.getOrCreate("a", func() Snapshot { return a })

	c.apply(
		map[domain.ID]Snapshot{"a": &author{id: "a", Name: "new"}, "b": &author{id: "b"}},
		map[domain.ID]Snapshot{"c": &author{id: "c"}},
		nil,
	)
	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "new", got.(*author).Name)
	_, ok = c.get("b")
	assert.False(t, ok, "update must not create entries")
	_, ok = c.get("c")
	assert.True(t, ok)

	c.apply(nil, nil, []domain.ID{"a", "c"})
	assert.Equal(t, 0, c.len())
}

type countingListener struct {
	name  string
	calls *atomic.Int32
	last  *MutationResult
}

func (l *countingListener) HandleMutation(_ context.Context, r *MutationResult) {
	l.calls.Add(1)
	l.last = r
}

func TestAbortLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	calls := new(atomic.Int32)
	l := &countingListener{name: "abort", calls: calls}
	AddListener(f.c, l)

	caught := false
	h := f.c.MutateSync(ctx, func(_ context.Context, w *WriteContext) (Outcome, error) {
		o, err := w.Create("Author")
		if err != nil {
			return Outcome{}, err
		}
		if err := o.Set("name", "X"); err != nil {
			return Outcome{}, err
		}
		return Abort(), nil
	}).Catch(func(error) { caught = true })
	require.NoError(t, h.Wait())
	assert.True(t, h.Aborted())
	assert.False(t, caught)

	_, err := Mutate(ctx, f.c, func(_ context.Context, w *WriteContext) (int, error) {
		if _, err := w.Create("Author"); err != nil {
			return 0, err
		}
		return 0, ErrAborted
	})
	assert.ErrorIs(t, err, ErrAborted)

	assert.Empty(t, f.authorNames(t))
	assert.Zero(t, calls.Load())
	// the master context carries nothing into the next mutation
	f.seed(t, "Y")
	assert.Equal(t, []string{"Y"}, f.authorNames(t))
	require.NotNil(t, l.last)
	ins, _, _ := l.last.Counts()
	assert.Equal(t, 1, ins)
}

func TestBlockErrorResetsMaster(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	err := f.c.MutateSync(context.Background(), func(_ context.Context, w *WriteContext) (Outcome, error) {
		if _, err := w.Create("Author"); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, boom
	}).Wait()
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.authorNames(t))
}

func TestScopeViolations(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A")
	ctx := context.Background()

	var escaped *Request[*author]
	var fromGoroutine error
	require.NoError(t, f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		escaped = f.authors.Query(qc)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, fromGoroutine = escaped.Fetch(context.Background())
		}()
		<-done
		return nil
	}).Wait())
	assert.ErrorIs(t, fromGoroutine, ErrScopeViolation)

	_, err := escaped.Fetch(ctx)
	assert.ErrorIs(t, err, ErrScopeViolation)
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, KindScopeViolation, txErr.Kind)

	t.Run("foreign query context", func(t *testing.T) {
		var other *QueryContext
		require.NoError(t, f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
			other = qc
			return nil
		}).Wait())
		err := f.c.QuerySync(ctx, func(ctx context.Context, _ *QueryContext) error {
			_, err := f.authors.Query(other).Count(ctx)
			return err
		}).Wait()
		assert.ErrorIs(t, err, ErrScopeViolation)
	})

	t.Run("mutation inside read", func(t *testing.T) {
		err := f.c.QuerySync(ctx, func(ctx context.Context, _ *QueryContext) error {
			return f.c.MutateSync(ctx, func(context.Context, *WriteContext) (Outcome, error) {
				return Outcome{}, nil
			}).Wait()
		}).Wait()
		assert.ErrorIs(t, err, ErrScopeViolation)
	})

	t.Run("read inside mutation", func(t *testing.T) {
		err := f.c.MutateSync(ctx, func(ctx context.Context, _ *WriteContext) (Outcome, error) {
			return Outcome{}, f.c.QuerySync(ctx, func(context.Context, *QueryContext) error { return nil }).Wait()
		}).Wait()
		assert.ErrorIs(t, err, ErrScopeViolation)
	})

	t.Run("write context after block", func(t *testing.T) {
		var kept *WriteContext
		require.NoError(t, f.c.MutateSync(ctx, func(_ context.Context, w *WriteContext) (Outcome, error) {
			kept = w
			return Outcome{}, nil
		}).Wait())
		_, err := kept.Create("Author")
		assert.ErrorIs(t, err, ErrScopeViolation)
	})
}

func TestNestedQueryReusesContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.c.QuerySync(ctx, func(ctx context.Context, outer *QueryContext) error {
		assert.True(t, IsInsideQuery(ctx))
		return f.c.QuerySync(ctx, func(ctx context.Context, inner *QueryContext) error {
			assert.Same(t, outer, inner)
			_, err := f.authors.Query(inner).Count(ctx)
			return err
		}).Wait()
	}).Wait()
	require.NoError(t, err)
	assert.False(t, IsInsideQuery(ctx))
}

func TestQueryAsyncDetachesFromCallerScope(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	var inner *Handle
	require.NoError(t, f.c.QuerySync(ctx, func(ctx context.Context, outer *QueryContext) error {
		inner = f.c.QueryAsync(ctx, func(ctx context.Context, qc *QueryContext) error {
			if qc == outer {
				return errors.New("async read reused the caller context")
			}
			return ctx.Err()
		})
		return nil
	}).Wait())
	cancel()
	require.NoError(t, inner.Wait())
}
