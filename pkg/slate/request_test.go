package slate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slate/pkg/domain"
)

// seedLibrary creates one author with three ordered books.
func seedLibrary(t *testing.T, f *fixture) (domain.ID, []domain.ID) {
	t.Helper()
	type ids struct {
		author *domain.Object
		books  []*domain.Object
	}
	got, err := Mutate(context.Background(), f.c, func(_ context.Context, w *WriteContext) (ids, error) {
		a, err := f.authors.Create(w)
		if err != nil {
			return ids{}, err
		}
		if err := a.Set("name", "Le Guin"); err != nil {
			return ids{}, err
		}
		out := ids{author: a}
		for _, title := range []string{"Wizard", "Tombs", "Shore"} {
			b, err := f.books.Create(w)
			if err != nil {
				return ids{}, err
			}
			if err := b.Set("title", title); err != nil {
				return ids{}, err
			}
			if err := a.Add("books", b); err != nil {
				return ids{}, err
			}
			out.books = append(out.books, b)
		}
		return out, nil
	})
	require.NoError(t, err)
	bookIDs := make([]domain.ID, len(got.books))
	for i, b := range got.books {
		bookIDs[i] = b.ID()
	}
	return got.author.ID(), bookIDs
}

func TestRequestBuilder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Cid", "Ada", "Bea", "Dan")
	ctx := context.Background()

	err := f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		page, err := f.authors.Query(qc).Sort("name", true).Offset(1).Limit(2).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bea", "Cid"}, names(page))

		either := f.authors.Query(qc).Filter(domain.Eq("name", "Ada")).Or(domain.Eq("name", "Dan")).Sort("name", false)
		n, err := either.Limit(1).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "count ignores limit")

		first, ok, err := either.FetchOne(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Dan", first.Name)

		n, err = f.authors.Query(qc).Filter(domain.Eq("name", "Ada")).And(domain.Eq("name", "Dan")).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, ok, err = f.authors.Query(qc).Filter(domain.Eq("name", "nobody")).FetchOne(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err = qc.Count(ctx, "Author", domain.Contains("name", "d"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return nil
	}).Wait()
	require.NoError(t, err)
}

func names(authors []*author) []string {
	out := make([]string, len(authors))
	for i, a := range authors {
		out[i] = a.Name
	}
	return out
}

func TestResolveRelationships(t *testing.T) {
	f := newFixture(t)
	authorID, bookIDs := seedLibrary(t, f)
	ctx := context.Background()

	err := f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		a, err := f.authors.Get(ctx, qc, authorID)
		require.NoError(t, err)
		books, err := f.books.ResolveMany(ctx, qc, a, "books")
		require.NoError(t, err)
		require.Len(t, books, 3)
		assert.Equal(t, "Wizard", books[0].Title)
		assert.Equal(t, "Shore", books[2].Title)

		owner, ok, err := f.authors.ResolveOne(ctx, qc, books[1], "author")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Same(t, a, owner)

		untyped, err := qc.Resolve(books[0]).One(ctx, "author")
		require.NoError(t, err)
		assert.Same(t, a, untyped)
		many, err := qc.Resolve(a).Many(ctx, "books")
		require.NoError(t, err)
		assert.Same(t, books[0], many[0])
		ids, err := qc.Resolve(a).IDs(ctx, "books")
		require.NoError(t, err)
		assert.Equal(t, bookIDs, ids)

		_, _, err = f.books.ResolveOne(ctx, qc, books[0], "author")
		assert.ErrorIs(t, err, ErrInvalidCast)
		_, err = qc.Resolve(a).One(ctx, "books")
		assert.ErrorIs(t, err, domain.ErrCardinality)
		_, err = qc.Resolve(a).IDs(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrUnknownProperty)
		return nil
	}).Wait()
	require.NoError(t, err)
}

func TestResolveEmptyToOne(t *testing.T) {
	f := newFixture(t)
	_, bookIDs := seedLibrary(t, f)
	ctx := context.Background()
	require.NoError(t, f.c.MutateSync(ctx, func(_ context.Context, w *WriteContext) (Outcome, error) {
		b, err := w.Object(bookIDs[0])
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{}, b.SetToOne("author", nil)
	}).Wait())

	err := f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		b, err := f.books.Get(ctx, qc, bookIDs[0])
		require.NoError(t, err)
		_, ok, err := f.authors.ResolveOne(ctx, qc, b, "author")
		require.NoError(t, err)
		assert.False(t, ok)
		s, err := qc.Resolve(b).One(ctx, "author")
		require.NoError(t, err)
		assert.Nil(t, s)
		return nil
	}).Wait()
	require.NoError(t, err)
}

func TestWriteContextFetchAndDeleteAll(t *testing.T) {
	f := newFixture(t)
	authorID, _ := seedLibrary(t, f)
	f.seed(t, "Other")
	ctx := context.Background()

	var result *MutationResult
	cancel := f.c.Subscribe(func(_ context.Context, r *MutationResult) { result = r })
	defer cancel()

	deleted, err := Mutate(ctx, f.c, func(_ context.Context, w *WriteContext) (int, error) {
		n, err := f.books.Fetch(w).Count()
		if err != nil || n != 3 {
			return 0, err
		}
		first, err := f.books.Fetch(w).Sort("title", true).FetchOne()
		if err != nil {
			return 0, err
		}
		assert.Equal(t, "Shore", first.String("title"))
		return f.books.Fetch(w).Filter(domain.Ne("title", "Wizard")).DeleteAll()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	require.NotNil(t, result)
	cs := f.books.Changes(result)
	assert.Len(t, cs.Deleted, 2)
	assert.Contains(t, f.authors.Changes(result).Updated, authorID, "inverse relationship changed")

	err = f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		a, err := f.authors.Get(ctx, qc, authorID)
		require.NoError(t, err)
		books, err := f.books.ResolveMany(ctx, qc, a, "books")
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Wizard", books[0].Title)
		return nil
	}).Wait()
	require.NoError(t, err)
}

func TestConvertManagedObjects(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "A")
	ctx := context.Background()
	err := f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		snaps, err := f.authors.Query(qc).Fetch(ctx)
		require.NoError(t, err)
		var objects []*domain.Object
		require.NoError(t, qc.use(ctx, func(oc domain.ObjectContext) error {
			objects, err = oc.Fetch(domain.FetchRequest{Entity: "Author"})
			return err
		}))
		converted, err := f.authors.Convert(ctx, qc, objects)
		require.NoError(t, err)
		assert.Same(t, snaps[0], converted[0])
		return nil
	}).Wait()
	require.NoError(t, err)

	var foreign []*domain.Object
	require.NoError(t, f.c.MutateSync(ctx, func(_ context.Context, w *WriteContext) (Outcome, error) {
		var err error
		foreign, err = f.authors.Fetch(w).Fetch()
		return Abort(), err
	}).Wait())
	err = f.c.QuerySync(ctx, func(ctx context.Context, qc *QueryContext) error {
		_, err := f.authors.Convert(ctx, qc, foreign)
		return err
	}).Wait()
	assert.ErrorIs(t, err, ErrScopeViolation)
}
