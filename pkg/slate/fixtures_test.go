package slate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"slate/pkg/domain"
)

var libraryModel = domain.MustModel(
	domain.EntityModel{
		Name: "Author",
		Attributes: []domain.Attribute{
			{Name: "name", Type: domain.TypeString},
			{Name: "count", Type: domain.TypeInt, Optional: true},
		},
		Relationships: []domain.Relationship{
			{Name: "books", Destination: "Book", Inverse: "author", ToMany: true, Ordered: true, DeleteRule: domain.DeleteCascade},
		},
	},
	domain.EntityModel{
		Name:       "Book",
		Attributes: []domain.Attribute{{Name: "title", Type: domain.TypeString}},
		Relationships: []domain.Relationship{
			{Name: "author", Destination: "Author", Inverse: "books"},
		},
	},
)

type author struct {
	id    domain.ID
	Name  string
	Count int64
}

func (a *author) SlateID() domain.ID { return a.id }

type book struct {
	id    domain.ID
	Title string
}

func (b *book) SlateID() domain.ID { return b.id }

type fixture struct {
	c       *Coordinator
	authors *Entity[*author]
	books   *Entity[*book]
}

func newRegistry() (*Registry, *Entity[*author], *Entity[*book]) {
	reg := NewRegistry()
	authors := Register(reg, "Author", func(o *domain.Object) *author {
		return &author{id: o.ID(), Name: o.String("name"), Count: o.Int("count")}
	})
	books := Register(reg, "Book", func(o *domain.Object) *book {
		return &book{id: o.ID(), Title: o.String("title")}
	})
	return reg, authors, books
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg, authors, books := newRegistry()
	c := New(reg, opts...)
	require.NoError(t, c.Configure(context.Background(), libraryModel, StoreDescription{Driver: DriverMemory}))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return &fixture{c: c, authors: authors, books: books}
}

// seed inserts one author per name and returns their permanent identities.
func (f *fixture) seed(t *testing.T, names ...string) []domain.ID {
	t.Helper()
	objects, err := Mutate(context.Background(), f.c, func(_ context.Context, w *WriteContext) ([]*domain.Object, error) {
		var out []*domain.Object
		for _, name := range names {
			o, err := f.authors.Create(w)
			if err != nil {
				return nil, err
			}
			if err := o.Set("name", name); err != nil {
				return nil, err
			}
			out = append(out, o)
		}
		return out, nil
	})
	require.NoError(t, err)
	ids := make([]domain.ID, len(objects))
	for i, o := range objects {
		require.False(t, o.ID().IsTemporary())
		ids[i] = o.ID()
	}
	return ids
}

func (f *fixture) author(t *testing.T, id domain.ID) *author {
	t.Helper()
	a, err := Query(context.Background(), f.c, func(ctx context.Context, qc *QueryContext) (*author, error) {
		return f.authors.Get(ctx, qc, id)
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) authorNames(t *testing.T) []string {
	t.Helper()
	names, err := Query(context.Background(), f.c, func(ctx context.Context, qc *QueryContext) ([]string, error) {
		all, err := f.authors.Query(qc).Sort("name", true).Fetch(ctx)
		var out []string
		for _, a := range all {
			out = append(out, a.Name)
		}
		return out, err
	})
	require.NoError(t, err)
	return names
}

func rename(w *WriteContext, id domain.ID, name string) error {
	o, err := w.Object(id)
	if err != nil {
		return err
	}
	return o.Set("name", name)
}
