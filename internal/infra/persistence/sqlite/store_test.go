package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"slate/pkg/domain"
)

var noteModel = domain.MustModel(domain.EntityModel{
	Name: "Note",
	Attributes: []domain.Attribute{
		{Name: "body", Type: domain.TypeString},
		{Name: "rank", Type: domain.TypeInt, Optional: true},
	},
})

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := NewStore(ctx, path, noteModel)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	master := store.NewMasterContext()
	note, err := master.Create("Note")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := note.SetValues(map[string]any{"body": "persist me", "rank": 3}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := master.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	id := note.ID()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(ctx, path, noteModel)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	got, err := reloaded.NewMasterContext().Object(id)
	if err != nil {
		t.Fatalf("object after reload: %v", err)
	}
	if got.String("body") != "persist me" || got.Value("rank") != int64(3) {
		t.Fatalf("unexpected reloaded record %+v", got.Record())
	}

	// deleting the last note removes the bucket row
	master = reloaded.NewMasterContext()
	if err := master.Delete(got); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := master.Save(ctx); err != nil {
		t.Fatalf("save delete: %v", err)
	}
	p, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	var rows int
	if err := p.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected empty state table, got %d rows", rows)
	}
	if p.Path() != path {
		t.Fatalf("unexpected path %s", p.Path())
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
