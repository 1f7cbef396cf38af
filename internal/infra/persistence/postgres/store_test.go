package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"slate/internal/infra/persistence/memory"
	"slate/internal/infra/persistence/postgres/testutil"
	"slate/pkg/domain"
)

var noteModel = domain.MustModel(domain.EntityModel{
	Name:       "Note",
	Attributes: []domain.Attribute{{Name: "body", Type: domain.TypeString}},
})

func useStub(t *testing.T) *testutil.StubConn {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	return conn
}

func TestNewStoreCreatesTableAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	conn := useStub(t)

	store, err := NewStore(ctx, "", noteModel)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS state") {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
	master := store.NewMasterContext()
	note, _ := master.Create("Note")
	if err := note.Set("body", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := master.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(conn.Tables["state"]) != 1 || conn.Commits != 1 {
		t.Fatalf("expected one bucket row committed, got %v (commits %d)", conn.Tables["state"], conn.Commits)
	}

	reloaded, err := NewStore(ctx, "", noteModel)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.NewMasterContext().Object(note.ID())
	if err != nil || got.String("body") != "hello" {
		t.Fatalf("reloaded note mismatch: %v %v", got, err)
	}
}

func TestPersistFailureRollsBackAndKeepsState(t *testing.T) {
	ctx := context.Background()
	conn := useStub(t)
	store, err := NewStore(ctx, "", noteModel)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailOn = []string{"INSERT INTO state"}
	master := store.NewMasterContext()
	note, _ := master.Create("Note")
	_ = note.Set("body", "lost")
	if err := master.Save(ctx); err == nil {
		t.Fatalf("expected persist failure")
	}
	if conn.Rollbacks == 0 {
		t.Fatalf("expected rollback")
	}
	if n, _ := master.NewChild().Count(domain.FetchRequest{Entity: "Note"}); n != 0 {
		t.Fatalf("failed persist must not publish state, saw %d notes", n)
	}
}

func TestPersistDeletesEmptyBuckets(t *testing.T) {
	ctx := context.Background()
	conn := useStub(t)
	p, err := Open(ctx, "postgres://example/slate")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := domain.Record{ID: "n1", Entity: "Note", Attributes: map[string]any{"body": "x"}}
	next := memory.Snapshot{"Note": {"n1": rec}}
	if err := p.Persist(ctx, next, memory.Delta{Upserted: []domain.Record{rec}}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := p.Persist(ctx, memory.Snapshot{}, memory.Delta{Deleted: []domain.Record{rec}}); err != nil {
		t.Fatalf("persist delete: %v", err)
	}
	if len(conn.Tables["state"]) != 0 {
		t.Fatalf("expected bucket row removed, got %v", conn.Tables["state"])
	}
	if p.DB() == nil {
		t.Fatalf("expected db handle")
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := Open(ctx, ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	conn := useStub(t)
	conn.FailPing = true
	if _, err := Open(ctx, ""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
	conn = useStub(t)
	conn.FailOn = []string{"SELECT"}
	if _, err := NewStore(ctx, "", noteModel); err == nil {
		t.Fatalf("expected load failure")
	}
}
