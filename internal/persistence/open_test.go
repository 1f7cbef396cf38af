package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"slate/internal/infra/persistence/memory"
	"slate/pkg/domain"
)

var model = domain.MustModel(domain.EntityModel{
	Name:       "Item",
	Attributes: []domain.Attribute{{Name: "sku", Type: domain.TypeString}},
})

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, model, Description{})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	dir := t.TempDir()
	for _, d := range []Description{
		{Driver: DriverSQLite, Location: filepath.Join(dir, "slate.db")},
		{Driver: DriverBadger, Location: filepath.Join(dir, "badger")},
	} {
		store, err := Open(ctx, model, d)
		if err != nil {
			t.Skipf("%s unavailable: %v", d.Driver, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close %s: %v", d.Driver, err)
		}
	}

	if _, err := Open(ctx, model, Description{Driver: "etcd"}); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected unknown driver, got %v", err)
	}
}

func TestDescriptionKey(t *testing.T) {
	if (Description{Driver: DriverMemory}).RequiresLocation() {
		t.Fatalf("memory must not require a location")
	}
	if !(Description{Driver: DriverPostgres}).RequiresLocation() {
		t.Fatalf("postgres requires a location")
	}
	rel := Description{Driver: DriverSQLite, Location: "data/slate.db"}
	abs, _ := filepath.Abs("data/slate.db")
	if rel.Key() != "sqlite:"+abs {
		t.Fatalf("expected absolute key, got %s", rel.Key())
	}
	dsn := Description{Driver: DriverPostgres, Location: "postgres://db/slate"}
	if dsn.Key() != "postgres:postgres://db/slate" {
		t.Fatalf("unexpected key %s", dsn.Key())
	}
}
