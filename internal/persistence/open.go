// Package persistence selects an object store implementation for a store
// description.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"slate/internal/infra/persistence/badger"
	"slate/internal/infra/persistence/memory"
	"slate/internal/infra/persistence/postgres"
	"slate/internal/infra/persistence/sqlite"
	"slate/pkg/domain"
)

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server, Location is the DSN
	DriverBadger   Driver = "badger"   // BadgerDB directory
)

// ErrUnknownDriver is returned for drivers Open does not know.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Description describes where a coordinator's store lives.
type Description struct {
	Driver Driver
	// Location is a file path (sqlite), a directory (badger) or a DSN (postgres).
	// Ignored by the memory driver.
	Location string
	// Logger receives driver diagnostics where the driver supports it.
	Logger *slog.Logger
}

// RequiresLocation reports whether the driver needs a Location.
func (d Description) RequiresLocation() bool {
	return d.Driver != DriverMemory && d.Driver != ""
}

// Key identifies the storage location process wide. Two descriptions with
// the same key must not be opened at the same time.
func (d Description) Key() string {
	loc := d.Location
	if d.Driver == DriverSQLite || d.Driver == DriverBadger {
		if abs, err := filepath.Abs(loc); err == nil {
			loc = abs
		}
	}
	return string(d.Driver) + ":" + loc
}

// Open opens the store described by desc. An empty driver selects memory.
func Open(ctx context.Context, model *domain.Model, desc Description) (domain.PersistentStore, error) {
	switch desc.Driver {
	case DriverMemory, "":
		return memory.NewStore(model), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, desc.Location, model)
	case DriverPostgres:
		return postgres.NewStore(ctx, desc.Location, model)
	case DriverBadger:
		cfg := badger.DefaultConfig(desc.Location)
		cfg.Logger = desc.Logger
		return badger.NewStore(ctx, cfg, model)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, desc.Driver)
	}
}
