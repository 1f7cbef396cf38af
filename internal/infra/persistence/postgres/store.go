// Package postgres persists committed object-store state to PostgreSQL, one
// JSONB payload per entity bucket.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"slate/internal/infra/persistence/memory"
	"slate/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ memory.Persister = (*Persister)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/slate?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Persister writes the memory store's state to a Postgres table.
type Persister struct {
	db *sql.DB
	mu sync.Mutex
}

// Open connects using dsn (falls back to defaultDSN) and ensures the state table exists.
func Open(ctx context.Context, dsn string) (*Persister, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Persister{db: db}, nil
}

// NewStore opens a memory store hydrated from, and persisting to, Postgres.
func NewStore(ctx context.Context, dsn string, model *domain.Model) (*memory.Store, error) {
	p, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s, err := memory.Open(ctx, model, p)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Load reads every bucket.
func (p *Persister) Load(ctx context.Context) (memory.Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := make(memory.Snapshot)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		records, err := memory.DecodeBucket(bucket, payload)
		if err != nil {
			return nil, err
		}
		snap[bucket] = records
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	return snap, nil
}

// Persist rewrites the buckets touched by delta inside one transaction.
func (p *Persister) Persist(ctx context.Context, next memory.Snapshot, delta memory.Delta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range delta.Entities() {
		records := next[bucket]
		if len(records) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM state WHERE bucket=$1`, bucket); err != nil {
				return fmt.Errorf("delete %s: %w", bucket, err)
			}
			continue
		}
		data, err := memory.EncodeBucket(records)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state (bucket, payload) VALUES ($1,$2) ON CONFLICT (bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close closes the connection pool.
func (p *Persister) Close() error { return p.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (p *Persister) DB() *sql.DB { return p.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
