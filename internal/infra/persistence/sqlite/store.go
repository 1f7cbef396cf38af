// Package sqlite persists committed object-store state to SQLite. Each entity
// bucket is stored as one JSON payload; a commit rewrites only the buckets its
// delta touches.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"slate/internal/infra/persistence/memory"
	"slate/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ memory.Persister = (*Persister)(nil)

// Persister writes the memory store's state to a single SQLite table.
type Persister struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open creates (or reopens) the database at path.
func Open(path string) (*Persister, error) {
	if path == "" {
		return nil, errors.New("sqlite: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Persister{db: db, path: path}, nil
}

// NewStore opens a memory store hydrated from, and persisting to, the
// SQLite database at path.
func NewStore(ctx context.Context, path string, model *domain.Model) (*memory.Store, error) {
	p, err := Open(path)
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
			return nil, fmt.Errorf("scan: %w", err)
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
func (p *Persister) Persist(ctx context.Context, next memory.Snapshot, delta memory.Delta) (retErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range delta.Entities() {
		records := next[bucket]
		if len(records) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM state WHERE bucket=?`, bucket); err != nil {
				return fmt.Errorf("delete %s: %w", bucket, err)
			}
			continue
		}
		data, err := memory.EncodeBucket(records)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (p *Persister) Close() error { return p.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (p *Persister) DB() *sql.DB { return p.db }

// Path returns the configured database path.
func (p *Persister) Path() string { return p.path }
