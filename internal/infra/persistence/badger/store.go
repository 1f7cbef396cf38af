// Package badger persists committed object-store state to BadgerDB. Unlike
// the SQL persisters, which rewrite whole entity buckets, each record is its
// own key, so a commit writes exactly the records in its delta.
//
// Key layout:
//
//	rec/<entity>/<id> -> JSON encoded domain.Record
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"slate/internal/infra/persistence/memory"
	"slate/pkg/domain"
)

var _ memory.Persister = (*Persister)(nil)

const recordPrefix = "rec/"

// Config configures the BadgerDB instance.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. nil silences them.
	Logger *slog.Logger

	// GCInterval controls value log garbage collection. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64

	// MemTableSize bounds the memtable and with it the largest commit Badger
	// accepts in one transaction. Zero keeps Badger's default.
	MemTableSize int64

	// ValueThreshold is the value size above which values go to the value
	// log. It must not exceed 15% of MemTableSize. Zero keeps the default.
	ValueThreshold int64
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for an ephemeral database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Persister writes records to BadgerDB.
type Persister struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Persister, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.MemTableSize > 0 {
		opts = opts.WithMemTableSize(cfg.MemTableSize)
	}
	if cfg.ValueThreshold > 0 {
		opts = opts.WithValueThreshold(cfg.ValueThreshold)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	p := &Persister{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return p, nil
}

// NewStore opens a memory store hydrated from, and persisting to, BadgerDB.
func NewStore(ctx context.Context, cfg Config, model *domain.Model) (*memory.Store, error) {
	p, err := Open(cfg)
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

func recordKey(entity string, id domain.ID) []byte {
	return []byte(recordPrefix + entity + "/" + string(id))
}

// Load scans every record key.
func (p *Persister) Load(ctx context.Context) (memory.Snapshot, error) {
	snap := make(memory.Snapshot)
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(recordPrefix), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := memory.DecodeRecord(val)
				if err != nil {
					return fmt.Errorf("%s: %w", item.Key(), err)
				}
				if snap[rec.Entity] == nil {
					snap[rec.Entity] = make(map[domain.ID]domain.Record)
				}
				snap[rec.Entity][rec.ID] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: load: %w", err)
	}
	return snap, nil
}

// Persist writes the delta in one transaction. A delta larger than Badger's
// transaction limit fails with badger.ErrTxnTooBig and nothing is written;
// raise MemTableSize for larger commits.
func (p *Persister) Persist(_ context.Context, _ memory.Snapshot, delta memory.Delta) error {
	err := p.db.Update(func(txn *badger.Txn) error { return writeDelta(txn, delta) })
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("badger: commit of %d records exceeds the transaction limit: %w", len(delta.Upserted)+len(delta.Deleted), err)
	}
	if err != nil {
		return fmt.Errorf("badger: update: %w", err)
	}
	return nil
}

func writeDelta(w *badger.Txn, delta memory.Delta) error {
	for _, rec := range delta.Deleted {
		if err := w.Delete(recordKey(rec.Entity, rec.ID)); err != nil {
			return err
		}
	}
	for _, rec := range delta.Upserted {
		data, err := memory.EncodeRecord(rec)
		if err != nil {
			return err
		}
		if err := w.Set(recordKey(rec.Entity, rec.ID), data); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the stored record keys. Intended for diagnostics.
func (p *Persister) Keys() ([]string, error) {
	var keys []string
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(recordPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(bytes.Clone(it.Item().Key())))
		}
		return nil
	})
	return keys, err
}

// Close stops garbage collection and closes the database.
func (p *Persister) Close() error {
	if p.stop != nil {
		close(p.stop)
		<-p.done
		p.stop = nil
	}
	return p.db.Close()
}

func (p *Persister) runGC(interval time.Duration, ratio float64) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			err := p.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && p.logger != nil {
				p.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
