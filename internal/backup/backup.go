// Package backup archives committed store state as blobs. An archive is a
// directory-like key prefix holding one JSON bucket per entity and a
// manifest written last:
//
//	<name>/entities/<entity>.json  -> memory.EncodeBucket payload
//	<name>/manifest.json           -> Manifest
//
// An archive without a manifest is incomplete and is ignored by List and
// refused by Read. A failed Write removes the parts it uploaded; Delete
// clears leftovers of a Write that crashed.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"slate/internal/blob"
	"slate/internal/infra/persistence/memory"
	"slate/pkg/domain"
)

const (
	manifestName       = "manifest.json"
	partsDir           = "entities"
	contentType        = "application/json"
	defaultParallelism = 4
	formatVersion      = 1
)

var (
	// ErrArchiveExists is returned by Write when the name is taken.
	ErrArchiveExists = errors.New("backup: archive already exists")
	// ErrArchiveNotFound is returned when no manifest exists for a name.
	ErrArchiveNotFound = errors.New("backup: archive not found")
	// ErrCorrupt is wrapped when a part disagrees with the manifest.
	ErrCorrupt = errors.New("backup: archive is corrupt")
)

// Source exports committed records. *slate.Coordinator implements it.
type Source interface {
	Export(ctx context.Context) ([]domain.Record, error)
}

// Target replaces committed state. *slate.Coordinator implements it.
type Target interface {
	Import(ctx context.Context, records []domain.Record) error
}

// Part describes one entity bucket of an archive.
type Part struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
	Size    int64  `json:"size_bytes"`
	ETag    string `json:"etag,omitempty"`
}

// Manifest lists the parts of an archive.
type Manifest struct {
	Version  int             `json:"version"`
	Name     string          `json:"name"`
	Created  time.Time       `json:"created"`
	Records  int             `json:"records"`
	Entities map[string]Part `json:"entities"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. nil keeps the default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithParallelism bounds concurrent part transfers.
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithClock overrides the time source used for manifests and default names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager writes and reads archives in one blob store.
type Manager struct {
	store       blob.Store
	logger      *slog.Logger
	parallelism int
	now         func() time.Time
}

// New returns a Manager over store.
func New(store blob.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		logger:      slog.New(slog.DiscardHandler),
		parallelism: defaultParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultName returns a sortable archive name for the current time.
func (m *Manager) DefaultName() string {
	return m.now().UTC().Format("20060102T150405Z")
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return fmt.Errorf("backup: invalid archive name %q", name)
	}
	return nil
}

func partKey(name, entity string) string { return name + "/" + partsDir + "/" + entity + ".json" }
func manifestKey(name string) string { return name + "/" + manifestName }

// Write exports src and stores it as archive name. Parts are uploaded in
// parallel; the manifest is written only after every part succeeded.
func (m *Manager) Write(ctx context.Context, src Source, name string) (Manifest, error) {
	if err := validName(name); err != nil {
		return Manifest{}, err
	}
	if _, err := m.store.Head(ctx, manifestKey(name)); err == nil {
		return Manifest{}, fmt.Errorf("%w: %s", ErrArchiveExists, name)
	} else if !errors.Is(err, blob.ErrNotFound) {
		return Manifest{}, fmt.Errorf("backup: check %s: %w", name, err)
	}

	records, err := src.Export(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("backup: export: %w", err)
	}
	buckets := make(map[string]map[domain.ID]domain.Record)
	for _, rec := range records {
		if buckets[rec.Entity] == nil {
			buckets[rec.Entity] = make(map[domain.ID]domain.Record)
		}
		buckets[rec.Entity][rec.ID] = rec
	}

	manifest := Manifest{
		Version:  formatVersion,
		Name:     name,
		Created:  m.now().UTC(),
		Records:  len(records),
		Entities: make(map[string]Part, len(buckets)),
	}
	var (
		mu       sync.Mutex
		uploaded []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for _, entity := range slices.Sorted(maps.Keys(buckets)) {
		bucket := buckets[entity]
		g.Go(func() error {
			payload, err := memory.EncodeBucket(bucket)
			if err != nil {
				return err
			}
			key := partKey(name, entity)
			info, err := m.store.Put(gctx, key, bytes.NewReader(payload), blob.PutOptions{
				ContentType: contentType,
				Metadata:    map[string]string{"entity": entity},
			})
			if err != nil {
				return fmt.Errorf("backup: write %s: %w", key, err)
			}
			mu.Lock()
			uploaded = append(uploaded, key)
			manifest.Entities[entity] = Part{Key: key, Records: len(bucket), Size: info.Size, ETag: info.ETag}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, m.discard(ctx, name, uploaded, err)
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, m.discard(ctx, name, uploaded, err)
	}
	if _, err := m.store.Put(ctx, manifestKey(name), bytes.NewReader(raw), blob.PutOptions{ContentType: contentType}); err != nil {
		return Manifest{}, m.discard(ctx, name, uploaded, fmt.Errorf("backup: write manifest: %w", err))
	}
	m.logger.Info("backup written",
		slog.String("archive", name),
		slog.Int("records", manifest.Records),
		slog.Int("entities", len(manifest.Entities)),
		slog.String("driver", string(m.store.Driver())),
	)
	return manifest, nil
}

// discard removes the parts of a failed Write and returns cause, joined with
// any cleanup failure. Cleanup outlives cancellation of ctx.
func (m *Manager) discard(ctx context.Context, name string, keys []string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for _, key := range keys {
		if _, err := m.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("backup: remove %s: %w", key, err))
		}
	}
	m.logger.Warn("backup failed", slog.String("archive", name), slog.Int("parts_removed", len(keys)), slog.String("error", cause.Error()))
	return errors.Join(errs...)
}

// Manifest reads the manifest of archive name.
func (m *Manager) Manifest(ctx context.Context, name string) (Manifest, error) {
	if err := validName(name); err != nil {
		return Manifest{}, err
	}
	_, rc, err := m.store.Get(ctx, manifestKey(name))
	if errors.Is(err, blob.ErrNotFound) {
		return Manifest{}, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("backup: read manifest: %w", err)
	}
	defer func() { _ = rc.Close() }()
	var manifest Manifest
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	if manifest.Version != formatVersion {
		return Manifest{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, manifest.Version)
	}
	return manifest, nil
}

// Read loads every record of archive name, verifying part record counts
// against the manifest.
func (m *Manager) Read(ctx context.Context, name string) (Manifest, []domain.Record, error) {
	manifest, err := m.Manifest(ctx, name)
	if err != nil {
		return Manifest{}, nil, err
	}
	entities := slices.Sorted(maps.Keys(manifest.Entities))
	parts := make([][]domain.Record, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for i, entity := range entities {
		part := manifest.Entities[entity]
		g.Go(func() error {
			records, err := m.readPart(gctx, entity, part)
			if err != nil {
				return err
			}
			parts[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Manifest{}, nil, err
	}
	out := make([]domain.Record, 0, manifest.Records)
	for _, p := range parts {
		out = append(out, p...)
	}
	if len(out) != manifest.Records {
		return Manifest{}, nil, fmt.Errorf("%w: manifest lists %d records, parts hold %d", ErrCorrupt, manifest.Records, len(out))
	}
	return manifest, out, nil
}

func (m *Manager) readPart(ctx context.Context, entity string, part Part) ([]domain.Record, error) {
	_, rc, err := m.store.Get(ctx, part.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: part %s: %v", ErrCorrupt, part.Key, err)
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", part.Key, err)
	}
	bucket, err := memory.DecodeBucket(entity, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(bucket) != part.Records {
		return nil, fmt.Errorf("%w: %s holds %d records, manifest lists %d", ErrCorrupt, part.Key, len(bucket), part.Records)
	}
	out := make([]domain.Record, 0, len(bucket))
	for _, id := range slices.Sorted(maps.Keys(bucket)) {
		out = append(out, bucket[id])
	}
	return out, nil
}

// Restore reads archive name and imports it into dst, replacing its state.
func (m *Manager) Restore(ctx context.Context, dst Target, name string) (Manifest, error) {
	manifest, records, err := m.Read(ctx, name)
	if err != nil {
		return Manifest{}, err
	}
	if err := dst.Import(ctx, records); err != nil {
		return Manifest{}, fmt.Errorf("backup: import %s: %w", name, err)
	}
	m.logger.Info("backup restored", slog.String("archive", name), slog.Int("records", len(records)))
	return manifest, nil
}

// List returns the names of complete archives in ascending order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	infos, err := m.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}
	var names []string
	for _, info := range infos {
		if name, ok := strings.CutSuffix(info.Key, "/"+manifestName); ok && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes every blob of archive name, manifest first so a partially
// deleted archive is no longer listed. Incomplete archives are removed too;
// ErrArchiveNotFound means nothing was stored under the name.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	existed, err := m.store.Delete(ctx, manifestKey(name))
	if err != nil {
		return fmt.Errorf("backup: delete manifest: %w", err)
	}
	infos, err := m.store.List(ctx, name+"/")
	if err != nil {
		return fmt.Errorf("backup: list %s: %w", name, err)
	}
	if !existed && len(infos) == 0 {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	for _, info := range infos {
		if _, err := m.store.Delete(ctx, info.Key); err != nil {
			return fmt.Errorf("backup: delete %s: %w", info.Key, err)
		}
	}
	return nil
}
