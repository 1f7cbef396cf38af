// Package memory provides the in-memory object store behind the slate
// coordinator. Committed state is copy-on-write: every save publishes a new
// state value, so read contexts derived earlier keep observing the version
// they were bound to. An optional Persister makes commits durable.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"slate/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Archiver        = (*Store)(nil)
)

// Snapshot is the committed state grouped by entity bucket. Buckets handed to
// a Persister are shared with the store and must be treated as read-only.
type Snapshot map[string]map[domain.ID]domain.Record

// Count returns the number of records across all buckets.
func (s Snapshot) Count() int {
	n := 0
	for _, b := range s {
		n += len(b)
	}
	return n
}

// Delta lists the records a commit writes and removes.
type Delta struct {
	Upserted []domain.Record
	Deleted  []domain.Record
}

// Entities returns the sorted names of the buckets the delta touches.
func (d Delta) Entities() []string {
	set := make(map[string]struct{})
	for _, r := range d.Upserted {
		set[r.Entity] = struct{}{}
	}
	for _, r := range d.Deleted {
		set[r.Entity] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Persister durably records committed state. Persist is called with the
// complete next state and the delta that produced it; the store publishes the
// next state only when Persist succeeds.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Persist(ctx context.Context, next Snapshot, delta Delta) error
	Close() error
}

type memoryState struct {
	buckets map[string]map[domain.ID]domain.Record
	index   map[domain.ID]string
}

func newMemoryState() memoryState {
	return memoryState{buckets: make(map[string]map[domain.ID]domain.Record), index: make(map[domain.ID]string)}
}

func (s memoryState) lookup(id domain.ID) (domain.Record, bool) {
	entity, ok := s.index[id]
	if !ok {
		return domain.Record{}, false
	}
	rec, ok := s.buckets[entity][id]
	return rec, ok
}

// apply returns a new state with delta applied, copying only touched buckets.
func (s memoryState) apply(delta Delta) memoryState {
	next := memoryState{buckets: maps.Clone(s.buckets), index: maps.Clone(s.index)}
	copied := make(map[string]bool)
	bucket := func(entity string) map[domain.ID]domain.Record {
		if !copied[entity] {
			next.buckets[entity] = maps.Clone(next.buckets[entity])
			if next.buckets[entity] == nil {
				next.buckets[entity] = make(map[domain.ID]domain.Record)
			}
			copied[entity] = true
		}
		return next.buckets[entity]
	}
	for _, r := range delta.Deleted {
		delete(bucket(r.Entity), r.ID)
		delete(next.index, r.ID)
	}
	for _, r := range delta.Upserted {
		bucket(r.Entity)[r.ID] = r
		next.index[r.ID] = r.Entity
	}
	return next
}

func stateFromSnapshot(model *domain.Model, snap Snapshot) (memoryState, error) {
	st := newMemoryState()
	for entity, bucket := range snap {
		em, ok := model.Entity(entity)
		if !ok {
			return memoryState{}, fmt.Errorf("memory: bucket %q: %w", entity, domain.ErrUnknownEntity)
		}
		out := make(map[domain.ID]domain.Record, len(bucket))
		for id, rec := range bucket {
			norm, err := normalizeRecord(em, rec)
			if err != nil {
				return memoryState{}, fmt.Errorf("memory: record %s: %w", id, err)
			}
			norm.ID, norm.Entity = id, entity
			out[id] = norm
			st.index[id] = entity
		}
		st.buckets[entity] = out
	}
	return st, nil
}

// normalizeRecord restores canonical Go values for attributes decoded from JSON.
func normalizeRecord(em *domain.EntityModel, rec domain.Record) (domain.Record, error) {
	out := rec.Clone()
	for name, v := range out.Attributes {
		a, ok := em.Attribute(name)
		if !ok {
			delete(out.Attributes, name)
			continue
		}
		nv, err := domain.NormalizeValue(a.Type, v)
		if err != nil {
			return domain.Record{}, fmt.Errorf("%s.%s: %w", em.Name, name, err)
		}
		out.Attributes[name] = nv
	}
	return out, nil
}

// Store provides the in-memory object store for a schema.
type Store struct {
	mu        sync.RWMutex
	model     *domain.Model
	state     memoryState
	persister Persister
	version   uint64
	master    *objectContext
}

// Option customises a Store.
type Option func(*Store)

// WithPersister makes commits durable through p.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// NewStore constructs an empty store for model.
func NewStore(model *domain.Model, opts ...Option) *Store {
	s := &Store{model: model, state: newMemoryState()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open constructs a store whose initial state is loaded from p.
func Open(ctx context.Context, model *domain.Model, p Persister) (*Store, error) {
	s := NewStore(model, WithPersister(p))
	snap, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: load: %w", err)
	}
	st, err := stateFromSnapshot(model, snap)
	if err != nil {
		return nil, err
	}
	s.state = st
	return s, nil
}

// Model returns the schema the store validates against.
func (s *Store) Model() *domain.Model { return s.model }

// Version returns the number of commits published since the store was created.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// NewMasterContext returns the store's single writable context. Repeated
// calls return the same context.
func (s *Store) NewMasterContext() domain.ObjectContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		s.master = newObjectContext(s, nil)
	}
	return s.master
}

// ExportState clones the committed state.
func (s *Store) ExportState() Snapshot {
	st := s.current()
	out := make(Snapshot, len(st.buckets))
	for entity, bucket := range st.buckets {
		b := make(map[domain.ID]domain.Record, len(bucket))
		for id, rec := range bucket {
			b[id] = rec.Clone()
		}
		out[entity] = b
	}
	return out
}

// ImportState replaces the committed state without consulting the persister.
func (s *Store) ImportState(snap Snapshot) error {
	st, err := stateFromSnapshot(s.model, snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.version++
	if s.master != nil {
		s.master.clear()
	}
	return nil
}

// Export returns every committed record ordered by entity then identity.
func (s *Store) Export(_ context.Context) ([]domain.Record, error) {
	snap := s.ExportState()
	out := make([]domain.Record, 0, snap.Count())
	for _, entity := range slices.Sorted(maps.Keys(snap)) {
		bucket := snap[entity]
		for _, id := range slices.Sorted(maps.Keys(bucket)) {
			out = append(out, bucket[id])
		}
	}
	return out, nil
}

// Import replaces the committed state with records, persisting the change.
// Pending changes of the master context are discarded.
func (s *Store) Import(ctx context.Context, records []domain.Record) error {
	snap := make(Snapshot)
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("memory: import: record without id in %q", r.Entity)
		}
		if snap[r.Entity] == nil {
			snap[r.Entity] = make(map[domain.ID]domain.Record)
		}
		snap[r.Entity][r.ID] = r
	}
	next, err := stateFromSnapshot(s.model, snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var delta Delta
	for _, bucket := range s.state.buckets {
		for id, rec := range bucket {
			if _, ok := next.index[id]; !ok {
				delta.Deleted = append(delta.Deleted, rec)
			}
		}
	}
	for _, bucket := range next.buckets {
		for _, rec := range bucket {
			delta.Upserted = append(delta.Upserted, rec)
		}
	}
	if s.persister != nil {
		if err := s.persister.Persist(ctx, next.buckets, delta); err != nil {
			return fmt.Errorf("memory: import: persist: %w", err)
		}
	}
	s.state = next
	s.version++
	if s.master != nil {
		s.master.clear()
	}
	return nil
}

// Close releases the persister, if any.
func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

func (s *Store) current() memoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// commit publishes delta as the next committed state.
func (s *Store) commit(ctx context.Context, delta Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.apply(delta)
	if s.persister != nil {
		if err := s.persister.Persist(ctx, next.buckets, delta); err != nil {
			return fmt.Errorf("memory: persist: %w", err)
		}
	}
	s.state = next
	s.version++
	return nil
}

// ErrPersisterClosed may be returned by persisters used after Close.
var ErrPersisterClosed = errors.New("persister closed")
