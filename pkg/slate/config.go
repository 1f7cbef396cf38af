package slate

import (
	"context"
	"fmt"
	"sync"

	"slate/internal/persistence"
	"slate/pkg/domain"
)

// StoreDescription names the driver and location of the backing store.
type StoreDescription = persistence.Description

// Storage drivers accepted by Configure.
const (
	DriverMemory   = persistence.DriverMemory
	DriverSQLite   = persistence.DriverSQLite
	DriverPostgres = persistence.DriverPostgres
	DriverBadger   = persistence.DriverBadger
)

var openStore = persistence.Open

// locations holds the storage locations opened by any coordinator in the
// process.
var locations = struct {
	mu    sync.Mutex
	inUse map[string]struct{}
}{inUse: make(map[string]struct{})}

func reserveLocation(key string) bool {
	locations.mu.Lock()
	defer locations.mu.Unlock()
	if _, ok := locations.inUse[key]; ok {
		return false
	}
	locations.inUse[key] = struct{}{}
	return true
}

func releaseLocation(key string) {
	if key == "" {
		return
	}
	locations.mu.Lock()
	defer locations.mu.Unlock()
	delete(locations.inUse, key)
}

// Configure opens the store described by desc and starts admitting work.
// Registered entities must exist in model.
func (c *Coordinator) Configure(ctx context.Context, model *domain.Model, desc StoreDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.configurableLocked(); err != nil {
		return err
	}
	if desc.RequiresLocation() && desc.Location == "" {
		return ErrStorageLocationRequired
	}
	if err := c.registry.validate(model); err != nil {
		return err
	}
	var key string
	if desc.RequiresLocation() {
		key = desc.Key()
		if !reserveLocation(key) {
			return fmt.Errorf("%w: %s", ErrStorageLocationInUse, desc.Location)
		}
	}
	store, err := openStore(ctx, model, desc)
	if err != nil {
		releaseLocation(key)
		return fmt.Errorf("slate: open %s store: %w", driverName(desc), err)
	}
	c.attachLocked(store, key)
	c.logger.Info("slate configured", "driver", driverName(desc), "location", desc.Location)
	return nil
}

// ConfigureAsync runs Configure on a new goroutine and passes its result to
// completion.
func (c *Coordinator) ConfigureAsync(ctx context.Context, model *domain.Model, desc StoreDescription, completion func(error)) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		err := c.Configure(ctx, model, desc)
		if completion != nil {
			completion(err)
		}
	}()
}

// ConfigureStore starts admitting work against an already opened store.
func (c *Coordinator) ConfigureStore(store domain.PersistentStore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.configurableLocked(); err != nil {
		return err
	}
	c.attachLocked(store, "")
	return nil
}

func (c *Coordinator) configurableLocked() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.configured {
		return ErrAlreadyConfigured
	}
	return nil
}

func (c *Coordinator) attachLocked(store domain.PersistentStore, key string) {
	c.store = store
	c.master = store.NewMasterContext()
	c.location = key
	c.configured = true
	c.queue.activate()
}

// Close waits for running work, closes the store and releases its location.
// Work admitted afterwards fails with ErrClosed.
func (c *Coordinator) Close(ctx context.Context) error {
	if s := scopeFrom(ctx); s.open() {
		return scopeViolation("close issued inside a %s block", s.kind)
	}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return nil
	}
	if !c.configured {
		c.closed.Store(true)
		c.queue.activate()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.queue.acquire(ctx, true); err != nil {
		return err
	}
	defer c.queue.release(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}
	c.cache.purge()
	releaseLocation(c.location)
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("slate: close store: %w", err)
	}
	c.logger.Info("slate closed")
	return nil
}

func driverName(desc StoreDescription) persistence.Driver {
	if desc.Driver == "" {
		return DriverMemory
	}
	return desc.Driver
}
