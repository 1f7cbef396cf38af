package slate

import (
	"sync"

	"slate/pkg/domain"
)

// objectCache maps identities to their latest immutable snapshot. Entries are
// created lazily by readers and replaced or evicted only by the mutation
// pipeline while it holds the barrier.
type objectCache struct {
	mu      sync.Mutex
	entries map[domain.ID]Snapshot
	metrics *Metrics
}

func newObjectCache(m *Metrics) *objectCache {
	return &objectCache{entries: make(map[domain.ID]Snapshot), metrics: m}
}

// getOrCreate returns the cached snapshot for id, building it with factory
// on a miss.
func (c *objectCache) getOrCreate(id domain.ID, factory func() Snapshot) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[id]; ok {
		c.metrics.cacheLookup(true)
		return s
	}
	c.metrics.cacheLookup(false)
	s := factory()
	c.entries[id] = s
	c.metrics.setCacheEntries(len(c.entries))
	return s
}

func (c *objectCache) get(id domain.ID) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[id]
	return s, ok
}

// apply publishes a committed changeset. Updated snapshots replace existing
// entries only; an identity nobody fetched stays absent.
func (c *objectCache) apply(updated, inserted map[domain.ID]Snapshot, deleted []domain.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range updated {
		if _, ok := c.entries[id]; ok {
			c.entries[id] = s
		}
	}
	for id, s := range inserted {
		c.entries[id] = s
	}
	for _, id := range deleted {
		delete(c.entries, id)
	}
	c.metrics.setCacheEntries(len(c.entries))
}

func (c *objectCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.metrics.setCacheEntries(0)
}

func (c *objectCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
