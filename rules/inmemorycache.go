package rules

import (
	"sync"
	"time"
)

type cachedOrder struct {
	entry    OrderEntry
	cachedAt time.Time
}

// InMemoryOrderCache is a simple in-memory implementation of OrderCache
// Thread-safe for concurrent access
type InMemoryOrderCache struct {
	orders map[string]cachedOrder
	config CacheConfig
	mu     sync.RWMutex
}

// NewInMemoryOrderCache creates a new in-memory order cache
func NewInMemoryOrderCache(config CacheConfig) *InMemoryOrderCache {
	return &InMemoryOrderCache{
		orders: make(map[string]cachedOrder),
		config: config,
	}
}

// Get retrieves a cached order
// Returns false if nothing is cached or the entry expired
func (c *InMemoryOrderCache) Get(rulebookID string) (OrderEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.orders[rulebookID]
	if !ok {
		return OrderEntry{}, false
	}

	// Check TTL if configured
	if c.config.TTL > 0 && time.Since(cached.cachedAt) > c.config.TTL {
		return OrderEntry{}, false
	}

	// Return copy to prevent external modifications
	entry := cached.entry
	entry.Slots = make([]Slot, len(cached.entry.Slots))
	copy(entry.Slots, cached.entry.Slots)
	return entry, true
}

// Set stores an order in cache
func (c *InMemoryOrderCache) Set(rulebookID string, entry OrderEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy to prevent external modifications
	slots := make([]Slot, len(entry.Slots))
	copy(slots, entry.Slots)
	entry.Slots = slots
	c.orders[rulebookID] = cachedOrder{entry: entry, cachedAt: time.Now()}
}

// Invalidate clears one rulebook's entry
func (c *InMemoryOrderCache) Invalidate(rulebookID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.orders, rulebookID)
}

// InvalidateAll clears the cache
func (c *InMemoryOrderCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = make(map[string]cachedOrder)
}
