package rules

import "time"

// Slot is one position in a resolved execution order
type Slot struct {
	Member   Member
	Priority int
}

// OrderEntry is a resolved order together with the revisions it was
// computed from
type OrderEntry struct {
	Slots             []Slot
	RulebookRevision  uint64
	SequencerRevision uint64
}

// OrderCache holds resolved execution orders per rulebook so that ordering
// and cycle detection only run when membership or constraints change.
// This allows swapping between in-memory or other caching implementations.
type OrderCache interface {
	// Get retrieves the cached order, returns false on a miss or expiry
	Get(rulebookID string) (OrderEntry, bool)

	// Set stores the order for a rulebook
	Set(rulebookID string, entry OrderEntry)

	// Invalidate drops one rulebook's order, forcing a recompute on next Get
	Invalidate(rulebookID string)

	// InvalidateAll drops every cached order
	InvalidateAll()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (revision-based invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults for order caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - orders only go stale on mutation
	}
}
