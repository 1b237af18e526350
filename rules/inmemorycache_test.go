package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryOrderCache(t *testing.T) {
	cache := NewInMemoryOrderCache(DefaultCacheConfig())

	_, ok := cache.Get("book")
	assert.False(t, ok)

	entry := OrderEntry{
		Slots:             []Slot{{Member: NewRule("a"), Priority: 5}},
		RulebookRevision:  3,
		SequencerRevision: 1,
	}
	cache.Set("book", entry)

	got, ok := cache.Get("book")
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.RulebookRevision)
	require.Len(t, got.Slots, 1)
	assert.Equal(t, "a", got.Slots[0].Member.ID())

	// Copies are handed out both ways
	entry.Slots[0].Priority = 99
	got.Slots[0].Priority = 42
	again, _ := cache.Get("book")
	assert.Equal(t, 5, again.Slots[0].Priority)

	cache.Invalidate("book")
	_, ok = cache.Get("book")
	assert.False(t, ok)

	cache.Set("a", entry)
	cache.Set("b", entry)
	cache.InvalidateAll()
	_, ok = cache.Get("a")
	assert.False(t, ok)
}

func TestInMemoryOrderCacheTTL(t *testing.T) {
	cache := NewInMemoryOrderCache(CacheConfig{TTL: 10 * time.Millisecond})
	cache.Set("book", OrderEntry{})

	_, ok := cache.Get("book")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get("book")
	assert.False(t, ok)
}
