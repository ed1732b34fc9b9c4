package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_BasicSetGet(t *testing.T) {
	cache := NewLRUCache[string, []byte](100, time.Minute)

	t.Run("Set and Get returns value", func(t *testing.T) {
		cache.Set("key", []byte("value"), 0)
		result, ok := cache.Get("key")
		require.True(t, ok)
		assert.Equal(t, []byte("value"), result)
	})

	t.Run("Get non-existent key returns false", func(t *testing.T) {
		_, ok := cache.Get("non-existent")
		assert.False(t, ok)
	})

	t.Run("Update existing key", func(t *testing.T) {
		cache.Set("update-key", []byte("value1"), 0)
		cache.Set("update-key", []byte("value2"), 0)
		result, ok := cache.Get("update-key")
		require.True(t, ok)
		assert.Equal(t, []byte("value2"), result)
	})
}

func TestLRUCache_Expiry(t *testing.T) {
	cache := NewLRUCache[string, string](10, time.Minute)

	cache.Set("short", "lived", 10*time.Millisecond)
	_, ok := cache.Get("short")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get("short")
	assert.False(t, ok, "expired entry must miss")
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewLRUCache[string, int](3, time.Minute)

	cache.Set("a", 1, 0)
	cache.Set("b", 2, 0)
	cache.Set("c", 3, 0)

	// Touch "a" so "b" becomes the least recently used.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Set("d", 4, 0)

	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry must be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := cache.Get(key)
		assert.True(t, ok, "entry %q must survive", key)
	}
	assert.Equal(t, 3, cache.Len())
}

func TestLRUCache_CapacityBound(t *testing.T) {
	capacity := 5
	cache := NewLRUCache[string, int](capacity, time.Minute)

	for i := 0; i < capacity+1; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), i, 0)
	}

	assert.Equal(t, capacity, cache.Len())
	_, ok := cache.Get("key-0")
	assert.False(t, ok, "oldest entry must be evicted at capacity+1")
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewLRUCache[int, int](100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Set(worker*1000+j, j, 0)
				cache.Get(worker * 1000)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 100)
}
