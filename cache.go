// Volatile TTL key-value cache.
//
// Cache is the redis-flavoured sibling of Datastore: unordered keys,
// arbitrary values, per-entry expiry, no log, no indices, no events.
// Entries with a zero TTL live until deleted. A background janitor evicts
// expired entries; Close stops it.
package quire

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache is a concurrent key-value store with per-entry expiry.
type Cache[K comparable, V any] struct {
	c *ttlcache.Cache[K, V]
}

// NewCache returns a running cache. Reads do not extend entry lifetimes.
func NewCache[K comparable, V any]() *Cache[K, V] {
	c := ttlcache.New[K, V](ttlcache.WithDisableTouchOnHit[K, V]())
	go c.Start()
	return &Cache[K, V]{c: c}
}

// Set stores value under key. A zero ttl means no expiry.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c.c.Set(key, value, ttl)
}

// SetNX stores value only when key is absent. Returns true when the
// value was stored.
func (c *Cache[K, V]) SetNX(key K, value V, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	_, found := c.c.GetOrSet(key, value, ttlcache.WithTTL[K, V](ttl))
	return !found
}

// Get returns the value under key, if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	item := c.c.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Del removes key. Deleting an absent key is a no-op.
func (c *Cache[K, V]) Del(key K) {
	c.c.Delete(key)
}

// Len returns the number of unexpired entries.
func (c *Cache[K, V]) Len() int {
	return c.c.Len()
}

// Close stops the eviction janitor.
func (c *Cache[K, V]) Close() error {
	c.c.Stop()
	return nil
}
