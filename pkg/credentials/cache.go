package credentials

import (
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nimbusdw/nimbus-go/internal/logger"
)

// Cache stores records keyed by provider cache key. Entries never expire on
// their own: staleness is decided lazily at read time via IsExpired, so no
// background sweeper runs and a record stays available for inspection right
// up to the moment it is replaced.
type Cache struct {
	store *gocache.Cache
}

// NewCache returns an empty cache with the janitor disabled.
func NewCache() *Cache {
	return &Cache{store: gocache.New(gocache.NoExpiration, 0)}
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// DefaultCache is the process-wide cache shared by providers configured
// with caching enabled and no explicit cache of their own.
func DefaultCache() *Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewCache()
	})
	return defaultCache
}

// Get returns the record under key, if any. Expiry is the caller's problem.
func (c *Cache) Get(key string) (CredentialRecord, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return CredentialRecord{}, false
	}
	return v.(CredentialRecord), true
}

// Put stores rec under key, replacing any previous record.
func (c *Cache) Put(key string, rec CredentialRecord) {
	c.store.Set(key, rec, gocache.NoExpiration)
}

// Delete removes the record under key.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// Flush drops every record. Used on logout and in tests.
func (c *Cache) Flush() {
	n := c.store.ItemCount()
	c.store.Flush()
	logger.Debug("credential cache flushed", "entries", n)
}
