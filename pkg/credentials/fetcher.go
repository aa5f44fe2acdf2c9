package credentials

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/metrics"
)

// FetchFunc runs one underlying credential flow.
type FetchFunc func(ctx context.Context) (CredentialRecord, error)

// Fetcher is the caching and deduplication layer every provider carries.
// With a cache attached, records live under the provider's cache key and
// survive across provider instances; without one, the freshest record is
// held per instance. Either way concurrent fetches for the same key are
// collapsed by the singleflight group.
type Fetcher struct {
	key   string
	name  string
	cache *Cache // nil disables shared caching

	group singleflight.Group

	// last is the instance-local record used when cache is nil.
	lastMu  sync.Mutex
	last    CredentialRecord
	hasLast bool
}

// NewFetcher builds a layer for the named provider. An empty key marks the
// provider's records as uncacheable. cache may be nil.
func NewFetcher(name, key string, cache *Cache) *Fetcher {
	return &Fetcher{name: name, key: key, cache: cache}
}

// Key returns the current cache key.
func (f *Fetcher) Key() string { return f.key }

// SetKey replaces the cache key after a parameter change. Records stored
// under the old key are left to age out.
func (f *Fetcher) SetKey(key string) { f.key = key }

// Get returns a cached record if it is still fresh, otherwise runs fetch.
func (f *Fetcher) Get(ctx context.Context, fetch FetchFunc) (CredentialRecord, error) {
	now := time.Now()
	if rec, ok := f.lookup(); ok {
		if !rec.IsExpired(now) {
			metrics.ObserveCacheLookup(true)
			logger.Debug("credential cache hit",
				logger.KeyProvider, f.name, logger.KeyCacheKey, f.key,
				logger.KeyExpiry, rec.Expiry)
			return rec, nil
		}
		logger.Debug("cached credentials expired",
			logger.KeyProvider, f.name, logger.KeyExpiry, rec.Expiry)
	}
	metrics.ObserveCacheLookup(false)
	return f.Refresh(ctx, fetch)
}

// Refresh runs fetch through the singleflight group: every concurrent
// caller blocks on the same flight and receives its record or its error.
func (f *Fetcher) Refresh(ctx context.Context, fetch FetchFunc) (CredentialRecord, error) {
	v, err, shared := f.group.Do(f.flightKey(), func() (any, error) {
		started := time.Now()
		rec, err := fetch(ctx)
		if err != nil {
			metrics.ObserveFetch(f.name, "error")
			return CredentialRecord{}, err
		}
		metrics.ObserveFetch(f.name, "ok")
		logger.Info("credentials fetched",
			logger.KeyProvider, f.name,
			logger.KeyExpiry, rec.Expiry,
			logger.KeyDuration, time.Since(started))
		f.store(rec)
		return rec, nil
	})
	if err != nil {
		return CredentialRecord{}, err
	}
	if shared {
		logger.Debug("credential fetch shared with concurrent caller",
			logger.KeyProvider, f.name)
	}
	return v.(CredentialRecord), nil
}

func (f *Fetcher) flightKey() string {
	if f.key != "" {
		return f.key
	}
	// Uncacheable providers still deduplicate within the instance.
	return "instance:" + f.name
}

func (f *Fetcher) lookup() (CredentialRecord, bool) {
	if f.key == "" {
		return CredentialRecord{}, false
	}
	if f.cache != nil {
		return f.cache.Get(f.key)
	}
	f.lastMu.Lock()
	defer f.lastMu.Unlock()
	if f.hasLast {
		return f.last, true
	}
	return CredentialRecord{}, false
}

func (f *Fetcher) store(rec CredentialRecord) {
	if f.key == "" {
		return
	}
	if f.cache != nil {
		f.cache.Put(f.key, rec)
		return
	}
	f.lastMu.Lock()
	f.last = rec
	f.hasLast = true
	f.lastMu.Unlock()
}

// Invalidate drops any stored record so the next Get refreshes.
func (f *Fetcher) Invalidate() {
	if f.cache != nil && f.key != "" {
		f.cache.Delete(f.key)
	}
	f.lastMu.Lock()
	f.hasLast = false
	f.last = CredentialRecord{}
	f.lastMu.Unlock()
}
