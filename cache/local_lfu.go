package cache

import (
	"sync/atomic"

	lfu "github.com/dgraph-io/ristretto"

	"github.com/huykn/sdn-path-cache/types"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// LFUCache is a local LFU cache implementation using ristretto.
type LFUCache struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	rc := &LFUCache{}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
		// Paths are costed by length, not by memory footprint.
		IgnoreInternalCost: true,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&rc.evictions, 1)
		},
	})
	if err != nil {
		return nil, err
	}
	rc.cache = cache
	return rc, nil
}

// Get retrieves a path from the local cache.
func (rc *LFUCache) Get(key string) (types.Path, bool) {
	value, found := rc.cache.Get(key)
	if found {
		if p, ok := value.(types.Path); ok {
			atomic.AddInt64(&rc.hits, 1)
			return p.Clone(), true
		}
	}
	atomic.AddInt64(&rc.misses, 1)
	return nil, false
}

// Set stores a path in the local cache. Ristretto applies sets
// asynchronously, so a Get right after Set may still miss.
func (rc *LFUCache) Set(key string, path types.Path) bool {
	cost := int64(len(path))
	if cost == 0 {
		cost = 1
	}
	return rc.cache.Set(key, path.Clone(), cost)
}

// Delete removes a path from the local cache.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
}

// Clear removes all paths from the local cache.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
		Size:      int64(rc.cache.MaxCost()),
	}
}

// wait blocks until buffered sets have been applied.
func (rc *LFUCache) wait() {
	rc.cache.Wait()
}
