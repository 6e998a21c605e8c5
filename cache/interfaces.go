package cache

import (
	"context"

	"github.com/huykn/sdn-path-cache/types"
)

// Logger defines the interface for logging in the path cache.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// LocalCache defines the interface for the in-process near-cache tier.
type LocalCache interface {
	// Get retrieves a path from the local cache.
	Get(key string) (types.Path, bool)

	// Set stores a path in the local cache.
	Set(key string, path types.Path) bool

	// Delete removes a path from the local cache.
	Delete(key string)

	// Clear removes all paths from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Cache maps canonical flow keys to forwarding paths.
type Cache interface {
	// Lookup returns the cached path for key. It returns types.ErrCacheMiss
	// when nothing usable is stored, types.ErrPoolExhausted when no store
	// connection was available in time and types.ErrStoreUnavailable on
	// transport failures.
	Lookup(ctx context.Context, key string) (types.Path, error)

	// Store replaces the path cached for key. Callers may treat it as
	// fire-and-forget; failures are logged and counted.
	Store(ctx context.Context, key string, path types.Path) error

	// InvalidateAll drops every cached path, locally and on peers.
	InvalidateAll(ctx context.Context) error

	// Close closes the cache and releases all resources.
	Close() error

	// Stats returns cache statistics.
	Stats() Stats
}

// Store defines the interface for remote storage backends (e.g., Redis).
type Store interface {
	// Get retrieves a value from the store.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the store.
	Set(ctx context.Context, key string, value []byte) error

	// Clear removes all values from the store.
	Clear(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Synchronizer defines the interface for near-cache synchronization across
// controller instances.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Action is an alias for types.Action.
type Action = types.Action

// Action constants for synchronization events.
const (
	ActionInvalidate = types.Invalidate
	ActionClear      = types.Clear
)

// Stats represents cache statistics.
type Stats struct {
	LocalHits     int64
	LocalMisses   int64
	RemoteHits    int64
	RemoteMisses  int64
	Malformed     int64
	Errors        int64
	Stores        int64
	Invalidations int64
}
