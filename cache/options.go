package cache

import (
	"time"

	"github.com/google/uuid"
)

// LocalCacheConfig configures the near-cache tier.
type LocalCacheConfig struct {
	// Enabled turns the near-cache on. A near-cache can serve a path that a
	// peer has just invalidated until the clear event arrives, so it is off
	// by default.
	Enabled bool

	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	// Each path costs its number of node ports.
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// Options configures a PathCache instance.
type Options struct {
	// InstanceID identifies this controller instance on the invalidation
	// channel. Used to avoid reacting to our own events.
	InstanceID string

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number. The database must be dedicated
	// to the path cache since InvalidateAll flushes it.
	RedisDB int

	// DialTimeout bounds establishing a new store connection.
	DialTimeout time.Duration

	// PoolMaxTotal is the maximum number of store connections.
	PoolMaxTotal int

	// PoolMaxIdle is the maximum number of idle store connections.
	PoolMaxIdle int

	// PoolMinIdle is the number of idle connections kept warm.
	PoolMinIdle int

	// PoolTimeout bounds the wait for a free pooled connection.
	PoolTimeout time.Duration

	// OperationTimeout bounds each lookup, store and invalidation,
	// including the network round trip.
	OperationTimeout time.Duration

	// InvalidationChannel is the Redis pub/sub channel used to fan out
	// near-cache invalidations.
	InvalidationChannel string

	// SerializationFormat specifies how paths are serialized ("json").
	SerializationFormat string

	// LocalCacheConfig configures the optional near-cache tier.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory creates the near-cache. If nil and the near-cache
	// is enabled, defaults to the Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables per-operation debug logging.
	DebugMode bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		InstanceID:          uuid.NewString(),
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		DialTimeout:         2 * time.Second,
		PoolMaxTotal:        64,
		PoolMaxIdle:         16,
		PoolMinIdle:         0,
		PoolTimeout:         time.Second,
		OperationTimeout:    time.Second,
		InvalidationChannel: "pathcache:invalidate",
		SerializationFormat: "json",
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		LocalCacheFactory:   nil, // Will default to Ristretto in New() when enabled
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
	}
}

// DefaultLocalCacheConfig returns default near-cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		Enabled:     false,
		NumCounters: 1e6,
		MaxCost:     1 << 20,
		BufferItems: 64,
		MaxSize:     100000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.InstanceID == "" {
		return ErrInvalidConfig
	}
	if o.RedisAddr == "" {
		return ErrInvalidConfig
	}
	if o.PoolMaxTotal <= 0 || o.PoolMaxIdle < 0 || o.PoolMinIdle < 0 {
		return ErrInvalidConfig
	}
	if o.PoolMaxIdle > o.PoolMaxTotal || o.PoolMinIdle > o.PoolMaxTotal {
		return ErrInvalidConfig
	}
	// Both waits must be bounded: an unbounded wait would stall the
	// packet-in path.
	if o.PoolTimeout <= 0 || o.OperationTimeout <= 0 {
		return ErrInvalidConfig
	}
	if o.SerializationFormat != "json" {
		return ErrInvalidConfig
	}
	if o.LocalCacheConfig.Enabled {
		if o.InvalidationChannel == "" {
			return ErrInvalidConfig
		}
		if o.LocalCacheFactory == nil && (o.LocalCacheConfig.NumCounters <= 0 || o.LocalCacheConfig.MaxCost <= 0) {
			return ErrInvalidConfig
		}
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
