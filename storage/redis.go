package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/sdn-path-cache/types"
)

// PoolOptions bounds the connection pool shared by every store operation.
type PoolOptions struct {
	// MaxTotal is the maximum number of open connections.
	MaxTotal int
	// MaxIdle is the maximum number of idle connections kept around.
	MaxIdle int
	// MinIdle is the number of idle connections kept warm.
	MinIdle int
	// WaitTimeout bounds how long an operation waits for a free connection.
	WaitTimeout time.Duration
}

// StoreOptions configures a RedisStore.
type StoreOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	// IOTimeout bounds a single read or write round trip.
	IOTimeout time.Duration
	Pool      PoolOptions
}

// RedisStore implements the Store interface using Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-based store and verifies connectivity.
func NewRedisStore(opts StoreOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.IOTimeout,
		WriteTimeout: opts.IOTimeout,
		PoolSize:     opts.Pool.MaxTotal,
		MaxIdleConns: opts.Pool.MaxIdle,
		MinIdleConns: opts.Pool.MinIdle,
		PoolTimeout:  opts.Pool.WaitTimeout,
	})

	// Test connection
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, classify(err)
	}

	return &RedisStore{
		client: client,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes
// ownership and closes it on Close.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get retrieves a value from Redis.
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, classify(err)
	}
	return val, nil
}

// Set stores a value in Redis with no expiry, replacing any previous value.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return classify(rs.client.Set(ctx, key, value, 0).Err())
}

// Clear removes all values from the selected Redis database. The database
// is dedicated to the path cache.
func (rs *RedisStore) Clear(ctx context.Context) error {
	return classify(rs.client.FlushDB(ctx).Err())
}

// Close closes the Redis connection pool.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() *redis.Client {
	return rs.client
}

// PoolStats returns connection pool statistics.
func (rs *RedisStore) PoolStats() *redis.PoolStats {
	return rs.client.PoolStats()
}

// classify maps go-redis failures onto the cache error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrPoolTimeout), errors.Is(err, redis.ErrPoolExhausted):
		return fmt.Errorf("%w: %v", types.ErrPoolExhausted, err)
	default:
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
}

// ErrNotFound is returned when a key is not found.
var ErrNotFound = errors.New("key not found in redis")
