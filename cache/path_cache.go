package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/huykn/sdn-path-cache/metrics"
	"github.com/huykn/sdn-path-cache/storage"
	cachesync "github.com/huykn/sdn-path-cache/sync"
	"github.com/huykn/sdn-path-cache/types"
)

// PathCache maps canonical flow keys to forwarding paths held in a shared
// Redis database, with an optional in-process near-cache.
type PathCache struct {
	local        LocalCache // nil when the near-cache is disabled
	store        Store
	synchronizer Synchronizer // nil when the near-cache is disabled
	serializer   storage.Serializer
	logger       Logger
	options      Options
	lookups      singleflight.Group

	// localMu orders near-cache fills against clears. generation is bumped
	// on every clear so fills started before it are dropped.
	localMu    sync.RWMutex
	generation uint64

	closed int32
	stats  Stats
}

// New creates a new PathCache instance.
func New(opts Options) (*PathCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewRedisStore(storage.StoreOptions{
		Addr:        opts.RedisAddr,
		Password:    opts.RedisPassword,
		DB:          opts.RedisDB,
		DialTimeout: opts.DialTimeout,
		IOTimeout:   opts.OperationTimeout,
		Pool: storage.PoolOptions{
			MaxTotal:    opts.PoolMaxTotal,
			MaxIdle:     opts.PoolMaxIdle,
			MinIdle:     opts.PoolMinIdle,
			WaitTimeout: opts.PoolTimeout,
		},
	})
	if err != nil {
		return nil, err
	}

	var synchronizer Synchronizer
	if opts.LocalCacheConfig.Enabled {
		synchronizer = cachesync.NewPubSubSynchronizer(store.GetClient(), opts.InvalidationChannel, opts.InstanceID)
	}

	pc, err := newPathCache(opts, store, synchronizer)
	if err != nil {
		store.Close()
		return nil, err
	}
	return pc, nil
}

// NewWithStore creates a PathCache over an existing store. The near-cache
// is only enabled when a synchronizer is supplied, since without one peers
// could never clear it.
func NewWithStore(opts Options, store Store, synchronizer Synchronizer) (*PathCache, error) {
	if synchronizer == nil {
		opts.LocalCacheConfig.Enabled = false
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return newPathCache(opts, store, synchronizer)
}

func newPathCache(opts Options, store Store, synchronizer Synchronizer) (*PathCache, error) {
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	serializer, err := storage.GetSerializer(opts.SerializationFormat)
	if err != nil {
		return nil, err
	}

	pc := &PathCache{
		store:      store,
		serializer: serializer,
		logger:     opts.Logger,
		options:    opts,
	}

	if !opts.LocalCacheConfig.Enabled {
		return pc, nil
	}

	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLFUCacheFactory(opts.LocalCacheConfig)
		pc.options.LocalCacheFactory = opts.LocalCacheFactory
	}
	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}
	pc.local = local
	pc.synchronizer = synchronizer

	// Subscribe to invalidation events
	ctx, cancel := context.WithTimeout(context.Background(), opts.OperationTimeout)
	defer cancel()

	synchronizer.OnInvalidate(pc.handleInvalidation)
	if err := synchronizer.Subscribe(ctx); err != nil {
		synchronizer.Close()
		local.Close()
		return nil, err
	}

	return pc, nil
}

// Lookup retrieves the path cached for key.
func (pc *PathCache) Lookup(ctx context.Context, key string) (types.Path, error) {
	if atomic.LoadInt32(&pc.closed) != 0 {
		return nil, ErrCacheClosed
	}

	if pc.options.DebugMode {
		pc.logger.Debug("Lookup: attempting to retrieve path", "key", key)
	}

	if pc.local != nil {
		if path, found := pc.local.Get(key); found {
			atomic.AddInt64(&pc.stats.LocalHits, 1)
			metrics.RecordLookup(metrics.ResultHit)
			if pc.options.DebugMode {
				pc.logger.Debug("Lookup: found in local cache", "key", key)
			}
			return path, nil
		}
		atomic.AddInt64(&pc.stats.LocalMisses, 1)
	}

	// Concurrent packet-ins of one flow share a single store read. The read
	// is detached from any one caller's cancellation and bounded by
	// OperationTimeout; each caller still stops waiting when its own ctx ends.
	flight := pc.lookups.DoChan(key, func() (any, error) {
		return pc.fetch(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(types.Path).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, ctx.Err())
	}
}

func (pc *PathCache) fetch(ctx context.Context, key string) (types.Path, error) {
	generation := pc.currentGeneration()

	ctx, cancel := context.WithTimeout(ctx, pc.options.OperationTimeout)
	defer cancel()

	data, err := pc.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			atomic.AddInt64(&pc.stats.RemoteMisses, 1)
			metrics.RecordLookup(metrics.ResultMiss)
			if pc.options.DebugMode {
				pc.logger.Debug("Lookup: not found in remote cache", "key", key)
			}
			return nil, types.ErrCacheMiss
		}
		err = normalizeStoreError(err)
		atomic.AddInt64(&pc.stats.Errors, 1)
		if errors.Is(err, types.ErrPoolExhausted) {
			metrics.RecordLookup(metrics.ResultPoolTimeout)
		} else {
			metrics.RecordLookup(metrics.ResultUnavailable)
		}
		pc.reportError(err)
		pc.logger.Warn("Lookup: remote cache read failed", "key", key, "error", err)
		return nil, err
	}

	path, err := pc.serializer.Unmarshal(data)
	if err != nil {
		// A corrupt entry is indistinguishable from an absent one.
		atomic.AddInt64(&pc.stats.Malformed, 1)
		metrics.RecordLookup(metrics.ResultMalformed)
		if pc.options.DebugMode {
			pc.logger.Debug("Lookup: discarding malformed cached path", "key", key, "error", err)
		}
		return nil, types.ErrCacheMiss
	}

	atomic.AddInt64(&pc.stats.RemoteHits, 1)
	metrics.RecordLookup(metrics.ResultHit)
	if pc.options.DebugMode {
		pc.logger.Debug("Lookup: found in remote cache", "key", key, "hops", len(path))
	}

	pc.fillLocal(key, path, generation)
	return path, nil
}

// Store replaces the path cached for key. The store only acknowledges
// receipt of the write; callers may ignore the returned error.
func (pc *PathCache) Store(ctx context.Context, key string, path types.Path) error {
	if atomic.LoadInt32(&pc.closed) != 0 {
		return ErrCacheClosed
	}

	if !path.Installable() {
		metrics.RecordStore(metrics.StoreFailed)
		return fmt.Errorf("store %s: %w (length %d)", key, types.ErrNotInstallable, len(path))
	}

	if pc.options.DebugMode {
		pc.logger.Debug("Store: storing path", "key", key, "hops", len(path))
	}

	data, err := pc.serializer.Marshal(path)
	if err != nil {
		metrics.RecordStore(metrics.StoreFailed)
		pc.reportError(err)
		pc.logger.Error("Store: serialization failed", "key", key, "error", err)
		return err
	}

	generation := pc.currentGeneration()

	opCtx, cancel := context.WithTimeout(ctx, pc.options.OperationTimeout)
	defer cancel()

	if err := pc.store.Set(opCtx, key, data); err != nil {
		err = normalizeStoreError(err)
		atomic.AddInt64(&pc.stats.Errors, 1)
		metrics.RecordStore(metrics.StoreFailed)
		pc.reportError(err)
		pc.logger.Warn("Store: failed to store in remote cache", "key", key, "error", err)
		return err
	}

	atomic.AddInt64(&pc.stats.Stores, 1)
	metrics.RecordStore(metrics.StoreOK)
	if pc.options.DebugMode {
		pc.logger.Debug("Store: stored in remote cache", "key", key)
	}

	if pc.local == nil {
		return nil
	}

	pc.fillLocal(key, path, generation)

	// Peers drop their copy and refetch from Redis on demand.
	event := InvalidationEvent{
		Key:    key,
		Sender: pc.options.InstanceID,
		Action: ActionInvalidate,
	}
	if err := pc.synchronizer.Publish(opCtx, event); err != nil {
		pc.reportError(err)
		pc.logger.Warn("Store: failed to publish invalidation event", "key", key, "error", err)
	} else if pc.options.DebugMode {
		pc.logger.Debug("Store: published invalidation event", "key", key)
	}

	return nil
}

// InvalidateAll removes every cached path. The backing database is flushed
// as a whole, so it must be dedicated to this cache.
func (pc *PathCache) InvalidateAll(ctx context.Context) error {
	if atomic.LoadInt32(&pc.closed) != 0 {
		return ErrCacheClosed
	}

	if pc.options.DebugMode {
		pc.logger.Debug("InvalidateAll: clearing all cached paths")
	}

	opCtx, cancel := context.WithTimeout(ctx, pc.options.OperationTimeout)
	defer cancel()

	err := pc.store.Clear(opCtx)

	// The near-cache is cleared even if the flush failed: dropping local
	// entries can only cause extra misses.
	pc.clearLocal()

	if err != nil {
		err = normalizeStoreError(err)
		atomic.AddInt64(&pc.stats.Errors, 1)
		pc.reportError(err)
		pc.logger.Error("InvalidateAll: failed to clear remote cache", "error", err)
		return err
	}

	atomic.AddInt64(&pc.stats.Invalidations, 1)
	metrics.RecordInvalidation("local")
	if pc.options.DebugMode {
		pc.logger.Debug("InvalidateAll: cleared remote cache")
	}

	if pc.synchronizer == nil {
		return nil
	}

	event := InvalidationEvent{
		Key:    "*",
		Sender: pc.options.InstanceID,
		Action: ActionClear,
	}
	if err := pc.synchronizer.Publish(opCtx, event); err != nil {
		pc.reportError(err)
		pc.logger.Warn("InvalidateAll: failed to publish clear event", "error", err)
	} else if pc.options.DebugMode {
		pc.logger.Debug("InvalidateAll: published clear event")
	}

	return nil
}

// Close closes the cache and releases all resources.
func (pc *PathCache) Close() error {
	if !atomic.CompareAndSwapInt32(&pc.closed, 0, 1) {
		return nil
	}

	var errs []error

	if pc.synchronizer != nil {
		if err := pc.synchronizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := pc.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if pc.local != nil {
		pc.local.Close()
	}

	return errors.Join(errs...)
}

// Stats returns cache statistics.
func (pc *PathCache) Stats() Stats {
	return Stats{
		LocalHits:     atomic.LoadInt64(&pc.stats.LocalHits),
		LocalMisses:   atomic.LoadInt64(&pc.stats.LocalMisses),
		RemoteHits:    atomic.LoadInt64(&pc.stats.RemoteHits),
		RemoteMisses:  atomic.LoadInt64(&pc.stats.RemoteMisses),
		Malformed:     atomic.LoadInt64(&pc.stats.Malformed),
		Errors:        atomic.LoadInt64(&pc.stats.Errors),
		Stores:        atomic.LoadInt64(&pc.stats.Stores),
		Invalidations: atomic.LoadInt64(&pc.stats.Invalidations),
	}
}

// handleInvalidation handles near-cache synchronization events from peers.
func (pc *PathCache) handleInvalidation(event InvalidationEvent) {
	if pc.options.DebugMode {
		pc.logger.Debug("Received synchronization event", "action", event.Action, "key", event.Key, "sender", event.Sender)
	}

	switch event.Action {
	case ActionInvalidate:
		pc.localMu.Lock()
		pc.generation++
		pc.local.Delete(event.Key)
		pc.localMu.Unlock()

	case ActionClear:
		pc.clearLocal()
		atomic.AddInt64(&pc.stats.Invalidations, 1)
		metrics.RecordInvalidation("peer")
		pc.logger.Info("Sync: cleared local cache", "sender", event.Sender)

	default:
		pc.logger.Warn("Sync: unknown action", "action", event.Action, "key", event.Key, "sender", event.Sender)
	}
}

func (pc *PathCache) currentGeneration() uint64 {
	pc.localMu.RLock()
	defer pc.localMu.RUnlock()
	return pc.generation
}

// fillLocal populates the near-cache unless a clear happened since
// generation was read.
func (pc *PathCache) fillLocal(key string, path types.Path, generation uint64) {
	if pc.local == nil {
		return
	}
	pc.localMu.RLock()
	defer pc.localMu.RUnlock()
	if pc.generation != generation {
		return
	}
	pc.local.Set(key, path)
}

func (pc *PathCache) clearLocal() {
	if pc.local == nil {
		return
	}
	pc.localMu.Lock()
	pc.generation++
	pc.local.Clear()
	pc.localMu.Unlock()
}

func (pc *PathCache) reportError(err error) {
	if pc.options.OnError != nil {
		pc.options.OnError(err)
	}
}

// normalizeStoreError makes sure every store failure carries one of the
// taxonomy errors, whatever Store implementation produced it.
func normalizeStoreError(err error) error {
	if errors.Is(err, types.ErrPoolExhausted) || errors.Is(err, types.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = NewError("cache is closed")
