package pathcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/dispatch"
	"github.com/huykn/sdn-path-cache/install"
	"github.com/huykn/sdn-path-cache/metrics"
	"github.com/huykn/sdn-path-cache/router"
	"github.com/huykn/sdn-path-cache/topology"
)

// Config configures a path cache controller plugin.
type Config struct {
	// InstanceID identifies this controller on the invalidation channel.
	// If empty, a random id is generated.
	InstanceID string

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number. It must be dedicated to the
	// path cache.
	RedisDB int

	// DialTimeout bounds establishing a store connection.
	DialTimeout time.Duration

	// PoolMaxTotal, PoolMaxIdle and PoolMinIdle size the store connection
	// pool.
	PoolMaxTotal int
	PoolMaxIdle  int
	PoolMinIdle  int

	// PoolTimeout bounds the wait for a free store connection.
	PoolTimeout time.Duration

	// OperationTimeout bounds every store operation.
	OperationTimeout time.Duration

	// InvalidationChannel is the Redis pub/sub channel for near-cache
	// invalidation.
	InvalidationChannel string

	// LocalCacheConfig configures the optional near-cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// AppID tags rule cookies.
	AppID uint16

	// RulePriority, IdleTimeout and HardTimeout are applied to every
	// installed rule.
	RulePriority uint16
	IdleTimeout  time.Duration
	HardTimeout  time.Duration

	// DamperCapacity and DamperWindow control duplicate rule suppression.
	DamperCapacity int
	DamperWindow   time.Duration

	// DeviceQueueSize bounds pending rules per device.
	DeviceQueueSize int

	// EnqueueTimeout bounds the wait for room in a device queue.
	EnqueueTimeout time.Duration

	// DeviceIdleTimeout retires the queue of a device that received no
	// rules for this long.
	DeviceIdleTimeout time.Duration

	// DeviceRate limits rule writes per second per device. Zero means
	// unlimited.
	DeviceRate  float64
	DeviceBurst int

	// MetricsRegisterer receives the plugin's collectors. If nil, metrics
	// are recorded but not registered.
	MetricsRegisterer prometheus.Registerer

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultConfig returns default plugin configuration.
func DefaultConfig() Config {
	cacheOpts := cache.DefaultOptions()
	installOpts := install.DefaultOptions()
	dispatchOpts := dispatch.DefaultOptions()

	return Config{
		RedisAddr:           cacheOpts.RedisAddr,
		RedisDB:             cacheOpts.RedisDB,
		DialTimeout:         cacheOpts.DialTimeout,
		PoolMaxTotal:        cacheOpts.PoolMaxTotal,
		PoolMaxIdle:         cacheOpts.PoolMaxIdle,
		PoolMinIdle:         cacheOpts.PoolMinIdle,
		PoolTimeout:         cacheOpts.PoolTimeout,
		OperationTimeout:    cacheOpts.OperationTimeout,
		InvalidationChannel: cacheOpts.InvalidationChannel,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		AppID:               installOpts.AppID,
		RulePriority:        installOpts.Priority,
		IdleTimeout:         installOpts.IdleTimeout,
		HardTimeout:         installOpts.HardTimeout,
		DamperCapacity:      dispatchOpts.Capacity,
		DamperWindow:        dispatchOpts.DampWindow,
		DeviceQueueSize:     dispatchOpts.QueueSize,
		EnqueueTimeout:      dispatchOpts.EnqueueTimeout,
		DeviceIdleTimeout:   dispatchOpts.IdleTimeout,
		DeviceRate:          dispatchOpts.RatePerDevice,
		DeviceBurst:         dispatchOpts.Burst,
	}
}

func (cfg Config) cacheOptions() cache.Options {
	opts := cache.DefaultOptions()
	if cfg.InstanceID != "" {
		opts.InstanceID = cfg.InstanceID
	}
	opts.RedisAddr = cfg.RedisAddr
	opts.RedisPassword = cfg.RedisPassword
	opts.RedisDB = cfg.RedisDB
	opts.DialTimeout = cfg.DialTimeout
	opts.PoolMaxTotal = cfg.PoolMaxTotal
	opts.PoolMaxIdle = cfg.PoolMaxIdle
	opts.PoolMinIdle = cfg.PoolMinIdle
	opts.PoolTimeout = cfg.PoolTimeout
	opts.OperationTimeout = cfg.OperationTimeout
	opts.InvalidationChannel = cfg.InvalidationChannel
	opts.LocalCacheConfig = cfg.LocalCacheConfig
	opts.LocalCacheFactory = cfg.LocalCacheFactory
	opts.Logger = cfg.Logger
	opts.DebugMode = cfg.DebugMode
	opts.OnError = cfg.OnError
	return opts
}

// NewCache creates only the path cache client.
func NewCache(cfg Config) (Cache, error) {
	if cfg.MetricsRegisterer != nil {
		metrics.Register(cfg.MetricsRegisterer)
	}
	return cache.New(cfg.cacheOptions())
}

// Controller bundles the plugin's components, wired together.
type Controller struct {
	Cache      *cache.PathCache
	Installer  *install.Installer
	Dispatcher *dispatch.Damper
	Gate       *topology.Gate
	Router     *router.Router
}

// New creates and wires a Controller. Rules are written to devices through
// writer; devices reports their protocol versions.
func New(cfg Config, writer Writer, devices DeviceRegistry) (*Controller, error) {
	if cfg.MetricsRegisterer != nil {
		metrics.Register(cfg.MetricsRegisterer)
	}

	pc, err := cache.New(cfg.cacheOptions())
	if err != nil {
		return nil, fmt.Errorf("create path cache: %w", err)
	}

	damper, err := dispatch.NewDamper(writer, dispatch.Options{
		Capacity:       cfg.DamperCapacity,
		DampWindow:     cfg.DamperWindow,
		QueueSize:      cfg.DeviceQueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		RatePerDevice:  cfg.DeviceRate,
		Burst:          cfg.DeviceBurst,
		WriteTimeout:   cfg.OperationTimeout,
		IdleTimeout:    cfg.DeviceIdleTimeout,
		Logger:         cfg.Logger,
		DebugMode:      cfg.DebugMode,
		OnError:        cfg.OnError,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	installer, err := install.New(damper, devices, install.Options{
		AppID:       cfg.AppID,
		Priority:    cfg.RulePriority,
		IdleTimeout: cfg.IdleTimeout,
		HardTimeout: cfg.HardTimeout,
		Logger:      cfg.Logger,
		DebugMode:   cfg.DebugMode,
	})
	if err != nil {
		damper.Close()
		pc.Close()
		return nil, fmt.Errorf("create installer: %w", err)
	}

	gate, err := topology.NewGate(pc, topology.Options{
		OperationTimeout: cfg.OperationTimeout,
		Logger:           cfg.Logger,
		DebugMode:        cfg.DebugMode,
		OnError:          cfg.OnError,
	})
	if err != nil {
		damper.Close()
		pc.Close()
		return nil, fmt.Errorf("create topology gate: %w", err)
	}

	r, err := router.New(pc, installer, router.Options{
		Logger:    cfg.Logger,
		DebugMode: cfg.DebugMode,
	})
	if err != nil {
		damper.Close()
		pc.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}

	return &Controller{
		Cache:      pc,
		Installer:  installer,
		Dispatcher: damper,
		Gate:       gate,
		Router:     r,
	}, nil
}

// Close stops the dispatcher and closes the path cache.
func (c *Controller) Close() error {
	return errors.Join(c.Dispatcher.Close(), c.Cache.Close())
}
