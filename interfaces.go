package pathcache

import (
	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/dispatch"
	"github.com/huykn/sdn-path-cache/install"
	"github.com/huykn/sdn-path-cache/router"
	"github.com/huykn/sdn-path-cache/topology"
	"github.com/huykn/sdn-path-cache/types"
)

// Cache is an alias for cache.Cache interface.
type Cache = cache.Cache

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// Writer is an alias for dispatch.Writer.
type Writer = dispatch.Writer

// DeviceRegistry is an alias for install.DeviceRegistry.
type DeviceRegistry = install.DeviceRegistry

// PacketIn is an alias for router.PacketIn.
type PacketIn = router.PacketIn

// LinkUpdate is an alias for topology.LinkUpdate.
type LinkUpdate = topology.LinkUpdate

// FlowKey is an alias for types.FlowKey.
type FlowKey = types.FlowKey

// Path is an alias for types.Path.
type Path = types.Path

// NodePort is an alias for types.NodePort.
type NodePort = types.NodePort

// DefaultLocalCacheConfig returns default near-cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
