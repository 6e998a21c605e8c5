package pathcache

import (
	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/types"
)

// ErrCacheMiss is returned when no usable path is cached for a flow.
var ErrCacheMiss = types.ErrCacheMiss

// ErrPoolExhausted is returned when no store connection was free in time.
var ErrPoolExhausted = types.ErrPoolExhausted

// ErrStoreUnavailable is returned on store transport failures.
var ErrStoreUnavailable = types.ErrStoreUnavailable

// ErrNotInstallable is returned for paths with an odd number of entries.
var ErrNotInstallable = types.ErrNotInstallable

// ErrDispatchOverload is returned when the device dispatcher rejects a rule.
var ErrDispatchOverload = types.ErrDispatchOverload

// ErrDeviceUnknown is returned when a rule targets an unregistered device.
var ErrDeviceUnknown = types.ErrDeviceUnknown

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrInvalidConfig is returned when the cache configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig
