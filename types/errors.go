package types

import "errors"

// ErrCacheMiss is returned when no usable path is cached for a key. A stored
// value that fails to deserialize is reported the same way.
var ErrCacheMiss = errors.New("path cache miss")

// ErrPoolExhausted is returned when no store connection could be acquired
// within the pool wait timeout.
var ErrPoolExhausted = errors.New("store connection pool exhausted")

// ErrStoreUnavailable is returned on transport failures reaching the store.
var ErrStoreUnavailable = errors.New("path store unavailable")

// ErrNotInstallable is returned for paths with odd length or fewer than two
// entries.
var ErrNotInstallable = errors.New("path is not installable")

// ErrDispatchOverload is returned when the device dispatcher rejects a rule
// because its queue is full or the enqueue wait timed out.
var ErrDispatchOverload = errors.New("rule dispatch overloaded")

// ErrDeviceUnknown is returned when a path references a device that is not
// connected to this controller.
var ErrDeviceUnknown = errors.New("device not connected")
