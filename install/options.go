package install

import (
	"errors"
	"math"
	"time"

	"github.com/huykn/sdn-path-cache/cache"
)

// Defaults shared with the baseline forwarding application, so rules
// installed from the cache expire exactly like freshly computed ones.
const (
	DefaultAppID       uint16 = 99
	DefaultPriority    uint16 = 1
	DefaultIdleTimeout        = 5 * time.Second
	DefaultHardTimeout        = time.Duration(0)
)

// maxAppID is the largest id that fits the 12 application bits of a cookie.
const maxAppID = 1<<appIDBits - 1

// Options configures an Installer.
type Options struct {
	// AppID is embedded in the upper bits of every rule cookie.
	AppID uint16

	// Priority of installed rules.
	Priority uint16

	// IdleTimeout removes a rule after this long without traffic. Zero
	// disables it. Rounded down to whole seconds.
	IdleTimeout time.Duration

	// HardTimeout removes a rule this long after install. Zero disables it.
	HardTimeout time.Duration

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode logs every rule handed to the dispatcher.
	DebugMode bool
}

// DefaultOptions returns the baseline forwarding defaults.
func DefaultOptions() Options {
	return Options{
		AppID:       DefaultAppID,
		Priority:    DefaultPriority,
		IdleTimeout: DefaultIdleTimeout,
		HardTimeout: DefaultHardTimeout,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.AppID > maxAppID {
		return ErrInvalidOptions
	}
	if o.IdleTimeout < 0 || o.HardTimeout < 0 {
		return ErrInvalidOptions
	}
	if o.IdleTimeout > math.MaxUint16*time.Second || o.HardTimeout > math.MaxUint16*time.Second {
		return ErrInvalidOptions
	}
	return nil
}

// ErrInvalidOptions is returned when installer options are invalid.
var ErrInvalidOptions = errors.New("invalid installer options")
