package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/types"
)

// Operation is the kind of change a LinkUpdate reports.
type Operation string

// Link discovery operations.
const (
	LinkUpdated   Operation = "link_updated"
	LinkRemoved   Operation = "link_removed"
	DeviceUpdated Operation = "device_updated"
	DeviceRemoved Operation = "device_removed"
	PortUp        Operation = "port_up"
	PortDown      Operation = "port_down"
)

// LinkUpdate describes one change reported by link discovery. Src and Dst
// are zero for device-level operations that have no link.
type LinkUpdate struct {
	Src       types.NodePort
	Dst       types.NodePort
	Operation Operation
}

// String returns a short description for logs.
func (u LinkUpdate) String() string {
	return fmt.Sprintf("%s %s->%s", u.Operation, u.Src, u.Dst)
}

// Event is one topology notification, carrying the updates that caused it.
type Event struct {
	Updates []LinkUpdate
}

// Invalidator drops every cached path.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Options configures a Gate.
type Options struct {
	// OperationTimeout bounds one invalidation.
	OperationTimeout time.Duration

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when an invalidation fails.
	OnError func(error)
}

// DefaultOptions returns default gate options.
func DefaultOptions() Options {
	return Options{
		OperationTimeout: 2 * time.Second,
	}
}

// ErrInvalidOptions is returned when gate options are invalid.
var ErrInvalidOptions = errors.New("invalid topology gate options")

// Stats reports gate activity.
type Stats struct {
	Signals       int64 // topology notifications received
	Invalidations int64 // InvalidateAll calls that succeeded
	Failures      int64 // InvalidateAll calls that failed
	Coalesced     int64 // notifications folded into a pending invalidation
}

// Gate flushes the path cache whenever the topology changes. Any change may
// make a cached path wrong, so the gate does not inspect the updates.
type Gate struct {
	cache   Invalidator
	logger  cache.Logger
	options Options

	mu      sync.Mutex
	running bool
	pending bool
	// pendingUpdates counts the updates folded into the next invalidation.
	pendingUpdates int

	stats Stats
}

// NewGate creates a Gate invalidating c.
func NewGate(c Invalidator, opts Options) (*Gate, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: invalidator is required", ErrInvalidOptions)
	}
	if opts.OperationTimeout <= 0 {
		return nil, fmt.Errorf("%w: operation timeout must be positive", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Gate{
		cache:   c,
		logger:  opts.Logger,
		options: opts,
	}, nil
}

// TopologyChanged handles a link discovery callback. If an invalidation is
// already running the call returns at once and one more invalidation runs
// after the current one, covering every update received meanwhile.
func (g *Gate) TopologyChanged(updates []LinkUpdate) {
	atomic.AddInt64(&g.stats.Signals, 1)
	if g.options.DebugMode {
		for _, u := range updates {
			g.logger.Debug("Topology: update received", "update", u.String())
		}
	}

	g.mu.Lock()
	if g.running {
		g.pending = true
		g.pendingUpdates += len(updates)
		g.mu.Unlock()
		atomic.AddInt64(&g.stats.Coalesced, 1)
		return
	}
	g.running = true
	g.mu.Unlock()

	n := len(updates)
	for {
		g.invalidate(n)

		g.mu.Lock()
		if !g.pending {
			g.running = false
			g.mu.Unlock()
			return
		}
		n = g.pendingUpdates
		g.pending = false
		g.pendingUpdates = 0
		g.mu.Unlock()
	}
}

// Run consumes events until ctx is done or events is closed. Events already
// buffered when an invalidation starts are folded into it.
func (g *Gate) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			updates := ev.Updates
		drain:
			for {
				select {
				case more, ok := <-events:
					if !ok {
						g.TopologyChanged(updates)
						return nil
					}
					atomic.AddInt64(&g.stats.Coalesced, 1)
					atomic.AddInt64(&g.stats.Signals, 1)
					updates = append(updates, more.Updates...)
				default:
					break drain
				}
			}
			g.TopologyChanged(updates)
		}
	}
}

func (g *Gate) invalidate(updates int) {
	ctx, cancel := context.WithTimeout(context.Background(), g.options.OperationTimeout)
	defer cancel()

	if err := g.cache.InvalidateAll(ctx); err != nil {
		atomic.AddInt64(&g.stats.Failures, 1)
		err = fmt.Errorf("invalidate after topology change: %w", err)
		g.logger.Error("Topology: path cache invalidation failed", "updates", updates, "error", err)
		if g.options.OnError != nil {
			g.options.OnError(err)
		}
		return
	}

	atomic.AddInt64(&g.stats.Invalidations, 1)
	g.logger.Info("Topology: path cache invalidated", "updates", updates)
}

// Stats returns gate statistics.
func (g *Gate) Stats() Stats {
	return Stats{
		Signals:       atomic.LoadInt64(&g.stats.Signals),
		Invalidations: atomic.LoadInt64(&g.stats.Invalidations),
		Failures:      atomic.LoadInt64(&g.stats.Failures),
		Coalesced:     atomic.LoadInt64(&g.stats.Coalesced),
	}
}
