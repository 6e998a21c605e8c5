package router

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/install"
	"github.com/huykn/sdn-path-cache/metrics"
	"github.com/huykn/sdn-path-cache/types"
)

// Name is the name the router registers under in the controller's message
// pipeline.
const Name = "pathcache"

// forwardingModule is the handler that must run after this one.
const forwardingModule = "forwarding"

// Command tells the message pipeline whether later handlers should see the
// message.
type Command int

const (
	// Continue passes the message on to the next handler.
	Continue Command = iota
	// Stop ends processing of the message.
	Stop
)

// String returns the command name.
func (c Command) String() string {
	if c == Stop {
		return "STOP"
	}
	return "CONTINUE"
}

// PacketIn is a parsed new-flow notification from a device. SrcIP and DstIP
// are only read when EtherType is IPv4.
type PacketIn struct {
	DeviceID  types.DatapathID
	InPort    uint32
	EtherType uint16
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	SrcIP     netip.Addr
	DstIP     netip.Addr
}

// FlowKey derives the flow identity of the packet.
func (p PacketIn) FlowKey() types.FlowKey {
	var src, dst netip.Addr
	if p.EtherType == types.EthTypeIPv4 {
		src, dst = p.SrcIP, p.DstIP
	}
	return types.NewFlowKey(src, dst, p.SrcMAC, p.DstMAC)
}

// PathCache is the subset of cache.Cache the router needs.
type PathCache interface {
	Lookup(ctx context.Context, key string) (types.Path, error)
	Store(ctx context.Context, key string, path types.Path) error
}

// Installer turns a path into device rules.
type Installer interface {
	Install(ctx context.Context, key types.FlowKey, path types.Path) (install.Result, error)
}

// Options configures a Router.
type Options struct {
	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool
}

// Router answers new-flow notifications from the path cache. A flow whose
// path is cached is installed and consumed; anything else is left to the
// handlers that follow.
type Router struct {
	cache     PathCache
	installer Installer
	logger    cache.Logger
	options   Options
}

// New creates a Router.
func New(pc PathCache, installer Installer, opts Options) (*Router, error) {
	if pc == nil || installer == nil {
		return nil, errors.New("router: path cache and installer are required")
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Router{
		cache:     pc,
		installer: installer,
		logger:    opts.Logger,
		options:   opts,
	}, nil
}

// Name returns the handler name.
func (r *Router) Name() string {
	return Name
}

// IsCallbackOrderingPrereq reports whether the named handler must run
// before this one.
func (r *Router) IsCallbackOrderingPrereq(name string) bool {
	return false
}

// IsCallbackOrderingPostreq reports whether the named handler must run after
// this one.
func (r *Router) IsCallbackOrderingPostreq(name string) bool {
	return name == forwardingModule
}

// Handle dispatches a controller message. Only packet-ins are of interest.
func (r *Router) Handle(ctx context.Context, msg any) Command {
	switch m := msg.(type) {
	case PacketIn:
		return r.Receive(ctx, m)
	case *PacketIn:
		if m == nil {
			return Continue
		}
		return r.Receive(ctx, *m)
	default:
		return Continue
	}
}

// Receive looks up the path of a new flow. On a hit the path's rules are
// installed and Stop is returned once at least one rule was dispatched.
// Misses, cache failures and hits with no dispatched rule return Continue
// so path computation can handle the flow.
func (r *Router) Receive(ctx context.Context, pkt PacketIn) Command {
	key := pkt.FlowKey()
	encoded := types.Encode(key)

	path, err := r.cache.Lookup(ctx, encoded)
	if err != nil {
		metrics.RecordFlow(metrics.FlowDeferred)
		if !errors.Is(err, types.ErrCacheMiss) {
			r.logger.Warn("Router: path cache unavailable", "flow", key.String(), "device", pkt.DeviceID.String(), "error", err)
		} else if r.options.DebugMode {
			r.logger.Debug("Router: no cached path", "flow", key.String(), "device", pkt.DeviceID.String())
		}
		return Continue
	}

	if !path.Installable() {
		metrics.RecordFlow(metrics.FlowDeferred)
		r.logger.Debug("Router: cached path not installable", "flow", key.String(), "hops", len(path))
		return Continue
	}

	result, err := r.installer.Install(ctx, key, path)
	if result.Accepted() == 0 {
		// Nothing reached a device; let path computation handle the flow.
		metrics.RecordFlow(metrics.FlowDeferred)
		r.logger.Warn("Router: no rule of cached path dispatched", "flow", key.String(), "rules", len(result.Rules), "error", err)
		return Continue
	}
	if err != nil {
		r.logger.Warn("Router: path partially installed", "flow", key.String(), "accepted", result.Accepted(), "rules", len(result.Rules), "error", err)
	} else if r.options.DebugMode {
		r.logger.Debug("Router: installed cached path", "flow", key.String(), "rules", len(result.Rules))
	}

	metrics.RecordFlow(metrics.FlowHandled)
	return Stop
}

// Store caches the path computed for a flow. Failures are logged and
// returned; callers may ignore them.
func (r *Router) Store(ctx context.Context, key types.FlowKey, path types.Path) error {
	if err := r.cache.Store(ctx, types.Encode(key), path); err != nil {
		r.logger.Debug("Router: failed to cache path", "flow", key.String(), "error", err)
		return err
	}
	return nil
}
