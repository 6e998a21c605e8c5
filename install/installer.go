package install

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/metrics"
	"github.com/huykn/sdn-path-cache/types"
)

// Cookie layout: the application id occupies the top 12 bits, the rule
// sequence number the remaining 52.
const (
	appIDBits  = 12
	appIDShift = 64 - appIDBits
	seqMask    = 1<<appIDShift - 1
)

// ruleSeq is shared by every Installer in the process so cookies stay
// unique when several installers run side by side.
var ruleSeq atomic.Uint64

// Dispatcher hands rule install requests to the device-control layer. Enqueue
// must not block beyond its own bounded wait and returns an error wrapping
// types.ErrDispatchOverload when the request is rejected.
type Dispatcher interface {
	Enqueue(ctx context.Context, req types.RuleInstallRequest) error
}

// DeviceRegistry reports the protocol version of connected devices.
type DeviceRegistry interface {
	ProtocolVersion(id types.DatapathID) (types.ProtocolVersion, bool)
}

// RuleOutcome pairs a built request with the result of dispatching it.
type RuleOutcome struct {
	Request types.RuleInstallRequest
	Err     error
}

// Result lists the rules of one install, ordered from the destination side
// of the path back toward the source side.
type Result struct {
	Rules []RuleOutcome
}

// Accepted returns the number of rules accepted for dispatch.
func (r Result) Accepted() int {
	n := 0
	for _, o := range r.Rules {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Installer converts cached paths into per-device forwarding rules.
type Installer struct {
	dispatcher Dispatcher
	devices    DeviceRegistry
	logger     cache.Logger
	options    Options
}

// New creates an Installer.
func New(dispatcher Dispatcher, devices DeviceRegistry, opts Options) (*Installer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if dispatcher == nil || devices == nil {
		return nil, fmt.Errorf("%w: dispatcher and device registry are required", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Installer{
		dispatcher: dispatcher,
		devices:    devices,
		logger:     opts.Logger,
		options:    opts,
	}, nil
}

// Install builds one rule per device on path and hands each to the
// dispatcher. Entries are consumed from the tail in pairs: path[i] is the
// egress port of a device and path[i-1] the port the flow enters it on.
//
// A rule that cannot be dispatched does not stop the remaining ones. The
// returned error joins every per-rule failure; nil means every rule was
// accepted for dispatch, not that the devices confirmed it.
func (in *Installer) Install(ctx context.Context, key types.FlowKey, path types.Path) (Result, error) {
	if !path.Installable() {
		return Result{}, fmt.Errorf("install %s: %w (length %d)", key, types.ErrNotInstallable, len(path))
	}

	result := Result{Rules: make([]RuleOutcome, 0, len(path)/2)}
	var errs []error

	for i := len(path) - 1; i > 0; i -= 2 {
		egress, ingress := path[i], path[i-1]
		if in.options.DebugMode && ingress.DeviceID != egress.DeviceID {
			in.logger.Debug("Install: hop pair spans two devices", "ingress", ingress.String(), "egress", egress.String())
		}

		req, err := in.buildRequest(key, ingress, egress)
		if err == nil {
			err = in.dispatch(ctx, req)
		}
		if err != nil {
			errs = append(errs, err)
		}
		result.Rules = append(result.Rules, RuleOutcome{Request: req, Err: err})
	}

	if len(errs) > 0 {
		in.logger.Warn("Install: some rules were not dispatched", "flow", key.String(), "failed", len(errs), "total", len(result.Rules))
	} else if in.options.DebugMode {
		in.logger.Debug("Install: all rules dispatched", "flow", key.String(), "rules", len(result.Rules))
	}

	return result, errors.Join(errs...)
}

func (in *Installer) buildRequest(key types.FlowKey, ingress, egress types.NodePort) (types.RuleInstallRequest, error) {
	req := types.RuleInstallRequest{
		DeviceID: egress.DeviceID,
		Match:    BuildMatch(key, ingress.Port),
		OutPort:  egress.Port,
		Actions: []types.OutputAction{
			{Port: egress.Port, MaxLen: types.MaxLenNoBuffer},
		},
		Priority:    in.options.Priority,
		IdleTimeout: seconds(in.options.IdleTimeout),
		HardTimeout: seconds(in.options.HardTimeout),
		BufferID:    types.NoBuffer,
	}

	version, ok := in.devices.ProtocolVersion(egress.DeviceID)
	if !ok {
		metrics.RecordRule(metrics.RuleDeviceUnknown)
		return req, fmt.Errorf("device %s: %w", egress.DeviceID, types.ErrDeviceUnknown)
	}
	req.TableID = TableFor(version)
	req.Cookie = NextCookie(in.options.AppID)
	return req, nil
}

func (in *Installer) dispatch(ctx context.Context, req types.RuleInstallRequest) error {
	if err := in.dispatcher.Enqueue(ctx, req); err != nil {
		if !errors.Is(err, types.ErrDispatchOverload) {
			err = fmt.Errorf("%w: %v", types.ErrDispatchOverload, err)
		}
		metrics.RecordRule(metrics.RuleOverload)
		return fmt.Errorf("device %s: %w", req.DeviceID, err)
	}
	metrics.RecordRule(metrics.RuleAccepted)
	if in.options.DebugMode {
		in.logger.Debug("Install: rule enqueued", "device", req.DeviceID.String(), "inPort", req.Match.InPort, "outPort", req.OutPort, "cookie", req.Cookie)
	}
	return nil
}

// BuildMatch returns the match for a flow entering a device on inPort. IP
// fields are only matched when both addresses are known; partial IP
// information is never used.
func BuildMatch(key types.FlowKey, inPort uint32) types.MatchSpec {
	m := types.MatchSpec{
		DstMAC: key.DstMAC,
		SrcMAC: key.SrcMAC,
		InPort: inPort,
	}
	if key.HasIP() {
		ethType := types.EthTypeIPv4
		m.EthType = &ethType
		m.SrcIP = key.SrcIP
		m.DstIP = key.DstIP
	}
	return m
}

// TableFor returns the table a rule goes to on a device speaking version.
// OpenFlow 1.0 has no table field.
func TableFor(version types.ProtocolVersion) *uint8 {
	if version == types.OF10 {
		return nil
	}
	table := uint8(0)
	return &table
}

// NextCookie returns a process-wide unique cookie tagged with appID.
// Successive calls return strictly increasing values for the same appID.
func NextCookie(appID uint16) uint64 {
	seq := ruleSeq.Add(1) & seqMask
	return uint64(appID)<<appIDShift | seq
}

// CookieApp extracts the application id from a cookie.
func CookieApp(cookie uint64) uint16 {
	return uint16(cookie >> appIDShift)
}

func seconds(d time.Duration) uint16 {
	return uint16(d / time.Second)
}
