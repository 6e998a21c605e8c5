package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/huykn/sdn-path-cache/cache"
	"github.com/huykn/sdn-path-cache/metrics"
	"github.com/huykn/sdn-path-cache/types"
)

// Writer delivers a rule to its device. It owns protocol framing and the
// device connection.
type Writer interface {
	Write(ctx context.Context, req types.RuleInstallRequest) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, req types.RuleInstallRequest) error

// Write calls f.
func (f WriterFunc) Write(ctx context.Context, req types.RuleInstallRequest) error {
	return f(ctx, req)
}

// Options configures a Damper.
type Options struct {
	// Capacity bounds the number of recently written rules remembered for
	// duplicate suppression.
	Capacity int

	// DampWindow is how long an identical rule is suppressed after it was
	// accepted.
	DampWindow time.Duration

	// QueueSize bounds the pending rules per device.
	QueueSize int

	// EnqueueTimeout bounds how long Enqueue waits for room in a full queue.
	EnqueueTimeout time.Duration

	// RatePerDevice limits writes per second to one device. Zero means
	// unlimited.
	RatePerDevice float64

	// Burst is the number of writes allowed above the rate at once.
	Burst int

	// WriteTimeout bounds a single Writer call.
	WriteTimeout time.Duration

	// IdleTimeout retires a device's queue and worker after this long
	// without rules. Zero keeps them until Close.
	IdleTimeout time.Duration

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when a queued rule fails to be written.
	OnError func(error)
}

// DefaultOptions returns default damper options.
func DefaultOptions() Options {
	return Options{
		Capacity:       10000,
		DampWindow:     250 * time.Millisecond,
		QueueSize:      1024,
		EnqueueTimeout: 250 * time.Millisecond,
		RatePerDevice:  1000,
		Burst:          100,
		WriteTimeout:   time.Second,
		IdleTimeout:    time.Minute,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Capacity <= 0 || o.QueueSize <= 0 || o.Burst <= 0 {
		return ErrInvalidOptions
	}
	if o.DampWindow < 0 || o.EnqueueTimeout <= 0 || o.WriteTimeout <= 0 || o.RatePerDevice < 0 || o.IdleTimeout < 0 {
		return ErrInvalidOptions
	}
	return nil
}

// ErrInvalidOptions is returned when damper options are invalid.
var ErrInvalidOptions = errors.New("invalid dispatcher options")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Damper queues rule install requests per device, drops identical requests
// seen within the damping window and writes the rest at a bounded rate.
type Damper struct {
	writer  Writer
	logger  cache.Logger
	options Options

	dampMu sync.Mutex
	recent *expirable.LRU[string, struct{}]

	mu     sync.Mutex
	queues map[types.DatapathID]*deviceQueue
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type deviceQueue struct {
	id      types.DatapathID
	pending chan types.RuleInstallRequest
	limiter *rate.Limiter
	// users counts Enqueue calls holding the queue. Guarded by Damper.mu.
	users int
}

// NewDamper creates a Damper writing through w.
func NewDamper(w Writer, opts Options) (*Damper, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: writer is required", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Damper{
		writer:  w,
		logger:  opts.Logger,
		options: opts,
		queues:  make(map[types.DatapathID]*deviceQueue),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.DampWindow > 0 {
		d.recent = expirable.NewLRU[string, struct{}](opts.Capacity, nil, opts.DampWindow)
	}
	return d, nil
}

// Enqueue queues req for its device. It waits at most EnqueueTimeout for
// room and returns an error wrapping types.ErrDispatchOverload when the
// request was not queued.
func (d *Damper) Enqueue(ctx context.Context, req types.RuleInstallRequest) error {
	key := req.DampKey()
	if d.damped(key) {
		metrics.RecordRule(metrics.RuleDamped)
		return nil
	}

	err := d.enqueue(ctx, req)
	if err != nil {
		d.forget(key)
	}
	return err
}

func (d *Damper) enqueue(ctx context.Context, req types.RuleInstallRequest) error {
	q, err := d.acquire(req.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDispatchOverload, err)
	}
	defer d.release(q)

	select {
	case q.pending <- req:
		return nil
	default:
	}

	timer := time.NewTimer(d.options.EnqueueTimeout)
	defer timer.Stop()

	select {
	case q.pending <- req:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: queue for device %s full", types.ErrDispatchOverload, req.DeviceID)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", types.ErrDispatchOverload, ctx.Err())
	case <-d.ctx.Done():
		return fmt.Errorf("%w: %v", types.ErrDispatchOverload, ErrClosed)
	}
}

// damped reports whether an identical rule was accepted within the damping
// window, and remembers key otherwise.
func (d *Damper) damped(key string) bool {
	if d.recent == nil {
		return false
	}
	d.dampMu.Lock()
	defer d.dampMu.Unlock()
	if _, ok := d.recent.Get(key); ok {
		return true
	}
	d.recent.Add(key, struct{}{})
	return false
}

func (d *Damper) forget(key string) {
	if d.recent == nil {
		return
	}
	d.dampMu.Lock()
	d.recent.Remove(key)
	d.dampMu.Unlock()
}

// acquire returns the queue for id, starting its worker if needed. The
// queue is not retired until release is called.
func (d *Damper) acquire(id types.DatapathID) (*deviceQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	q, ok := d.queues[id]
	if ok {
		q.users++
		return q, nil
	}

	limit := rate.Inf
	if d.options.RatePerDevice > 0 {
		limit = rate.Limit(d.options.RatePerDevice)
	}
	q = &deviceQueue{
		id:      id,
		pending: make(chan types.RuleInstallRequest, d.options.QueueSize),
		limiter: rate.NewLimiter(limit, d.options.Burst),
	}
	q.users++
	d.queues[id] = q

	d.wg.Add(1)
	go d.drain(q)

	return q, nil
}

func (d *Damper) release(q *deviceQueue) {
	d.mu.Lock()
	q.users--
	d.mu.Unlock()
}

// retire removes q if nothing is queued and no Enqueue holds it.
func (d *Damper) retire(q *deviceQueue) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q.users > 0 || len(q.pending) > 0 {
		return false
	}
	delete(d.queues, q.id)
	return true
}

// drain writes queued rules for one device until the damper is closed or
// the device stays idle for IdleTimeout.
func (d *Damper) drain(q *deviceQueue) {
	defer d.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if d.options.IdleTimeout > 0 {
		timer = time.NewTimer(d.options.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case req := <-q.pending:
			if err := q.limiter.Wait(d.ctx); err != nil {
				return
			}
			d.write(req)
		case <-idle:
			if d.retire(q) {
				if d.options.DebugMode {
					d.logger.Debug("Dispatch: retired idle device queue", "device", q.id.String())
				}
				return
			}
		}
		if timer != nil {
			timer.Reset(d.options.IdleTimeout)
		}
	}
}

// Devices returns the number of devices with a live queue.
func (d *Damper) Devices() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

func (d *Damper) write(req types.RuleInstallRequest) {
	ctx, cancel := context.WithTimeout(d.ctx, d.options.WriteTimeout)
	defer cancel()

	if err := d.writer.Write(ctx, req); err != nil {
		metrics.RecordRule(metrics.RuleWriteFailed)
		err = fmt.Errorf("write rule to device %s: %w", req.DeviceID, err)
		d.logger.Warn("Dispatch: write failed", "device", req.DeviceID.String(), "cookie", req.Cookie, "error", err)
		if d.options.OnError != nil {
			d.options.OnError(err)
		}
	}
}

// Pending returns the number of rules queued for a device.
func (d *Damper) Pending(id types.DatapathID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[id]; ok {
		return len(q.pending)
	}
	return 0
}

// Close stops all device workers. Rules still queued are dropped.
func (d *Damper) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}
