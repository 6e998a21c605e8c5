package dispatch

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/sdn-path-cache/types"
)

type recordingWriter struct {
	mu    sync.Mutex
	got   []types.RuleInstallRequest
	times []time.Time
	block chan struct{}
	err   error
}

func (w *recordingWriter) Write(ctx context.Context, req types.RuleInstallRequest) error {
	w.mu.Lock()
	w.got = append(w.got, req)
	w.times = append(w.times, time.Now())
	block, err := w.block, w.err
	w.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (w *recordingWriter) written() []types.RuleInstallRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]types.RuleInstallRequest(nil), w.got...)
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

func rule(dev types.DatapathID, inPort uint32, cookie uint64) types.RuleInstallRequest {
	src, _ := net.ParseMAC("aa:aa:aa:aa:aa:aa")
	dst, _ := net.ParseMAC("bb:bb:bb:bb:bb:bb")
	return types.RuleInstallRequest{
		DeviceID: dev,
		Match:    types.MatchSpec{SrcMAC: src, DstMAC: dst, InPort: inPort},
		OutPort:  inPort + 1,
		Actions:  []types.OutputAction{{Port: inPort + 1, MaxLen: types.MaxLenNoBuffer}},
		Priority: 1,
		Cookie:   cookie,
		BufferID: types.NoBuffer,
	}
}

func newDamper(t *testing.T, w Writer, mutate func(*Options)) *Damper {
	t.Helper()
	opts := DefaultOptions()
	opts.WriteTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&opts)
	}
	d, err := NewDamper(w, opts)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDamperWritesInOrder(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, nil)
	ctx := context.Background()

	for port := uint32(1); port <= 5; port++ {
		require.NoError(t, d.Enqueue(ctx, rule(1, port, uint64(port))))
	}

	require.Eventually(t, func() bool { return w.count() == 5 }, time.Second, 5*time.Millisecond)
	for i, req := range w.written() {
		assert.Equal(t, uint32(i+1), req.Match.InPort)
	}
}

func TestDamperSuppressesDuplicates(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, func(o *Options) { o.DampWindow = time.Minute })
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 100)))
	// Same rule, new cookie.
	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 101)))
	require.NoError(t, d.Enqueue(ctx, rule(1, 2, 102)))

	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	got := w.written()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(100), got[0].Cookie)
	assert.Equal(t, uint64(102), got[1].Cookie)
}

func TestDamperWindowExpires(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, func(o *Options) { o.DampWindow = 20 * time.Millisecond })
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 1)))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 2)))
	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDamperDisabledWindow(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, func(o *Options) { o.DampWindow = 0 })
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 1)))
	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 2)))
	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDamperOverload(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	d := newDamper(t, w, func(o *Options) {
		o.QueueSize = 1
		o.EnqueueTimeout = 10 * time.Millisecond
	})
	ctx := context.Background()

	// The worker takes the first rule and blocks in Write.
	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 1)))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.Enqueue(ctx, rule(1, 2, 2)))
	assert.Equal(t, 1, d.Pending(1))

	err := d.Enqueue(ctx, rule(1, 3, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDispatchOverload)

	close(w.block)
	require.Eventually(t, func() bool { return w.count() == 2 }, time.Second, time.Millisecond)

	// A rejected rule is not remembered as sent.
	require.NoError(t, d.Enqueue(ctx, rule(1, 3, 4)))
	require.Eventually(t, func() bool { return w.count() == 3 }, time.Second, time.Millisecond)
}

func TestDamperEnqueueContextCanceled(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	defer close(w.block)
	d := newDamper(t, w, func(o *Options) {
		o.QueueSize = 1
		o.EnqueueTimeout = time.Minute
	})

	require.NoError(t, d.Enqueue(context.Background(), rule(1, 1, 1)))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.Enqueue(context.Background(), rule(1, 2, 2)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, rule(1, 3, 3))
	assert.ErrorIs(t, err, types.ErrDispatchOverload)
}

func TestDamperDevicesIndependent(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	var mu sync.Mutex
	var fast []types.RuleInstallRequest
	w := WriterFunc(func(ctx context.Context, req types.RuleInstallRequest) error {
		if req.DeviceID == 1 {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil
		}
		mu.Lock()
		fast = append(fast, req)
		mu.Unlock()
		return nil
	})
	d := newDamper(t, w, nil)
	ctx := context.Background()

	require.NoError(t, d.Enqueue(ctx, rule(1, 1, 1)))
	require.NoError(t, d.Enqueue(ctx, rule(2, 1, 2)))
	require.NoError(t, d.Enqueue(ctx, rule(2, 2, 3)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fast) == 2
	}, time.Second, time.Millisecond)
}

func TestDamperRateLimit(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, func(o *Options) {
		o.RatePerDevice = 20
		o.Burst = 1
	})
	ctx := context.Background()

	for port := uint32(1); port <= 3; port++ {
		require.NoError(t, d.Enqueue(ctx, rule(1, port, uint64(port))))
	}
	require.Eventually(t, func() bool { return w.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	w.mu.Lock()
	elapsed := w.times[2].Sub(w.times[0])
	w.mu.Unlock()
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
}

func TestDamperWriteError(t *testing.T) {
	writeErr := errors.New("connection reset")
	w := &recordingWriter{err: writeErr}

	var mu sync.Mutex
	var reported []error
	d := newDamper(t, w, func(o *Options) {
		o.OnError = func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}
	})

	require.NoError(t, d.Enqueue(context.Background(), rule(7, 1, 1)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, reported[0], writeErr)
}

func TestDamperRetiresIdleDevices(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, func(o *Options) { o.IdleTimeout = 20 * time.Millisecond })
	ctx := context.Background()

	for dev := types.DatapathID(1); dev <= 3; dev++ {
		require.NoError(t, d.Enqueue(ctx, rule(dev, 1, uint64(dev))))
	}
	require.Eventually(t, func() bool { return w.count() == 3 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return d.Devices() == 0 }, time.Second, 5*time.Millisecond)

	// A retired device gets a fresh queue on its next rule.
	require.NoError(t, d.Enqueue(ctx, rule(2, 5, 10)))
	require.Eventually(t, func() bool { return w.count() == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, types.DatapathID(2), w.written()[3].DeviceID)
}

func TestDamperKeepsDevicesWithoutIdleTimeout(t *testing.T) {
	w := &recordingWriter{}
	d := newDamper(t, w, func(o *Options) { o.IdleTimeout = 0 })

	require.NoError(t, d.Enqueue(context.Background(), rule(1, 1, 1)))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, d.Devices())
}

func TestDamperClose(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	d, err := NewDamper(w, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(context.Background(), rule(1, 1, 1)))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, time.Millisecond)

	// Close interrupts the blocked write.
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	err = d.Enqueue(context.Background(), rule(1, 2, 2))
	assert.ErrorIs(t, err, types.ErrDispatchOverload)
}

func TestNewDamperValidation(t *testing.T) {
	_, err := NewDamper(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidOptions)

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero capacity", func(o *Options) { o.Capacity = 0 }},
		{"zero queue", func(o *Options) { o.QueueSize = 0 }},
		{"zero burst", func(o *Options) { o.Burst = 0 }},
		{"negative window", func(o *Options) { o.DampWindow = -time.Second }},
		{"zero enqueue timeout", func(o *Options) { o.EnqueueTimeout = 0 }},
		{"zero write timeout", func(o *Options) { o.WriteTimeout = 0 }},
		{"negative rate", func(o *Options) { o.RatePerDevice = -1 }},
		{"negative idle timeout", func(o *Options) { o.IdleTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := NewDamper(&recordingWriter{}, opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}
