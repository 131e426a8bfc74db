package connection

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-jobwatch/internal/observer"
	"github.com/stacklok/toolhive-jobwatch/internal/telemetry"
)

// DefaultReconnectDelay is the pause between a dropped connection and the next attempt
const DefaultReconnectDelay = 5 * time.Second

// Registry hands out shared, ref-counted access to push channels.
// A Registry must be created with NewRegistry.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*channel

	dialer     Dialer
	clock      clock.WithTickerAndDelayedExecution
	delay      time.Duration
	newBackOff func() backoff.BackOff
	metrics    *telemetry.ConnectionMetrics
}

// channel is the state behind one key. Fields other than observers are guarded by Registry.mu.
type channel struct {
	key       string
	refCount  int
	status    Status
	observers observer.List[[]byte]

	transport Transport
	cancel    context.CancelFunc
	retry     clock.Timer
	backoff   backoff.BackOff

	// gen identifies the current connection attempt. Goroutines belonging to an
	// older attempt compare it and stand down.
	gen    uint64
	closed bool
}

// Option configures a Registry
type Option func(*Registry)

// WithDialer sets the capability used to open transports. Without it every
// channel reports StatusDisconnected and no attempt is made.
func WithDialer(d Dialer) Option {
	return func(r *Registry) {
		r.dialer = d
	}
}

// WithClock sets the clock used for reconnect timers
func WithClock(c clock.WithTickerAndDelayedExecution) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithReconnectDelay sets the fixed reconnect delay used by the default policy
func WithReconnectDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithBackOff replaces the reconnect policy. The factory is called once per
// channel. A policy returning backoff.Stop leaves the channel disconnected.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(r *Registry) {
		r.newBackOff = factory
	}
}

// WithMetrics sets the connection metrics recorder
func WithMetrics(m *telemetry.ConnectionMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		channels: make(map[string]*channel),
		clock:    clock.RealClock{},
		delay:    DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newBackOff == nil {
		delay := r.delay
		r.newBackOff = func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		}
	}
	return r
}

// Subscribe registers onEvent for messages on key and returns the function
// that releases the subscription. The first subscriber for a key opens the
// channel; later subscribers share it and only see messages that arrive
// after they subscribed.
func (r *Registry) Subscribe(key string, onEvent func([]byte)) func() {
	r.mu.Lock()
	ch, ok := r.channels[key]
	if !ok {
		ch = &channel{
			key:     key,
			status:  StatusDisconnected,
			backoff: r.newBackOff(),
		}
		r.channels[key] = ch
	}
	ch.refCount++
	unsubscribe := ch.observers.Subscribe(onEvent)

	if !ok {
		r.metrics.RecordChannelOpened(context.Background())
		if r.dialer == nil {
			zap.L().Debug("No dialer configured, channel stays disconnected", zap.String("key", key))
		} else {
			ch.status = StatusConnecting
			ch.gen++
			go r.connect(ch, ch.gen)
		}
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			r.release(ch)
		})
	}
}

// Status returns the current status for key. Unknown keys are disconnected.
func (r *Registry) Status(key string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[key]; ok {
		return ch.status
	}
	return StatusDisconnected
}

// RefCount returns the number of active subscriptions for key
func (r *Registry) RefCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[key]; ok {
		return ch.refCount
	}
	return 0
}

// Close tears down every channel regardless of subscribers. Outstanding
// unsubscribe functions remain safe to call.
func (r *Registry) Close() {
	r.mu.Lock()
	closers := make([]func(), 0, len(r.channels))
	for _, ch := range r.channels {
		closers = append(closers, r.teardownLocked(ch))
	}
	r.mu.Unlock()

	for _, finish := range closers {
		finish()
	}
}

func (r *Registry) release(ch *channel) {
	r.mu.Lock()
	if ch.closed {
		r.mu.Unlock()
		return
	}
	ch.refCount--
	if ch.refCount > 0 {
		r.mu.Unlock()
		return
	}
	finish := r.teardownLocked(ch)
	r.mu.Unlock()

	finish()
}

// teardownLocked marks ch closed and removes its key so a later Subscribe
// starts fresh. The returned function releases the transport and must be
// called after r.mu is released.
func (r *Registry) teardownLocked(ch *channel) func() {
	ch.closed = true
	ch.refCount = 0
	ch.status = StatusDisconnected
	if ch.retry != nil {
		ch.retry.Stop()
		ch.retry = nil
	}
	cancel, transport := ch.cancel, ch.transport
	ch.cancel, ch.transport = nil, nil
	if r.channels[ch.key] == ch {
		delete(r.channels, ch.key)
	}

	return func() {
		if cancel != nil {
			cancel()
		}
		if transport != nil {
			if err := transport.Close(); err != nil {
				zap.L().Debug("Error closing transport", zap.String("key", ch.key), zap.Error(err))
			}
		}
		r.metrics.RecordChannelClosed(context.Background())
		zap.L().Debug("Channel closed", zap.String("key", ch.key))
	}
}

// connect runs one connection attempt and, on success, the read loop
func (r *Registry) connect(ch *channel, gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.mu.Lock()
	if ch.closed || ch.gen != gen {
		r.mu.Unlock()
		return
	}
	ch.cancel = cancel
	r.mu.Unlock()

	transport, err := r.dialer.Dial(ctx, ch.key)
	if err == nil && transport == nil {
		err = ErrNoTransport
	}
	r.metrics.RecordDial(context.Background(), err == nil)

	r.mu.Lock()
	if ch.closed || ch.gen != gen {
		r.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		return
	}
	if err != nil {
		zap.L().Warn("Failed to open channel", zap.String("key", ch.key), zap.Error(err))
		r.scheduleReconnectLocked(ch)
		r.mu.Unlock()
		return
	}
	ch.transport = transport
	ch.status = StatusConnected
	ch.backoff.Reset()
	r.mu.Unlock()

	zap.L().Debug("Channel connected", zap.String("key", ch.key))
	r.read(ctx, ch, gen, transport)
}

func (r *Registry) read(ctx context.Context, ch *channel, gen uint64, transport Transport) {
	var readErr error
	for {
		data, err := transport.Receive(ctx)
		if err != nil {
			readErr = err
			break
		}
		if r.stale(ch, gen) {
			return
		}
		ch.observers.Emit(data)
	}
	_ = transport.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.closed || ch.gen != gen {
		return
	}
	ch.transport = nil
	ch.cancel = nil
	zap.L().Info("Channel dropped", zap.String("key", ch.key), zap.Error(readErr))
	r.scheduleReconnectLocked(ch)
}

func (r *Registry) stale(ch *channel, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ch.closed || ch.gen != gen
}

// scheduleReconnectLocked arms the single retry timer for ch. Calling it while
// a retry is pending is a no-op. r.mu must be held.
func (r *Registry) scheduleReconnectLocked(ch *channel) {
	if ch.closed || ch.refCount <= 0 {
		ch.status = StatusDisconnected
		return
	}
	if ch.retry != nil {
		return
	}

	delay := ch.backoff.NextBackOff()
	if delay == backoff.Stop {
		zap.L().Warn("Reconnect policy gave up, channel disconnected", zap.String("key", ch.key))
		ch.status = StatusDisconnected
		return
	}

	ch.status = StatusReconnecting
	ch.gen++
	gen := ch.gen
	// The callback may run with the clock's own lock held, so it must not
	// call back into the registry synchronously.
	ch.retry = r.clock.AfterFunc(delay, func() {
		go r.reconnect(ch, gen)
	})
	r.metrics.RecordReconnectScheduled(context.Background())
	zap.L().Debug("Reconnect scheduled", zap.String("key", ch.key), zap.Duration("delay", delay))
}

func (r *Registry) reconnect(ch *channel, gen uint64) {
	r.mu.Lock()
	if ch.closed || ch.gen != gen {
		r.mu.Unlock()
		return
	}
	ch.retry = nil
	r.mu.Unlock()

	r.connect(ch, gen)
}
