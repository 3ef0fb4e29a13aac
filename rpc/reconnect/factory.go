// Package reconnect implements the reconnecting client factory (spec
// §4.6): owns a single live connection, applies exponential backoff with
// jitter on failure, and fires a notifier on every successful (re)connect.
package reconnect

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/searchktools/ampd/rpc/client"
	"github.com/searchktools/ampd/rpc/protocol"
)

const (
	// DefaultInitialDelay is the first reconnect wait (spec §4.6).
	DefaultInitialDelay = 1 * time.Second
	// DefaultMaxDelay caps the backoff (spec §4.6).
	DefaultMaxDelay = 60 * time.Second
	// DefaultFactor is the backoff multiplier (spec §4.6).
	DefaultFactor = 2.0
	// dialTimeout bounds a single connection attempt.
	dialTimeout = 5 * time.Second
)

// Factory owns the persistent client side of one Unix-domain socket.
type Factory struct {
	socketPath string
	notifier   func(*client.Protocol)
	onExhausted func(error)
	clientOpts []client.Option

	bo    *backoff.ExponentialBackOff
	clock clockwork.Clock

	stopped atomic.Bool
	stopCh  chan struct{}
	stopOnce sync.Once
	doneCh  chan struct{}

	mu      sync.Mutex
	current *client.Protocol
}

// Option configures a Factory.
type Option func(*Factory)

// WithFactor overrides DefaultFactor.
func WithFactor(f float64) Option {
	return func(fa *Factory) { fa.bo.Multiplier = f }
}

// WithInitialDelay overrides DefaultInitialDelay.
func WithInitialDelay(d time.Duration) Option {
	return func(fa *Factory) { fa.bo.InitialInterval = d }
}

// WithMaxDelay overrides DefaultMaxDelay.
func WithMaxDelay(d time.Duration) Option {
	return func(fa *Factory) { fa.bo.MaxInterval = d }
}

// WithMaxElapsedTime caps total time spent retrying before the factory
// gives up and reports BackoffExhausted (spec §7: "only if a max-attempts
// cap is configured"). The default, zero, retries forever.
func WithMaxElapsedTime(d time.Duration) Option {
	return func(fa *Factory) { fa.bo.MaxElapsedTime = d }
}

// WithClock substitutes the clock/timer source used between attempts.
func WithClock(c clockwork.Clock) Option {
	return func(fa *Factory) { fa.clock = c }
}

// WithClientOptions forwards options to every client.Protocol the factory
// creates (response/pending timeouts, clock, ...).
func WithClientOptions(opts ...client.Option) Option {
	return func(fa *Factory) { fa.clientOpts = append(fa.clientOpts, opts...) }
}

// WithBackoffExhausted registers a callback invoked once, when
// MaxElapsedTime is configured and exceeded.
func WithBackoffExhausted(fn func(error)) Option {
	return func(fa *Factory) { fa.onExhausted = fn }
}

// New returns a Factory that will dial socketPath, invoking notifier on
// every successful (re)connect. The factory does not start dialing until
// Start is called.
func New(socketPath string, notifier func(*client.Protocol), opts ...Option) *Factory {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = DefaultInitialDelay
	bo.MaxInterval = DefaultMaxDelay
	bo.Multiplier = DefaultFactor
	bo.MaxElapsedTime = 0

	fa := &Factory{
		socketPath: socketPath,
		notifier:   notifier,
		bo:         bo,
		clock:      clockwork.NewRealClock(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fa)
	}
	bo.Clock = fa.clock
	bo.Reset()
	return fa
}

// Start begins the dial/retry loop in a new goroutine.
func (fa *Factory) Start() {
	go fa.run()
}

func (fa *Factory) run() {
	defer close(fa.doneCh)
	for {
		if fa.stopped.Load() {
			return
		}

		conn, err := net.DialTimeout("unix", fa.socketPath, dialTimeout)
		if err != nil {
			delay := fa.bo.NextBackOff()
			if delay == backoff.Stop {
				if fa.onExhausted != nil {
					fa.onExhausted(protocol.NewCallError(protocol.CodeBackoffExhausted, err.Error()))
				}
				return
			}
			select {
			case <-fa.clock.After(delay):
			case <-fa.stopCh:
				return
			}
			continue
		}

		fa.bo.Reset()
		proto := client.New(conn, fa.clientOpts...)
		fa.mu.Lock()
		fa.current = proto
		fa.mu.Unlock()

		fa.notifier(proto)

		<-proto.Done()

		fa.mu.Lock()
		fa.current = nil
		fa.mu.Unlock()
	}
}

// Current returns the live protocol, or nil while disconnected.
func (fa *Factory) Current() *client.Protocol {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.current
}

// StopTrying halts reconnection and closes the live connection, if any.
// The factory guarantees exactly one live protocol at a time; after
// StopTrying returns no further notifier calls will occur.
func (fa *Factory) StopTrying() {
	fa.stopOnce.Do(func() {
		fa.stopped.Store(true)
		close(fa.stopCh)
	})
	fa.mu.Lock()
	cur := fa.current
	fa.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}

// Done returns a channel closed once the retry loop has exited (StopTrying
// called, or backoff exhausted).
func (fa *Factory) Done() <-chan struct{} {
	return fa.doneCh
}
