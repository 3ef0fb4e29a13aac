// Package rpc is the root of ampd's remote method-call transport: the
// RemoteObject Creator façade described in spec §4.7, wiring the
// reconnecting factory (rpc/reconnect) to the local object adapter
// (rpc/remoteobject).
package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/searchktools/ampd/rpc/client"
	"github.com/searchktools/ampd/rpc/eventual"
	"github.com/searchktools/ampd/rpc/protocol"
	"github.com/searchktools/ampd/rpc/reconnect"
	"github.com/searchktools/ampd/rpc/remoteobject"
)

// Options configures a Creator. Zero values select the spec's defaults.
type Options struct {
	// RetryOnReconnect enables queue-and-replay while disconnected.
	RetryOnReconnect bool
	// Timeout is the hard deadline applied per call across retries; zero
	// means no deadline.
	Timeout time.Duration
	// Methods is the allow-list of remotely callable method names.
	Methods []string
	// Factor, InitialDelay and MaxDelay shape the reconnect backoff.
	Factor       float64
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ResponseTimeout and PendingTimeout configure the per-call protocol
	// timeouts; zero selects client.DefaultResponseTimeout /
	// client.DefaultPendingTimeout.
	ResponseTimeout time.Duration
	PendingTimeout  time.Duration
	// Clock substitutes the clock/timer source everywhere in the stack.
	Clock clockwork.Clock
}

// Creator is the top-level façade: Connect() blocks until the first
// connection succeeds and returns the *remoteobject.Object; Disconnect()
// halts reconnection and fails every outstanding call.
type Creator struct {
	factory *reconnect.Factory
	object  *remoteobject.Object

	mu        sync.Mutex
	connected *eventual.Value
	resolved  bool
}

// New builds a Creator for the Unix-domain socket at socketPath. It does
// not connect until Connect is called.
func New(socketPath string, opts Options) *Creator {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	object := remoteobject.New(
		remoteobject.WithRetryOnReconnect(opts.RetryOnReconnect),
		remoteobject.WithDeadline(opts.Timeout),
		remoteobject.WithMethods(opts.Methods),
		remoteobject.WithClock(clock),
	)

	c := &Creator{
		object:    object,
		connected: eventual.New(),
	}

	clientOpts := []client.Option{client.WithClock(clock)}
	if opts.ResponseTimeout > 0 {
		clientOpts = append(clientOpts, client.WithResponseTimeout(opts.ResponseTimeout))
	}
	if opts.PendingTimeout > 0 {
		clientOpts = append(clientOpts, client.WithPendingTimeout(opts.PendingTimeout))
	}

	factoryOpts := []reconnect.Option{
		reconnect.WithClock(clock),
		reconnect.WithClientOptions(clientOpts...),
		reconnect.WithBackoffExhausted(c.onBackoffExhausted),
	}
	if opts.Factor > 0 {
		factoryOpts = append(factoryOpts, reconnect.WithFactor(opts.Factor))
	}
	if opts.InitialDelay > 0 {
		factoryOpts = append(factoryOpts, reconnect.WithInitialDelay(opts.InitialDelay))
	}
	if opts.MaxDelay > 0 {
		factoryOpts = append(factoryOpts, reconnect.WithMaxDelay(opts.MaxDelay))
	}

	c.factory = reconnect.New(socketPath, c.onConnect, factoryOpts...)
	return c
}

func (c *Creator) onConnect(p *client.Protocol) {
	c.object.OnReconnect(p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		c.resolved = true
		c.connected.Resolve(c.object)
	}
}

func (c *Creator) onBackoffExhausted(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		c.resolved = true
		c.connected.Reject(err)
	}
}

// Connect starts the reconnect loop and blocks until the first
// connection succeeds, then returns the *remoteobject.Object. If ctx ends
// first it returns ctx's error. Options sets no retry cap on the factory,
// so the loop keeps retrying until a connection lands.
func (c *Creator) Connect(ctx context.Context) (*remoteobject.Object, error) {
	c.factory.Start()
	v, err := c.connected.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, protocol.NewCallError(protocol.CodeConnectionLost, "connect canceled")
	}
	return v.(*remoteobject.Object), nil
}

// Disconnect halts reconnection, closes the live connection if any, and
// cancels every outstanding and queued call with ConnectionLost.
func (c *Creator) Disconnect() {
	c.factory.StopTrying()
	c.object.Shutdown()
}

// Object returns the local remote-object handle. It is usable
// immediately (calls queue if retry is enabled and the first connection
// hasn't landed yet); prefer Connect when the caller wants to wait for a
// live connection first.
func (c *Creator) Object() *remoteobject.Object {
	return c.object
}
