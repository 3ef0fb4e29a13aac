// Package remoteobject implements the local stand-in for the peer
// object (spec §4.5): each allow-listed method becomes a local callable
// returning an eventual value, buffering calls in a FIFO queue while
// disconnected and replaying them on reconnect.
package remoteobject

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/searchktools/ampd/rpc/client"
	"github.com/searchktools/ampd/rpc/eventual"
	"github.com/searchktools/ampd/rpc/protocol"
)

type queuedCall struct {
	method     string
	args       []interface{}
	kwargs     map[string]interface{}
	sink       *eventual.Value
	deadlineAt time.Time // zero means no deadline
	timer      clockwork.Timer
}

// Object is the local handle a caller invokes methods on.
type Object struct {
	mu               sync.Mutex
	proto            *client.Protocol
	retryOnReconnect bool
	deadline         time.Duration
	methods          map[string]struct{} // nil/empty: no restriction beyond the peer's own allow-list
	queue            []*queuedCall
	clock            clockwork.Clock
}

// Option configures an Object.
type Option func(*Object)

// WithRetryOnReconnect enables queue-and-replay while disconnected (spec
// §4.5, §4.7 "retry_on_reconnect").
func WithRetryOnReconnect(enabled bool) Option {
	return func(o *Object) { o.retryOnReconnect = enabled }
}

// WithDeadline sets the hard wall-clock deadline applied to a call across
// any number of retries (spec §4.7 "timeout").
func WithDeadline(d time.Duration) Option {
	return func(o *Object) { o.deadline = d }
}

// WithMethods restricts Call to the given allow-listed names (spec §4.7
// "methods"), mirroring the peer's own allow-list locally.
func WithMethods(methods []string) Option {
	return func(o *Object) {
		o.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			o.methods[m] = struct{}{}
		}
	}
}

// WithClock substitutes the clock/timer source used for deadlines.
func WithClock(c clockwork.Clock) Option {
	return func(o *Object) { o.clock = c }
}

// New returns a disconnected Object.
func New(opts ...Option) *Object {
	o := &Object{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Call invokes method on the peer. If currently connected it forwards
// immediately; otherwise, per retryOnReconnect, it either fails fast with
// ConnectionLost or queues the call for replay on the next reconnect.
func (o *Object) Call(method string, args []interface{}, kwargs map[string]interface{}) *eventual.Value {
	sink := eventual.New()

	if len(o.methods) > 0 {
		if _, ok := o.methods[method]; !ok {
			sink.Reject(protocol.NewCallError(protocol.CodeMethodNotAllowed, "Forbidden method '"+method+"'"))
			return sink
		}
	}

	o.mu.Lock()
	if o.proto != nil && o.proto.Connected() {
		proto := o.proto
		o.mu.Unlock()
		return proto.CallInto(sink, method, args, kwargs)
	}

	if !o.retryOnReconnect {
		o.mu.Unlock()
		sink.Reject(protocol.NewCallError(protocol.CodeConnectionLost, "not connected"))
		return sink
	}

	qc := &queuedCall{method: method, args: args, kwargs: kwargs, sink: sink}
	if o.deadline > 0 {
		qc.deadlineAt = o.clock.Now().Add(o.deadline)
		qc.timer = o.clock.AfterFunc(o.deadline, func() { o.expire(qc) })
	}
	o.queue = append(o.queue, qc)
	o.mu.Unlock()
	return sink
}

// expire removes qc from the queue (if still present) and fails its sink
// with CallTimedOut. The sink is rejected even if qc already left the
// queue; eventual.Value.Reject is idempotent, so a sink that already
// fired (answered, or expired earlier) is left as it was and a race
// between expiry and dispatch never double-fires it.
func (o *Object) expire(qc *queuedCall) {
	o.mu.Lock()
	for i, c := range o.queue {
		if c == qc {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
	qc.sink.Reject(protocol.NewCallError(protocol.CodeCallTimedOut, "timeout"))
}

// OnReconnect binds a freshly (re)connected protocol and drains the
// pending queue in FIFO order (spec §4.5, §8: "replay order equals
// enqueue order").
func (o *Object) OnReconnect(p *client.Protocol) {
	o.mu.Lock()
	o.proto = p
	pending := o.queue
	o.queue = nil
	o.mu.Unlock()

	o.drain(pending)
}

// drain forwards each queued call in order. If it discovers — by
// re-reading the live protocol reference under the lock, immediately
// before forwarding — that the protocol bound at OnReconnect time is
// already gone (the reconnect→immediate-drop race spec §9 calls out),
// it pushes the remainder of the batch back onto the front of the queue
// and returns, to be retried on the next reconnect notification.
func (o *Object) drain(pending []*queuedCall) {
	for i, qc := range pending {
		if !qc.deadlineAt.IsZero() && o.clock.Now().After(qc.deadlineAt) {
			qc.sink.Reject(protocol.NewCallError(protocol.CodeCallTimedOut, "timeout"))
			continue
		}

		o.mu.Lock()
		proto := o.proto
		o.mu.Unlock()
		if proto == nil || !proto.Connected() {
			o.mu.Lock()
			o.queue = append(append([]*queuedCall{}, pending[i:]...), o.queue...)
			o.mu.Unlock()
			return
		}

		if qc.timer != nil {
			qc.timer.Stop()
		}
		proto.CallInto(qc.sink, qc.method, qc.args, qc.kwargs)
	}
}

// Shutdown cancels every queued call with ConnectionLost, unbinds the
// protocol and turns off queue-and-replay, so later calls fail fast with
// ConnectionLost. Calls already in flight on the unbound protocol are not
// touched here; they fail with ConnectionLost when that protocol closes
// (rpc.Creator.Disconnect closes it through the factory).
func (o *Object) Shutdown() {
	o.mu.Lock()
	o.proto = nil
	o.retryOnReconnect = false
	queue := o.queue
	o.queue = nil
	o.mu.Unlock()

	for _, qc := range queue {
		if qc.timer != nil {
			qc.timer.Stop()
		}
		qc.sink.Reject(protocol.NewCallError(protocol.CodeConnectionLost, "disconnected"))
	}
}
