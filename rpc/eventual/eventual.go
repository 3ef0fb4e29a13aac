// Package eventual implements the caller-visible future used throughout
// ampd: a handle that will later carry either a result or an error.
//
// The same type backs two distinct roles (spec note: keep them
// conceptually separate even when the underlying type is shared): the
// client-visible return value of a remote call, and a server handler's
// signal that its result isn't known yet. Server code never lets a
// *Value cross the wire directly — rpc/server allocates a ticket and
// resolves the Value internally; rpc/client allocates a fresh Value per
// outbound call and resolves it from inbound frames. The sharing is an
// implementation convenience, not a protocol concept.
package eventual

import (
	"context"
	"sync"
)

// Value is resolved exactly once, by either Resolve or Reject.
type Value struct {
	mu     sync.Mutex
	done   chan struct{}
	result interface{}
	err    error
	fired  bool
}

// New returns an unresolved Value.
func New() *Value {
	return &Value{done: make(chan struct{})}
}

// Resolve fires the value with a result. No-op if already fired.
func (v *Value) Resolve(result interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fired {
		return
	}
	v.fired = true
	v.result = result
	close(v.done)
}

// Reject fires the value with an error. No-op if already fired.
func (v *Value) Reject(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fired {
		return
	}
	v.fired = true
	v.err = err
	close(v.done)
}

// Done returns a channel closed once the value has fired.
func (v *Value) Done() <-chan struct{} {
	return v.done
}

// Peek returns the result/error without blocking if already fired.
func (v *Value) Peek() (result interface{}, err error, fired bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result, v.err, v.fired
}

// Wait blocks until the value fires or ctx is done.
func (v *Value) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-v.done:
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.result, v.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
