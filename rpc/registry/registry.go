// Package registry implements the server-side allow-list: the explicit
// set of method names a protocol instance is willing to dispatch (spec
// §4.2, design note in spec §9 — no reflection-based discovery of a
// bound object's members, the allow-list itself is the registration).
package registry

import (
	"context"
	"fmt"
	"sync"
)

// Handler is a remotely callable method. It receives the call's
// positional and named arguments and returns either an ordinary value
// (validated against the wire value grammar before being sent back) or
// an *eventual.Value when the result isn't known yet — rpc/server
// recognizes that type specially and allocates a pending ticket instead
// of encoding the return value directly.
type Handler func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Registry is the allow-list for one bound target: a fixed set of names,
// each mapped to the Handler that serves it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds name to the allow-list, bound to h. Registering the same
// name twice replaces the previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler bound to name, or false if name is not
// allow-listed.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the allow-listed method names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}

// ErrNotAllowed carries the name that was rejected.
type ErrNotAllowed struct {
	Name string
}

func (e *ErrNotAllowed) Error() string {
	return fmt.Sprintf("registry: %q is not allow-listed", e.Name)
}
