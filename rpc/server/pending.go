package server

import (
	"sync"

	"github.com/searchktools/ampd/rpc/eventual"
)

// pendingTable is the per-connection ticket → eventual-value map (spec
// §4.3). Tickets are abandoned, not resolved, once the connection that
// issued them is gone.
type pendingTable struct {
	mu      sync.Mutex
	tickets map[string]*eventual.Value
	closed  chan struct{}
	once    sync.Once
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		tickets: make(map[string]*eventual.Value),
		closed:  make(chan struct{}),
	}
}

// add registers ticket -> value and returns the connection's abandonment
// channel, closed when the connection goes away.
func (p *pendingTable) add(ticket string, v *eventual.Value) <-chan struct{} {
	p.mu.Lock()
	p.tickets[ticket] = v
	p.mu.Unlock()
	return p.closed
}

// release removes ticket, e.g. once it has resolved.
func (p *pendingTable) release(ticket string) {
	p.mu.Lock()
	delete(p.tickets, ticket)
	p.mu.Unlock()
}

// abandon discards every outstanding ticket without resolving it; called
// once when the connection terminates.
func (p *pendingTable) abandon() {
	p.once.Do(func() {
		p.mu.Lock()
		p.tickets = make(map[string]*eventual.Value)
		p.mu.Unlock()
		close(p.closed)
	})
}
