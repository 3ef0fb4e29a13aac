// Package client implements the client side of one connection: request
// correlation by sequence number, result-available matching by ticket,
// and per-call response/pending timeouts (spec §4.4).
package client

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/searchktools/ampd/rpc/eventual"
	"github.com/searchktools/ampd/rpc/protocol"
	"github.com/searchktools/ampd/rpc/wire"
)

const (
	// DefaultResponseTimeout is the default wait for an `_answer` (spec §4.4).
	DefaultResponseTimeout = 60 * time.Second
	// DefaultPendingTimeout is the default wait for a `_result_available`
	// after a pending ticket has been observed (spec §4.4).
	DefaultPendingTimeout = 60 * time.Second
)

type callState struct {
	sink   *eventual.Value
	timer  clockwork.Timer
	ticket string
}

// Protocol is a live client-side connection.
type Protocol struct {
	conn net.Conn
	seq  atomic.Uint32

	mu          sync.Mutex
	inFlight    map[uint32]*callState
	ticketToSeq map[string]uint32

	responseTimeout time.Duration
	pendingTimeout  time.Duration
	clock           clockwork.Clock

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithResponseTimeout overrides DefaultResponseTimeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.responseTimeout = d }
}

// WithPendingTimeout overrides DefaultPendingTimeout.
func WithPendingTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.pendingTimeout = d }
}

// WithClock substitutes the clock/timer source (spec §1: the transport
// "consumes a clock/timer source... from the hosting runtime"); tests use
// clockwork.NewFakeClock() instead of sleeping.
func WithClock(c clockwork.Clock) Option {
	return func(p *Protocol) { p.clock = c }
}

// New wraps conn as a client protocol and starts its receive loop.
func New(conn net.Conn, opts ...Option) *Protocol {
	p := &Protocol{
		conn:            conn,
		inFlight:        make(map[uint32]*callState),
		ticketToSeq:     make(map[string]uint32),
		responseTimeout: DefaultResponseTimeout,
		pendingTimeout:  DefaultPendingTimeout,
		clock:           clockwork.NewRealClock(),
		closed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.receive()
	return p
}

// Connected reports whether the connection is still live.
func (p *Protocol) Connected() bool {
	select {
	case <-p.closed:
		return false
	default:
		return true
	}
}

// Done returns a channel closed once the connection has terminated, for
// callers (the reconnecting factory) that need to wait on it.
func (p *Protocol) Done() <-chan struct{} {
	return p.closed
}

// Call issues a request and returns its eventual result. Sequence
// numbers increase monotonically per connection (spec §3 invariant);
// they naturally reset because a fresh Protocol is created per
// connection.
func (p *Protocol) Call(method string, args []interface{}, kwargs map[string]interface{}) *eventual.Value {
	return p.CallInto(eventual.New(), method, args, kwargs)
}

// CallInto is Call but resolves an existing sink rather than allocating
// a fresh one — used by rpc/remoteobject to replay a queued call without
// handing the caller a second eventual value for the same retry.
func (p *Protocol) CallInto(sink *eventual.Value, method string, args []interface{}, kwargs map[string]interface{}) *eventual.Value {
	if !p.Connected() {
		sink.Reject(protocol.NewCallError(protocol.CodeConnectionLost, "connection closed"))
		return sink
	}

	seq := p.seq.Add(1)
	req := &protocol.Request{Seq: seq, Method: method, Args: args, Kwargs: kwargs}
	body, err := req.Encode()
	if err != nil {
		sink.Reject(protocol.NewCallError(protocol.CodeUnserializableValue, err.Error()))
		return sink
	}

	st := &callState{sink: sink}
	p.mu.Lock()
	p.inFlight[seq] = st
	p.mu.Unlock()
	st.timer = p.clock.AfterFunc(p.responseTimeout, func() { p.onTimeout(seq) })

	if err := p.write(body); err != nil {
		p.mu.Lock()
		delete(p.inFlight, seq)
		p.mu.Unlock()
		st.timer.Stop()
		sink.Reject(protocol.NewCallError(protocol.CodeConnectionLost, err.Error()))
		return sink
	}
	return sink
}

func (p *Protocol) write(body []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return wire.WriteFrame(p.conn, body)
}

func (p *Protocol) receive() {
	for {
		body, err := wire.ReadFrame(p.conn)
		if err != nil {
			p.Close()
			return
		}
		frameBody, err := wire.DecodeBody(body)
		if err != nil {
			p.Close()
			return
		}

		switch {
		case protocol.IsResponse(frameBody):
			resp, err := protocol.DecodeResponse(frameBody)
			if err != nil {
				p.Close()
				return
			}
			p.handleResponse(resp)

		case protocol.IsResultAvailable(frameBody):
			ra, err := protocol.DecodeResultAvailable(frameBody)
			if err != nil {
				p.Close()
				return
			}
			p.handleResultAvailable(ra)

		default:
			log.Printf("client: ignoring unrecognized frame")
		}
	}
}

func (p *Protocol) handleResponse(resp *protocol.Response) {
	p.mu.Lock()
	st, ok := p.inFlight[resp.Seq]
	if !ok {
		p.mu.Unlock()
		return // timed out already, or a stray duplicate
	}

	if resp.Err != nil {
		delete(p.inFlight, resp.Seq)
		if st.ticket != "" {
			delete(p.ticketToSeq, st.ticket)
		}
		p.mu.Unlock()
		st.timer.Stop()
		st.sink.Reject(resp.Err)
		return
	}

	if resp.HasDeferred {
		st.timer.Stop()
		st.ticket = resp.Deferred
		st.timer = p.clock.AfterFunc(p.pendingTimeout, func() { p.onTimeout(resp.Seq) })
		p.ticketToSeq[resp.Deferred] = resp.Seq
		p.mu.Unlock()
		return
	}

	delete(p.inFlight, resp.Seq)
	p.mu.Unlock()
	st.timer.Stop()
	st.sink.Resolve(resp.Result)
}

func (p *Protocol) handleResultAvailable(ra *protocol.ResultAvailable) {
	p.mu.Lock()
	seq, ok := p.ticketToSeq[ra.Ticket]
	if !ok {
		p.mu.Unlock()
		return
	}
	st := p.inFlight[seq]
	delete(p.inFlight, seq)
	delete(p.ticketToSeq, ra.Ticket)
	p.mu.Unlock()

	st.timer.Stop()
	if ra.Err != nil {
		st.sink.Reject(ra.Err)
		return
	}
	st.sink.Resolve(ra.Result)
}

func (p *Protocol) onTimeout(seq uint32) {
	p.mu.Lock()
	st, ok := p.inFlight[seq]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inFlight, seq)
	if st.ticket != "" {
		delete(p.ticketToSeq, st.ticket)
	}
	p.mu.Unlock()
	st.sink.Reject(protocol.NewCallError(protocol.CodeCallTimedOut, "timeout"))
}

// Close terminates the connection, failing every outstanding call with
// ConnectionLost.
func (p *Protocol) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)

		p.mu.Lock()
		inFlight := p.inFlight
		p.inFlight = make(map[uint32]*callState)
		p.ticketToSeq = make(map[string]uint32)
		p.mu.Unlock()

		for _, st := range inFlight {
			st.timer.Stop()
			st.sink.Reject(protocol.NewCallError(protocol.CodeConnectionLost, "connection closed"))
		}

		err = p.conn.Close()
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
	})
	return err
}
