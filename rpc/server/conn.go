// Package server implements the server side of one connection: frame
// decode, allow-list dispatch, and pending-ticket bookkeeping (spec
// §4.2, §4.3).
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/searchktools/ampd/rpc/eventual"
	"github.com/searchktools/ampd/rpc/protocol"
	"github.com/searchktools/ampd/rpc/registry"
	"github.com/searchktools/ampd/rpc/wire"
)

// Protocol serves one accepted connection against a shared Registry.
type Protocol struct {
	conn     net.Conn
	registry *registry.Registry
	dispatch *dispatcher
	pending  *pendingTable

	writeMu sync.Mutex
	closed  sync.Once
}

// NewProtocol wraps conn, dispatching allow-listed calls from reg.
func NewProtocol(conn net.Conn, reg *registry.Registry) *Protocol {
	return &Protocol{
		conn:     conn,
		registry: reg,
		dispatch: newDispatcher(0),
		pending:  newPendingTable(),
	}
}

// Serve reads frames until the connection closes or a framing error
// forces it closed. It blocks; callers typically run it in a goroutine
// per accepted connection.
func (p *Protocol) Serve() error {
	defer p.Close()
	for {
		body, err := wire.ReadFrame(p.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		reqBody, err := wire.DecodeBody(body)
		if err != nil {
			// The wire itself is inconsistent: drop the connection (spec §7).
			return err
		}
		if !protocol.IsRequest(reqBody) {
			return errors.New("server: unexpected frame, only requests are accepted")
		}
		req, err := protocol.DecodeRequest(reqBody)
		if err != nil {
			return err
		}

		p.dispatch.submit(func() { p.handleRequest(req) })
	}
}

func (p *Protocol) handleRequest(req *protocol.Request) {
	handler, ok := p.registry.Lookup(req.Method)
	if !ok {
		notAllowed := &registry.ErrNotAllowed{Name: req.Method}
		p.writeError(req.Seq, protocol.NewCallError(protocol.CodeMethodNotAllowed, notAllowed.Error()))
		return
	}

	result, err := handler(context.Background(), req.Args, req.Kwargs)
	if err != nil {
		p.writeError(req.Seq, protocol.NewCallError(protocol.CodeMethodFailed, err.Error()))
		return
	}

	if pendingValue, ok := result.(*eventual.Value); ok {
		p.handleDeferred(req.Seq, pendingValue)
		return
	}

	if err := wire.ValidateValue(result); err != nil {
		p.writeError(req.Seq, protocol.NewCallError(protocol.CodeUnserializableResult, err.Error()))
		return
	}

	body, err := protocol.EncodeResult(req.Seq, result)
	if err != nil {
		p.writeError(req.Seq, protocol.NewCallError(protocol.CodeUnserializableResult, err.Error()))
		return
	}
	p.write(body)
}

func (p *Protocol) handleDeferred(seq uint32, v *eventual.Value) {
	ticket := uuid.NewString()
	abandoned := p.pending.add(ticket, v)

	body, err := protocol.EncodeDeferred(seq, ticket)
	if err != nil {
		p.pending.release(ticket)
		p.writeError(seq, protocol.NewCallError(protocol.CodeUnserializableResult, err.Error()))
		return
	}
	p.write(body)

	go func() {
		select {
		case <-v.Done():
			p.pending.release(ticket)
			result, err := v.Wait(context.Background())
			if err != nil {
				p.writeResultAvailableError(ticket, err)
				return
			}
			if verr := wire.ValidateValue(result); verr != nil {
				p.writeResultAvailableError(ticket, protocol.NewCallError(protocol.CodeUnserializableResult, verr.Error()))
				return
			}
			body, err := protocol.EncodeResultAvailable(ticket, result)
			if err != nil {
				p.writeResultAvailableError(ticket, protocol.NewCallError(protocol.CodeUnserializableResult, err.Error()))
				return
			}
			p.write(body)
		case <-abandoned:
			// Connection gone before the value resolved; nothing to send.
		}
	}()
}

func (p *Protocol) writeResultAvailableError(ticket string, err error) {
	var callErr *protocol.CallError
	if !errors.As(err, &callErr) {
		callErr = protocol.NewCallError(protocol.CodeMethodFailed, err.Error())
	}
	body, encErr := protocol.EncodeResultAvailableError(ticket, callErr)
	if encErr != nil {
		log.Printf("server: dropping unencodable deferred error for ticket %s: %v", ticket, encErr)
		return
	}
	p.write(body)
}

func (p *Protocol) writeError(seq uint32, callErr *protocol.CallError) {
	body, err := protocol.EncodeError(seq, callErr)
	if err != nil {
		log.Printf("server: dropping unencodable error for seq %d: %v", seq, err)
		return
	}
	p.write(body)
}

func (p *Protocol) write(body []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := wire.WriteFrame(p.conn, body); err != nil {
		log.Printf("server: write error: %v", err)
	}
}

// Close terminates the connection and abandons every outstanding ticket.
func (p *Protocol) Close() error {
	var err error
	p.closed.Do(func() {
		p.pending.abandon()
		p.dispatch.close()
		err = p.conn.Close()
	})
	return err
}
