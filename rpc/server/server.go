package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/searchktools/ampd/internal/sockcred"
	"github.com/searchktools/ampd/rpc/registry"
)

// Server owns a Unix-domain socket listener for its lifetime (spec §5:
// "the Unix socket listener is owned by the server factory"); each
// accepted connection gets its own Protocol, codec state and pending
// table — no state is shared across connections.
type Server struct {
	registry *registry.Registry
	listener net.Listener

	mu      sync.Mutex
	conns   map[*Protocol]struct{}
	closing bool
}

// NewServer returns a Server dispatching against reg.
func NewServer(reg *registry.Registry) *Server {
	return &Server{
		registry: reg,
		conns:    make(map[*Protocol]struct{}),
	}
}

// ListenAndServe listens on the given Unix-domain socket path and serves
// connections until Shutdown is called or Serve returns an error.
func (s *Server) ListenAndServe(socketPath string) error {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", socketPath, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		if peer, ok := sockcred.Lookup(conn); ok {
			log.Printf("server: accepted connection from %s", peer)
		}

		proto := NewProtocol(conn, s.registry)
		s.track(proto, true)
		go func() {
			defer s.track(proto, false)
			if err := proto.Serve(); err != nil {
				log.Printf("server: connection closed: %v", err)
			}
		}()
	}
}

func (s *Server) track(p *Protocol, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[p] = struct{}{}
	} else {
		delete(s.conns, p)
	}
}

// Shutdown stops accepting new connections and closes every live one.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	conns := make([]*Protocol, 0, len(s.conns))
	for p := range s.conns {
		conns = append(conns, p)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, p := range conns {
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		for {
			s.mu.Lock()
			n := len(s.conns)
			s.mu.Unlock()
			if n == 0 {
				close(done)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
