/*
Package ampd provides a remote method-call transport for Linux system
agents: a length-framed binary protocol over a Unix-domain stream
socket, with allow-listed method dispatch, deferred (pending-ticket)
results, and a reconnecting client with queue-and-replay semantics.

Features

  - Length-framed, self-describing wire grammar (null/bool/int64/
    float64/string/bytes/list/map), capped at 65535 bytes per frame
  - Allow-list method dispatch: handlers are registered by name, never
    discovered by reflection
  - Deferred results: a handler may return before its result is ready;
    the server tracks it by a pending ticket and pushes the result
    later over the same connection
  - A reconnecting client factory with exponential backoff, and a local
    RemoteObject adapter that queues calls made while disconnected and
    replays them in order on reconnect

Quick Start

	package main

	import (
	    "context"

	    "github.com/searchktools/ampd/config"
	    "github.com/searchktools/ampd/rpc/registry"
	    "github.com/searchktools/ampd/rpc/server"
	)

	func main() {
	    cfg := config.New()

	    reg := registry.New()
	    reg.Register("ping", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	        return "pong", nil
	    })

	    srv := server.NewServer(reg)
	    srv.ListenAndServe(cfg.SocketPath)
	}

Modules

The transport is organized into several packages:

  - config: configuration loading
  - rpc/wire: the length-framed codec and value grammar
  - rpc/protocol: request/response/result-available frame shapes
  - rpc/registry: the allow-list method table
  - rpc/server: connection handling, dispatch and the pending-ticket table
  - rpc/client: the client side of one connection
  - rpc/remoteobject: the local stand-in for the peer object
  - rpc/reconnect: the reconnecting client factory
  - rpc/eventual: the eventual (future) value primitive
  - rpc: the top-level RemoteObject Creator façade
  - internal/sockcred: SO_PEERCRED diagnostics for accepted connections
  - internal/rtune: GC tuning for the long-lived daemon process
*/
package ampd
