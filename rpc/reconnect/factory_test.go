package reconnect

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/ampd/rpc/client"
)

func TestReconnect_Factory_NotifiesOnConnect(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "ampd.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	notified := make(chan *client.Protocol, 1)
	fa := New(socketPath, func(p *client.Protocol) { notified <- p })
	fa.Start()
	t.Cleanup(fa.StopTrying)

	select {
	case p := <-notified:
		require.NotNil(t, p)
	case <-time.After(time.Second):
		t.Fatal("factory never notified a successful connection")
	}
}

func TestReconnect_Factory_RetriesWithBackoffUntilListenerAppears(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "ampd.sock")
	clock := clockwork.NewFakeClock()

	notified := make(chan *client.Protocol, 1)
	fa := New(socketPath, func(p *client.Protocol) { notified <- p },
		WithClock(clock), WithInitialDelay(10*time.Millisecond), WithMaxDelay(time.Second))
	fa.Start()
	t.Cleanup(fa.StopTrying)

	// No listener yet: the factory must be backed off, waiting on the clock.
	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))

	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	clock.Advance(time.Second)

	select {
	case p := <-notified:
		require.NotNil(t, p)
	case <-time.After(time.Second):
		t.Fatal("factory never connected after listener appeared")
	}
}

func TestReconnect_Factory_StopTryingHaltsRetriesAndClosesCurrent(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "ampd.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	notified := make(chan *client.Protocol, 1)
	fa := New(socketPath, func(p *client.Protocol) {
		select {
		case notified <- p:
		default:
		}
	})
	fa.Start()

	var p *client.Protocol
	select {
	case p = <-notified:
	case <-time.After(time.Second):
		t.Fatal("factory never connected")
	}

	fa.StopTrying()

	select {
	case <-fa.Done():
	case <-time.After(time.Second):
		t.Fatal("factory did not report Done after StopTrying")
	}
	assert.Nil(t, fa.Current())
	assert.False(t, p.Connected())
}

func TestReconnect_Factory_BackoffExhaustedFiresWhenMaxElapsedTimeConfigured(t *testing.T) {
	t.Parallel()

	// No listener ever appears at this path, so every dial fails.
	socketPath := filepath.Join(t.TempDir(), "nobody-home.sock")
	clock := clockwork.NewFakeClock()

	exhausted := make(chan error, 1)
	fa := New(socketPath, func(p *client.Protocol) {},
		WithClock(clock),
		WithInitialDelay(10*time.Millisecond),
		WithMaxElapsedTime(50*time.Millisecond),
		WithBackoffExhausted(func(err error) { exhausted <- err }))
	fa.Start()
	t.Cleanup(fa.StopTrying)

	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	clock.Advance(time.Hour)

	select {
	case err := <-exhausted:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("onExhausted was never called")
	}
}
