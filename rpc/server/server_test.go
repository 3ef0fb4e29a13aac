package server_test

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/ampd/rpc/client"
	"github.com/searchktools/ampd/rpc/eventual"
	"github.com/searchktools/ampd/rpc/protocol"
	"github.com/searchktools/ampd/rpc/registry"
	"github.com/searchktools/ampd/rpc/server"
)

func dial(t *testing.T, socketPath string, opts ...client.Option) *client.Protocol {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	return client.New(conn, opts...)
}

func startServer(t *testing.T, reg *registry.Registry) (socketPath string, srv *server.Server) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "ampd.sock")
	srv = server.NewServer(reg)

	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return socketPath, srv
}

func TestServer_Client_ImmediateSuccess(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("ping", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "pong", nil
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	result, err := p.Call("ping", nil, nil).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
}

func TestServer_Client_ForbiddenMethod(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	_, err := p.Call("secret", nil, nil).Wait(context.Background())
	require.Error(t, err)
	var callErr *protocol.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeMethodNotAllowed, callErr.Code)
}

func TestServer_Client_DeferredResultResolvesLater(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("slow", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		v := eventual.New()
		go func() {
			time.Sleep(20 * time.Millisecond)
			v.Resolve("done")
		}()
		return v, nil
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := p.Call("slow", nil, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestServer_Client_DeferredMethodFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("slowFail", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		v := eventual.New()
		go func() {
			time.Sleep(10 * time.Millisecond)
			v.Reject(protocol.NewCallError(protocol.CodeMethodFailed, "deferred boom"))
		}()
		return v, nil
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := p.Call("slowFail", nil, nil).Wait(ctx)
	require.Error(t, err)
	var callErr *protocol.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeMethodFailed, callErr.Code)
}

func TestServer_Client_PendingTimeoutFiresWhenDeferredNeverResolves(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	never := make(chan struct{})
	t.Cleanup(func() { close(never) })
	reg.Register("hang", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		v := eventual.New()
		go func() { <-never }() // never resolves within the test
		return v, nil
	})
	socketPath, _ := startServer(t, reg)

	// The response timeout is far beyond anything advanced below, so only
	// the pending timer can fail the call.
	fakeClock := clockwork.NewFakeClock()
	p := dial(t, socketPath, client.WithClock(fakeClock),
		client.WithResponseTimeout(time.Hour), client.WithPendingTimeout(time.Second))
	defer p.Close()

	sink := p.Call("hang", nil, nil)

	// The response timer is armed as soon as Call returns, so one waiter
	// on the fake clock does not yet mean the _answer/deferred frame has
	// arrived. Keep advancing past the pending timeout until the pending
	// timer, armed once that frame arrives, fires.
	blockCtx, blockCancel := context.WithTimeout(context.Background(), time.Second)
	defer blockCancel()
	require.NoError(t, fakeClock.BlockUntilContext(blockCtx, 1))
	for {
		fakeClock.Advance(2 * time.Second)
		select {
		case <-sink.Done():
		case <-blockCtx.Done():
			t.Fatal("pending timeout never fired")
		case <-time.After(10 * time.Millisecond):
			continue
		}
		break
	}

	_, err := sink.Wait(context.Background())
	require.Error(t, err)
	var callErr *protocol.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeCallTimedOut, callErr.Code)
}

func TestServer_Client_UnserializableResult(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("broken", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return struct{ X int }{X: 1}, nil
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	_, err := p.Call("broken", nil, nil).Wait(context.Background())
	require.Error(t, err)
	var callErr *protocol.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeUnserializableResult, callErr.Code)
}

// TestServer_Client_GoogleFixture_FiveDeferredOutcomes reproduces the
// five distinct resolution outcomes the original AMP test suite drove
// from one method keyed on its string argument: synchronous success,
// asynchronous success, synchronous failure, asynchronous failure, and
// (separately, via a hard deadline on the caller's context) a query
// that never resolves.
func TestServer_Client_GoogleFixture_FiveDeferredOutcomes(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("google", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		query, _ := args[0].(string)
		switch query {
		case "Easy query":
			return "synchronous result", nil
		case "Censored":
			return nil, protocol.NewCallError(protocol.CodeMethodFailed, "censored")
		case "Landscape":
			v := eventual.New()
			go func() {
				time.Sleep(10 * time.Millisecond)
				v.Resolve("landscape result")
			}()
			return v, nil
		case "Weird stuff":
			v := eventual.New()
			go func() {
				time.Sleep(10 * time.Millisecond)
				v.Reject(protocol.NewCallError(protocol.CodeMethodFailed, "weird stuff failed"))
			}()
			return v, nil
		case "Long query":
			v := eventual.New() // deliberately never resolved within the test
			return v, nil
		default:
			return nil, protocol.NewCallError(protocol.CodeMethodFailed, "unknown query")
		}
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := p.Call("google", []interface{}{"Easy query"}, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "synchronous result", result)

	_, err = p.Call("google", []interface{}{"Censored"}, nil).Wait(ctx)
	require.Error(t, err)
	var callErr *protocol.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeMethodFailed, callErr.Code)

	result, err = p.Call("google", []interface{}{"Landscape"}, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "landscape result", result)

	_, err = p.Call("google", []interface{}{"Weird stuff"}, nil).Wait(ctx)
	require.Error(t, err)
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, protocol.CodeMethodFailed, callErr.Code)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err = p.Call("google", []interface{}{"Long query"}, nil).Wait(shortCtx)
	require.Error(t, err, "a query that never resolves must not hang forever")
}

func TestServer_Client_ArgsAndKwargsRoundTrip(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("sum", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		a := args[0].(int64)
		b := kwargs["addend"].(int64)
		return a + b, nil
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	result, err := p.Call("sum", []interface{}{int64(2)}, map[string]interface{}{"addend": int64(3)}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), result)
}

// TestServer_Client_KwargsWithPositionalDefaults mirrors the original
// AMP suite's lower_case(word, index=None): the handler receives the
// full kwargs map and applies its own default when a named argument is
// omitted.
func TestServer_Client_KwargsWithPositionalDefaults(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register("lowerCase", func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		word, _ := args[0].(string)
		lower := strings.ToLower(word)
		index, ok := kwargs["index"].(int64)
		if !ok {
			return lower, nil
		}
		return lower + "@" + strconv.FormatInt(index, 10), nil
	})
	socketPath, _ := startServer(t, reg)

	p := dial(t, socketPath)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := p.Call("lowerCase", []interface{}{"HELLO"}, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", result)

	result, err = p.Call("lowerCase", []interface{}{"WORLD"}, map[string]interface{}{"index": int64(3)}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "world@3", result)
}

func TestServer_Shutdown_ClosesLiveConnections(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	socketPath := filepath.Join(t.TempDir(), "ampd.sock")
	srv := server.NewServer(reg)
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	go srv.Serve(ln)

	p := dial(t, socketPath)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("client protocol was not closed by server shutdown")
	}
}
