package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/ampd/rpc/wire"
)

func TestProtocol_Request_RoundTrip(t *testing.T) {
	t.Parallel()

	req := &Request{
		Seq:    7,
		Method: "ping",
		Args:   []interface{}{int64(1)},
		Kwargs: map[string]interface{}{"k": "v"},
	}
	body, err := req.Encode()
	require.NoError(t, err)

	decodedBody, err := wire.DecodeBody(body)
	require.NoError(t, err)
	require.True(t, IsRequest(decodedBody))
	require.False(t, IsResponse(decodedBody))

	got, err := DecodeRequest(decodedBody)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestProtocol_Response_ImmediateResult(t *testing.T) {
	t.Parallel()

	body, err := EncodeResult(3, "pong")
	require.NoError(t, err)

	decodedBody, err := wire.DecodeBody(body)
	require.NoError(t, err)
	require.True(t, IsResponse(decodedBody))

	resp, err := DecodeResponse(decodedBody)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), resp.Seq)
	assert.Equal(t, "pong", resp.Result)
	assert.False(t, resp.HasDeferred)
	assert.Nil(t, resp.Err)
}

func TestProtocol_Response_Deferred(t *testing.T) {
	t.Parallel()

	body, err := EncodeDeferred(3, "ticket-1")
	require.NoError(t, err)

	decodedBody, err := wire.DecodeBody(body)
	require.NoError(t, err)

	resp, err := DecodeResponse(decodedBody)
	require.NoError(t, err)
	assert.True(t, resp.HasDeferred)
	assert.Equal(t, "ticket-1", resp.Deferred)
}

func TestProtocol_Response_Error(t *testing.T) {
	t.Parallel()

	callErr := NewCallError(CodeMethodNotAllowed, "Forbidden method 'secret'")
	body, err := EncodeError(3, callErr)
	require.NoError(t, err)

	decodedBody, err := wire.DecodeBody(body)
	require.NoError(t, err)

	resp, err := DecodeResponse(decodedBody)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
	assert.Equal(t, callErr.Code, resp.Err.Code)
	assert.Equal(t, callErr.Description, resp.Err.Description)
}

func TestProtocol_ResultAvailable_RoundTrip(t *testing.T) {
	t.Parallel()

	body, err := EncodeResultAvailable("ticket-1", int64(99))
	require.NoError(t, err)

	decodedBody, err := wire.DecodeBody(body)
	require.NoError(t, err)
	require.True(t, IsResultAvailable(decodedBody))

	ra, err := DecodeResultAvailable(decodedBody)
	require.NoError(t, err)
	assert.Equal(t, "ticket-1", ra.Ticket)
	assert.Equal(t, int64(99), ra.Result)
	assert.Nil(t, ra.Err)
}

func TestProtocol_ResultAvailable_Error(t *testing.T) {
	t.Parallel()

	callErr := NewCallError(CodeMethodFailed, "boom")
	body, err := EncodeResultAvailableError("ticket-2", callErr)
	require.NoError(t, err)

	decodedBody, err := wire.DecodeBody(body)
	require.NoError(t, err)

	ra, err := DecodeResultAvailable(decodedBody)
	require.NoError(t, err)
	require.NotNil(t, ra.Err)
	assert.Equal(t, CodeMethodFailed, ra.Err.Code)
}

func TestProtocol_CallError_Error(t *testing.T) {
	t.Parallel()

	err := NewCallError(CodeCallTimedOut, "timeout")
	assert.Equal(t, "CallTimedOut: timeout", err.Error())
}
