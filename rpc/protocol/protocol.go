// Package protocol defines the reserved body keys and frame kinds
// exchanged over a connection: requests, responses and unsolicited
// result-available notifications (spec §4.1, §6).
package protocol

import (
	"fmt"

	"github.com/searchktools/ampd/rpc/wire"
)

// Reserved top-level body keys.
const (
	keyCommand         = "_command"
	keyAsk             = "_ask"
	keyMethod          = "method"
	keyArgs            = "args"
	keyKwargs          = "kwargs"
	keyAnswer          = "_answer"
	keyResult          = "result"
	keyDeferred        = "deferred"
	keyError           = "_error"
	keyErrorCode       = "code"
	keyErrorDesc       = "description"
	keyResultAvailable = "_result_available"
)

// commandMethodCall is the literal tag identifying a method-call request.
const commandMethodCall = "MethodCall"

// Error codes (spec §7).
const (
	CodeMethodNotAllowed     = "MethodNotAllowed"
	CodeMethodFailed         = "MethodFailed"
	CodeUnserializableValue  = "UnserializableValue"
	CodeUnserializableResult = "UnserializableResult"
	CodeCallTimedOut         = "CallTimedOut"
	CodeConnectionLost       = "ConnectionLost"
	CodeBackoffExhausted     = "BackoffExhausted"
)

// CallError is the typed error surfaced to a caller for anything the
// server understood but could not fulfil, or that the client protocol
// detected locally (timeout, connection loss).
type CallError struct {
	Code        string
	Description string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewCallError builds a *CallError.
func NewCallError(code, description string) *CallError {
	return &CallError{Code: code, Description: description}
}

// Request is the decoded form of a `_command`/`_ask` frame.
type Request struct {
	Seq    uint32
	Method string
	Args   []interface{}
	Kwargs map[string]interface{}
}

// Encode serializes a Request to a wire frame body.
func (r *Request) Encode() ([]byte, error) {
	args := r.Args
	if args == nil {
		args = []interface{}{}
	}
	kwargs := r.Kwargs
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	body := map[string]interface{}{
		keyCommand: commandMethodCall,
		keyAsk:     int64(r.Seq),
		keyMethod:  r.Method,
		keyArgs:    args,
		keyKwargs:  kwargs,
	}
	return wire.EncodeBody(body)
}

// IsRequest reports whether a decoded body is a request frame.
func IsRequest(body map[string]interface{}) bool {
	_, ok := body[keyCommand]
	return ok
}

// DecodeRequest decodes a request body previously identified by IsRequest.
func DecodeRequest(body map[string]interface{}) (*Request, error) {
	cmd, _ := body[keyCommand].(string)
	if cmd != commandMethodCall {
		return nil, fmt.Errorf("protocol: unsupported command %q", cmd)
	}
	seq, ok := asUint32(body[keyAsk])
	if !ok {
		return nil, fmt.Errorf("protocol: missing or invalid _ask")
	}
	method, _ := body[keyMethod].(string)
	if method == "" {
		return nil, fmt.Errorf("protocol: missing method")
	}
	var args []interface{}
	if a, ok := body[keyArgs].([]interface{}); ok {
		args = a
	}
	var kwargs map[string]interface{}
	if k, ok := body[keyKwargs].(map[string]interface{}); ok {
		kwargs = k
	}
	return &Request{Seq: seq, Method: method, Args: args, Kwargs: kwargs}, nil
}

// Response is the decoded form of an `_answer` or `_error` frame sent in
// reply to a Request with the same Seq.
type Response struct {
	Seq      uint32
	Result   interface{}
	Deferred string // ticket; empty means "no pending ticket"
	HasDeferred bool
	Err      *CallError
}

// EncodeResult serializes an immediate-result response.
func EncodeResult(seq uint32, result interface{}) ([]byte, error) {
	return wire.EncodeBody(map[string]interface{}{
		keyAnswer: int64(seq),
		keyResult: result,
		keyDeferred: nil,
	})
}

// EncodeDeferred serializes a response carrying a pending ticket instead
// of an immediate result.
func EncodeDeferred(seq uint32, ticket string) ([]byte, error) {
	return wire.EncodeBody(map[string]interface{}{
		keyAnswer:   int64(seq),
		keyResult:   nil,
		keyDeferred: ticket,
	})
}

// EncodeError serializes an error response.
func EncodeError(seq uint32, callErr *CallError) ([]byte, error) {
	return wire.EncodeBody(map[string]interface{}{
		keyAnswer: int64(seq),
		keyError: map[string]interface{}{
			keyErrorCode: callErr.Code,
			keyErrorDesc: callErr.Description,
		},
	})
}

// IsResponse reports whether a decoded body is an answer frame.
func IsResponse(body map[string]interface{}) bool {
	_, ok := body[keyAnswer]
	return ok
}

// DecodeResponse decodes a response body previously identified by
// IsResponse.
func DecodeResponse(body map[string]interface{}) (*Response, error) {
	seq, ok := asUint32(body[keyAnswer])
	if !ok {
		return nil, fmt.Errorf("protocol: missing or invalid _answer")
	}
	resp := &Response{Seq: seq}
	if errBody, ok := body[keyError].(map[string]interface{}); ok {
		code, _ := errBody[keyErrorCode].(string)
		desc, _ := errBody[keyErrorDesc].(string)
		resp.Err = NewCallError(code, desc)
		return resp, nil
	}
	if ticket, ok := body[keyDeferred].(string); ok && ticket != "" {
		resp.Deferred = ticket
		resp.HasDeferred = true
		return resp, nil
	}
	resp.Result = body[keyResult]
	return resp, nil
}

// ResultAvailable is the decoded form of an unsolicited
// `_result_available` frame resolving a previously issued ticket.
type ResultAvailable struct {
	Ticket string
	Result interface{}
	Err    *CallError
}

// EncodeResultAvailable serializes a successful deferred resolution.
func EncodeResultAvailable(ticket string, result interface{}) ([]byte, error) {
	return wire.EncodeBody(map[string]interface{}{
		keyResultAvailable: ticket,
		keyResult:          result,
	})
}

// EncodeResultAvailableError serializes a failed deferred resolution.
func EncodeResultAvailableError(ticket string, callErr *CallError) ([]byte, error) {
	return wire.EncodeBody(map[string]interface{}{
		keyResultAvailable: ticket,
		keyError: map[string]interface{}{
			keyErrorCode: callErr.Code,
			keyErrorDesc: callErr.Description,
		},
	})
}

// IsResultAvailable reports whether a decoded body is a result-available
// notification.
func IsResultAvailable(body map[string]interface{}) bool {
	_, ok := body[keyResultAvailable]
	return ok
}

// DecodeResultAvailable decodes a body previously identified by
// IsResultAvailable.
func DecodeResultAvailable(body map[string]interface{}) (*ResultAvailable, error) {
	ticket, ok := body[keyResultAvailable].(string)
	if !ok || ticket == "" {
		return nil, fmt.Errorf("protocol: missing ticket")
	}
	ra := &ResultAvailable{Ticket: ticket}
	if errBody, ok := body[keyError].(map[string]interface{}); ok {
		code, _ := errBody[keyErrorCode].(string)
		desc, _ := errBody[keyErrorDesc].(string)
		ra.Err = NewCallError(code, desc)
		return ra, nil
	}
	ra.Result = body[keyResult]
	return ra, nil
}

func asUint32(v interface{}) (uint32, bool) {
	switch x := v.(type) {
	case int64:
		return uint32(x), true
	case int:
		return uint32(x), true
	default:
		return 0, false
	}
}
