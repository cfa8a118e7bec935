package jsonrpc

import (
	"errors"
	"fmt"
)

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
	// ErrorCodeAuthRequired is the server-defined code MCP servers use to reject
	// a privileged call that carries no valid credential.
	ErrorCodeAuthRequired ErrorCode = -32001
)

// String renders the code together with its well-known name, if any.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeParseError:
		return "-32700 (parse error)"
	case ErrorCodeInvalidRequest:
		return "-32600 (invalid request)"
	case ErrorCodeMethodNotFound:
		return "-32601 (method not found)"
	case ErrorCodeInvalidParams:
		return "-32602 (invalid params)"
	case ErrorCodeInternalError:
		return "-32603 (internal error)"
	case ErrorCodeAuthRequired:
		return "-32001 (authorization required)"
	}
	return fmt.Sprintf("%d", int(c))
}

var (
	ErrVersionMismatch   = errors.New("invalid JSON-RPC version")
	ErrAmbiguousResponse = errors.New("response message cannot have both result and error fields")
	ErrEmptyResponse     = errors.New("response message must have either result or error field")
	ErrNotAResponse      = errors.New("message is a request or notification, not a response")
)

// EnvelopeError reports which envelope field broke JSON-RPC 2.0 framing.
type EnvelopeError struct {
	Field  string
	Actual string
	Err    error
}

func (e *EnvelopeError) Error() string {
	if e.Actual != "" {
		return fmt.Sprintf("%s: %v (got %s)", e.Field, e.Err, e.Actual)
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *EnvelopeError) Unwrap() error { return e.Err }
