package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
// It is used to classify frames read off an event stream before committing to a
// concrete shape.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. Exactly one of Result or Error is
// populated on a well-formed response; see Validate.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", int(e.Code), e.Message)
}

// NewRequest builds a JSON-RPC request. Params are marshaled eagerly so that
// encoding problems surface before anything is put on the wire. A nil id
// produces a notification.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         method,
		ID:             id,
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		req.Params = b
	}
	return req, nil
}

// IsNotification reports whether the request carries no ID.
func (r *Request) IsNotification() bool {
	return r.ID.IsNil()
}

// Type returns "request" if the message is a request, "response" if it's a response, or "notification" if it's a notification
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID.IsNil() {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsResponse returns the message as a Response if it is a response message, otherwise nil
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}

// IsError reports whether the response is the Error variant.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// HasResult reports whether the response is the Result variant. A literal
// JSON null result still counts as present.
func (r *Response) HasResult() bool {
	return len(r.Result) > 0
}

// Validate enforces JSON-RPC 2.0 response framing: the version marker and the
// mutual exclusivity of result and error. Violations are reported as
// *EnvelopeError naming the offending field.
func (r *Response) Validate() error {
	if r.JSONRPCVersion != ProtocolVersion {
		return &EnvelopeError{Field: "jsonrpc", Actual: fmt.Sprintf("%q", r.JSONRPCVersion), Err: ErrVersionMismatch}
	}

	hasResult := r.HasResult()
	hasError := r.IsError()

	if hasResult && hasError {
		return &EnvelopeError{Field: "result|error", Err: ErrAmbiguousResponse}
	}
	if !hasResult && !hasError {
		return &EnvelopeError{Field: "result|error", Err: ErrEmptyResponse}
	}

	return nil
}

// DecodeResponse parses a single JSON-RPC response and validates its envelope.
// JSON syntax errors are returned as-is so callers can tell a malformed body
// apart from a well-formed body that breaks framing.
func DecodeResponse(data []byte) (*Response, error) {
	var msg AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	res := msg.AsResponse()
	if res == nil {
		return nil, &EnvelopeError{Field: "method", Actual: fmt.Sprintf("%q", msg.Method), Err: ErrNotAResponse}
	}
	if err := res.Validate(); err != nil {
		return res, err
	}
	return res, nil
}
