package probe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ggoodman/mcp-probe-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-probe-go/mcp"
)

const missing = "<missing>"

// expectStatus checks the HTTP status before anything else is inspected.
func expectStatus(step StepName, ex *Exchange, want int) error {
	if ex.Status == want {
		return nil
	}
	return &Violation{
		Step:     step,
		Field:    "http.status",
		Expected: statusText(want),
		Actual:   statusText(ex.Status),
	}
}

// decodeEnvelope turns the exchange payload into a framed JSON-RPC response
// and checks it answers the request that was sent. It runs after the status
// check, so a payload that is not JSON only surfaces once the status matched.
func decodeEnvelope(step StepName, ex *Exchange) (*jsonrpc.Response, error) {
	if ex.Malformed != nil {
		return nil, ex.Malformed
	}
	if len(ex.Body) == 0 {
		actual := "empty body"
		if ex.Stream {
			actual = "event stream without a response"
		}
		return nil, &Violation{Step: step, Field: "body", Expected: "JSON-RPC response", Actual: actual}
	}

	res, err := jsonrpc.DecodeResponse(ex.Body)
	if err != nil {
		var envErr *jsonrpc.EnvelopeError
		if errors.As(err, &envErr) {
			actual := envErr.Err.Error()
			if envErr.Actual != "" {
				actual = envErr.Actual
			}
			return nil, &Violation{Step: step, Field: envErr.Field, Expected: envelopeExpectation(envErr.Err), Actual: actual}
		}
		return nil, &Violation{Step: step, Field: "body", Expected: "JSON-RPC response object", Actual: fmt.Sprintf("%s (%v)", jsonKind(ex.Body), err)}
	}

	sent := ex.request.ID
	switch {
	case res.ID.IsNil() && res.IsError():
		// Permitted when the server could not determine the request id.
	case !res.ID.Equal(sent):
		return nil, &Violation{Step: step, Field: "id", Expected: strconv.Quote(sent.String()), Actual: renderID(res.ID)}
	}
	return res, nil
}

func envelopeExpectation(err error) string {
	switch {
	case errors.Is(err, jsonrpc.ErrVersionMismatch):
		return strconv.Quote(jsonrpc.ProtocolVersion)
	case errors.Is(err, jsonrpc.ErrAmbiguousResponse), errors.Is(err, jsonrpc.ErrEmptyResponse):
		return "exactly one of result or error"
	case errors.Is(err, jsonrpc.ErrNotAResponse):
		return "a response (no method)"
	}
	return "well-formed JSON-RPC 2.0 envelope"
}

// expectResult requires the Result variant and returns its raw payload.
func expectResult(step StepName, res *jsonrpc.Response) (json.RawMessage, error) {
	if res.IsError() {
		return nil, &Violation{
			Step:     step,
			Field:    "result",
			Expected: "result object",
			Actual:   fmt.Sprintf("error %s: %q", res.Error.Code, res.Error.Message),
		}
	}
	if kind := jsonKind(res.Result); kind != "object" {
		return nil, &Violation{Step: step, Field: "result", Expected: "object", Actual: kind}
	}
	return res.Result, nil
}

// initializeContract lists the initialize result fields the probe requires.
// Raw fields let presence and type be checked separately.
type initializeContract struct {
	ProtocolVersion json.RawMessage `json:"protocolVersion"`
	ServerInfo      json.RawMessage `json:"serverInfo"`
	Capabilities    json.RawMessage `json:"capabilities"`
	Instructions    string          `json:"instructions"`
}

func decodeInitialize(raw json.RawMessage, wantVersion string) (*mcp.InitializeResult, error) {
	var c initializeContract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &Violation{Step: StepHandshake, Field: "result", Expected: "initialize result object", Actual: err.Error()}
	}

	out := &mcp.InitializeResult{Instructions: c.Instructions}

	if kind := jsonKind(c.ServerInfo); kind != "object" {
		return nil, &Violation{Step: StepHandshake, Field: "result.serverInfo", Expected: "object", Actual: kind}
	}
	if err := json.Unmarshal(c.ServerInfo, &out.ServerInfo); err != nil {
		return nil, &Violation{Step: StepHandshake, Field: "result.serverInfo", Expected: "implementation info {name, version}", Actual: err.Error()}
	}

	if len(c.ProtocolVersion) == 0 {
		return nil, &Violation{Step: StepHandshake, Field: "result.protocolVersion", Expected: strconv.Quote(wantVersion), Actual: missing}
	}
	if kind := jsonKind(c.ProtocolVersion); kind != "string" {
		return nil, &Violation{Step: StepHandshake, Field: "result.protocolVersion", Expected: strconv.Quote(wantVersion), Actual: kind}
	}
	if err := json.Unmarshal(c.ProtocolVersion, &out.ProtocolVersion); err != nil {
		return nil, &Violation{Step: StepHandshake, Field: "result.protocolVersion", Expected: strconv.Quote(wantVersion), Actual: err.Error()}
	}
	if out.ProtocolVersion != wantVersion {
		return nil, &Violation{Step: StepHandshake, Field: "result.protocolVersion", Expected: strconv.Quote(wantVersion), Actual: strconv.Quote(out.ProtocolVersion)}
	}

	if len(c.Capabilities) > 0 {
		// Capabilities are recorded when they decode; their shape is not
		// part of what this step asserts.
		_ = json.Unmarshal(c.Capabilities, &out.Capabilities)
	}
	return out, nil
}

type listToolsContract struct {
	Tools json.RawMessage `json:"tools"`
}

// decodeToolList requires result.tools to be an array. Descriptors are
// decoded best-effort for reporting; their count is taken from the raw array.
func decodeToolList(raw json.RawMessage) ([]mcp.Tool, int, error) {
	var c listToolsContract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, 0, &Violation{Step: StepListCapabilities, Field: "result", Expected: "tools/list result object", Actual: err.Error()}
	}
	if len(c.Tools) == 0 {
		return nil, 0, &Violation{Step: StepListCapabilities, Field: "result.tools", Expected: "array", Actual: missing}
	}
	if kind := jsonKind(c.Tools); kind != "array" {
		return nil, 0, &Violation{Step: StepListCapabilities, Field: "result.tools", Expected: "array", Actual: kind}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(c.Tools, &items); err != nil {
		return nil, 0, &Violation{Step: StepListCapabilities, Field: "result.tools", Expected: "array", Actual: err.Error()}
	}
	tools := make([]mcp.Tool, 0, len(items))
	for _, item := range items {
		var t mcp.Tool
		if err := json.Unmarshal(item, &t); err == nil {
			tools = append(tools, t)
		}
	}
	return tools, len(items), nil
}

// expectAuthDenial requires the Error variant with the auth-required code and
// a non-empty message.
func expectAuthDenial(step StepName, res *jsonrpc.Response) (*jsonrpc.Error, error) {
	if !res.IsError() {
		return nil, &Violation{Step: step, Field: "error", Expected: "error object", Actual: "result " + jsonKind(res.Result)}
	}
	if res.Error.Code != jsonrpc.ErrorCodeAuthRequired {
		return nil, &Violation{Step: step, Field: "error.code", Expected: jsonrpc.ErrorCodeAuthRequired.String(), Actual: res.Error.Code.String()}
	}
	if res.Error.Message == "" {
		return nil, &Violation{Step: step, Field: "error.message", Expected: "non-empty string", Actual: `""`}
	}
	return res.Error, nil
}

// jsonKind names the JSON type of a raw value.
func jsonKind(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return missing
	}
	switch b[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return fmt.Sprintf("%d %s", code, t)
	}
	return strconv.Itoa(code)
}

func renderID(id *jsonrpc.RequestID) string {
	if id.IsNil() {
		return "null"
	}
	if s, ok := id.Value().(string); ok {
		return strconv.Quote(s)
	}
	return id.String()
}
