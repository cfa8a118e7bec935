package probe

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ggoodman/mcp-probe-go/internal/jsonrpc"
)

func exchangeFor(id string, body string) *Exchange {
	return &Exchange{
		Status:  200,
		Body:    []byte(body),
		request: &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "tools/list", ID: jsonrpc.NewRequestID(id)},
	}
}

func wantViolation(t *testing.T, err error, field string) *Violation {
	t.Helper()
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("want *Violation on %s, got %T: %v", field, err, err)
	}
	if v.Field != field {
		t.Fatalf("want violation on %s, got %s (%v)", field, v.Field, v)
	}
	return v
}

func TestExpectStatus(t *testing.T) {
	if err := expectStatus(StepInvokePrivileged, &Exchange{Status: 401}, 401); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	v := wantViolation(t, expectStatus(StepInvokePrivileged, &Exchange{Status: 200}, 401), "http.status")
	if v.Expected != "401 Unauthorized" || v.Actual != "200 OK" {
		t.Fatalf("unexpected values: %+v", v)
	}
	if IsTransportError(v) {
		t.Fatal("a status mismatch is not a transport error")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty", "", "body"},
		{"array", `[1,2]`, "body"},
		{"wrong version", `{"jsonrpc":"1.0","id":"a","result":{}}`, "jsonrpc"},
		{"both", `{"jsonrpc":"2.0","id":"a","result":{},"error":{"code":1,"message":"x"}}`, "result|error"},
		{"neither", `{"jsonrpc":"2.0","id":"a"}`, "result|error"},
		{"request", `{"jsonrpc":"2.0","id":"a","method":"ping"}`, "method"},
		{"other id", `{"jsonrpc":"2.0","id":"b","result":{}}`, "id"},
		{"numeric id", `{"jsonrpc":"2.0","id":1,"result":{}}`, "id"},
		{"null id result", `{"jsonrpc":"2.0","id":null,"result":{}}`, "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEnvelope(StepListCapabilities, exchangeFor("a", tt.body))
			wantViolation(t, err, tt.field)
		})
	}

	t.Run("malformed payload", func(t *testing.T) {
		ex := exchangeFor("a", "<html>")
		ex.Malformed = &TransportError{Step: StepListCapabilities, Kind: KindMalformedBody, Err: errors.New("not JSON")}
		_, err := decodeEnvelope(StepListCapabilities, ex)
		var te *TransportError
		if !errors.As(err, &te) || te.Kind != KindMalformedBody {
			t.Fatalf("want malformed body transport error, got %v", err)
		}
	})

	t.Run("matching id", func(t *testing.T) {
		res, err := decodeEnvelope(StepListCapabilities, exchangeFor("a", `{"jsonrpc":"2.0","id":"a","result":{"tools":[]}}`))
		if err != nil || !res.HasResult() {
			t.Fatalf("want result, got %v %v", res, err)
		}
	})

	t.Run("null id error", func(t *testing.T) {
		res, err := decodeEnvelope(StepInvokePrivileged, exchangeFor("a", `{"jsonrpc":"2.0","id":null,"error":{"code":-32001,"message":"no"}}`))
		if err != nil || !res.IsError() {
			t.Fatalf("want error response, got %v %v", res, err)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		ex := exchangeFor("a", "")
		ex.Stream = true
		v := wantViolation(t, func() error { _, err := decodeEnvelope(StepHandshake, ex); return err }(), "body")
		if v.Actual != "event stream without a response" {
			t.Fatalf("unexpected actual: %s", v.Actual)
		}
	})
}

func TestExpectResult(t *testing.T) {
	_, err := expectResult(StepHandshake, &jsonrpc.Response{Error: &jsonrpc.Error{Code: -32603, Message: "boom"}})
	wantViolation(t, err, "result")

	_, err = expectResult(StepHandshake, &jsonrpc.Response{Result: json.RawMessage(`[]`)})
	v := wantViolation(t, err, "result")
	if v.Actual != "array" {
		t.Fatalf("actual: %s", v.Actual)
	}

	raw, err := expectResult(StepHandshake, &jsonrpc.Response{Result: json.RawMessage(`{"ok":true}`)})
	if err != nil || string(raw) != `{"ok":true}` {
		t.Fatalf("got %s %v", raw, err)
	}
}

func TestDecodeInitialize(t *testing.T) {
	const version = "2025-06-18"
	tests := []struct {
		name   string
		raw    string
		field  string
		actual string
	}{
		{"missing serverInfo", `{"protocolVersion":"2025-06-18"}`, "result.serverInfo", missing},
		{"serverInfo not object", `{"protocolVersion":"2025-06-18","serverInfo":"x"}`, "result.serverInfo", "string"},
		{"missing version", `{"serverInfo":{"name":"s","version":"1"}}`, "result.protocolVersion", missing},
		{"old version", `{"protocolVersion":"2024-11-05","serverInfo":{"name":"s","version":"1"}}`, "result.protocolVersion", `"2024-11-05"`},
		{"numeric version", `{"protocolVersion":20250618,"serverInfo":{"name":"s","version":"1"}}`, "result.protocolVersion", "number"},
		{"null version", `{"protocolVersion":null,"serverInfo":{"name":"s","version":"1"}}`, "result.protocolVersion", "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeInitialize(json.RawMessage(tt.raw), version)
			v := wantViolation(t, err, tt.field)
			if v.Actual != tt.actual {
				t.Fatalf("actual: want %s got %s", tt.actual, v.Actual)
			}
			if v.Step != StepHandshake {
				t.Fatalf("step: %s", v.Step)
			}
		})
	}

	res, err := decodeInitialize(json.RawMessage(`{"protocolVersion":"2025-06-18","serverInfo":{"name":"s","version":"1"},"capabilities":{"tools":{"listChanged":true}}}`), version)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if res.ServerInfo.String() != "s/1" || res.Capabilities.Tools == nil || !res.Capabilities.Tools.ListChanged {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecodeToolList(t *testing.T) {
	for raw, actual := range map[string]string{
		`{}`:               missing,
		`{"tools":null}`:   "null",
		`{"tools":{}}`:     "object",
		`{"tools":"file"}`: "string",
	} {
		_, _, err := decodeToolList(json.RawMessage(raw))
		v := wantViolation(t, err, "result.tools")
		if v.Actual != actual {
			t.Fatalf("%s: want %s got %s", raw, actual, v.Actual)
		}
	}

	tools, n, err := decodeToolList(json.RawMessage(`{"tools":[{"name":"file_read"},42,{"name":"exec"}]}`))
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if n != 3 || len(tools) != 2 || tools[1].Name != "exec" {
		t.Fatalf("want count 3 with two named tools, got %d %+v", n, tools)
	}

	_, n, err = decodeToolList(json.RawMessage(`{"tools":[]}`))
	if err != nil || n != 0 {
		t.Fatalf("empty list should pass: %d %v", n, err)
	}
}

func TestExpectAuthDenial(t *testing.T) {
	_, err := expectAuthDenial(StepInvokePrivileged, &jsonrpc.Response{Result: json.RawMessage(`{"content":[]}`)})
	wantViolation(t, err, "error")

	_, err = expectAuthDenial(StepInvokePrivileged, &jsonrpc.Response{Error: &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "x"}})
	v := wantViolation(t, err, "error.code")
	if v.Actual != "-32600 (invalid request)" {
		t.Fatalf("actual: %s", v.Actual)
	}

	_, err = expectAuthDenial(StepInvokePrivileged, &jsonrpc.Response{Error: &jsonrpc.Error{Code: jsonrpc.ErrorCodeAuthRequired}})
	wantViolation(t, err, "error.message")

	denial, err := expectAuthDenial(StepInvokePrivileged, &jsonrpc.Response{Error: &jsonrpc.Error{Code: jsonrpc.ErrorCodeAuthRequired, Message: "Authorization required"}})
	if err != nil || denial.Message != "Authorization required" {
		t.Fatalf("got %v %v", denial, err)
	}
}
