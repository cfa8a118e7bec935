package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewRequestMarshal(t *testing.T) {
	req, err := NewRequest(NewRequestID("init-1"), "initialize", map[string]any{"protocolVersion": "2025-06-18"})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["jsonrpc"] != "2.0" || got["id"] != "init-1" || got["method"] != "initialize" {
		t.Fatalf("unexpected envelope: %s", b)
	}
	params, ok := got["params"].(map[string]any)
	if !ok || params["protocolVersion"] != "2025-06-18" {
		t.Fatalf("unexpected params: %s", b)
	}
}

func TestNotificationOmitsID(t *testing.T) {
	n, err := NewRequest(nil, "notifications/initialized", map[string]any{})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if !n.IsNotification() {
		t.Fatalf("expected notification")
	}
	b, _ := json.Marshal(n)
	var got map[string]any
	_ = json.Unmarshal(b, &got)
	if _, ok := got["id"]; ok {
		t.Fatalf("notification must not carry id: %s", b)
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
		wantErr   error
		isError   bool
	}{
		{name: "result", body: `{"jsonrpc":"2.0","id":"t1","result":{"tools":[]}}`},
		{name: "error", body: `{"jsonrpc":"2.0","id":"c1","error":{"code":-32001,"message":"Authentication required"}}`, isError: true},
		{name: "null id error", body: `{"jsonrpc":"2.0","id":null,"error":{"code":-32001,"message":"nope"}}`, isError: true},
		{name: "wrong version", body: `{"jsonrpc":"1.0","id":"x","result":{}}`, wantField: "jsonrpc", wantErr: ErrVersionMismatch},
		{name: "both", body: `{"jsonrpc":"2.0","id":"x","result":{},"error":{"code":1,"message":"m"}}`, wantField: "result|error", wantErr: ErrAmbiguousResponse},
		{name: "neither", body: `{"jsonrpc":"2.0","id":"x"}`, wantField: "result|error", wantErr: ErrEmptyResponse},
		{name: "request", body: `{"jsonrpc":"2.0","id":"x","method":"ping"}`, wantField: "method", wantErr: ErrNotAResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeResponse([]byte(tt.body))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if res.IsError() != tt.isError {
					t.Fatalf("IsError = %v, want %v", res.IsError(), tt.isError)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			var envErr *EnvelopeError
			if !errors.As(err, &envErr) {
				t.Fatalf("expected *EnvelopeError, got %T", err)
			}
			if envErr.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", envErr.Field, tt.wantField)
			}
		})
	}
}

func TestDecodeResponseSyntaxError(t *testing.T) {
	_, err := DecodeResponse([]byte(`<html>nope</html>`))
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestRequestIDEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b *RequestID
		want bool
	}{
		{"same string", NewRequestID("a"), NewRequestID("a"), true},
		{"different string", NewRequestID("a"), NewRequestID("b"), false},
		{"int and float", NewRequestID(7), NewRequestID(float64(7)), true},
		{"string vs number", NewRequestID("7"), NewRequestID(7), false},
		{"both nil", nil, nil, true},
		{"nil vs set", nil, NewRequestID("a"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Fatalf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestIDRoundTripNumber(t *testing.T) {
	var res Response
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":42,"result":{}}`), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.ID.Equal(NewRequestID(42)) {
		t.Fatalf("id = %v", res.ID.Value())
	}
	if res.ID.String() != "42" {
		t.Fatalf("String() = %q", res.ID.String())
	}
}

func TestErrorCodeString(t *testing.T) {
	if got := ErrorCodeAuthRequired.String(); got != "-32001 (authorization required)" {
		t.Fatalf("String() = %q", got)
	}
	if got := ErrorCode(-1).String(); got != "-1" {
		t.Fatalf("String() = %q", got)
	}
}
