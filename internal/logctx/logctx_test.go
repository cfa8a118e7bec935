package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithStepData(context.Background(), &StepData{Name: "handshake", Index: 1})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s-1", ProtocolVersion: "2025-06-18"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "initialize", ID: "init-1", Type: "request"})

	log.With(slog.String("component", "probe")).InfoContext(ctx, "probe.step.start")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v (%s)", err, buf.String())
	}
	step, ok := rec["step"].(map[string]any)
	if !ok || step["name"] != "handshake" || step["index"] != float64(1) {
		t.Fatalf("missing step group: %v", rec)
	}
	sess, ok := rec["sess"].(map[string]any)
	if !ok || sess["id"] != "s-1" {
		t.Fatalf("missing sess group: %v", rec)
	}
	rpc, ok := rec["rpc"].(map[string]any)
	if !ok || rpc["method"] != "initialize" || rpc["id"] != "init-1" {
		t.Fatalf("missing rpc group: %v", rec)
	}
	if rec["component"] != "probe" {
		t.Fatalf("With attrs lost: %v", rec)
	}
}

func TestHandlerWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.InfoContext(context.Background(), "plain")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"step", "sess", "rpc"} {
		if _, ok := rec[k]; ok {
			t.Fatalf("unexpected %s group: %v", k, rec)
		}
	}
}
