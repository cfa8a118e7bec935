package probetest_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-probe-go/probe"
	"github.com/ggoodman/mcp-probe-go/probe/probetest"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type fileReadArgs struct {
	Path string `json:"path" jsonschema:"path of the file to read"`
}

// sdkHandler serves a go-sdk MCP server exposing file_read.
func sdkHandler() http.Handler {
	server := sdk.NewServer(&sdk.Implementation{Name: "sdk-fixture", Version: "v1.0.0"}, nil)
	sdk.AddTool(server, &sdk.Tool{Name: "file_read", Description: "Read a file from the workspace"},
		func(ctx context.Context, req *sdk.CallToolRequest, args fileReadArgs) (*sdk.CallToolResult, any, error) {
			return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: "contents of " + args.Path}}}, nil, nil
		})
	return sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return server }, nil)
}

func runAgainst(t *testing.T, h http.Handler) (*probe.Report, error) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := probe.DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.Timeout = 10 * time.Second
	p, err := probe.New(cfg, probe.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("probe.New: %v", err)
	}
	defer p.Close()
	return p.Run(t.Context())
}

func TestSDKServerBehindRequireAuth(t *testing.T) {
	report, err := runAgainst(t, probetest.RequireAuth(sdkHandler(), "secret"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := report.Summary
	if s.Server.Name != "sdk-fixture" || s.ToolCount != 1 || s.Tools[0] != "file_read" {
		t.Fatalf("summary: %+v", s)
	}
	if !s.SessionIssued {
		t.Fatal("go-sdk issues sessions")
	}
	if s.AuthChallenge == nil || s.AuthChallenge.Params["resource_metadata"] == "" {
		t.Fatalf("challenge: %+v", s.AuthChallenge)
	}
}

func TestSDKServerWithoutAuthIsRegression(t *testing.T) {
	report, err := runAgainst(t, sdkHandler())
	var v *probe.Violation
	if !errors.As(err, &v) {
		t.Fatalf("want violation, got %T: %v", err, err)
	}
	if v.Step != probe.StepInvokePrivileged || v.Field != "http.status" || v.Actual != "200 OK" {
		t.Fatalf("unexpected violation: %v", v)
	}
	if o, _ := report.Outcome(probe.StepListCapabilities); o.Status != probe.StatusPassed {
		t.Fatalf("listing should pass against the SDK: %+v", o)
	}
}

func TestRequireAuthPassesAcceptedToken(t *testing.T) {
	var reached bool
	h := probetest.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}), "secret")

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"file_read"}}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("accepted token should reach the handler: %d", rec.Code)
	}

	reached = false
	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"file_read"}}`))
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if reached || rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token should be refused: %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("refusal must carry a challenge")
	}
}

func TestBearerChallenge(t *testing.T) {
	got := probetest.BearerChallenge("mcp", "https://h/prm", map[string]string{"error_description": `bad "token"`, "error": "invalid_token"})
	want := `Bearer realm="mcp", resource_metadata="https://h/prm", error="invalid_token", error_description="bad \"token\""`
	if got != want {
		t.Fatalf("want %s\ngot  %s", want, got)
	}
	if probetest.BearerChallenge("", "", nil) != "Bearer" {
		t.Fatal("bare challenge")
	}
}

func TestServerRejectsWrongMediaTypes(t *testing.T) {
	srv := probetest.NewServer()
	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("content type: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/html")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("accept: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: got %d", rec.Code)
	}
}
