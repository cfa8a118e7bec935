// Package probetest provides an in-process MCP endpoint for exercising the
// probe. The default Server is conformant: it issues a session, lists tools and
// refuses tools/call without a credential. Options inject specific faults.
package probetest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-probe-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-probe-go/mcp"
	"github.com/google/uuid"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	acceptableMediaTypes = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

// DenialMessage is the error message of the default tools/call refusal.
const DenialMessage = "Authorization required"

// Request is what the server observed for one POST.
type Request struct {
	Method          string
	ID              string
	SessionID       string
	ProtocolVersion string
	Authorization   string
	Accept          string
}

// RawResponse replaces the server's answer to a method verbatim.
type RawResponse struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        string
}

// Server is a scriptable MCP streamable HTTP endpoint.
type Server struct {
	log             *slog.Logger
	serverInfo      mcp.ImplementationInfo
	protocolVersion *string
	sessions        bool
	stream          bool
	tools           []mcp.Tool
	authorized      bool
	acceptToken     string
	denialStatus    int
	denialCode      jsonrpc.ErrorCode
	denialMessage   string
	realm           string
	delays          map[mcp.Method]time.Duration
	raw             map[mcp.Method]RawResponse

	mu       sync.Mutex
	issued   []string
	live     map[string]bool
	deleted  []string
	requests []Request
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithServerInfo sets the serverInfo returned from initialize.
func WithServerInfo(name, version string) Option {
	return func(s *Server) { s.serverInfo = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithProtocolVersion sets the protocolVersion returned from initialize. An
// empty string omits the field.
func WithProtocolVersion(v string) Option {
	return func(s *Server) { s.protocolVersion = &v }
}

// WithoutSessions stops the server from issuing Mcp-Session-Id.
func WithoutSessions() Option {
	return func(s *Server) { s.sessions = false }
}

// WithEventStream answers requests with a text/event-stream that carries a
// log notification ahead of the response.
func WithEventStream() Option {
	return func(s *Server) { s.stream = true }
}

// WithTools replaces the advertised tool list.
func WithTools(tools ...mcp.Tool) Option {
	return func(s *Server) { s.tools = tools }
}

// WithoutAuth makes tools/call succeed without a credential.
func WithoutAuth() Option {
	return func(s *Server) { s.authorized = true }
}

// WithAcceptedToken makes tools/call succeed when presented with exactly this
// bearer token. Any other credential is refused.
func WithAcceptedToken(token string) Option {
	return func(s *Server) { s.acceptToken = token }
}

// WithDenial changes the HTTP status, error code and message of the refusal.
func WithDenial(status int, code jsonrpc.ErrorCode, message string) Option {
	return func(s *Server) {
		s.denialStatus = status
		s.denialCode = code
		s.denialMessage = message
	}
}

// WithRealm sets the realm advertised in the WWW-Authenticate challenge.
func WithRealm(realm string) Option {
	return func(s *Server) { s.realm = realm }
}

// WithDelay holds the answer to method for d, or until the client gives up.
func WithDelay(method mcp.Method, d time.Duration) Option {
	return func(s *Server) { s.delays[method] = d }
}

// WithRawResponse answers method with resp instead of the scripted behavior.
func WithRawResponse(method mcp.Method, resp RawResponse) Option {
	return func(s *Server) { s.raw[method] = resp }
}

// NewServer returns a conformant server modified by opts.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:           slog.New(slog.DiscardHandler),
		serverInfo:    mcp.ImplementationInfo{Name: "probetest", Version: "1.0.0"},
		sessions:      true,
		tools:         []mcp.Tool{{Name: "file_read", Description: "Read a file from the workspace"}},
		denialStatus:  http.StatusUnauthorized,
		denialCode:    jsonrpc.ErrorCodeAuthRequired,
		denialMessage: DenialMessage,
		realm:         "mcp",
		delays:        map[mcp.Method]time.Duration{},
		raw:           map[mcp.Method]RawResponse{},
		live:          map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves s on a loopback listener closed at the end of the test and
// returns the MCP endpoint URL.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv.URL + "/mcp"
}

// Requests returns the POSTs received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// IssuedSessions returns every session id handed out by initialize.
func (s *Server) IssuedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.issued...)
}

// DeletedSessions returns the session ids terminated by DELETE.
func (s *Server) DeletedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(mcp.SessionIDHeader)
	s.mu.Lock()
	known := s.live[sid]
	if known {
		delete(s.live, sid)
		s.deleted = append(s.deleted, sid)
	}
	s.mu.Unlock()

	if !known {
		s.log.InfoContext(r.Context(), "session.delete.unknown", slog.String("session_id", sid))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.log.InfoContext(r.Context(), "session.delete.ok", slog.String("session_id", sid))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, acceptableMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json and text/event-stream")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		return
	}

	sid := r.Header.Get(mcp.SessionIDHeader)
	s.record(Request{
		Method:          msg.Method,
		ID:              msg.ID.String(),
		SessionID:       sid,
		ProtocolVersion: r.Header.Get(mcp.ProtocolVersionHeader),
		Authorization:   r.Header.Get(mcp.AuthorizationHeader),
		Accept:          r.Header.Get("Accept"),
	})
	s.log.InfoContext(ctx, "http.post", slog.String("method", msg.Method), slog.String("session_id", sid))

	method := mcp.Method(msg.Method)
	if d, ok := s.delays[method]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}
	if raw, ok := s.raw[method]; ok {
		for k, vs := range raw.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		if raw.ContentType != "" {
			w.Header().Set("Content-Type", raw.ContentType)
		}
		w.WriteHeader(raw.Status)
		_, _ = io.WriteString(w, raw.Body)
		return
	}

	if method != mcp.InitializeMethod && s.sessions && !s.isLive(sid) {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		return
	}

	switch method {
	case mcp.InitializeMethod:
		if s.sessions {
			sid := uuid.NewString()
			s.mu.Lock()
			s.issued = append(s.issued, sid)
			s.live[sid] = true
			s.mu.Unlock()
			w.Header().Set(mcp.SessionIDHeader, sid)
		}
		s.respond(w, msg.ID, s.initializeResult())
	case mcp.InitializedNotificationMethod:
		w.WriteHeader(http.StatusAccepted)
	case mcp.PingMethod:
		s.respond(w, msg.ID, struct{}{})
	case mcp.ToolsListMethod:
		tools := s.tools
		if tools == nil {
			tools = []mcp.Tool{}
		}
		s.respond(w, msg.ID, mcp.ListToolsResult{Tools: tools})
	case mcp.ToolsCallMethod:
		if s.permits(r) {
			s.respond(w, msg.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": `{"name":"leaked"}`}},
			})
			return
		}
		s.deny(w, r, msg.ID)
	default:
		if msg.ID.IsNil() {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		s.respondError(w, http.StatusOK, msg.ID, &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "method not found: " + msg.Method})
	}
}

func (s *Server) record(r Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)
}

func (s *Server) isLive(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[sid]
}

func (s *Server) initializeResult() map[string]any {
	version := mcp.LatestProtocolVersion
	if s.protocolVersion != nil {
		version = *s.protocolVersion
	}
	res := map[string]any{
		"capabilities": mcp.ServerCapabilities{Tools: &mcp.ListChanged{}},
		"serverInfo":   s.serverInfo,
	}
	if version != "" {
		res["protocolVersion"] = version
	}
	return res
}

func (s *Server) permits(r *http.Request) bool {
	if s.authorized {
		return true
	}
	return s.acceptToken != "" && r.Header.Get(mcp.AuthorizationHeader) == "Bearer "+s.acceptToken
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, id *jsonrpc.RequestID) {
	params := map[string]string{}
	if r.Header.Get(mcp.AuthorizationHeader) != "" {
		params["error"] = "invalid_token"
	}
	w.Header().Add(mcp.WWWAuthenticateHeader, BearerChallenge(s.realm, "", params))
	s.respondError(w, s.denialStatus, id, &jsonrpc.Error{Code: s.denialCode, Message: s.denialMessage})
}

// respond writes a result response, framed as JSON or as an event stream.
func (s *Server) respond(w http.ResponseWriter, id *jsonrpc.RequestID, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.write(w, http.StatusOK, &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Result: raw, ID: id})
}

func (s *Server) respondError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, e *jsonrpc.Error) {
	s.write(w, status, &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: e, ID: id})
}

func (s *Server) write(w http.ResponseWriter, status int, res *jsonrpc.Response) {
	payload, err := json.Marshal(res)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.stream || status != http.StatusOK {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(status)
		_, _ = w.Write(payload)
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	note, _ := json.Marshal(map[string]any{
		"jsonrpc": jsonrpc.ProtocolVersion,
		"method":  "notifications/message",
		"params":  map[string]any{"level": "info", "data": "processing"},
	})
	_ = WriteEvent(w, "", note)
	_ = WriteEvent(w, uuid.NewString(), payload)
}

// WriteEvent writes one Server-Sent Event and flushes it when w supports
// flushing.
func WriteEvent(w io.Writer, id string, payload []byte) error {
	var buf bytes.Buffer
	if id != "" {
		fmt.Fprintf(&buf, "id: %s\n", id)
	}
	buf.WriteString("event: message\n")
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// BearerChallenge renders a Bearer WWW-Authenticate value. Parameters other
// than realm and resource_metadata are written as error, error_description,
// scope, in that order.
func BearerChallenge(realm, resourceMetadata string, params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	pieces := make([]string, 0, 2+len(params))
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc.Replace(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc.Replace(resourceMetadata)))
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc.Replace(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// RequireAuth wraps an MCP handler so that tools/call without the accepted
// bearer token is refused with 401 and the auth-required code. Other methods
// pass through untouched. An empty token refuses every tools/call.
func RequireAuth(next http.Handler, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(body, &msg); err != nil || mcp.Method(msg.Method) != mcp.ToolsCallMethod {
			next.ServeHTTP(w, r)
			return
		}
		if token != "" && r.Header.Get(mcp.AuthorizationHeader) == "Bearer "+token {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add(mcp.WWWAuthenticateHeader, BearerChallenge("mcp", resourceMetadataURL(r), nil))
		res := &jsonrpc.Response{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Error:          &jsonrpc.Error{Code: jsonrpc.ErrorCodeAuthRequired, Message: DenialMessage},
			ID:             msg.ID,
		}
		payload, _ := json.Marshal(res)
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write(payload)
	})
}

func resourceMetadataURL(r *http.Request) string {
	return "http://" + r.Host + "/.well-known/oauth-protected-resource" + r.URL.Path
}
