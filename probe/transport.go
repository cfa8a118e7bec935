package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-probe-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-probe-go/internal/logctx"
	"github.com/ggoodman/mcp-probe-go/mcp"
)

// maxBodySize bounds a plain JSON response body.
const maxBodySize = 8 * 1024 * 1024

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// acceptHeader permits both response framings of the streamable HTTP transport.
var acceptHeader = jsonMediaType.String() + ", " + eventStreamMediaType.String()

// Exchange is one completed HTTP round trip. Body holds the payload of the
// JSON-RPC response: the whole body for application/json, or the data of the
// event matching the request for text/event-stream. It is empty when the
// server sent no body or the stream closed without a matching response.
//
// A payload that is not JSON does not fail the exchange. It is recorded in
// Malformed so that the status can still be judged first; callers that go on
// to read Body must check Malformed.
type Exchange struct {
	Status      int
	Header      http.Header
	ContentType string
	Stream      bool
	Body        []byte
	Malformed   *TransportError
	Duration    time.Duration

	request *jsonrpc.Request
}

// ExchangeOption mutates an outgoing request before it is sent.
type ExchangeOption func(*http.Request)

// WithBearer presents token in the Authorization header.
func WithBearer(token string) ExchangeOption {
	return func(r *http.Request) {
		r.Header.Set(mcp.AuthorizationHeader, "Bearer "+token)
	}
}

// exchange posts msg to the endpoint and fully reads the response before
// returning. It never retries. Failures are returned as *TransportError; a
// body that is not JSON is recorded on the Exchange instead.
func (p *Probe) exchange(ctx context.Context, step StepName, sessionID string, msg *jsonrpc.Request, opts ...ExchangeOption) (*Exchange, error) {
	start := time.Now()

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   requestType(msg),
	})

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", msg.Method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", msg.Method, err)
	}
	setProtocolHeaders(req, p.cfg.ProtocolVersion, sessionID)
	req.Header.Set("Content-Type", jsonMediaType.String())
	for _, opt := range opts {
		opt(req)
	}

	p.log.DebugContext(ctx, "http.exchange.start", slog.String("endpoint", p.endpoint.String()))

	resp, err := p.client.Do(req)
	if err != nil {
		kind := classifyNetError(ctx, err, KindConnect)
		p.log.WarnContext(ctx, "http.exchange.fail", slog.String("kind", string(kind)), slog.String("err", err.Error()))
		return nil, &TransportError{Step: step, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	ex := &Exchange{
		Status:      resp.StatusCode,
		Header:      resp.Header.Clone(),
		ContentType: resp.Header.Get("Content-Type"),
		request:     msg,
	}

	mt := contenttype.NewMediaType(ex.ContentType)
	switch {
	case msg.IsNotification():
		// Notifications are acknowledged with 202 and no body; anything else
		// is drained and ignored.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	case mt.Matches(eventStreamMediaType):
		ex.Stream = true
		payload, err := readStreamResponse(resp.Body, msg.ID)
		var te *TransportError
		switch {
		case errors.As(err, &te) && te.Kind == KindMalformedBody:
			te.Step = step
			ex.Malformed = te
		case err != nil:
			return nil, p.readFailure(ctx, step, err)
		}
		ex.Body = payload
	default:
		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, p.readFailure(ctx, step, err)
		}
		ex.Body = bytes.TrimSpace(payload)
		if len(ex.Body) > 0 && !json.Valid(ex.Body) {
			ex.Malformed = &TransportError{Step: step, Kind: KindMalformedBody, Err: fmt.Errorf("HTTP %d response body is not JSON: %s", ex.Status, snippet(ex.Body))}
		}
	}
	if ex.Malformed != nil {
		p.log.WarnContext(ctx, "http.exchange.malformed", slog.Int("status", ex.Status), slog.String("content_type", ex.ContentType))
	}

	ex.Duration = time.Since(start)
	p.log.InfoContext(ctx, "http.exchange.ok", slog.Int("status", ex.Status), slog.Bool("stream", ex.Stream), slog.Duration("dur", ex.Duration))
	return ex, nil
}

func (p *Probe) readFailure(ctx context.Context, step StepName, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		te.Step = step
		return te
	}
	kind := classifyNetError(ctx, err, KindRead)
	p.log.WarnContext(ctx, "http.exchange.read.fail", slog.String("kind", string(kind)), slog.String("err", err.Error()))
	return &TransportError{Step: step, Kind: kind, Err: err}
}

// readStreamResponse consumes events until it finds the JSON-RPC response to
// id. Interleaved notifications and server requests are skipped. A stream that
// ends without the response yields an empty payload, which the caller reports
// as a violation; non-JSON event data is a malformed body.
func readStreamResponse(r io.Reader, id *jsonrpc.RequestID) ([]byte, error) {
	events := newSSEReader(r)
	for {
		ev, err := events.Next()
		if errors.Is(err, errStreamEnded) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		data := bytes.TrimSpace(ev.Data)
		if len(data) == 0 {
			continue
		}
		if !json.Valid(data) {
			return nil, &TransportError{Kind: KindMalformedBody, Err: fmt.Errorf("event stream data is not JSON: %s", snippet(data))}
		}
		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Well-formed JSON with a shape we cannot classify; let the
			// envelope check report it.
			return data, nil
		}
		if msg.Type() != "response" {
			continue
		}
		if msg.ID.IsNil() || msg.ID.Equal(id) {
			return data, nil
		}
	}
}

func setProtocolHeaders(req *http.Request, protocolVersion, sessionID string) {
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set(mcp.ProtocolVersionHeader, protocolVersion)
	if sessionID != "" {
		req.Header.Set(mcp.SessionIDHeader, sessionID)
	}
}

func requestType(msg *jsonrpc.Request) string {
	if msg.IsNotification() {
		return "notification"
	}
	return "request"
}

// snippet trims a payload for diagnostics.
func snippet(b []byte) string {
	const max = 120
	if len(b) > max {
		return fmt.Sprintf("%q...", b[:max])
	}
	return fmt.Sprintf("%q", b)
}
