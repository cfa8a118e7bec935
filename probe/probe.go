package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ggoodman/mcp-probe-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-probe-go/internal/logctx"
	"github.com/ggoodman/mcp-probe-go/mcp"
	"github.com/google/uuid"
)

// teardownTimeout bounds the best-effort session DELETE issued after a run.
const teardownTimeout = 5 * time.Second

// Probe runs a conformance sequence against one MCP endpoint. A Probe may be
// run repeatedly; every run starts from a fresh State.
type Probe struct {
	cfg      Config
	endpoint *url.URL
	client   *http.Client
	log      *slog.Logger
	steps    []Step
}

// New validates cfg and the step sequence and returns a ready Probe.
func New(cfg Config, opts ...Option) (*Probe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := o.client
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	l := o.logger
	if l == nil {
		l = slog.Default()
	}
	steps := o.steps
	if steps == nil {
		steps = DefaultSequence(cfg)
	}
	if err := validateSequence(steps); err != nil {
		return nil, err
	}

	return &Probe{
		cfg:      cfg,
		endpoint: u,
		client:   client,
		log:      slog.New(logctx.Handler{Handler: l.Handler()}),
		steps:    steps,
	}, nil
}

// Config returns the configuration the probe was built with.
func (p *Probe) Config() Config { return p.cfg }

// Steps returns the names of the configured sequence in run order.
func (p *Probe) Steps() []StepName {
	names := make([]StepName, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Run executes the sequence once. It stops at the first step that does not
// pass and marks the remaining steps skipped. The returned error is the
// failing step's error: a *TransportError, a *Violation, or a precondition
// error. The report is returned in every case.
func (p *Probe) Run(ctx context.Context) (*Report, error) {
	st := newState()
	start := time.Now()
	report := &Report{
		Endpoint:        p.endpoint.String(),
		ProtocolVersion: p.cfg.ProtocolVersion,
		StartedAt:       start.UTC(),
		Steps:           make([]StepOutcome, 0, len(p.steps)),
	}

	defer p.terminateSession(ctx, st)

	p.log.InfoContext(ctx, "probe.run.start", slog.String("endpoint", report.Endpoint), slog.Int("steps", len(p.steps)))

	var runErr error
	for i, step := range p.steps {
		if runErr != nil {
			report.Steps = append(report.Steps, StepOutcome{Step: step.Name, Status: StatusSkipped})
			continue
		}
		out := p.runStep(ctx, i, step, st)
		report.Steps = append(report.Steps, out)
		if out.Status != StatusPassed {
			runErr = out.Err
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	if runErr != nil {
		p.log.ErrorContext(ctx, "probe.run.fail", slog.String("err", runErr.Error()), slog.Duration("dur", time.Since(start)))
		return report, runErr
	}

	report.OK = true
	report.Summary = p.summarize(st)
	p.log.InfoContext(ctx, "probe.run.ok", slog.Duration("dur", time.Since(start)))
	return report, nil
}

func (p *Probe) summarize(st *State) *Summary {
	s := &Summary{
		ProtocolVersion: p.cfg.ProtocolVersion,
		ToolCount:       st.ToolCount,
		AuthChallenge:   st.Challenge,
		SessionIssued:   st.SessionID() != "",
	}
	if st.Initialize != nil {
		s.Server = st.Initialize.ServerInfo
		s.ProtocolVersion = st.Initialize.ProtocolVersion
	}
	for _, t := range st.Tools {
		s.Tools = append(s.Tools, t.Name)
	}
	if st.Denial != nil {
		s.AuthRequired = st.Denial.Message
	}
	return s
}

// Post sends a request for method on behalf of step, carrying the session
// established so far. The request id is derived from the step name so that it
// is recognizable in server logs. A body that is not JSON is reported through
// Exchange.Malformed rather than as an error.
func (p *Probe) Post(ctx context.Context, st *State, step StepName, method mcp.Method, params any, opts ...ExchangeOption) (*Exchange, error) {
	id := jsonrpc.NewRequestID(fmt.Sprintf("%s-%s", step, uuid.NewString()))
	msg, err := jsonrpc.NewRequest(id, string(method), params)
	if err != nil {
		return nil, err
	}
	ex, err := p.exchange(ctx, step, st.SessionID(), msg, opts...)
	if err != nil {
		return nil, err
	}
	st.lastStatus = ex.Status
	return ex, nil
}

// Notify sends a notification for method on behalf of step.
func (p *Probe) Notify(ctx context.Context, st *State, step StepName, method mcp.Method, params any) (*Exchange, error) {
	msg, err := jsonrpc.NewRequest(nil, string(method), params)
	if err != nil {
		return nil, err
	}
	ex, err := p.exchange(ctx, step, st.SessionID(), msg)
	if err != nil {
		return nil, err
	}
	st.lastStatus = ex.Status
	return ex, nil
}

// terminateSession releases the session issued by the handshake. It runs on
// every exit path of Run, including cancellation, so it detaches from ctx and
// applies its own deadline. Failures are logged and otherwise ignored.
func (p *Probe) terminateSession(ctx context.Context, st *State) {
	sid := st.SessionID()
	if sid == "" || !p.cfg.TerminateSession {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sid, ProtocolVersion: p.cfg.ProtocolVersion})
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.endpoint.String(), nil)
	if err != nil {
		p.log.WarnContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}
	setProtocolHeaders(req, p.cfg.ProtocolVersion, sid)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WarnContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		return
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.log.InfoContext(ctx, "session.delete.ok", slog.Int("status", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusMethodNotAllowed:
		// Session already gone, or the server does not support termination.
		p.log.DebugContext(ctx, "session.delete.unsupported", slog.Int("status", resp.StatusCode))
	default:
		p.log.WarnContext(ctx, "session.delete.unexpected", slog.Int("status", resp.StatusCode))
	}
}

// Close releases idle connections held by the probe's HTTP client.
func (p *Probe) Close() {
	p.client.CloseIdleConnections()
}
