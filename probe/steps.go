package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/mcp-probe-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-probe-go/internal/logctx"
	"github.com/ggoodman/mcp-probe-go/mcp"
)

// StepName identifies a step of the sequence.
type StepName string

const (
	StepHandshake         StepName = "handshake"
	StepNotifyInitialized StepName = "notify_initialized"
	StepListCapabilities  StepName = "list_capabilities"
	StepInvokePrivileged  StepName = "invoke_privileged"
)

// Step is one node of the sequence. Requires lists the steps that must have
// passed before this one may run; Run establishes whatever state later steps
// rely on.
type Step struct {
	Name     StepName
	Requires []StepName
	Run      func(ctx context.Context, p *Probe, st *State) error
}

// State is what a run carries from one step to the next. The session id is
// set at most once and never changed afterwards.
type State struct {
	sessionID  string
	passed     map[StepName]bool
	lastStatus int
	notes      []string

	Initialize *mcp.InitializeResult
	Tools      []mcp.Tool
	ToolCount  int
	Denial     *jsonrpc.Error
	Challenge  *Challenge
}

func newState() *State {
	return &State{passed: map[StepName]bool{}}
}

// SessionID returns the session issued by the handshake, or "".
func (s *State) SessionID() string { return s.sessionID }

// Passed reports whether step completed successfully in this run.
func (s *State) Passed(step StepName) bool { return s.passed[step] }

func (s *State) setSession(id string) error {
	if s.sessionID != "" {
		return fmt.Errorf("%w: %q", ErrSessionReassigned, s.sessionID)
	}
	s.sessionID = id
	return nil
}

func (s *State) note(format string, args ...any) {
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

func (s *State) unmet(requires []StepName) []StepName {
	var missing []StepName
	for _, r := range requires {
		if !s.passed[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

// DefaultSequence is handshake, the optional initialized notification, tool
// listing and the unauthenticated privileged call.
func DefaultSequence(cfg Config) []Step {
	steps := []Step{{Name: StepHandshake, Run: handshake}}
	listRequires := []StepName{StepHandshake}
	if cfg.SendInitialized {
		steps = append(steps, Step{Name: StepNotifyInitialized, Requires: []StepName{StepHandshake}, Run: notifyInitialized})
		listRequires = append(listRequires, StepNotifyInitialized)
	}
	steps = append(steps,
		Step{Name: StepListCapabilities, Requires: listRequires, Run: listCapabilities},
		Step{Name: StepInvokePrivileged, Requires: []StepName{StepHandshake, StepListCapabilities}, Run: invokePrivileged},
	)
	return steps
}

// validateSequence checks names are unique and every precondition refers to
// an earlier step.
func validateSequence(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidSequence)
	}
	seen := make(map[StepName]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" || s.Run == nil {
			return fmt.Errorf("%w: step %d has no name or body", ErrInvalidSequence, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate step %q", ErrInvalidSequence, s.Name)
		}
		for _, r := range s.Requires {
			if !seen[r] {
				return fmt.Errorf("%w: step %q requires %q which does not run before it", ErrInvalidSequence, s.Name, r)
			}
		}
		seen[s.Name] = true
	}
	return nil
}

// handshake sends initialize and establishes the session.
func handshake(ctx context.Context, p *Probe, st *State) error {
	params := mcp.InitializeRequest{
		ProtocolVersion: p.cfg.ProtocolVersion,
		Capabilities:    p.cfg.Capabilities,
		ClientInfo:      mcp.ImplementationInfo{Name: p.cfg.ClientName, Version: p.cfg.ClientVersion},
	}
	ex, err := p.Post(ctx, st, StepHandshake, mcp.InitializeMethod, params)
	if err != nil {
		return err
	}
	// Record the session before judging the response so that a failed
	// handshake still releases it.
	if sid := ex.Header.Get(mcp.SessionIDHeader); sid != "" {
		if err := st.setSession(sid); err != nil {
			return err
		}
		p.log.InfoContext(ctx, "session.issued", slog.String("session_id", sid))
	} else {
		p.log.InfoContext(ctx, "session.none")
	}
	if err := expectStatus(StepHandshake, ex, http.StatusOK); err != nil {
		return err
	}
	res, err := decodeEnvelope(StepHandshake, ex)
	if err != nil {
		return err
	}
	raw, err := expectResult(StepHandshake, res)
	if err != nil {
		return err
	}
	result, err := decodeInitialize(raw, p.cfg.ProtocolVersion)
	if err != nil {
		return err
	}
	st.Initialize = result
	return nil
}

// notifyInitialized tells the server the client finished initialization.
// Only transport failures are fatal; the status is informational.
func notifyInitialized(ctx context.Context, p *Probe, st *State) error {
	ex, err := p.Notify(ctx, st, StepNotifyInitialized, mcp.InitializedNotificationMethod, struct{}{})
	if err != nil {
		return err
	}
	if ex.Status != http.StatusAccepted {
		st.note("notifications/initialized answered with HTTP %d, expected 202", ex.Status)
		if ex.Status < 200 || ex.Status > 299 {
			p.log.WarnContext(ctx, "notification.status.unexpected", slog.Int("status", ex.Status))
		}
	}
	return nil
}

// listCapabilities sends tools/list and requires result.tools to be an array.
func listCapabilities(ctx context.Context, p *Probe, st *State) error {
	ex, err := p.Post(ctx, st, StepListCapabilities, mcp.ToolsListMethod, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}
	if err := expectStatus(StepListCapabilities, ex, http.StatusOK); err != nil {
		return err
	}
	res, err := decodeEnvelope(StepListCapabilities, ex)
	if err != nil {
		return err
	}
	raw, err := expectResult(StepListCapabilities, res)
	if err != nil {
		return err
	}
	tools, count, err := decodeToolList(raw)
	if err != nil {
		return err
	}
	st.Tools = tools
	st.ToolCount = count
	p.log.InfoContext(ctx, "tools.listed", slog.Int("count", count))
	return nil
}

// invokePrivileged calls the configured tool without a valid credential and
// passes only if the server refuses with 401 and the auth-required code.
func invokePrivileged(ctx context.Context, p *Probe, st *State) error {
	args, err := p.cfg.ToolArguments()
	if err != nil {
		return err
	}
	params := mcp.CallToolRequest{Name: p.cfg.ToolName, Arguments: args}

	var opts []ExchangeOption
	if p.cfg.Credential == CredentialForged {
		tok, err := forgedBearerToken(p.endpoint.String(), time.Now())
		if err != nil {
			return err
		}
		opts = append(opts, WithBearer(tok))
	}

	ex, err := p.Post(ctx, st, StepInvokePrivileged, mcp.ToolsCallMethod, params, opts...)
	if err != nil {
		return err
	}
	if v := ex.Header.Get(mcp.WWWAuthenticateHeader); v != "" {
		if ch, err := ParseChallenge(v); err == nil {
			st.Challenge = ch
		} else {
			st.note("unparseable WWW-Authenticate: %v", err)
		}
	}
	if err := expectStatus(StepInvokePrivileged, ex, http.StatusUnauthorized); err != nil {
		return err
	}
	res, err := decodeEnvelope(StepInvokePrivileged, ex)
	if err != nil {
		return err
	}
	denial, err := expectAuthDenial(StepInvokePrivileged, res)
	if err != nil {
		return err
	}
	st.Denial = denial
	p.log.InfoContext(ctx, "auth.denied", slog.String("message", denial.Message))
	return nil
}

// runStep executes one step with logging context and converts its error into
// an outcome.
func (p *Probe) runStep(ctx context.Context, index int, step Step, st *State) StepOutcome {
	ctx = logctx.WithStepData(ctx, &logctx.StepData{Name: string(step.Name), Index: index})
	if sid := st.SessionID(); sid != "" {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sid, ProtocolVersion: p.cfg.ProtocolVersion})
	}

	out := StepOutcome{Step: step.Name}
	if missing := st.unmet(step.Requires); len(missing) > 0 {
		out.Err = fmt.Errorf("%w: %s requires %v", ErrPreconditionUnmet, step.Name, missing)
		out.Status = StatusFailed
		out.Error = out.Err.Error()
		p.log.ErrorContext(ctx, "probe.step.precondition.fail", slog.String("err", out.Error))
		return out
	}

	start := time.Now()
	st.lastStatus = 0
	st.notes = nil
	p.log.InfoContext(ctx, "probe.step.start")

	err := step.Run(ctx, p, st)

	out.DurationMs = time.Since(start).Milliseconds()
	out.HTTPStatus = st.lastStatus
	if len(st.notes) > 0 {
		out.Note = strings.Join(st.notes, "; ")
	}
	switch {
	case err == nil:
		out.Status = StatusPassed
		st.passed[step.Name] = true
		p.log.InfoContext(ctx, "probe.step.ok", slog.Duration("dur", time.Since(start)))
	case IsTransportError(err):
		out.Status = StatusInconclusive
		p.log.ErrorContext(ctx, "probe.step.inconclusive", slog.String("err", err.Error()))
	default:
		out.Status = StatusFailed
		p.log.ErrorContext(ctx, "probe.step.fail", slog.String("err", err.Error()))
	}
	if err != nil {
		out.Err = err
		out.Error = err.Error()
	}
	return out
}
