package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidConfig     = errors.New("invalid probe configuration")
	ErrInvalidSequence   = errors.New("invalid step sequence")
	ErrPreconditionUnmet = errors.New("step precondition unmet")
	ErrSessionReassigned = errors.New("session already established")
)

// TransportErrorKind classifies infrastructure failures.
type TransportErrorKind string

const (
	KindConnect       TransportErrorKind = "connect"
	KindTimeout       TransportErrorKind = "timeout"
	KindCanceled      TransportErrorKind = "canceled"
	KindRead          TransportErrorKind = "read"
	KindMalformedBody TransportErrorKind = "malformed_body"
)

// TransportError means the exchange itself failed: the protocol was not
// exercised and the run is inconclusive.
type TransportError struct {
	Step StepName
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("step %s: transport %s: %v", e.Step, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Violation is a well-formed HTTP/JSON response that breaks the protocol
// contract. It names the step, the field and both values.
type Violation struct {
	Step     StepName
	Field    string
	Expected string
	Actual   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("step %s: %s: expected %s, got %s", v.Step, v.Field, v.Expected, v.Actual)
}

// IsTransportError reports whether err is (or wraps) a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsViolation reports whether err is (or wraps) a *Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// classifyNetError maps a client or body-read failure onto a transport kind.
// ctx is the per-exchange context, consulted because a deadline hit while
// reading a body is not always surfaced as context.DeadlineExceeded.
func classifyNetError(ctx context.Context, err error, fallback TransportErrorKind) TransportErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return KindCanceled
	}
	return fallback
}
