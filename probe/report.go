package probe

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ggoodman/mcp-probe-go/mcp"
)

// StepStatus is the outcome class of a single step.
type StepStatus string

const (
	StatusPassed StepStatus = "passed"
	// StatusFailed marks a conformance violation or an unmet precondition.
	StatusFailed StepStatus = "failed"
	// StatusInconclusive marks a transport failure: the protocol was not exercised.
	StatusInconclusive StepStatus = "inconclusive"
	StatusSkipped      StepStatus = "skipped"
)

// StepOutcome records what happened to one step of a run.
type StepOutcome struct {
	Step       StepName   `json:"step"`
	Status     StepStatus `json:"status"`
	HTTPStatus int        `json:"http_status,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	// Note carries non-fatal observations, e.g. an unexpected status on a
	// notification.
	Note string `json:"note,omitempty"`

	Err error `json:"-"`
}

// Summary is the one-line result of a successful run.
type Summary struct {
	Server          mcp.ImplementationInfo `json:"server"`
	ProtocolVersion string                 `json:"protocol_version"`
	ToolCount       int                    `json:"tool_count"`
	Tools           []string               `json:"tools,omitempty"`
	AuthRequired    string                 `json:"auth_required"`
	AuthChallenge   *Challenge             `json:"auth_challenge,omitempty"`
	SessionIssued   bool                   `json:"session_issued"`
}

// Report is the full record of a run.
type Report struct {
	Endpoint        string        `json:"endpoint"`
	ProtocolVersion string        `json:"protocol_version"`
	OK              bool          `json:"ok"`
	StartedAt       time.Time     `json:"started_at"`
	DurationMs      int64         `json:"duration_ms"`
	Steps           []StepOutcome `json:"steps"`
	Summary         *Summary      `json:"summary,omitempty"`
}

// Err returns the error of the first step that did not pass, or nil.
func (r *Report) Err() error {
	for _, o := range r.Steps {
		if o.Status == StatusFailed || o.Status == StatusInconclusive {
			if o.Err != nil {
				return o.Err
			}
			return errors.New(o.Error)
		}
	}
	return nil
}

// Outcome returns the outcome recorded for step, if it ran or was skipped.
func (r *Report) Outcome(step StepName) (StepOutcome, bool) {
	for _, o := range r.Steps {
		if o.Step == step {
			return o, true
		}
	}
	return StepOutcome{}, false
}

// SummaryLine renders the summary as a single JSON line.
func (r *Report) SummaryLine() (string, error) {
	b, err := json.Marshal(r.Summary)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
