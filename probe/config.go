package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/mcp-probe-go/mcp"
	"github.com/joeshaw/envdecode"
)

// CredentialMode selects what, if anything, is presented on the privileged
// call. Every mode must still be rejected by a conformant server.
type CredentialMode string

const (
	// CredentialNone sends no Authorization header.
	CredentialNone CredentialMode = "none"
	// CredentialForged sends a well-formed bearer JWT signed with a throwaway
	// key the server cannot possibly trust.
	CredentialForged CredentialMode = "forged"
)

const (
	DefaultEndpoint      = "http://localhost:3000/mcp"
	DefaultClientName    = "ci-probe"
	DefaultClientVersion = "0.0.1"
	DefaultTimeout       = 30 * time.Second
	DefaultToolName      = "file_read"
)

// DefaultToolArguments are arguments that would be valid for file_read if the
// call were authorized.
var DefaultToolArguments = json.RawMessage(`{"path":"package.json"}`)

// Config is the static input of a probe run. Values can be loaded from the
// environment via ConfigFromEnv; defaults are provided via struct tags.
type Config struct {
	// Endpoint is the MCP endpoint URL. ENV: MCP_PROBE_ENDPOINT
	Endpoint string `env:"MCP_PROBE_ENDPOINT,default=http://localhost:3000/mcp"`
	// ProtocolVersion requested in initialize and sent in the version header.
	// ENV: MCP_PROBE_PROTOCOL_VERSION
	ProtocolVersion string `env:"MCP_PROBE_PROTOCOL_VERSION,default=2025-06-18"`
	// ClientName and ClientVersion form clientInfo. ENV: MCP_PROBE_CLIENT_NAME, MCP_PROBE_CLIENT_VERSION
	ClientName    string `env:"MCP_PROBE_CLIENT_NAME,default=ci-probe"`
	ClientVersion string `env:"MCP_PROBE_CLIENT_VERSION,default=0.0.1"`
	// Timeout bounds each individual exchange. ENV: MCP_PROBE_TIMEOUT
	Timeout time.Duration `env:"MCP_PROBE_TIMEOUT,default=30s"`
	// ToolName is the privileged tool invoked without credentials. ENV: MCP_PROBE_TOOL
	ToolName string `env:"MCP_PROBE_TOOL,default=file_read"`
	// ToolArgumentsJSON is a JSON object of tool arguments. ENV: MCP_PROBE_TOOL_ARGS
	ToolArgumentsJSON string `env:"MCP_PROBE_TOOL_ARGS"`
	// Credential selects the credential mode of the privileged call. ENV: MCP_PROBE_CREDENTIAL
	Credential CredentialMode `env:"MCP_PROBE_CREDENTIAL,default=none"`
	// SendInitialized sends notifications/initialized after the handshake.
	// ENV: MCP_PROBE_SEND_INITIALIZED
	SendInitialized bool `env:"MCP_PROBE_SEND_INITIALIZED,default=true"`
	// TerminateSession issues a DELETE for the issued session when a run ends.
	// ENV: MCP_PROBE_TERMINATE_SESSION
	TerminateSession bool `env:"MCP_PROBE_TERMINATE_SESSION,default=true"`
	// LogLevel and LogFormat are consumed by the CLI. ENV: MCP_PROBE_LOG_LEVEL, MCP_PROBE_LOG_FORMAT
	LogLevel  string `env:"MCP_PROBE_LOG_LEVEL,default=info"`
	LogFormat string `env:"MCP_PROBE_LOG_FORMAT,default=text"`

	// Capabilities is the announcement sent in initialize. Not loaded from
	// the environment.
	Capabilities mcp.ClientCapabilities
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Endpoint:         DefaultEndpoint,
		ProtocolVersion:  mcp.LatestProtocolVersion,
		ClientName:       DefaultClientName,
		ClientVersion:    DefaultClientVersion,
		Timeout:          DefaultTimeout,
		ToolName:         DefaultToolName,
		Credential:       CredentialNone,
		SendInitialized:  true,
		TerminateSession: true,
		LogLevel:         "info",
		LogFormat:        "text",
		Capabilities:     mcp.DefaultClientCapabilities(),
	}
}

// ConfigFromEnv builds a Config using envdecode. Unset variables fall back to
// the tag defaults, which match DefaultConfig.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	// envdecode allocates nested struct pointers while walking; reset the
	// announcement so it matches DefaultConfig exactly.
	cfg.Capabilities = mcp.DefaultClientCapabilities()
	return cfg, nil
}

// ToolArguments returns the configured arguments for the privileged call.
func (c Config) ToolArguments() (json.RawMessage, error) {
	s := strings.TrimSpace(c.ToolArgumentsJSON)
	if s == "" {
		return DefaultToolArguments, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("%w: tool arguments must be a JSON object: %v", ErrInvalidConfig, err)
	}
	return json.RawMessage(s), nil
}

// Validate checks the configuration for values that cannot produce a run.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint URL %q: %v", ErrInvalidConfig, c.Endpoint, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: endpoint URL must use HTTP or HTTPS scheme, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint URL %q has no host", ErrInvalidConfig, c.Endpoint)
	}
	if strings.TrimSpace(c.ProtocolVersion) == "" {
		return fmt.Errorf("%w: protocol version is required", ErrInvalidConfig)
	}
	if c.ClientName == "" {
		return fmt.Errorf("%w: client name is required", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	if c.ToolName == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidConfig)
	}
	switch c.Credential {
	case CredentialNone, CredentialForged:
	default:
		return fmt.Errorf("%w: unknown credential mode %q", ErrInvalidConfig, c.Credential)
	}
	if _, err := c.ToolArguments(); err != nil {
		return err
	}
	return nil
}

// Option configures a Probe.
type Option func(*options)

type options struct {
	logger *slog.Logger
	client *http.Client
	steps  []Step
}

// WithLogger sets the logger used by the probe. If not provided, slog.Default is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient replaces the HTTP client. The probe still bounds each
// exchange with Config.Timeout through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithSteps replaces the step sequence. The sequence is validated in New:
// every precondition must name a step that runs earlier.
func WithSteps(steps ...Step) Option {
	return func(o *options) { o.steps = append([]Step(nil), steps...) }
}
