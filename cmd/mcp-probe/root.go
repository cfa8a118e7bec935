package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/mcp-probe-go/mcp"
	"github.com/ggoodman/mcp-probe-go/probe"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

const (
	exitOK        = 0
	exitViolation = 1
	exitTransport = 2
	exitUsage     = 3
)

// exitError carries the process exit code chosen for a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: exitUsage, err: err} }

type rootFlags struct {
	endpoint        string
	protocolVersion string
	timeout         time.Duration
	tool            string
	toolArgs        string
	credential      string
	noInitialized   bool
	keepSession     bool
	logLevel        string
	logFormat       string
	reportJSON      bool
}

// run executes the CLI and maps the outcome onto an exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if !errors.As(err, &ee) {
		// Flag parsing and unknown commands surface from cobra unwrapped.
		fmt.Fprintf(stderr, "mcp-probe: %v\n", err)
		return exitUsage
	}
	fmt.Fprintf(stderr, "mcp-probe: %v\n", ee.err)
	return ee.code
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "mcp-probe",
		Short: "Check an MCP server for handshake, listing and authorization conformance",
		Long: `mcp-probe drives an MCP server through initialize, tools/list and an
unauthenticated tools/call, and fails unless the server refuses the call with
HTTP 401 and JSON-RPC error -32001.

Settings are read from MCP_PROBE_* environment variables; flags take precedence.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd, &flags, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&flags.endpoint, "endpoint", probe.DefaultEndpoint, "MCP endpoint URL (MCP_PROBE_ENDPOINT)")
	f.StringVar(&flags.protocolVersion, "protocol-version", mcp.LatestProtocolVersion, "protocol version to request (MCP_PROBE_PROTOCOL_VERSION)")
	f.DurationVar(&flags.timeout, "timeout", probe.DefaultTimeout, "per-request timeout (MCP_PROBE_TIMEOUT)")
	f.StringVar(&flags.tool, "tool", probe.DefaultToolName, "privileged tool to invoke without credentials (MCP_PROBE_TOOL)")
	f.StringVar(&flags.toolArgs, "tool-args", "", "JSON object of tool arguments (MCP_PROBE_TOOL_ARGS)")
	f.StringVar(&flags.credential, "credential", string(probe.CredentialNone), "credential presented on the privileged call: none|forged (MCP_PROBE_CREDENTIAL)")
	f.BoolVar(&flags.noInitialized, "no-initialized", false, "do not send notifications/initialized")
	f.BoolVar(&flags.keepSession, "keep-session", false, "do not DELETE the session when the run ends")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level: debug|info|warn|error (MCP_PROBE_LOG_LEVEL)")
	f.StringVar(&flags.logFormat, "log-format", "text", "log format: text|json (MCP_PROBE_LOG_FORMAT)")
	f.BoolVar(&flags.reportJSON, "report", false, "print the full report as JSON instead of the summary line")

	cmd.AddCommand(newSchemaCmd(stdout))
	return cmd
}

func runProbe(cmd *cobra.Command, flags *rootFlags, stdout, stderr io.Writer) error {
	cfg, err := probe.ConfigFromEnv()
	if err != nil {
		return usageError(err)
	}
	applyFlags(cmd, flags, &cfg)

	log, err := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return usageError(err)
	}

	p, err := probe.New(cfg, probe.WithLogger(log))
	if err != nil {
		return usageError(err)
	}
	defer p.Close()

	report, runErr := p.Run(cmd.Context())

	if flags.reportJSON {
		enc := json.NewEncoder(stdout)
		if err := enc.Encode(report); err != nil {
			return &exitError{code: exitTransport, err: fmt.Errorf("failed to encode report: %w", err)}
		}
	}

	if runErr != nil {
		return &exitError{code: exitCode(runErr), err: runErr}
	}

	if !flags.reportJSON {
		line, err := report.SummaryLine()
		if err != nil {
			return &exitError{code: exitTransport, err: fmt.Errorf("failed to encode summary: %w", err)}
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

// exitCode maps a run error onto the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case probe.IsTransportError(err):
		return exitTransport
	case errors.Is(err, probe.ErrInvalidConfig), errors.Is(err, probe.ErrInvalidSequence):
		return exitUsage
	default:
		// Violations and unmet preconditions.
		return exitViolation
	}
}

// applyFlags overlays flags the user set explicitly onto the environment
// configuration.
func applyFlags(cmd *cobra.Command, flags *rootFlags, cfg *probe.Config) {
	changed := cmd.Flags().Changed
	if changed("endpoint") {
		cfg.Endpoint = flags.endpoint
	}
	if changed("protocol-version") {
		cfg.ProtocolVersion = flags.protocolVersion
	}
	if changed("timeout") {
		cfg.Timeout = flags.timeout
	}
	if changed("tool") {
		cfg.ToolName = flags.tool
	}
	if changed("tool-args") {
		cfg.ToolArgumentsJSON = flags.toolArgs
	}
	if changed("credential") {
		cfg.Credential = probe.CredentialMode(flags.credential)
	}
	if changed("no-initialized") {
		cfg.SendInitialized = !flags.noInitialized
	}
	if changed("keep-session") {
		cfg.TerminateSession = !flags.keepSession
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q: want text or json", format)
}
