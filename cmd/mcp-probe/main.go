// Command mcp-probe checks an MCP server's streamable HTTP endpoint for
// handshake, tool listing and authorization conformance.
//
// Configuration comes from MCP_PROBE_* environment variables and can be
// overridden with flags. Exit codes: 0 conformant, 1 conformance violation,
// 2 transport failure (inconclusive), 3 configuration or usage error.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
