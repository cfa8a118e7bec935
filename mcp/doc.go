// Package mcp contains the Model Context Protocol data types and constants a
// client needs to drive the initialize, tools/list and tools/call exchanges
// over the streamable HTTP transport. It mirrors the wire representation
// (exported structs with json tags, string constants for method and header
// names) and carries no transport logic of its own.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Capabilities
//
// ClientCapabilities is the announcement a client sends in initialize. The
// server's reply is decoded into ServerCapabilities. Neither is renegotiated
// after the handshake.
//
// # Compatibility
//
// LatestProtocolVersion is the protocol date this module targets by default.
// Callers may configure another version; servers are expected to echo the
// requested version when they support it.
package mcp
