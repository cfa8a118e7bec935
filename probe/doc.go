// Package probe checks that an MCP server reachable over the streamable HTTP
// transport completes the initialize handshake, lists its tools, and refuses a
// privileged tool call made without a valid credential.
//
// A run is a fixed sequence of named steps. Each step declares the steps that
// must have passed before it, performs exactly one exchange, and validates the
// response against a typed contract. The first step that does not pass ends
// the run; later steps are reported as skipped.
//
// Failures come in two kinds that are never conflated:
//
//   - *TransportError: the exchange itself failed (connection refused,
//     timeout, unreadable or non-JSON body). The server's conformance is
//     unknown and the step is reported inconclusive.
//   - *Violation: the server answered with well-formed HTTP and JSON that
//     breaks the expected contract. The violation names the step, the field,
//     and the expected and actual values.
//
// Typical use:
//
//	p, err := probe.New(probe.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	report, err := p.Run(ctx)
//
// Run never exits the process and always returns a Report. The session issued
// by the handshake is terminated with DELETE on every exit path.
package probe
