// Package mcpclient implements a client for MCP tool servers spoken to
// over a child process's standard streams.
//
// The protocol is newline-delimited JSON-RPC 2.0: one JSON document per
// line, requests carrying a monotonically increasing integer id and
// responses echoing it. The package is split into two layers:
//
//   - Transport: owns the raw byte channel. StdioTransport is the
//     process-backed implementation; it spawns the server, wires the
//     stdin/stdout pipes, and guarantees the process is torn down on
//     every exit path. Tests substitute in-memory transports.
//   - Client: request/response correlation on top of a Transport. It
//     performs the initialize handshake, discovers and caches the tool
//     catalog, and invokes tools with a per-call timeout.
//
// Requests are not pipelined: one request is outstanding at a time, and
// responses are matched strictly by id, so a late response to a
// timed-out call is discarded rather than mis-delivered to the next
// call. Tool-call timeouts and malformed responses are reported as
// failed tool results instead of errors, so an agent loop can feed the
// failure back to the model and keep the conversation going.
//
// # Quick Start
//
//	client, err := mcpclient.Launch("/usr/bin/python3", []string{"-m", "zscaler_mcp"})
//	if err != nil {
//	    log.Fatal(err) // *LaunchError: bad path or the server died on startup
//	}
//	defer client.Close()
//
//	if _, err := client.Initialize(ctx); err != nil {
//	    log.Fatal(err) // *HandshakeError
//	}
//	tools, _ := client.ListTools(ctx)
//	result, _ := client.CallTool(ctx, tools[0].Name, map[string]interface{}{})
package mcpclient
