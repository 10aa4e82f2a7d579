// Package gateway implements the MCP Streamable HTTP transport: JSON-RPC
// envelope validation, protocol dispatch with capability negotiation, the
// per-session event channels feeding SSE and websocket push streams, and the
// HTTP frontend that binds requests to sessions.
package gateway
