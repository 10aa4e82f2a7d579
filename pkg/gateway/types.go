package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Protocol constants for the MCP Streamable HTTP transport.
const (
	ProtocolVersion    = "2025-03-26"
	HeaderSessionID    = "Mcp-Session-Id"
	NotificationPrefix = "notifications/"

	ServerName    = "AMD SMI MCP Server"
	ServerVersion = "1.0.0"
)

// JSON-RPC error codes, stable across the API's lifetime.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Request represents a JSON-RPC 2.0 request envelope. ID and Params are kept
// raw so that absent, null, string and numeric ids can be told apart and
// echoed back unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no reply.
func (r *Request) IsNotification() bool {
	return strings.HasPrefix(r.Method, NotificationPrefix)
}

// Response represents a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// NewResponse builds a success reply carrying the request id.
func NewResponse(id json.RawMessage, result interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds an error reply carrying the request id when one
// was present.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}

// Stream frame type tags.
const (
	FrameConnection = "connection"
	FrameMessage    = "message"
	FrameHeartbeat  = "heartbeat"
	FrameError      = "error"
)

// StreamFrame is the delivery envelope for one server-push event.
type StreamFrame struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// ToolHandler executes a registered tool and normalizes its output to text.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool binds a descriptor to its invocable handler.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     ToolHandler
}

// ToolDescriptor is the wire shape of one tools/list entry.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func unixSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
