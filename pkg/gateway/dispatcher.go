package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/internal/logger"
	"github.com/AMD-melliott/mcp-amdsmi/internal/observability"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Dispatcher routes validated RPC requests to method handlers. Side effects
// are scoped to the bound session, the process-wide log level, and frames
// appended to the caller's event channel.
type Dispatcher struct {
	store    *session.Store
	registry *Registry
	hub      *StreamHub
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(store *session.Store, registry *Registry, hub *StreamHub, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// Dispatch executes one request. A nil response means "no response body";
// the transport must translate it into a body-less success, never an error.
// sess may be nil for requests that arrived without a session binding.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, sess *session.Session) *Response {
	start := time.Now()
	resp := d.route(ctx, req, sess)
	observability.RecordRPCRequest(req.Method, time.Since(start), resp == nil || resp.Error == nil)

	d.logger.Debug().
		Str("method", req.Method).
		Bool("notification", resp == nil).
		Msg("Dispatched RPC request")

	return resp
}

func (d *Dispatcher) route(ctx context.Context, req *Request, sess *session.Session) *Response {
	switch {
	case req.Method == "initialize":
		return d.handleInitialize(req, sess)
	case strings.HasPrefix(req.Method, NotificationPrefix):
		// Executed for side effect only; initialized is currently the only
		// notification with meaning and it needs no state change here.
		return nil
	case req.Method == "tools/list":
		return d.handleToolsList(req)
	case req.Method == "tools/call":
		return d.handleToolsCall(ctx, req, sess)
	case req.Method == "resources/list":
		return NewResponse(req.ID, map[string]interface{}{"resources": []interface{}{}})
	case req.Method == "resources/read":
		return NewErrorResponse(req.ID, MethodNotFound, "Resources not implemented")
	case req.Method == "prompts/list":
		return NewResponse(req.ID, map[string]interface{}{"prompts": []interface{}{}})
	case req.Method == "prompts/get":
		return NewErrorResponse(req.ID, MethodNotFound, "Prompts not implemented")
	case req.Method == "logging/setLevel":
		return d.handleSetLevel(req)
	default:
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

type initializeParams struct {
	ClientInfo   map[string]interface{} `json:"clientInfo"`
	Capabilities map[string]interface{} `json:"capabilities"`
}

func (d *Dispatcher) handleInitialize(req *Request, sess *session.Session) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, InvalidParams, fmt.Sprintf("Invalid params: %v", err))
		}
	}

	// Repeated initialize calls re-merge metadata into the same session.
	if sess != nil {
		if len(params.ClientInfo) > 0 {
			d.store.MergeClientInfo(sess.ID, params.ClientInfo)
		}
		d.store.SetCapabilities(sess.ID, params.Capabilities)
	}

	serverCapabilities := map[string]interface{}{
		"tools": map[string]interface{}{
			"listChanged": false,
		},
		"resources": map[string]interface{}{},
		"prompts":   map[string]interface{}{},
		"logging": map[string]interface{}{
			"supportedLevels": logger.SupportedLevels(),
		},
	}
	if truthy(params.Capabilities["sampling"]) {
		serverCapabilities["sampling"] = map[string]interface{}{}
	}
	if truthy(params.Capabilities["experimental"]) {
		serverCapabilities["experimental"] = map[string]interface{}{
			"progress": true,
		}
	}

	clientName, _ := params.ClientInfo["name"].(string)
	if clientName == "" {
		clientName = "unknown"
	}
	d.logger.Info().Str("client", clientName).Msg("Negotiated capabilities with client")

	return NewResponse(req.ID, map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    serverCapabilities,
		"serverInfo": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
	})
}

func (d *Dispatcher) handleToolsList(req *Request) *Response {
	return NewResponse(req.ID, map[string]interface{}{
		"tools": d.registry.List(),
	})
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *Request, sess *session.Session) *Response {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, InvalidParams, fmt.Sprintf("Invalid params: %v", err))
		}
	}

	if params.Name == "" {
		return NewErrorResponse(req.ID, InvalidParams, "Tool name is required")
	}

	tool, ok := d.registry.Get(params.Name)
	if !ok {
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("Tool '%s' not found", params.Name))
	}

	if tool.InputSchema != nil {
		if rpcErr := validateToolArgs(tool.InputSchema, params.Arguments); rpcErr != nil {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
	}

	token := progressToken(req.ID)

	d.publishProgress(sess, token, map[string]interface{}{
		"kind":    "begin",
		"title":   fmt.Sprintf("Executing %s", params.Name),
		"message": "Starting tool execution...",
	})

	start := time.Now()
	text, err := tool.Handler(ctx, params.Arguments)
	observability.RecordToolExecution(params.Name, time.Since(start), err == nil)

	if err != nil {
		d.logger.Error().Err(err).Str("tool", params.Name).Msg("Tool execution failed")
		d.publishProgress(sess, token, map[string]interface{}{
			"kind":    "end",
			"message": fmt.Sprintf("Tool execution failed: %v", err),
		})
		return NewErrorResponse(req.ID, InternalError, fmt.Sprintf("Tool execution failed: %v", err))
	}

	d.publishProgress(sess, token, map[string]interface{}{
		"kind":    "end",
		"message": "Tool execution completed",
	})

	return NewResponse(req.ID, map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{
				"type": "text",
				"text": text,
			},
		},
	})
}

type setLevelParams struct {
	Level string `json:"level"`
}

func (d *Dispatcher) handleSetLevel(req *Request) *Response {
	var params setLevelParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, InvalidParams, fmt.Sprintf("Invalid params: %v", err))
		}
	}

	if err := logger.SetLevel(params.Level); err != nil {
		return NewErrorResponse(req.ID, InvalidParams, fmt.Sprintf("Invalid logging level: %s", params.Level))
	}

	d.logger.Info().Str("level", params.Level).Msg("Log level changed")
	return NewResponse(req.ID, map[string]interface{}{})
}

// publishProgress pushes a progress notification into the caller's event
// channel. Without a bound session this is a no-op.
func (d *Dispatcher) publishProgress(sess *session.Session, token string, value map[string]interface{}) {
	if sess == nil {
		return
	}
	d.hub.Publish(sess.ID, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/progress",
		"params": map[string]interface{}{
			"progressToken": token,
			"value":         value,
		},
	})
}

func validateToolArgs(schema, args map[string]interface{}) *RPCError {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		// A broken schema is a registration bug, not a caller error; let the
		// tool run rather than reject the call.
		return nil
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return &RPCError{
		Code:    InvalidParams,
		Message: fmt.Sprintf("Invalid tool arguments: %s", strings.Join(msgs, "; ")),
	}
}

// progressToken derives a stable token from the request id, falling back to
// a random token for notifications without one.
func progressToken(id json.RawMessage) string {
	if len(id) == 0 {
		return fmt.Sprintf("tool_%s", uuid.NewString())
	}
	raw := string(id)
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		raw = s
	}
	return fmt.Sprintf("tool_%s", raw)
}

// truthy mirrors loose boolean semantics for negotiated capability values:
// empty collections and zero values do not enable a feature.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	default:
		return true
	}
}
