package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseEnvelope decodes a request body into a Request, distinguishing
// malformed JSON (parse error) from well-formed JSON of the wrong shape
// (invalid request). The returned error is nil on success.
func ParseEnvelope(body []byte) (*Request, *RPCError) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error: empty request body",
		}
	}

	var probe interface{}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: fmt.Sprintf("Parse error: %v", err),
		}
	}

	env, ok := probe.(map[string]interface{})
	if !ok {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid Request: must be a JSON object",
		}
	}

	if rpcErr := ValidateEnvelope(env); rpcErr != nil {
		return nil, rpcErr
	}

	// Shapes are validated above, so this decode cannot fail on the fields
	// the struct declares.
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: fmt.Sprintf("Invalid Request: %v", err),
		}
	}

	return &req, nil
}

// ValidateEnvelope checks a decoded message against the minimal JSON-RPC
// envelope grammar. It is a pure predicate: nil means the envelope conforms.
func ValidateEnvelope(env map[string]interface{}) *RPCError {
	if env["jsonrpc"] != "2.0" {
		return &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid Request: jsonrpc must be '2.0'",
		}
	}

	method, ok := env["method"].(string)
	if !ok || method == "" {
		return &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid Request: method is required and must be a string",
		}
	}

	if !strings.HasPrefix(method, NotificationPrefix) {
		if _, present := env["id"]; !present {
			return &RPCError{
				Code:    InvalidRequest,
				Message: "Invalid Request: id is required for non-notification requests",
			}
		}
	}

	if params, present := env["params"]; present && params != nil {
		switch params.(type) {
		case map[string]interface{}, []interface{}:
		default:
			return &RPCError{
				Code:    InvalidRequest,
				Message: "Invalid Request: params must be an object or array",
			}
		}
	}

	return nil
}
