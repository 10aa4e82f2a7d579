package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *session.Store, *Registry, *StreamHub) {
	t.Helper()

	store := session.NewStore(session.StoreConfig{
		Timeout:       time.Hour,
		SweepInterval: time.Hour,
	}, zerolog.Nop())
	registry := NewRegistry()
	hub := NewStreamHub(store, StreamHubConfig{QueueSize: 16}, zerolog.Nop())

	return NewDispatcher(store, registry, hub, zerolog.Nop()), store, registry, hub
}

func makeRequest(method, id, params string) *Request {
	req := &Request{JSONRPC: "2.0", Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func drainFrames(t *testing.T, ch *EventChannel) []map[string]interface{} {
	t.Helper()

	var out []map[string]interface{}
	for {
		select {
		case data := <-ch.frames:
			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &decoded))
			out = append(out, decoded)
		default:
			return out
		}
	}
}

func progressKind(t *testing.T, frame map[string]interface{}) string {
	t.Helper()
	params, ok := frame["params"].(map[string]interface{})
	require.True(t, ok)
	value, ok := params["value"].(map[string]interface{})
	require.True(t, ok)
	kind, _ := value["kind"].(string)
	return kind
}

func TestDispatcher_Initialize(t *testing.T) {
	t.Run("should return protocol version and server identity", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(), makeRequest("initialize", `1`, `{"clientInfo":{"name":"X"}}`), nil)
		require.NotNil(t, resp)
		require.Nil(t, resp.Error)

		result := resp.Result.(map[string]interface{})
		assert.Equal(t, ProtocolVersion, result["protocolVersion"])

		serverInfo := result["serverInfo"].(map[string]interface{})
		assert.Equal(t, ServerName, serverInfo["name"])
		assert.Equal(t, ServerVersion, serverInfo["version"])
	})

	t.Run("should merge client metadata into the bound session", func(t *testing.T) {
		d, store, _, _ := newTestDispatcher(t)
		sess := store.Create(map[string]interface{}{"client_ip": "127.0.0.1"}, nil)

		resp := d.Dispatch(context.Background(),
			makeRequest("initialize", `1`, `{"clientInfo":{"name":"X"},"capabilities":{"sampling":true}}`), sess)
		require.Nil(t, resp.Error)

		got, ok := store.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, "X", got.ClientInfo["name"])
		assert.Equal(t, "127.0.0.1", got.ClientInfo["client_ip"])
		assert.Equal(t, true, got.Capabilities["sampling"])
	})

	t.Run("should be idempotent on repeated calls", func(t *testing.T) {
		d, store, _, _ := newTestDispatcher(t)
		sess := store.Create(nil, nil)
		before := store.Count()

		d.Dispatch(context.Background(), makeRequest("initialize", `1`, `{"clientInfo":{"name":"X"}}`), sess)
		d.Dispatch(context.Background(), makeRequest("initialize", `2`, `{"clientInfo":{"version":"2"}}`), sess)

		assert.Equal(t, before, store.Count())

		got, ok := store.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, "X", got.ClientInfo["name"])
		assert.Equal(t, "2", got.ClientInfo["version"])
	})

	t.Run("should gate sampling on client support", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(),
			makeRequest("initialize", `1`, `{"capabilities":{"sampling":true}}`), nil)
		caps := resp.Result.(map[string]interface{})["capabilities"].(map[string]interface{})
		assert.Contains(t, caps, "sampling")

		resp = d.Dispatch(context.Background(),
			makeRequest("initialize", `2`, `{"capabilities":{}}`), nil)
		caps = resp.Result.(map[string]interface{})["capabilities"].(map[string]interface{})
		assert.NotContains(t, caps, "sampling")
	})

	t.Run("should not treat an empty capability object as support", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(),
			makeRequest("initialize", `1`, `{"capabilities":{"sampling":{}}}`), nil)
		caps := resp.Result.(map[string]interface{})["capabilities"].(map[string]interface{})
		assert.NotContains(t, caps, "sampling")
	})

	t.Run("should advertise experimental progress when requested", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(),
			makeRequest("initialize", `1`, `{"capabilities":{"experimental":true}}`), nil)
		caps := resp.Result.(map[string]interface{})["capabilities"].(map[string]interface{})
		exp := caps["experimental"].(map[string]interface{})
		assert.Equal(t, true, exp["progress"])
	})

	t.Run("should always advertise the logging baseline", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(), makeRequest("initialize", `1`, ""), nil)
		caps := resp.Result.(map[string]interface{})["capabilities"].(map[string]interface{})
		logging := caps["logging"].(map[string]interface{})
		assert.Len(t, logging["supportedLevels"], 5)
	})
}

func TestDispatcher_Notifications(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	t.Run("should return no response for notifications", func(t *testing.T) {
		resp := d.Dispatch(context.Background(), makeRequest("notifications/initialized", "", ""), nil)
		assert.Nil(t, resp)
	})

	t.Run("should swallow unknown notification names", func(t *testing.T) {
		resp := d.Dispatch(context.Background(), makeRequest("notifications/whatever", "", ""), nil)
		assert.Nil(t, resp)
	})
}

func TestDispatcher_ToolsList(t *testing.T) {
	t.Run("should return empty list with nothing registered", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(), makeRequest("tools/list", `1`, ""), nil)
		require.Nil(t, resp.Error)

		result := resp.Result.(map[string]interface{})
		assert.Empty(t, result["tools"])
	})

	t.Run("should enumerate registered descriptors", func(t *testing.T) {
		d, _, registry, _ := newTestDispatcher(t)
		require.NoError(t, registry.Register(Tool{
			Name:        "gpu.discovery",
			Description: "Enumerate AMD GPU devices",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "no devices", nil
			},
		}))

		resp := d.Dispatch(context.Background(), makeRequest("tools/list", `1`, ""), nil)
		result := resp.Result.(map[string]interface{})
		tools := result["tools"].([]ToolDescriptor)
		require.Len(t, tools, 1)
		assert.Equal(t, "gpu.discovery", tools[0].Name)
	})
}

func TestDispatcher_ToolsCall(t *testing.T) {
	t.Run("should invoke the tool and wrap its text output", func(t *testing.T) {
		d, _, registry, _ := newTestDispatcher(t)
		require.NoError(t, registry.Register(Tool{
			Name: "gpu.status",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return fmt.Sprintf("device %v healthy", args["device_id"]), nil
			},
		}))

		resp := d.Dispatch(context.Background(),
			makeRequest("tools/call", `2`, `{"name":"gpu.status","arguments":{"device_id":"0"}}`), nil)
		require.Nil(t, resp.Error)

		result := resp.Result.(map[string]interface{})
		content := result["content"].([]interface{})
		require.Len(t, content, 1)
		entry := content[0].(map[string]interface{})
		assert.Equal(t, "text", entry["type"])
		assert.Equal(t, "device 0 healthy", entry["text"])
	})

	t.Run("should reject a missing tool name", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(), makeRequest("tools/call", `2`, `{}`), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
	})

	t.Run("should report unknown tools as not found", func(t *testing.T) {
		d, _, _, _ := newTestDispatcher(t)

		resp := d.Dispatch(context.Background(),
			makeRequest("tools/call", `2`, `{"name":"nonexistent"}`), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "nonexistent")
	})

	t.Run("should emit begin and end progress frames around success", func(t *testing.T) {
		d, store, registry, hub := newTestDispatcher(t)
		require.NoError(t, registry.Register(echoTool("gpu.status")))

		sess := store.Create(nil, nil)
		ch := hub.Attach(sess.ID)

		resp := d.Dispatch(context.Background(),
			makeRequest("tools/call", `7`, `{"name":"gpu.status"}`), sess)
		require.Nil(t, resp.Error)

		frames := drainFrames(t, ch)
		require.Len(t, frames, 2)
		assert.Equal(t, "notifications/progress", frames[0]["method"])
		assert.Equal(t, "begin", progressKind(t, frames[0]))
		assert.Equal(t, "end", progressKind(t, frames[1]))

		params := frames[0]["params"].(map[string]interface{})
		assert.Equal(t, "tool_7", params["progressToken"])
	})

	t.Run("should still emit the progress pair when the tool fails", func(t *testing.T) {
		d, store, registry, hub := newTestDispatcher(t)
		require.NoError(t, registry.Register(Tool{
			Name: "gpu.broken",
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "", fmt.Errorf("smi backend unavailable")
			},
		}))

		sess := store.Create(nil, nil)
		ch := hub.Attach(sess.ID)

		resp := d.Dispatch(context.Background(),
			makeRequest("tools/call", `3`, `{"name":"gpu.broken"}`), sess)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "smi backend unavailable")

		frames := drainFrames(t, ch)
		require.Len(t, frames, 2)
		assert.Equal(t, "begin", progressKind(t, frames[0]))
		assert.Equal(t, "end", progressKind(t, frames[1]))

		value := frames[1]["params"].(map[string]interface{})["value"].(map[string]interface{})
		assert.Contains(t, value["message"], "failed")
	})

	t.Run("should not emit progress frames without a bound session", func(t *testing.T) {
		d, store, registry, hub := newTestDispatcher(t)
		require.NoError(t, registry.Register(echoTool("gpu.status")))

		// A channel for some other session must stay untouched.
		other := store.Create(nil, nil)
		ch := hub.Attach(other.ID)

		resp := d.Dispatch(context.Background(),
			makeRequest("tools/call", `4`, `{"name":"gpu.status"}`), nil)
		require.Nil(t, resp.Error)
		assert.Empty(t, drainFrames(t, ch))
	})

	t.Run("should validate arguments against the declared schema", func(t *testing.T) {
		d, _, registry, _ := newTestDispatcher(t)
		require.NoError(t, registry.Register(Tool{
			Name: "gpu.metrics",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"device_id": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"device_id"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return "ok", nil
			},
		}))

		resp := d.Dispatch(context.Background(),
			makeRequest("tools/call", `5`, `{"name":"gpu.metrics","arguments":{}}`), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)

		resp = d.Dispatch(context.Background(),
			makeRequest("tools/call", `6`, `{"name":"gpu.metrics","arguments":{"device_id":"0"}}`), nil)
		assert.Nil(t, resp.Error)
	})
}

func TestDispatcher_Stubs(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	t.Run("resources/list returns empty collection", func(t *testing.T) {
		resp := d.Dispatch(context.Background(), makeRequest("resources/list", `1`, ""), nil)
		require.Nil(t, resp.Error)
		assert.Empty(t, resp.Result.(map[string]interface{})["resources"])
	})

	t.Run("prompts/list returns empty collection", func(t *testing.T) {
		resp := d.Dispatch(context.Background(), makeRequest("prompts/list", `1`, ""), nil)
		require.Nil(t, resp.Error)
		assert.Empty(t, resp.Result.(map[string]interface{})["prompts"])
	})

	t.Run("resources/read is not implemented", func(t *testing.T) {
		resp := d.Dispatch(context.Background(), makeRequest("resources/read", `1`, ""), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})

	t.Run("prompts/get is not implemented", func(t *testing.T) {
		resp := d.Dispatch(context.Background(), makeRequest("prompts/get", `1`, ""), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)
	})
}

func TestDispatcher_SetLevel(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	t.Run("should accept a recognized level", func(t *testing.T) {
		resp := d.Dispatch(context.Background(),
			makeRequest("logging/setLevel", `1`, `{"level":"warning"}`), nil)
		require.NotNil(t, resp)
		assert.Nil(t, resp.Error)
	})

	t.Run("should reject an unrecognized level", func(t *testing.T) {
		resp := d.Dispatch(context.Background(),
			makeRequest("logging/setLevel", `1`, `{"level":"verbose"}`), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "verbose")
	})
}

func TestDispatcher_UnknownMethod(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), makeRequest("gpu/teleport", `9`, ""), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "gpu/teleport")
}

func TestProgressToken(t *testing.T) {
	t.Run("should use numeric ids verbatim", func(t *testing.T) {
		assert.Equal(t, "tool_2", progressToken(json.RawMessage(`2`)))
	})

	t.Run("should unquote string ids", func(t *testing.T) {
		assert.Equal(t, "tool_abc", progressToken(json.RawMessage(`"abc"`)))
	})

	t.Run("should fall back to a random token without an id", func(t *testing.T) {
		a := progressToken(nil)
		b := progressToken(nil)
		assert.NotEqual(t, a, b)
	})
}
