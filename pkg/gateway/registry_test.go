package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its input",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "ok", nil
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should register a tool", func(t *testing.T) {
		reg := NewRegistry()

		require.NoError(t, reg.Register(echoTool("gpu.status")))
		assert.Equal(t, 1, reg.Len())

		tool, ok := reg.Get("gpu.status")
		require.True(t, ok)
		assert.Equal(t, "gpu.status", tool.Name)
	})

	t.Run("should reject empty name", func(t *testing.T) {
		reg := NewRegistry()
		err := reg.Register(Tool{Handler: echoTool("x").Handler})
		assert.Error(t, err)
	})

	t.Run("should reject nil handler", func(t *testing.T) {
		reg := NewRegistry()
		err := reg.Register(Tool{Name: "broken"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler cannot be nil")
	})

	t.Run("should reject duplicate registration", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("dup")))

		err := reg.Register(echoTool("dup"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})
}

func TestRegistry_List(t *testing.T) {
	t.Run("should return descriptors sorted by name", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("gpu.status")))
		require.NoError(t, reg.Register(echoTool("gpu.discovery")))

		list := reg.List()
		require.Len(t, list, 2)
		assert.Equal(t, "gpu.discovery", list[0].Name)
		assert.Equal(t, "gpu.status", list[1].Name)
	})

	t.Run("should default the input schema when none declared", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(echoTool("bare")))

		list := reg.List()
		require.Len(t, list, 1)
		assert.Equal(t, "object", list[0].InputSchema["type"])
	})

	t.Run("should return empty list when nothing registered", func(t *testing.T) {
		assert.Empty(t, NewRegistry().List())
	})
}
