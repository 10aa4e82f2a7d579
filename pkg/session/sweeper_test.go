package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper(t *testing.T) {
	t.Run("should remove expired sessions periodically", func(t *testing.T) {
		store := NewStore(StoreConfig{
			Timeout:       20 * time.Millisecond,
			SweepInterval: time.Hour,
		}, zerolog.Nop())
		store.Create(nil, nil)

		sw := NewSweeper(store, time.Second, zerolog.Nop())
		require.NoError(t, sw.Start())
		defer sw.Stop()

		assert.Eventually(t, func() bool {
			return store.Count() == 0
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("should reject double start", func(t *testing.T) {
		store := NewStore(StoreConfig{}, zerolog.Nop())
		sw := NewSweeper(store, time.Minute, zerolog.Nop())

		require.NoError(t, sw.Start())
		defer sw.Stop()

		assert.Error(t, sw.Start())
	})

	t.Run("should tolerate stop without start", func(t *testing.T) {
		store := NewStore(StoreConfig{}, zerolog.Nop())
		sw := NewSweeper(store, time.Minute, zerolog.Nop())
		sw.Stop()
	})
}
