package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// handleWebSocket mirrors a session's event stream over a websocket for
// clients that cannot hold an SSE response open. Frames, heartbeats, and
// teardown follow the same rules as the SSE loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, rpcErr := s.bindStreamSession(r)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, nil, rpcErr.Code, rpcErr.Message)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{
		HeaderSessionID: []string{sess.ID},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	connID, _ := gonanoid.New()
	logger := s.logger.With().
		Str("connId", connID).
		Str("sessionId", sess.ID).
		Logger()

	ch := s.hub.Attach(sess.ID)
	defer s.hub.Remove(sess.ID)

	observability.StreamOpened()
	defer observability.StreamClosed()

	logger.Info().Msg("Websocket stream connected")

	if err := conn.WriteJSON(StreamFrame{
		Type:      FrameConnection,
		SessionID: sess.ID,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to open websocket stream")
		return
	}

	// Reads are only used to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(s.hub.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-closed:
			logger.Info().Msg("Websocket stream closed: client disconnected")
			return

		case data := <-ch.frames:
			frame := StreamFrame{
				Type:      FrameMessage,
				Timestamp: unixSeconds(),
				Data:      json.RawMessage(data),
			}
			if err := conn.WriteJSON(frame); err != nil {
				logger.Error().Err(err).Msg("Websocket stream error")
				return
			}
			resetTimer(timer, s.hub.heartbeat)

		case <-timer.C:
			if _, live := s.store.Get(sess.ID); !live {
				logger.Info().Msg("Websocket stream closed: session gone")
				return
			}
			if err := conn.WriteJSON(StreamFrame{
				Type:      FrameHeartbeat,
				Timestamp: unixSeconds(),
				SessionID: sess.ID,
			}); err != nil {
				logger.Error().Err(err).Msg("Websocket stream error")
				return
			}
			timer.Reset(s.hub.heartbeat)
		}
	}
}
