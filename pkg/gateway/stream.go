package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/internal/observability"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is the stream idle timeout before a heartbeat
// frame is emitted and session liveness re-checked.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultQueueSize bounds each session's pending frame queue.
const DefaultQueueSize = 256

// EventChannel is an ordered, session-scoped queue of outbound frames.
type EventChannel struct {
	sessionID string
	frames    chan json.RawMessage
}

// StreamHub owns the per-session event channels. Channel existence is
// guarded by one mutex; the queues themselves need no external lock.
type StreamHub struct {
	mu        sync.Mutex
	channels  map[string]*EventChannel
	store     *session.Store
	queueSize int
	heartbeat time.Duration
	logger    zerolog.Logger
}

// StreamHubConfig holds stream hub configuration.
type StreamHubConfig struct {
	QueueSize         int
	HeartbeatInterval time.Duration
}

// NewStreamHub creates a stream hub backed by the given session store.
func NewStreamHub(store *session.Store, cfg StreamHubConfig, logger zerolog.Logger) *StreamHub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &StreamHub{
		channels:  make(map[string]*EventChannel),
		store:     store,
		queueSize: cfg.QueueSize,
		heartbeat: cfg.HeartbeatInterval,
		logger:    logger,
	}
}

// Attach returns the session's event channel, creating it lazily.
func (h *StreamHub) Attach(sessionID string) *EventChannel {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.channels[sessionID]; ok {
		return ch
	}
	ch := &EventChannel{
		sessionID: sessionID,
		frames:    make(chan json.RawMessage, h.queueSize),
	}
	h.channels[sessionID] = ch
	return ch
}

// Remove drops the session's channel from the hub. The channel is not
// closed; a producer racing with removal observes nothing.
func (h *StreamHub) Remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, sessionID)
}

// Has reports whether a channel exists for the session.
func (h *StreamHub) Has(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.channels[sessionID]
	return ok
}

// Publish enqueues a payload for the session's stream. Pushing to a session
// with no live channel is a silent no-op; producers must not assume
// delivery. Under overflow the oldest pending frame is dropped.
func (h *StreamHub) Publish(sessionID string, payload interface{}) {
	h.mu.Lock()
	ch, ok := h.channels[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to marshal stream payload")
		return
	}

	select {
	case ch.frames <- data:
		observability.RecordFramePushed()
		return
	default:
	}

	// Queue full: drop the oldest frame to make room.
	select {
	case <-ch.frames:
		observability.RecordFrameDropped()
		h.logger.Warn().Str("sessionId", sessionID).Msg("Stream queue overflow, dropped oldest frame")
	default:
	}

	select {
	case ch.frames <- data:
		observability.RecordFramePushed()
	default:
		observability.RecordFrameDropped()
	}
}

// ServeSSE drives a server-push stream over Server-Sent Events until the
// client disconnects, the session expires, or a write fails. The channel is
// removed from the hub unconditionally on exit.
func (h *StreamHub) ServeSSE(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(HeaderSessionID, sess.ID)
	w.WriteHeader(http.StatusOK)

	ch := h.Attach(sess.ID)
	defer h.Remove(sess.ID)

	observability.StreamOpened()
	defer observability.StreamClosed()

	logger := h.logger.With().Str("sessionId", sess.ID).Logger()

	if err := writeSSEFrame(w, flusher, StreamFrame{
		Type:      FrameConnection,
		SessionID: sess.ID,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to open SSE stream")
		return
	}

	timer := time.NewTimer(h.heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info().Msg("SSE stream closed: client disconnected")
			return

		case data := <-ch.frames:
			frame := StreamFrame{
				Type:      FrameMessage,
				Timestamp: unixSeconds(),
				Data:      json.RawMessage(data),
			}
			if err := writeSSEFrame(w, flusher, frame); err != nil {
				h.failStream(w, flusher, logger, err)
				return
			}
			resetTimer(timer, h.heartbeat)

		case <-timer.C:
			if _, live := h.store.Get(sess.ID); !live {
				logger.Info().Msg("SSE stream closed: session gone")
				return
			}
			if err := writeSSEFrame(w, flusher, StreamFrame{
				Type:      FrameHeartbeat,
				Timestamp: unixSeconds(),
				SessionID: sess.ID,
			}); err != nil {
				h.failStream(w, flusher, logger, err)
				return
			}
			timer.Reset(h.heartbeat)
		}
	}
}

// failStream emits a terminal error frame on a best-effort basis.
func (h *StreamHub) failStream(w http.ResponseWriter, flusher http.Flusher, logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("SSE stream error")
	_ = writeSSEFrame(w, flusher, StreamFrame{
		Type:      FrameError,
		Timestamp: unixSeconds(),
		Message:   err.Error(),
	})
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, frame StreamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	flusher.Flush()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
