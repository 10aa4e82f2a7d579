package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/internal/observability"
	"github.com/AMD-melliott/mcp-amdsmi/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server is the HTTP frontend binding inbound connections to session
// identity and to the two delivery modes: unary JSON replies and server-push
// streams.
type Server struct {
	addr       string
	store      *session.Store
	registry   *Registry
	hub        *StreamHub
	dispatcher *Dispatcher
	server     *http.Server
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Addr              string
	Store             *session.Store
	Registry          *Registry
	StreamQueueSize   int
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
}

// NewServer creates a new transport frontend.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	hub := NewStreamHub(cfg.Store, StreamHubConfig{
		QueueSize:         cfg.StreamQueueSize,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, cfg.Logger)

	s := &Server{
		addr:       cfg.Addr,
		store:      cfg.Store,
		registry:   cfg.Registry,
		hub:        hub,
		dispatcher: NewDispatcher(cfg.Store, cfg.Registry, hub, cfg.Logger),
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	return s, nil
}

// Hub exposes the stream hub so collaborators can push frames to sessions.
func (s *Server) Hub() *StreamHub {
	return s.hub
}

// Handler builds the HTTP handler for the transport.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.recovered(s.handleMCP))
	mux.HandleFunc("/sse", s.recovered(s.handleSSE))
	mux.HandleFunc("/ws", s.recovered(s.handleWebSocket))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

// Start starts the HTTP server without blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting MCP transport")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Transport server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("MCP transport stopped")
	return nil
}

// recovered converts panics escaping a handler into a 500 with the internal
// error code; one bad request must not take the process down.
func (s *Server) recovered(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Recovered from handler panic")
				writeRPCError(w, http.StatusInternalServerError, nil, InternalError, "Internal server error")
			}
		}()
		next(w, r)
	}
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUnary(w, r)
	case http.MethodGet:
		s.handleStream(w, r, true)
	case http.MethodDelete:
		s.handleTerminate(w, r)
	default:
		s.methodNotAllowed(w, "GET", "POST", "DELETE")
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleStream(w, r, false)
	case http.MethodPost:
		s.handleUnary(w, r)
	default:
		s.methodNotAllowed(w, "GET", "POST")
	}
}

// handleUnary accepts one envelope, binds or creates a session, dispatches,
// and returns exactly one reply.
func (s *Server) handleUnary(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, ParseError, "Parse error: failed to read request body")
		return
	}

	req, rpcErr := ParseEnvelope(body)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, rawID(body), rpcErr.Code, rpcErr.Message)
		return
	}

	sess, rpcErr := s.bindSession(w, r, req)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), req, sess)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

// bindSession applies the session-binding rule: a headerless request is only
// legal when it is an initialize call, in which case it creates the session;
// a header that does not resolve to a live session is rejected regardless of
// method.
func (s *Server) bindSession(w http.ResponseWriter, r *http.Request, req *Request) (*session.Session, *RPCError) {
	sessionID := r.Header.Get(HeaderSessionID)

	if sessionID != "" {
		sess, ok := s.store.Get(sessionID)
		if !ok {
			s.logger.Warn().Str("sessionId", sessionID).Msg("Invalid or expired session")
			return nil, &RPCError{Code: InvalidRequest, Message: "Invalid or expired session ID"}
		}
		return sess, nil
	}

	if req.Method == "initialize" {
		sess := s.store.Create(clientInfoFromRequest(r), nil)
		w.Header().Set(HeaderSessionID, sess.ID)
		return sess, nil
	}

	s.logger.Warn().Str("method", req.Method).Msg("Request missing session header")
	return nil, &RPCError{Code: InvalidRequest, Message: "Missing Mcp-Session-Id header"}
}

// handleStream establishes an SSE push stream. On the unified endpoint a
// missing Accept header is a 405; the legacy path reports 400.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, unified bool) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		if unified {
			writeRPCError(w, http.StatusMethodNotAllowed, nil, InvalidRequest,
				"Method not allowed. Use POST for MCP requests or add Accept: text/event-stream header for SSE.")
		} else {
			writeRPCError(w, http.StatusBadRequest, nil, InvalidRequest,
				"SSE requires Accept: text/event-stream")
		}
		return
	}

	sess, rpcErr := s.bindStreamSession(r)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, nil, rpcErr.Code, rpcErr.Message)
		return
	}

	s.hub.ServeSSE(w, r, sess)
}

// bindStreamSession resolves the session for a push subscriber. A pure
// subscriber may arrive before any RPC identifies it, so a headerless
// request creates a temporary session implicitly.
func (s *Server) bindStreamSession(r *http.Request) (*session.Session, *RPCError) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID != "" {
		sess, ok := s.store.Get(sessionID)
		if !ok {
			return nil, &RPCError{Code: InvalidRequest, Message: "Invalid or expired session ID"}
		}
		return sess, nil
	}

	sess := s.store.Create(clientInfoFromRequest(r), nil)
	s.logger.Info().Str("sessionId", sess.ID).Msg("Created session for push stream")
	return sess, nil
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, nil, InvalidRequest, "Missing Mcp-Session-Id header")
		return
	}

	s.hub.Remove(sessionID)

	if !s.store.Remove(sessionID) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Session not found",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"result": map[string]interface{}{
			"message": "Session terminated successfully",
		},
	})
}

// handleHealth reports process-wide counters; no session binding.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, "GET")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": unixSeconds(),
		"sessions":  s.store.Count(),
		"uptime":    s.store.Uptime().Seconds(),
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":           "Method not allowed",
		"allowed_methods": allowed,
	})
}

func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(id, code, message))
}

// rawID best-effort extracts the id field from a body that failed envelope
// validation, so the reply can still echo it.
func rawID(body []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.ID
}

func clientInfoFromRequest(r *http.Request) map[string]interface{} {
	info := make(map[string]interface{})
	if ua := r.Header.Get("User-Agent"); ua != "" {
		info["user_agent"] = ua
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		info["origin"] = origin
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		info["client_ip"] = host
	} else if r.RemoteAddr != "" {
		info["client_ip"] = r.RemoteAddr
	}
	return info
}
