package session

import (
	"sync"
	"time"

	"github.com/AMD-melliott/mcp-amdsmi/internal/observability"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout is how long an idle session stays live.
	DefaultTimeout = time.Hour
	// DefaultSweepInterval gates how often the opportunistic sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// StoreConfig holds session store configuration.
type StoreConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
}

// Store is the in-memory session table. All map access is serialized by a
// single mutex; absence is an expected outcome, never an error.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	timeout   time.Duration
	sweepGap  time.Duration
	lastSweep time.Time
	createdAt time.Time
	logger    zerolog.Logger
}

// NewStore creates a new session store.
func NewStore(cfg StoreConfig, logger zerolog.Logger) *Store {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	s := &Store{
		sessions:  make(map[string]*Session),
		timeout:   cfg.Timeout,
		sweepGap:  cfg.SweepInterval,
		lastSweep: time.Now(),
		createdAt: time.Now(),
		logger:    logger,
	}

	logger.Info().Dur("timeout", cfg.Timeout).Msg("Session store initialized")
	return s
}

// Timeout returns the configured idle timeout.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

// Uptime returns how long the store has existed.
func (s *Store) Uptime() time.Duration {
	return time.Since(s.createdAt)
}

// Create allocates a new session stamped with the current time and stores it.
func (s *Store) Create(clientInfo, capabilities map[string]interface{}) *Session {
	id, err := GenerateID()
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// there is no meaningful recovery path for the caller.
		s.logger.Fatal().Err(err).Msg("Failed to generate session id")
	}

	if clientInfo == nil {
		clientInfo = make(map[string]interface{})
	}
	if capabilities == nil {
		capabilities = make(map[string]interface{})
	}

	now := time.Now()
	sess := &Session{
		ID:           id,
		CreatedAt:    now,
		LastAccessed: now,
		ClientInfo:   clientInfo,
		Capabilities: capabilities,
		Context:      make(map[string]interface{}),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	observability.RecordSessionCreated(count)
	s.logger.Info().Str("sessionId", shortID(id)).Msg("Session created")

	s.sweepExpired()

	return sess
}

// Get returns the live session and refreshes its access time. Expired
// records are deleted as a side effect before reporting absence.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}

	if sess.Expired(s.timeout) {
		delete(s.sessions, id)
		observability.RecordSessionExpired(len(s.sessions))
		s.logger.Info().Str("sessionId", shortID(id)).Msg("Session expired, removing")
		return nil, false
	}

	sess.Touch()
	return sess, true
}

// Validate reports whether id resolves to a live session.
func (s *Store) Validate(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Remove deletes a session unconditionally, reporting whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		observability.SetActiveSessions(len(s.sessions))
		s.logger.Info().Str("sessionId", shortID(id)).Msg("Session removed")
		return true
	}
	return false
}

// UpdateContext merges patch into the session's context if it is live,
// refreshing access time. Returns false if the session is absent.
func (s *Store) UpdateContext(id string, patch map[string]interface{}) bool {
	sess, ok := s.Get(id)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range patch {
		sess.Context[k] = v
	}
	sess.Touch()
	return true
}

// MergeClientInfo folds client metadata into a live session.
func (s *Store) MergeClientInfo(id string, info map[string]interface{}) bool {
	sess, ok := s.Get(id)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.MergeClientInfo(info)
	return true
}

// SetCapabilities replaces the negotiated capabilities of a live session.
func (s *Store) SetCapabilities(id string, capabilities map[string]interface{}) bool {
	sess, ok := s.Get(id)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Capabilities = capabilities
	return true
}

// Count returns the number of records currently held, including expired
// records that have not been swept yet.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Snapshot returns a copy of all live sessions for monitoring.
func (s *Store) Snapshot() map[string]Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Session, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.Expired(s.timeout) {
			continue
		}
		out[id] = *sess
	}
	return out
}

// CleanupExpired forces a full sweep and returns how many sessions were
// deleted.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(s.timeout) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.lastSweep = time.Now()

	if removed > 0 {
		observability.RecordSessionsSwept(removed, len(s.sessions))
		s.logger.Info().Int("removed", removed).Msg("Cleaned up expired sessions")
	}
	return removed
}

// sweepExpired runs the opportunistic sweep, no more often than the
// configured interval.
func (s *Store) sweepExpired() {
	s.mu.Lock()
	if time.Since(s.lastSweep) < s.sweepGap {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.CleanupExpired()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
