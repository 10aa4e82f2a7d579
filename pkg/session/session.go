package session

import (
	"time"
)

// Session represents one logical MCP client binding that survives across
// multiple physical HTTP exchanges.
type Session struct {
	ID           string                 `json:"session_id"`
	CreatedAt    time.Time              `json:"created_at"`
	LastAccessed time.Time              `json:"last_accessed"`
	ClientInfo   map[string]interface{} `json:"client_info"`
	Capabilities map[string]interface{} `json:"capabilities"`
	Context      map[string]interface{} `json:"context"`
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Since(s.LastAccessed) >= timeout
}

// Touch refreshes the last accessed timestamp.
func (s *Session) Touch() {
	s.LastAccessed = time.Now()
}

// MergeClientInfo folds additional client metadata into the session.
// Repeated initialize calls re-merge rather than replace.
func (s *Session) MergeClientInfo(info map[string]interface{}) {
	if s.ClientInfo == nil {
		s.ClientInfo = make(map[string]interface{})
	}
	for k, v := range info {
		s.ClientInfo[k] = v
	}
}
