// Package session manages in-memory MCP session lifecycle for the
// Streamable HTTP transport: creation, lookup, expiry, and removal.
//
// Invariants:
// - Session ids are cryptographically random and URL-safe.
// - A session is either live in the store or absent; expiry is detected
//   lazily on lookup and the record is deleted at that moment.
// - All map access is serialized by a single store mutex.
//
// Usage:
//
//	store := session.NewStore(session.StoreConfig{Timeout: time.Hour}, logger)
//	sess := store.Create(map[string]any{"name": "client"}, nil)
//	live, ok := store.Get(sess.ID)
//	_ = live
//	_ = ok
package session
