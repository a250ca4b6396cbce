// Package transport implements C10: the streaming RPC surface that
// exposes data_agent to external clients, grounded on the teacher's
// Echo v5 HTTP server (pkg/api/server.go, pkg/api/middleware.go,
// pkg/api/handler_health.go).
package transport

import (
	"sync"

	"github.com/google/uuid"
)

// sessionKey identifies one analytics session by the client connection
// it came from and the destination it targets, per spec.md §4.10's
// "duplicate SSE connections from the same client share one session" rule
// (scenario S5).
type sessionKey struct {
	clientIP    string
	destination string
}

type sessionEntry struct {
	id   string
	refs int
}

// SessionTracker deduplicates concurrent SSE connections into a single
// user_session_log row per (client_ip, destination), reference-counted so
// the row is only closed once every connection sharing it has gone away.
// Grounded on the teacher's ConnectionManager pattern of keying live
// connections by a map guarded by a mutex (pkg/events), adapted here from
// a single shared hub to a per-key reference count.
type SessionTracker struct {
	mu      sync.Mutex
	entries map[sessionKey]*sessionEntry
}

// NewSessionTracker constructs an empty SessionTracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{entries: make(map[sessionKey]*sessionEntry)}
}

// Acquire registers one more live connection for (clientIP, destination).
// isNew reports whether this call created the session; the caller should
// only call telemetry.Recorder.StartSession when isNew is true — a
// duplicate connection joins the existing session instead.
func (t *SessionTracker) Acquire(clientIP, destination string) (sessionID string, isNew bool) {
	key := sessionKey{clientIP: clientIP, destination: destination}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		e.refs++
		return e.id, false
	}

	e := &sessionEntry{id: uuid.NewString(), refs: 1}
	t.entries[key] = e
	return e.id, true
}

// Release drops one live connection for (clientIP, destination). isLast
// reports whether this was the final reference — the caller should only
// call telemetry.Recorder.EndSession when isLast is true. Releasing a key
// with no tracked references is a no-op returning ("", false).
func (t *SessionTracker) Release(clientIP, destination string) (sessionID string, isLast bool) {
	key := sessionKey{clientIP: clientIP, destination: destination}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return "", false
	}

	e.refs--
	if e.refs <= 0 {
		delete(t.entries, key)
		return e.id, true
	}
	return e.id, false
}

// Len reports the number of distinct tracked (client_ip, destination)
// sessions, for the health handler's connection count.
func (t *SessionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
