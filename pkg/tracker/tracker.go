// Package tracker records which sessions already received injected context
// during the lifetime of the process.
//
// Invariants:
// - Entries are only ever added; nothing is removed until the process exits.
// - All operations are synchronous and cannot fail.
package tracker

import "sync"

// Tracker is an in-memory set of session IDs.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		sessions: make(map[string]struct{}),
	}
}

// HasInjected reports whether the session was marked.
func (t *Tracker) HasInjected(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// MarkInjected marks the session. Marking twice is a no-op.
func (t *Tracker) MarkInjected(sessionID string) {
	t.mu.Lock()
	t.sessions[sessionID] = struct{}{}
	t.mu.Unlock()
}

// MarkIfAbsent marks the session and returns true, or returns false when
// another caller already marked it.
func (t *Tracker) MarkIfAbsent(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; ok {
		return false
	}
	t.sessions[sessionID] = struct{}{}
	return true
}

// Len returns the number of marked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
