package session

import (
	"fmt"
	"sync"
)

// Registry tracks live sessions keyed by call id. Connection handle and call
// state live in the same *Session value, so presence in the registry implies
// both exist.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers s. Overwriting a live session is not allowed, and nothing
// can be added once the registry is closed.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("call %q: %w", s.CallID, ErrShuttingDown)
	}
	if _, exists := r.sessions[s.CallID]; exists {
		return fmt.Errorf("call %q: %w", s.CallID, ErrDuplicateSession)
	}
	r.sessions[s.CallID] = s
	return nil
}

// Get returns the session for callID, or nil if none is live.
func (r *Registry) Get(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Remove deletes and returns the session for callID. Only one caller ever
// receives a given session, which makes teardown run once.
func (r *Registry) Remove(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[callID]
	if !ok {
		return nil
	}
	delete(r.sessions, callID)
	return s
}

// RemoveIf deletes callID only while it still maps to s. Events from a stale
// connection therefore never remove a newer session for the same call.
func (r *Registry) RemoveIf(callID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[callID]; !ok || cur != s {
		return false
	}
	delete(r.sessions, callID)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of the live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close stops the registry from accepting sessions and returns a snapshot of
// the ones still live.
func (r *Registry) Close() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
