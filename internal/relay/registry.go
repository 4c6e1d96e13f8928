package relay

import (
	"sync"
	"time"
)

// SessionRegistry tracks the live realtime sessions and supports graceful
// draining. When draining is enabled, new sessions are rejected while
// existing ones are closed and allowed to finish their in-flight work.
//
// The mu mutex makes the draining check, the map insert and wg.Add atomic in
// Add(), so no session can slip in between StartDraining and Wait.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
	wg       sync.WaitGroup
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Add registers s. It returns false when the registry is draining or a
// session with the same ID is already registered. Every successful Add must
// be matched by exactly one Done.
func (r *SessionRegistry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	if _, exists := r.sessions[s.ID]; exists {
		return false
	}
	r.sessions[s.ID] = s
	r.wg.Add(1)
	return true
}

// Remove drops the session from the active set. It is idempotent and reports
// whether this call removed it.
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Done marks a session's goroutines as finished.
func (r *SessionRegistry) Done() {
	r.wg.Done()
}

// Get returns the active session with the given ID.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ActiveCount returns the number of sessions in the active set.
func (r *SessionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns the active sessions in no particular order.
func (r *SessionRegistry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Idle returns the sessions whose last activity is older than cutoff,
// regardless of state.
func (r *SessionRegistry) Idle(cutoff time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// StartDraining makes future Add calls return false.
func (r *SessionRegistry) StartDraining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (r *SessionRegistry) IsDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// CloseAll closes every active session's socket. Sessions finish their
// in-flight cycle and call Done on their own.
func (r *SessionRegistry) CloseAll() {
	for _, s := range r.Snapshot() {
		s.Close()
	}
}

// Wait blocks until every added session has called Done.
func (r *SessionRegistry) Wait() {
	r.wg.Wait()
}
