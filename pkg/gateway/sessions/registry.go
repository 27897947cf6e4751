// Package sessions tracks live call sessions by carrier call ID.
package sessions

import (
	"context"
	"errors"
	"sync"

	"github.com/voiceline-ai/voiceline/pkg/session"
)

var (
	// ErrSessionExists is returned when a call ID already has a live
	// session.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when no live session has the call
	// ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCapacity is returned when the registry is full.
	ErrCapacity = errors.New("session capacity reached")
)

// Registry holds every live session and supports draining on shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	wg       sync.WaitGroup
	max      int
}

// NewRegistry creates a registry holding at most max sessions. Zero
// means unbounded.
func NewRegistry(max int) *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		max:      max,
	}
}

// Register adds a session keyed by its call ID. A call ID stays taken
// until Unregister, so a second media stream for a live call is
// rejected.
func (r *Registry) Register(s *session.Session) error {
	callSID := s.CallSID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[callSID]; ok {
		return ErrSessionExists
	}
	if r.max > 0 && len(r.sessions) >= r.max {
		return ErrCapacity
	}
	r.sessions[callSID] = s
	r.wg.Add(1)
	return nil
}

// Unregister removes the session for a call ID. Idempotent.
func (r *Registry) Unregister(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callSID]; !ok {
		return
	}
	delete(r.sessions, callSID)
	r.wg.Done()
}

// Get returns the live session for a call ID.
func (r *Registry) Get(callSID string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every live session. Their handlers unregister them as
// the connections unwind.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return len(all)
}

// Wait blocks until every session has unregistered or ctx expires.
// Returns false on expiry.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
