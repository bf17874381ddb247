package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/photobooth/backend/internal/metrics"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrDuplicateID = errors.New("a session with this id already exists")
)

// Registry holds the live sessions. Sessions are created through Open and
// leave the registry when a housekeeping pass purges them after they reach
// End; the Session itself never removes itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Open creates a session under a fresh id. An id still held by a live
// (non-End) session is rejected; a terminated session awaiting purge does
// not block reuse of its id.
func (r *Registry) Open(id string, opts Options) (*Session, error) {
	if id == "" {
		return nil, errors.New("empty session id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok && !existing.Step().IsTerminal() {
		return nil, ErrDuplicateID
	}

	s := New(id, opts)
	r.sessions[id] = s
	metrics.LiveSessions.Set(float64(len(r.sessions)))
	return s, nil
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Purge drops every session that has reached End and returns how many
// were removed. Candidates are collected under the read lock; End is
// terminal, so a candidate cannot leave it before the delete.
func (r *Registry) Purge() int {
	r.mu.RLock()
	var done []string
	for id, s := range r.sessions {
		if s.Step().IsTerminal() {
			done = append(done, id)
		}
	}
	r.mu.RUnlock()

	if len(done) == 0 {
		return 0
	}

	r.mu.Lock()
	removed := 0
	for _, id := range done {
		if s, ok := r.sessions[id]; ok && s.Step().IsTerminal() {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.LiveSessions.Set(float64(len(r.sessions)))
		log.Printf("registry: purged %d terminated session(s)", removed)
	}
	r.mu.Unlock()
	return removed
}

// KillAll force-closes every live session. Used on shutdown so no
// half-taken pictures survive the process.
func (r *Registry) KillAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Kill()
	}
	r.Purge()
}

// Run executes the housekeeping loop until the context is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Purge()
		}
	}
}
