package grading

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("review session not found")

// SessionRegistry holds open review sessions in process memory. Sessions
// idle past ttl are dropped lazily on the next access.
type SessionRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[uuid.UUID]*sessionEntry
}

type sessionEntry struct {
	session  *ReviewSession
	lastSeen time.Time
}

func NewSessionRegistry(ttl time.Duration, now func() time.Time) *SessionRegistry {
	if now == nil {
		now = time.Now
	}
	return &SessionRegistry{
		ttl:      ttl,
		now:      now,
		sessions: make(map[uuid.UUID]*sessionEntry),
	}
}

func (r *SessionRegistry) Put(s *ReviewSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.sessions[s.ID] = &sessionEntry{session: s, lastSeen: r.now()}
}

// Get returns a snapshot; edits to it are not seen by the registry.
func (r *SessionRegistry) Get(id uuid.UUID) (*ReviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return e.session.clone(), nil
}

// Update runs fn on the live session under the registry lock and returns a
// snapshot taken afterwards.
func (r *SessionRegistry) Update(id uuid.UUID, fn func(*ReviewSession) error) (*ReviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if err := fn(e.session); err != nil {
		return nil, err
	}
	return e.session.clone(), nil
}

func (r *SessionRegistry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	return len(r.sessions)
}

func (r *SessionRegistry) lookupLocked(id uuid.UUID) (*sessionEntry, error) {
	r.evictLocked()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e, nil
}

func (r *SessionRegistry) evictLocked() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.now().Add(-r.ttl)
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
