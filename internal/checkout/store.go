package checkout

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrActiveSession   = errors.New("another checkout session is already active")
)

// SessionStore keeps at most one active session per user.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// Active returns the user's active session that has not expired at now.
	Active(ctx context.Context, userID int, now time.Time) (Session, error)
	// MarkCompleted reports false when the session was no longer active.
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
	// Reopen puts a completed session back to active. It reports false when
	// the session was not completed or the user already has another active
	// session.
	Reopen(ctx context.Context, id string, at time.Time) (bool, error)
	ExpireActiveForUser(ctx context.Context, userID int, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type InMemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]Session)}
}

func (m *InMemorySessionStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.UserID == s.UserID && existing.Status == SessionActive {
			return ErrActiveSession
		}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *InMemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *InMemorySessionStore) Active(_ context.Context, userID int, now time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.UserID == userID && s.Usable(now) {
			return s, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (m *InMemorySessionStore) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != SessionActive {
		return false, nil
	}
	s.Status = SessionCompleted
	s.UpdatedAt = at
	m.sessions[id] = s
	return true, nil
}

func (m *InMemorySessionStore) Reopen(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != SessionCompleted {
		return false, nil
	}
	for otherID, other := range m.sessions {
		if otherID != id && other.UserID == s.UserID && other.Status == SessionActive {
			return false, nil
		}
	}
	s.Status = SessionActive
	s.UpdatedAt = at
	m.sessions[id] = s
	return true, nil
}

func (m *InMemorySessionStore) ExpireActiveForUser(_ context.Context, userID int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.UserID == userID && s.Status == SessionActive {
			s.Status = SessionExpired
			s.UpdatedAt = at
			m.sessions[id] = s
		}
	}
	return nil
}

func (m *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
