package calls

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok, nil
}

func (m *MemoryStore) Claim(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.UserID]; ok {
		return ErrUserBusy
	}
	m.sessions[s.UserID] = s
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, userID string, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, ErrNoActiveCall
	}
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	m.sessions[userID] = s
	return s, nil
}

func (m *MemoryStore) Release(ctx context.Context, userID, sessionID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || s.ID != sessionID {
		return Session{}, false, nil
	}
	delete(m.sessions, userID)
	return s, true, nil
}
