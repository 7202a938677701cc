package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store manages sessions in memory. Safe for parallel use.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create creates a new session.
func (m *Store) Create() *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s
}

// Get retrieves a session by ID.
func (m *Store) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return s, nil
}

// GetOrCreate returns the session with the given ID, creating it (with that
// ID) when absent. Used by the API layer where clients supply their own ids.
func (m *Store) GetOrCreate(sessionID string) *Session {
	if sessionID == "" {
		return m.Create()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	now := time.Now()
	s := &Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
	m.sessions[sessionID] = s
	return s
}

// Delete removes a session.
func (m *Store) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

// Len returns the number of live sessions.
func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
