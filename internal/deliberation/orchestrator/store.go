package orchestrator

import (
	"sync"

	"dev.helix.deliberation/internal/deliberation/core"
)

// SessionStore is the keyed registry of active sessions. The engine
// treats it as an in-memory map abstraction; any durable store
// satisfying get/set/delete suffices. Access is last-write-wins per
// key: callers must serialize operations per session id.
type SessionStore interface {
	Get(id string) (*core.Session, bool)
	Put(s *core.Session)
	Delete(id string)
	List() []*core.Session
}

// MemoryStore is the in-process SessionStore implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*core.Session),
	}
}

// Get returns the stored session value for the id.
func (m *MemoryStore) Get(id string) (*core.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	return s, ok
}

// Put stores the session value under its id.
func (m *MemoryStore) Put(s *core.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s
}

// Delete evicts the session.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
}

// List returns all stored sessions.
func (m *MemoryStore) List() []*core.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*core.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
