package auth

import (
	"sync"
	"time"
)

// MemoryStore держит сессии входа только в памяти процесса.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Session)}
}

func (s *MemoryStore) Save(session Session) error {
	s.mu.Lock()
	s.byID[session.SessionID] = session
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.byID[sessionID]
	return session, ok
}

func (s *MemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	delete(s.byID, sessionID)
	s.mu.Unlock()
}

func (s *MemoryStore) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for id, session := range s.byID {
		if session.expiredAt(now) {
			delete(s.byID, id)
			deleted++
		}
	}
	return deleted
}
