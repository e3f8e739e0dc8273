package memory

import "sync"

// Store hands out one Chat per session id. Each chat is owned by exactly one
// logical session and mutated only by that session's active unit of work; the
// store itself is safe for concurrent access.
type Store struct {
	mu     sync.RWMutex
	maxLen int
	chats  map[string]*Chat
}

// NewStore constructs an empty store whose chats carry the given capacity.
func NewStore(maxLen int) *Store {
	return &Store{maxLen: maxLen, chats: make(map[string]*Chat)}
}

// Get returns the chat for a session, creating it lazily.
func (s *Store) Get(sessionID string) *Chat {
	s.mu.RLock()
	c, ok := s.chats[sessionID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[sessionID]; ok {
		return c
	}
	c = NewChat(s.maxLen)
	s.chats[sessionID] = c
	return c
}

// Delete removes a session's chat.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, sessionID)
}

// Len reports the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}
