package session

import (
	"sync"
)

// Store holds the state of all connected sessions. Reads return deep
// copies and writes store deep copies, so callers can never mutate the
// store's view through a shared pointer.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*State),
	}
}

func (s *Store) Get(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

func (s *Store) GetAll() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	return result
}

func (s *Store) Update(state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = state.Clone()
}

// Mutate applies fn to the stored state under the write lock and returns
// a copy of the result. The whole read-modify-write is atomic, which is
// what serializes arbiter invocations arriving from the WebSocket read
// goroutine and the upload HTTP handler for the same session.
func (s *Store) Mutate(id string, fn func(*State)) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	fn(st)
	return st.Clone(), true
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
