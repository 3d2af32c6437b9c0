package circuit

import (
	"context"
	"sync"
)

// InMemoryStore keeps breaker rows in process memory.
type InMemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]State)}
}

func (s *InMemoryStore) Load(_ context.Context, service string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[service]; ok {
		return st, nil
	}
	return closedState(service), nil
}

func (s *InMemoryStore) CompareAndSwap(_ context.Context, expected int64, next State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[next.Service]
	if !ok {
		current = closedState(next.Service)
	}
	if current.Version != expected {
		return false, nil
	}
	next.Version = expected + 1
	s.states[next.Service] = next
	return true, nil
}
