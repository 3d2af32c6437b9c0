package accessgrant

import (
	"context"
	"sync"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	grants map[domain.GrantID]Grant
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{grants: make(map[domain.GrantID]Grant)}
}

func (s *InMemoryStore) Insert(_ context.Context, g Grant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[g.ID]; ok {
		return false, nil
	}
	s.grants[g.ID] = g
	return true, nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.GrantID) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return Grant{}, sentinel.ErrNotFound
	}
	return g, nil
}

func (s *InMemoryStore) Update(_ context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[g.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.grants[g.ID] = g
	return nil
}

func (s *InMemoryStore) ListBetween(_ context.Context, consultant, provider domain.OrganizationID) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, g := range s.grants {
		if g.ConsultantOrgID == consultant && g.ProviderOrgID == provider {
			out = append(out, g)
		}
	}
	return out, nil
}
