package organization

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	orgs map[domain.OrganizationID]Organization
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{orgs: make(map[domain.OrganizationID]Organization)}
}

func (s *InMemoryStore) Insert(_ context.Context, org Organization) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return false, nil
	}
	for _, existing := range s.orgs {
		if existing.Path == org.Path {
			return false, sentinel.ErrAlreadyExists
		}
	}
	s.orgs[org.ID] = org
	return true, nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.OrganizationID) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, sentinel.ErrNotFound
	}
	return org, nil
}

func (s *InMemoryStore) GetByPath(_ context.Context, path domain.Path) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.Path == path {
			return org, nil
		}
	}
	return Organization{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) Update(_ context.Context, org Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.orgs[org.ID] = org
	return nil
}

func (s *InMemoryStore) ListDescendants(_ context.Context, path domain.Path) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Organization
	for _, org := range s.orgs {
		if org.Path.IsStrictDescendantOf(path) {
			out = append(out, org)
		}
	}
	slices.SortFunc(out, func(a, b Organization) int {
		if d := a.Path.Depth() - b.Path.Depth(); d != 0 {
			return d
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out, nil
}

func (s *InMemoryStore) ResolveExternalOrgID(_ context.Context, id domain.OrganizationID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok || org.ExternalID == nil {
		return "", sentinel.ErrNotFound
	}
	return *org.ExternalID, nil
}

func (s *InMemoryStore) ResolveInternalOrgID(_ context.Context, externalID string) (domain.OrganizationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.ExternalID != nil && *org.ExternalID == externalID {
			return org.ID, nil
		}
	}
	return domain.OrganizationID{}, sentinel.ErrNotFound
}
