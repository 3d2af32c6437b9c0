package rbac

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
)

type rolePermission struct {
	role       domain.RoleID
	permission domain.PermissionID
}

type InMemoryStore struct {
	mu          sync.RWMutex
	permissions map[domain.PermissionID]Permission
	roles       map[domain.RoleID]Role
	grants      map[rolePermission]struct{}
	users       map[domain.UserID]User
	userRoles   []UserRole
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		permissions: make(map[domain.PermissionID]Permission),
		roles:       make(map[domain.RoleID]Role),
		grants:      make(map[rolePermission]struct{}),
		users:       make(map[domain.UserID]User),
	}
}

func (s *InMemoryStore) InsertPermission(_ context.Context, p Permission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[p.ID]; ok {
		return false, nil
	}
	for _, existing := range s.permissions {
		if existing.Name == p.Name {
			return false, sentinel.ErrAlreadyExists
		}
	}
	s.permissions[p.ID] = p
	return true, nil
}

func (s *InMemoryStore) GetPermission(_ context.Context, id domain.PermissionID) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return Permission{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) GetPermissionByName(_ context.Context, name string) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) InsertRole(_ context.Context, r Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return false, nil
	}
	for _, existing := range s.roles {
		if !existing.Deleted && existing.Name == r.Name && sameOrg(existing.OrganizationID, r.OrganizationID) {
			return false, sentinel.ErrAlreadyExists
		}
	}
	s.roles[r.ID] = r
	return true, nil
}

func (s *InMemoryStore) GetRole(_ context.Context, id domain.RoleID) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, sentinel.ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) GetRoleByName(_ context.Context, name string, orgID *domain.OrganizationID) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if !r.Deleted && r.Name == name && sameOrg(r.OrganizationID, orgID) {
			return r, nil
		}
	}
	return Role{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) UpdateRole(_ context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return sentinel.ErrNotFound
	}
	for id, existing := range s.roles {
		if id != r.ID && !existing.Deleted && !r.Deleted && existing.Name == r.Name && sameOrg(existing.OrganizationID, r.OrganizationID) {
			return sentinel.ErrAlreadyExists
		}
	}
	s.roles[r.ID] = r
	return nil
}

func (s *InMemoryStore) GrantPermission(_ context.Context, roleID domain.RoleID, permissionID domain.PermissionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[rolePermission{roleID, permissionID}] = struct{}{}
	return nil
}

func (s *InMemoryStore) RevokePermission(_ context.Context, roleID domain.RoleID, permissionID domain.PermissionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, rolePermission{roleID, permissionID})
	return nil
}

func (s *InMemoryStore) ListRolePermissions(_ context.Context, roleID domain.RoleID) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rolePermissions(roleID), nil
}

func (s *InMemoryStore) rolePermissions(roleID domain.RoleID) []Permission {
	var out []Permission
	for g := range s.grants {
		if g.role != roleID {
			continue
		}
		if p, ok := s.permissions[g.permission]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Permission) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (s *InMemoryStore) RoleIDsWithinPath(_ context.Context, path domain.Path) ([]domain.RoleID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoleID
	for _, r := range s.roles {
		if !r.Deleted && r.ScopePath != nil && r.ScopePath.IsDescendantOf(path) {
			out = append(out, r.ID)
		}
	}
	slices.SortFunc(out, func(a, b domain.RoleID) int { return cmp.Compare(a.String(), b.String()) })
	return out, nil
}

func (s *InMemoryStore) InsertUser(_ context.Context, u User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return false, nil
	}
	if u.ExternalID != nil {
		for _, existing := range s.users {
			if existing.ExternalID != nil && *existing.ExternalID == *u.ExternalID {
				return false, sentinel.ErrAlreadyExists
			}
		}
	}
	s.users[u.ID] = u
	return true, nil
}

func (s *InMemoryStore) GetUser(_ context.Context, id domain.UserID) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, sentinel.ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) UpdateUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.users[u.ID] = u
	return nil
}

func (s *InMemoryStore) AssignRole(_ context.Context, ur UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.userRoles {
		if existing.UserID == ur.UserID && existing.RoleID == ur.RoleID && sameOrg(existing.OrganizationID, ur.OrganizationID) {
			return nil
		}
	}
	s.userRoles = append(s.userRoles, ur)
	return nil
}

func (s *InMemoryStore) RevokeRole(_ context.Context, userID domain.UserID, roleID domain.RoleID, orgID *domain.OrganizationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles = slices.DeleteFunc(s.userRoles, func(ur UserRole) bool {
		return ur.UserID == userID && ur.RoleID == roleID && sameOrg(ur.OrganizationID, orgID)
	})
	return nil
}

func (s *InMemoryStore) RemoveRoleAssignments(_ context.Context, roleID domain.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles = slices.DeleteFunc(s.userRoles, func(ur UserRole) bool { return ur.RoleID == roleID })
	return nil
}

func (s *InMemoryStore) ListUserRoles(_ context.Context, userID domain.UserID) ([]UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UserRole
	for _, ur := range s.userRoles {
		if ur.UserID == userID {
			out = append(out, ur)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListGrants(_ context.Context, userID domain.UserID) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, ur := range s.userRoles {
		if ur.UserID != userID {
			continue
		}
		role, ok := s.roles[ur.RoleID]
		if !ok || role.Deleted {
			continue
		}
		for _, p := range s.rolePermissions(role.ID) {
			out = append(out, Grant{
				RoleID:         role.ID,
				RoleName:       role.Name,
				OrganizationID: ur.OrganizationID,
				ScopePath:      ur.ScopePath,
				Permission:     p,
			})
		}
	}
	return out, nil
}

func (s *InMemoryStore) ResolveExternalUserID(_ context.Context, id domain.UserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.ExternalID == nil {
		return "", sentinel.ErrNotFound
	}
	return *u.ExternalID, nil
}

func (s *InMemoryStore) ResolveInternalUserID(_ context.Context, externalID string) (domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			return u.ID, nil
		}
	}
	return domain.UserID{}, sentinel.ErrNotFound
}

func sameOrg(a, b *domain.OrganizationID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
