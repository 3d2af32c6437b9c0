package organization

import (
	"context"

	"carebase/pkg/domain"
)

// Store is the organization read model.
type Store interface {
	// Insert stores org unless its id exists; it reports whether a row was written.
	Insert(ctx context.Context, org Organization) (bool, error)
	Get(ctx context.Context, id domain.OrganizationID) (Organization, error)
	GetByPath(ctx context.Context, path domain.Path) (Organization, error)
	Update(ctx context.Context, org Organization) error
	// ListDescendants returns organizations strictly beneath path, shallowest first.
	ListDescendants(ctx context.Context, path domain.Path) ([]Organization, error)

	ResolveExternalOrgID(ctx context.Context, id domain.OrganizationID) (string, error)
	ResolveInternalOrgID(ctx context.Context, externalID string) (domain.OrganizationID, error)
}

// RoleFinder lists roles scoped inside a subtree; the rbac store implements it.
type RoleFinder interface {
	RoleIDsWithinPath(ctx context.Context, path domain.Path) ([]domain.RoleID, error)
}
