package rbac

import (
	"context"

	"carebase/pkg/domain"
)

// Store is the RBAC read model. Inserts are insert-or-ignore keyed by id and
// report whether a row was written.
type Store interface {
	InsertPermission(ctx context.Context, p Permission) (bool, error)
	GetPermission(ctx context.Context, id domain.PermissionID) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)

	InsertRole(ctx context.Context, r Role) (bool, error)
	GetRole(ctx context.Context, id domain.RoleID) (Role, error)
	// GetRoleByName looks a live role up by name within orgID (nil for global roles).
	GetRoleByName(ctx context.Context, name string, orgID *domain.OrganizationID) (Role, error)
	UpdateRole(ctx context.Context, r Role) error
	GrantPermission(ctx context.Context, roleID domain.RoleID, permissionID domain.PermissionID) error
	RevokePermission(ctx context.Context, roleID domain.RoleID, permissionID domain.PermissionID) error
	ListRolePermissions(ctx context.Context, roleID domain.RoleID) ([]Permission, error)
	// RoleIDsWithinPath returns live roles whose scope lies inside path.
	RoleIDsWithinPath(ctx context.Context, path domain.Path) ([]domain.RoleID, error)

	InsertUser(ctx context.Context, u User) (bool, error)
	GetUser(ctx context.Context, id domain.UserID) (User, error)
	UpdateUser(ctx context.Context, u User) error
	AssignRole(ctx context.Context, ur UserRole) error
	RevokeRole(ctx context.Context, userID domain.UserID, roleID domain.RoleID, orgID *domain.OrganizationID) error
	RemoveRoleAssignments(ctx context.Context, roleID domain.RoleID) error
	ListUserRoles(ctx context.Context, userID domain.UserID) ([]UserRole, error)

	// ListGrants flattens a user's live roles into permission grants.
	ListGrants(ctx context.Context, userID domain.UserID) ([]Grant, error)

	ResolveExternalUserID(ctx context.Context, id domain.UserID) (string, error)
	ResolveInternalUserID(ctx context.Context, externalID string) (domain.UserID, error)
}
