// Package rbac projects the permission, role and user streams into the
// role-based access control read model the authorization resolver reads.
package rbac

import (
	"time"

	"carebase/pkg/domain"
	"carebase/pkg/platform/patch"
)

const (
	StreamPermission = "permission"
	StreamRole       = "role"
	StreamUser       = "user"
)

const (
	EventPermissionDefined = "permission.defined"

	EventRoleCreated           = "role.created"
	EventRoleUpdated           = "role.updated"
	EventRoleDeleted           = "role.deleted"
	EventRolePermissionGranted = "role.permission.granted"
	EventRolePermissionRevoked = "role.permission.revoked"

	EventUserCreated      = "user.created"
	EventUserUpdated      = "user.updated"
	EventUserRoleAssigned = "user.role.assigned"
	EventUserRoleRevoked  = "user.role.revoked"
)

// SuperAdminRole is the only role that may be granted without an organization.
const SuperAdminRole = "super_admin"

type ScopeType string

const (
	ScopeGlobal   ScopeType = "global"
	ScopeOrg      ScopeType = "org"
	ScopeFacility ScopeType = "facility"
	ScopeProgram  ScopeType = "program"
	ScopeClient   ScopeType = "client"
)

func (s ScopeType) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeOrg, ScopeFacility, ScopeProgram, ScopeClient:
		return true
	}
	return false
}

// Permission is an applet.action capability.
type Permission struct {
	ID          domain.PermissionID `json:"id"`
	Applet      string              `json:"applet"`
	Action      string              `json:"action"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	ScopeType   ScopeType           `json:"scope_type"`
	RequiresMFA bool                `json:"requires_mfa"`
	CreatedAt   time.Time           `json:"created_at"`
}

type Role struct {
	ID             domain.RoleID          `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	OrganizationID *domain.OrganizationID `json:"organization_id,omitempty"`
	ScopePath      *domain.Path           `json:"scope_path,omitempty"`
	Deleted        bool                   `json:"deleted"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	DeletedAt      *time.Time             `json:"deleted_at,omitempty"`
}

type User struct {
	ID             domain.UserID          `json:"id"`
	Email          string                 `json:"email"`
	Name           string                 `json:"name,omitempty"`
	OrganizationID *domain.OrganizationID `json:"organization_id,omitempty"`
	ExternalID     *string                `json:"external_id,omitempty"`
	Active         bool                   `json:"active"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// UserRole is a role granted to a user. A nil OrganizationID is a global
// grant and is only allowed for SuperAdminRole.
type UserRole struct {
	UserID         domain.UserID          `json:"user_id"`
	RoleID         domain.RoleID          `json:"role_id"`
	OrganizationID *domain.OrganizationID `json:"organization_id,omitempty"`
	ScopePath      *domain.Path           `json:"scope_path,omitempty"`
	AssignedAt     time.Time              `json:"assigned_at"`
}

// Grant is one permission reachable by a user through one of their roles.
type Grant struct {
	RoleID         domain.RoleID
	RoleName       string
	OrganizationID *domain.OrganizationID
	ScopePath      *domain.Path
	Permission     Permission
}

// Global reports whether the grant applies in every organization.
func (g Grant) Global() bool { return g.OrganizationID == nil }

type PermissionDefinedPayload struct {
	Applet      string    `json:"applet"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	ScopeType   ScopeType `json:"scope_type"`
	RequiresMFA bool      `json:"requires_mfa"`
}

type RoleCreatedPayload struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	OrganizationID *domain.OrganizationID `json:"organization_id,omitempty"`
	ScopePath      *domain.Path           `json:"scope_path,omitempty"`
}

type RoleUpdatedPayload struct {
	Name        patch.Field[string] `json:"name,omitzero"`
	Description patch.Field[string] `json:"description,omitzero"`
}

type RoleDeletedPayload struct {
	Reason                   string                 `json:"reason"`
	CascadedFromOrganization *domain.OrganizationID `json:"cascaded_from_organization,omitempty"`
}

type RolePermissionPayload struct {
	PermissionID domain.PermissionID `json:"permission_id"`
}

type UserCreatedPayload struct {
	Email          string                 `json:"email"`
	Name           string                 `json:"name,omitempty"`
	OrganizationID *domain.OrganizationID `json:"organization_id,omitempty"`
	ExternalID     *string                `json:"external_id,omitempty"`
}

type UserUpdatedPayload struct {
	Email      patch.Field[string] `json:"email,omitzero"`
	Name       patch.Field[string] `json:"name,omitzero"`
	ExternalID patch.Field[string] `json:"external_id,omitzero"`
	Active     patch.Field[bool]   `json:"active,omitzero"`
}

type UserRolePayload struct {
	RoleID         domain.RoleID          `json:"role_id"`
	OrganizationID *domain.OrganizationID `json:"organization_id,omitempty"`
	ScopePath      *domain.Path           `json:"scope_path,omitempty"`
}
