// Package authz answers authorization questions from projected state only:
// RBAC grants with hierarchical scope containment, super admin checks and
// cross-tenant access grants.
package authz

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"carebase/internal/accessgrant"
	"carebase/internal/platform/metrics"
	"carebase/internal/rbac"
	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

// RBACReader is the slice of the RBAC read model the resolver needs.
type RBACReader interface {
	GetUser(ctx context.Context, id domain.UserID) (rbac.User, error)
	GetRole(ctx context.Context, id domain.RoleID) (rbac.Role, error)
	GetPermissionByName(ctx context.Context, name string) (rbac.Permission, error)
	ListUserRoles(ctx context.Context, userID domain.UserID) ([]rbac.UserRole, error)
	ListGrants(ctx context.Context, userID domain.UserID) ([]rbac.Grant, error)
}

// GrantReader lists cross-tenant access grants between two organizations.
type GrantReader interface {
	ListBetween(ctx context.Context, consultant, provider domain.OrganizationID) ([]accessgrant.Grant, error)
}

type Resolver struct {
	rbac    RBACReader
	grants  GrantReader
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(rbacStore RBACReader, grants GrantReader, opts ...Option) (*Resolver, error) {
	if rbacStore == nil {
		return nil, errors.New("authz: rbac store is required")
	}
	if grants == nil {
		return nil, errors.New("authz: access grant store is required")
	}
	r := &Resolver{rbac: rbacStore, grants: grants, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// HasPermission reports whether user holds permission in org. A grant with
// no organization applies everywhere. Otherwise the organization must match
// and, when scope is given, the two paths must be on one branch: scope
// inside the grant's scope or the grant's scope inside scope.
func (r *Resolver) HasPermission(ctx context.Context, userID domain.UserID, permission string, orgID domain.OrganizationID, scope *domain.Path) (bool, error) {
	allowed, err := r.hasPermission(ctx, userID, permission, orgID, scope)
	if err != nil {
		return false, err
	}
	r.metrics.IncAuthzDecision("has_permission", allowed)
	return allowed, nil
}

func (r *Resolver) hasPermission(ctx context.Context, userID domain.UserID, permission string, orgID domain.OrganizationID, scope *domain.Path) (bool, error) {
	grants, err := r.activeGrants(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if g.Permission.Name != permission {
			continue
		}
		if g.Global() {
			return true, nil
		}
		if *g.OrganizationID != orgID {
			continue
		}
		if scope == nil || g.ScopePath == nil {
			return true, nil
		}
		if scope.IsDescendantOf(*g.ScopePath) || g.ScopePath.IsDescendantOf(*scope) {
			return true, nil
		}
	}
	return false, nil
}

// Decision is a permission check that also says whether the permission
// needs a second factor.
type Decision struct {
	Allowed     bool
	RequiresMFA bool
}

// HasPermissionWithMFA is HasPermission plus the permission's step-up
// requirement. An undefined permission is denied.
func (r *Resolver) HasPermissionWithMFA(ctx context.Context, userID domain.UserID, permission string, orgID domain.OrganizationID, scope *domain.Path) (Decision, error) {
	descriptor, err := r.rbac.GetPermissionByName(ctx, permission)
	if errors.Is(err, sentinel.ErrNotFound) {
		r.metrics.IncAuthzDecision("has_permission_mfa", false)
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load permission %s: %w", permission, err)
	}
	allowed, err := r.hasPermission(ctx, userID, permission, orgID, scope)
	if err != nil {
		return Decision{}, err
	}
	r.metrics.IncAuthzDecision("has_permission_mfa", allowed)
	return Decision{Allowed: allowed, RequiresMFA: descriptor.RequiresMFA}, nil
}

// PermissionDescriptor describes one permission a user holds.
type PermissionDescriptor struct {
	Name        string         `json:"name"`
	Applet      string         `json:"applet"`
	Action      string         `json:"action"`
	ScopeType   rbac.ScopeType `json:"scope_type"`
	RequiresMFA bool           `json:"requires_mfa"`
}

// ListPermissions returns the distinct permissions user holds in org,
// global grants included, sorted by name.
func (r *Resolver) ListPermissions(ctx context.Context, userID domain.UserID, orgID domain.OrganizationID) ([]PermissionDescriptor, error) {
	grants, err := r.activeGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []PermissionDescriptor
	for _, g := range grants {
		if !g.Global() && *g.OrganizationID != orgID {
			continue
		}
		p := g.Permission
		out = append(out, PermissionDescriptor{
			Name:        p.Name,
			Applet:      p.Applet,
			Action:      p.Action,
			ScopeType:   p.ScopeType,
			RequiresMFA: p.RequiresMFA,
		})
	}
	slices.SortFunc(out, func(a, b PermissionDescriptor) int { return cmp.Compare(a.Name, b.Name) })
	return slices.CompactFunc(out, func(a, b PermissionDescriptor) bool { return a.Name == b.Name }), nil
}

// IsSuperAdminEquivalent reports whether user holds the global super admin role.
func (r *Resolver) IsSuperAdminEquivalent(ctx context.Context, userID domain.UserID) (bool, error) {
	active, err := r.userActive(ctx, userID)
	if err != nil || !active {
		return false, err
	}
	assignments, err := r.rbac.ListUserRoles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list roles of %s: %w", userID, err)
	}
	for _, ur := range assignments {
		if ur.OrganizationID != nil {
			continue
		}
		role, err := r.rbac.GetRole(ctx, ur.RoleID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("load role %s: %w", ur.RoleID, err)
		}
		if role.Name == rbac.SuperAdminRole && !role.Deleted {
			return true, nil
		}
	}
	return false, nil
}

// OrganizationMembership is one organization-bound role a user holds.
type OrganizationMembership struct {
	OrganizationID domain.OrganizationID `json:"organization_id"`
	RoleID         domain.RoleID         `json:"role_id"`
	RoleName       string                `json:"role_name"`
	ScopePath      *domain.Path          `json:"scope_path,omitempty"`
}

// ListUserOrganizations returns every (organization, role, scope) user holds.
// Global grants belong to no organization and are left out, as are roles
// since deleted. Unknown and inactive users hold nothing.
func (r *Resolver) ListUserOrganizations(ctx context.Context, userID domain.UserID) ([]OrganizationMembership, error) {
	active, err := r.userActive(ctx, userID)
	if err != nil || !active {
		return nil, err
	}
	assignments, err := r.rbac.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles of %s: %w", userID, err)
	}
	var out []OrganizationMembership
	for _, ur := range assignments {
		if ur.OrganizationID == nil {
			continue
		}
		role, err := r.rbac.GetRole(ctx, ur.RoleID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load role %s: %w", ur.RoleID, err)
		}
		if role.Deleted {
			continue
		}
		out = append(out, OrganizationMembership{
			OrganizationID: *ur.OrganizationID,
			RoleID:         role.ID,
			RoleName:       role.Name,
			ScopePath:      ur.ScopePath,
		})
	}
	slices.SortFunc(out, func(a, b OrganizationMembership) int {
		return cmp.Or(
			cmp.Compare(a.OrganizationID.String(), b.OrganizationID.String()),
			cmp.Compare(a.RoleName, b.RoleName),
		)
	})
	return out, nil
}

// CrossTenantRequest asks whether a consultant organization may reach into
// a provider organization's data.
type CrossTenantRequest struct {
	ConsultantOrgID domain.OrganizationID
	ProviderOrgID   domain.OrganizationID
	// UserID narrows the check to one consultant user; grants bound to a
	// different user do not apply.
	UserID  *domain.UserID
	Scope   accessgrant.Scope
	ScopeID *uuid.UUID
}

// CheckCrossTenantAccess requires an active, unexpired grant from provider
// to consultant whose scope is full_org or matches the requested scope.
func (r *Resolver) CheckCrossTenantAccess(ctx context.Context, req CrossTenantRequest) (bool, error) {
	grants, err := r.grants.ListBetween(ctx, req.ConsultantOrgID, req.ProviderOrgID)
	if err != nil {
		return false, fmt.Errorf("list access grants: %w", err)
	}
	now := requestcontext.Now(ctx)
	allowed := slices.ContainsFunc(grants, func(g accessgrant.Grant) bool {
		if !g.Usable(now) || !g.Covers(req.Scope, req.ScopeID) {
			return false
		}
		if g.ConsultantUserID == nil {
			return true
		}
		return req.UserID != nil && *g.ConsultantUserID == *req.UserID
	})
	r.metrics.IncAuthzDecision("cross_tenant", allowed)
	if !allowed {
		r.logger.DebugContext(ctx, "cross-tenant access denied",
			"consultant_org_id", req.ConsultantOrgID.String(),
			"provider_org_id", req.ProviderOrgID.String(),
			"scope", string(req.Scope),
		)
	}
	return allowed, nil
}

// activeGrants returns the user's grants, or none for unknown and inactive users.
func (r *Resolver) activeGrants(ctx context.Context, userID domain.UserID) ([]rbac.Grant, error) {
	active, err := r.userActive(ctx, userID)
	if err != nil || !active {
		return nil, err
	}
	grants, err := r.rbac.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants of %s: %w", userID, err)
	}
	return grants, nil
}

func (r *Resolver) userActive(ctx context.Context, userID domain.UserID) (bool, error) {
	u, err := r.rbac.GetUser(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user %s: %w", userID, err)
	}
	return u.Active, nil
}
