package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

// Projector owns the permission, role and user streams.
type Projector struct {
	store    Store
	audit    audit.Store
	logger   *slog.Logger
	handlers router.Handlers
}

type Option func(*Projector)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) { p.logger = logger }
}

func NewProjector(store Store, auditStore audit.Store, opts ...Option) *Projector {
	p := &Projector{store: store, audit: auditStore, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.handlers = router.Handlers{
		EventPermissionDefined:     router.Handle(p.permissionDefined),
		EventRoleCreated:           router.Handle(p.roleCreated),
		EventRoleUpdated:           router.Handle(p.roleUpdated),
		EventRoleDeleted:           router.Handle(p.roleDeleted),
		EventRolePermissionGranted: router.Handle(p.permissionGranted),
		EventRolePermissionRevoked: router.Handle(p.permissionRevoked),
		EventUserCreated:           router.Handle(p.userCreated),
		EventUserUpdated:           router.Handle(p.userUpdated),
		EventUserRoleAssigned:      router.Handle(p.roleAssigned),
		EventUserRoleRevoked:       router.Handle(p.roleRevoked),
	}
	return p
}

func (p *Projector) Name() string { return "rbac" }

func (p *Projector) StreamTypes() []eventstore.StreamType {
	return []eventstore.StreamType{StreamPermission, StreamRole, StreamUser}
}

func (p *Projector) EventTypes() []eventstore.EventType { return p.handlers.EventTypes() }

func (p *Projector) Apply(ctx context.Context, evt eventstore.Event, emit router.Emitter) error {
	if err := p.handlers.Apply(ctx, p.logger, evt, emit); err != nil {
		return err
	}
	return p.audit.Append(ctx, evt.AuditRecord(requestcontext.Now(ctx)))
}

func (p *Projector) permissionDefined(ctx context.Context, evt eventstore.Event, payload PermissionDefinedPayload, _ router.Emitter) error {
	if payload.Applet == "" || payload.Action == "" {
		return dErrors.New(dErrors.CodeProjection, "permission applet and action are required")
	}
	if !payload.ScopeType.Valid() {
		return dErrors.Newf(dErrors.CodeProjection, "unknown scope type %q", payload.ScopeType)
	}
	_, err := p.store.InsertPermission(ctx, Permission{
		ID:          domain.PermissionID(evt.StreamID),
		Applet:      payload.Applet,
		Action:      payload.Action,
		Name:        payload.Applet + "." + payload.Action,
		Description: payload.Description,
		ScopeType:   payload.ScopeType,
		RequiresMFA: payload.RequiresMFA,
		CreatedAt:   evt.CreatedAt,
	})
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.Wrap(err, dErrors.CodeProjection, "permission name already defined")
	}
	return err
}

// checkGrantShape enforces that only super_admin is granted without an
// organization and that every other grant names both organization and scope.
// The scope is absent exactly when the organization is.
func checkGrantShape(roleName string, orgID *domain.OrganizationID, scope *domain.Path) error {
	if roleName == SuperAdminRole {
		if orgID != nil {
			return dErrors.Newf(dErrors.CodeProjection, "%s must not be bound to an organization", SuperAdminRole)
		}
		if scope != nil {
			return dErrors.Newf(dErrors.CodeProjection, "%s must not carry a scope path", SuperAdminRole)
		}
		return nil
	}
	if orgID == nil {
		return dErrors.Newf(dErrors.CodeProjection, "role %s requires an organization; only %s may be global", roleName, SuperAdminRole)
	}
	if scope == nil || *scope == "" {
		return dErrors.Newf(dErrors.CodeProjection, "role %s requires a scope path", roleName)
	}
	if _, err := domain.ParsePath(string(*scope)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeProjection, "invalid scope path")
	}
	return nil
}

func (p *Projector) roleCreated(ctx context.Context, evt eventstore.Event, payload RoleCreatedPayload, _ router.Emitter) error {
	if payload.Name == "" {
		return dErrors.New(dErrors.CodeProjection, "role name is required")
	}
	if err := checkGrantShape(payload.Name, payload.OrganizationID, payload.ScopePath); err != nil {
		return err
	}
	_, err := p.store.InsertRole(ctx, Role{
		ID:             domain.RoleID(evt.StreamID),
		Name:           payload.Name,
		Description:    payload.Description,
		OrganizationID: payload.OrganizationID,
		ScopePath:      payload.ScopePath,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.CreatedAt,
	})
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.Wrap(err, dErrors.CodeProjection, fmt.Sprintf("role %s already exists", payload.Name))
	}
	return err
}

func (p *Projector) roleUpdated(ctx context.Context, evt eventstore.Event, payload RoleUpdatedPayload, _ router.Emitter) error {
	role, err := p.loadRole(ctx, evt)
	if err != nil {
		return err
	}
	if role.Deleted {
		return dErrors.Newf(dErrors.CodeProjection, "role %s is deleted", role.ID)
	}
	payload.Name.Apply(&role.Name)
	payload.Description.Apply(&role.Description)
	if role.Name == "" {
		return dErrors.New(dErrors.CodeProjection, "role name cannot be cleared")
	}
	if err := checkGrantShape(role.Name, role.OrganizationID, role.ScopePath); err != nil {
		return err
	}
	role.UpdatedAt = evt.CreatedAt
	if err := p.store.UpdateRole(ctx, role); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return dErrors.Wrap(err, dErrors.CodeProjection, fmt.Sprintf("role %s already exists", role.Name))
		}
		return err
	}
	return nil
}

// roleDeleted soft-deletes the role and drops every assignment of it.
func (p *Projector) roleDeleted(ctx context.Context, evt eventstore.Event, _ RoleDeletedPayload, _ router.Emitter) error {
	role, err := p.loadRole(ctx, evt)
	if err != nil {
		return err
	}
	if role.Deleted {
		return nil
	}
	at := evt.CreatedAt
	role.Deleted = true
	role.DeletedAt = &at
	role.UpdatedAt = at
	if err := p.store.UpdateRole(ctx, role); err != nil {
		return err
	}
	return p.store.RemoveRoleAssignments(ctx, role.ID)
}

func (p *Projector) permissionGranted(ctx context.Context, evt eventstore.Event, payload RolePermissionPayload, _ router.Emitter) error {
	role, err := p.loadRole(ctx, evt)
	if err != nil {
		return err
	}
	if role.Deleted {
		return dErrors.Newf(dErrors.CodeProjection, "role %s is deleted", role.ID)
	}
	if _, err := p.store.GetPermission(ctx, payload.PermissionID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeProjection, "permission %s not defined", payload.PermissionID)
		}
		return err
	}
	return p.store.GrantPermission(ctx, role.ID, payload.PermissionID)
}

func (p *Projector) permissionRevoked(ctx context.Context, evt eventstore.Event, payload RolePermissionPayload, _ router.Emitter) error {
	return p.store.RevokePermission(ctx, domain.RoleID(evt.StreamID), payload.PermissionID)
}

func (p *Projector) userCreated(ctx context.Context, evt eventstore.Event, payload UserCreatedPayload, _ router.Emitter) error {
	if payload.Email == "" {
		return dErrors.New(dErrors.CodeProjection, "user email is required")
	}
	_, err := p.store.InsertUser(ctx, User{
		ID:             domain.UserID(evt.StreamID),
		Email:          payload.Email,
		Name:           payload.Name,
		OrganizationID: payload.OrganizationID,
		ExternalID:     payload.ExternalID,
		Active:         true,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.CreatedAt,
	})
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.Wrap(err, dErrors.CodeProjection, "user external id already mapped")
	}
	return err
}

func (p *Projector) userUpdated(ctx context.Context, evt eventstore.Event, payload UserUpdatedPayload, _ router.Emitter) error {
	user, err := p.loadUser(ctx, evt)
	if err != nil {
		return err
	}
	payload.Email.Apply(&user.Email)
	if user.Email == "" {
		return dErrors.New(dErrors.CodeProjection, "user email cannot be cleared")
	}
	payload.Name.Apply(&user.Name)
	payload.ExternalID.ApplyPtr(&user.ExternalID)
	payload.Active.Apply(&user.Active)
	user.UpdatedAt = evt.CreatedAt
	return p.store.UpdateUser(ctx, user)
}

func (p *Projector) roleAssigned(ctx context.Context, evt eventstore.Event, payload UserRolePayload, _ router.Emitter) error {
	user, err := p.loadUser(ctx, evt)
	if err != nil {
		return err
	}
	role, err := p.store.GetRole(ctx, payload.RoleID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeProjection, "role %s not projected", payload.RoleID)
	}
	if err != nil {
		return err
	}
	if role.Deleted {
		return dErrors.Newf(dErrors.CodeProjection, "role %s is deleted", role.ID)
	}
	if err := checkGrantShape(role.Name, payload.OrganizationID, payload.ScopePath); err != nil {
		return err
	}
	if role.OrganizationID != nil && *role.OrganizationID != *payload.OrganizationID {
		return dErrors.Newf(dErrors.CodeProjection, "role %s belongs to organization %s", role.Name, *role.OrganizationID)
	}
	return p.store.AssignRole(ctx, UserRole{
		UserID:         user.ID,
		RoleID:         role.ID,
		OrganizationID: payload.OrganizationID,
		ScopePath:      payload.ScopePath,
		AssignedAt:     evt.CreatedAt,
	})
}

func (p *Projector) roleRevoked(ctx context.Context, evt eventstore.Event, payload UserRolePayload, _ router.Emitter) error {
	return p.store.RevokeRole(ctx, domain.UserID(evt.StreamID), payload.RoleID, payload.OrganizationID)
}

func (p *Projector) loadRole(ctx context.Context, evt eventstore.Event) (Role, error) {
	role, err := p.store.GetRole(ctx, domain.RoleID(evt.StreamID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return Role{}, dErrors.Newf(dErrors.CodeProjection, "role %s not projected", evt.StreamID)
	}
	return role, err
}

func (p *Projector) loadUser(ctx context.Context, evt eventstore.Event) (User, error) {
	user, err := p.store.GetUser(ctx, domain.UserID(evt.StreamID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return User{}, dErrors.Newf(dErrors.CodeProjection, "user %s not projected", evt.StreamID)
	}
	return user, err
}
