package organization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

type Projector struct {
	store    Store
	roles    RoleFinder
	audit    audit.Store
	logger   *slog.Logger
	handlers router.Handlers
}

type Option func(*Projector)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) { p.logger = logger }
}

func NewProjector(store Store, roles RoleFinder, auditStore audit.Store, opts ...Option) *Projector {
	p := &Projector{store: store, roles: roles, audit: auditStore, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.handlers = router.Handlers{
		EventCreated:     router.Handle(p.created),
		EventUpdated:     router.Handle(p.updated),
		EventDeactivated: router.Handle(p.deactivated),
		EventReactivated: router.Handle(p.reactivated),
		EventDeleted:     router.Handle(p.deleted),

		EventBootstrapInitiated:        recordOnly,
		EventBootstrapExternalCreated:  recordOnly,
		EventBootstrapCompleted:        recordOnly,
		EventBootstrapFailed:           recordOnly,
		EventBootstrapCancelled:        recordOnly,
		EventBootstrapCleanupRequested: recordOnly,
	}
	return p
}

func (p *Projector) Name() string { return "organization" }

func (p *Projector) StreamTypes() []eventstore.StreamType {
	return []eventstore.StreamType{StreamType}
}

func (p *Projector) EventTypes() []eventstore.EventType { return p.handlers.EventTypes() }

func (p *Projector) Apply(ctx context.Context, evt eventstore.Event, emit router.Emitter) error {
	if err := p.handlers.Apply(ctx, p.logger, evt, emit); err != nil {
		return err
	}
	return p.audit.Append(ctx, evt.AuditRecord(requestcontext.Now(ctx)))
}

// Bootstrap saga events only leave an audit trail; saga state is derived
// from the ledger by correlation id.
func recordOnly(context.Context, eventstore.Event, router.Emitter) error { return nil }

func (p *Projector) created(ctx context.Context, evt eventstore.Event, payload CreatedPayload, _ router.Emitter) error {
	if payload.Name == "" {
		return dErrors.New(dErrors.CodeProjection, "organization name is required")
	}
	if !payload.Type.Valid() {
		return dErrors.Newf(dErrors.CodeProjection, "unknown organization type %q", payload.Type)
	}
	if err := domain.ValidateOrganizationPath(payload.Path, payload.ParentPath); err != nil {
		return dErrors.Wrap(err, dErrors.CodeProjection, "invalid organization path")
	}
	if payload.ParentPath != nil && *payload.ParentPath != "" {
		parent, err := p.store.GetByPath(ctx, *payload.ParentPath)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeProjection, "parent organization %s does not exist", *payload.ParentPath)
		}
		if err != nil {
			return err
		}
		if parent.Deleted {
			return dErrors.Newf(dErrors.CodeProjection, "parent organization %s is deleted", parent.Path)
		}
	}

	org := Organization{
		ID:          domain.OrganizationID(evt.StreamID),
		Name:        payload.Name,
		DisplayName: payload.DisplayName,
		Type:        payload.Type,
		Subdomain:   payload.Subdomain,
		Timezone:    payload.Timezone,
		ExternalID:  payload.ExternalID,
		Path:        payload.Path,
		ParentPath:  payload.ParentPath,
		Active:      true,
		CreatedAt:   evt.CreatedAt,
		UpdatedAt:   evt.CreatedAt,
	}
	inserted, err := p.store.Insert(ctx, org)
	if errors.Is(err, sentinel.ErrAlreadyExists) {
		return dErrors.Wrap(err, dErrors.CodeProjection, fmt.Sprintf("path %s already taken", org.Path))
	}
	if err != nil {
		return err
	}
	if !inserted {
		p.logger.DebugContext(ctx, "organization already projected", "organization_id", org.ID.String())
	}
	return nil
}

func (p *Projector) updated(ctx context.Context, evt eventstore.Event, payload UpdatedPayload, _ router.Emitter) error {
	org, err := p.load(ctx, evt)
	if err != nil {
		return err
	}
	payload.Name.Apply(&org.Name)
	if org.Name == "" {
		return dErrors.New(dErrors.CodeProjection, "organization name cannot be cleared")
	}
	payload.DisplayName.Apply(&org.DisplayName)
	payload.Subdomain.Apply(&org.Subdomain)
	payload.Timezone.Apply(&org.Timezone)
	payload.ExternalID.ApplyPtr(&org.ExternalID)
	org.UpdatedAt = evt.CreatedAt
	return p.store.Update(ctx, org)
}

func (p *Projector) deactivated(ctx context.Context, evt eventstore.Event, _ StatusPayload, _ router.Emitter) error {
	return p.setActive(ctx, evt, false)
}

func (p *Projector) reactivated(ctx context.Context, evt eventstore.Event, _ StatusPayload, _ router.Emitter) error {
	return p.setActive(ctx, evt, true)
}

func (p *Projector) setActive(ctx context.Context, evt eventstore.Event, active bool) error {
	org, err := p.load(ctx, evt)
	if err != nil {
		return err
	}
	if org.Deleted {
		return dErrors.Newf(dErrors.CodeProjection, "organization %s is deleted", org.ID)
	}
	org.Active = active
	org.UpdatedAt = evt.CreatedAt
	return p.store.Update(ctx, org)
}

// deleted marks the organization deleted. On the live to deleted transition
// with cascade set, it asks for role.deleted on every role scoped inside the
// subtree and organization.deleted on every live descendant. Redelivery
// finds the organization already deleted and emits nothing.
func (p *Projector) deleted(ctx context.Context, evt eventstore.Event, payload DeletedPayload, emit router.Emitter) error {
	org, err := p.load(ctx, evt)
	if err != nil {
		return err
	}
	if org.Deleted {
		return nil
	}
	at := evt.CreatedAt
	org.Deleted = true
	org.Active = false
	org.DeletedAt = &at
	org.UpdatedAt = at
	if err := p.store.Update(ctx, org); err != nil {
		return err
	}
	if !payload.Cascade {
		return nil
	}

	roleIDs, err := p.roles.RoleIDsWithinPath(ctx, org.Path)
	if err != nil {
		return fmt.Errorf("find roles under %s: %w", org.Path, err)
	}
	for _, roleID := range roleIDs {
		f, err := router.NewFollowUp(evt, uuid.UUID(roleID), "role", "role.deleted", roleDeletedPayload{
			Reason:                   "organization deleted",
			CascadedFromOrganization: org.ID,
		})
		if err != nil {
			return err
		}
		emit.Emit(f)
	}

	descendants, err := p.store.ListDescendants(ctx, org.Path)
	if err != nil {
		return fmt.Errorf("find descendants of %s: %w", org.Path, err)
	}
	for _, child := range descendants {
		if child.Deleted {
			continue
		}
		f, err := router.NewFollowUp(evt, uuid.UUID(child.ID), StreamType, EventDeleted, DeletedPayload{
			Reason:  fmt.Sprintf("ancestor %s deleted", org.Path),
			Cascade: false,
		})
		if err != nil {
			return err
		}
		emit.Emit(f)
	}
	return nil
}

func (p *Projector) load(ctx context.Context, evt eventstore.Event) (Organization, error) {
	org, err := p.store.Get(ctx, domain.OrganizationID(evt.StreamID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return Organization{}, dErrors.Newf(dErrors.CodeProjection, "organization %s not projected", evt.StreamID)
	}
	return org, err
}
