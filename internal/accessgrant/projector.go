package accessgrant

import (
	"context"
	"errors"
	"log/slog"

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
	audit    audit.Store
	logger   *slog.Logger
	handlers router.Handlers
}

func NewProjector(store Store, auditStore audit.Store, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projector{store: store, audit: auditStore, logger: logger}
	p.handlers = router.Handlers{
		EventCreated:     router.Handle(p.created),
		EventSuspended:   router.Handle(p.transition(StatusSuspended)),
		EventReactivated: router.Handle(p.transition(StatusActive)),
		EventExpired:     router.Handle(p.transition(StatusExpired)),
		EventRevoked:     router.Handle(p.transition(StatusRevoked)),
	}
	return p
}

func (p *Projector) Name() string { return "access_grant" }

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

func (p *Projector) created(ctx context.Context, evt eventstore.Event, payload CreatedPayload, _ router.Emitter) error {
	if payload.ConsultantOrgID.IsNil() || payload.ProviderOrgID.IsNil() {
		return dErrors.New(dErrors.CodeProjection, "consultant and provider organizations are required")
	}
	if payload.ConsultantOrgID == payload.ProviderOrgID {
		return dErrors.New(dErrors.CodeProjection, "a grant must cross organizations")
	}
	if !payload.Scope.Valid() {
		return dErrors.Newf(dErrors.CodeProjection, "unknown grant scope %q", payload.Scope)
	}
	if payload.Scope != ScopeFullOrg && payload.ScopeID == nil {
		return dErrors.Newf(dErrors.CodeProjection, "%s grant requires a scope id", payload.Scope)
	}
	if payload.AuthorizationType == "" {
		return dErrors.New(dErrors.CodeProjection, "authorization type is required")
	}
	if payload.ExpiresAt != nil && !payload.ExpiresAt.After(evt.CreatedAt) {
		return dErrors.New(dErrors.CodeProjection, "grant expires before it is granted")
	}
	_, err := p.store.Insert(ctx, Grant{
		ID:                domain.GrantID(evt.StreamID),
		ConsultantOrgID:   payload.ConsultantOrgID,
		ConsultantUserID:  payload.ConsultantUserID,
		ProviderOrgID:     payload.ProviderOrgID,
		Scope:             payload.Scope,
		ScopeID:           payload.ScopeID,
		AuthorizationType: payload.AuthorizationType,
		LegalReference:    payload.LegalReference,
		GrantedBy:         evt.Metadata.UserID,
		GrantedAt:         evt.CreatedAt,
		ExpiresAt:         payload.ExpiresAt,
		Status:            StatusActive,
		UpdatedAt:         evt.CreatedAt,
	})
	return err
}

// transition moves the grant to target. Reapplying a transition the grant
// has already made is a no-op.
func (p *Projector) transition(target Status) func(context.Context, eventstore.Event, StatusPayload, router.Emitter) error {
	return func(ctx context.Context, evt eventstore.Event, payload StatusPayload, _ router.Emitter) error {
		g, err := p.store.Get(ctx, domain.GrantID(evt.StreamID))
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeProjection, "access grant %s not projected", evt.StreamID)
		}
		if err != nil {
			return err
		}
		if g.Status == target {
			return nil
		}
		if !CanTransition(g.Status, target) {
			return dErrors.Newf(dErrors.CodeProjection, "access grant %s cannot move from %s to %s", g.ID, g.Status, target)
		}

		at := evt.CreatedAt
		switch target {
		case StatusSuspended:
			g.SuspendedAt, g.SuspendedReason = &at, payload.Reason
		case StatusActive:
			g.SuspendedAt, g.SuspendedReason = nil, ""
		case StatusRevoked:
			g.RevokedAt, g.RevokedReason = &at, payload.Reason
		case StatusExpired:
			g.ExpiredAt = &at
		}
		g.Status = target
		g.UpdatedAt = at
		return p.store.Update(ctx, g)
	}
}
