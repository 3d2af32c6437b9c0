// Package impersonation projects super-admin impersonation sessions.
package impersonation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"carebase/internal/eventstore"
	"carebase/internal/router"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
	audit "carebase/pkg/platform/audit"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/requestcontext"
)

const StreamType = "impersonation"

const (
	EventStarted = "impersonation.started"
	EventRenewed = "impersonation.renewed"
	EventEnded   = "impersonation.ended"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

type Session struct {
	ID           domain.SessionID      `json:"id"`
	SuperAdminID domain.UserID         `json:"super_admin_id"`
	TargetUserID domain.UserID         `json:"target_user_id"`
	TargetOrgID  domain.OrganizationID `json:"target_org_id"`
	Reason       string                `json:"reason"`
	Status       Status                `json:"status"`
	StartedAt    time.Time             `json:"started_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
	Renewals     int                   `json:"renewals"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	EndedReason  string                `json:"ended_reason,omitempty"`
}

// Active reports whether the session can be used at now.
func (s Session) Active(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt)
}

type StartedPayload struct {
	SuperAdminID domain.UserID         `json:"super_admin_id"`
	TargetUserID domain.UserID         `json:"target_user_id"`
	TargetOrgID  domain.OrganizationID `json:"target_org_id"`
	Reason       string                `json:"reason"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

type RenewedPayload struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type EndedPayload struct {
	Reason string `json:"reason"`
}

type Store interface {
	Insert(ctx context.Context, s Session) (bool, error)
	Get(ctx context.Context, id domain.SessionID) (Session, error)
	Update(ctx context.Context, s Session) error
	ListByAdmin(ctx context.Context, adminID domain.UserID) ([]Session, error)
}

// SuperAdminChecker confirms the impersonating user holds global authority.
type SuperAdminChecker interface {
	IsSuperAdminEquivalent(ctx context.Context, userID domain.UserID) (bool, error)
}

type Projector struct {
	store    Store
	admins   SuperAdminChecker
	audit    audit.Store
	logger   *slog.Logger
	handlers router.Handlers
}

func NewProjector(store Store, admins SuperAdminChecker, auditStore audit.Store, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projector{store: store, admins: admins, audit: auditStore, logger: logger}
	p.handlers = router.Handlers{
		EventStarted: router.Handle(p.started),
		EventRenewed: router.Handle(p.renewed),
		EventEnded:   router.Handle(p.ended),
	}
	return p
}

func (p *Projector) Name() string { return "impersonation" }

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

func (p *Projector) started(ctx context.Context, evt eventstore.Event, payload StartedPayload, _ router.Emitter) error {
	if payload.Reason == "" {
		return dErrors.New(dErrors.CodeProjection, "impersonation reason is required")
	}
	if payload.SuperAdminID == payload.TargetUserID {
		return dErrors.New(dErrors.CodeProjection, "cannot impersonate oneself")
	}
	if !payload.ExpiresAt.After(evt.CreatedAt) {
		return dErrors.New(dErrors.CodeProjection, "impersonation must expire after it starts")
	}
	ok, err := p.admins.IsSuperAdminEquivalent(ctx, payload.SuperAdminID)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeProjection, "user %s is not a super admin", payload.SuperAdminID)
	}
	_, err = p.store.Insert(ctx, Session{
		ID:           domain.SessionID(evt.StreamID),
		SuperAdminID: payload.SuperAdminID,
		TargetUserID: payload.TargetUserID,
		TargetOrgID:  payload.TargetOrgID,
		Reason:       payload.Reason,
		Status:       StatusActive,
		StartedAt:    evt.CreatedAt,
		ExpiresAt:    payload.ExpiresAt.UTC(),
	})
	return err
}

func (p *Projector) renewed(ctx context.Context, evt eventstore.Event, payload RenewedPayload, _ router.Emitter) error {
	s, err := p.load(ctx, evt)
	if err != nil {
		return err
	}
	if s.Status != StatusActive {
		return dErrors.Newf(dErrors.CodeProjection, "session %s has ended", s.ID)
	}
	if !payload.ExpiresAt.After(s.ExpiresAt) {
		// Already applied, or a stale renewal.
		return nil
	}
	s.ExpiresAt = payload.ExpiresAt.UTC()
	s.Renewals++
	return p.store.Update(ctx, s)
}

func (p *Projector) ended(ctx context.Context, evt eventstore.Event, payload EndedPayload, _ router.Emitter) error {
	s, err := p.load(ctx, evt)
	if err != nil {
		return err
	}
	if s.Status == StatusEnded {
		return nil
	}
	at := evt.CreatedAt
	s.Status = StatusEnded
	s.EndedAt = &at
	s.EndedReason = payload.Reason
	return p.store.Update(ctx, s)
}

func (p *Projector) load(ctx context.Context, evt eventstore.Event) (Session, error) {
	s, err := p.store.Get(ctx, domain.SessionID(evt.StreamID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return Session{}, dErrors.Newf(dErrors.CodeProjection, "session %s not projected", evt.StreamID)
	}
	return s, err
}

type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[domain.SessionID]Session)}
}

func (m *InMemoryStore) Insert(_ context.Context, s Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return false, nil
	}
	m.sessions[s.ID] = s
	return true, nil
}

func (m *InMemoryStore) Get(_ context.Context, id domain.SessionID) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, sentinel.ErrNotFound
	}
	return s, nil
}

func (m *InMemoryStore) Update(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *InMemoryStore) ListByAdmin(_ context.Context, adminID domain.UserID) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.sessions {
		if s.SuperAdminID == adminID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return out, nil
}
