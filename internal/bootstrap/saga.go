// Package bootstrap provisions a new tenant: it creates the organization and
// its first admin user at the external identity provider, then records the
// local organization, admin role, user and role assignment as events. The
// saga is not stored; its state is folded from the events that share its
// correlation id.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carebase/internal/eventstore"
	"carebase/internal/organization"
	"carebase/internal/rbac"
	"carebase/pkg/domain"
	dErrors "carebase/pkg/domain-errors"
)

// Stage names the saga step a failure happened in.
type Stage string

const (
	StageCircuitCheck     Stage = "circuit_check"
	StageExternalCreation Stage = "external_creation"
	StageLocalCreation    Stage = "local_creation"
)

type State string

const (
	StateInitiated       State = "initiated"
	StateExternalCreated State = "external_created"
	StateLocalCreated    State = "local_created"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// InitiatedPayload is the provisioning request carried by
// organization.bootstrap.initiated.
type InitiatedPayload struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	Type        organization.Type `json:"type"`
	Subdomain   string            `json:"subdomain"`
	Timezone    string            `json:"timezone,omitempty"`
	Path        domain.Path       `json:"path"`
	ParentPath  *domain.Path      `json:"parent_path,omitempty"`
	AdminEmail  string            `json:"admin_email"`
	AdminName   string            `json:"admin_name,omitempty"`
	// RetryOf is the correlation id of the failed saga this one repeats.
	RetryOf string `json:"retry_of,omitempty"`
}

type ExternalCreatedPayload struct {
	ExternalOrgID  string `json:"external_org_id"`
	ExternalUserID string `json:"external_user_id"`
	Attempts       int    `json:"attempts"`
}

type CompletedPayload struct {
	OrganizationID domain.OrganizationID `json:"organization_id"`
	AdminUserID    domain.UserID         `json:"admin_user_id"`
	Role           string                `json:"role"`
	Path           domain.Path           `json:"path"`
}

// FailedPayload is the single terminal failure of a saga. External ids are
// set for whatever the provider created before the failure.
type FailedPayload struct {
	Stage          Stage  `json:"stage"`
	Error          string `json:"error"`
	Attempts       int    `json:"attempts,omitempty"`
	ExternalOrgID  string `json:"external_org_id,omitempty"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

type CancelledPayload struct {
	Reason string `json:"reason"`
}

type CleanupRequestedPayload struct {
	ExternalOrgID  string `json:"external_org_id,omitempty"`
	ExternalUserID string `json:"external_user_id,omitempty"`
	Reason         string `json:"reason"`
}

// AdminRoleFor returns the role the first user of an organization of type t gets.
func AdminRoleFor(t organization.Type) string {
	switch t {
	case organization.TypeProviderPartner:
		return "partner_admin"
	case organization.TypePlatformOwner:
		return rbac.SuperAdminRole
	default:
		return "provider_admin"
	}
}

// Status is a saga folded from its events.
type Status struct {
	CorrelationID    string                `json:"correlation_id"`
	OrganizationID   domain.OrganizationID `json:"organization_id"`
	Request          InitiatedPayload      `json:"request"`
	State            State                 `json:"state"`
	FailedStage      Stage                 `json:"failed_stage,omitempty"`
	Error            string                `json:"error,omitempty"`
	Attempts         int                   `json:"attempts,omitempty"`
	ExternalOrgID    string                `json:"external_org_id,omitempty"`
	ExternalUserID   string                `json:"external_user_id,omitempty"`
	AdminUserID      *domain.UserID        `json:"admin_user_id,omitempty"`
	Role             string                `json:"role,omitempty"`
	CleanupRequested bool                  `json:"cleanup_requested"`
	InitiatedEventID uuid.UUID             `json:"initiated_event_id"`
	LastEventID      uuid.UUID             `json:"last_event_id"`
	StartedAt        time.Time             `json:"started_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// HasExternalResources reports whether the provider holds anything for this saga.
func (s Status) HasExternalResources() bool {
	return s.ExternalOrgID != "" || s.ExternalUserID != ""
}

// Fold derives a saga's status from its events in sequence order.
func Fold(correlationID string, events []eventstore.Event) (Status, error) {
	st := Status{CorrelationID: correlationID}
	for _, evt := range events {
		if err := st.apply(evt); err != nil {
			return Status{}, err
		}
	}
	if st.InitiatedEventID == uuid.Nil {
		return Status{}, dErrors.Newf(dErrors.CodeNotFound, "bootstrap %s not found", correlationID)
	}
	return st, nil
}

func (s *Status) apply(evt eventstore.Event) error {
	decode := func(v any) error {
		if err := json.Unmarshal(evt.Payload, v); err != nil {
			return fmt.Errorf("decode %s: %w", evt.EventType, err)
		}
		return nil
	}
	switch evt.EventType {
	case organization.EventBootstrapInitiated:
		if s.InitiatedEventID != uuid.Nil {
			return nil
		}
		if err := decode(&s.Request); err != nil {
			return err
		}
		s.OrganizationID = domain.OrganizationID(evt.StreamID)
		s.InitiatedEventID = evt.ID
		s.State = StateInitiated
		s.StartedAt = evt.CreatedAt
	case organization.EventBootstrapExternalCreated:
		var p ExternalCreatedPayload
		if err := decode(&p); err != nil {
			return err
		}
		s.ExternalOrgID, s.ExternalUserID, s.Attempts = p.ExternalOrgID, p.ExternalUserID, p.Attempts
		s.advance(StateExternalCreated)
	case rbac.EventUserCreated:
		id := domain.UserID(evt.StreamID)
		s.AdminUserID = &id
	case rbac.EventUserRoleAssigned:
		s.advance(StateLocalCreated)
	case organization.EventBootstrapCompleted:
		var p CompletedPayload
		if err := decode(&p); err != nil {
			return err
		}
		s.Role = p.Role
		s.AdminUserID = &p.AdminUserID
		s.advance(StateCompleted)
	case organization.EventBootstrapFailed:
		var p FailedPayload
		if err := decode(&p); err != nil {
			return err
		}
		s.FailedStage, s.Error = p.Stage, p.Error
		if p.Attempts > 0 {
			s.Attempts = p.Attempts
		}
		if p.ExternalOrgID != "" {
			s.ExternalOrgID = p.ExternalOrgID
		}
		if p.ExternalUserID != "" {
			s.ExternalUserID = p.ExternalUserID
		}
		s.advance(StateFailed)
	case organization.EventBootstrapCancelled:
		s.advance(StateCancelled)
	case organization.EventBootstrapCleanupRequested:
		s.CleanupRequested = true
	default:
		return nil
	}
	s.LastEventID = evt.ID
	s.UpdatedAt = evt.CreatedAt
	return nil
}

// advance moves to next unless the saga already ended.
func (s *Status) advance(next State) {
	if !s.State.Terminal() {
		s.State = next
	}
}
