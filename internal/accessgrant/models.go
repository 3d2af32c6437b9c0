// Package accessgrant projects cross-tenant access grants: time-bound,
// revocable permission for a consultant organization to act on a provider
// organization's data.
package accessgrant

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"carebase/pkg/domain"
)

const StreamType = "access_grant"

const (
	EventCreated     = "access_grant.created"
	EventSuspended   = "access_grant.suspended"
	EventReactivated = "access_grant.reactivated"
	EventExpired     = "access_grant.expired"
	EventRevoked     = "access_grant.revoked"
)

type Scope string

const (
	ScopeFullOrg        Scope = "full_org"
	ScopeFacility       Scope = "facility"
	ScopeProgram        Scope = "program"
	ScopeClientSpecific Scope = "client_specific"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeFullOrg, ScopeFacility, ScopeProgram, ScopeClientSpecific:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// transitions lists the allowed status moves. Expired and revoked are terminal.
var transitions = map[Status][]Status{
	StatusActive:    {StatusSuspended, StatusExpired, StatusRevoked},
	StatusSuspended: {StatusActive},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

type Grant struct {
	ID                domain.GrantID        `json:"id"`
	ConsultantOrgID   domain.OrganizationID `json:"consultant_org_id"`
	ConsultantUserID  *domain.UserID        `json:"consultant_user_id,omitempty"`
	ProviderOrgID     domain.OrganizationID `json:"provider_org_id"`
	Scope             Scope                 `json:"scope"`
	ScopeID           *uuid.UUID            `json:"scope_id,omitempty"`
	AuthorizationType string                `json:"authorization_type"`
	LegalReference    string                `json:"legal_reference,omitempty"`
	GrantedBy         string                `json:"granted_by"`
	GrantedAt         time.Time             `json:"granted_at"`
	ExpiresAt         *time.Time            `json:"expires_at,omitempty"`
	Status            Status                `json:"status"`
	SuspendedAt       *time.Time            `json:"suspended_at,omitempty"`
	SuspendedReason   string                `json:"suspended_reason,omitempty"`
	RevokedAt         *time.Time            `json:"revoked_at,omitempty"`
	RevokedReason     string                `json:"revoked_reason,omitempty"`
	ExpiredAt         *time.Time            `json:"expired_at,omitempty"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// Usable reports whether the grant authorizes access at now.
func (g Grant) Usable(now time.Time) bool {
	return g.Status == StatusActive && (g.ExpiresAt == nil || now.Before(*g.ExpiresAt))
}

// Covers reports whether the grant reaches the requested scope.
func (g Grant) Covers(scope Scope, scopeID *uuid.UUID) bool {
	if g.Scope == ScopeFullOrg {
		return true
	}
	if g.Scope != scope {
		return false
	}
	return g.ScopeID != nil && scopeID != nil && *g.ScopeID == *scopeID
}

type CreatedPayload struct {
	ConsultantOrgID   domain.OrganizationID `json:"consultant_org_id"`
	ConsultantUserID  *domain.UserID        `json:"consultant_user_id,omitempty"`
	ProviderOrgID     domain.OrganizationID `json:"provider_org_id"`
	Scope             Scope                 `json:"scope"`
	ScopeID           *uuid.UUID            `json:"scope_id,omitempty"`
	AuthorizationType string                `json:"authorization_type"`
	LegalReference    string                `json:"legal_reference,omitempty"`
	ExpiresAt         *time.Time            `json:"expires_at,omitempty"`
}

type StatusPayload struct {
	Reason string `json:"reason"`
}
