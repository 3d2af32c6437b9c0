// Package organization projects the organization stream into the tenant
// hierarchy and the external identity map.
package organization

import (
	"time"

	"carebase/pkg/domain"
	"carebase/pkg/platform/patch"
)

const StreamType = "organization"

const (
	EventCreated     = "organization.created"
	EventUpdated     = "organization.updated"
	EventDeactivated = "organization.deactivated"
	EventReactivated = "organization.reactivated"
	EventDeleted     = "organization.deleted"

	EventBootstrapInitiated        = "organization.bootstrap.initiated"
	EventBootstrapExternalCreated  = "organization.bootstrap.external_created"
	EventBootstrapCompleted        = "organization.bootstrap.completed"
	EventBootstrapFailed           = "organization.bootstrap.failed"
	EventBootstrapCancelled        = "organization.bootstrap.cancelled"
	EventBootstrapCleanupRequested = "organization.bootstrap.cleanup_requested"
)

// Type decides which admin role a bootstrapped organization's first user gets.
type Type string

const (
	TypeProvider        Type = "provider"
	TypeProviderPartner Type = "provider_partner"
	TypePlatformOwner   Type = "platform_owner"
)

func (t Type) Valid() bool {
	switch t {
	case TypeProvider, TypeProviderPartner, TypePlatformOwner:
		return true
	}
	return false
}

type Organization struct {
	ID          domain.OrganizationID `json:"id"`
	Name        string                `json:"name"`
	DisplayName string                `json:"display_name,omitempty"`
	Type        Type                  `json:"type"`
	Subdomain   string                `json:"subdomain,omitempty"`
	Timezone    string                `json:"timezone,omitempty"`
	ExternalID  *string               `json:"external_id,omitempty"`
	Path        domain.Path           `json:"path"`
	ParentPath  *domain.Path          `json:"parent_path,omitempty"`
	Active      bool                  `json:"active"`
	Deleted     bool                  `json:"deleted"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	DeletedAt   *time.Time            `json:"deleted_at,omitempty"`
}

// CreatedPayload is the body of organization.created.
type CreatedPayload struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name,omitempty"`
	Type        Type         `json:"type"`
	Subdomain   string       `json:"subdomain,omitempty"`
	Timezone    string       `json:"timezone,omitempty"`
	ExternalID  *string      `json:"external_id,omitempty"`
	Path        domain.Path  `json:"path"`
	ParentPath  *domain.Path `json:"parent_path,omitempty"`
}

// UpdatedPayload carries only the fields being changed.
type UpdatedPayload struct {
	Name        patch.Field[string] `json:"name,omitzero"`
	DisplayName patch.Field[string] `json:"display_name,omitzero"`
	Subdomain   patch.Field[string] `json:"subdomain,omitzero"`
	Timezone    patch.Field[string] `json:"timezone,omitzero"`
	ExternalID  patch.Field[string] `json:"external_id,omitzero"`
}

type StatusPayload struct {
	Reason string `json:"reason"`
}

// DeletedPayload is the body of organization.deleted. Cascade asks the
// projector to delete the subtree's roles and descendant organizations.
type DeletedPayload struct {
	Reason  string `json:"reason"`
	Cascade bool   `json:"cascade"`
}

// roleDeletedPayload mirrors the rbac role.deleted body.
type roleDeletedPayload struct {
	Reason                   string                `json:"reason"`
	CascadedFromOrganization domain.OrganizationID `json:"cascaded_from_organization"`
}
