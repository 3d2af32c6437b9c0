package bootstrap

import (
	"context"

	"carebase/internal/organization"
)

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks Provider

// Provider is the external identity and organization service.
type Provider interface {
	CreateOrganization(ctx context.Context, req CreateOrganizationRequest) (string, error)
	CreateUser(ctx context.Context, req CreateUserRequest) (string, error)
}

type CreateOrganizationRequest struct {
	Name      string            `json:"name"`
	Type      organization.Type `json:"type"`
	Subdomain string            `json:"subdomain"`
	// Reference is the local organization id, echoed back by the provider
	// for reconciliation.
	Reference string `json:"reference"`
}

type CreateUserRequest struct {
	ExternalOrgID string `json:"organization_id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role"`
}
