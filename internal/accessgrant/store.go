package accessgrant

import (
	"context"

	"carebase/pkg/domain"
)

type Store interface {
	Insert(ctx context.Context, g Grant) (bool, error)
	Get(ctx context.Context, id domain.GrantID) (Grant, error)
	Update(ctx context.Context, g Grant) error
	// ListBetween returns every grant from provider to consultant, any status.
	ListBetween(ctx context.Context, consultant, provider domain.OrganizationID) ([]Grant, error)
}
