// Package clinical projects the client, medication catalog, medication
// history and dosage streams. Read models are JSON documents keyed by stream
// id and grouped by kind.
package clinical

import (
	"context"

	"github.com/google/uuid"

	"carebase/pkg/domain"
)

// Documents stores one kind of read model.
type Documents[T any] interface {
	// Insert writes doc unless id exists and reports whether it did.
	Insert(ctx context.Context, id uuid.UUID, orgID domain.OrganizationID, doc T) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (T, error)
	Update(ctx context.Context, id uuid.UUID, doc T) error
	// ListWhere returns documents whose top-level string field equals value.
	ListWhere(ctx context.Context, field, value string) ([]T, error)
	// ListContainingAny returns documents whose top-level string array field
	// shares at least one element with values.
	ListContainingAny(ctx context.Context, field string, values []string) ([]T, error)
}

// Stores bundles the clinical read models.
type Stores struct {
	Clients     Documents[Client]
	Medications Documents[Medication]
	Histories   Documents[MedicationHistory]
	Dosages     Documents[Dosage]
}

func NewInMemoryStores() Stores {
	return Stores{
		Clients:     NewInMemoryDocuments[Client](),
		Medications: NewInMemoryDocuments[Medication](),
		Histories:   NewInMemoryDocuments[MedicationHistory](),
		Dosages:     NewInMemoryDocuments[Dosage](),
	}
}
