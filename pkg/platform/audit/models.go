package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit records by their primary purpose so
// retention and routing can differ per category.
type EventCategory string

const (
	// CategoryCompliance covers clinical and cross-tenant access facts with
	// regulatory significance (client records, medication, grants).
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authorization-relevant facts: role and
	// permission changes, user grants, impersonation.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers tenant lifecycle and provisioning facts.
	CategoryOperations EventCategory = "operations"
)

// streamCategories maps the stream type of the audited event to its category.
var streamCategories = map[string]EventCategory{
	"client":             CategoryCompliance,
	"medication":         CategoryCompliance,
	"medication_history": CategoryCompliance,
	"dosage":             CategoryCompliance,
	"access_grant":       CategoryCompliance,
	"permission":         CategorySecurity,
	"role":               CategorySecurity,
	"user":               CategorySecurity,
	"impersonation":      CategorySecurity,
	"organization":       CategoryOperations,
}

// CategoryFor returns the category for a stream type, defaulting to operations.
func CategoryFor(streamType string) EventCategory {
	if c, ok := streamCategories[strings.ToLower(streamType)]; ok {
		return c
	}
	return CategoryOperations
}

// Record is the denormalized audit row written by every projector. EventID
// is the id of the ledger event being audited; appending the same EventID
// twice keeps the first record.
type Record struct {
	EventID       uuid.UUID
	Category      EventCategory
	StreamID      uuid.UUID
	StreamType    string
	StreamVersion int
	EventType     string
	ActorID       string
	Reason        string
	CorrelationID string
	CausationID   string
	Payload       json.RawMessage
	OccurredAt    time.Time
	RecordedAt    time.Time
}

// Store persists audit records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	ListByStream(ctx context.Context, streamID uuid.UUID) ([]Record, error)
	ListByActor(ctx context.Context, actorID string) ([]Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}
