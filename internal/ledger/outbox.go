package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outbox remembers committed events until the bus accepts them. Add joins the
// caller's unit of work, so an event is recorded for publication exactly when
// it commits. Entries that the inline publish could not clear become due and
// are republished by the worker.
type Outbox interface {
	Add(ctx context.Context, due time.Time, eventIDs ...uuid.UUID) error
	// Claim leases up to limit event ids due at now, oldest first.
	Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]uuid.UUID, error)
	Remove(ctx context.Context, eventIDs ...uuid.UUID) error
	Len(ctx context.Context) (int, error)
}
