package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the event ledger. Append is the only way to add events;
// MarkProcessed and MarkFailed are the only mutations and belong to the router.
type Store interface {
	Append(ctx context.Context, ev NewEvent) (Event, error)
	Get(ctx context.Context, eventID uuid.UUID) (Event, error)

	ListByStream(ctx context.Context, streamID uuid.UUID, streamType StreamType) ([]Event, error)
	ListByStreamID(ctx context.Context, streamID uuid.UUID) ([]Event, error)
	ListBySequenceRange(ctx context.Context, fromSeq, toSeq int64) ([]Event, error)
	ListByCorrelationID(ctx context.Context, correlationID string) ([]Event, error)
	ListByTypePrefix(ctx context.Context, prefix string, page Page) ([]Event, error)
	ListUnprocessed(ctx context.Context, limit int) ([]Event, error)

	LastSequence(ctx context.Context) (int64, error)
	StreamVersion(ctx context.Context, streamID uuid.UUID, streamType StreamType) (int, error)
	MaxProcessedVersion(ctx context.Context, streamID uuid.UUID, streamType StreamType) (int, error)

	MarkProcessed(ctx context.Context, eventID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error

	Stats(ctx context.Context) ([]StreamTypeStats, error)
}
