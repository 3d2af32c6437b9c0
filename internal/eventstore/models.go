// Package eventstore is the append-only domain event ledger. Events are
// immutable once appended except for their processing status, which only the
// router updates. The (stream_id, stream_type, stream_version) triple is
// unique and is the sole optimistic-concurrency gate.
package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "carebase/pkg/platform/audit"
)

// StreamType names the kind of aggregate a stream belongs to.
type StreamType string

// EventType is a dotted lowercase name such as "organization.created".
type EventType string

func (t StreamType) String() string { return string(t) }
func (t EventType) String() string  { return string(t) }

// Metadata carries who/why/causality for an event.
type Metadata struct {
	UserID        string         `json:"user_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CausationID   string         `json:"causation_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// NewEvent is an append request. The store assigns ID, Sequence and, when
// zero, CreatedAt.
type NewEvent struct {
	StreamID      uuid.UUID
	StreamType    StreamType
	StreamVersion int
	EventType     EventType
	Payload       json.RawMessage
	Metadata      Metadata
	CreatedAt     time.Time
}

// Event is a stored domain event.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	Sequence        int64           `json:"sequence"`
	StreamID        uuid.UUID       `json:"stream_id"`
	StreamType      StreamType      `json:"stream_type"`
	StreamVersion   int             `json:"stream_version"`
	EventType       EventType       `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Metadata        Metadata        `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError *string         `json:"processing_error,omitempty"`
	RetryCount      int             `json:"retry_count"`
}

func (e Event) Processed() bool { return e.ProcessedAt != nil }

// Failed reports an unprocessed event whose last projection attempt errored.
func (e Event) Failed() bool { return e.ProcessedAt == nil && e.ProcessingError != nil }

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// AuditRecord denormalizes the event into an audit row.
func (e Event) AuditRecord(recordedAt time.Time) audit.Record {
	return audit.Record{
		EventID:       e.ID,
		Category:      audit.CategoryFor(string(e.StreamType)),
		StreamID:      e.StreamID,
		StreamType:    string(e.StreamType),
		StreamVersion: e.StreamVersion,
		EventType:     string(e.EventType),
		ActorID:       e.Metadata.UserID,
		Reason:        e.Metadata.Reason,
		CorrelationID: e.Metadata.CorrelationID,
		CausationID:   e.Metadata.CausationID,
		Payload:       e.Payload,
		OccurredAt:    e.CreatedAt,
		RecordedAt:    recordedAt,
	}
}

// Page bounds list queries. Newest reverses the sequence order.
type Page struct {
	Limit  int
	Offset int
	Newest bool
}

// StreamTypeStats summarizes processing status for one stream type.
type StreamTypeStats struct {
	StreamType StreamType `json:"stream_type"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Pending    int        `json:"pending"`
}

func newEvent(ev NewEvent, seq int64, now time.Time) Event {
	created := ev.CreatedAt
	if created.IsZero() {
		created = now
	}
	payload := make(json.RawMessage, len(ev.Payload))
	copy(payload, ev.Payload)
	return Event{
		ID:            uuid.New(),
		Sequence:      seq,
		StreamID:      ev.StreamID,
		StreamType:    ev.StreamType,
		StreamVersion: ev.StreamVersion,
		EventType:     ev.EventType,
		Payload:       payload,
		Metadata:      ev.Metadata,
		CreatedAt:     created.UTC(),
	}
}
