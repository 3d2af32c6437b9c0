package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "carebase/pkg/platform/audit"
	txcontext "carebase/pkg/platform/tx"
)

// Store implements audit.Store on the audit_log table. Writes join the
// caller's transaction so an audit row commits with the projection it describes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append is idempotent per event id.
func (s *Store) Append(ctx context.Context, rec audit.Record) error {
	if rec.Category == "" {
		rec.Category = audit.CategoryFor(rec.StreamType)
	}
	payload := []byte(rec.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO audit_log (
			event_id, category, stream_id, stream_type, stream_version, event_type,
			actor_id, reason, correlation_id, causation_id, payload, occurred_at, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
	`,
		rec.EventID,
		string(rec.Category),
		rec.StreamID,
		rec.StreamType,
		rec.StreamVersion,
		rec.EventType,
		rec.ActorID,
		rec.Reason,
		rec.CorrelationID,
		rec.CausationID,
		payload,
		rec.OccurredAt,
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT event_id, category, stream_id, stream_type, stream_version, event_type,
		actor_id, reason, correlation_id, causation_id, payload, occurred_at, recorded_at
	FROM audit_log
`

func (s *Store) ListByStream(ctx context.Context, streamID uuid.UUID) ([]audit.Record, error) {
	return s.query(ctx, selectColumns+` WHERE stream_id = $1 ORDER BY stream_version`, streamID)
}

func (s *Store) ListByActor(ctx context.Context, actorID string) ([]audit.Record, error) {
	return s.query(ctx, selectColumns+` WHERE actor_id = $1 ORDER BY recorded_at DESC`, actorID)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, selectColumns+` ORDER BY recorded_at DESC LIMIT $1`, limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]audit.Record, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec      audit.Record
			category string
			payload  []byte
		)
		if err := rows.Scan(
			&rec.EventID, &category, &rec.StreamID, &rec.StreamType, &rec.StreamVersion, &rec.EventType,
			&rec.ActorID, &rec.Reason, &rec.CorrelationID, &rec.CausationID, &payload, &rec.OccurredAt, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Category = audit.EventCategory(category)
		rec.Payload = payload
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}
