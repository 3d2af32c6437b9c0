package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	dErrors "carebase/pkg/domain-errors"
	"carebase/pkg/platform/sentinel"
	txcontext "carebase/pkg/platform/tx"
	"carebase/pkg/requestcontext"
)

const pgUniqueViolation = "23505"

// PostgresStore persists events in domain_events. All statements join the
// transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, ev NewEvent) (Event, error) {
	if err := ValidateNew(ev); err != nil {
		return Event{}, err
	}
	stored := newEvent(ev, 0, requestcontext.Now(ctx))
	metadata, err := json.Marshal(stored.Metadata)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event metadata: %w", err)
	}

	err = txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO domain_events (
			id, stream_id, stream_type, stream_version, event_type, payload, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING sequence
	`,
		stored.ID,
		stored.StreamID,
		string(stored.StreamType),
		stored.StreamVersion,
		string(stored.EventType),
		[]byte(stored.Payload),
		metadata,
		stored.CreatedAt,
	).Scan(&stored.Sequence)
	if err != nil {
		if isUniqueViolation(err) {
			return Event{}, dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConcurrencyConflict,
				fmt.Sprintf("stream %s/%s already has version %d", ev.StreamType, ev.StreamID, ev.StreamVersion))
		}
		return Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return stored, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const eventColumns = `
	SELECT id, sequence, stream_id, stream_type, stream_version, event_type, payload, metadata,
		created_at, processed_at, processing_error, retry_count
	FROM domain_events
`

func (s *PostgresStore) Get(ctx context.Context, eventID uuid.UUID) (Event, error) {
	events, err := s.query(ctx, eventColumns+` WHERE id = $1`, eventID)
	if err != nil {
		return Event{}, err
	}
	if len(events) == 0 {
		return Event{}, sentinel.ErrNotFound
	}
	return events[0], nil
}

func (s *PostgresStore) ListByStream(ctx context.Context, streamID uuid.UUID, streamType StreamType) ([]Event, error) {
	return s.query(ctx, eventColumns+`
		WHERE stream_id = $1 AND stream_type = $2
		ORDER BY stream_version
	`, streamID, string(streamType))
}

func (s *PostgresStore) ListByStreamID(ctx context.Context, streamID uuid.UUID) ([]Event, error) {
	return s.query(ctx, eventColumns+` WHERE stream_id = $1 ORDER BY sequence`, streamID)
}

func (s *PostgresStore) ListBySequenceRange(ctx context.Context, fromSeq, toSeq int64) ([]Event, error) {
	return s.query(ctx, eventColumns+`
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence
	`, fromSeq, toSeq)
}

func (s *PostgresStore) ListByCorrelationID(ctx context.Context, correlationID string) ([]Event, error) {
	if correlationID == "" {
		return nil, nil
	}
	return s.query(ctx, eventColumns+`
		WHERE metadata->>'correlation_id' = $1
		ORDER BY sequence
	`, correlationID)
}

func (s *PostgresStore) ListByTypePrefix(ctx context.Context, prefix string, page Page) ([]Event, error) {
	order := "ASC"
	if page.Newest {
		order = "DESC"
	}
	limit := any(nil)
	if page.Limit > 0 {
		limit = page.Limit
	}
	return s.query(ctx, eventColumns+`
		WHERE starts_with(event_type, $1)
		ORDER BY sequence `+order+`
		LIMIT $2 OFFSET $3
	`, prefix, limit, page.Offset)
}

func (s *PostgresStore) ListUnprocessed(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, eventColumns+`
		WHERE processed_at IS NULL
		ORDER BY sequence
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM domain_events
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last sequence: %w", err)
	}
	return seq, nil
}

func (s *PostgresStore) StreamVersion(ctx context.Context, streamID uuid.UUID, streamType StreamType) (int, error) {
	var v int
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(stream_version), 0)
		FROM domain_events
		WHERE stream_id = $1 AND stream_type = $2
	`, streamID, string(streamType)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) MaxProcessedVersion(ctx context.Context, streamID uuid.UUID, streamType StreamType) (int, error) {
	var v int
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(MAX(stream_version), 0)
		FROM domain_events
		WHERE stream_id = $1 AND stream_type = $2 AND processed_at IS NOT NULL
	`, streamID, string(streamType)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read processed version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE domain_events
		SET processed_at = $2, processing_error = NULL
		WHERE id = $1
	`, eventID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, eventID uuid.UUID, reason string) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE domain_events
		SET processed_at = NULL, processing_error = $2, retry_count = retry_count + 1
		WHERE id = $1
	`, eventID, reason)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Stats(ctx context.Context) ([]StreamTypeStats, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT stream_type,
			COUNT(*),
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND processing_error IS NOT NULL),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND processing_error IS NULL)
		FROM domain_events
		GROUP BY stream_type
		ORDER BY stream_type
	`)
	if err != nil {
		return nil, fmt.Errorf("query event stats: %w", err)
	}
	defer rows.Close()

	var out []StreamTypeStats
	for rows.Next() {
		var (
			st  StreamTypeStats
			typ string
		)
		if err := rows.Scan(&typ, &st.Total, &st.Processed, &st.Failed, &st.Pending); err != nil {
			return nil, fmt.Errorf("scan event stats: %w", err)
		}
		st.StreamType = StreamType(typ)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query domain events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e           Event
			streamType  string
			eventType   string
			payload     []byte
			metadata    []byte
			processedAt sql.NullTime
			procErr     sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Sequence, &e.StreamID, &streamType, &e.StreamVersion, &eventType,
			&payload, &metadata, &e.CreatedAt, &processedAt, &procErr, &e.RetryCount,
		); err != nil {
			return nil, fmt.Errorf("scan domain event: %w", err)
		}
		e.StreamType = StreamType(streamType)
		e.EventType = EventType(eventType)
		e.Payload = payload
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		if processedAt.Valid {
			t := processedAt.Time.UTC()
			e.ProcessedAt = &t
		}
		if procErr.Valid {
			msg := procErr.String
			e.ProcessingError = &msg
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain events: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
