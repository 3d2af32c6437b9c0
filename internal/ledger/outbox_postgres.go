package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carebase/pkg/platform/tx"
)

// PostgresOutbox keeps unpublished event ids in publish_outbox.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

func (o *PostgresOutbox) Add(ctx context.Context, due time.Time, eventIDs ...uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := tx.Executor(ctx, o.db).ExecContext(ctx, `
		INSERT INTO publish_outbox (event_id, attempts, enqueued_at, next_attempt_at)
		SELECT id, 0, NOW(), $2 FROM unnest($1::uuid[]) AS id
		ON CONFLICT (event_id) DO NOTHING
	`, pq.Array(idStrings(eventIDs)), due)
	if err != nil {
		return fmt.Errorf("add to outbox: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]uuid.UUID, error) {
	rows, err := tx.Executor(ctx, o.db).QueryContext(ctx, `
		UPDATE publish_outbox
		SET attempts = attempts + 1, next_attempt_at = $2
		WHERE event_id IN (
			SELECT event_id FROM publish_outbox
			WHERE next_attempt_at <= $1
			ORDER BY enqueued_at, event_id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan outbox id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

func (o *PostgresOutbox) Remove(ctx context.Context, eventIDs ...uuid.UUID) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := tx.Executor(ctx, o.db).ExecContext(ctx,
		`DELETE FROM publish_outbox WHERE event_id = ANY($1::uuid[])`, pq.Array(idStrings(eventIDs)))
	if err != nil {
		return fmt.Errorf("remove from outbox: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := tx.Executor(ctx, o.db).QueryRowContext(ctx, `SELECT count(*) FROM publish_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
