package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carebase/internal/router"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/platform/tx"
	"carebase/pkg/requestcontext"
)

// PostgresQueue stores pending follow-ups in cascade_queue. Claim uses
// FOR UPDATE SKIP LOCKED so several workers can drain concurrently.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, f router.FollowUp, reason string) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode follow-up: %w", err)
	}
	now := requestcontext.Now(ctx)
	_, err = tx.Executor(ctx, q.db).ExecContext(ctx, `
		INSERT INTO cascade_queue (id, follow_up, attempts, last_error, enqueued_at, next_attempt_at)
		VALUES ($1, $2, 0, $3, $4, $4)
	`, uuid.New(), raw, reason, now)
	if err != nil {
		return fmt.Errorf("enqueue follow-up: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Claim(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]PendingFollowUp, error) {
	rows, err := tx.Executor(ctx, q.db).QueryContext(ctx, `
		UPDATE cascade_queue
		SET attempts = attempts + 1, next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM cascade_queue
			WHERE next_attempt_at <= $1
			ORDER BY enqueued_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, follow_up, attempts, last_error, enqueued_at, next_attempt_at
	`, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim follow-ups: %w", err)
	}
	return scanPending(rows)
}

func (q *PostgresQueue) Complete(ctx context.Context, id uuid.UUID) error {
	res, err := tx.Executor(ctx, q.db).ExecContext(ctx, `DELETE FROM cascade_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete follow-up: %w", err)
	}
	return requireAffected(res)
}

func (q *PostgresQueue) Fail(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error {
	res, err := tx.Executor(ctx, q.db).ExecContext(ctx, `
		UPDATE cascade_queue SET last_error = $2, next_attempt_at = $3 WHERE id = $1
	`, id, reason, retryAt)
	if err != nil {
		return fmt.Errorf("fail follow-up: %w", err)
	}
	return requireAffected(res)
}

func (q *PostgresQueue) Pending(ctx context.Context) ([]PendingFollowUp, error) {
	rows, err := tx.Executor(ctx, q.db).QueryContext(ctx, `
		SELECT id, follow_up, attempts, last_error, enqueued_at, next_attempt_at
		FROM cascade_queue
		ORDER BY enqueued_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending follow-ups: %w", err)
	}
	return scanPending(rows)
}

func scanPending(rows *sql.Rows) ([]PendingFollowUp, error) {
	defer rows.Close()
	var out []PendingFollowUp
	for rows.Next() {
		var (
			item PendingFollowUp
			raw  []byte
		)
		if err := rows.Scan(&item.ID, &raw, &item.Attempts, &item.LastError, &item.EnqueuedAt, &item.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		if err := json.Unmarshal(raw, &item.FollowUp); err != nil {
			return nil, fmt.Errorf("decode follow-up %s: %w", item.ID, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow-ups: %w", err)
	}
	return out, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
