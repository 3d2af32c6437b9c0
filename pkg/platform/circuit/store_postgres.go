package circuit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore keeps one row per service in circuit_breaker_state.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, service string) (State, error) {
	var (
		st            State
		status        string
		lastFailureAt sql.NullTime
		nextRetryAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT service, status, failure_count, last_failure_at, next_retry_at, version
		FROM circuit_breaker_state
		WHERE service = $1
	`, service).Scan(&st.Service, &status, &st.FailureCount, &lastFailureAt, &nextRetryAt, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return closedState(service), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load circuit state: %w", err)
	}
	st.Status = Status(status)
	if lastFailureAt.Valid {
		t := lastFailureAt.Time
		st.LastFailureAt = &t
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		st.NextRetryAt = &t
	}
	return st, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, expected int64, next State) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO circuit_breaker_state
				(service, status, failure_count, last_failure_at, next_retry_at, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, NOW())
			ON CONFLICT (service) DO NOTHING
		`, next.Service, string(next.Status), next.FailureCount, next.LastFailureAt, next.NextRetryAt)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE circuit_breaker_state
			SET status = $2, failure_count = $3, last_failure_at = $4, next_retry_at = $5,
				version = version + 1, updated_at = NOW()
			WHERE service = $1 AND version = $6
		`, next.Service, string(next.Status), next.FailureCount, next.LastFailureAt, next.NextRetryAt, expected)
	}
	if err != nil {
		return false, fmt.Errorf("swap circuit state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap circuit state rows: %w", err)
	}
	return n == 1, nil
}
