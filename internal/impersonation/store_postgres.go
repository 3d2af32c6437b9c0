package impersonation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/platform/tx"
)

const sessionColumns = `id, super_admin_id, target_user_id, target_org_id, reason, status,
	started_at, expires_at, renewals, ended_at, ended_reason`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, s Session) (bool, error) {
	res, err := tx.Executor(ctx, p.db).ExecContext(ctx, `
		INSERT INTO impersonation_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(s.ID), uuid.UUID(s.SuperAdminID), uuid.UUID(s.TargetUserID), uuid.UUID(s.TargetOrgID),
		s.Reason, string(s.Status), s.StartedAt, s.ExpiresAt, s.Renewals, s.EndedAt, s.EndedReason)
	if err != nil {
		return false, fmt.Errorf("insert impersonation session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresStore) Get(ctx context.Context, id domain.SessionID) (Session, error) {
	return scanSession(tx.Executor(ctx, p.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM impersonation_sessions WHERE id = $1`, uuid.UUID(id)))
}

func (p *PostgresStore) Update(ctx context.Context, s Session) error {
	res, err := tx.Executor(ctx, p.db).ExecContext(ctx, `
		UPDATE impersonation_sessions
		SET status = $2, expires_at = $3, renewals = $4, ended_at = $5, ended_reason = $6
		WHERE id = $1
	`, uuid.UUID(s.ID), string(s.Status), s.ExpiresAt, s.Renewals, s.EndedAt, s.EndedReason)
	if err != nil {
		return fmt.Errorf("update impersonation session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAdmin(ctx context.Context, adminID domain.UserID) ([]Session, error) {
	rows, err := tx.Executor(ctx, p.db).QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM impersonation_sessions
		WHERE super_admin_id = $1
		ORDER BY started_at
	`, uuid.UUID(adminID))
	if err != nil {
		return nil, fmt.Errorf("list impersonation sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s                    Session
		id, admin, user, org uuid.UUID
		status               string
		endedAt              sql.NullTime
	)
	err := row.Scan(&id, &admin, &user, &org, &s.Reason, &status,
		&s.StartedAt, &s.ExpiresAt, &s.Renewals, &endedAt, &s.EndedReason)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan impersonation session: %w", err)
	}
	s.ID = domain.SessionID(id)
	s.SuperAdminID = domain.UserID(admin)
	s.TargetUserID = domain.UserID(user)
	s.TargetOrgID = domain.OrganizationID(org)
	s.Status = Status(status)
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return s, nil
}
