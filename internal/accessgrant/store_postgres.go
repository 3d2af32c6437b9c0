package accessgrant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/platform/tx"
)

const grantColumns = `id, consultant_org_id, consultant_user_id, provider_org_id, scope, scope_id,
	authorization_type, legal_reference, granted_by, granted_at, expires_at, status,
	suspended_at, suspended_reason, revoked_at, revoked_reason, expired_at, updated_at`

// PostgresStore keeps grants in cross_tenant_access_grants.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, g Grant) (bool, error) {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO cross_tenant_access_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO NOTHING
	`, grantArgs(g)...)
	if err != nil {
		return false, fmt.Errorf("insert access grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.GrantID) (Grant, error) {
	return scanGrant(tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM cross_tenant_access_grants WHERE id = $1`, uuid.UUID(id)))
}

func (s *PostgresStore) Update(ctx context.Context, g Grant) error {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE cross_tenant_access_grants SET
			status = $2, suspended_at = $3, suspended_reason = $4,
			revoked_at = $5, revoked_reason = $6, expired_at = $7, updated_at = $8
		WHERE id = $1
	`, uuid.UUID(g.ID), string(g.Status), g.SuspendedAt, g.SuspendedReason,
		g.RevokedAt, g.RevokedReason, g.ExpiredAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update access grant: %w", err)
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

func (s *PostgresStore) ListBetween(ctx context.Context, consultant, provider domain.OrganizationID) ([]Grant, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT `+grantColumns+` FROM cross_tenant_access_grants
		WHERE consultant_org_id = $1 AND provider_org_id = $2
		ORDER BY granted_at
	`, uuid.UUID(consultant), uuid.UUID(provider))
	if err != nil {
		return nil, fmt.Errorf("list access grants: %w", err)
	}
	defer rows.Close()
	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func grantArgs(g Grant) []any {
	var consultantUser any
	if g.ConsultantUserID != nil {
		consultantUser = uuid.UUID(*g.ConsultantUserID)
	}
	return []any{
		uuid.UUID(g.ID), uuid.UUID(g.ConsultantOrgID), consultantUser, uuid.UUID(g.ProviderOrgID),
		string(g.Scope), g.ScopeID, g.AuthorizationType, g.LegalReference, g.GrantedBy, g.GrantedAt,
		g.ExpiresAt, string(g.Status), g.SuspendedAt, g.SuspendedReason, g.RevokedAt, g.RevokedReason,
		g.ExpiredAt, g.UpdatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(row scanner) (Grant, error) {
	var (
		g                        Grant
		id, consultant, provider uuid.UUID
		consultantUser, scopeID  uuid.NullUUID
		scope, status            string
		expiresAt, suspendedAt   sql.NullTime
		revokedAt, expiredAt     sql.NullTime
	)
	err := row.Scan(&id, &consultant, &consultantUser, &provider, &scope, &scopeID,
		&g.AuthorizationType, &g.LegalReference, &g.GrantedBy, &g.GrantedAt, &expiresAt, &status,
		&suspendedAt, &g.SuspendedReason, &revokedAt, &g.RevokedReason, &expiredAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("scan access grant: %w", err)
	}
	g.ID = domain.GrantID(id)
	g.ConsultantOrgID = domain.OrganizationID(consultant)
	g.ProviderOrgID = domain.OrganizationID(provider)
	if consultantUser.Valid {
		u := domain.UserID(consultantUser.UUID)
		g.ConsultantUserID = &u
	}
	if scopeID.Valid {
		g.ScopeID = &scopeID.UUID
	}
	g.Scope = Scope(scope)
	g.Status = Status(status)
	g.ExpiresAt = timePtr(expiresAt)
	g.SuspendedAt = timePtr(suspendedAt)
	g.RevokedAt = timePtr(revokedAt)
	g.ExpiredAt = timePtr(expiredAt)
	return g, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
