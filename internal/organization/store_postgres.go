package organization

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"carebase/pkg/domain"
	"carebase/pkg/platform/sentinel"
	"carebase/pkg/platform/tx"
)

const orgColumns = `id, name, display_name, type, subdomain, timezone, external_id,
	path::text, parent_path::text, is_active, deleted, created_at, updated_at, deleted_at`

// PostgresStore keeps organizations in the organizations table with ltree
// paths; subtree queries use the GiST index on path.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, org Organization) (bool, error) {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO organizations (
			id, name, display_name, type, subdomain, timezone, external_id,
			path, parent_path, is_active, deleted, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::ltree, $9::ltree, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`,
		uuid.UUID(org.ID), org.Name, org.DisplayName, string(org.Type), org.Subdomain, org.Timezone,
		org.ExternalID, string(org.Path), pathArg(org.ParentPath), org.Active, org.Deleted,
		org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, fmt.Errorf("organization path %s: %w", org.Path, sentinel.ErrAlreadyExists)
		}
		return false, fmt.Errorf("insert organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.OrganizationID) (Organization, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, uuid.UUID(id))
	return scanOrganization(row)
}

func (s *PostgresStore) GetByPath(ctx context.Context, path domain.Path) (Organization, error) {
	row := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE path = $1::ltree`, string(path))
	return scanOrganization(row)
}

func (s *PostgresStore) Update(ctx context.Context, org Organization) error {
	res, err := tx.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE organizations SET
			name = $2, display_name = $3, subdomain = $4, timezone = $5, external_id = $6,
			is_active = $7, deleted = $8, updated_at = $9, deleted_at = $10
		WHERE id = $1
	`,
		uuid.UUID(org.ID), org.Name, org.DisplayName, org.Subdomain, org.Timezone, org.ExternalID,
		org.Active, org.Deleted, org.UpdatedAt, org.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
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

func (s *PostgresStore) ListDescendants(ctx context.Context, path domain.Path) ([]Organization, error) {
	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE path <@ $1::ltree AND path <> $1::ltree
		ORDER BY nlevel(path), path
	`, string(path))
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	defer rows.Close()
	var out []Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descendants: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ResolveExternalOrgID(ctx context.Context, id domain.OrganizationID) (string, error) {
	var external sql.NullString
	err := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT external_id FROM organizations WHERE id = $1`, uuid.UUID(id)).Scan(&external)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !external.Valid) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve external org id: %w", err)
	}
	return external.String, nil
}

func (s *PostgresStore) ResolveInternalOrgID(ctx context.Context, externalID string) (domain.OrganizationID, error) {
	var id uuid.UUID
	err := tx.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT id FROM organizations WHERE external_id = $1`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrganizationID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.OrganizationID{}, fmt.Errorf("resolve internal org id: %w", err)
	}
	return domain.OrganizationID(id), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row scanner) (Organization, error) {
	var (
		org        Organization
		id         uuid.UUID
		typ        string
		path       string
		parentPath sql.NullString
		externalID sql.NullString
		deletedAt  sql.NullTime
	)
	err := row.Scan(&id, &org.Name, &org.DisplayName, &typ, &org.Subdomain, &org.Timezone, &externalID,
		&path, &parentPath, &org.Active, &org.Deleted, &org.CreatedAt, &org.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Organization{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("scan organization: %w", err)
	}
	org.ID = domain.OrganizationID(id)
	org.Type = Type(typ)
	org.Path = domain.Path(path)
	if parentPath.Valid {
		p := domain.Path(parentPath.String)
		org.ParentPath = &p
	}
	if externalID.Valid {
		org.ExternalID = &externalID.String
	}
	if deletedAt.Valid {
		org.DeletedAt = &deletedAt.Time
	}
	return org, nil
}

func pathArg(p *domain.Path) any {
	if p == nil || *p == "" {
		return nil
	}
	return string(*p)
}
