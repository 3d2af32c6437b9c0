package rbac

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

// nilOrg stands in for NULL organization ids in uniqueness indexes.
const nilOrg = "00000000-0000-0000-0000-000000000000"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) exec(ctx context.Context) tx.DBTX { return tx.Executor(ctx, s.db) }

func (s *PostgresStore) InsertPermission(ctx context.Context, p Permission) (bool, error) {
	res, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO permissions (id, applet, action, name, description, scope_type, requires_mfa, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(p.ID), p.Applet, p.Action, p.Name, p.Description, string(p.ScopeType), p.RequiresMFA, p.CreatedAt)
	return inserted(res, err, "permission")
}

const permissionColumns = `id, applet, action, name, description, scope_type, requires_mfa, created_at`

func (s *PostgresStore) GetPermission(ctx context.Context, id domain.PermissionID) (Permission, error) {
	return scanPermission(s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, uuid.UUID(id)))
}

func (s *PostgresStore) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name))
}

func (s *PostgresStore) InsertRole(ctx context.Context, r Role) (bool, error) {
	res, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO roles (id, name, description, organization_id, scope_path, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::ltree, false, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(r.ID), r.Name, r.Description, orgArg(r.OrganizationID), pathArg(r.ScopePath), r.CreatedAt)
	return inserted(res, err, "role")
}

const roleColumns = `id, name, description, organization_id, scope_path::text, deleted, created_at, updated_at, deleted_at`

func (s *PostgresStore) GetRole(ctx context.Context, id domain.RoleID) (Role, error) {
	return scanRole(s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, uuid.UUID(id)))
}

func (s *PostgresStore) GetRoleByName(ctx context.Context, name string, orgID *domain.OrganizationID) (Role, error) {
	return scanRole(s.exec(ctx).QueryRowContext(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE name = $1 AND COALESCE(organization_id, '`+nilOrg+`') = COALESCE($2::uuid, '`+nilOrg+`') AND NOT deleted
	`, name, orgArg(orgID)))
}

func (s *PostgresStore) UpdateRole(ctx context.Context, r Role) error {
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE roles SET name = $2, description = $3, deleted = $4, updated_at = $5, deleted_at = $6
		WHERE id = $1
	`, uuid.UUID(r.ID), r.Name, r.Description, r.Deleted, r.UpdatedAt, r.DeletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role name %s: %w", r.Name, sentinel.ErrAlreadyExists)
		}
		return fmt.Errorf("update role: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) GrantPermission(ctx context.Context, roleID domain.RoleID, permissionID domain.PermissionID) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, uuid.UUID(roleID), uuid.UUID(permissionID))
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokePermission(ctx context.Context, roleID domain.RoleID, permissionID domain.PermissionID) error {
	_, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		uuid.UUID(roleID), uuid.UUID(permissionID))
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRolePermissions(ctx context.Context, roleID domain.RoleID) ([]Permission, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT p.id, p.applet, p.action, p.name, p.description, p.scope_type, p.requires_mfa, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, uuid.UUID(roleID))
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RoleIDsWithinPath(ctx context.Context, path domain.Path) ([]domain.RoleID, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id FROM roles
		WHERE scope_path <@ $1::ltree AND NOT deleted
		ORDER BY id
	`, string(path))
	if err != nil {
		return nil, fmt.Errorf("list roles within path: %w", err)
	}
	defer rows.Close()
	var out []domain.RoleID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		out = append(out, domain.RoleID(id))
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertUser(ctx context.Context, u User) (bool, error) {
	res, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO users (id, email, name, organization_id, external_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(u.ID), u.Email, u.Name, orgArg(u.OrganizationID), u.ExternalID, u.Active, u.CreatedAt, u.UpdatedAt)
	return inserted(res, err, "user")
}

func (s *PostgresStore) GetUser(ctx context.Context, id domain.UserID) (User, error) {
	var (
		u          User
		uid        uuid.UUID
		org        uuid.NullUUID
		externalID sql.NullString
	)
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT id, email, name, organization_id, external_id, is_active, created_at, updated_at
		FROM users WHERE id = $1
	`, uuid.UUID(id)).Scan(&uid, &u.Email, &u.Name, &org, &externalID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, sentinel.ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.ID = domain.UserID(uid)
	u.OrganizationID = orgFrom(org)
	if externalID.Valid {
		u.ExternalID = &externalID.String
	}
	return u, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u User) error {
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE users SET email = $2, name = $3, external_id = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`, uuid.UUID(u.ID), u.Email, u.Name, u.ExternalID, u.Active, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) AssignRole(ctx context.Context, ur UserRole) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, organization_id, scope_path, assigned_at)
		VALUES ($1, $2, $3, $4::ltree, $5)
		ON CONFLICT DO NOTHING
	`, uuid.UUID(ur.UserID), uuid.UUID(ur.RoleID), orgArg(ur.OrganizationID), pathArg(ur.ScopePath), ur.AssignedAt)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRole(ctx context.Context, userID domain.UserID, roleID domain.RoleID, orgID *domain.OrganizationID) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		DELETE FROM user_roles
		WHERE user_id = $1 AND role_id = $2
		  AND COALESCE(organization_id, '`+nilOrg+`') = COALESCE($3::uuid, '`+nilOrg+`')
	`, uuid.UUID(userID), uuid.UUID(roleID), orgArg(orgID))
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveRoleAssignments(ctx context.Context, roleID domain.RoleID) error {
	if _, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, uuid.UUID(roleID)); err != nil {
		return fmt.Errorf("remove role assignments: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUserRoles(ctx context.Context, userID domain.UserID) ([]UserRole, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT user_id, role_id, organization_id, scope_path::text, assigned_at
		FROM user_roles WHERE user_id = $1
		ORDER BY assigned_at
	`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()
	var out []UserRole
	for rows.Next() {
		var (
			ur        UserRole
			uid, rid  uuid.UUID
			org       uuid.NullUUID
			scopePath sql.NullString
		)
		if err := rows.Scan(&uid, &rid, &org, &scopePath, &ur.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		ur.UserID, ur.RoleID = domain.UserID(uid), domain.RoleID(rid)
		ur.OrganizationID = orgFrom(org)
		ur.ScopePath = pathFrom(scopePath)
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID domain.UserID) ([]Grant, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT r.id, r.name, ur.organization_id, ur.scope_path::text,
		       p.id, p.applet, p.action, p.name, p.description, p.scope_type, p.requires_mfa, p.created_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND NOT r.deleted
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
	`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	var out []Grant
	for rows.Next() {
		var (
			g         Grant
			rid, pid  uuid.UUID
			org       uuid.NullUUID
			scopePath sql.NullString
			scopeType string
		)
		if err := rows.Scan(&rid, &g.RoleName, &org, &scopePath,
			&pid, &g.Permission.Applet, &g.Permission.Action, &g.Permission.Name, &g.Permission.Description,
			&scopeType, &g.Permission.RequiresMFA, &g.Permission.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.RoleID = domain.RoleID(rid)
		g.OrganizationID = orgFrom(org)
		g.ScopePath = pathFrom(scopePath)
		g.Permission.ID = domain.PermissionID(pid)
		g.Permission.ScopeType = ScopeType(scopeType)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveExternalUserID(ctx context.Context, id domain.UserID) (string, error) {
	var external sql.NullString
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT external_id FROM users WHERE id = $1`, uuid.UUID(id)).Scan(&external)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !external.Valid) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve external user id: %w", err)
	}
	return external.String, nil
}

func (s *PostgresStore) ResolveInternalUserID(ctx context.Context, externalID string) (domain.UserID, error) {
	var id uuid.UUID
	err := s.exec(ctx).QueryRowContext(ctx, `SELECT id FROM users WHERE external_id = $1`, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.UserID{}, fmt.Errorf("resolve internal user id: %w", err)
	}
	return domain.UserID(id), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPermission(row scanner) (Permission, error) {
	var (
		p         Permission
		id        uuid.UUID
		scopeType string
	)
	err := row.Scan(&id, &p.Applet, &p.Action, &p.Name, &p.Description, &scopeType, &p.RequiresMFA, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Permission{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Permission{}, fmt.Errorf("scan permission: %w", err)
	}
	p.ID = domain.PermissionID(id)
	p.ScopeType = ScopeType(scopeType)
	return p, nil
}

func scanRole(row scanner) (Role, error) {
	var (
		r         Role
		id        uuid.UUID
		org       uuid.NullUUID
		scopePath sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&id, &r.Name, &r.Description, &org, &scopePath, &r.Deleted, &r.CreatedAt, &r.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Role{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("scan role: %w", err)
	}
	r.ID = domain.RoleID(id)
	r.OrganizationID = orgFrom(org)
	r.ScopePath = pathFrom(scopePath)
	if deletedAt.Valid {
		r.DeletedAt = &deletedAt.Time
	}
	return r, nil
}

func inserted(res sql.Result, err error, what string) (bool, error) {
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%s: %w", what, sentinel.ErrAlreadyExists)
		}
		return false, fmt.Errorf("insert %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func orgArg(id *domain.OrganizationID) any {
	if id == nil {
		return nil
	}
	return uuid.UUID(*id)
}

func orgFrom(n uuid.NullUUID) *domain.OrganizationID {
	if !n.Valid {
		return nil
	}
	id := domain.OrganizationID(n.UUID)
	return &id
}

func pathArg(p *domain.Path) any {
	if p == nil || *p == "" {
		return nil
	}
	return string(*p)
}

func pathFrom(n sql.NullString) *domain.Path {
	if !n.Valid {
		return nil
	}
	p := domain.Path(n.String)
	return &p
}
