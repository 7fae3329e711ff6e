package auth

import (
	"context"
	"database/sql"
	"time"

	"crmbase.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Tenants() TenantStore             { return &tenantStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Roles() RoleStore                 { return &roleStore{db: s.db} }
func (s *PGStore) Permissions() PermissionStore     { return &permissionStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

// ProvisionTenant bootstraps a tenant atomically: the tenant row, the owner
// user, the OWNER role, its grants, and the owner's assignment either all
// land or none do.
func (s *PGStore) ProvisionTenant(ctx context.Context, tenant *Tenant, owner *User, ownerRole *Role, grantKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`insert into tenants(id, name, slug, status, created_at, updated_at) values($1,$2,$3,$4,$5,$6)`,
		tenant.ID, tenant.Name, tenant.Slug, tenant.Status, tenant.CreatedAt, tenant.UpdatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into users(id, tenant_id, email, password_hash, first_name, last_name, status, system_role, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		owner.ID, owner.TenantID, owner.Email, owner.PasswordHash, owner.FirstName, owner.LastName,
		owner.Status, owner.SystemRole, owner.CreatedAt, owner.UpdatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into roles(id, tenant_id, tenant_role, description, created_at, updated_at) values($1,$2,$3,$4,$5,$6)`,
		ownerRole.ID, ownerRole.TenantID, ownerRole.TenantRole, ownerRole.Description,
		ownerRole.CreatedAt, ownerRole.UpdatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into role_permissions(tenant_id, role_id, permission_id)
		 select $1, $2, id from permissions where key = any($3)`,
		ownerRole.TenantID, ownerRole.ID, grantKeys,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into user_roles(tenant_id, user_id, role_id, created_at) values($1,$2,$3,$4)`,
		owner.TenantID, owner.ID, ownerRole.ID, owner.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Tenant store --------------------------------------------------------------
type tenantStore struct{ db *sql.DB }

const tenantColumns = `id, name, slug, status, created_at, updated_at, deleted_at`

func scanTenant(row *sql.Row) (*Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *tenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(s.db.QueryRowContext(ctx,
		`select `+tenantColumns+` from tenants where id=$1`, id))
}

func (s *tenantStore) FindBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(s.db.QueryRowContext(ctx,
		`select `+tenantColumns+` from tenants where slug=$1`, slug))
}

func (s *tenantStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update tenants set status=$2, updated_at=now() where id=$1 and deleted_at is null`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// User store ----------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, status, system_role, last_login_at, created_at, updated_at, deleted_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Status, &u.SystemRole, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, tenantID, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where tenant_id=$1 and id=$2`, tenantID, id))
}

func (s *userStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where tenant_id=$1 and email=$2`, tenantID, email))
}

func (s *userStore) UpdateProfile(ctx context.Context, tenantID, id, firstName, lastName string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set first_name=$3, last_name=$4, updated_at=now()
		 where tenant_id=$1 and id=$2 and deleted_at is null
		 returning `+userColumns, tenantID, id, firstName, lastName))
}

func (s *userStore) UpdatePassword(ctx context.Context, tenantID, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$3, updated_at=now()
		 where tenant_id=$1 and id=$2 and deleted_at is null`, tenantID, id, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) MarkLastLogin(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at=now() where tenant_id=$1 and id=$2`, tenantID, id)
	return err
}

// Role store ----------------------------------------------------------------
type roleStore struct{ db *sql.DB }

func (s *roleStore) RoleIDsForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id from roles r
		 join user_roles ur on ur.role_id = r.id and ur.tenant_id = r.tenant_id
		 where ur.tenant_id=$1 and ur.user_id=$2 and r.deleted_at is null
		 order by r.created_at`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roleIDs = append(roleIDs, id)
	}
	return roleIDs, rows.Err()
}

func (s *roleStore) HasLivePermission(ctx context.Context, tenantID, userID, key string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`select exists(
		   select 1 from user_roles ur
		   join roles r on r.id = ur.role_id and r.tenant_id = ur.tenant_id
		   join role_permissions rp on rp.role_id = r.id and rp.tenant_id = r.tenant_id
		   join permissions p on p.id = rp.permission_id
		   where ur.tenant_id=$1 and ur.user_id=$2 and p.key=$3 and r.deleted_at is null
		 )`, tenantID, userID, key)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *roleStore) HasCoarseRole(ctx context.Context, tenantID, userID string, categories []TenantRole) (bool, error) {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	row := s.db.QueryRowContext(ctx,
		`select exists(
		   select 1 from user_roles ur
		   join roles r on r.id = ur.role_id and r.tenant_id = ur.tenant_id
		   where ur.tenant_id=$1 and ur.user_id=$2 and r.tenant_role = any($3) and r.deleted_at is null
		 )`, tenantID, userID, names)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Permission store ----------------------------------------------------------
type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, key, description) values($1,$2,$3) on conflict (key) do nothing`,
			p.ID, p.Key, p.Description,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) KeysForRoles(ctx context.Context, tenantID string, roleIDs []string) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`select distinct p.key from permissions p
		 join role_permissions rp on rp.permission_id = p.id
		 join roles r on r.id = rp.role_id and r.tenant_id = rp.tenant_id
		 where rp.tenant_id=$1 and rp.role_id = any($2) and r.deleted_at is null
		 order by p.key`, tenantID, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Refresh token store -------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

const refreshColumns = `id, tenant_id, user_id, token_hash, family_id, expires_at, created_at, created_by_ip, user_agent, revoked_at, revoked_by_ip, replaced_by_id`

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(`+refreshColumns+`)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,null,'','')`,
		tok.ID, tok.TenantID, tok.UserID, tok.TokenHash, tok.FamilyID,
		tok.ExpiresAt, tok.CreatedAt, tok.CreatedByIP, tok.UserAgent,
	)
	return err
}

// ConsumeForRotation revokes the record under a row lock with a conditional
// write. When two rotations race on the same hash, the second update finds
// revoked_at already set and fails, which is the reuse signal.
func (s *refreshTokenStore) ConsumeForRotation(ctx context.Context, tokenHash, tenantID, userID string, now time.Time, ip string) (*RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`select `+refreshColumns+` from refresh_tokens where token_hash=$1 for update`, tokenHash)

	var (
		tok          RefreshToken
		revokedByIP  sql.NullString
		replacedByID sql.NullString
	)
	if err := row.Scan(&tok.ID, &tok.TenantID, &tok.UserID, &tok.TokenHash, &tok.FamilyID,
		&tok.ExpiresAt, &tok.CreatedAt, &tok.CreatedByIP, &tok.UserAgent,
		&tok.RevokedAt, &revokedByIP, &replacedByID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	tok.RevokedByIP = revokedByIP.String
	tok.ReplacedByID = replacedByID.String

	if tok.TenantID != tenantID || tok.UserID != userID {
		return nil, ErrRefreshInvalid
	}
	if !tok.Active(now) {
		return nil, ErrRefreshInvalid
	}

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2, revoked_by_ip=$3 where id=$1 and revoked_at is null`,
		tok.ID, now, ip)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, ErrRefreshInvalid
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	tok.RevokedAt = &now
	tok.RevokedByIP = ip
	return &tok, nil
}

func (s *refreshTokenStore) LinkReplacement(ctx context.Context, tenantID, oldID, newID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set replaced_by_id=$3 where tenant_id=$1 and id=$2`, tenantID, oldID, newID)
	return err
}

func (s *refreshTokenStore) RevokeAllForUser(ctx context.Context, tenantID, userID, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=now(), revoked_by_ip=$3
		 where tenant_id=$1 and user_id=$2 and revoked_at is null`, tenantID, userID, ip)
	return err
}
