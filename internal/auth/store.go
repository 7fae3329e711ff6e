package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Tenants() TenantStore
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore

	// ProvisionTenant creates the tenant, its owner user, the OWNER role
	// granted grantKeys, and the owner's role assignment in one transaction.
	ProvisionTenant(ctx context.Context, tenant *Tenant, owner *User, ownerRole *Role, grantKeys []string) error
}

// TenantStore manages tenants.
type TenantStore interface {
	Find(ctx context.Context, id string) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// UserStore manages users within their tenant.
type UserStore interface {
	Find(ctx context.Context, tenantID, id string) (*User, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	UpdateProfile(ctx context.Context, tenantID, id, firstName, lastName string) (*User, error)
	UpdatePassword(ctx context.Context, tenantID, id, passwordHash string) error
	MarkLastLogin(ctx context.Context, tenantID, id string) error
}

// RoleStore manages roles, assignments, and live permission checks.
type RoleStore interface {
	RoleIDsForUser(ctx context.Context, tenantID, userID string) ([]string, error)

	// HasLivePermission reports whether a currently-assigned, non-deleted
	// role of the user grants key. Used by the permission gate's slow path.
	HasLivePermission(ctx context.Context, tenantID, userID, key string) (bool, error)

	// HasCoarseRole reports whether the user holds a non-deleted role of one
	// of the given categories. Backs the legacy compatibility bridge.
	HasCoarseRole(ctx context.Context, tenantID, userID string, categories []TenantRole) (bool, error)
}

// PermissionStore manages the global catalog and tenant-scoped grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	// KeysForRoles resolves the deduplicated permission keys granted to the
	// given roles, excluding soft-deleted roles. Order is unspecified.
	KeysForRoles(ctx context.Context, tenantID string, roleIDs []string) ([]string, error)
}

// RefreshTokenStore manages the refresh-record lifecycle. ConsumeForRotation
// is the race-sensitive operation: of two concurrent calls presenting the
// same hash, exactly one may succeed.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error

	// ConsumeForRotation looks up the record by hash and revokes it, all
	// inside one transaction guarded by "revoked_at is null". It fails with
	// ErrRefreshInvalid when the record is absent, already revoked, expired
	// at now, or owned by a different tenant/user than claimed.
	ConsumeForRotation(ctx context.Context, tokenHash, tenantID, userID string, now time.Time, ip string) (*RefreshToken, error)

	// LinkReplacement points a revoked record at its successor for audit.
	LinkReplacement(ctx context.Context, tenantID, oldID, newID string) error

	// RevokeAllForUser revokes every active record of the user (logout,
	// password change).
	RevokeAllForUser(ctx context.Context, tenantID, userID, ip string) error
}
