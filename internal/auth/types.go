package auth

import "time"

// SystemRole separates platform operators from ordinary tenant users.
type SystemRole string

const (
	SystemRoleUser  SystemRole = "USER"
	SystemRoleAdmin SystemRole = "SYSTEM_ADMIN"
)

// TenantRole is the tenant-scoped role category. Each tenant has at most one
// role per category.
type TenantRole string

const (
	TenantRoleOwner    TenantRole = "OWNER"
	TenantRoleAdmin    TenantRole = "ADMIN"
	TenantRoleEmployee TenantRole = "EMPLOYEE"
)

const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"

	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// Tenant is the organization boundary; every business row hangs off one.
type Tenant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// User belongs to exactly one tenant.
type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Status       string     `json:"status"`
	SystemRole   SystemRole `json:"system_role"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Role is a tenant-scoped grant container, soft-deletable.
type Role struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	TenantRole  TenantRole `json:"tenant_role"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// Permission is a global catalog entry identified by a stable key.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RolePermission links a role to a permission within a tenant.
type RolePermission struct {
	TenantID     string `json:"tenant_id"`
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// UserRole assigns a role to a user within a tenant.
type UserRole struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshToken is the server-side record backing a refresh credential. Only a
// SHA-256 hash of the signed token is stored. FamilyID is shared by every
// token descended from one login; a revoked record stays revoked forever.
type RefreshToken struct {
	ID           string
	TenantID     string
	UserID       string
	TokenHash    string
	FamilyID     string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	CreatedByIP  string
	UserAgent    string
	RevokedAt    *time.Time
	RevokedByIP  string
	ReplacedByID string
}

// Active reports whether the record can still mint successors at the given
// instant.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
