package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"crmbase.org/internal/ids"
)

// Service provides credential issuance/rotation, identity verification, and
// the permission checks consumed by the HTTP layer. All dependencies are
// injected; there is no package-level state.
type Service struct {
	store  Store
	signer *Signer
	hasher PasswordHasher
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(store Store, signer *Signer, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if signer == nil {
		return nil, errors.New("auth: signer is required")
	}
	svc := &Service{store: store, signer: signer, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureCatalog makes sure every known permission exists in storage.
func (s *Service) EnsureCatalog(ctx context.Context) error {
	return s.store.Permissions().Ensure(ctx, Catalog)
}

// TokenPair carries both credentials and their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Session is the result of register/login: the authenticated identity plus
// fresh credentials.
type Session struct {
	Tenant  *Tenant   `json:"tenant"`
	User    *User     `json:"user"`
	RoleIDs []string  `json:"role_ids"`
	Tokens  TokenPair `json:"tokens"`
}

// RegisterInput bootstraps a tenant with its owner account.
type RegisterInput struct {
	TenantName string
	TenantSlug string
	FirstName  string
	LastName   string
	Email      string
	Password   string
	IP         string
	UserAgent  string
}

// Register creates a tenant, its owner user and the OWNER role holding the
// full permission catalog, then issues the first credential pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	slug := strings.TrimSpace(strings.ToLower(in.TenantSlug))
	name := strings.TrimSpace(in.TenantName)
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if slug == "" || name == "" {
		return nil, fmt.Errorf("%w: tenant name and slug are required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}

	if _, err := s.store.Tenants().FindBySlug(ctx, slug); err == nil {
		return nil, fmt.Errorf("%w: tenant slug %s", ErrConflict, slug)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tenant := &Tenant{
		ID:        ids.New(),
		Name:      name,
		Slug:      slug,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := &User{
		ID:           ids.New(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Status:       UserStatusActive,
		SystemRole:   SystemRoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ownerRole := &Role{
		ID:          ids.New(),
		TenantID:    tenant.ID,
		TenantRole:  TenantRoleOwner,
		Description: "Tenant owner",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.ProvisionTenant(ctx, tenant, owner, ownerRole, AllPermissionKeys()); err != nil {
		return nil, err
	}

	roleIDs := []string{ownerRole.ID}
	pair, err := s.issuePair(ctx, owner, roleIDs, "", in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	return &Session{Tenant: tenant, User: owner, RoleIDs: roleIDs, Tokens: *pair}, nil
}

// LoginInput identifies a user within a tenant.
type LoginInput struct {
	TenantSlug string
	Email      string
	Password   string
	IP         string
	UserAgent  string
}

// Login authenticates credentials and issues a fresh pair. Every credential
// failure returns ErrInvalidCredentials without revealing which check failed;
// a suspended tenant is the one distinguishable case (403, not 401).
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	slug := strings.TrimSpace(strings.ToLower(in.TenantSlug))
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if slug == "" || email == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	tenant, err := s.store.Tenants().FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if tenant.DeletedAt != nil {
		return nil, ErrInvalidCredentials
	}
	if tenant.Status == TenantStatusSuspended {
		return nil, ErrTenantInactive
	}

	user, err := s.store.Users().FindByEmail(ctx, tenant.ID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Status != UserStatusActive || user.DeletedAt != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Verify(user.PasswordHash, in.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.store.Users().MarkLastLogin(ctx, tenant.ID, user.ID); err != nil {
		return nil, err
	}

	roleIDs, err := s.store.Roles().RoleIDsForUser(ctx, tenant.ID, user.ID)
	if err != nil {
		return nil, err
	}
	pair, err := s.issuePair(ctx, user, roleIDs, "", in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	return &Session{Tenant: tenant, User: user, RoleIDs: roleIDs, Tokens: *pair}, nil
}

// Refresh rotates a refresh credential. Roles and permissions are re-resolved
// from storage, not trusted from the old credential, so grant edits take
// effect here. The new record inherits the family id; the old record is
// revoked under a conditional write, which is what rejects replays of an
// already-rotated token.
func (s *Service) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*TokenPair, error) {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}

	now := s.now().UTC()
	record, err := s.store.RefreshTokens().ConsumeForRotation(
		ctx, HashToken(refreshToken), claims.TenantID, claims.UserID, now, ip)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) || errors.Is(err, ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	user, err := s.store.Users().Find(ctx, claims.TenantID, claims.UserID)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	if user.Status != UserStatusActive || user.DeletedAt != nil {
		return nil, ErrRefreshInvalid
	}

	roleIDs, err := s.store.Roles().RoleIDsForUser(ctx, claims.TenantID, claims.UserID)
	if err != nil {
		return nil, err
	}

	pair, newID, err := s.mintPair(ctx, user, roleIDs, record.FamilyID, ip, userAgent)
	if err != nil {
		return nil, err
	}
	if err := s.store.RefreshTokens().LinkReplacement(ctx, claims.TenantID, record.ID, newID); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes every active refresh record for the user.
func (s *Service) Logout(ctx context.Context, tenantID, userID, ip string) error {
	return s.store.RefreshTokens().RevokeAllForUser(ctx, tenantID, userID, ip)
}

// Me returns the caller's profile with current role assignments.
func (s *Service) Me(ctx context.Context, tenantID, userID string) (*User, []string, error) {
	user, err := s.store.Users().Find(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, err
	}
	roleIDs, err := s.store.Roles().RoleIDsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, roleIDs, nil
}

// UpdateProfile changes the caller's display names.
func (s *Service) UpdateProfile(ctx context.Context, tenantID, userID, firstName, lastName string) (*User, error) {
	return s.store.Users().UpdateProfile(ctx, tenantID, userID, strings.TrimSpace(firstName), strings.TrimSpace(lastName))
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every refresh record so stolen refresh tokens die with the old
// password.
func (s *Service) ChangePassword(ctx context.Context, tenantID, userID, current, next, ip string) error {
	user, err := s.store.Users().Find(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Verify(user.PasswordHash, current); err != nil {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, tenantID, userID, hash); err != nil {
		return err
	}
	return s.store.RefreshTokens().RevokeAllForUser(ctx, tenantID, userID, ip)
}

// AuthenticateToken verifies an access credential and loads the caller. The
// returned principal is the immutable request identity.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	claims, err := s.signer.VerifyAccess(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.store.Users().Find(ctx, claims.TenantID, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if user.Status != UserStatusActive || user.DeletedAt != nil {
		return Principal{}, ErrUserInactive
	}
	return NewPrincipal(user, claims), nil
}

// CheckTenant rejects requests against missing, soft-deleted, or suspended
// tenants. Deterministic for a given tenant state: calling it twice with the
// same credential yields the same decision.
func (s *Service) CheckTenant(ctx context.Context, tenantID string) error {
	tenant, err := s.store.Tenants().Find(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTenantInactive
		}
		return err
	}
	if tenant.DeletedAt != nil || tenant.Status == TenantStatusSuspended {
		return ErrTenantInactive
	}
	return nil
}

// ResolvePermissions maps role ids to the deduplicated, sorted key set
// granted by the tenant's non-deleted roles.
func (s *Service) ResolvePermissions(ctx context.Context, tenantID string, roleIDs []string) ([]string, error) {
	roleIDs = dedupeStrings(roleIDs)
	if len(roleIDs) == 0 {
		return nil, nil
	}
	keys, err := s.store.Permissions().KeysForRoles(ctx, tenantID, roleIDs)
	if err != nil {
		return nil, err
	}
	keys = dedupeStrings(keys)
	sort.Strings(keys)
	return keys, nil
}

// Can is the permission gate. Fast path: the snapshot embedded in the access
// credential. Slow path: a live lookup against current assignments, which
// picks up grants added since the credential was minted. The legacy bridge
// treats a non-deleted OWNER/ADMIN role as implicitly granting
// dashboard.view for tenants provisioned before that key existed; a one-time
// backfill at deploy time would retire the bridge.
func (s *Service) Can(ctx context.Context, principal Principal, key string) (bool, error) {
	if principal.HasPermission(key) {
		return true, nil
	}
	tenantID := principal.TenantID()
	userID := ""
	if principal.User != nil {
		userID = principal.User.ID
	}
	if tenantID == "" || userID == "" {
		return false, nil
	}
	ok, err := s.store.Roles().HasLivePermission(ctx, tenantID, userID, key)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if key == PermDashboardView {
		return s.store.Roles().HasCoarseRole(ctx, tenantID, userID, []TenantRole{TenantRoleOwner, TenantRoleAdmin})
	}
	return false, nil
}

// issuePair resolves the permission snapshot and mints a pair. An empty
// familyID starts a new token family (login/register); a non-empty one is
// inherited across a rotation.
func (s *Service) issuePair(ctx context.Context, user *User, roleIDs []string, familyID, ip, userAgent string) (*TokenPair, error) {
	pair, _, err := s.mintPair(ctx, user, roleIDs, familyID, ip, userAgent)
	return pair, err
}

func (s *Service) mintPair(ctx context.Context, user *User, roleIDs []string, familyID, ip, userAgent string) (*TokenPair, string, error) {
	permissionKeys, err := s.ResolvePermissions(ctx, user.TenantID, roleIDs)
	if err != nil {
		return nil, "", err
	}

	access, accessExp, err := s.signer.SignAccess(user.ID, user.TenantID, roleIDs, permissionKeys, user.SystemRole)
	if err != nil {
		return nil, "", err
	}
	refresh, refreshExp, err := s.signer.SignRefresh(user.ID, user.TenantID, roleIDs, user.SystemRole)
	if err != nil {
		return nil, "", err
	}

	if familyID == "" {
		familyID = ids.NewOpaque()
	}
	record := &RefreshToken{
		ID:          ids.New(),
		TenantID:    user.TenantID,
		UserID:      user.ID,
		TokenHash:   HashToken(refresh),
		FamilyID:    familyID,
		ExpiresAt:   refreshExp,
		CreatedAt:   s.now().UTC(),
		CreatedByIP: ip,
		UserAgent:   userAgent,
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return nil, "", err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, record.ID, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
