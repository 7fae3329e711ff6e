package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"crmbase.org/internal/ids"
)

// stubStore is an in-memory Store for service tests.
type stubStore struct {
	mu        sync.Mutex
	tenants   map[string]*Tenant
	users     map[string]*User
	roles     map[string]*Role
	userRoles []UserRole
	rolePerms map[string][]string
	refresh   map[string]*RefreshToken // keyed by token hash
	catalog   map[string]Permission
}

func newStubStore() *stubStore {
	return &stubStore{
		tenants:   map[string]*Tenant{},
		users:     map[string]*User{},
		roles:     map[string]*Role{},
		rolePerms: map[string][]string{},
		refresh:   map[string]*RefreshToken{},
		catalog:   map[string]Permission{},
	}
}

func (s *stubStore) Tenants() TenantStore             { return s }
func (s *stubStore) Users() UserStore                 { return stubUserStore{s} }
func (s *stubStore) Roles() RoleStore                 { return s }
func (s *stubStore) Permissions() PermissionStore     { return s }
func (s *stubStore) RefreshTokens() RefreshTokenStore { return s }

func (s *stubStore) ProvisionTenant(_ context.Context, tenant *Tenant, owner *User, ownerRole *Role, grantKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant
	s.users[owner.ID] = owner
	s.roles[ownerRole.ID] = ownerRole
	s.rolePerms[ownerRole.ID] = append([]string(nil), grantKeys...)
	s.userRoles = append(s.userRoles, UserRole{TenantID: tenant.ID, UserID: owner.ID, RoleID: ownerRole.ID})
	return nil
}

func (s *stubStore) Find(ctx context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, ErrNotFound
}

func (s *stubStore) FindBySlug(_ context.Context, slug string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *stubStore) findUser(tenantID, id string) (*User, error) {
	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return u, nil
}

// stubUserStore exists because TenantStore and UserStore both declare Find
// with different arities.
type stubUserStore struct{ *stubStore }

func (s stubUserStore) Find(_ context.Context, tenantID, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findUser(tenantID, id)
}

func (s stubUserStore) FindByEmail(_ context.Context, tenantID, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (s stubUserStore) UpdateProfile(_ context.Context, tenantID, id, firstName, lastName string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.findUser(tenantID, id)
	if err != nil {
		return nil, err
	}
	u.FirstName, u.LastName = firstName, lastName
	return u, nil
}

func (s stubUserStore) UpdatePassword(_ context.Context, tenantID, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.findUser(tenantID, id)
	if err != nil {
		return err
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s stubUserStore) MarkLastLogin(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.findUser(tenantID, id)
	if err != nil {
		return err
	}
	now := time.Now()
	u.LastLoginAt = &now
	return nil
}

func (s *stubStore) RoleIDsForUser(_ context.Context, tenantID, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ur := range s.userRoles {
		if ur.TenantID == tenantID && ur.UserID == userID {
			if r, ok := s.roles[ur.RoleID]; ok && r.DeletedAt == nil {
				out = append(out, ur.RoleID)
			}
		}
	}
	return out, nil
}

func (s *stubStore) HasLivePermission(ctx context.Context, tenantID, userID, key string) (bool, error) {
	roleIDs, _ := s.RoleIDsForUser(ctx, tenantID, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range roleIDs {
		for _, k := range s.rolePerms[id] {
			if k == key {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *stubStore) HasCoarseRole(ctx context.Context, tenantID, userID string, categories []TenantRole) (bool, error) {
	roleIDs, _ := s.RoleIDsForUser(ctx, tenantID, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range roleIDs {
		for _, c := range categories {
			if s.roles[id].TenantRole == c {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *stubStore) Ensure(_ context.Context, perms []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, ok := s.catalog[p.Key]; !ok {
			s.catalog[p.Key] = p
		}
	}
	return nil
}

func (s *stubStore) KeysForRoles(_ context.Context, tenantID string, roleIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var keys []string
	for _, id := range roleIDs {
		r, ok := s.roles[id]
		if !ok || r.TenantID != tenantID || r.DeletedAt != nil {
			continue
		}
		for _, k := range s.rolePerms[id] {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *stubStore) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	s.refresh[tok.TokenHash] = tok
	return nil
}

func (s *stubStore) ConsumeForRotation(_ context.Context, tokenHash, tenantID, userID string, now time.Time, ip string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.refresh[tokenHash]
	if !ok {
		return nil, ErrRefreshInvalid
	}
	if tok.TenantID != tenantID || tok.UserID != userID || !tok.Active(now) {
		return nil, ErrRefreshInvalid
	}
	tok.RevokedAt = &now
	tok.RevokedByIP = ip
	cp := *tok
	return &cp, nil
}

func (s *stubStore) LinkReplacement(_ context.Context, tenantID, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.refresh {
		if tok.TenantID == tenantID && tok.ID == oldID {
			tok.ReplacedByID = newID
		}
	}
	return nil
}

func (s *stubStore) RevokeAllForUser(_ context.Context, tenantID, userID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, tok := range s.refresh {
		if tok.TenantID == tenantID && tok.UserID == userID && tok.RevokedAt == nil {
			tok.RevokedAt = &now
			tok.RevokedByIP = ip
		}
	}
	return nil
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	signer := newTestSigner(t)
	svc, err := NewService(store, signer, NewPasswordHasher(4))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func register(t *testing.T, svc *Service) *Session {
	t.Helper()
	sess, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "Acme",
		TenantSlug: "acme",
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@acme.test",
		Password:   "correct horse",
		IP:         "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return sess
}

func TestRegisterGrantsFullCatalog(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	if sess.Tenant.Slug != "acme" || sess.User.Email != "ada@acme.test" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	claims, err := svc.signer.VerifyAccess(sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if len(claims.PermissionKeys) != len(Catalog) {
		t.Fatalf("owner snapshot has %d keys, want %d", len(claims.PermissionKeys), len(Catalog))
	}
	if !claims.HasPermission(PermPlanManage) {
		t.Fatalf("owner missing %s", PermPlanManage)
	}
}

func TestRegisterDuplicateSlug(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	register(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		TenantName: "Other", TenantSlug: "acme",
		Email: "bob@other.test", Password: "hunter2222",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	register(t, svc)

	cases := []LoginInput{
		{TenantSlug: "acme", Email: "ada@acme.test", Password: "wrong"},
		{TenantSlug: "acme", Email: "nobody@acme.test", Password: "correct horse"},
		{TenantSlug: "missing", Email: "ada@acme.test", Password: "correct horse"},
	}
	for i, in := range cases {
		if _, err := svc.Login(context.Background(), in); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("case %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
}

func TestLoginSuspendedTenant(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	if err := store.UpdateStatus(context.Background(), sess.Tenant.ID, TenantStatusSuspended); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	_, err := svc.Login(context.Background(), LoginInput{
		TenantSlug: "acme", Email: "ada@acme.test", Password: "correct horse",
	})
	if !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive, got %v", err)
	}
}

func TestRefreshRotationRevokesOldToken(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	old := sess.Tokens.RefreshToken
	pair, err := svc.Refresh(context.Background(), old, "10.0.0.2", "test-agent")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken == old {
		t.Fatalf("rotation must mint a new refresh token")
	}

	// Replaying the consumed token must fail.
	if _, err := svc.Refresh(context.Background(), old, "10.0.0.2", "test-agent"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid on replay, got %v", err)
	}

	oldRec := store.refresh[HashToken(old)]
	newRec := store.refresh[HashToken(pair.RefreshToken)]
	if oldRec == nil || newRec == nil {
		t.Fatalf("expected both records to exist")
	}
	if oldRec.RevokedAt == nil {
		t.Fatalf("old record not revoked")
	}
	if oldRec.ReplacedByID != newRec.ID {
		t.Fatalf("old record not linked to successor")
	}
	if newRec.FamilyID != oldRec.FamilyID {
		t.Fatalf("rotation must stay within the token family")
	}
}

func TestRefreshPicksUpGrantChanges(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	// Shrink the owner role's grants after login. The old access token still
	// carries the full snapshot, but rotation re-resolves from storage.
	roleID := sess.RoleIDs[0]
	store.mu.Lock()
	store.rolePerms[roleID] = []string{PermDashboardView}
	store.mu.Unlock()

	pair, err := svc.Refresh(context.Background(), sess.Tokens.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := svc.signer.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if len(claims.PermissionKeys) != 1 || claims.PermissionKeys[0] != PermDashboardView {
		t.Fatalf("expected re-resolved snapshot, got %v", claims.PermissionKeys)
	}
}

func TestLogoutRevokesAllSessions(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	if err := svc.Logout(context.Background(), sess.Tenant.ID, sess.User.ID, "10.0.0.3"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), sess.Tokens.RefreshToken, "", ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid after logout, got %v", err)
	}
}

func TestChangePasswordRevokesRefreshTokens(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	err := svc.ChangePassword(context.Background(), sess.Tenant.ID, sess.User.ID, "wrong", "new password 1", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for wrong current password, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), sess.Tenant.ID, sess.User.ID, "correct horse", "new password 1", ""); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), sess.Tokens.RefreshToken, "", ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected refresh revoked after password change, got %v", err)
	}

	// New password works, old one does not.
	if _, err := svc.Login(context.Background(), LoginInput{TenantSlug: "acme", Email: "ada@acme.test", Password: "correct horse"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted")
	}
	if _, err := svc.Login(context.Background(), LoginInput{TenantSlug: "acme", Email: "ada@acme.test", Password: "new password 1"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAuthenticateToken(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	principal, err := svc.AuthenticateToken(context.Background(), sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}
	if principal.TenantID() != sess.Tenant.ID {
		t.Fatalf("unexpected tenant: %s", principal.TenantID())
	}

	if _, err := svc.AuthenticateToken(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	sess.User.Status = UserStatusInactive
	if _, err := svc.AuthenticateToken(context.Background(), sess.Tokens.AccessToken); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestCheckTenant(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	if err := svc.CheckTenant(context.Background(), sess.Tenant.ID); err != nil {
		t.Fatalf("CheckTenant active: %v", err)
	}
	if err := svc.CheckTenant(context.Background(), "missing"); !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive for missing tenant, got %v", err)
	}

	store.UpdateStatus(context.Background(), sess.Tenant.ID, TenantStatusSuspended)
	if err := svc.CheckTenant(context.Background(), sess.Tenant.ID); !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive for suspended tenant, got %v", err)
	}
}

func TestCanGateFastAndSlowPaths(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	principal, err := svc.AuthenticateToken(context.Background(), sess.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}

	// Fast path: key is in the snapshot.
	ok, err := svc.Can(context.Background(), principal, PermLeadCreate)
	if err != nil || !ok {
		t.Fatalf("Can fast path: ok=%v err=%v", ok, err)
	}

	// Slow path: mint a stale snapshot without the key, then grant it live.
	roleID := sess.RoleIDs[0]
	store.mu.Lock()
	store.rolePerms[roleID] = []string{PermLeadView}
	store.mu.Unlock()

	stale, _, err := svc.signer.SignAccess(sess.User.ID, sess.Tenant.ID, sess.RoleIDs, []string{PermLeadView}, SystemRoleUser)
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}
	stalePrincipal, err := svc.AuthenticateToken(context.Background(), stale)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}

	ok, err = svc.Can(context.Background(), stalePrincipal, PermLeadCreate)
	if err != nil || ok {
		t.Fatalf("expected denial before live grant: ok=%v err=%v", ok, err)
	}

	store.mu.Lock()
	store.rolePerms[roleID] = []string{PermLeadView, PermLeadCreate}
	store.mu.Unlock()

	ok, err = svc.Can(context.Background(), stalePrincipal, PermLeadCreate)
	if err != nil || !ok {
		t.Fatalf("expected live lookup to grant: ok=%v err=%v", ok, err)
	}
}

func TestCanDashboardLegacyBridge(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	// Strip every explicit grant. The OWNER category alone must still grant
	// dashboard.view, and only that key.
	roleID := sess.RoleIDs[0]
	store.mu.Lock()
	store.rolePerms[roleID] = nil
	store.mu.Unlock()

	bare, _, err := svc.signer.SignAccess(sess.User.ID, sess.Tenant.ID, sess.RoleIDs, nil, SystemRoleUser)
	if err != nil {
		t.Fatalf("SignAccess: %v", err)
	}
	principal, err := svc.AuthenticateToken(context.Background(), bare)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}

	ok, err := svc.Can(context.Background(), principal, PermDashboardView)
	if err != nil || !ok {
		t.Fatalf("legacy bridge should grant dashboard.view: ok=%v err=%v", ok, err)
	}
	ok, err = svc.Can(context.Background(), principal, PermLeadCreate)
	if err != nil || ok {
		t.Fatalf("legacy bridge must not widen beyond dashboard.view: ok=%v err=%v", ok, err)
	}
}

func TestResolvePermissionsDeduplicates(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	sess := register(t, svc)

	roleID := sess.RoleIDs[0]
	keys, err := svc.ResolvePermissions(context.Background(), sess.Tenant.ID, []string{roleID, roleID, "", roleID})
	if err != nil {
		t.Fatalf("ResolvePermissions: %v", err)
	}
	if len(keys) != len(Catalog) {
		t.Fatalf("expected %d deduplicated keys, got %d", len(Catalog), len(keys))
	}
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("keys must be sorted: %v", keys)
	}
}
