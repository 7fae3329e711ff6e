package auth

import "context"

// Principal is the immutable per-request identity produced once by the
// authentication middleware and consumed read-only downstream.
type Principal struct {
	User   *User
	Claims *Claims

	permissions map[string]struct{}
}

// NewPrincipal builds a principal whose permission set is the snapshot
// embedded in the verified access claims.
func NewPrincipal(user *User, claims *Claims) Principal {
	set := make(map[string]struct{}, len(claims.PermissionKeys))
	for _, key := range claims.PermissionKeys {
		set[key] = struct{}{}
	}
	return Principal{User: user, Claims: claims, permissions: set}
}

// HasPermission consults the embedded snapshot only; the gate's slow path
// handles stale snapshots.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.permissions[key]
	return ok
}

// TenantID returns the verified tenant of the caller.
func (p Principal) TenantID() string {
	if p.Claims == nil {
		return ""
	}
	return p.Claims.TenantID
}

// Scope derives the caller's data-visibility scope.
func (p Principal) Scope() AccessScope {
	return ScopeFromClaims(p.Claims)
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
