package httpapi

import (
	"net/http"
	"strings"

	"crmbase.org/internal/auth"
)

const tenantHeader = "X-Tenant-ID"

// withTenantGuard pins the request tenant to the verified claim. It runs
// after authn, never mutates the request identity, and is deterministic:
// the same credential and tenant state always yield the same decision.
func (a *API) withTenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			// Public paths carry no principal; nothing to guard.
			next.ServeHTTP(w, r)
			return
		}

		if claimed := strings.TrimSpace(r.Header.Get(tenantHeader)); claimed != "" && claimed != principal.TenantID() {
			a.handleDomainError(w, r, auth.ErrCrossTenant)
			return
		}

		if err := a.auth.CheckTenant(r.Context(), principal.TenantID()); err != nil {
			a.handleDomainError(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}
