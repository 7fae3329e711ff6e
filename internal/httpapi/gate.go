package httpapi

import (
	"net/http"

	"crmbase.org/internal/auth"
)

// ensurePermission is the request-level permission gate: snapshot fast path
// first, live role lookup on miss. Writes the response itself on denial.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, key string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return false
	}
	allowed, err := a.auth.Can(r.Context(), principal, key)
	if err != nil {
		a.handleDomainError(w, r, err)
		return false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "forbidden", "permission denied: "+key)
		return false
	}
	return true
}
