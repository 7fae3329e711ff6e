package httpapi

import (
	"net/http"
	"strings"

	"crmbase.org/internal/audit"
	"crmbase.org/internal/auth"
)

type registerRequest struct {
	TenantName string `json:"tenant_name"`
	TenantSlug string `json:"tenant_slug"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type loginRequest struct {
	TenantSlug string `json:"tenant_slug"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type meResponse struct {
	User           *auth.User `json:"user"`
	RoleIDs        []string   `json:"role_ids"`
	PermissionKeys []string   `json:"permission_keys"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	sess, err := a.auth.Register(r.Context(), auth.RegisterInput{
		TenantName: req.TenantName,
		TenantSlug: req.TenantSlug,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Password:   req.Password,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.tenant.registered", map[string]any{
		"tenant_id": sess.Tenant.ID,
		"slug":      sess.Tenant.Slug,
		"owner_id":  sess.User.ID,
		"ip":        clientIP(r),
	})
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	sess, err := a.auth.Login(r.Context(), auth.LoginInput{
		TenantSlug: req.TenantSlug,
		Email:      req.Email,
		Password:   req.Password,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"tenant_id": sess.Tenant.ID,
		"user_id":   sess.User.ID,
		"ip":        clientIP(r),
	})
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "refresh_token is required")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if err := a.auth.Logout(r.Context(), principal.TenantID(), principal.User.ID, clientIP(r)); err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"ip": clientIP(r)})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, roleIDs, err := a.auth.Me(r.Context(), principal.TenantID(), principal.User.ID)
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		keys, err := a.auth.ResolvePermissions(r.Context(), principal.TenantID(), roleIDs)
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, meResponse{User: user, RoleIDs: roleIDs, PermissionKeys: keys})
	case http.MethodPut:
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		user, err := a.auth.UpdateProfile(r.Context(), principal.TenantID(), principal.User.ID, req.FirstName, req.LastName)
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := a.auth.ChangePassword(r.Context(), principal.TenantID(), principal.User.ID,
		req.CurrentPassword, req.NewPassword, clientIP(r)); err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", map[string]any{"ip": clientIP(r)})
	w.WriteHeader(http.StatusNoContent)
}
