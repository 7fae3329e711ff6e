package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"crmbase.org/internal/auth"
	"crmbase.org/internal/crm"
	"crmbase.org/internal/obs"
)

// ReadyProbe reports readiness, normally a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	crm        *crm.Service
	readyProbe ReadyProbe
	env        string
	version    string

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
}

// Option tunes the API at construction time.
type Option func(*API)

// WithRateLimit overrides the per-IP token-bucket parameters.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes overrides the request-body cap.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(authSvc *auth.Service, crmSvc *crm.Service, rp ReadyProbe, env, version string, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		auth:         authSvc,
		crm:          crmSvc,
		readyProbe:   rp,
		env:          env,
		version:      version,
		maxBodyBytes: 1 << 20,
		rateBurst:    20,
		ratePerSec:   10,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/api/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/api/v1/auth/change-password", a.handleChangePassword)

	a.mux.HandleFunc("/api/v1/leads", a.handleLeads)
	a.mux.HandleFunc("/api/v1/leads/", a.handleLeadByID)
	a.mux.HandleFunc("/api/v1/clients", a.handleClients)
	a.mux.HandleFunc("/api/v1/clients/", a.handleClientByID)
	a.mux.HandleFunc("/api/v1/invoices", a.handleInvoices)
	a.mux.HandleFunc("/api/v1/invoices/", a.handleInvoiceByID)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux. Order matters:
// metrics wrap everything, authn runs before the tenant guard, and the guard
// sees only authenticated requests.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withTenantGuard(h)
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "crmbase-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": msg,
		},
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// handleDomainError is the single boundary mapping from domain errors to
// HTTP statuses. Internal detail never leaks outside development.
func (a *API) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrRefreshInvalid):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, auth.ErrCrossTenant):
		writeError(w, r, http.StatusForbidden, "cross_tenant", err.Error())
	case errors.Is(err, auth.ErrTenantInactive):
		writeError(w, r, http.StatusForbidden, "tenant_inactive", err.Error())
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrUserInactive):
		writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, crm.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, crm.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("internal error")
		msg := "internal error"
		if a.env == "development" {
			msg = err.Error()
		}
		writeError(w, r, http.StatusInternalServerError, "internal", msg)
	}
}
