package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"crmbase.org/internal/auth"
	"crmbase.org/internal/crm"
)

type createLeadRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Company      string `json:"company"`
	Source       string `json:"source"`
	Status       string `json:"status"`
	AssignedToID string `json:"assigned_to_id"`
}

type assignLeadRequest struct {
	AssignedToID string `json:"assigned_to_id"`
}

type recordPaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	ProviderRef string `json:"provider_ref"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func pageFromQuery(r *http.Request) (crm.Pagination, int) {
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	p := crm.Pagination{Limit: limit}.Normalize()
	p.Offset = (page - 1) * p.Limit
	return p, page
}

func principalOr401(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
	}
	return principal, ok
}

// Leads ---------------------------------------------------------------------

func (a *API) handleLeads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermLeadView) {
			return
		}
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		page, pageNum := pageFromQuery(r)
		leads, err := a.crm.ListLeads(r.Context(), principal, crm.LeadFilter{
			Status: r.URL.Query().Get("status"),
			Page:   page,
		})
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse[*crm.Lead]{Items: leads, Page: pageNum, Limit: page.Limit})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermLeadCreate) {
			return
		}
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		var req createLeadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		lead := &crm.Lead{
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Email:        req.Email,
			Phone:        req.Phone,
			Company:      req.Company,
			Source:       req.Source,
			Status:       req.Status,
			AssignedToID: req.AssignedToID,
		}
		if err := a.crm.CreateLead(r.Context(), principal, lead); err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/v1/leads/"+lead.ID)
		writeJSON(w, http.StatusCreated, lead)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleLeadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/leads/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePermission(w, r, auth.PermLeadView) {
			return
		}
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		lead, err := a.crm.GetLead(r.Context(), principal, parts[0])
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	case len(parts) == 2 && parts[1] == "assign":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.ensurePermission(w, r, auth.PermLeadAssign) {
			return
		}
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		var req assignLeadRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		if err := a.crm.AssignLead(r.Context(), principal, parts[0], req.AssignedToID); err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

// Clients -------------------------------------------------------------------

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermClientView) {
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	page, pageNum := pageFromQuery(r)
	clients, err := a.crm.ListClients(r.Context(), principal, crm.ClientFilter{
		Search: r.URL.Query().Get("search"),
		Page:   page,
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*crm.Client]{Items: clients, Page: pageNum, Limit: page.Limit})
}

func (a *API) handleClientByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/clients/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermClientView) {
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	client, err := a.crm.GetClient(r.Context(), principal, id)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// Invoices ------------------------------------------------------------------

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermInvoiceView) {
		return
	}
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	page, pageNum := pageFromQuery(r)
	invoices, err := a.crm.ListInvoices(r.Context(), principal, crm.InvoiceFilter{
		Status: r.URL.Query().Get("status"),
		Page:   page,
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[*crm.Invoice]{Items: invoices, Page: pageNum, Limit: page.Limit})
}

func (a *API) handleInvoiceByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/invoices/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePermission(w, r, auth.PermInvoiceView) {
			return
		}
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		inv, err := a.crm.GetInvoice(r.Context(), principal, parts[0])
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case len(parts) == 2 && parts[1] == "payments":
		a.handleInvoicePayments(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) handleInvoicePayments(w http.ResponseWriter, r *http.Request, invoiceID string) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermInvoiceView) {
			return
		}
		payments, err := a.crm.ListPayments(r.Context(), principal, invoiceID)
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payments)
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermPaymentRecord) {
			return
		}
		var req recordPaymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		payment := &crm.Payment{
			InvoiceID:   invoiceID,
			AmountCents: req.AmountCents,
			Currency:    req.Currency,
			ProviderRef: req.ProviderRef,
			ReceivedAt:  time.Now().UTC(),
		}
		if err := a.crm.RecordPayment(r.Context(), principal, payment); err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}
