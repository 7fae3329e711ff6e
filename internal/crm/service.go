package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crmbase.org/internal/auth"
)

// Service applies caller scope on top of the repositories. Handlers never
// pass scopedUserID themselves; it always derives from the principal so a
// restricted caller cannot widen their own view.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("crm: store is required")
	}
	return &Service{store: store}, nil
}

func scopedID(p auth.Principal) string {
	return p.Scope().ScopedUserID()
}

func (s *Service) ListLeads(ctx context.Context, p auth.Principal, f LeadFilter) ([]*Lead, error) {
	if f.Status != "" && !validLeadStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown lead status %q", ErrInvalidInput, f.Status)
	}
	return s.store.Leads().List(ctx, p.TenantID(), scopedID(p), f)
}

func (s *Service) GetLead(ctx context.Context, p auth.Principal, id string) (*Lead, error) {
	return s.store.Leads().Find(ctx, p.TenantID(), id, scopedID(p))
}

func (s *Service) CreateLead(ctx context.Context, p auth.Principal, lead *Lead) error {
	lead.TenantID = p.TenantID()
	lead.FirstName = strings.TrimSpace(lead.FirstName)
	lead.LastName = strings.TrimSpace(lead.LastName)
	if lead.FirstName == "" || lead.LastName == "" {
		return fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if lead.Status == "" {
		lead.Status = LeadStatusNew
	}
	if !validLeadStatus(lead.Status) {
		return fmt.Errorf("%w: unknown lead status %q", ErrInvalidInput, lead.Status)
	}
	return s.store.Leads().Create(ctx, lead)
}

func (s *Service) AssignLead(ctx context.Context, p auth.Principal, id, assigneeID string) error {
	if assigneeID == "" {
		return fmt.Errorf("%w: assignee is required", ErrInvalidInput)
	}
	// Scoped callers may only reassign leads they can see.
	if scoped := scopedID(p); scoped != "" {
		if _, err := s.store.Leads().Find(ctx, p.TenantID(), id, scoped); err != nil {
			return err
		}
	}
	return s.store.Leads().Assign(ctx, p.TenantID(), id, assigneeID)
}

func (s *Service) ListClients(ctx context.Context, p auth.Principal, f ClientFilter) ([]*Client, error) {
	return s.store.Clients().List(ctx, p.TenantID(), scopedID(p), f)
}

func (s *Service) GetClient(ctx context.Context, p auth.Principal, id string) (*Client, error) {
	return s.store.Clients().Find(ctx, p.TenantID(), id, scopedID(p))
}

func (s *Service) CreateClient(ctx context.Context, p auth.Principal, client *Client) error {
	client.TenantID = p.TenantID()
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return fmt.Errorf("%w: client name is required", ErrInvalidInput)
	}
	return s.store.Clients().Create(ctx, client)
}

func (s *Service) ListInvoices(ctx context.Context, p auth.Principal, f InvoiceFilter) ([]*Invoice, error) {
	if f.Status != "" && !validInvoiceStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown invoice status %q", ErrInvalidInput, f.Status)
	}
	return s.store.Invoices().List(ctx, p.TenantID(), scopedID(p), f)
}

func (s *Service) GetInvoice(ctx context.Context, p auth.Principal, id string) (*Invoice, error) {
	return s.store.Invoices().Find(ctx, p.TenantID(), id, scopedID(p))
}

func (s *Service) ListPayments(ctx context.Context, p auth.Principal, invoiceID string) ([]*Payment, error) {
	return s.store.Payments().ListForInvoice(ctx, p.TenantID(), invoiceID, scopedID(p))
}

func (s *Service) RecordPayment(ctx context.Context, p auth.Principal, payment *Payment) error {
	payment.TenantID = p.TenantID()
	if payment.InvoiceID == "" || payment.AmountCents <= 0 {
		return fmt.Errorf("%w: invoice id and a positive amount are required", ErrInvalidInput)
	}
	if payment.Currency == "" {
		payment.Currency = "USD"
	}
	return s.store.Payments().Record(ctx, payment, scopedID(p))
}

func validLeadStatus(s string) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusProposal, LeadStatusWon, LeadStatusLost:
		return true
	}
	return false
}

func validInvoiceStatus(s string) bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	}
	return false
}
