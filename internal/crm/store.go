package crm

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("crm: not found")
	ErrInvalidInput = errors.New("crm: invalid input")
)

// Pagination caps list sizes; handlers translate query params into it.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// LeadFilter narrows lead listings.
type LeadFilter struct {
	Status string
	Page   Pagination
}

// ClientFilter narrows client listings.
type ClientFilter struct {
	Search string
	Page   Pagination
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	Status string
	Page   Pagination
}

// Store aggregates the tenant-scoped repositories. Every method takes the
// tenant id explicitly and a scopedUserID: empty means the caller sees the
// whole tenant, non-empty restricts rows to the caller's ownership chain.
type Store interface {
	Leads() LeadStore
	Clients() ClientStore
	Invoices() InvoiceStore
	Payments() PaymentStore
}

type LeadStore interface {
	List(ctx context.Context, tenantID, scopedUserID string, f LeadFilter) ([]*Lead, error)
	Find(ctx context.Context, tenantID, id, scopedUserID string) (*Lead, error)
	Create(ctx context.Context, lead *Lead) error
	Assign(ctx context.Context, tenantID, id, assigneeID string) error
}

type ClientStore interface {
	List(ctx context.Context, tenantID, scopedUserID string, f ClientFilter) ([]*Client, error)
	Find(ctx context.Context, tenantID, id, scopedUserID string) (*Client, error)
	Create(ctx context.Context, client *Client) error
}

type InvoiceStore interface {
	List(ctx context.Context, tenantID, scopedUserID string, f InvoiceFilter) ([]*Invoice, error)
	Find(ctx context.Context, tenantID, id, scopedUserID string) (*Invoice, error)
	Create(ctx context.Context, inv *Invoice) error
}

type PaymentStore interface {
	// Record persists the payment after confirming the invoice is visible to
	// the caller's scope.
	Record(ctx context.Context, p *Payment, scopedUserID string) error
	ListForInvoice(ctx context.Context, tenantID, invoiceID, scopedUserID string) ([]*Payment, error)
}
