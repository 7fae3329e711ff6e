package crm

import "time"

// Lead statuses follow the pipeline order; won/lost are terminal.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusProposal  = "proposal"
	LeadStatusWon       = "won"
	LeadStatusLost      = "lost"
)

const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusOpen  = "open"
	InvoiceStatusPaid  = "paid"
	InvoiceStatusVoid  = "void"
)

// Lead is the root of the ownership chain: a caller without elevated scope
// sees only leads assigned to them, and everything downstream inherits that
// filter.
type Lead struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Company      string     `json:"company,omitempty"`
	Source       string     `json:"source,omitempty"`
	Status       string     `json:"status"`
	AssignedToID string     `json:"assigned_to_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Client is a converted lead; visibility flows through SourceLeadID.
type Client struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Company      string     `json:"company,omitempty"`
	SourceLeadID string     `json:"source_lead_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Invoice belongs to a client; visibility flows client → source lead.
type Invoice struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	ClientID      string     `json:"client_id"`
	InvoiceNumber string     `json:"invoice_number"`
	Status        string     `json:"status"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"-"`
}

// Payment is recorded against an invoice; visibility flows invoice → client
// → source lead.
type Payment struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	CreatedAt   time.Time `json:"created_at"`
}
