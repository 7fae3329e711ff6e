package crm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crmbase.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Scoping is expressed in SQL:
// scoped queries join back to the lead the row descends from and filter on
// assigned_to_id, so a restricted caller never sees rows outside their chain.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Leads() LeadStore       { return &leadStore{db: s.db} }
func (s *PGStore) Clients() ClientStore   { return &clientStore{db: s.db} }
func (s *PGStore) Invoices() InvoiceStore { return &invoiceStore{db: s.db} }
func (s *PGStore) Payments() PaymentStore { return &paymentStore{db: s.db} }

// queryBuilder accumulates where clauses with positional args.
type queryBuilder struct {
	sql  strings.Builder
	args []interface{}
}

func (b *queryBuilder) write(fragment string) {
	b.sql.WriteString(fragment)
}

// arg appends the value and returns its placeholder.
func (b *queryBuilder) arg(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// Lead store ----------------------------------------------------------------
type leadStore struct{ db *sql.DB }

const leadColumns = `l.id, l.tenant_id, l.first_name, l.last_name, l.email, l.phone, l.company, l.source, l.status, l.assigned_to_id, l.created_at, l.updated_at, l.deleted_at`

func scanLead(sc interface{ Scan(...interface{}) error }) (*Lead, error) {
	var (
		lead       Lead
		assignedTo sql.NullString
	)
	if err := sc.Scan(&lead.ID, &lead.TenantID, &lead.FirstName, &lead.LastName, &lead.Email,
		&lead.Phone, &lead.Company, &lead.Source, &lead.Status, &assignedTo,
		&lead.CreatedAt, &lead.UpdatedAt, &lead.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	lead.AssignedToID = assignedTo.String
	return &lead, nil
}

func (s *leadStore) List(ctx context.Context, tenantID, scopedUserID string, f LeadFilter) ([]*Lead, error) {
	page := f.Page.Normalize()
	var b queryBuilder
	b.write(`select ` + leadColumns + ` from leads l where l.tenant_id=` + b.arg(tenantID) + ` and l.deleted_at is null`)
	if f.Status != "" {
		b.write(` and l.status=` + b.arg(f.Status))
	}
	if scopedUserID != "" {
		b.write(` and l.assigned_to_id=` + b.arg(scopedUserID))
	}
	b.write(` order by l.created_at desc limit ` + b.arg(page.Limit) + ` offset ` + b.arg(page.Offset))

	rows, err := s.db.QueryContext(ctx, b.sql.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func (s *leadStore) Find(ctx context.Context, tenantID, id, scopedUserID string) (*Lead, error) {
	var b queryBuilder
	b.write(`select ` + leadColumns + ` from leads l where l.tenant_id=` + b.arg(tenantID) +
		` and l.id=` + b.arg(id) + ` and l.deleted_at is null`)
	if scopedUserID != "" {
		b.write(` and l.assigned_to_id=` + b.arg(scopedUserID))
	}
	return scanLead(s.db.QueryRowContext(ctx, b.sql.String(), b.args...))
}

func (s *leadStore) Create(ctx context.Context, lead *Lead) error {
	if lead.ID == "" {
		lead.ID = ids.New()
	}
	var assignedTo interface{}
	if lead.AssignedToID != "" {
		assignedTo = lead.AssignedToID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into leads(id, tenant_id, first_name, last_name, email, phone, company, source, status, assigned_to_id, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())`,
		lead.ID, lead.TenantID, lead.FirstName, lead.LastName, lead.Email,
		lead.Phone, lead.Company, lead.Source, lead.Status, assignedTo,
	)
	return err
}

func (s *leadStore) Assign(ctx context.Context, tenantID, id, assigneeID string) error {
	res, err := s.db.ExecContext(ctx,
		`update leads set assigned_to_id=$3, updated_at=now() where tenant_id=$1 and id=$2 and deleted_at is null`,
		tenantID, id, assigneeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Client store --------------------------------------------------------------
type clientStore struct{ db *sql.DB }

const clientColumns = `c.id, c.tenant_id, c.name, c.email, c.company, c.source_lead_id, c.created_at, c.updated_at, c.deleted_at`

func scanClient(sc interface{ Scan(...interface{}) error }) (*Client, error) {
	var (
		client     Client
		sourceLead sql.NullString
	)
	if err := sc.Scan(&client.ID, &client.TenantID, &client.Name, &client.Email, &client.Company,
		&sourceLead, &client.CreatedAt, &client.UpdatedAt, &client.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	client.SourceLeadID = sourceLead.String
	return &client, nil
}

// scopeClients narrows a client query to the caller's ownership chain via
// the source lead.
func scopeClients(b *queryBuilder, scopedUserID string) {
	b.write(` and exists (select 1 from leads sl where sl.id = c.source_lead_id and sl.tenant_id = c.tenant_id` +
		` and sl.deleted_at is null and sl.assigned_to_id=` + b.arg(scopedUserID) + `)`)
}

func (s *clientStore) List(ctx context.Context, tenantID, scopedUserID string, f ClientFilter) ([]*Client, error) {
	page := f.Page.Normalize()
	var b queryBuilder
	b.write(`select ` + clientColumns + ` from clients c where c.tenant_id=` + b.arg(tenantID) + ` and c.deleted_at is null`)
	if f.Search != "" {
		needle := "%" + f.Search + "%"
		p := b.arg(needle)
		b.write(` and (c.name ilike ` + p + ` or c.email ilike ` + p + ` or c.company ilike ` + p + `)`)
	}
	if scopedUserID != "" {
		scopeClients(&b, scopedUserID)
	}
	b.write(` order by c.created_at desc limit ` + b.arg(page.Limit) + ` offset ` + b.arg(page.Offset))

	rows, err := s.db.QueryContext(ctx, b.sql.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func (s *clientStore) Find(ctx context.Context, tenantID, id, scopedUserID string) (*Client, error) {
	var b queryBuilder
	b.write(`select ` + clientColumns + ` from clients c where c.tenant_id=` + b.arg(tenantID) +
		` and c.id=` + b.arg(id) + ` and c.deleted_at is null`)
	if scopedUserID != "" {
		scopeClients(&b, scopedUserID)
	}
	return scanClient(s.db.QueryRowContext(ctx, b.sql.String(), b.args...))
}

func (s *clientStore) Create(ctx context.Context, client *Client) error {
	if client.ID == "" {
		client.ID = ids.New()
	}
	var sourceLead interface{}
	if client.SourceLeadID != "" {
		sourceLead = client.SourceLeadID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into clients(id, tenant_id, name, email, company, source_lead_id, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,now(),now())`,
		client.ID, client.TenantID, client.Name, client.Email, client.Company, sourceLead,
	)
	return err
}

// Invoice store -------------------------------------------------------------
type invoiceStore struct{ db *sql.DB }

const invoiceColumns = `i.id, i.tenant_id, i.client_id, i.invoice_number, i.status, i.amount_cents, i.currency, i.issued_at, i.due_at, i.paid_at, i.created_at, i.updated_at, i.deleted_at`

func scanInvoice(sc interface{ Scan(...interface{}) error }) (*Invoice, error) {
	var inv Invoice
	if err := sc.Scan(&inv.ID, &inv.TenantID, &inv.ClientID, &inv.InvoiceNumber, &inv.Status,
		&inv.AmountCents, &inv.Currency, &inv.IssuedAt, &inv.DueAt, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// scopeInvoices narrows an invoice query through client → source lead.
func scopeInvoices(b *queryBuilder, scopedUserID string) {
	b.write(` and exists (select 1 from clients sc join leads sl on sl.id = sc.source_lead_id and sl.tenant_id = sc.tenant_id` +
		` where sc.id = i.client_id and sc.tenant_id = i.tenant_id and sc.deleted_at is null` +
		` and sl.deleted_at is null and sl.assigned_to_id=` + b.arg(scopedUserID) + `)`)
}

func (s *invoiceStore) List(ctx context.Context, tenantID, scopedUserID string, f InvoiceFilter) ([]*Invoice, error) {
	page := f.Page.Normalize()
	var b queryBuilder
	b.write(`select ` + invoiceColumns + ` from invoices i where i.tenant_id=` + b.arg(tenantID) + ` and i.deleted_at is null`)
	if f.Status != "" {
		b.write(` and i.status=` + b.arg(f.Status))
	}
	if scopedUserID != "" {
		scopeInvoices(&b, scopedUserID)
	}
	b.write(` order by i.created_at desc limit ` + b.arg(page.Limit) + ` offset ` + b.arg(page.Offset))

	rows, err := s.db.QueryContext(ctx, b.sql.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *invoiceStore) Find(ctx context.Context, tenantID, id, scopedUserID string) (*Invoice, error) {
	var b queryBuilder
	b.write(`select ` + invoiceColumns + ` from invoices i where i.tenant_id=` + b.arg(tenantID) +
		` and i.id=` + b.arg(id) + ` and i.deleted_at is null`)
	if scopedUserID != "" {
		scopeInvoices(&b, scopedUserID)
	}
	return scanInvoice(s.db.QueryRowContext(ctx, b.sql.String(), b.args...))
}

func (s *invoiceStore) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into invoices(id, tenant_id, client_id, invoice_number, status, amount_cents, currency, issued_at, due_at, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())`,
		inv.ID, inv.TenantID, inv.ClientID, inv.InvoiceNumber, inv.Status,
		inv.AmountCents, inv.Currency, inv.IssuedAt, inv.DueAt,
	)
	return err
}

// Payment store -------------------------------------------------------------
type paymentStore struct{ db *sql.DB }

const paymentColumns = `p.id, p.tenant_id, p.invoice_id, p.amount_cents, p.currency, p.provider_ref, p.received_at, p.created_at`

func (s *paymentStore) Record(ctx context.Context, p *Payment, scopedUserID string) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	// The insert carries its own visibility guard: a scoped caller cannot
	// record a payment against an invoice outside their chain.
	var b queryBuilder
	b.write(`insert into payments(id, tenant_id, invoice_id, amount_cents, currency, provider_ref, received_at, created_at)` +
		` select ` + b.arg(p.ID) + `,` + b.arg(p.TenantID) + `,` + b.arg(p.InvoiceID) + `,` + b.arg(p.AmountCents) + `,` +
		b.arg(p.Currency) + `,` + b.arg(p.ProviderRef) + `,` + b.arg(p.ReceivedAt) + `, now()` +
		` where exists (select 1 from invoices i where i.tenant_id=` + b.arg(p.TenantID) +
		` and i.id=` + b.arg(p.InvoiceID) + ` and i.deleted_at is null`)
	if scopedUserID != "" {
		scopeInvoices(&b, scopedUserID)
	}
	b.write(`)`)

	res, err := s.db.ExecContext(ctx, b.sql.String(), b.args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *paymentStore) ListForInvoice(ctx context.Context, tenantID, invoiceID, scopedUserID string) ([]*Payment, error) {
	var b queryBuilder
	b.write(`select ` + paymentColumns + ` from payments p join invoices i on i.id = p.invoice_id and i.tenant_id = p.tenant_id` +
		` where p.tenant_id=` + b.arg(tenantID) + ` and p.invoice_id=` + b.arg(invoiceID) + ` and i.deleted_at is null`)
	if scopedUserID != "" {
		scopeInvoices(&b, scopedUserID)
	}
	b.write(` order by p.received_at desc`)

	rows, err := s.db.QueryContext(ctx, b.sql.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.InvoiceID, &p.AmountCents, &p.Currency,
			&p.ProviderRef, &p.ReceivedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}
