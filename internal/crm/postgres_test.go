package crm

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPGStore(db), mock, func() { db.Close() }
}

func leadRows(leads ...Lead) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "first_name", "last_name", "email", "phone", "company",
		"source", "status", "assigned_to_id", "created_at", "updated_at", "deleted_at",
	})
	for _, l := range leads {
		rows.AddRow(l.ID, l.TenantID, l.FirstName, l.LastName, l.Email, l.Phone, l.Company,
			l.Source, l.Status, l.AssignedToID, l.CreatedAt, l.UpdatedAt, nil)
	}
	return rows
}

func TestListLeadsElevatedSeesWholeTenant(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`select .* from leads l where l.tenant_id=.* and l.deleted_at is null order by`).
		WithArgs("t-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(leadRows(
			Lead{ID: "ld-1", TenantID: "t-1", FirstName: "A", LastName: "B", Status: LeadStatusNew, AssignedToID: "u-1", CreatedAt: now, UpdatedAt: now},
			Lead{ID: "ld-2", TenantID: "t-1", FirstName: "C", LastName: "D", Status: LeadStatusWon, AssignedToID: "u-2", CreatedAt: now, UpdatedAt: now},
		))

	leads, err := store.Leads().List(context.Background(), "t-1", "", LeadFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected 2 leads, got %d", len(leads))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListLeadsScopedFiltersByAssignee(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`select .* from leads l where .* and l.assigned_to_id=.* order by`).
		WithArgs("t-1", "u-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(leadRows(
			Lead{ID: "ld-1", TenantID: "t-1", FirstName: "A", LastName: "B", Status: LeadStatusNew, AssignedToID: "u-1", CreatedAt: now, UpdatedAt: now},
		))

	leads, err := store.Leads().List(context.Background(), "t-1", "u-1", LeadFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(leads) != 1 || leads[0].AssignedToID != "u-1" {
		t.Fatalf("unexpected result: %+v", leads)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListClientsScopedJoinsSourceLead(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "email", "company", "source_lead_id", "created_at", "updated_at", "deleted_at",
	}).AddRow("cl-1", "t-1", "Acme Ltd", "", "", "ld-1", now, now, nil)

	mock.ExpectQuery(`select .* from clients c where .* exists .*from leads sl.*sl.assigned_to_id=`).
		WithArgs("t-1", "u-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	clients, err := store.Clients().List(context.Background(), "t-1", "u-1", ClientFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(clients) != 1 || clients[0].SourceLeadID != "ld-1" {
		t.Fatalf("unexpected result: %+v", clients)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListInvoicesScopedChainsThroughClient(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(`select .* from invoices i where .* exists .*from clients sc join leads sl.*sl.assigned_to_id=`).
		WithArgs("t-1", "u-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "client_id", "invoice_number", "status", "amount_cents", "currency",
			"issued_at", "due_at", "paid_at", "created_at", "updated_at", "deleted_at",
		}))

	invoices, err := store.Invoices().List(context.Background(), "t-1", "u-1", InvoiceFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(invoices) != 0 {
		t.Fatalf("expected no rows, got %d", len(invoices))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindLeadOutsideScope(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(`select .* from leads l where .* and l.assigned_to_id=`).
		WithArgs("t-1", "ld-9", "u-1").WillReturnError(sql.ErrNoRows)

	_, err := store.Leads().Find(context.Background(), "t-1", "ld-9", "u-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPaymentOutsideScope(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	// The guarded insert matches no invoice for this caller.
	mock.ExpectExec(`insert into payments.*where exists`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := &Payment{TenantID: "t-1", InvoiceID: "inv-1", AmountCents: 5000, Currency: "USD", ReceivedAt: time.Now()}
	err := store.Payments().Record(context.Background(), p, "u-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeadAssignMissingLead(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(`update leads set assigned_to_id=`).
		WithArgs("t-1", "ld-9", "u-2").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Leads().Assign(context.Background(), "t-1", "ld-9", "u-2")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPaginationNormalize(t *testing.T) {
	cases := []struct {
		in   Pagination
		want Pagination
	}{
		{Pagination{}, Pagination{Limit: 20}},
		{Pagination{Limit: -5, Offset: -1}, Pagination{Limit: 20}},
		{Pagination{Limit: 500, Offset: 40}, Pagination{Limit: 100, Offset: 40}},
		{Pagination{Limit: 10, Offset: 30}, Pagination{Limit: 10, Offset: 30}},
	}
	for i, c := range cases {
		if got := c.in.Normalize(); got != c.want {
			t.Fatalf("case %d: got %+v want %+v", i, got, c.want)
		}
	}
}
