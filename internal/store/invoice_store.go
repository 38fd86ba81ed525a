package store

import (
	"context"
	"time"

	"flightledger/internal/models"

	"github.com/lib/pq"
)

type InvoiceStore struct {
	db DB
}

func NewInvoiceStore(db DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

type InvoiceFilter struct {
	StudentID    string
	InstructorID string
	Status       models.InvoiceStatus
	Limit        int
	Offset       int
}

const invoiceColumns = `i.id, i.invoice_number, i.student_id, i.instructor_id, i.flight_hours, i.ground_hours,
		       i.flight_rate, i.ground_rate, i.flight_amount, i.ground_amount, i.total_amount,
		       i.refunded_amount, i.status, i.due_date, i.paid_date, i.payment_method,
		       i.external_payment_reference, i.notes, sp.full_name AS student_name,
		       ip.full_name AS instructor_name, i.created_at`

const invoiceFrom = `
		FROM invoices i
		LEFT JOIN profiles sp ON sp.id = i.student_id
		LEFT JOIN profiles ip ON ip.id = i.instructor_id`

func (s *InvoiceStore) Create(ctx context.Context, tx Execer, invoice models.Invoice) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_number, student_id, instructor_id, flight_hours, ground_hours, flight_rate,
		                      ground_rate, flight_amount, ground_amount, total_amount, status, due_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, invoice.ID, invoice.InvoiceNumber, invoice.StudentID, invoice.InstructorID, invoice.FlightHours,
		invoice.GroundHours, invoice.FlightRate, invoice.GroundRate, invoice.FlightAmount,
		invoice.GroundAmount, invoice.TotalAmount, invoice.Status, invoice.DueDate, invoice.Notes)
	return err
}

func (s *InvoiceStore) InsertLineItems(ctx context.Context, tx Execer, items []models.InvoiceLineItem) error {
	query := `
		INSERT INTO invoice_line_items (id, invoice_id, flight_session_id, item_type, description, hours, rate, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, query, item.ID, item.InvoiceID, item.FlightSessionID, item.ItemType,
			item.Description, item.Hours, item.Rate, item.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (s *InvoiceStore) GetByID(ctx context.Context, invoiceID string) (models.Invoice, error) {
	var row models.Invoice
	err := s.db.GetContext(ctx, &row, `SELECT `+invoiceColumns+invoiceFrom+` WHERE i.id = $1`, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	return row, nil
}

func (s *InvoiceStore) GetForUpdate(ctx context.Context, tx Getter, invoiceID string) (models.Invoice, error) {
	var row models.Invoice
	err := tx.GetContext(ctx, &row, `SELECT `+invoiceColumns+invoiceFrom+`
		WHERE i.id = $1
		FOR UPDATE OF i
	`, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	return row, nil
}

// List returns matching invoices newest first.
func (s *InvoiceStore) List(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + invoiceFrom + ` WHERE 1 = 1`
	var args []any
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		query += " AND i.student_id = $" + itoa(len(args))
	}
	if filter.InstructorID != "" {
		args = append(args, filter.InstructorID)
		query += " AND i.instructor_id = $" + itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " AND i.status = $" + itoa(len(args))
	}
	query += " ORDER BY i.created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += " LIMIT $" + itoa(len(args)-1) + " OFFSET $" + itoa(len(args))
	}
	var rows []models.Invoice
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *InvoiceStore) ListLineItems(ctx context.Context, invoiceIDs []string) ([]models.InvoiceLineItem, error) {
	if len(invoiceIDs) == 0 {
		return nil, nil
	}
	var rows []models.InvoiceLineItem
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, invoice_id, flight_session_id, item_type, description, hours, rate, amount
		FROM invoice_line_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, seq
	`, pq.Array(invoiceIDs))
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *InvoiceStore) MarkPaid(ctx context.Context, tx Execer, invoiceID, method string, reference *string, paidDate time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = 'paid', paid_date = $1, payment_method = $2, external_payment_reference = $3, updated_at = NOW()
		WHERE id = $4
	`, paidDate, method, reference, invoiceID)
	return err
}

func (s *InvoiceStore) RecordRefund(ctx context.Context, tx Execer, invoiceID string, refundedAmount int64, status models.InvoiceStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET refunded_amount = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`, refundedAmount, status, invoiceID)
	return err
}

// MarkOverdue flips unpaid invoices past their due date and returns them.
func (s *InvoiceStore) MarkOverdue(ctx context.Context, tx Selecter, asOf time.Time) ([]models.Invoice, error) {
	var rows []models.Invoice
	err := tx.SelectContext(ctx, &rows, `
		UPDATE invoices i
		SET status = 'overdue', updated_at = NOW()
		WHERE i.status IN ('draft', 'sent') AND i.due_date < $1
		RETURNING i.id, i.invoice_number, i.student_id, i.instructor_id, i.flight_hours, i.ground_hours,
		          i.flight_rate, i.ground_rate, i.flight_amount, i.ground_amount, i.total_amount,
		          i.refunded_amount, i.status, i.due_date, i.paid_date, i.payment_method,
		          i.external_payment_reference, i.notes, i.created_at
	`, asOf)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
