package store

import (
	"context"

	"flightledger/internal/models"
)

// LedgerStore persists the append-only billing_transactions table.
type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const transactionColumns = `id, account_id, student_id, instructor_id, transaction_type, flight_hours, ground_hours,
		       cash_amount, description, reference_type, reference_id, cash_balance_after,
		       flight_hours_balance_after, ground_hours_balance_after, processed_by, created_at`

func (s *LedgerStore) Insert(ctx context.Context, tx Execer, entry models.BillingTransaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO billing_transactions (id, account_id, student_id, instructor_id, transaction_type, flight_hours, ground_hours,
		                                  cash_amount, description, reference_type, reference_id, cash_balance_after,
		                                  flight_hours_balance_after, ground_hours_balance_after, processed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, entry.ID, entry.AccountID, entry.StudentID, entry.InstructorID, entry.TransactionType,
		entry.FlightHours, entry.GroundHours, entry.CashAmount, entry.Description,
		entry.ReferenceType, entry.ReferenceID, entry.CashBalanceAfter,
		entry.FlightHoursBalanceAfter, entry.GroundHoursBalanceAfter, entry.ProcessedBy)
	return err
}

func (s *LedgerStore) ListByAccount(ctx context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error) {
	var rows []models.BillingTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM billing_transactions
		WHERE student_id = $1 AND instructor_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3 OFFSET $4
	`, studentID, instructorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *LedgerStore) ListByReference(ctx context.Context, referenceType, referenceID string) ([]models.BillingTransaction, error) {
	var rows []models.BillingTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM billing_transactions
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY created_at DESC, seq DESC
	`, referenceType, referenceID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
