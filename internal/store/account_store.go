package store

import (
	"context"

	"flightledger/internal/models"
)

type AccountStore struct {
	db DB
}

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, student_id, instructor_id, account_balance, prepaid_flight_hours, prepaid_ground_hours,
		       account_type, low_balance_threshold, status, created_at, updated_at`

// CreateIfMissing inserts the pair's account unless one already exists.
func (s *AccountStore) CreateIfMissing(ctx context.Context, tx Execer, account models.Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO student_instructor_accounts (id, student_id, instructor_id, account_balance, prepaid_flight_hours, prepaid_ground_hours, account_type, low_balance_threshold, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, instructor_id) DO NOTHING
	`, account.ID, account.StudentID, account.InstructorID, account.AccountBalance,
		account.PrepaidFlightHours, account.PrepaidGroundHours, account.AccountType,
		account.LowBalanceThreshold, account.Status)
	return err
}

func (s *AccountStore) Find(ctx context.Context, studentID, instructorID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM student_instructor_accounts
		WHERE student_id = $1 AND instructor_id = $2
	`, studentID, instructorID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, studentID, instructorID string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM student_instructor_accounts
		WHERE student_id = $1 AND instructor_id = $2
		FOR UPDATE
	`, studentID, instructorID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

// UpdateBalances writes the cached balance projection of a locked account.
func (s *AccountStore) UpdateBalances(ctx context.Context, tx Execer, account models.Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE student_instructor_accounts
		SET account_balance = $1, prepaid_flight_hours = $2, prepaid_ground_hours = $3, updated_at = NOW()
		WHERE id = $4
	`, account.AccountBalance, account.PrepaidFlightHours, account.PrepaidGroundHours, account.ID)
	return err
}

func (s *AccountStore) UpdateSettings(ctx context.Context, tx Execer, account models.Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE student_instructor_accounts
		SET account_type = $1, low_balance_threshold = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`, account.AccountType, account.LowBalanceThreshold, account.Status, account.ID)
	return err
}

type AccountReconciliation struct {
	AccountID        string  `db:"account_id" json:"account_id"`
	StudentID        string  `db:"student_id" json:"student_id"`
	InstructorID     string  `db:"instructor_id" json:"instructor_id"`
	StoredBalance    int64   `db:"stored_balance" json:"stored_balance"`
	LedgerBalance    *int64  `db:"ledger_balance" json:"ledger_balance"`
	TransactionCount int64   `db:"transaction_count" json:"transaction_count"`
	LastTransaction  *string `db:"last_transaction_id" json:"last_transaction_id,omitempty"`
}

// Reconcile compares each account's cached balance with the snapshot of its
// newest billing transaction.
func (s *AccountStore) Reconcile(ctx context.Context) ([]AccountReconciliation, error) {
	var rows []AccountReconciliation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS account_id,
		       a.student_id,
		       a.instructor_id,
		       a.account_balance AS stored_balance,
		       last.cash_balance_after AS ledger_balance,
		       (SELECT COUNT(*) FROM billing_transactions bt WHERE bt.account_id = a.id) AS transaction_count,
		       last.id AS last_transaction_id
		FROM student_instructor_accounts a
		LEFT JOIN LATERAL (
			SELECT id, cash_balance_after
			FROM billing_transactions
			WHERE account_id = a.id
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		) last ON TRUE
		ORDER BY a.created_at
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
