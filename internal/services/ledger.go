package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flightledger/internal/models"
	"flightledger/internal/money"
	"flightledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// TransactionRequest describes one ledger entry. Amounts are magnitudes; the
// transaction type decides the direction.
type TransactionRequest struct {
	StudentID     string
	InstructorID  string
	Type          models.TransactionType
	FlightHours   decimal.Decimal
	GroundHours   decimal.Decimal
	CashAmount    int64
	Description   string
	ReferenceType string
	ReferenceID   string
	ProcessedBy   string
}

// applyTransaction moves the account balances for one entry.
func applyTransaction(account *models.Account, txType models.TransactionType, flightHours, groundHours decimal.Decimal, cash int64) error {
	if cash < 0 || flightHours.IsNegative() || groundHours.IsNegative() {
		return ErrInvalidAmount
	}
	switch txType {
	case models.TxFlightDebit:
		account.PrepaidFlightHours = account.PrepaidFlightHours.Sub(flightHours)
		account.AccountBalance -= cash
	case models.TxGroundDebit:
		account.PrepaidGroundHours = account.PrepaidGroundHours.Sub(groundHours)
		account.AccountBalance -= cash
	case models.TxCashCredit:
		account.AccountBalance += cash
	case models.TxCashDebit:
		account.AccountBalance -= cash
	case models.TxHoursCredit:
		account.PrepaidFlightHours = account.PrepaidFlightHours.Add(flightHours)
		account.PrepaidGroundHours = account.PrepaidGroundHours.Add(groundHours)
	case models.TxRefund:
		account.AccountBalance += cash
		account.PrepaidFlightHours = account.PrepaidFlightHours.Add(flightHours)
		account.PrepaidGroundHours = account.PrepaidGroundHours.Add(groundHours)
	case models.TxAdjustment:
		account.AccountBalance -= cash
		account.PrepaidFlightHours = account.PrepaidFlightHours.Sub(flightHours)
		account.PrepaidGroundHours = account.PrepaidGroundHours.Sub(groundHours)
	default:
		return ErrInvalidTransaction
	}
	return nil
}

// recordTransactionTx applies req to the locked account, appends the entry
// stamped with the post-mutation balances and writes the account back.
func (s *BillingService) recordTransactionTx(ctx context.Context, tx store.Execer, account *models.Account, req TransactionRequest) (models.BillingTransaction, error) {
	if err := applyTransaction(account, req.Type, req.FlightHours, req.GroundHours, req.CashAmount); err != nil {
		return models.BillingTransaction{}, err
	}
	entry := models.BillingTransaction{
		ID:                      uuid.NewString(),
		AccountID:               account.ID,
		StudentID:               account.StudentID,
		InstructorID:            account.InstructorID,
		TransactionType:         req.Type,
		FlightHours:             req.FlightHours,
		GroundHours:             req.GroundHours,
		CashAmount:              req.CashAmount,
		Description:             req.Description,
		ReferenceType:           optionalString(req.ReferenceType),
		ReferenceID:             optionalString(req.ReferenceID),
		CashBalanceAfter:        account.AccountBalance,
		FlightHoursBalanceAfter: account.PrepaidFlightHours,
		GroundHoursBalanceAfter: account.PrepaidGroundHours,
		ProcessedBy:             optionalString(req.ProcessedBy),
		CreatedAt:               s.now().UTC(),
	}
	if err := s.ledger.Insert(ctx, tx, entry); err != nil {
		return models.BillingTransaction{}, err
	}
	if err := s.accounts.UpdateBalances(ctx, tx, *account); err != nil {
		return models.BillingTransaction{}, err
	}
	return entry, nil
}

// GetAccount returns the pair's account, provisioning an empty flexible one
// on first access.
func (s *BillingService) GetAccount(ctx context.Context, studentID, instructorID string) (models.Account, error) {
	account, err := s.accounts.Find(ctx, studentID, instructorID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, err
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockAccount(ctx, tx, studentID, instructorID)
		if err != nil {
			return err
		}
		account = locked
		return nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// RecordTransaction is the general entry point for a single ledger mutation.
func (s *BillingService) RecordTransaction(ctx context.Context, req TransactionRequest) (models.BillingTransaction, error) {
	var entry models.BillingTransaction
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockAccount(ctx, tx, req.StudentID, req.InstructorID)
		if err != nil {
			return err
		}
		entry, err = s.recordTransactionTx(ctx, tx, &locked, req)
		if err != nil {
			return err
		}
		account = locked
		if !req.Type.IsCredit() {
			return s.checkLowBalance(ctx, tx, account)
		}
		return nil
	})
	if err != nil {
		return models.BillingTransaction{}, err
	}
	s.broadcast(account)
	return entry, nil
}

type AddFundsRequest struct {
	StudentID     string
	InstructorID  string
	Amount        int64
	PaymentMethod string
	Description   string
	ProcessedBy   string
}

type AddFundsResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Balance       string `json:"balance"`
	Message       string `json:"message"`
}

func (s *BillingService) AddFunds(ctx context.Context, req AddFundsRequest) (AddFundsResult, error) {
	if req.Amount <= 0 {
		return AddFundsResult{Message: ErrInvalidAmount.Error()}, ErrInvalidAmount
	}
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Funds added via %s", req.PaymentMethod)
	}
	var entry models.BillingTransaction
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockAccount(ctx, tx, req.StudentID, req.InstructorID)
		if err != nil {
			return err
		}
		entry, err = s.recordTransactionTx(ctx, tx, &locked, TransactionRequest{
			Type:          models.TxCashCredit,
			CashAmount:    req.Amount,
			Description:   description,
			ReferenceType: models.ReferenceFunds,
			ReferenceID:   req.PaymentMethod,
			ProcessedBy:   req.ProcessedBy,
		})
		if err != nil {
			return err
		}
		account = locked
		return s.logAudit(ctx, tx, req.ProcessedBy, "funds_added", "account", locked.ID, map[string]any{
			"amount":         req.Amount,
			"payment_method": req.PaymentMethod,
			"transaction_id": entry.ID,
		})
	})
	if err != nil {
		return AddFundsResult{Message: err.Error()}, err
	}
	s.broadcast(account)
	return AddFundsResult{
		Success:       true,
		TransactionID: entry.ID,
		Balance:       money.FormatMinor(account.AccountBalance),
		Message:       "Funds added",
	}, nil
}

type AvailableHours struct {
	AccountType models.AccountType `json:"account_type"`
	Balance     int64              `json:"balance"`
	FlightHours decimal.Decimal    `json:"flight_hours"`
	GroundHours decimal.Decimal    `json:"ground_hours"`
	TotalHours  decimal.Decimal    `json:"total_hours"`
}

// CalculateAvailableHours converts a flexible balance into hours at the
// average of the current rates, split evenly for display. Legacy accounts
// report their prepaid buckets. A missing account or rate yields zeros.
func (s *BillingService) CalculateAvailableHours(ctx context.Context, studentID, instructorID string) (AvailableHours, error) {
	empty := AvailableHours{FlightHours: decimal.Zero, GroundHours: decimal.Zero, TotalHours: decimal.Zero}
	account, err := s.accounts.Find(ctx, studentID, instructorID)
	if errors.Is(err, sql.ErrNoRows) {
		return empty, nil
	}
	if err != nil {
		return empty, err
	}
	empty.AccountType = account.AccountType
	empty.Balance = account.AccountBalance
	switch mode := account.Mode().(type) {
	case models.LegacyMode:
		return AvailableHours{
			AccountType: account.AccountType,
			Balance:     account.AccountBalance,
			FlightHours: mode.FlightHours,
			GroundHours: mode.GroundHours,
			TotalHours:  mode.FlightHours.Add(mode.GroundHours),
		}, nil
	case models.FlexibleMode:
		rate, err := s.currentRate(ctx, nil, studentID, instructorID)
		if errors.Is(err, ErrNoActiveRate) {
			return empty, nil
		}
		if err != nil {
			return empty, err
		}
		average := decimal.NewFromInt(rate.FlightInstructionRate + rate.GroundInstructionRate).Div(decimal.NewFromInt(2))
		if !average.IsPositive() || mode.Balance <= 0 {
			return empty, nil
		}
		total := decimal.NewFromInt(mode.Balance).Div(average).RoundDown(2)
		half := total.Div(decimal.NewFromInt(2)).RoundDown(2)
		return AvailableHours{
			AccountType: account.AccountType,
			Balance:     mode.Balance,
			FlightHours: half,
			GroundHours: half,
			TotalHours:  total,
		}, nil
	}
	return empty, nil
}

type FlexiblePaymentRequest struct {
	StudentID    string
	InstructorID string
	// SessionID, when set, pays that session's pending billing row at its
	// billed cost. FlightHours and GroundHours are then ignored.
	SessionID    string
	FlightHours  decimal.Decimal
	GroundHours  decimal.Decimal
	Description  string
	ProcessedBy  string
}

type FlexiblePaymentResult struct {
	Success          bool   `json:"success"`
	AmountDeducted   int64  `json:"amount_deducted"`
	RemainingBalance int64  `json:"remaining_balance"`
	TransactionID    string `json:"transaction_id,omitempty"`
	Message          string `json:"message"`
}

// ProcessFlexiblePayment debits the cost of the given hours at the current
// rate, or of a pending session's billing row, which is then marked paid.
// An insufficient balance leaves the account untouched.
func (s *BillingService) ProcessFlexiblePayment(ctx context.Context, req FlexiblePaymentRequest) (FlexiblePaymentResult, error) {
	if req.SessionID == "" && (req.FlightHours.IsNegative() || req.GroundHours.IsNegative() || req.FlightHours.Add(req.GroundHours).IsZero()) {
		return FlexiblePaymentResult{Message: ErrInvalidHours.Error()}, ErrInvalidHours
	}
	var result FlexiblePaymentResult
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = FlexiblePaymentResult{}
		locked, err := s.lockAccount(ctx, tx, req.StudentID, req.InstructorID)
		if err != nil {
			return err
		}
		mode, ok := locked.Mode().(models.FlexibleMode)
		if !ok {
			return ErrWrongAccountMode
		}
		if locked.Status != models.AccountActive {
			return ErrAccountNotActive
		}
		flightHours, groundHours := req.FlightHours, req.GroundHours
		var billing models.FlightSessionBilling
		var total int64
		if req.SessionID != "" {
			billing, err = s.sessions.GetForUpdate(ctx, tx, req.SessionID)
			if errors.Is(err, sql.ErrNoRows) || (err == nil && (billing.StudentID != req.StudentID || billing.InstructorID != req.InstructorID)) {
				return ErrBillingRecordMissing
			}
			if err != nil {
				return err
			}
			if billing.BillingStatus != models.BillingPending {
				return ErrSessionAlreadyBilled
			}
			flightHours, groundHours = billing.FlightHours, billing.GroundHours()
			total = billing.TotalCost
		} else {
			rate, err := s.currentRate(ctx, tx, req.StudentID, req.InstructorID)
			if err != nil {
				return err
			}
			flightCost, groundCost := s.sessionCost(rate, flightHours, groundHours)
			total = flightCost + groundCost
		}
		result.RemainingBalance = mode.Balance
		if total > mode.Balance {
			return ErrInsufficientBalance
		}
		description := req.Description
		if description == "" {
			description = "Flight instruction"
		}
		description = fmt.Sprintf("%s (%s flight h, %s ground h)", description, flightHours.StringFixed(2), groundHours.StringFixed(2))
		entry, err := s.recordTransactionTx(ctx, tx, &locked, TransactionRequest{
			Type:          models.TxFlightDebit,
			CashAmount:    total,
			Description:   description,
			ReferenceType: models.ReferenceFlexiblePayment,
			ReferenceID:   req.SessionID,
			ProcessedBy:   req.ProcessedBy,
		})
		if err != nil {
			return err
		}
		if req.SessionID != "" {
			marked, err := s.sessions.MarkPaidDirect(ctx, tx, billing.ID)
			if err != nil {
				return err
			}
			if marked != 1 {
				return ErrSessionAlreadyBilled
			}
		}
		account = locked
		result = FlexiblePaymentResult{
			Success:          true,
			AmountDeducted:   total,
			RemainingBalance: locked.AccountBalance,
			TransactionID:    entry.ID,
			Message:          "Payment processed",
		}
		return s.checkLowBalance(ctx, tx, locked)
	})
	if err != nil {
		result.Success = false
		result.AmountDeducted = 0
		result.TransactionID = ""
		result.Message = err.Error()
		return result, err
	}
	s.broadcast(account)
	return result, nil
}

func (s *BillingService) GetTransactions(ctx context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.ListByAccount(ctx, studentID, instructorID, limit, offset)
}

type AccountSettings struct {
	StudentID           string
	InstructorID        string
	AccountType         *models.AccountType
	LowBalanceThreshold *int64
	Status              *models.AccountStatus
	ActorID             string
}

func (s *BillingService) UpdateAccountSettings(ctx context.Context, req AccountSettings) (models.Account, error) {
	if req.AccountType != nil && !req.AccountType.Valid() {
		return models.Account{}, ErrInvalidAccountSettings
	}
	if req.Status != nil && !req.Status.Valid() {
		return models.Account{}, ErrInvalidAccountSettings
	}
	if req.LowBalanceThreshold != nil && *req.LowBalanceThreshold < 0 {
		return models.Account{}, ErrInvalidAccountSettings
	}
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockAccount(ctx, tx, req.StudentID, req.InstructorID)
		if err != nil {
			return err
		}
		if req.AccountType != nil {
			locked.AccountType = *req.AccountType
		}
		if req.LowBalanceThreshold != nil {
			locked.LowBalanceThreshold = *req.LowBalanceThreshold
		}
		if req.Status != nil {
			locked.Status = *req.Status
		}
		if err := s.accounts.UpdateSettings(ctx, tx, locked); err != nil {
			return err
		}
		account = locked
		return s.logAudit(ctx, tx, req.ActorID, "account_settings_updated", "account", locked.ID, map[string]any{
			"account_type":          locked.AccountType,
			"low_balance_threshold": locked.LowBalanceThreshold,
			"status":                locked.Status,
		})
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

type HoursPurchaseRequest struct {
	StudentID     string
	InstructorID  string
	FlightHours   decimal.Decimal
	GroundHours   decimal.Decimal
	AmountPaid    int64
	PaymentMethod string
	ProcessedBy   string
}

type HoursPurchaseResult struct {
	Success       bool            `json:"success"`
	PurchaseID    string          `json:"purchase_id"`
	TransactionID string          `json:"transaction_id"`
	FlightHours   decimal.Decimal `json:"prepaid_flight_hours"`
	GroundHours   decimal.Decimal `json:"prepaid_ground_hours"`
	Message       string          `json:"message"`
}

// PurchaseHours credits both prepaid buckets of a legacy account.
func (s *BillingService) PurchaseHours(ctx context.Context, req HoursPurchaseRequest) (HoursPurchaseResult, error) {
	if req.FlightHours.IsNegative() || req.GroundHours.IsNegative() || req.FlightHours.Add(req.GroundHours).IsZero() {
		return HoursPurchaseResult{Message: ErrInvalidHours.Error()}, ErrInvalidHours
	}
	if req.AmountPaid <= 0 {
		return HoursPurchaseResult{Message: ErrInvalidAmount.Error()}, ErrInvalidAmount
	}
	var result HoursPurchaseResult
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockAccount(ctx, tx, req.StudentID, req.InstructorID)
		if err != nil {
			return err
		}
		if _, ok := locked.Mode().(models.LegacyMode); !ok {
			return ErrWrongAccountMode
		}
		if locked.Status != models.AccountActive {
			return ErrAccountNotActive
		}
		purchase := models.HoursPurchase{
			ID:            uuid.NewString(),
			StudentID:     req.StudentID,
			InstructorID:  req.InstructorID,
			FlightHours:   req.FlightHours,
			GroundHours:   req.GroundHours,
			AmountPaid:    req.AmountPaid,
			PaymentMethod: req.PaymentMethod,
			ProcessedBy:   optionalString(req.ProcessedBy),
		}
		if err := s.purchases.Create(ctx, tx, purchase); err != nil {
			return err
		}
		entry, err := s.recordTransactionTx(ctx, tx, &locked, TransactionRequest{
			Type:          models.TxHoursCredit,
			FlightHours:   req.FlightHours,
			GroundHours:   req.GroundHours,
			Description:   fmt.Sprintf("Purchased hours for %s via %s", money.FormatMinor(req.AmountPaid), req.PaymentMethod),
			ReferenceType: models.ReferenceHoursPurchase,
			ReferenceID:   purchase.ID,
			ProcessedBy:   req.ProcessedBy,
		})
		if err != nil {
			return err
		}
		account = locked
		result = HoursPurchaseResult{
			Success:       true,
			PurchaseID:    purchase.ID,
			TransactionID: entry.ID,
			FlightHours:   locked.PrepaidFlightHours,
			GroundHours:   locked.PrepaidGroundHours,
			Message:       "Hours purchased",
		}
		return nil
	})
	if err != nil {
		return HoursPurchaseResult{Message: err.Error()}, err
	}
	s.broadcast(account)
	return result, nil
}

// GetHoursPurchases lists the pair's bulk hour purchases newest first.
func (s *BillingService) GetHoursPurchases(ctx context.Context, studentID, instructorID string) ([]models.HoursPurchase, error) {
	return s.purchases.ListByAccount(ctx, studentID, instructorID)
}

type ReconciliationRow struct {
	store.AccountReconciliation
	Consistent bool `json:"consistent"`
}

// Reconcile flags accounts whose cached balance differs from the snapshot
// of their newest ledger entry.
func (s *BillingService) Reconcile(ctx context.Context) ([]ReconciliationRow, error) {
	rows, err := s.accounts.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ReconciliationRow, 0, len(rows))
	for _, row := range rows {
		consistent := row.LedgerBalance == nil && row.StoredBalance == 0
		if row.LedgerBalance != nil {
			consistent = *row.LedgerBalance == row.StoredBalance
		}
		out = append(out, ReconciliationRow{AccountReconciliation: row, Consistent: consistent})
	}
	return out, nil
}
