package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"flightledger/internal/db"
	"flightledger/internal/logging"
	"flightledger/internal/models"
	"flightledger/internal/money"
	"flightledger/internal/processor"
	"flightledger/internal/store"
	"flightledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Options struct {
	Currency                   string
	DefaultLowBalanceThreshold int64
	InvoiceNetDays             int
	// SettlementUnit is the smallest amount, in minor units, the payment
	// processor can charge. Session costs are rounded to it.
	SettlementUnit int64
}

// Stores groups the persistence dependencies of BillingService.
type Stores struct {
	Rates          RateStore
	Accounts       AccountStore
	Ledger         LedgerStore
	Sessions       SessionBillingStore
	Invoices       InvoiceStore
	HoursPurchases HoursPurchaseStore
	Outbox         OutboxStore
	Audit          AuditStore
}

// BillingService owns every balance mutation of student/instructor accounts.
// Mutations lock the account row inside a serializable transaction; balance
// pushes and notifications happen only after commit.
type BillingService struct {
	txRunner  db.TxRunner
	rates     RateStore
	accounts  AccountStore
	ledger    LedgerStore
	sessions  SessionBillingStore
	invoices  InvoiceStore
	purchases HoursPurchaseStore
	outbox    OutboxStore
	audit     AuditStore
	processor processor.Processor
	hub       BalanceHub
	logger    logging.Logger
	opts      Options
	now       func() time.Time
}

func NewBillingService(txRunner db.TxRunner, stores Stores, proc processor.Processor, hub BalanceHub, logger logging.Logger, opts Options) *BillingService {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.InvoiceNetDays <= 0 {
		opts.InvoiceNetDays = 30
	}
	return &BillingService{
		txRunner:  txRunner,
		rates:     stores.Rates,
		accounts:  stores.Accounts,
		ledger:    stores.Ledger,
		sessions:  stores.Sessions,
		invoices:  stores.Invoices,
		purchases: stores.HoursPurchases,
		outbox:    stores.Outbox,
		audit:     stores.Audit,
		processor: proc,
		hub:       hub,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// lockAccount provisions the pair's account if needed and locks its row for
// the rest of the transaction.
func (s *BillingService) lockAccount(ctx context.Context, tx *sqlx.Tx, studentID, instructorID string) (models.Account, error) {
	if err := s.accounts.CreateIfMissing(ctx, tx, s.newAccount(studentID, instructorID)); err != nil {
		return models.Account{}, err
	}
	return s.accounts.GetForUpdate(ctx, tx, studentID, instructorID)
}

func (s *BillingService) newAccount(studentID, instructorID string) models.Account {
	return models.Account{
		ID:                  uuid.NewString(),
		StudentID:           studentID,
		InstructorID:        instructorID,
		AccountType:         models.AccountFlexible,
		LowBalanceThreshold: s.opts.DefaultLowBalanceThreshold,
		Status:              models.AccountActive,
	}
}

func (s *BillingService) currentRate(ctx context.Context, q store.Getter, studentID, instructorID string) (models.RateSchedule, error) {
	rate, err := s.rates.GetActive(ctx, q, studentID, instructorID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RateSchedule{}, ErrNoActiveRate
	}
	return rate, err
}

// publish queues an event in the caller's transaction.
func (s *BillingService) publish(ctx context.Context, tx store.Execer, kind models.EventKind, userID string, payload models.EventPayload) error {
	if payload.Currency == "" {
		payload.Currency = s.opts.Currency
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, tx, models.OutboxEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		UserID:  userID,
		Payload: string(data),
	})
}

// checkLowBalance queues a low balance alert when a flexible account drops
// under its threshold.
func (s *BillingService) checkLowBalance(ctx context.Context, tx store.Execer, account models.Account) error {
	mode, ok := account.Mode().(models.FlexibleMode)
	if !ok || account.LowBalanceThreshold <= 0 || mode.Balance >= account.LowBalanceThreshold {
		return nil
	}
	return s.publish(ctx, tx, models.EventLowAccountBalance, account.StudentID, models.EventPayload{
		Balance:           mode.Balance,
		Threshold:         account.LowBalanceThreshold,
		RelatedEntityID:   account.ID,
		RelatedEntityType: "account",
	})
}

func (s *BillingService) logAudit(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.audit.Log(ctx, tx, actorID, action, entityType, entityID, string(encoded))
}

// broadcast pushes the committed balances to both parties of the account.
func (s *BillingService) broadcast(account models.Account) {
	if s.hub == nil || account.ID == "" {
		return
	}
	update := websocket.BalanceUpdate{
		AccountID:    account.ID,
		StudentID:    account.StudentID,
		InstructorID: account.InstructorID,
		Balance:      money.FormatMinor(account.AccountBalance),
		FlightHours:  account.PrepaidFlightHours.StringFixed(2),
		GroundHours:  account.PrepaidGroundHours.StringFixed(2),
		Currency:     s.opts.Currency,
	}
	s.hub.BroadcastBalance(account.StudentID, update)
	s.hub.BroadcastBalance(account.InstructorID, update)
}

func stringPtr(value string) *string {
	return &value
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
