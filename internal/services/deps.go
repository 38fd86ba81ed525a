package services

import (
	"context"
	"time"

	"flightledger/internal/models"
	"flightledger/internal/store"
	"flightledger/internal/websocket"
)

type RateStore interface {
	List(ctx context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error)
	GetActive(ctx context.Context, q store.Getter, studentID, instructorID string) (models.RateSchedule, error)
	GetByID(ctx context.Context, q store.Getter, rateID string) (models.RateSchedule, error)
	Create(ctx context.Context, tx store.Execer, rate models.RateSchedule) error
	Update(ctx context.Context, tx store.Execer, rate models.RateSchedule) error
	DeactivateOthers(ctx context.Context, tx store.Execer, studentID, instructorID, keepID string) error
}

type AccountStore interface {
	CreateIfMissing(ctx context.Context, tx store.Execer, account models.Account) error
	Find(ctx context.Context, studentID, instructorID string) (models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, studentID, instructorID string) (models.Account, error)
	UpdateBalances(ctx context.Context, tx store.Execer, account models.Account) error
	UpdateSettings(ctx context.Context, tx store.Execer, account models.Account) error
	Reconcile(ctx context.Context) ([]store.AccountReconciliation, error)
}

type LedgerStore interface {
	Insert(ctx context.Context, tx store.Execer, entry models.BillingTransaction) error
	ListByAccount(ctx context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error)
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]models.BillingTransaction, error)
}

type SessionBillingStore interface {
	GetSession(ctx context.Context, q store.Getter, sessionID string) (models.FlightSession, error)
	GetBySession(ctx context.Context, q store.Getter, sessionID string) (models.FlightSessionBilling, error)
	GetForUpdate(ctx context.Context, tx store.Getter, sessionID string) (models.FlightSessionBilling, error)
	Create(ctx context.Context, tx store.Execer, billing models.FlightSessionBilling) error
	UpdateHours(ctx context.Context, tx store.Execer, billing models.FlightSessionBilling) error
	ListPendingForUpdate(ctx context.Context, tx store.Selecter, studentID, instructorID string, sessionIDs []string) ([]models.FlightSessionBilling, error)
	MarkInvoiced(ctx context.Context, tx store.Execer, billingIDs []string, invoiceID string) (int64, error)
	MarkPaidByInvoice(ctx context.Context, tx store.Execer, invoiceID string) error
	MarkPaidDirect(ctx context.Context, tx store.Execer, billingID string) (int64, error)
	SetInstructorApproval(ctx context.Context, tx store.Execer, sessionID string, approved bool, at time.Time) (int64, error)
	SetStudentAcknowledgment(ctx context.Context, tx store.Execer, sessionID string, acknowledged bool, at time.Time) (int64, error)
}

type InvoiceStore interface {
	Create(ctx context.Context, tx store.Execer, invoice models.Invoice) error
	InsertLineItems(ctx context.Context, tx store.Execer, items []models.InvoiceLineItem) error
	GetByID(ctx context.Context, invoiceID string) (models.Invoice, error)
	GetForUpdate(ctx context.Context, tx store.Getter, invoiceID string) (models.Invoice, error)
	List(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error)
	ListLineItems(ctx context.Context, invoiceIDs []string) ([]models.InvoiceLineItem, error)
	MarkPaid(ctx context.Context, tx store.Execer, invoiceID, method string, reference *string, paidDate time.Time) error
	RecordRefund(ctx context.Context, tx store.Execer, invoiceID string, refundedAmount int64, status models.InvoiceStatus) error
	MarkOverdue(ctx context.Context, tx store.Selecter, asOf time.Time) ([]models.Invoice, error)
}

type HoursPurchaseStore interface {
	Create(ctx context.Context, tx store.Execer, purchase models.HoursPurchase) error
	ListByAccount(ctx context.Context, studentID, instructorID string) ([]models.HoursPurchase, error)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, tx store.Execer, event models.OutboxEvent) error
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
}
