package handlers

import (
	"context"
	"time"

	"flightledger/internal/models"
	"flightledger/internal/services"
	"flightledger/internal/store"
)

type RateService interface {
	GetRates(ctx context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error)
	GetCurrentRate(ctx context.Context, studentID, instructorID string) (models.RateSchedule, error)
	CreateRate(ctx context.Context, req services.CreateRateRequest) (models.RateSchedule, error)
	UpdateRate(ctx context.Context, rateID string, update services.RateUpdate, actorID string) (models.RateSchedule, error)
}

type LedgerService interface {
	GetAccount(ctx context.Context, studentID, instructorID string) (models.Account, error)
	CalculateAvailableHours(ctx context.Context, studentID, instructorID string) (services.AvailableHours, error)
	GetTransactions(ctx context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error)
	RecordTransaction(ctx context.Context, req services.TransactionRequest) (models.BillingTransaction, error)
	AddFunds(ctx context.Context, req services.AddFundsRequest) (services.AddFundsResult, error)
	ProcessFlexiblePayment(ctx context.Context, req services.FlexiblePaymentRequest) (services.FlexiblePaymentResult, error)
	PurchaseHours(ctx context.Context, req services.HoursPurchaseRequest) (services.HoursPurchaseResult, error)
	GetHoursPurchases(ctx context.Context, studentID, instructorID string) ([]models.HoursPurchase, error)
	UpdateAccountSettings(ctx context.Context, req services.AccountSettings) (models.Account, error)
	Reconcile(ctx context.Context) ([]services.ReconciliationRow, error)
}

type SessionService interface {
	RecordSessionBilling(ctx context.Context, sessionID, processedBy string) (models.FlightSessionBilling, error)
	AdjustFlightSession(ctx context.Context, req services.AdjustSessionRequest) (services.AdjustmentResult, error)
	GetSessionAdjustments(ctx context.Context, sessionID string) ([]models.BillingTransaction, error)
	ApproveFlightSessionBilling(ctx context.Context, sessionID string, approved bool, actorID string) error
	AcknowledgeFlightSessionBilling(ctx context.Context, sessionID string, acknowledged bool, actorID string) error
	NotifyPINVerificationFailed(ctx context.Context, userID, sessionID, reason string) error
}

type InvoiceService interface {
	CreateInvoiceFromSessions(ctx context.Context, req services.CreateInvoiceRequest) (models.Invoice, error)
	GetInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error)
	MarkOverdueInvoices(ctx context.Context, asOf time.Time, actorID string) ([]models.Invoice, error)
}

type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, invoiceID string, req services.PaymentIntentRequest) (services.PaymentIntentResult, error)
	ProcessInvoicePayment(ctx context.Context, req services.InvoicePaymentRequest) (services.InvoicePaymentResult, error)
	RefundPayment(ctx context.Context, req services.RefundRequest) (services.RefundResult, error)
	PayFromAccountBalance(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (services.BalancePaymentResult, error)
	PayFromPrepaidHours(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (services.HoursPaymentResult, error)
}

// BillingService is the full billing surface served over HTTP.
type BillingService interface {
	RateService
	LedgerService
	SessionService
	InvoiceService
	PaymentService
}

type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID, userID string) error
}

type AuditStore interface {
	List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]store.AuditEntry, error)
}
