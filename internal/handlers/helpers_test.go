package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flightledger/internal/auth"
	"flightledger/internal/config"
	"flightledger/internal/logging"
	"flightledger/internal/models"
	"flightledger/internal/services"
	"flightledger/internal/store"
	"flightledger/internal/websocket"
)

type stubBilling struct {
	getRatesFn          func(ctx context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error)
	getCurrentRateFn    func(ctx context.Context, studentID, instructorID string) (models.RateSchedule, error)
	createRateFn        func(ctx context.Context, req services.CreateRateRequest) (models.RateSchedule, error)
	updateRateFn        func(ctx context.Context, rateID string, update services.RateUpdate, actorID string) (models.RateSchedule, error)
	getAccountFn        func(ctx context.Context, studentID, instructorID string) (models.Account, error)
	availableHoursFn    func(ctx context.Context, studentID, instructorID string) (services.AvailableHours, error)
	getTransactionsFn   func(ctx context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error)
	recordTransactionFn func(ctx context.Context, req services.TransactionRequest) (models.BillingTransaction, error)
	addFundsFn          func(ctx context.Context, req services.AddFundsRequest) (services.AddFundsResult, error)
	flexiblePaymentFn   func(ctx context.Context, req services.FlexiblePaymentRequest) (services.FlexiblePaymentResult, error)
	purchaseHoursFn     func(ctx context.Context, req services.HoursPurchaseRequest) (services.HoursPurchaseResult, error)
	hoursPurchasesFn    func(ctx context.Context, studentID, instructorID string) ([]models.HoursPurchase, error)
	updateSettingsFn    func(ctx context.Context, req services.AccountSettings) (models.Account, error)
	reconcileFn         func(ctx context.Context) ([]services.ReconciliationRow, error)
	recordSessionFn     func(ctx context.Context, sessionID, processedBy string) (models.FlightSessionBilling, error)
	adjustSessionFn     func(ctx context.Context, req services.AdjustSessionRequest) (services.AdjustmentResult, error)
	adjustmentsFn       func(ctx context.Context, sessionID string) ([]models.BillingTransaction, error)
	approveFn           func(ctx context.Context, sessionID string, approved bool, actorID string) error
	acknowledgeFn       func(ctx context.Context, sessionID string, acknowledged bool, actorID string) error
	pinFailedFn         func(ctx context.Context, userID, sessionID, reason string) error
	createInvoiceFn     func(ctx context.Context, req services.CreateInvoiceRequest) (models.Invoice, error)
	getInvoicesFn       func(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error)
	getInvoiceFn        func(ctx context.Context, invoiceID string) (models.Invoice, error)
	markOverdueFn       func(ctx context.Context, asOf time.Time, actorID string) ([]models.Invoice, error)
	paymentIntentFn     func(ctx context.Context, invoiceID string, req services.PaymentIntentRequest) (services.PaymentIntentResult, error)
	invoicePaymentFn    func(ctx context.Context, req services.InvoicePaymentRequest) (services.InvoicePaymentResult, error)
	refundFn            func(ctx context.Context, req services.RefundRequest) (services.RefundResult, error)
	payFromBalanceFn    func(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (services.BalancePaymentResult, error)
	payFromHoursFn      func(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (services.HoursPaymentResult, error)
}

func (s stubBilling) GetRates(ctx context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error) {
	if s.getRatesFn == nil {
		return nil, nil
	}
	return s.getRatesFn(ctx, studentID, instructorID, active)
}

func (s stubBilling) GetCurrentRate(ctx context.Context, studentID, instructorID string) (models.RateSchedule, error) {
	if s.getCurrentRateFn == nil {
		return models.RateSchedule{}, nil
	}
	return s.getCurrentRateFn(ctx, studentID, instructorID)
}

func (s stubBilling) CreateRate(ctx context.Context, req services.CreateRateRequest) (models.RateSchedule, error) {
	if s.createRateFn == nil {
		return models.RateSchedule{}, nil
	}
	return s.createRateFn(ctx, req)
}

func (s stubBilling) UpdateRate(ctx context.Context, rateID string, update services.RateUpdate, actorID string) (models.RateSchedule, error) {
	if s.updateRateFn == nil {
		return models.RateSchedule{}, nil
	}
	return s.updateRateFn(ctx, rateID, update, actorID)
}

func (s stubBilling) GetAccount(ctx context.Context, studentID, instructorID string) (models.Account, error) {
	if s.getAccountFn == nil {
		return models.Account{}, nil
	}
	return s.getAccountFn(ctx, studentID, instructorID)
}

func (s stubBilling) CalculateAvailableHours(ctx context.Context, studentID, instructorID string) (services.AvailableHours, error) {
	if s.availableHoursFn == nil {
		return services.AvailableHours{}, nil
	}
	return s.availableHoursFn(ctx, studentID, instructorID)
}

func (s stubBilling) GetTransactions(ctx context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error) {
	if s.getTransactionsFn == nil {
		return nil, nil
	}
	return s.getTransactionsFn(ctx, studentID, instructorID, limit, offset)
}

func (s stubBilling) RecordTransaction(ctx context.Context, req services.TransactionRequest) (models.BillingTransaction, error) {
	if s.recordTransactionFn == nil {
		return models.BillingTransaction{}, nil
	}
	return s.recordTransactionFn(ctx, req)
}

func (s stubBilling) AddFunds(ctx context.Context, req services.AddFundsRequest) (services.AddFundsResult, error) {
	if s.addFundsFn == nil {
		return services.AddFundsResult{}, nil
	}
	return s.addFundsFn(ctx, req)
}

func (s stubBilling) ProcessFlexiblePayment(ctx context.Context, req services.FlexiblePaymentRequest) (services.FlexiblePaymentResult, error) {
	if s.flexiblePaymentFn == nil {
		return services.FlexiblePaymentResult{}, nil
	}
	return s.flexiblePaymentFn(ctx, req)
}

func (s stubBilling) PurchaseHours(ctx context.Context, req services.HoursPurchaseRequest) (services.HoursPurchaseResult, error) {
	if s.purchaseHoursFn == nil {
		return services.HoursPurchaseResult{}, nil
	}
	return s.purchaseHoursFn(ctx, req)
}

func (s stubBilling) GetHoursPurchases(ctx context.Context, studentID, instructorID string) ([]models.HoursPurchase, error) {
	if s.hoursPurchasesFn == nil {
		return nil, nil
	}
	return s.hoursPurchasesFn(ctx, studentID, instructorID)
}

func (s stubBilling) UpdateAccountSettings(ctx context.Context, req services.AccountSettings) (models.Account, error) {
	if s.updateSettingsFn == nil {
		return models.Account{}, nil
	}
	return s.updateSettingsFn(ctx, req)
}

func (s stubBilling) Reconcile(ctx context.Context) ([]services.ReconciliationRow, error) {
	if s.reconcileFn == nil {
		return nil, nil
	}
	return s.reconcileFn(ctx)
}

func (s stubBilling) RecordSessionBilling(ctx context.Context, sessionID, processedBy string) (models.FlightSessionBilling, error) {
	if s.recordSessionFn == nil {
		return models.FlightSessionBilling{}, nil
	}
	return s.recordSessionFn(ctx, sessionID, processedBy)
}

func (s stubBilling) AdjustFlightSession(ctx context.Context, req services.AdjustSessionRequest) (services.AdjustmentResult, error) {
	if s.adjustSessionFn == nil {
		return services.AdjustmentResult{}, nil
	}
	return s.adjustSessionFn(ctx, req)
}

func (s stubBilling) GetSessionAdjustments(ctx context.Context, sessionID string) ([]models.BillingTransaction, error) {
	if s.adjustmentsFn == nil {
		return nil, nil
	}
	return s.adjustmentsFn(ctx, sessionID)
}

func (s stubBilling) ApproveFlightSessionBilling(ctx context.Context, sessionID string, approved bool, actorID string) error {
	if s.approveFn == nil {
		return nil
	}
	return s.approveFn(ctx, sessionID, approved, actorID)
}

func (s stubBilling) AcknowledgeFlightSessionBilling(ctx context.Context, sessionID string, acknowledged bool, actorID string) error {
	if s.acknowledgeFn == nil {
		return nil
	}
	return s.acknowledgeFn(ctx, sessionID, acknowledged, actorID)
}

func (s stubBilling) NotifyPINVerificationFailed(ctx context.Context, userID, sessionID, reason string) error {
	if s.pinFailedFn == nil {
		return nil
	}
	return s.pinFailedFn(ctx, userID, sessionID, reason)
}

func (s stubBilling) CreateInvoiceFromSessions(ctx context.Context, req services.CreateInvoiceRequest) (models.Invoice, error) {
	if s.createInvoiceFn == nil {
		return models.Invoice{}, nil
	}
	return s.createInvoiceFn(ctx, req)
}

func (s stubBilling) GetInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	if s.getInvoicesFn == nil {
		return nil, nil
	}
	return s.getInvoicesFn(ctx, filter)
}

func (s stubBilling) GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	if s.getInvoiceFn == nil {
		return models.Invoice{}, services.ErrInvoiceNotFound
	}
	return s.getInvoiceFn(ctx, invoiceID)
}

func (s stubBilling) MarkOverdueInvoices(ctx context.Context, asOf time.Time, actorID string) ([]models.Invoice, error) {
	if s.markOverdueFn == nil {
		return nil, nil
	}
	return s.markOverdueFn(ctx, asOf, actorID)
}

func (s stubBilling) CreatePaymentIntent(ctx context.Context, invoiceID string, req services.PaymentIntentRequest) (services.PaymentIntentResult, error) {
	if s.paymentIntentFn == nil {
		return services.PaymentIntentResult{}, nil
	}
	return s.paymentIntentFn(ctx, invoiceID, req)
}

func (s stubBilling) ProcessInvoicePayment(ctx context.Context, req services.InvoicePaymentRequest) (services.InvoicePaymentResult, error) {
	if s.invoicePaymentFn == nil {
		return services.InvoicePaymentResult{}, nil
	}
	return s.invoicePaymentFn(ctx, req)
}

func (s stubBilling) RefundPayment(ctx context.Context, req services.RefundRequest) (services.RefundResult, error) {
	if s.refundFn == nil {
		return services.RefundResult{}, nil
	}
	return s.refundFn(ctx, req)
}

func (s stubBilling) PayFromAccountBalance(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (services.BalancePaymentResult, error) {
	if s.payFromBalanceFn == nil {
		return services.BalancePaymentResult{}, nil
	}
	return s.payFromBalanceFn(ctx, invoiceID, studentID, instructorID, processedBy)
}

func (s stubBilling) PayFromPrepaidHours(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (services.HoursPaymentResult, error) {
	if s.payFromHoursFn == nil {
		return services.HoursPaymentResult{}, nil
	}
	return s.payFromHoursFn(ctx, invoiceID, studentID, instructorID, processedBy)
}

type stubNotifications struct {
	listFn     func(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	markReadFn func(ctx context.Context, notificationID, userID string) error
}

func (s stubNotifications) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, userID, unreadOnly, limit, offset)
}

func (s stubNotifications) MarkRead(ctx context.Context, notificationID, userID string) error {
	if s.markReadFn == nil {
		return nil
	}
	return s.markReadFn(ctx, notificationID, userID)
}

type stubAuditStore struct {
	listFn         func(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
	listByEntityFn func(ctx context.Context, entityType, entityID string) ([]store.AuditEntry, error)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

func (s stubAuditStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]store.AuditEntry, error) {
	if s.listByEntityFn == nil {
		return nil, nil
	}
	return s.listByEntityFn(ctx, entityType, entityID)
}

func newTestHandler(billing BillingService, notifications NotificationService, audit AuditStore) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		JWTSecret:      "secret",
		AllowedOrigins: "*",
		Currency:       "USD",
	}
	return New(cfg, billing, notifications, audit, websocket.NewHub(), logging.Nop{})
}

// serve sends a request through the full router as userID with role.
func serve(t *testing.T, h *Handler, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := auth.GenerateToken("secret", userID, role, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dest); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
