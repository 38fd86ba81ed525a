package services

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"flightledger/internal/logging"
	"flightledger/internal/models"
	"flightledger/internal/processor"
	"flightledger/internal/store"
	"flightledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// memState is an in-memory database for service scenarios. memTxRunner
// restores it when a transaction function fails.
type memState struct {
	rates     map[string]models.RateSchedule
	accounts  map[string]models.Account
	ledger    []models.BillingTransaction
	sessions  map[string]models.FlightSession
	billing   map[string]models.FlightSessionBilling
	invoices  map[string]models.Invoice
	lineItems []models.InvoiceLineItem
	purchases []models.HoursPurchase
	outbox    []models.OutboxEvent
	audit     []string
}

func newMemState() *memState {
	return &memState{
		rates:    map[string]models.RateSchedule{},
		accounts: map[string]models.Account{},
		sessions: map[string]models.FlightSession{},
		billing:  map[string]models.FlightSessionBilling{},
		invoices: map[string]models.Invoice{},
	}
}

func (m *memState) clone() memState {
	c := memState{
		rates:     make(map[string]models.RateSchedule, len(m.rates)),
		accounts:  make(map[string]models.Account, len(m.accounts)),
		ledger:    append([]models.BillingTransaction(nil), m.ledger...),
		sessions:  make(map[string]models.FlightSession, len(m.sessions)),
		billing:   make(map[string]models.FlightSessionBilling, len(m.billing)),
		invoices:  make(map[string]models.Invoice, len(m.invoices)),
		lineItems: append([]models.InvoiceLineItem(nil), m.lineItems...),
		purchases: append([]models.HoursPurchase(nil), m.purchases...),
		outbox:    append([]models.OutboxEvent(nil), m.outbox...),
		audit:     append([]string(nil), m.audit...),
	}
	for k, v := range m.rates {
		c.rates[k] = v
	}
	for k, v := range m.accounts {
		c.accounts[k] = v
	}
	for k, v := range m.sessions {
		c.sessions[k] = v
	}
	for k, v := range m.billing {
		c.billing[k] = v
	}
	for k, v := range m.invoices {
		c.invoices[k] = v
	}
	return c
}

func (m *memState) eventsOf(kind models.EventKind) []models.OutboxEvent {
	var out []models.OutboxEvent
	for _, event := range m.outbox {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

func pairKey(studentID, instructorID string) string {
	return studentID + "|" + instructorID
}

type memTxRunner struct {
	state *memState
}

func (r memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	snapshot := r.state.clone()
	if err := fn(nil); err != nil {
		*r.state = snapshot
		return err
	}
	return nil
}

type memRates struct{ s *memState }

func (m memRates) List(_ context.Context, studentID, instructorID string, active *bool) ([]models.RateSchedule, error) {
	var out []models.RateSchedule
	for _, rate := range m.s.rates {
		if rate.StudentID != studentID || rate.InstructorID != instructorID {
			continue
		}
		if active != nil && rate.IsActive != *active {
			continue
		}
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.After(out[j].EffectiveDate) })
	return out, nil
}

func (m memRates) GetActive(_ context.Context, _ store.Getter, studentID, instructorID string) (models.RateSchedule, error) {
	for _, rate := range m.s.rates {
		if rate.StudentID == studentID && rate.InstructorID == instructorID && rate.IsActive {
			return rate, nil
		}
	}
	return models.RateSchedule{}, sql.ErrNoRows
}

func (m memRates) GetByID(_ context.Context, _ store.Getter, rateID string) (models.RateSchedule, error) {
	rate, ok := m.s.rates[rateID]
	if !ok {
		return models.RateSchedule{}, sql.ErrNoRows
	}
	return rate, nil
}

func (m memRates) Create(_ context.Context, _ store.Execer, rate models.RateSchedule) error {
	m.s.rates[rate.ID] = rate
	return nil
}

func (m memRates) Update(_ context.Context, _ store.Execer, rate models.RateSchedule) error {
	m.s.rates[rate.ID] = rate
	return nil
}

func (m memRates) DeactivateOthers(_ context.Context, _ store.Execer, studentID, instructorID, keepID string) error {
	for id, rate := range m.s.rates {
		if rate.StudentID == studentID && rate.InstructorID == instructorID && id != keepID {
			rate.IsActive = false
			m.s.rates[id] = rate
		}
	}
	return nil
}

type memAccounts struct{ s *memState }

func (m memAccounts) CreateIfMissing(_ context.Context, _ store.Execer, account models.Account) error {
	key := pairKey(account.StudentID, account.InstructorID)
	if _, ok := m.s.accounts[key]; ok {
		return nil
	}
	m.s.accounts[key] = account
	return nil
}

func (m memAccounts) Find(_ context.Context, studentID, instructorID string) (models.Account, error) {
	account, ok := m.s.accounts[pairKey(studentID, instructorID)]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (m memAccounts) GetForUpdate(ctx context.Context, _ store.Getter, studentID, instructorID string) (models.Account, error) {
	return m.Find(ctx, studentID, instructorID)
}

func (m memAccounts) UpdateBalances(_ context.Context, _ store.Execer, account models.Account) error {
	key := pairKey(account.StudentID, account.InstructorID)
	current := m.s.accounts[key]
	current.AccountBalance = account.AccountBalance
	current.PrepaidFlightHours = account.PrepaidFlightHours
	current.PrepaidGroundHours = account.PrepaidGroundHours
	m.s.accounts[key] = current
	return nil
}

func (m memAccounts) UpdateSettings(_ context.Context, _ store.Execer, account models.Account) error {
	key := pairKey(account.StudentID, account.InstructorID)
	current := m.s.accounts[key]
	current.AccountType = account.AccountType
	current.LowBalanceThreshold = account.LowBalanceThreshold
	current.Status = account.Status
	m.s.accounts[key] = current
	return nil
}

func (m memAccounts) Reconcile(context.Context) ([]store.AccountReconciliation, error) {
	var out []store.AccountReconciliation
	for _, account := range m.s.accounts {
		row := store.AccountReconciliation{
			AccountID:     account.ID,
			StudentID:     account.StudentID,
			InstructorID:  account.InstructorID,
			StoredBalance: account.AccountBalance,
		}
		for _, entry := range m.s.ledger {
			if entry.AccountID != account.ID {
				continue
			}
			balance := entry.CashBalanceAfter
			id := entry.ID
			row.LedgerBalance = &balance
			row.LastTransaction = &id
			row.TransactionCount++
		}
		out = append(out, row)
	}
	return out, nil
}

type memLedger struct{ s *memState }

func (m memLedger) Insert(_ context.Context, _ store.Execer, entry models.BillingTransaction) error {
	m.s.ledger = append(m.s.ledger, entry)
	return nil
}

func (m memLedger) ListByAccount(_ context.Context, studentID, instructorID string, limit, offset int) ([]models.BillingTransaction, error) {
	var out []models.BillingTransaction
	for i := len(m.s.ledger) - 1; i >= 0; i-- {
		entry := m.s.ledger[i]
		if entry.StudentID == studentID && entry.InstructorID == instructorID {
			out = append(out, entry)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m memLedger) ListByReference(_ context.Context, referenceType, referenceID string) ([]models.BillingTransaction, error) {
	var out []models.BillingTransaction
	for i := len(m.s.ledger) - 1; i >= 0; i-- {
		entry := m.s.ledger[i]
		if derefString(entry.ReferenceType) == referenceType && derefString(entry.ReferenceID) == referenceID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type memSessions struct{ s *memState }

func (m memSessions) GetSession(_ context.Context, _ store.Getter, sessionID string) (models.FlightSession, error) {
	session, ok := m.s.sessions[sessionID]
	if !ok {
		return models.FlightSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (m memSessions) GetBySession(_ context.Context, _ store.Getter, sessionID string) (models.FlightSessionBilling, error) {
	billing, ok := m.s.billing[sessionID]
	if !ok {
		return models.FlightSessionBilling{}, sql.ErrNoRows
	}
	return billing, nil
}

func (m memSessions) GetForUpdate(ctx context.Context, tx store.Getter, sessionID string) (models.FlightSessionBilling, error) {
	return m.GetBySession(ctx, tx, sessionID)
}

func (m memSessions) Create(_ context.Context, _ store.Execer, billing models.FlightSessionBilling) error {
	if _, ok := m.s.billing[billing.FlightSessionID]; ok {
		return &pq.Error{Code: "23505"}
	}
	m.s.billing[billing.FlightSessionID] = billing
	return nil
}

func (m memSessions) UpdateHours(_ context.Context, _ store.Execer, billing models.FlightSessionBilling) error {
	m.s.billing[billing.FlightSessionID] = billing
	return nil
}

func (m memSessions) ListPendingForUpdate(_ context.Context, _ store.Selecter, studentID, instructorID string, sessionIDs []string) ([]models.FlightSessionBilling, error) {
	var out []models.FlightSessionBilling
	for _, id := range sessionIDs {
		billing, ok := m.s.billing[id]
		if !ok || billing.StudentID != studentID || billing.InstructorID != instructorID {
			continue
		}
		if billing.BillingStatus == models.BillingPending {
			out = append(out, billing)
		}
	}
	return out, nil
}

func (m memSessions) MarkInvoiced(_ context.Context, _ store.Execer, billingIDs []string, invoiceID string) (int64, error) {
	var marked int64
	for key, billing := range m.s.billing {
		for _, id := range billingIDs {
			if billing.ID == id && billing.BillingStatus == models.BillingPending {
				billing.BillingStatus = models.BillingInvoiced
				billing.InvoiceID = stringPtr(invoiceID)
				m.s.billing[key] = billing
				marked++
			}
		}
	}
	return marked, nil
}

func (m memSessions) MarkPaidByInvoice(_ context.Context, _ store.Execer, invoiceID string) error {
	for key, billing := range m.s.billing {
		if derefString(billing.InvoiceID) == invoiceID {
			billing.BillingStatus = models.BillingPaid
			m.s.billing[key] = billing
		}
	}
	return nil
}

func (m memSessions) MarkPaidDirect(_ context.Context, _ store.Execer, billingID string) (int64, error) {
	for key, billing := range m.s.billing {
		if billing.ID == billingID && billing.BillingStatus == models.BillingPending {
			billing.BillingStatus = models.BillingPaid
			m.s.billing[key] = billing
			return 1, nil
		}
	}
	return 0, nil
}

func (m memSessions) SetInstructorApproval(_ context.Context, _ store.Execer, sessionID string, approved bool, at time.Time) (int64, error) {
	billing, ok := m.s.billing[sessionID]
	if !ok {
		return 0, nil
	}
	billing.InstructorApproved = approved
	billing.InstructorApprovedAt = &at
	m.s.billing[sessionID] = billing
	return 1, nil
}

func (m memSessions) SetStudentAcknowledgment(_ context.Context, _ store.Execer, sessionID string, acknowledged bool, at time.Time) (int64, error) {
	billing, ok := m.s.billing[sessionID]
	if !ok {
		return 0, nil
	}
	billing.StudentAcknowledged = acknowledged
	billing.StudentAcknowledgedAt = &at
	m.s.billing[sessionID] = billing
	return 1, nil
}

type memInvoices struct{ s *memState }

func (m memInvoices) Create(_ context.Context, _ store.Execer, invoice models.Invoice) error {
	invoice.LineItems = nil
	m.s.invoices[invoice.ID] = invoice
	return nil
}

func (m memInvoices) InsertLineItems(_ context.Context, _ store.Execer, items []models.InvoiceLineItem) error {
	m.s.lineItems = append(m.s.lineItems, items...)
	return nil
}

func (m memInvoices) GetByID(_ context.Context, invoiceID string) (models.Invoice, error) {
	invoice, ok := m.s.invoices[invoiceID]
	if !ok {
		return models.Invoice{}, sql.ErrNoRows
	}
	return invoice, nil
}

func (m memInvoices) GetForUpdate(ctx context.Context, _ store.Getter, invoiceID string) (models.Invoice, error) {
	return m.GetByID(ctx, invoiceID)
}

func (m memInvoices) List(_ context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, invoice := range m.s.invoices {
		if filter.StudentID != "" && invoice.StudentID != filter.StudentID {
			continue
		}
		if filter.InstructorID != "" && invoice.InstructorID != filter.InstructorID {
			continue
		}
		if filter.Status != "" && invoice.Status != filter.Status {
			continue
		}
		out = append(out, invoice)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memInvoices) ListLineItems(_ context.Context, invoiceIDs []string) ([]models.InvoiceLineItem, error) {
	var out []models.InvoiceLineItem
	for _, item := range m.s.lineItems {
		for _, id := range invoiceIDs {
			if item.InvoiceID == id {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func (m memInvoices) MarkPaid(_ context.Context, _ store.Execer, invoiceID, method string, reference *string, paidDate time.Time) error {
	invoice := m.s.invoices[invoiceID]
	invoice.Status = models.InvoicePaid
	invoice.PaymentMethod = stringPtr(method)
	invoice.ExternalPaymentReference = reference
	invoice.PaidDate = &paidDate
	m.s.invoices[invoiceID] = invoice
	return nil
}

func (m memInvoices) RecordRefund(_ context.Context, _ store.Execer, invoiceID string, refundedAmount int64, status models.InvoiceStatus) error {
	invoice := m.s.invoices[invoiceID]
	invoice.RefundedAmount = refundedAmount
	invoice.Status = status
	m.s.invoices[invoiceID] = invoice
	return nil
}

func (m memInvoices) MarkOverdue(_ context.Context, _ store.Selecter, asOf time.Time) ([]models.Invoice, error) {
	var out []models.Invoice
	for id, invoice := range m.s.invoices {
		if (invoice.Status == models.InvoiceDraft || invoice.Status == models.InvoiceSent) && invoice.DueDate.Before(asOf) {
			invoice.Status = models.InvoiceOverdue
			m.s.invoices[id] = invoice
			out = append(out, invoice)
		}
	}
	return out, nil
}

type memPurchases struct{ s *memState }

func (m memPurchases) Create(_ context.Context, _ store.Execer, purchase models.HoursPurchase) error {
	m.s.purchases = append(m.s.purchases, purchase)
	return nil
}

func (m memPurchases) ListByAccount(_ context.Context, studentID, instructorID string) ([]models.HoursPurchase, error) {
	var out []models.HoursPurchase
	for i := len(m.s.purchases) - 1; i >= 0; i-- {
		purchase := m.s.purchases[i]
		if purchase.StudentID == studentID && purchase.InstructorID == instructorID {
			out = append(out, purchase)
		}
	}
	return out, nil
}

type memOutbox struct{ s *memState }

func (m memOutbox) Enqueue(_ context.Context, _ store.Execer, event models.OutboxEvent) error {
	m.s.outbox = append(m.s.outbox, event)
	return nil
}

type memAudit struct{ s *memState }

func (m memAudit) Log(_ context.Context, _ store.Execer, _, action, _, _, _ string) error {
	m.s.audit = append(m.s.audit, action)
	return nil
}

type recordingHub struct {
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	h.updates = append(h.updates, update)
}

type scenario struct {
	t       *testing.T
	svc     *BillingService
	state   *memState
	proc    *processor.Fake
	hub     *recordingHub
	student string
	instr   string
}

func newScenario(t *testing.T) *scenario {
	return newScenarioWith(t, nil)
}

// newScenarioWith builds a service over fresh in-memory state. A nil proc
// uses processor.Fake.
func newScenarioWith(t *testing.T, proc processor.Processor) *scenario {
	t.Helper()
	state := newMemState()
	fake := processor.NewFake()
	if proc == nil {
		proc = fake
	}
	hub := &recordingHub{}
	svc := NewBillingService(memTxRunner{state: state}, Stores{
		Rates:          memRates{state},
		Accounts:       memAccounts{state},
		Ledger:         memLedger{state},
		Sessions:       memSessions{state},
		Invoices:       memInvoices{state},
		HoursPurchases: memPurchases{state},
		Outbox:         memOutbox{state},
		Audit:          memAudit{state},
	}, proc, hub, logging.Nop{}, Options{Currency: "USD"})
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &scenario{t: t, svc: svc, state: state, proc: fake, hub: hub, student: "stu-1", instr: "ins-1"}
}

func (sc *scenario) rate(flight, ground int64) models.RateSchedule {
	sc.t.Helper()
	rate, err := sc.svc.CreateRate(context.Background(), CreateRateRequest{
		StudentID:    sc.student,
		InstructorID: sc.instr,
		FlightRate:   flight,
		GroundRate:   ground,
		IsActive:     true,
		ActorID:      "admin-1",
	})
	if err != nil {
		sc.t.Fatalf("create rate: %v", err)
	}
	return rate
}

func (sc *scenario) fund(amount int64) {
	sc.t.Helper()
	if _, err := sc.svc.AddFunds(context.Background(), AddFundsRequest{
		StudentID:     sc.student,
		InstructorID:  sc.instr,
		Amount:        amount,
		PaymentMethod: "cash",
		ProcessedBy:   "admin-1",
	}); err != nil {
		sc.t.Fatalf("add funds: %v", err)
	}
}

// flight registers a completed session and records its billing.
func (sc *scenario) flight(id, flightHours, prebrief, postbrief string) models.FlightSessionBilling {
	sc.t.Helper()
	title := "Lesson " + id
	sc.state.sessions[id] = models.FlightSession{
		ID:             id,
		StudentID:      sc.student,
		InstructorID:   sc.instr,
		Status:         models.FlightSessionCompleted,
		FlightHours:    decimal.RequireFromString(flightHours),
		PrebriefHours:  decimal.RequireFromString(prebrief),
		PostbriefHours: decimal.RequireFromString(postbrief),
		LessonTitle:    &title,
	}
	billing, err := sc.svc.RecordSessionBilling(context.Background(), id, sc.instr)
	if err != nil {
		sc.t.Fatalf("record session billing: %v", err)
	}
	return billing
}

func (sc *scenario) account() models.Account {
	sc.t.Helper()
	account, err := sc.svc.GetAccount(context.Background(), sc.student, sc.instr)
	if err != nil {
		sc.t.Fatalf("get account: %v", err)
	}
	return account
}

func hours(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
