package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"flightledger/internal/models"
	"flightledger/internal/money"
	"flightledger/internal/processor"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	MethodExternal       = "external"
	MethodAccountBalance = "account_balance"
	MethodPrepaidHours   = "prepaid_hours"
)

func payable(status models.InvoiceStatus) bool {
	return status == models.InvoiceDraft || status == models.InvoiceSent || status == models.InvoiceOverdue
}

func refundable(status models.InvoiceStatus) bool {
	return status == models.InvoicePaid || status == models.InvoicePartiallyRefunded
}

func (s *BillingService) loadInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, ErrInvoiceNotFound
	}
	return invoice, err
}

func (s *BillingService) lockInvoice(ctx context.Context, tx *sqlx.Tx, invoiceID string) (models.Invoice, error) {
	invoice, err := s.invoices.GetForUpdate(ctx, tx, invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, ErrInvoiceNotFound
	}
	return invoice, err
}

type PaymentIntentRequest struct {
	Amount        int64
	Currency      string
	CustomerEmail string
	Description   string
	Metadata      map[string]string
}

type PaymentIntentResult struct {
	Success      bool   `json:"success"`
	ChargeID     string `json:"charge_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CreatePaymentIntent opens a pending charge for an unpaid invoice. Local
// state is not changed.
func (s *BillingService) CreatePaymentIntent(ctx context.Context, invoiceID string, req PaymentIntentRequest) (PaymentIntentResult, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return PaymentIntentResult{Error: err.Error()}, err
	}
	if !payable(invoice.Status) {
		return PaymentIntentResult{Error: ErrInvoiceAlreadyPaid.Error()}, ErrInvoiceAlreadyPaid
	}
	amount := req.Amount
	if amount == 0 {
		amount = invoice.TotalAmount
	}
	if amount <= 0 {
		return PaymentIntentResult{Error: ErrInvalidAmount.Error()}, ErrInvalidAmount
	}
	currency := req.Currency
	if currency == "" {
		currency = s.opts.Currency
	}
	description := req.Description
	if description == "" {
		description = "Invoice " + invoice.InvoiceNumber
	}
	metadata := map[string]string{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata["invoice_id"] = invoice.ID
	metadata["student_id"] = invoice.StudentID
	metadata["instructor_id"] = invoice.InstructorID

	charge, err := s.processor.CreateCharge(ctx, processor.ChargeRequest{
		OrderID:       fmt.Sprintf("%s-%d", invoice.InvoiceNumber, s.now().UnixNano()),
		AmountCents:   amount,
		Currency:      currency,
		CustomerEmail: req.CustomerEmail,
		Description:   description,
		Metadata:      metadata,
	})
	if err != nil {
		s.logger.Error("create payment intent failed", err, map[string]any{"invoice_id": invoice.ID})
		wrapped := fmt.Errorf("%w: %v", ErrProcessorFailure, err)
		return PaymentIntentResult{Error: wrapped.Error()}, wrapped
	}
	return PaymentIntentResult{
		Success:      true,
		ChargeID:     charge.ID,
		ClientSecret: charge.ClientSecret,
		RedirectURL:  charge.RedirectURL,
	}, nil
}

type InvoicePaymentRequest struct {
	InvoiceID     string
	Reference     string
	PaymentMethod string
	ProcessedBy   string
}

type InvoicePaymentResult struct {
	Success          bool     `json:"success"`
	InvoiceID        string   `json:"invoice_id"`
	AlreadyProcessed bool     `json:"already_processed,omitempty"`
	TransactionIDs   []string `json:"transaction_ids,omitempty"`
	Message          string   `json:"message"`
}

// ProcessInvoicePayment verifies an external charge against the invoice and
// marks it paid. The charge must have been opened for this invoice and must
// have succeeded for exactly its total. Replaying the same reference is a
// no-op.
func (s *BillingService) ProcessInvoicePayment(ctx context.Context, req InvoicePaymentRequest) (InvoicePaymentResult, error) {
	fail := func(err error) (InvoicePaymentResult, error) {
		return InvoicePaymentResult{InvoiceID: req.InvoiceID, Message: err.Error()}, err
	}
	if req.Reference == "" {
		return fail(ErrNoPaymentReference)
	}
	method := req.PaymentMethod
	if method == "" {
		method = MethodExternal
	}
	invoice, err := s.loadInvoice(ctx, req.InvoiceID)
	if err != nil {
		return fail(err)
	}
	if !payable(invoice.Status) {
		if sameReference(invoice, req.Reference) {
			return InvoicePaymentResult{Success: true, InvoiceID: invoice.ID, AlreadyProcessed: true, Message: "Payment already processed"}, nil
		}
		return fail(ErrInvoiceAlreadyPaid)
	}

	charge, err := s.processor.GetCharge(ctx, req.Reference)
	if err != nil {
		s.logger.Error("fetch charge failed", err, map[string]any{"invoice_id": invoice.ID, "reference": req.Reference})
		return fail(fmt.Errorf("%w: %v", ErrProcessorFailure, err))
	}
	if charge.Status != processor.StatusSucceeded {
		if charge.Status == processor.StatusFailed {
			s.publishAfter(ctx, models.EventPaymentFailed, invoice.StudentID, models.EventPayload{
				Amount:            invoice.TotalAmount,
				InvoiceID:         invoice.ID,
				InvoiceNumber:     invoice.InvoiceNumber,
				Reason:            "payment was declined or expired",
				RelatedEntityID:   invoice.ID,
				RelatedEntityType: "invoice",
			})
		}
		return fail(fmt.Errorf("%w: status %s", ErrPaymentNotCompleted, charge.Status))
	}
	if !chargeForInvoice(charge, invoice) {
		s.logger.Warn("payment charge belongs to another invoice", map[string]any{
			"invoice_id": invoice.ID,
			"reference":  req.Reference,
		})
		return fail(ErrChargeInvoiceMismatch)
	}
	if charge.AmountCents != invoice.TotalAmount {
		s.logger.Warn("payment amount mismatch", map[string]any{
			"invoice_id": invoice.ID,
			"expected":   invoice.TotalAmount,
			"received":   charge.AmountCents,
		})
		return fail(fmt.Errorf("%w: expected %s, received %s", ErrAmountMismatch, money.FormatMinor(invoice.TotalAmount), money.FormatMinor(charge.AmountCents)))
	}

	var result InvoicePaymentResult
	var account models.Account
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = InvoicePaymentResult{InvoiceID: invoice.ID}
		locked, err := s.lockInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		if !payable(locked.Status) {
			if sameReference(locked, req.Reference) {
				result.AlreadyProcessed = true
				return nil
			}
			return ErrInvoiceAlreadyPaid
		}
		acct, err := s.lockAccount(ctx, tx, locked.StudentID, locked.InstructorID)
		if err != nil {
			return err
		}
		entries := []TransactionRequest{{
			Type:        models.TxCashCredit,
			CashAmount:  locked.TotalAmount,
			Description: fmt.Sprintf("Payment received for invoice %s via %s", locked.InvoiceNumber, method),
		}}
		entries = append(entries, invoiceDebits(locked, decimal.Zero, decimal.Zero)...)
		for _, entry := range entries {
			entry.ReferenceType = models.ReferenceInvoice
			entry.ReferenceID = locked.ID
			entry.ProcessedBy = req.ProcessedBy
			recorded, err := s.recordTransactionTx(ctx, tx, &acct, entry)
			if err != nil {
				return err
			}
			result.TransactionIDs = append(result.TransactionIDs, recorded.ID)
		}
		account = acct
		return s.settleInvoice(ctx, tx, locked, method, &req.Reference, req.ProcessedBy)
	})
	if err != nil {
		return fail(err)
	}
	result.Success = true
	if result.AlreadyProcessed {
		result.Message = "Payment already processed"
		return result, nil
	}
	result.Message = "Payment processed"
	s.broadcast(account)
	return result, nil
}

// publishAfter queues an event in its own transaction. Failures are logged
// and otherwise ignored.
func (s *BillingService) publishAfter(ctx context.Context, kind models.EventKind, userID string, payload models.EventPayload) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.publish(ctx, tx, kind, userID, payload)
	})
	if err != nil {
		s.logger.Warn("queue notification failed", err, map[string]any{"kind": string(kind), "user_id": userID})
	}
}

// chargeForInvoice reports whether the charge was opened for this invoice.
// Charges carry the invoice id in their metadata when the processor keeps it,
// and their order id always starts with the invoice number.
func chargeForInvoice(charge processor.ChargeStatus, invoice models.Invoice) bool {
	if id, ok := charge.Metadata["invoice_id"]; ok && id != invoice.ID {
		return false
	}
	return strings.HasPrefix(charge.ID, invoice.InvoiceNumber+"-")
}

func sameReference(invoice models.Invoice, reference string) bool {
	return invoice.ExternalPaymentReference != nil && *invoice.ExternalPaymentReference == reference
}

// invoiceDebits charges the invoice's flight and ground amounts, with the
// given hours taken from the prepaid buckets.
func invoiceDebits(invoice models.Invoice, flightHours, groundHours decimal.Decimal) []TransactionRequest {
	var entries []TransactionRequest
	if invoice.FlightAmount > 0 || flightHours.IsPositive() {
		entries = append(entries, TransactionRequest{
			Type:        models.TxFlightDebit,
			FlightHours: flightHours,
			GroundHours: decimal.Zero,
			CashAmount:  invoice.FlightAmount,
			Description: fmt.Sprintf("Flight instruction, invoice %s (%s h)", invoice.InvoiceNumber, invoice.FlightHours.StringFixed(2)),
		})
	}
	if invoice.GroundAmount > 0 || groundHours.IsPositive() {
		entries = append(entries, TransactionRequest{
			Type:        models.TxGroundDebit,
			FlightHours: decimal.Zero,
			GroundHours: groundHours,
			CashAmount:  invoice.GroundAmount,
			Description: fmt.Sprintf("Ground instruction, invoice %s (%s h)", invoice.InvoiceNumber, invoice.GroundHours.StringFixed(2)),
		})
	}
	return entries
}

// settleInvoice marks the invoice and its sessions paid and queues the
// receipt notifications.
func (s *BillingService) settleInvoice(ctx context.Context, tx *sqlx.Tx, invoice models.Invoice, method string, reference *string, actorID string) error {
	if err := s.invoices.MarkPaid(ctx, tx, invoice.ID, method, reference, s.now().UTC()); err != nil {
		return err
	}
	if err := s.sessions.MarkPaidByInvoice(ctx, tx, invoice.ID); err != nil {
		return err
	}
	payload := models.EventPayload{
		Amount:            invoice.TotalAmount,
		InvoiceID:         invoice.ID,
		InvoiceNumber:     invoice.InvoiceNumber,
		RelatedEntityID:   invoice.ID,
		RelatedEntityType: "invoice",
	}
	if err := s.publish(ctx, tx, models.EventPaymentReceived, invoice.StudentID, payload); err != nil {
		return err
	}
	if err := s.publish(ctx, tx, models.EventPaymentReceived, invoice.InstructorID, payload); err != nil {
		return err
	}
	return s.logAudit(ctx, tx, actorID, "invoice_paid", "invoice", invoice.ID, map[string]any{
		"payment_method": method,
		"reference":      derefString(reference),
		"total_amount":   invoice.TotalAmount,
	})
}

type RefundRequest struct {
	InvoiceID   string
	Amount      int64
	Reason      string
	ProcessedBy string
}

type RefundResult struct {
	Success        bool                 `json:"success"`
	RefundID       string               `json:"refund_id,omitempty"`
	Amount         int64                `json:"amount"`
	RefundedAmount int64                `json:"refunded_amount"`
	Status         models.InvoiceStatus `json:"status,omitempty"`
	Message        string               `json:"message"`
}

// RefundPayment refunds part or all of an externally paid invoice. A zero
// amount refunds whatever has not been refunded yet.
func (s *BillingService) RefundPayment(ctx context.Context, req RefundRequest) (RefundResult, error) {
	fail := func(err error) (RefundResult, error) {
		return RefundResult{Message: err.Error()}, err
	}
	invoice, err := s.loadInvoice(ctx, req.InvoiceID)
	if err != nil {
		return fail(err)
	}
	if !refundable(invoice.Status) {
		return fail(ErrInvoiceNotPaid)
	}
	if invoice.ExternalPaymentReference == nil || *invoice.ExternalPaymentReference == "" {
		return fail(ErrNoPaymentReference)
	}
	remaining := invoice.TotalAmount - invoice.RefundedAmount
	amount := req.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 {
		return fail(ErrInvalidAmount)
	}
	if amount > remaining {
		return fail(ErrRefundExceedsPayment)
	}

	refund, err := s.processor.CreateRefund(ctx, processor.RefundRequest{
		ChargeID:       *invoice.ExternalPaymentReference,
		AmountCents:    amount,
		Reason:         req.Reason,
		IdempotencyKey: fmt.Sprintf("%s-refund-%d", invoice.ID, invoice.RefundedAmount+amount),
	})
	if err != nil {
		s.logger.Error("refund failed", err, map[string]any{"invoice_id": invoice.ID, "amount": amount})
		return fail(fmt.Errorf("%w: %v", ErrProcessorFailure, err))
	}

	var result RefundResult
	var account models.Account
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.lockInvoice(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}
		refunded := locked.RefundedAmount + amount
		if refunded > locked.TotalAmount {
			return ErrRefundExceedsPayment
		}
		status := models.InvoicePartiallyRefunded
		if refunded >= locked.TotalAmount {
			status = models.InvoiceCancelled
		}
		if err := s.invoices.RecordRefund(ctx, tx, locked.ID, refunded, status); err != nil {
			return err
		}
		acct, err := s.lockAccount(ctx, tx, locked.StudentID, locked.InstructorID)
		if err != nil {
			return err
		}
		description := fmt.Sprintf("Refund for invoice %s", locked.InvoiceNumber)
		if req.Reason != "" {
			description = fmt.Sprintf("%s: %s", description, req.Reason)
		}
		entries := []TransactionRequest{
			{Type: models.TxRefund, CashAmount: amount, Description: description},
			{Type: models.TxCashDebit, CashAmount: amount, Description: fmt.Sprintf("Refund returned to %s", derefString(locked.PaymentMethod))},
		}
		for _, entry := range entries {
			entry.FlightHours = decimal.Zero
			entry.GroundHours = decimal.Zero
			entry.ReferenceType = models.ReferenceInvoice
			entry.ReferenceID = locked.ID
			entry.ProcessedBy = req.ProcessedBy
			if _, err := s.recordTransactionTx(ctx, tx, &acct, entry); err != nil {
				return err
			}
		}
		account = acct
		result = RefundResult{
			Success:        true,
			RefundID:       refund.ID,
			Amount:         amount,
			RefundedAmount: refunded,
			Status:         status,
			Message:        "Refund processed",
		}
		if err := s.publish(ctx, tx, models.EventSessionAdjusted, locked.StudentID, models.EventPayload{
			RefundAmount:      amount,
			InvoiceID:         locked.ID,
			InvoiceNumber:     locked.InvoiceNumber,
			Reason:            req.Reason,
			RelatedEntityID:   locked.ID,
			RelatedEntityType: "invoice",
		}); err != nil {
			return err
		}
		return s.logAudit(ctx, tx, req.ProcessedBy, "invoice_refunded", "invoice", locked.ID, map[string]any{
			"amount":    amount,
			"refund_id": refund.ID,
			"status":    status,
		})
	})
	if err != nil {
		s.logger.Error("refund issued but not recorded", err, map[string]any{"invoice_id": invoice.ID, "refund_id": refund.ID})
		return fail(err)
	}
	s.broadcast(account)
	return result, nil
}

type BalancePaymentResult struct {
	Success          bool     `json:"success"`
	RemainingBalance int64    `json:"remaining_balance"`
	TransactionIDs   []string `json:"transaction_ids,omitempty"`
	Message          string   `json:"message"`
}

// PayFromAccountBalance settles an invoice from a flexible account's balance.
func (s *BillingService) PayFromAccountBalance(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (BalancePaymentResult, error) {
	var result BalancePaymentResult
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = BalancePaymentResult{}
		invoice, err := s.lockPayableInvoice(ctx, tx, invoiceID, studentID, instructorID)
		if err != nil {
			return err
		}
		acct, err := s.lockAccount(ctx, tx, studentID, instructorID)
		if err != nil {
			return err
		}
		mode, ok := acct.Mode().(models.FlexibleMode)
		if !ok {
			return ErrWrongAccountMode
		}
		if acct.Status != models.AccountActive {
			return ErrAccountNotActive
		}
		result.RemainingBalance = mode.Balance
		if mode.Balance < invoice.TotalAmount {
			return ErrInsufficientBalance
		}
		for _, entry := range invoiceDebits(invoice, decimal.Zero, decimal.Zero) {
			entry.ReferenceType = models.ReferenceInvoice
			entry.ReferenceID = invoice.ID
			entry.ProcessedBy = processedBy
			recorded, err := s.recordTransactionTx(ctx, tx, &acct, entry)
			if err != nil {
				return err
			}
			result.TransactionIDs = append(result.TransactionIDs, recorded.ID)
		}
		account = acct
		result.Success = true
		result.RemainingBalance = acct.AccountBalance
		result.Message = "Invoice paid from account balance"
		if err := s.settleInvoice(ctx, tx, invoice, MethodAccountBalance, nil, processedBy); err != nil {
			return err
		}
		return s.checkLowBalance(ctx, tx, acct)
	})
	if err != nil {
		result.Success = false
		result.TransactionIDs = nil
		result.Message = err.Error()
		return result, err
	}
	s.broadcast(account)
	return result, nil
}

type HoursPaymentResult struct {
	Success              bool            `json:"success"`
	RemainingFlightHours decimal.Decimal `json:"remaining_flight_hours"`
	RemainingGroundHours decimal.Decimal `json:"remaining_ground_hours"`
	TransactionIDs       []string        `json:"transaction_ids,omitempty"`
	Message              string          `json:"message"`
}

// PayFromPrepaidHours settles an invoice from a legacy account's buckets.
func (s *BillingService) PayFromPrepaidHours(ctx context.Context, invoiceID, studentID, instructorID, processedBy string) (HoursPaymentResult, error) {
	result := HoursPaymentResult{RemainingFlightHours: decimal.Zero, RemainingGroundHours: decimal.Zero}
	var account models.Account
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = HoursPaymentResult{RemainingFlightHours: decimal.Zero, RemainingGroundHours: decimal.Zero}
		invoice, err := s.lockPayableInvoice(ctx, tx, invoiceID, studentID, instructorID)
		if err != nil {
			return err
		}
		acct, err := s.lockAccount(ctx, tx, studentID, instructorID)
		if err != nil {
			return err
		}
		mode, ok := acct.Mode().(models.LegacyMode)
		if !ok {
			return ErrWrongAccountMode
		}
		if acct.Status != models.AccountActive {
			return ErrAccountNotActive
		}
		result.RemainingFlightHours = mode.FlightHours
		result.RemainingGroundHours = mode.GroundHours
		if mode.FlightHours.LessThan(invoice.FlightHours) || mode.GroundHours.LessThan(invoice.GroundHours) {
			return ErrInsufficientHours
		}
		cashless := invoice
		cashless.FlightAmount = 0
		cashless.GroundAmount = 0
		for _, entry := range invoiceDebits(cashless, invoice.FlightHours, invoice.GroundHours) {
			entry.ReferenceType = models.ReferenceInvoice
			entry.ReferenceID = invoice.ID
			entry.ProcessedBy = processedBy
			recorded, err := s.recordTransactionTx(ctx, tx, &acct, entry)
			if err != nil {
				return err
			}
			result.TransactionIDs = append(result.TransactionIDs, recorded.ID)
		}
		account = acct
		result.Success = true
		result.RemainingFlightHours = acct.PrepaidFlightHours
		result.RemainingGroundHours = acct.PrepaidGroundHours
		result.Message = "Invoice paid from prepaid hours"
		return s.settleInvoice(ctx, tx, invoice, MethodPrepaidHours, nil, processedBy)
	})
	if err != nil {
		result.Success = false
		result.TransactionIDs = nil
		result.Message = err.Error()
		return result, err
	}
	s.broadcast(account)
	return result, nil
}

func (s *BillingService) lockPayableInvoice(ctx context.Context, tx *sqlx.Tx, invoiceID, studentID, instructorID string) (models.Invoice, error) {
	invoice, err := s.lockInvoice(ctx, tx, invoiceID)
	if err != nil {
		return models.Invoice{}, err
	}
	if invoice.StudentID != studentID || invoice.InstructorID != instructorID {
		return models.Invoice{}, ErrInvoiceAccountMismatch
	}
	if !payable(invoice.Status) {
		return models.Invoice{}, ErrInvoiceAlreadyPaid
	}
	return invoice, nil
}
