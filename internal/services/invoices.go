package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flightledger/internal/models"
	"flightledger/internal/money"
	"flightledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.jetify.com/typeid/v2"
)

type CreateInvoiceRequest struct {
	StudentID    string
	InstructorID string
	SessionIDs   []string
	DueDate      time.Time
	Notes        string
	ActorID      string
}

// CreateInvoiceFromSessions bills the pair's pending sessions among
// SessionIDs. Each session is priced at the rate stored on its billing row.
func (s *BillingService) CreateInvoiceFromSessions(ctx context.Context, req CreateInvoiceRequest) (models.Invoice, error) {
	if len(req.SessionIDs) == 0 {
		return models.Invoice{}, ErrNoUnbilledSessions
	}
	dueDate := req.DueDate
	if dueDate.IsZero() {
		dueDate = s.now().UTC().AddDate(0, 0, s.opts.InvoiceNetDays)
	}
	var invoice models.Invoice
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		pending, err := s.sessions.ListPendingForUpdate(ctx, tx, req.StudentID, req.InstructorID, req.SessionIDs)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return ErrNoUnbilledSessions
		}
		number, err := newInvoiceNumber()
		if err != nil {
			return err
		}
		invoice = buildInvoice(uuid.NewString(), pending)
		invoice.InvoiceNumber = number
		invoice.StudentID = req.StudentID
		invoice.InstructorID = req.InstructorID
		invoice.Status = models.InvoiceDraft
		invoice.DueDate = dueDate
		invoice.Notes = optionalString(req.Notes)
		invoice.CreatedAt = s.now().UTC()
		if err := s.invoices.Create(ctx, tx, invoice); err != nil {
			return err
		}
		if err := s.invoices.InsertLineItems(ctx, tx, invoice.LineItems); err != nil {
			return err
		}
		billingIDs := make([]string, 0, len(pending))
		for _, row := range pending {
			billingIDs = append(billingIDs, row.ID)
		}
		marked, err := s.sessions.MarkInvoiced(ctx, tx, billingIDs, invoice.ID)
		if err != nil {
			return err
		}
		if marked != int64(len(billingIDs)) {
			return fmt.Errorf("marked %d of %d sessions invoiced", marked, len(billingIDs))
		}
		return s.logAudit(ctx, tx, req.ActorID, "invoice_created", "invoice", invoice.ID, map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"total_amount":   invoice.TotalAmount,
			"sessions":       len(pending),
		})
	})
	if err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

// buildInvoice aggregates billing rows into an invoice with one line item
// per non-zero hour category per session. Amounts come from the billed
// session costs, so the total always equals the sum of their total_cost.
func buildInvoice(invoiceID string, rows []models.FlightSessionBilling) models.Invoice {
	invoice := models.Invoice{
		ID:          invoiceID,
		FlightHours: decimal.Zero,
		GroundHours: decimal.Zero,
	}
	flightWeighted := decimal.Zero
	groundWeighted := decimal.Zero
	for _, row := range rows {
		title := sessionTitle(row)
		prebriefAmount, postbriefAmount := splitGroundCost(row)
		lines := []struct {
			kind   models.LineItemType
			hours  decimal.Decimal
			rate   int64
			amount int64
			label  string
		}{
			{models.LineFlight, row.FlightHours, row.FlightInstructionRate, row.FlightCost, "Flight instruction"},
			{models.LinePrebrief, row.PrebriefHours, row.GroundInstructionRate, prebriefAmount, "Pre-flight briefing"},
			{models.LinePostbrief, row.PostbriefHours, row.GroundInstructionRate, postbriefAmount, "Post-flight debriefing"},
		}
		for _, line := range lines {
			if !line.hours.IsPositive() {
				continue
			}
			amount := line.amount
			invoice.LineItems = append(invoice.LineItems, models.InvoiceLineItem{
				ID:              uuid.NewString(),
				InvoiceID:       invoiceID,
				FlightSessionID: row.FlightSessionID,
				ItemType:        line.kind,
				Description:     fmt.Sprintf("%s - %s", title, line.label),
				Hours:           line.hours,
				Rate:            line.rate,
				Amount:          amount,
			})
			weighted := line.hours.Mul(decimal.NewFromInt(line.rate))
			if line.kind == models.LineFlight {
				invoice.FlightHours = invoice.FlightHours.Add(line.hours)
				invoice.FlightAmount += amount
				flightWeighted = flightWeighted.Add(weighted)
			} else {
				invoice.GroundHours = invoice.GroundHours.Add(line.hours)
				invoice.GroundAmount += amount
				groundWeighted = groundWeighted.Add(weighted)
			}
		}
	}
	invoice.TotalAmount = invoice.FlightAmount + invoice.GroundAmount
	invoice.FlightRate = invoiceRate(rows, invoice.FlightHours, flightWeighted, func(r models.FlightSessionBilling) int64 { return r.FlightInstructionRate })
	invoice.GroundRate = invoiceRate(rows, invoice.GroundHours, groundWeighted, func(r models.FlightSessionBilling) int64 { return r.GroundInstructionRate })
	return invoice
}

// splitGroundCost divides a session's billed ground cost between its
// briefing line items. The two parts always add up to GroundCost, with any
// rounding difference landing on the debrief.
func splitGroundCost(row models.FlightSessionBilling) (prebrief, postbrief int64) {
	if !row.PostbriefHours.IsPositive() {
		return row.GroundCost, 0
	}
	if row.PrebriefHours.IsPositive() {
		prebrief = min(money.HoursCost(row.PrebriefHours, row.GroundInstructionRate), row.GroundCost)
	}
	return prebrief, row.GroundCost - prebrief
}

// invoiceRate reports the batch rate: the shared rate when every session has
// the same one, otherwise the hour-weighted average.
func invoiceRate(rows []models.FlightSessionBilling, hours, weighted decimal.Decimal, rateOf func(models.FlightSessionBilling) int64) int64 {
	first := rateOf(rows[0])
	uniform := true
	for _, row := range rows[1:] {
		if rateOf(row) != first {
			uniform = false
			break
		}
	}
	if uniform || !hours.IsPositive() {
		return first
	}
	return weighted.Div(hours).RoundBank(0).IntPart()
}

func sessionTitle(row models.FlightSessionBilling) string {
	if row.LessonTitle != nil && *row.LessonTitle != "" {
		return *row.LessonTitle
	}
	id := row.FlightSessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Flight session " + id
}

func newInvoiceNumber() (string, error) {
	tid, err := typeid.Generate("inv")
	if err != nil {
		return "", err
	}
	return tid.String(), nil
}

// GetInvoices lists matching invoices newest first with their line items.
func (s *BillingService) GetInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	invoices, err := s.invoices.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return []models.Invoice{}, nil
	}
	ids := make([]string, 0, len(invoices))
	for _, invoice := range invoices {
		ids = append(ids, invoice.ID)
	}
	items, err := s.invoices.ListLineItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	byInvoice := make(map[string][]models.InvoiceLineItem, len(invoices))
	for _, item := range items {
		byInvoice[item.InvoiceID] = append(byInvoice[item.InvoiceID], item)
	}
	for i := range invoices {
		invoices[i].LineItems = byInvoice[invoices[i].ID]
		if invoices[i].LineItems == nil {
			invoices[i].LineItems = []models.InvoiceLineItem{}
		}
	}
	return invoices, nil
}

func (s *BillingService) GetInvoice(ctx context.Context, invoiceID string) (models.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return models.Invoice{}, err
	}
	items, err := s.invoices.ListLineItems(ctx, []string{invoiceID})
	if err != nil {
		return models.Invoice{}, err
	}
	if items == nil {
		items = []models.InvoiceLineItem{}
	}
	invoice.LineItems = items
	return invoice, nil
}

// MarkOverdueInvoices moves unpaid invoices past their due date to overdue
// and notifies the students.
func (s *BillingService) MarkOverdueInvoices(ctx context.Context, asOf time.Time, actorID string) ([]models.Invoice, error) {
	var overdue []models.Invoice
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := s.invoices.MarkOverdue(ctx, tx, asOf)
		if err != nil {
			return err
		}
		for _, invoice := range rows {
			if err := s.publish(ctx, tx, models.EventInvoiceOverdue, invoice.StudentID, models.EventPayload{
				Amount:            invoice.TotalAmount,
				InvoiceID:         invoice.ID,
				InvoiceNumber:     invoice.InvoiceNumber,
				DueDate:           invoice.DueDate.Format("2006-01-02"),
				RelatedEntityID:   invoice.ID,
				RelatedEntityType: "invoice",
			}); err != nil {
				return err
			}
			if err := s.logAudit(ctx, tx, actorID, "invoice_overdue", "invoice", invoice.ID, map[string]any{
				"due_date": invoice.DueDate.Format("2006-01-02"),
			}); err != nil {
				return err
			}
		}
		overdue = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return overdue, nil
}
