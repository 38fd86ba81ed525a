package handlers

import (
	"net/http"
	"time"

	"flightledger/internal/auth"
	"flightledger/internal/models"
	"flightledger/internal/services"
	"flightledger/internal/store"

	"github.com/go-chi/chi/v5"
)

type createInvoiceRequest struct {
	StudentID    string   `json:"student_id" validate:"required"`
	InstructorID string   `json:"instructor_id" validate:"required"`
	SessionIDs   []string `json:"session_ids" validate:"required,min=1,dive,required"`
	DueDate      string   `json:"due_date" validate:"omitempty,date"`
	Notes        string   `json:"notes" validate:"max=1000"`
}

type paymentIntentRequest struct {
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
	Description   string            `json:"description" validate:"max=255"`
	Metadata      map[string]string `json:"metadata"`
}

type invoicePaymentRequest struct {
	Reference     string `json:"reference" validate:"required,max=255"`
	PaymentMethod string `json:"payment_method" validate:"max=50"`
}

type refundRequest struct {
	Amount string `json:"amount" validate:"omitempty,positive_money"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type markOverdueRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,date"`
}

// invoiceForCaller loads the invoice named in the URL when the caller is a
// party to it.
func (h *Handler) invoiceForCaller(w http.ResponseWriter, r *http.Request) (models.Invoice, caller, bool) {
	who, ok := currentCaller(w, r)
	if !ok {
		return models.Invoice{}, caller{}, false
	}
	invoice, err := h.billing.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err, "unable to load invoice")
		return models.Invoice{}, caller{}, false
	}
	if !who.canAccessPair(invoice.StudentID, invoice.InstructorID) {
		respondError(w, http.StatusForbidden, "access denied")
		return models.Invoice{}, caller{}, false
	}
	return invoice, who, true
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req createInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !who.canAccessPair(req.StudentID, req.InstructorID) {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	invoice, err := h.billing.CreateInvoiceFromSessions(r.Context(), services.CreateInvoiceRequest{
		StudentID:    req.StudentID,
		InstructorID: req.InstructorID,
		SessionIDs:   req.SessionIDs,
		DueDate:      parseDate(req.DueDate),
		Notes:        req.Notes,
		ActorID:      who.UserID,
	})
	if err != nil {
		h.respondServiceError(w, err, "unable to create invoice")
		return
	}
	respondJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	filter := store.InvoiceFilter{
		StudentID:    query.Get("student_id"),
		InstructorID: query.Get("instructor_id"),
		Status:       models.InvoiceStatus(query.Get("status")),
		Limit:        limit,
		Offset:       (page - 1) * limit,
	}
	switch who.Role {
	case auth.RoleStudent:
		if filter.StudentID != "" && filter.StudentID != who.UserID {
			respondError(w, http.StatusForbidden, "access denied")
			return
		}
		filter.StudentID = who.UserID
	case auth.RoleInstructor:
		if filter.InstructorID != "" && filter.InstructorID != who.UserID {
			respondError(w, http.StatusForbidden, "access denied")
			return
		}
		filter.InstructorID = who.UserID
	case auth.RoleAdmin:
	default:
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	invoices, err := h.billing.GetInvoices(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, err, "unable to load invoices")
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	respondJSON(w, http.StatusOK, invoices)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, _, ok := h.invoiceForCaller(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, invoice)
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	invoice, _, ok := h.invoiceForCaller(w, r)
	if !ok {
		return
	}
	var req paymentIntentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.CreatePaymentIntent(r.Context(), invoice.ID, services.PaymentIntentRequest{
		Currency:      h.cfg.Currency,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
		Metadata:      req.Metadata,
	})
	if err != nil {
		h.respondServiceError(w, err, "unable to create payment intent")
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) ProcessInvoicePayment(w http.ResponseWriter, r *http.Request) {
	invoice, who, ok := h.invoiceForCaller(w, r)
	if !ok {
		return
	}
	var req invoicePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.ProcessInvoicePayment(r.Context(), services.InvoicePaymentRequest{
		InvoiceID:     invoice.ID,
		Reference:     req.Reference,
		PaymentMethod: req.PaymentMethod,
		ProcessedBy:   who.UserID,
	})
	h.respondOutcome(w, http.StatusOK, result, err, "unable to process payment")
}

func (h *Handler) RefundInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, who, ok := h.invoiceForCaller(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.RefundPayment(r.Context(), services.RefundRequest{
		InvoiceID:   invoice.ID,
		Amount:      parseMinor(req.Amount),
		Reason:      req.Reason,
		ProcessedBy: who.UserID,
	})
	h.respondOutcome(w, http.StatusOK, result, err, "unable to refund payment")
}

func (h *Handler) PayFromBalance(w http.ResponseWriter, r *http.Request) {
	invoice, who, ok := h.invoiceForCaller(w, r)
	if !ok {
		return
	}
	result, err := h.billing.PayFromAccountBalance(r.Context(), invoice.ID, invoice.StudentID, invoice.InstructorID, who.UserID)
	h.respondOutcome(w, http.StatusOK, result, err, "unable to pay invoice")
}

func (h *Handler) PayFromHours(w http.ResponseWriter, r *http.Request) {
	invoice, who, ok := h.invoiceForCaller(w, r)
	if !ok {
		return
	}
	result, err := h.billing.PayFromPrepaidHours(r.Context(), invoice.ID, invoice.StudentID, invoice.InstructorID, who.UserID)
	h.respondOutcome(w, http.StatusOK, result, err, "unable to pay invoice")
}

func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req markOverdueRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	asOf := parseDate(req.AsOf)
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	invoices, err := h.billing.MarkOverdueInvoices(r.Context(), asOf, who.UserID)
	if err != nil {
		h.respondServiceError(w, err, "unable to mark overdue invoices")
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"updated": len(invoices), "invoices": invoices})
}
