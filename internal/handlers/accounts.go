package handlers

import (
	"net/http"

	"flightledger/internal/models"
	"flightledger/internal/services"

	"github.com/go-chi/chi/v5"
)

type addFundsRequest struct {
	Amount        string `json:"amount" validate:"required,positive_money"`
	PaymentMethod string `json:"payment_method" validate:"required,max=50"`
	Description   string `json:"description" validate:"max=500"`
}

type recordTransactionRequest struct {
	Type          string `json:"transaction_type" validate:"required,oneof=flight_debit ground_debit cash_credit cash_debit hours_credit refund adjustment"`
	FlightHours   string `json:"flight_hours" validate:"omitempty,hours"`
	GroundHours   string `json:"ground_hours" validate:"omitempty,hours"`
	CashAmount    string `json:"cash_amount" validate:"omitempty,money"`
	Description   string `json:"description" validate:"required,max=500"`
	ReferenceType string `json:"reference_type" validate:"max=50"`
	ReferenceID   string `json:"reference_id" validate:"max=100"`
}

type flexiblePaymentRequest struct {
	SessionID   string `json:"session_id" validate:"max=100"`
	FlightHours string `json:"flight_hours" validate:"omitempty,hours"`
	GroundHours string `json:"ground_hours" validate:"omitempty,hours"`
	Description string `json:"description" validate:"max=500"`
}

type hoursPurchaseRequest struct {
	FlightHours   string `json:"flight_hours" validate:"omitempty,hours"`
	GroundHours   string `json:"ground_hours" validate:"omitempty,hours"`
	AmountPaid    string `json:"amount_paid" validate:"required,money"`
	PaymentMethod string `json:"payment_method" validate:"required,max=50"`
}

type accountSettingsRequest struct {
	AccountType         *string `json:"account_type" validate:"omitempty,oneof=flexible hours_only legacy"`
	LowBalanceThreshold *string `json:"low_balance_threshold" validate:"omitempty,money"`
	Status              *string `json:"status" validate:"omitempty,oneof=active suspended closed"`
}

// pairFromPath reads the account pair from the URL and checks the caller
// may see it.
func (h *Handler) pairFromPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	who, ok := currentCaller(w, r)
	if !ok {
		return "", "", false
	}
	studentID, instructorID := chi.URLParam(r, "student_id"), chi.URLParam(r, "instructor_id")
	if !who.canAccessPair(studentID, instructorID) {
		respondError(w, http.StatusForbidden, "access denied")
		return "", "", false
	}
	return studentID, instructorID, true
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	account, err := h.billing.GetAccount(r.Context(), studentID, instructorID)
	if err != nil {
		h.respondServiceError(w, err, "unable to load account")
		return
	}
	respondJSON(w, http.StatusOK, account)
}

func (h *Handler) AvailableHours(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	hours, err := h.billing.CalculateAvailableHours(r.Context(), studentID, instructorID)
	if err != nil {
		h.respondServiceError(w, err, "unable to calculate available hours")
		return
	}
	respondJSON(w, http.StatusOK, hours)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	entries, err := h.billing.GetTransactions(r.Context(), studentID, instructorID, limit, (page-1)*limit)
	if err != nil {
		h.respondServiceError(w, err, "unable to load transactions")
		return
	}
	if entries == nil {
		entries = []models.BillingTransaction{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	who, _ := currentCaller(w, r)
	var req recordTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.billing.RecordTransaction(r.Context(), services.TransactionRequest{
		StudentID:     studentID,
		InstructorID:  instructorID,
		Type:          models.TransactionType(req.Type),
		FlightHours:   parseHours(req.FlightHours),
		GroundHours:   parseHours(req.GroundHours),
		CashAmount:    parseMinor(req.CashAmount),
		Description:   req.Description,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		ProcessedBy:   who.UserID,
	})
	if err != nil {
		h.respondServiceError(w, err, "unable to record transaction")
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) AddFunds(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	who, _ := currentCaller(w, r)
	var req addFundsRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.AddFunds(r.Context(), services.AddFundsRequest{
		StudentID:     studentID,
		InstructorID:  instructorID,
		Amount:        parseMinor(req.Amount),
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
		ProcessedBy:   who.UserID,
	})
	h.respondOutcome(w, http.StatusCreated, result, err, "unable to add funds")
}

func (h *Handler) FlexiblePayment(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	who, _ := currentCaller(w, r)
	var req flexiblePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.ProcessFlexiblePayment(r.Context(), services.FlexiblePaymentRequest{
		StudentID:    studentID,
		InstructorID: instructorID,
		SessionID:    req.SessionID,
		FlightHours:  parseHours(req.FlightHours),
		GroundHours:  parseHours(req.GroundHours),
		Description:  req.Description,
		ProcessedBy:  who.UserID,
	})
	h.respondOutcome(w, http.StatusOK, result, err, "unable to process payment")
}

func (h *Handler) PurchaseHours(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	who, _ := currentCaller(w, r)
	var req hoursPurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.PurchaseHours(r.Context(), services.HoursPurchaseRequest{
		StudentID:     studentID,
		InstructorID:  instructorID,
		FlightHours:   parseHours(req.FlightHours),
		GroundHours:   parseHours(req.GroundHours),
		AmountPaid:    parseMinor(req.AmountPaid),
		PaymentMethod: req.PaymentMethod,
		ProcessedBy:   who.UserID,
	})
	h.respondOutcome(w, http.StatusCreated, result, err, "unable to purchase hours")
}

func (h *Handler) ListHoursPurchases(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	purchases, err := h.billing.GetHoursPurchases(r.Context(), studentID, instructorID)
	if err != nil {
		h.respondServiceError(w, err, "unable to load hours purchases")
		return
	}
	if purchases == nil {
		purchases = []models.HoursPurchase{}
	}
	respondJSON(w, http.StatusOK, purchases)
}

func (h *Handler) UpdateAccountSettings(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	who, _ := currentCaller(w, r)
	var req accountSettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	settings := services.AccountSettings{
		StudentID:           studentID,
		InstructorID:        instructorID,
		LowBalanceThreshold: parseMinorPtr(req.LowBalanceThreshold),
		ActorID:             who.UserID,
	}
	if req.AccountType != nil {
		accountType := models.AccountType(*req.AccountType)
		settings.AccountType = &accountType
	}
	if req.Status != nil {
		status := models.AccountStatus(*req.Status)
		settings.Status = &status
	}
	account, err := h.billing.UpdateAccountSettings(r.Context(), settings)
	if err != nil {
		h.respondServiceError(w, err, "unable to update account")
		return
	}
	respondJSON(w, http.StatusOK, account)
}
