package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"flightledger/internal/auth"
	"flightledger/internal/middleware"
	"flightledger/internal/services"
	"flightledger/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into dest and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		var fields validator.FieldErrors
		if errors.As(err, &fields) {
			respondJSON(w, http.StatusBadRequest, map[string]any{"error": "validation_failed", "fields": fields})
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

type caller struct {
	UserID string
	Role   string
}

func (c caller) isAdmin() bool {
	return c.Role == auth.RoleAdmin
}

// canAccessPair reports whether the caller is a party to the
// student/instructor account, or an admin.
func (c caller) canAccessPair(studentID, instructorID string) bool {
	switch c.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleInstructor:
		return c.UserID == instructorID
	case auth.RoleStudent:
		return c.UserID == studentID
	}
	return false
}

func currentCaller(w http.ResponseWriter, r *http.Request) (caller, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return caller{}, false
	}
	role, _ := middleware.RoleFromContext(r.Context())
	return caller{UserID: userID, Role: role}, true
}

// serviceErrors maps service sentinels to a status and error code.
var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrNoActiveRate, http.StatusUnprocessableEntity, "no_active_rate"},
	{services.ErrRateNotFound, http.StatusNotFound, "rate_not_found"},
	{services.ErrInvalidRate, http.StatusBadRequest, "invalid_rate"},
	{services.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{services.ErrSessionNotCompleted, http.StatusConflict, "session_not_completed"},
	{services.ErrSessionNotAdjustable, http.StatusConflict, "session_not_adjustable"},
	{services.ErrBillingRecordMissing, http.StatusNotFound, "billing_record_missing"},
	{services.ErrSessionAlreadyBilled, http.StatusConflict, "session_already_billed"},
	{services.ErrNoUnbilledSessions, http.StatusUnprocessableEntity, "no_unbilled_sessions"},
	{services.ErrInvoiceNotFound, http.StatusNotFound, "invoice_not_found"},
	{services.ErrInvoiceNotPaid, http.StatusConflict, "invoice_not_paid"},
	{services.ErrInvoiceAlreadyPaid, http.StatusConflict, "invoice_already_paid"},
	{services.ErrInvoiceAccountMismatch, http.StatusBadRequest, "invoice_account_mismatch"},
	{services.ErrNoPaymentReference, http.StatusConflict, "no_payment_reference"},
	{services.ErrPaymentNotCompleted, http.StatusConflict, "payment_not_completed"},
	{services.ErrAmountMismatch, http.StatusConflict, "amount_mismatch"},
	{services.ErrChargeInvoiceMismatch, http.StatusConflict, "charge_invoice_mismatch"},
	{services.ErrProcessorFailure, http.StatusBadGateway, "processor_failure"},
	{services.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{services.ErrInsufficientHours, http.StatusUnprocessableEntity, "insufficient_hours"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{services.ErrInvalidHours, http.StatusBadRequest, "invalid_hours"},
	{services.ErrInvalidTransaction, http.StatusBadRequest, "invalid_transaction"},
	{services.ErrInvalidAccountSettings, http.StatusBadRequest, "invalid_account_settings"},
	{services.ErrWrongAccountMode, http.StatusConflict, "wrong_account_mode"},
	{services.ErrAccountNotActive, http.StatusConflict, "account_not_active"},
	{services.ErrRefundExceedsPayment, http.StatusBadRequest, "refund_exceeds_payment"},
	{services.ErrNotificationNotFound, http.StatusNotFound, "notification_not_found"},
	{services.ErrRecipientRequired, http.StatusBadRequest, "recipient_required"},
}

// respondServiceError writes the mapped error for err. Unknown errors are
// logged and reported as fallback with a 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	for _, mapped := range serviceErrors {
		if errors.Is(err, mapped.err) {
			respondError(w, mapped.status, mapped.code)
			return
		}
	}
	h.logger.Error(fallback, err)
	respondError(w, http.StatusInternalServerError, fallback)
}

// respondOutcome writes a typed service result. Expected business outcomes
// such as an insufficient balance keep the result body and its
// success=false flag.
func (h *Handler) respondOutcome(w http.ResponseWriter, status int, result any, err error, fallback string) {
	if err == nil {
		respondJSON(w, status, result)
		return
	}
	if errors.Is(err, services.ErrInsufficientBalance) || errors.Is(err, services.ErrInsufficientHours) {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	h.respondServiceError(w, err, fallback)
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBoolPtr(raw string) *bool {
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &parsed
}
