package handlers

import (
	"net/http"

	"flightledger/internal/models"
	"flightledger/internal/services"

	"github.com/go-chi/chi/v5"
)

type adjustSessionRequest struct {
	FlightHours string `json:"flight_hours" validate:"required,hours"`
	GroundHours string `json:"ground_hours" validate:"required,hours"`
	Reason      string `json:"reason" validate:"required,max=500"`
}

type approveSessionRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

type acknowledgeSessionRequest struct {
	Acknowledged *bool `json:"acknowledged" validate:"required"`
}

type pinFailureRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Reason      string `json:"reason" validate:"max=200"`
}

func (h *Handler) RecordSessionBilling(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	billing, err := h.billing.RecordSessionBilling(r.Context(), chi.URLParam(r, "id"), who.UserID)
	if err != nil {
		h.respondServiceError(w, err, "unable to record session billing")
		return
	}
	respondJSON(w, http.StatusCreated, billing)
}

func (h *Handler) AdjustSession(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req adjustSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.billing.AdjustFlightSession(r.Context(), services.AdjustSessionRequest{
		SessionID:   chi.URLParam(r, "id"),
		FlightHours: parseHours(req.FlightHours),
		GroundHours: parseHours(req.GroundHours),
		Reason:      req.Reason,
		ProcessedBy: who.UserID,
	})
	h.respondOutcome(w, http.StatusOK, result, err, "unable to adjust session")
}

func (h *Handler) SessionAdjustments(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentCaller(w, r); !ok {
		return
	}
	entries, err := h.billing.GetSessionAdjustments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err, "unable to load adjustments")
		return
	}
	if entries == nil {
		entries = []models.BillingTransaction{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) ApproveSession(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req approveSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.billing.ApproveFlightSessionBilling(r.Context(), chi.URLParam(r, "id"), *req.Approved, who.UserID); err != nil {
		h.respondServiceError(w, err, "unable to approve session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) AcknowledgeSession(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req acknowledgeSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.billing.AcknowledgeFlightSessionBilling(r.Context(), chi.URLParam(r, "id"), *req.Acknowledged, who.UserID); err != nil {
		h.respondServiceError(w, err, "unable to acknowledge session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ReportPINFailure queues an alert about a failed PIN check at session
// sign-off.
func (h *Handler) ReportPINFailure(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentCaller(w, r); !ok {
		return
	}
	var req pinFailureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.billing.NotifyPINVerificationFailed(r.Context(), req.RecipientID, chi.URLParam(r, "id"), req.Reason); err != nil {
		h.respondServiceError(w, err, "unable to record pin failure")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}
