package handlers

import (
	"net/http"

	"flightledger/internal/models"
	"flightledger/internal/services"

	"github.com/go-chi/chi/v5"
)

type createRateRequest struct {
	StudentID     string `json:"student_id" validate:"required"`
	InstructorID  string `json:"instructor_id" validate:"required"`
	FlightRate    string `json:"flight_instruction_rate" validate:"required,money"`
	GroundRate    string `json:"ground_instruction_rate" validate:"required,money"`
	EffectiveDate string `json:"effective_date" validate:"omitempty,date"`
	IsActive      *bool  `json:"is_active"`
}

type updateRateRequest struct {
	FlightRate    *string `json:"flight_instruction_rate" validate:"omitempty,money"`
	GroundRate    *string `json:"ground_instruction_rate" validate:"omitempty,money"`
	EffectiveDate *string `json:"effective_date" validate:"omitempty,date"`
	IsActive      *bool   `json:"is_active"`
}

func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	studentID, instructorID := query.Get("student_id"), query.Get("instructor_id")
	if studentID == "" || instructorID == "" {
		respondError(w, http.StatusBadRequest, "student_id and instructor_id are required")
		return
	}
	if !who.canAccessPair(studentID, instructorID) {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	rates, err := h.billing.GetRates(r.Context(), studentID, instructorID, parseBoolPtr(query.Get("active")))
	if err != nil {
		h.respondServiceError(w, err, "unable to load rates")
		return
	}
	if rates == nil {
		rates = []models.RateSchedule{}
	}
	respondJSON(w, http.StatusOK, rates)
}

func (h *Handler) CurrentRate(w http.ResponseWriter, r *http.Request) {
	studentID, instructorID, ok := h.pairFromPath(w, r)
	if !ok {
		return
	}
	rate, err := h.billing.GetCurrentRate(r.Context(), studentID, instructorID)
	if err != nil {
		h.respondServiceError(w, err, "unable to load rate")
		return
	}
	respondJSON(w, http.StatusOK, rate)
}

func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req createRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rate, err := h.billing.CreateRate(r.Context(), services.CreateRateRequest{
		StudentID:     req.StudentID,
		InstructorID:  req.InstructorID,
		FlightRate:    parseMinor(req.FlightRate),
		GroundRate:    parseMinor(req.GroundRate),
		EffectiveDate: parseDate(req.EffectiveDate),
		IsActive:      active,
		ActorID:       who.UserID,
	})
	if err != nil {
		h.respondServiceError(w, err, "unable to create rate")
		return
	}
	respondJSON(w, http.StatusCreated, rate)
}

func (h *Handler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	var req updateRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := h.billing.UpdateRate(r.Context(), chi.URLParam(r, "id"), services.RateUpdate{
		FlightRate:    parseMinorPtr(req.FlightRate),
		GroundRate:    parseMinorPtr(req.GroundRate),
		EffectiveDate: parseDatePtr(req.EffectiveDate),
		IsActive:      req.IsActive,
	}, who.UserID)
	if err != nil {
		h.respondServiceError(w, err, "unable to update rate")
		return
	}
	respondJSON(w, http.StatusOK, rate)
}
