package handlers

import (
	"net/http"

	"flightledger/internal/models"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 20)
	page := parseInt(query.Get("page"), 1)
	unreadOnly := false
	if parsed := parseBoolPtr(query.Get("unread")); parsed != nil {
		unreadOnly = *parsed
	}
	notes, err := h.notifications.List(r.Context(), who.UserID, unreadOnly, limit, (page-1)*limit)
	if err != nil {
		h.respondServiceError(w, err, "unable to load notifications")
		return
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	respondJSON(w, http.StatusOK, notes)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	who, ok := currentCaller(w, r)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id"), who.UserID); err != nil {
		h.respondServiceError(w, err, "unable to mark notification read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
