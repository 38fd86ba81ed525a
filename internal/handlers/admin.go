package handlers

import (
	"net/http"

	"flightledger/internal/auth"
	"flightledger/internal/middleware"
	"flightledger/internal/store"
	"flightledger/internal/websocket"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rows, err := h.billing.Reconcile(r.Context())
	if err != nil {
		h.respondServiceError(w, err, "unable to reconcile balances")
		return
	}
	mismatched := 0
	for _, row := range rows {
		if !row.Consistent {
			mismatched++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"accounts":   rows,
		"checked":    len(rows),
		"mismatched": mismatched,
	})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	if rows == nil {
		rows = []store.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) EntityAuditLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.audit.ListByEntity(r.Context(), chi.URLParam(r, "entity_type"), chi.URLParam(r, "entity_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	if rows == nil {
		rows = []store.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// WS upgrades to a websocket streaming balance updates and notifications.
// Browsers cannot set headers on upgrade, so the token may come as a query
// parameter.
func (h *Handler) WS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID, websocket.OriginChecker(h.cfg.Origins()))
}
