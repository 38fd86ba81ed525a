package handlers

import (
	"net/http"

	"flightledger/internal/auth"
	"flightledger/internal/config"
	"flightledger/internal/logging"
	"flightledger/internal/middleware"
	"flightledger/internal/validator"
	"flightledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	cfg           config.Config
	billing       BillingService
	notifications NotificationService
	audit         AuditStore
	hub           *websocket.Hub
	logger        logging.Logger
	validate      *validator.Validator
}

func New(cfg config.Config, billing BillingService, notifications NotificationService, audit AuditStore, hub *websocket.Hub, logger logging.Logger) *Handler {
	return &Handler{
		cfg:           cfg,
		billing:       billing,
		notifications: notifications,
		audit:         audit,
		hub:           hub,
		logger:        logger,
		validate:      validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	admin := middleware.RequireRole(auth.RoleAdmin)
	instructor := middleware.RequireRole(auth.RoleInstructor)
	staff := middleware.RequireRole(auth.RoleInstructor, auth.RoleAdmin)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.ListRates)
			r.With(admin).Post("/", h.CreateRate)
			r.With(admin).Put("/{id}", h.UpdateRate)
		})

		r.Route("/accounts/{student_id}/{instructor_id}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Get("/rate", h.CurrentRate)
			r.Get("/available-hours", h.AvailableHours)
			r.Get("/transactions", h.ListTransactions)
			r.With(admin).Post("/transactions", h.RecordTransaction)
			r.With(staff).Post("/funds", h.AddFunds)
			r.With(instructor).Post("/flexible-payment", h.FlexiblePayment)
			r.Get("/hours-purchases", h.ListHoursPurchases)
			r.With(staff).Post("/hours-purchases", h.PurchaseHours)
			r.With(admin).Put("/settings", h.UpdateAccountSettings)
		})

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.With(staff).Post("/billing", h.RecordSessionBilling)
			r.With(staff).Post("/adjust", h.AdjustSession)
			r.Get("/adjustments", h.SessionAdjustments)
			r.With(instructor).Post("/approve", h.ApproveSession)
			r.With(middleware.RequireRole(auth.RoleStudent)).Post("/acknowledge", h.AcknowledgeSession)
			r.With(staff).Post("/pin-failures", h.ReportPINFailure)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.With(staff).Post("/", h.CreateInvoice)
			r.Get("/", h.ListInvoices)
			r.With(admin).Post("/mark-overdue", h.MarkOverdue)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/payment-intent", h.CreatePaymentIntent)
			r.Post("/{id}/payments", h.ProcessInvoicePayment)
			r.With(admin).Post("/{id}/refunds", h.RefundInvoice)
			r.Post("/{id}/pay-from-balance", h.PayFromBalance)
			r.Post("/{id}/pay-from-hours", h.PayFromHours)
		})

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)

		r.Route("/admin", func(r chi.Router) {
			r.Use(admin)
			r.Get("/reconcile", h.Reconcile)
			r.Get("/audit", h.ListAuditLogs)
			r.Get("/audit/{entity_type}/{entity_id}", h.EntityAuditLogs)
		})
	})

	router.Get("/ws", h.WS)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
