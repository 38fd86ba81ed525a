package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flightledger/internal/config"
	"flightledger/internal/db"
	"flightledger/internal/handlers"
	"flightledger/internal/logging"
	"flightledger/internal/notify"
	"flightledger/internal/processor"
	"flightledger/internal/services"
	"flightledger/internal/store"
	"flightledger/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(logging.Options{RollbarToken: cfg.RollbarToken, Environment: cfg.AppEnv})
	if flusher, ok := logger.(*logging.RollbarLogger); ok {
		defer flusher.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()
	audit := store.NewAuditStore(database)
	outbox := store.NewOutboxStore(database)
	notifications := store.NewNotificationStore(database)

	var proc processor.Processor
	settlementUnit := int64(1)
	switch {
	case cfg.MidtransServerKey != "":
		proc = processor.NewRetrying(processor.NewMidtrans(cfg.MidtransServerKey, cfg.MidtransProduction))
		settlementUnit = processor.MidtransSettlementUnit
	case cfg.IsDevelopment():
		logger.Warn("MIDTRANS_SERVER_KEY not set, card payments use the fake processor")
		proc = processor.NewFake()
	default:
		log.Fatalf("MIDTRANS_SERVER_KEY is required outside development")
	}

	billing := services.NewBillingService(txRunner, services.Stores{
		Rates:          store.NewRateStore(database),
		Accounts:       store.NewAccountStore(database),
		Ledger:         store.NewLedgerStore(database),
		Sessions:       store.NewSessionBillingStore(database),
		Invoices:       store.NewInvoiceStore(database),
		HoursPurchases: store.NewHoursPurchaseStore(database),
		Outbox:         outbox,
		Audit:          audit,
	}, proc, hub, logger, services.Options{
		Currency:                   cfg.Currency,
		DefaultLowBalanceThreshold: cfg.DefaultLowBalanceThreshold,
		InvoiceNetDays:             cfg.InvoiceNetDays,
		SettlementUnit:             settlementUnit,
	})

	var mailer notify.Mailer
	if cfg.SendgridAPIKey != "" {
		mailer = notify.NewSendgridMailer(cfg.SendgridAPIKey, "FlightLedger", cfg.NotifyFromEmail)
	}
	dispatcher := notify.NewDispatcher(txRunner, outbox, notifications, store.NewProfileStore(database), hub, mailer, logger, notify.Options{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	})
	go dispatcher.Run(ctx)

	handler := handlers.New(cfg, billing, services.NewNotificationService(notifications), audit, hub, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("flightledger API listening on " + server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", err)
		os.Exit(1)
	}
}
