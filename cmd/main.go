// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/eventra/participation-service/internal/config"
	"github.com/eventra/participation-service/internal/database"
	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/handler"
	"github.com/eventra/participation-service/internal/notify"
	"github.com/eventra/participation-service/internal/repository"
	"github.com/eventra/participation-service/internal/service"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx := context.Background()

	// ── 1. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// ── 2. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Error("schema", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres", "host", cfg.Database.Host, "db", cfg.Database.Name)

	// ── 3. Wire up layers ────────────────────────────────────────────────
	eventRepo := repository.NewEventRepository(pool)
	participationRepo := repository.NewParticipationRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	paymentGateway := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	verifier := gateway.NewSignatureVerifier(cfg.Gateway.WebhookSecret, cfg.Gateway.SignatureTolerance)

	var dispatcher notify.Dispatcher
	if cfg.Notify.BaseURL != "" {
		dispatcher = notify.NewHTTPDispatcher(cfg.Notify.BaseURL, cfg.Notify.APIKey, cfg.Notify.Timeout, log)
	} else {
		dispatcher = notify.NewLogDispatcher(log)
	}
	mailGateway := notify.NewLogMailGateway(log)
	effects := notify.NewRunner(dispatcher, log)

	eventSvc := service.NewEventService(eventRepo, participationRepo)
	admissions := service.NewAdmissionController(
		participationRepo, paymentRepo, paymentGateway,
		cfg.Payments.SuccessRedirectBase, cfg.Payments.PendingTTL, log)
	orchestrator := service.NewOrchestrator(eventRepo, participationRepo, paymentRepo, log)
	ingestor := service.NewIngestor(verifier, orchestrator, effects, log)
	refunds := service.NewRefundCoordinator(
		eventRepo, participationRepo, paymentRepo, paymentGateway,
		dispatcher, mailGateway, log)

	eventHandler := handler.NewEventHandler(eventSvc, admissions, refunds)
	webhookHandler := handler.NewWebhookHandler(ingestor)

	// ── 4. Background sweep of abandoned payment attempts ─────────────────
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweeper := service.NewSweeper(paymentRepo, cfg.Payments.PendingTTL, cfg.Payments.SweepInterval, log)
	go sweeper.Run(sweepCtx)

	// ── 5. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(log))     // structured access log
	r.Use(handler.CORS)            // permissive CORS for browser clients

	// Health
	r.Get("/health", handler.HealthCheck)

	// API routes
	r.Route("/events", func(r chi.Router) {
		r.Post("/", eventHandler.CreateEvent)
		r.Get("/", eventHandler.ListEvents)
		r.Get("/{id}", eventHandler.GetEvent)
		r.Get("/{id}/participants", eventHandler.ListParticipants)
		r.Post("/{id}/admission", eventHandler.RequestAdmission)
		r.Post("/{id}/cancel", eventHandler.CancelEvent)
		r.Delete("/{id}/participants/{memberID}", eventHandler.Unregister)
	})

	// Gateway callbacks
	r.Post("/webhooks/payment", webhookHandler.HandlePaymentWebhook)

	// ── 6. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
