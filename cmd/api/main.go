// Package main is the entry point for the PayGate API server.
//
// It loads configuration, builds the Stripe client and entitlement service,
// wires the HTTP handlers onto the core chassis (middleware, routing, health
// check), and serves until interrupted.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate/internal/api/handlers"
	"paygate/internal/config"
	"paygate/internal/core"
	"paygate/internal/entitlement"
	"paygate/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("paygate API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"webhook_enabled", cfg.WebhookEnabled(),
		"test_endpoints", cfg.TestEndpointsEnabled(),
	)
	if !cfg.WebhookEnabled() {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set; all webhook deliveries will be rejected")
	}

	// Outbound Stripe transport. The client timeout bounds every provider
	// call, keeping requests from hanging past the server's own deadline.
	httpClient := &http.Client{Timeout: cfg.Billing.Timeout}
	billing := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey:     cfg.Billing.StripeSecretKey.Unmask(),
		WebhookSecret: cfg.Billing.StripeWebhookSecret.Unmask(),
		BaseURL:       cfg.Billing.APIBase,
		Logger:        logger,
	})

	// Entitlement cache and reconciliation service.
	store := entitlement.NewStore()
	service := entitlement.NewService(billing, store, entitlement.ServiceConfig{
		DefaultPriceID: cfg.Billing.DefaultPriceID,
		FrontendURL:    cfg.Server.FrontendURL,
		Logger:         logger,
	})

	// Build the server and mount the handlers.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	billingHandler := handlers.NewBillingHandler(service, srv.Validator, logger, cfg.TestEndpointsEnabled())
	webhookHandler := handlers.NewWebhookHandler(billing, service, logger)

	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars,
		billingHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
