// Package core provides the API chassis for the PayGate service. It creates a
// chi router and enforces cross-cutting concerns -- panic recovery, request
// timeouts, correlation IDs, logging, CORS -- before requests reach the
// billing and webhook handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paygate/internal/config"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
// It is intentionally longer than the outbound provider timeout so provider
// calls fail with a provider error before the request itself is cancelled.
const defaultRequestTimeout = 29 * time.Second

// RouteRegistrar mounts a handler group onto the router. Populated by the
// application entry point; the indirection avoids import cycles between core
// and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the PayGate API, allowing for easy
// injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// APIRouteRegistrars mount handler groups under /api.
	APIRouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. The caller is responsible for mounting routes
// (via MountRoutes) after registering handlers; this separation allows tests
// to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// MountRoutes registers the global middleware chain, the /api handler groups,
// and the top-level health check.
//
// Middleware ordering rationale:
//  1. Recoverer       - outermost, catches all panics.
//  2. ContextTimeout  - soft deadline before anything else runs.
//  3. RequestID       - correlation ID for tracing.
//  4. SecurityHeaders - present on every response, including errors.
//  5. RequestLogger   - structured logging with redacted headers.
//  6. CORS            - browser access for the checkout UI.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	s.router.Route("/api", func(r chi.Router) {
		for _, registrar := range s.APIRouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources. The service
// holds no connection pools; the hook exists so the entry point's shutdown
// path stays uniform as resources are added.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}
