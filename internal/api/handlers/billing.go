// Package handlers contains the HTTP handlers for the PayGate API: the
// checkout/verification endpoints consumed by the frontend and the webhook
// endpoint called by the billing provider.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paygate/internal/core"
	"paygate/internal/entitlement"
	"paygate/internal/types"
)

// BillingHandler serves the browser-facing paywall endpoints.
type BillingHandler struct {
	service      *entitlement.Service
	validator    *core.Validator
	logger       *slog.Logger
	testEndpoint bool
}

// NewBillingHandler creates a new BillingHandler. testEndpoint controls
// whether the development-only grant endpoint is mounted.
func NewBillingHandler(service *entitlement.Service, validator *core.Validator, logger *slog.Logger, testEndpoint bool) *BillingHandler {
	return &BillingHandler{
		service:      service,
		validator:    validator,
		logger:       logger,
		testEndpoint: testEndpoint,
	}
}

// RegisterRoutes mounts the billing endpoints onto the router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/create-checkout", h.CreateCheckout)
	r.Get("/verify-subscription", h.VerifySubscription)
	if h.testEndpoint {
		r.Post("/test-subscription", h.TestSubscription)
	}
}

// createCheckoutRequest is the request body for POST /api/create-checkout.
type createCheckoutRequest struct {
	Email   string `json:"email" validate:"required,email"`
	PriceID string `json:"priceId" validate:"omitempty"`
}

// CreateCheckout handles POST /api/create-checkout.
//
// Opens a hosted checkout session for the email and returns the redirect URL.
// The priceId field is optional; the configured default price applies when it
// is absent.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.service.StartCheckout(r.Context(), req.Email, req.PriceID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "checkout session creation failed",
			slog.String("error", err.Error()),
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, session)
}

// VerifySubscription handles GET /api/verify-subscription?email=...
//
// Returns {paid, expiresAt?}. Errors on this path carry paid:false in the
// envelope so callers that only inspect the flag deny access.
func (h *BillingHandler) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		core.ErrorNotPaid(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"email query parameter is required",
			nil,
		))
		return
	}

	ent, err := h.service.CheckEntitlement(r.Context(), email)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "entitlement check failed",
			slog.String("error", err.Error()),
		)
		core.ErrorNotPaid(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, ent)
}

// testSubscriptionRequest is the request body for POST /api/test-subscription.
type testSubscriptionRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// testSubscriptionResponse confirms a development grant.
type testSubscriptionResponse struct {
	Paid      bool   `json:"paid"`
	ExpiresAt string `json:"expiresAt"`
	Message   string `json:"message"`
}

// TestSubscription handles POST /api/test-subscription.
//
// Grants a synthetic 30-day entitlement without touching the provider. Only
// mounted outside production.
func (h *BillingHandler) TestSubscription(w http.ResponseWriter, r *http.Request) {
	var req testSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	rec := h.service.GrantTestEntitlement(r.Context(), req.Email)

	core.JSON(w, r, http.StatusOK, testSubscriptionResponse{
		Paid:      true,
		ExpiresAt: rec.ExpiresAt.Format(time.RFC3339),
		Message:   "test subscription activated for 30 days",
	})
}
