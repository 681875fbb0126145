package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paygate/internal/core"
	"paygate/internal/entitlement"
	"paygate/internal/external"
	"paygate/internal/types"
)

// maxWebhookBodySize caps webhook payloads at 64 KB. Stripe subscription
// events are a few KB; anything larger is not a legitimate delivery.
const maxWebhookBodySize = 64 * 1024

// WebhookHandler receives provider event deliveries, verifies their
// signatures, and applies them to the entitlement cache.
type WebhookHandler struct {
	billing external.BillingClient
	service *entitlement.Service
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(billing external.BillingClient, service *entitlement.Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billing,
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes mounts the webhook endpoint onto the router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.HandleWebhook)
}

// webhookAckResponse acknowledges a verified delivery.
type webhookAckResponse struct {
	Received bool `json:"received"`
}

// HandleWebhook handles POST /api/webhook.
//
// The raw body is read before any parsing because signature verification is
// computed over the exact bytes Stripe sent. Verification failures (missing
// header, bad signature, unconfigured secret) are rejected with 400 and
// mutate nothing.
//
// Once a delivery is verified, it is acknowledged with 200 even when applying
// it fails: the failure is on our side, and Stripe redelivering the same
// event would not help. Idempotent application makes the occasional
// redelivery of a successfully applied event harmless too.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read webhook payload",
			err,
		))
		return
	}

	event, err := h.billing.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook verification failed",
			slog.String("error", err.Error()),
		)
		core.Error(w, r, err)
		return
	}

	if err := h.service.ApplyEvent(r.Context(), event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event application failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()),
		)
	}

	core.JSON(w, r, http.StatusOK, webhookAckResponse{Received: true})
}
