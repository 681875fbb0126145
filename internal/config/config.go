// Package config defines the global configuration structure for the PayGate
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved from the OS environment, optionally seeded from a .env
// file. Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"paygate/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the PayGate service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Billing  BillingConfig
	Security SecurityConfig
}

// ServerConfig holds HTTP server and redirect URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"3001"`
	// Base URL the hosted checkout redirects back to (no trailing slash).
	// The success URL carries the checkout session id; the cancel URL is the
	// landing page root.
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:8080" validate:"required,url"`
}

// BillingConfig holds Stripe payment integration credentials and keys.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`

	// StripeWebhookSecret is deliberately NOT required: when absent, the
	// webhook endpoint fails closed with 400 instead of accepting
	// unverified events.
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`

	// DefaultPriceID is the plan charged when checkout requests omit one.
	DefaultPriceID string `envconfig:"STRIPE_PRICE_ID" validate:"required"`

	// APIBase overrides the Stripe API base URL; used by tests to point the
	// client at an httptest server. Empty means the production endpoint.
	APIBase string `envconfig:"STRIPE_API_BASE"`

	// Timeout bounds every outbound call to the provider so a slow upstream
	// cannot hang a request indefinitely.
	Timeout time.Duration `envconfig:"STRIPE_TIMEOUT" default:"20s"`
}

// SecurityConfig holds CORS settings for the browser-facing endpoints.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// TestEndpointsEnabled reports whether the manual test-subscription endpoint
// may be mounted. It bypasses all billing verification, so it is a
// deployment-configuration concern: never available in prod.
func (c *Config) TestEndpointsEnabled() bool {
	return c.Environment != "prod"
}

// WebhookEnabled reports whether a signing secret is configured. Without one
// the webhook endpoint rejects every delivery.
func (c *Config) WebhookEnabled() bool {
	return c.Billing.StripeWebhookSecret.Unmask() != ""
}
