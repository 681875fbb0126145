package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"paygate/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey     string
	WebhookSecret string // empty disables event verification (fail closed)
	BaseURL       string // override for testing; defaults to stripeAPIBase
	Logger        *slog.Logger
}

// StripeClient implements BillingClient by making direct HTTP calls to the
// Stripe REST API through BaseClient. This routes all requests through the
// resilience infrastructure (circuit breaker, retries, error mapping) and
// makes testing with httptest straightforward.
//
// Two transports are used: lookups go through a retrying client, since
// customer and subscription reads are idempotent; checkout-session creation
// goes through a non-retrying client, because replaying the POST could open
// duplicate sessions for the same intent.
type StripeClient struct {
	lookup        *BaseClient
	mutate        *BaseClient
	secretKey     string
	webhookSecret string
	baseURL       string
	logger        *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout bounds
// every provider call (20 seconds by default, from configuration).
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		lookup:        NewBaseClient(httpClient, "stripe-lookup", LookupRetryPolicy(), "PayGate/1.0"),
		mutate:        NewBaseClient(httpClient, "stripe-checkout", NoRetryPolicy(), "PayGate/1.0"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with pre-configured
// BaseClients. This is useful for testing when you want to control retry and
// breaker behavior.
func NewStripeClientWithBase(lookup, mutate *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		lookup:        lookup,
		mutate:        mutate,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// ---------------------------------------------------------------------------
// BillingClient Implementation
// ---------------------------------------------------------------------------

// CreateCheckoutSession opens a hosted checkout session in subscription mode.
// When params.CustomerID is set the session is bound to that customer;
// otherwise the session carries the raw email and Stripe creates the customer
// on successful payment.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (types.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)

	if params.CustomerID != "" {
		form.Set("customer", params.CustomerID)
	} else {
		form.Set("customer_email", params.Email)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", form)
	if err != nil {
		return types.CheckoutSession{}, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.CheckoutSession{}, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return types.CheckoutSession{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return types.CheckoutSession{URL: session.URL, SessionID: session.ID}, nil
}

// FindCustomerByEmail queries customers filtered by email with limit 1.
// Returns nil when no customer matches.
func (s *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/customers", params)
	if err != nil {
		return nil, s.wrapStripeError("FindCustomerByEmail", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "FindCustomerByEmail")
	}

	var list stripeCustomerList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer list response",
			err,
		)
	}

	if len(list.Data) == 0 {
		return nil, nil
	}

	c := list.Data[0]
	return &types.Customer{ID: c.ID, Email: c.Email}, nil
}

// ListActiveSubscriptions lists the customer's subscriptions filtered to
// active status, limit 1.
func (s *StripeClient) ListActiveSubscriptions(ctx context.Context, customerID string) ([]types.Subscription, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "active")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return nil, s.wrapStripeError("ListActiveSubscriptions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListActiveSubscriptions")
	}

	var list stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription list response",
			err,
		)
	}

	subs := make([]types.Subscription, 0, len(list.Data))
	for _, sub := range list.Data {
		subs = append(subs, types.Subscription{
			ID:               sub.ID,
			CustomerID:       sub.Customer,
			Status:           sub.Status,
			CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		})
	}

	return subs, nil
}

// GetCustomer retrieves a customer record by id.
func (s *StripeClient) GetCustomer(ctx context.Context, customerID string) (*types.Customer, error) {
	resp, err := s.doGet(ctx, "/v1/customers/"+url.PathEscape(customerID), nil)
	if err != nil {
		return nil, s.wrapStripeError("GetCustomer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetCustomer")
	}

	var c stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer response",
			err,
		)
	}

	return &types.Customer{ID: c.ID, Email: c.Email}, nil
}

// VerifyEvent validates a webhook payload against the signature header and
// signing secret, then decodes the event envelope. Uses stripe-go's
// ValidatePayload, which checks both the HMAC-SHA256 signature and the
// timestamp tolerance.
//
// An empty signing secret rejects every delivery: the endpoint must never
// accept unverified events.
func (s *StripeClient) VerifyEvent(payload []byte, sigHeader string) (*types.ProviderEvent, error) {
	if s.webhookSecret == "" {
		return nil, types.NewAppError(
			types.ErrCodeWebhookNotConfigured,
			"webhook signing secret is not configured",
			nil,
		)
	}
	if sigHeader == "" {
		return nil, types.NewAppError(
			types.ErrCodeWebhookSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		)
	}

	if err := webhook.ValidatePayload(payload, sigHeader, s.webhookSecret); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed",
			err,
		)
	}

	var envelope stripeEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		)
	}

	return &types.ProviderEvent{
		ID:      envelope.ID,
		Type:    envelope.Type,
		Created: time.Unix(envelope.Created, 0).UTC(),
		Object:  envelope.Data.Object,
	}, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.lookup.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body
// through the non-retrying transport.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.mutate.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to an
// AppError. The provider-supplied message is carried verbatim so the
// checkout/verify callers see the provider's reason.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: %s", operation, stripeErr.Error.Message),
		nil,
		map[string]any{
			"stripe_type": stripeErr.Error.Type,
			"stripe_code": stripeErr.Error.Code,
		},
	)
}

// wrapStripeError wraps a BaseClient transport error with operation context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// Breaker/retry errors from BaseClient already carry the right code.
	if appErr, ok := err.(*types.AppError); ok {
		return appErr
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCustomerList struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

type stripeEventEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// Compile-time interface check.
var _ BillingClient = (*StripeClient)(nil)
