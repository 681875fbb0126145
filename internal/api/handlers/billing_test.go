package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/core"
	"paygate/internal/entitlement"
	"paygate/internal/external"
	"paygate/internal/types"
)

// =============================================================================
// Mock Billing Client
// =============================================================================

type mockBillingClient struct {
	createSessionFn func(ctx context.Context, params external.CheckoutParams) (types.CheckoutSession, error)
	findCustomerFn  func(ctx context.Context, email string) (*types.Customer, error)
	listSubsFn      func(ctx context.Context, customerID string) ([]types.Subscription, error)
	getCustomerFn   func(ctx context.Context, customerID string) (*types.Customer, error)
	verifyEventFn   func(payload []byte, sigHeader string) (*types.ProviderEvent, error)
}

func (m *mockBillingClient) CreateCheckoutSession(ctx context.Context, params external.CheckoutParams) (types.CheckoutSession, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, params)
	}
	return types.CheckoutSession{URL: "https://checkout.test/cs_1", SessionID: "cs_1"}, nil
}

func (m *mockBillingClient) FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error) {
	if m.findCustomerFn != nil {
		return m.findCustomerFn(ctx, email)
	}
	return nil, nil
}

func (m *mockBillingClient) ListActiveSubscriptions(ctx context.Context, customerID string) ([]types.Subscription, error) {
	if m.listSubsFn != nil {
		return m.listSubsFn(ctx, customerID)
	}
	return nil, nil
}

func (m *mockBillingClient) GetCustomer(ctx context.Context, customerID string) (*types.Customer, error) {
	if m.getCustomerFn != nil {
		return m.getCustomerFn(ctx, customerID)
	}
	return nil, nil
}

func (m *mockBillingClient) VerifyEvent(payload []byte, sigHeader string) (*types.ProviderEvent, error) {
	if m.verifyEventFn != nil {
		return m.verifyEventFn(payload, sigHeader)
	}
	return nil, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "webhook signature verification failed", nil)
}

var _ external.BillingClient = (*mockBillingClient)(nil)

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type billingFixture struct {
	billing *mockBillingClient
	store   *entitlement.Store
	service *entitlement.Service
	router  *chi.Mux
}

func newBillingFixture(t *testing.T, billing *mockBillingClient, testEndpoint bool) *billingFixture {
	t.Helper()

	store := entitlement.NewStore()
	service := entitlement.NewService(billing, store, entitlement.ServiceConfig{
		DefaultPriceID: "price_default",
		FrontendURL:    "http://localhost:8080",
		Logger:         testLogger(),
	})

	handler := NewBillingHandler(service, core.NewValidator(testLogger()), testLogger(), testEndpoint)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return &billingFixture{
		billing: billing,
		store:   store,
		service: service,
		router:  router,
	}
}

func (f *billingFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *billingFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error.Code
}

// =============================================================================
// POST /create-checkout
// =============================================================================

func TestCreateCheckout_Success(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	rr := f.post(t, "/create-checkout", map[string]string{"email": "buyer@example.com"})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.test/cs_1", resp["url"])
	assert.Equal(t, "cs_1", resp["sessionId"])
}

func TestCreateCheckout_PassesOptionalPrice(t *testing.T) {
	var captured external.CheckoutParams
	billing := &mockBillingClient{
		createSessionFn: func(ctx context.Context, params external.CheckoutParams) (types.CheckoutSession, error) {
			captured = params
			return types.CheckoutSession{URL: "https://checkout.test/cs_2", SessionID: "cs_2"}, nil
		},
	}
	f := newBillingFixture(t, billing, false)

	rr := f.post(t, "/create-checkout", map[string]string{
		"email":   "buyer@example.com",
		"priceId": "price_custom",
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "price_custom", captured.PriceID)
}

func TestCreateCheckout_MissingEmail(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	rr := f.post(t, "/create-checkout", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rr))
}

func TestCreateCheckout_InvalidEmail(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	rr := f.post(t, "/create-checkout", map[string]string{"email": "not-an-email"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidEmail), errorCode(t, rr))
}

func TestCreateCheckout_MalformedJSON(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	req := httptest.NewRequest(http.MethodPost, "/create-checkout", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidJSON), errorCode(t, rr))
}

func TestCreateCheckout_ProviderFailure(t *testing.T) {
	billing := &mockBillingClient{
		createSessionFn: func(ctx context.Context, params external.CheckoutParams) (types.CheckoutSession, error) {
			return types.CheckoutSession{}, types.NewAppError(
				types.ErrCodeUpstreamStripe,
				"CreateCheckoutSession: No such price: 'price_nope'",
				nil,
			)
		},
	}
	f := newBillingFixture(t, billing, false)

	rr := f.post(t, "/create-checkout", map[string]string{"email": "buyer@example.com"})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, string(types.ErrCodeUpstreamStripe), errorCode(t, rr))
	assert.Contains(t, rr.Body.String(), "No such price", "provider reason must reach the caller")
}

// =============================================================================
// GET /verify-subscription
// =============================================================================

func TestVerifySubscription_MissingEmail(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	rr := f.get(t, "/verify-subscription")

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Paid *bool `json:"paid"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeValidationMissingField), resp.Error.Code)
	require.NotNil(t, resp.Paid, "verification errors must carry paid:false")
	assert.False(t, *resp.Paid)
}

func TestVerifySubscription_PaidFromCache(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	f.store.Upsert(types.EntitlementRecord{
		Email:          "paid@example.com",
		SubscriptionID: "sub_1",
		Status:         types.SubStatusActive,
		ExpiresAt:      expires,
	})

	rr := f.get(t, "/verify-subscription?email=paid@example.com")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var ent types.Entitlement
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ent))
	assert.True(t, ent.Paid)
	require.NotNil(t, ent.ExpiresAt)
	assert.True(t, ent.ExpiresAt.Equal(expires))
}

func TestVerifySubscription_NotPaidUnknownEmail(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	rr := f.get(t, "/verify-subscription?email=nobody@example.com")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"paid":false}`, rr.Body.String())
}

func TestVerifySubscription_ProviderFailureIs500NotPaid(t *testing.T) {
	billing := &mockBillingClient{
		findCustomerFn: func(ctx context.Context, email string) (*types.Customer, error) {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", nil)
		},
	}
	f := newBillingFixture(t, billing, false)

	rr := f.get(t, "/verify-subscription?email=a@example.com")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Paid *bool `json:"paid"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeUpstreamUnavailable), resp.Error.Code)
	require.NotNil(t, resp.Paid)
	assert.False(t, *resp.Paid)
}

// =============================================================================
// POST /test-subscription
// =============================================================================

func TestTestSubscription_GrantsEntitlement(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, true)

	rr := f.post(t, "/test-subscription", map[string]string{"email": "dev@example.com"})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp testSubscriptionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Paid)
	assert.NotEmpty(t, resp.ExpiresAt)

	rec, ok := f.store.Get("dev@example.com")
	require.True(t, ok)
	assert.Equal(t, types.SubStatusActive, rec.Status)
	assert.Contains(t, rec.SubscriptionID, "test_")
}

func TestTestSubscription_NotMountedWhenDisabled(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, false)

	rr := f.post(t, "/test-subscription", map[string]string{"email": "dev@example.com"})

	assert.Equal(t, http.StatusNotFound, rr.Code, "grant endpoint must not exist outside test mode")
}

func TestTestSubscription_InvalidEmail(t *testing.T) {
	f := newBillingFixture(t, &mockBillingClient{}, true)

	rr := f.post(t, "/test-subscription", map[string]string{"email": "nope"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidEmail), errorCode(t, rr))
}
