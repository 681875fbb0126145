package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"paygate/internal/external"
	"paygate/internal/types"
)

// testGrantDuration is the entitlement window for development grants.
const testGrantDuration = 30 * 24 * time.Hour

// Service implements the subscription-paywall flows: starting a hosted
// checkout, answering entitlement checks, and applying provider webhook
// events to the cache.
type Service struct {
	billing    external.BillingClient
	store      *Store
	logger     *slog.Logger
	priceID    string
	successURL string
	cancelURL  string

	// lookups collapses concurrent cache-miss provider checks for the same
	// email into a single in-flight call.
	lookups singleflight.Group

	now func() time.Time // for testability; defaults to time.Now
}

// ServiceConfig holds the configuration for creating a Service.
type ServiceConfig struct {
	DefaultPriceID string
	FrontendURL    string
	Logger         *slog.Logger
}

// NewService creates a Service backed by the given billing client and cache.
func NewService(billing external.BillingClient, store *Store, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		billing:    billing,
		store:      store,
		logger:     logger,
		priceID:    cfg.DefaultPriceID,
		successURL: cfg.FrontendURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  cfg.FrontendURL + "/",
		now:        time.Now,
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

// StartCheckout opens a hosted checkout session for the email. When the
// provider already knows a customer for the email, the session is bound to
// that customer id so the payment lands on the existing account; otherwise
// the session carries the raw email and the provider creates the customer on
// successful payment.
//
// An empty priceID falls back to the configured default price.
func (s *Service) StartCheckout(ctx context.Context, email, priceID string) (types.CheckoutSession, error) {
	if priceID == "" {
		priceID = s.priceID
	}

	params := external.CheckoutParams{
		Email:      email,
		PriceID:    priceID,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	}

	customer, err := s.billing.FindCustomerByEmail(ctx, email)
	if err != nil {
		return types.CheckoutSession{}, err
	}
	if customer != nil {
		params.CustomerID = customer.ID
		params.Email = ""
	}

	session, err := s.billing.CreateCheckoutSession(ctx, params)
	if err != nil {
		return types.CheckoutSession{}, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		slog.String("session_id", session.SessionID),
		slog.Bool("existing_customer", customer != nil),
	)

	return session, nil
}

// ---------------------------------------------------------------------------
// Entitlement Checks
// ---------------------------------------------------------------------------

// CheckEntitlement answers whether the email is currently entitled.
//
// The cache is authoritative when it holds a record: a cached record decides
// the answer without contacting the provider, even when the answer is "not
// paid" (canceled status or an elapsed period). Only a complete cache miss
// falls through to a live provider lookup, and that result is returned
// without being cached -- the cache is written exclusively by event
// application, so a successful payment always becomes visible via its
// webhook, not via polling.
//
// A provider failure on the fallthrough path is an error, not a "not paid":
// callers must be able to distinguish "the provider could not answer" from a
// definitive denial.
func (s *Service) CheckEntitlement(ctx context.Context, email string) (types.Entitlement, error) {
	if rec, ok := s.store.Get(email); ok {
		return s.entitlementFromRecord(rec), nil
	}

	v, err, _ := s.lookups.Do(email, func() (interface{}, error) {
		return s.lookupProvider(ctx, email)
	})
	if err != nil {
		return types.Entitlement{}, err
	}

	return v.(types.Entitlement), nil
}

// entitlementFromRecord evaluates a cached record against the clock.
func (s *Service) entitlementFromRecord(rec types.EntitlementRecord) types.Entitlement {
	if rec.Status == types.SubStatusActive && rec.ExpiresAt.After(s.now()) {
		expires := rec.ExpiresAt
		return types.Entitlement{Paid: true, ExpiresAt: &expires}
	}
	return types.Entitlement{Paid: false}
}

// lookupProvider resolves entitlement directly against the provider: find the
// customer by email, then list active subscriptions. An unknown customer or a
// customer with no active subscription is a definitive "not paid".
func (s *Service) lookupProvider(ctx context.Context, email string) (types.Entitlement, error) {
	customer, err := s.billing.FindCustomerByEmail(ctx, email)
	if err != nil {
		return types.Entitlement{}, err
	}
	if customer == nil {
		return types.Entitlement{Paid: false}, nil
	}

	subs, err := s.billing.ListActiveSubscriptions(ctx, customer.ID)
	if err != nil {
		return types.Entitlement{}, err
	}
	if len(subs) == 0 {
		return types.Entitlement{Paid: false}, nil
	}

	expires := subs[0].CurrentPeriodEnd
	return types.Entitlement{Paid: true, ExpiresAt: &expires}, nil
}

// ---------------------------------------------------------------------------
// Event Application
// ---------------------------------------------------------------------------

// ApplyEvent reconciles one verified provider event into the cache.
//
// Subscription created/updated events upsert the customer's record with the
// mapped status and period end. Deleted events remove the record entirely, so
// a later entitlement check falls through to the provider rather than
// trusting a stale local row. Every other event kind is a deliberate no-op.
//
// Applying the same event twice converges to the same cache state, so
// provider redelivery is harmless.
func (s *Service) ApplyEvent(ctx context.Context, event *types.ProviderEvent) error {
	switch event.Type {
	case types.EventSubscriptionCreated, types.EventSubscriptionUpdated:
		return s.applySubscriptionChange(ctx, event)
	case types.EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, event)
	default:
		s.logger.DebugContext(ctx, "ignoring event",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		return nil
	}
}

func (s *Service) applySubscriptionChange(ctx context.Context, event *types.ProviderEvent) error {
	sub, err := event.SubscriptionObject()
	if err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			fmt.Sprintf("event %s carries a malformed subscription object", event.ID),
			err,
		)
	}

	// The event's subscription object carries a customer id, not an email;
	// the cache key requires a round trip to the provider.
	customer, err := s.billing.GetCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if customer == nil || customer.Email == "" {
		// Deleted or email-less customer: nothing to key the record on.
		s.logger.WarnContext(ctx, "subscription event for customer without email, skipping",
			slog.String("event_id", event.ID),
			slog.String("customer_id", sub.Customer),
		)
		return nil
	}

	rec := types.EntitlementRecord{
		Email:          customer.Email,
		SubscriptionID: sub.ID,
		Status:         types.MapProviderStatus(sub.Status),
		ExpiresAt:      time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	s.store.Upsert(rec)

	s.logger.InfoContext(ctx, "entitlement updated",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("subscription_id", sub.ID),
		slog.String("status", string(rec.Status)),
	)

	return nil
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, event *types.ProviderEvent) error {
	sub, err := event.SubscriptionObject()
	if err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			fmt.Sprintf("event %s carries a malformed subscription object", event.ID),
			err,
		)
	}

	customer, err := s.billing.GetCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}
	if customer == nil || customer.Email == "" {
		s.logger.WarnContext(ctx, "deletion event for customer without email, skipping",
			slog.String("event_id", event.ID),
			slog.String("customer_id", sub.Customer),
		)
		return nil
	}

	s.store.Delete(customer.Email)

	s.logger.InfoContext(ctx, "entitlement removed",
		slog.String("event_id", event.ID),
		slog.String("subscription_id", sub.ID),
	)

	return nil
}

// ---------------------------------------------------------------------------
// Test Grants
// ---------------------------------------------------------------------------

// GrantTestEntitlement writes a synthetic 30-day active entitlement for the
// email, bypassing the provider entirely. Only reachable when test endpoints
// are enabled (non-production environments).
func (s *Service) GrantTestEntitlement(ctx context.Context, email string) types.EntitlementRecord {
	rec := types.EntitlementRecord{
		Email:          email,
		SubscriptionID: "test_" + uuid.NewString(),
		Status:         types.SubStatusActive,
		ExpiresAt:      s.now().Add(testGrantDuration).UTC(),
	}
	s.store.Upsert(rec)

	s.logger.InfoContext(ctx, "test entitlement granted",
		slog.String("subscription_id", rec.SubscriptionID),
	)

	return rec
}
