package external

import (
	"context"

	"paygate/internal/types"
)

// CheckoutParams carries everything needed to open a hosted checkout session.
// Exactly one of CustomerID and Email is set: CustomerID when the provider
// already knows the customer, Email otherwise (the provider creates the
// customer as a side effect of successful payment).
type CheckoutParams struct {
	CustomerID string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// BillingClient is the narrow adapter to the external billing provider,
// exposing exactly the five capabilities the reconciliation service and the
// event ingestion endpoint consume. Implementations perform no caching and no
// cross-call retries beyond what their transport policy allows; callers must
// treat every method as potentially slow, unreliable I/O.
type BillingClient interface {
	// CreateCheckoutSession opens a hosted checkout session and returns its
	// redirect URL and id. NOT safe to retry blindly: a retry could create a
	// duplicate session for the same intent.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (types.CheckoutSession, error)

	// FindCustomerByEmail returns the first customer matching the email, or
	// nil when none exists. When the provider holds duplicate customers for
	// one email, the first result of the limit-1 query wins; duplicates are a
	// provider-side data-quality assumption, not handled defensively.
	FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error)

	// ListActiveSubscriptions returns the customer's active subscriptions,
	// capped at one -- the entitlement decision needs at most one.
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]types.Subscription, error)

	// GetCustomer retrieves a customer record by id.
	GetCustomer(ctx context.Context, customerID string) (*types.Customer, error)

	// VerifyEvent authenticates a webhook payload against its signature
	// header and decodes it into a ProviderEvent. Fails when no signing
	// secret is configured, so unverified events are never accepted.
	VerifyEvent(payload []byte, sigHeader string) (*types.ProviderEvent, error)
}
