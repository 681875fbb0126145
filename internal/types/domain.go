// Package types defines the shared domain model for the PayGate service:
// entitlement records, billing-provider projections, webhook events, and the
// application error taxonomy.
package types

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus is the local projection of a provider subscription state.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusUnknown  SubscriptionStatus = "unknown"
)

// MapProviderStatus collapses the provider's subscription status vocabulary
// (active, trialing, past_due, canceled, unpaid, ...) into the local enum.
// Only "active" grants entitlement; every other recognizable state is
// canceled. Empty or garbage input is unknown.
func MapProviderStatus(raw string) SubscriptionStatus {
	switch raw {
	case "active":
		return SubStatusActive
	case "trialing", "past_due", "canceled", "unpaid", "incomplete", "incomplete_expired", "paused":
		return SubStatusCanceled
	case "":
		return SubStatusUnknown
	default:
		return SubStatusUnknown
	}
}

// EntitlementRecord is the only durable-in-process entity: the cached
// projection of one email's subscription, written exclusively by webhook
// event application (and the test grant). Email is the case-sensitive key.
type EntitlementRecord struct {
	Email          string             `json:"email"`
	SubscriptionID string             `json:"subscription_id"`
	Status         SubscriptionStatus `json:"status"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

// Entitlement is the answer to "is this email currently entitled".
// ExpiresAt is nil when the answer is a plain "not paid" with no known period.
type Entitlement struct {
	Paid      bool       `json:"paid"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CheckoutSession is the result of starting a hosted checkout flow.
type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// Customer is the minimal provider customer projection the service consumes.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Subscription is the minimal provider subscription projection.
type Subscription struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customer"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}

// Provider event kinds the reconciliation service reacts to. All other kinds
// are acknowledged without a state change, so the provider can add event
// types without breaking ingestion.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ProviderEvent is a verified, minimally-decoded webhook notification.
// Object carries the event's data.object payload; subscription events decode
// it via SubscriptionObject.
type ProviderEvent struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// EventSubscription is the subset of a subscription event's data.object that
// event application needs: the subscription id, its owning customer, the raw
// status, and the period end (Unix seconds on the wire).
type EventSubscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// SubscriptionObject decodes the event payload as a subscription object.
func (e *ProviderEvent) SubscriptionObject() (*EventSubscription, error) {
	var sub EventSubscription
	if err := json.Unmarshal(e.Object, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
