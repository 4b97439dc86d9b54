// Package billing models a per-org cents balance and its event-sourced
// ledger, plus inbound payment intents (Stripe checkout).
package billing

import "time"

// BillingAccount tracks the current balance; BillingEvent is the
// append-only ledger it is derived from.
type BillingAccount struct {
	OrgID         string
	BalanceCents  int64
	UpdatedAt     time.Time
}

// BillingEvent kinds.
const (
	EventTopup  = "topup"
	EventHold   = "hold"
	EventRelease = "release"
	EventPayout = "payout"
)

// BillingEvent is idempotent on ExternalEventID (e.g. stripe_evt_<id>) so
// webhook or SNS redelivery never double-applies.
type BillingEvent struct {
	ID              string
	OrgID           string
	Kind            string
	AmountCents     int64
	ExternalEventID string
	CreatedAt       time.Time
}

// PaymentIntent statuses.
const (
	IntentCreated   = "created"
	IntentSucceeded = "succeeded"
	IntentFailed    = "failed"
)

// PaymentIntent represents an in-flight Stripe checkout.
type PaymentIntent struct {
	ID              string
	OrgID           string
	AmountCents     int64
	Status          string
	StripeIntentID  string
	CreatedAt       time.Time
}
