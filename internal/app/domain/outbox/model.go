// Package outbox models the transactional outbox: domain state changes and
// their side effects commit atomically, and a separate consumer loop
// dispatches the side effects at-least-once.
package outbox

import "time"

// Row status.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusDeadletter = "deadletter"
)

// Topics. Each maps to exactly one handler in the consumer loop.
const (
	TopicVerificationRequested  = "verification.requested"
	TopicPayoutRequested        = "payout.requested"
	TopicPayoutConfirmRequested = "payout.confirm.requested"
	TopicArtifactScanRequested  = "artifact.scan.requested"
	TopicBillingTopupCredited   = "billing.topup.credited"
)

// MaxAttempts is the default deadletter threshold.
const MaxAttempts = 10

// Event is one outbox row.
type Event struct {
	ID             string
	Topic          string
	IdempotencyKey string // unique per topic; empty means no dedupe
	Payload        map[string]any
	Status         string
	Attempts       int
	AvailableAt    time.Time
	LockedAt       *time.Time
	LockedBy       string
	LastError      string
	CreatedAt      time.Time
	SentAt         *time.Time
}

func (e Event) Locked() bool { return e.LockedAt != nil }
