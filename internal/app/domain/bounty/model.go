// Package bounty models a buyer-funded unit of work: a description, a
// payout per completed job, and the fingerprint classes that determine how
// many Jobs get materialized when it is published.
package bounty

import "time"

// Lifecycle: draft -> published -> paused | completed.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Bounty is the buyer-facing unit of demand. Publishing reserves budget and
// materializes one Job per fingerprint class.
type Bounty struct {
	ID               string
	OrgID            string
	AppID            string
	Description      string
	AllowedOrigins   []string // subset of the org's verified Origins
	PayoutCents      int64
	RequiredProofs   int
	FingerprintClasses []string
	TaskDescriptor   map[string]any
	Status           string
	CreatedAt        time.Time
	PublishedAt      *time.Time
	CreatedBy        string
}

// ReservedBudgetCents is the total the org must have available to publish:
// one PayoutCents reservation per fingerprint class.
func (b Bounty) ReservedBudgetCents() int64 {
	classes := len(b.FingerprintClasses)
	if classes == 0 {
		classes = 1
	}
	return b.PayoutCents * int64(classes)
}

func (b Bounty) Active() bool { return b.Status == StatusPublished }
