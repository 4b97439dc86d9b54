// Package verification models the verifier-facing claim/verdict protocol
// applied to a Submission.
package verification

import "time"

// States: queued -> claimed -> decided(pass|fail) -> finalized, or expired
// if the claim lapses unverdicted.
const (
	StateQueued    = "queued"
	StateClaimed   = "claimed"
	StateDecided   = "decided"
	StateFinalized = "finalized"
	StateExpired   = "expired"
)

const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Verification is a child of Submission, one row per attempt.
type Verification struct {
	ID                string
	SubmissionID      string
	OrgID             string
	AttemptNo         int
	State             string
	ClaimToken        string
	ClaimExpiresAt    *time.Time
	VerifierInstanceID string
	Verdict           string
	Scorecard         map[string]any
	Reason            string
	CreatedAt         time.Time
	DecidedAt         *time.Time
}

func (v Verification) ClaimLive(now time.Time) bool {
	return v.State == StateClaimed && v.ClaimExpiresAt != nil && now.Before(*v.ClaimExpiresAt)
}

func (v Verification) ClaimExpired(now time.Time) bool {
	return v.State == StateClaimed && v.ClaimExpiresAt != nil && now.After(*v.ClaimExpiresAt)
}
