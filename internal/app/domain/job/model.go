// Package job models the dispatchable unit of work materialized from a
// Bounty's fingerprint classes, and the lease that gives a worker exclusive
// claim to it.
package job

import "time"

// Status transitions: open -> claimed -> verifying -> done | expired | failed.
// claimed may also return to open via release or lease expiry (reaping).
const (
	StatusOpen      = "open"
	StatusClaimed   = "claimed"
	StatusVerifying = "verifying"
	StatusDone      = "done"
	StatusExpired   = "expired"
	StatusFailed    = "failed"
)

// Job is a child of Bounty scoped to one fingerprint class.
type Job struct {
	ID                string
	BountyID          string
	OrgID             string
	FingerprintClass  string
	Status            string
	TaskDescriptor    map[string]any
	CapabilityTags    []string
	LeaseWorkerID     *string
	LeaseNonce        *string
	LeaseExpiresAt    *time.Time
	CurrentSubmissionID *string
	FinalVerdict      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasActiveLease reports whether exactly one lease is currently held. All
// three lease fields are set together or not at all.
func (j Job) HasActiveLease() bool {
	return j.LeaseWorkerID != nil && j.LeaseNonce != nil && j.LeaseExpiresAt != nil
}

// LeaseExpired reports whether the held lease is past its TTL as of now.
func (j Job) LeaseExpired(now time.Time) bool {
	return j.LeaseExpiresAt != nil && now.After(*j.LeaseExpiresAt)
}

// Fresh reports whether the job is still within its freshness SLA window,
// measured from creation, independent of lease state.
func (j Job) Fresh(now time.Time, freshnessSLA time.Duration) bool {
	return now.Sub(j.CreatedAt) <= freshnessSLA
}

// LeasedBy reports whether worker+nonce match the held lease exactly.
func (j Job) LeasedBy(workerID, nonce string) bool {
	return j.LeaseWorkerID != nil && *j.LeaseWorkerID == workerID &&
		j.LeaseNonce != nil && *j.LeaseNonce == nonce
}
