// Package storage declares the typed operations the rest of the
// application is allowed to perform against durable state. Storage is the
// only layer that issues SQL; every operation here is either read-only or
// executes as a single transaction. Callers that need to combine a domain
// mutation with an outbox insert use WithTx so both commit atomically.
package storage

import (
	"context"

	"github.com/R3E-Network/proofwork/internal/app/domain/admin"
	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/payout"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/domain/verification"
)

// OrgStore persists tenants, buyer accounts, credentials, and app/origin
// registrations.
type OrgStore interface {
	CreateOrg(ctx context.Context, o org.Org) (org.Org, error)
	GetOrg(ctx context.Context, id string) (org.Org, error)
	UpdateOrg(ctx context.Context, o org.Org) (org.Org, error)

	CreateOrgUser(ctx context.Context, u org.OrgUser) (org.OrgUser, error)
	GetOrgUserByEmail(ctx context.Context, email string) (org.OrgUser, error)

	CreateAPIKey(ctx context.Context, k org.ApiKey) (org.ApiKey, error)
	GetAPIKeyByHash(ctx context.Context, hash string) (org.ApiKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	CreateSession(ctx context.Context, s org.Session) (org.Session, error)
	GetSession(ctx context.Context, id string) (org.Session, error)
	RevokeSession(ctx context.Context, id string) error

	CreateOrigin(ctx context.Context, o org.Origin) (org.Origin, error)
	GetOrigin(ctx context.Context, id string) (org.Origin, error)
	ListVerifiedOrigins(ctx context.Context, orgID string) ([]org.Origin, error)
	UpdateOrigin(ctx context.Context, o org.Origin) (org.Origin, error)

	CreateApp(ctx context.Context, a org.App) (org.App, error)
	GetAppByTaskType(ctx context.Context, taskType string) (org.App, error)
	GetApp(ctx context.Context, id string) (org.App, error)

	AddBlockedDomain(ctx context.Context, d org.BlockedDomain) error
	RemoveBlockedDomain(ctx context.Context, domain string) error
	IsBlockedDomain(ctx context.Context, domain string) (bool, error)
}

// BountyStore persists bounties.
type BountyStore interface {
	CreateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error)
	GetBounty(ctx context.Context, id string) (bounty.Bounty, error)
	UpdateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error)
	ListBountiesByOrg(ctx context.Context, orgID string, limit int) ([]bounty.Bounty, error)
}

// JobStore persists jobs and their leases. Update operations are
// optimistic-concurrency guarded on (status, lease_nonce) and return
// apperr conflict errors on mismatch.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	UpdateJob(ctx context.Context, expectedStatus string, expectedNonce *string, j job.Job) (job.Job, error)
	ListJobsByBounty(ctx context.Context, bountyID string) ([]job.Job, error)

	// ClaimNextJob atomically selects and transitions one eligible open job
	// to claimed for the given worker, or returns an apperr KindNotFound
	// error when none is eligible (postgres.ErrNoEligibleJob in that store).
	ClaimNextJob(ctx context.Context, workerID string, filter JobFilter, leaseTTLSeconds int) (job.Job, error)

	// ReapExpiredLeases sweeps claimed jobs whose lease has expired back to
	// open, clearing lease fields, without publishing any outbox event.
	ReapExpiredLeases(ctx context.Context) (int, error)

	// RevokeLeasesForWorker clears any active lease held by workerID,
	// returning affected jobs to open. Used by admin ban.
	RevokeLeasesForWorker(ctx context.Context, workerID string) (int, error)
}

// JobFilter narrows ClaimNextJob's candidate set per the optional query
// parameters on GET /api/jobs/next.
type JobFilter struct {
	CapabilityTags  []string
	TaskType        string
	RequireJobID    string
	RequireBountyID string
	ExcludeJobIDs   []string
}

// SubmissionStore persists worker submissions.
type SubmissionStore interface {
	// AddSubmission performs a unique-upsert on (job_id, idempotency_key):
	// a repeat call with the same key returns the original row unchanged.
	AddSubmission(ctx context.Context, s submission.Submission) (submission.Submission, bool, error)
	GetSubmission(ctx context.Context, id string) (submission.Submission, error)
	GetSubmissionByIdempotencyKey(ctx context.Context, jobID, key string) (submission.Submission, bool, error)
	FindActiveByDedupeKey(ctx context.Context, bountyID, dedupeKey string) (submission.Submission, bool, error)
	UpdateSubmissionStatus(ctx context.Context, id, status string) error
	SetPayoutStatus(ctx context.Context, id, status string) error

	CreateArtifact(ctx context.Context, a submission.Artifact) (submission.Artifact, error)
	GetArtifact(ctx context.Context, id string) (submission.Artifact, error)
	UpdateArtifactStatus(ctx context.Context, id, status, bucketKind string) error
}

// VerificationStore persists verifier claims and verdicts.
type VerificationStore interface {
	GetOrCreateClaim(ctx context.Context, submissionID string, attemptNo int, verifierInstanceID, claimToken string, claimTTLSeconds int) (verification.Verification, bool, error)
	GetVerification(ctx context.Context, id string) (verification.Verification, error)
	GetLatestAttempt(ctx context.Context, submissionID string) (verification.Verification, bool, error)
	RecordVerdict(ctx context.Context, id, claimToken, verdict, reason string, scorecard map[string]any) (verification.Verification, error)
	CountPassingInstances(ctx context.Context, submissionID string) ([]string, error)
	// CountBacklog reports verification attempts still queued or claimed,
	// the proofwork_verifier_backlog gauge's source of truth.
	CountBacklog(ctx context.Context) (int, error)
}

// PayoutStore persists payouts and their transfers.
type PayoutStore interface {
	// AddPayout creates a payout plus its transfer rows atomically.
	AddPayout(ctx context.Context, p payout.Payout, transfers []payout.PayoutTransfer) (payout.Payout, error)
	GetPayout(ctx context.Context, id string) (payout.Payout, error)
	GetPayoutBySubmission(ctx context.Context, submissionID string) (payout.Payout, bool, error)
	UpdatePayoutStatus(ctx context.Context, id, status, failureReason string) error
	ListTransfers(ctx context.Context, payoutID string) ([]payout.PayoutTransfer, error)
	UpdateTransfer(ctx context.Context, t payout.PayoutTransfer) error
	SetWorkerPayoutAddress(ctx context.Context, workerID, chain, address string) error
	GetWorkerPayoutAddress(ctx context.Context, workerID, chain string) (string, bool, error)
}

// BillingStore persists org balances and the ledger.
type BillingStore interface {
	GetBillingAccount(ctx context.Context, orgID string) (billing.BillingAccount, error)
	// ApplyEvent is idempotent on ExternalEventID: a repeat call is a no-op
	// and returns applied=false.
	ApplyEvent(ctx context.Context, e billing.BillingEvent) (applied bool, err error)
	CreatePaymentIntent(ctx context.Context, p billing.PaymentIntent) (billing.PaymentIntent, error)
	GetPaymentIntentByStripeID(ctx context.Context, stripeID string) (billing.PaymentIntent, bool, error)
	UpdatePaymentIntentStatus(ctx context.Context, id, status string) error
}

// OutboxStore persists the transactional outbox.
type OutboxStore interface {
	// InsertOutboxEvent is idempotent per (topic, idempotency_key): a
	// duplicate collapses to a no-op.
	InsertOutboxEvent(ctx context.Context, e outbox.Event) (outbox.Event, bool, error)
	// ClaimPending locks up to n pending rows whose available_at has
	// passed (SELECT ... FOR UPDATE SKIP LOCKED) and marks them processing.
	ClaimPending(ctx context.Context, topics []string, lockedBy string, n int) ([]outbox.Event, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextAvailableAt int64, lastError string) error
	MarkDeadletter(ctx context.Context, id, lastError string) error
	OldestPendingAgeSeconds(ctx context.Context) (int64, bool, error)
}

// AdminStore persists worker bans, alarm notifications, and the audit log.
type AdminStore interface {
	BanWorker(ctx context.Context, b admin.WorkerBan) error
	IsWorkerBanned(ctx context.Context, workerID string) (bool, error)
	RecordAlarm(ctx context.Context, a admin.AlarmNotification) (applied bool, err error)
	ListAlarms(ctx context.Context, limit int) ([]admin.AlarmNotification, error)
	RecordAudit(ctx context.Context, e admin.AuditEntry) error
}

// Store aggregates every typed operation plus transaction support. It is
// the only component that issues database statements.
type Store interface {
	OrgStore
	BountyStore
	JobStore
	SubmissionStore
	VerificationStore
	PayoutStore
	BillingStore
	OutboxStore
	AdminStore

	// WithTx runs fn against a Store scoped to a single database
	// transaction. A non-nil return rolls back; nil commits.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
