package service

import (
	"context"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/domain/verification"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/google/uuid"
)

// MaxVerificationAttempts bounds how many verifier attempts a submission may
// accumulate before its job is marked failed.
const MaxVerificationAttempts = 3

// VerificationGateway hands claimed submissions to the verifier pool with
// single-flight claim tokens, ingests verdicts, and drives the owning
// submission/job to their resolved state.
type VerificationGateway struct {
	Store storage.Store
}

// ClaimInput is the verifier's claim request.
type ClaimInput struct {
	SubmissionID       string
	AttemptNo          int
	VerifierInstanceID string
	ClaimTTLSeconds    int
}

// ClaimResult is returned to the verifier.
type ClaimResult struct {
	Verification verification.Verification
	Submission   submission.Submission
	JobSpec      map[string]any
}

func clampClaimTTL(seconds int) int {
	switch {
	case seconds < 60:
		return 60
	case seconds > 1800:
		return 1800
	default:
		return seconds
	}
}

func (g *VerificationGateway) Claim(ctx context.Context, in ClaimInput) (ClaimResult, error) {
	sub, err := g.Store.GetSubmission(ctx, in.SubmissionID)
	if err != nil {
		return ClaimResult{}, err
	}
	j, err := g.Store.GetJob(ctx, sub.JobID)
	if err != nil {
		return ClaimResult{}, err
	}

	ttl := clampClaimTTL(in.ClaimTTLSeconds)
	v, existed, err := g.Store.GetOrCreateClaim(ctx, in.SubmissionID, in.AttemptNo, in.VerifierInstanceID, newClaimToken(), ttl)
	if err != nil {
		return ClaimResult{}, err
	}
	if existed && v.VerifierInstanceID != in.VerifierInstanceID {
		return ClaimResult{}, apperr.Conflict(apperr.CodeAttemptClaimed, "attempt already claimed by another verifier instance")
	}

	return ClaimResult{
		Verification: v,
		Submission:   sub,
		JobSpec:      j.TaskDescriptor,
	}, nil
}

func newClaimToken() string { return uuid.NewString() }

// VerdictInput is the verifier's decision for a claimed attempt.
type VerdictInput struct {
	VerificationID string
	ClaimToken     string
	Verdict        string
	Reason         string
	Scorecard      map[string]any
}

// VerdictResult reports the submission/job state after a verdict commits.
type VerdictResult struct {
	Verification verification.Verification
	JobStatus    string
	SubStatus    string
}

func (g *VerificationGateway) Verdict(ctx context.Context, in VerdictInput) (VerdictResult, error) {
	var result VerdictResult
	err := g.Store.WithTx(ctx, func(tx storage.Store) error {
		v, err := tx.RecordVerdict(ctx, in.VerificationID, in.ClaimToken, in.Verdict, in.Reason, in.Scorecard)
		if err != nil {
			return err
		}
		sub, err := tx.GetSubmission(ctx, v.SubmissionID)
		if err != nil {
			return err
		}
		j, err := tx.GetJob(ctx, sub.JobID)
		if err != nil {
			return err
		}
		b, err := tx.GetBounty(ctx, j.BountyID)
		if err != nil {
			return err
		}

		if in.Verdict == verification.VerdictFail {
			return g.onFail(ctx, tx, v, sub, j, &result)
		}
		return g.onPass(ctx, tx, v, sub, j, b.RequiredProofs, &result)
	})
	return result, err
}

func (g *VerificationGateway) onFail(ctx context.Context, tx storage.Store, v verification.Verification, sub submission.Submission, j job.Job, result *VerdictResult) error {
	if err := tx.UpdateSubmissionStatus(ctx, sub.ID, submission.StatusRejected); err != nil {
		return err
	}
	nonce := ""
	if j.LeaseNonce != nil {
		nonce = *j.LeaseNonce
	}
	if v.AttemptNo >= MaxVerificationAttempts {
		j.Status = job.StatusFailed
		verdict := verification.VerdictFail
		j.FinalVerdict = &verdict
	} else {
		j.Status = job.StatusOpen
	}
	j.LeaseWorkerID = nil
	j.LeaseNonce = nil
	j.LeaseExpiresAt = nil
	j.CurrentSubmissionID = nil
	if _, err := tx.UpdateJob(ctx, job.StatusVerifying, &nonce, j); err != nil {
		return err
	}
	result.Verification = v
	result.JobStatus = j.Status
	result.SubStatus = submission.StatusRejected
	return nil
}

func (g *VerificationGateway) onPass(ctx context.Context, tx storage.Store, v verification.Verification, sub submission.Submission, j job.Job, requiredProofs int, result *VerdictResult) error {
	if requiredProofs < 1 {
		requiredProofs = 1
	}
	passed := true
	if requiredProofs > 1 {
		instances, err := tx.CountPassingInstances(ctx, sub.ID)
		if err != nil {
			return err
		}
		passed = len(instances) >= requiredProofs
	}

	result.Verification = v
	if !passed {
		result.JobStatus = j.Status
		result.SubStatus = sub.Status
		return nil
	}

	if err := tx.UpdateSubmissionStatus(ctx, sub.ID, submission.StatusAccepted); err != nil {
		return err
	}
	nonce := ""
	if j.LeaseNonce != nil {
		nonce = *j.LeaseNonce
	}
	j.Status = job.StatusDone
	verdict := verification.VerdictPass
	j.FinalVerdict = &verdict
	j.LeaseWorkerID = nil
	j.LeaseNonce = nil
	j.LeaseExpiresAt = nil
	if _, err := tx.UpdateJob(ctx, job.StatusVerifying, &nonce, j); err != nil {
		return err
	}

	payload := map[string]any{"submissionId": sub.ID, "workerId": sub.WorkerID}
	if _, _, err := tx.InsertOutboxEvent(ctx, outbox.Event{
		Topic:          outbox.TopicPayoutRequested,
		IdempotencyKey: "payout:" + sub.ID,
		Payload:        payload,
	}); err != nil {
		return err
	}

	result.JobStatus = job.StatusDone
	result.SubStatus = submission.StatusAccepted
	return nil
}

