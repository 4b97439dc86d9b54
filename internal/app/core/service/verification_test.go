package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/domain/verification"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/internal/app/storage/memory"
)

func seedSubmittedJob(t *testing.T, store *memory.Store, requiredProofs int) submission.Submission {
	t.Helper()
	ctx := context.Background()
	o, err := store.CreateOrg(ctx, org.Org{Name: "acme"})
	require.NoError(t, err)
	a, err := store.CreateApp(ctx, org.App{OrgID: o.ID, Slug: "captcha", TaskType: "captcha", Status: org.AppActive})
	require.NoError(t, err)
	b, err := store.CreateBounty(ctx, bounty.Bounty{
		OrgID: o.ID, AppID: a.ID, PayoutCents: 200, RequiredProofs: requiredProofs, Status: bounty.StatusPublished,
	})
	require.NoError(t, err)
	j, err := store.CreateJob(ctx, job.Job{BountyID: b.ID, OrgID: o.ID})
	require.NoError(t, err)
	claimed, err := store.ClaimNextJob(ctx, "worker-1", storage.JobFilter{}, 3600)
	require.NoError(t, err)

	engine := &SubmissionEngine{Store: store}
	result, err := engine.Submit(ctx, SubmitInput{
		JobID:          claimed.ID,
		WorkerID:       "worker-1",
		LeaseNonce:     *claimed.LeaseNonce,
		IdempotencyKey: "attempt-1",
	})
	require.NoError(t, err)
	return result.Submission
}

func TestVerificationClaimIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sub := seedSubmittedJob(t, store, 1)
	gateway := &VerificationGateway{Store: store}

	first, err := gateway.Claim(ctx, ClaimInput{SubmissionID: sub.ID, AttemptNo: 1, VerifierInstanceID: "vf-1", ClaimTTLSeconds: 120})
	require.NoError(t, err)
	require.Equal(t, verification.StateClaimed, first.Verification.State)

	_, err = gateway.Claim(ctx, ClaimInput{SubmissionID: sub.ID, AttemptNo: 1, VerifierInstanceID: "vf-2", ClaimTTLSeconds: 120})
	require.Error(t, err)
}

func TestVerdictPassSingleProofCompletesJobAndEnqueuesPayout(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sub := seedSubmittedJob(t, store, 1)
	gateway := &VerificationGateway{Store: store}

	claim, err := gateway.Claim(ctx, ClaimInput{SubmissionID: sub.ID, AttemptNo: 1, VerifierInstanceID: "vf-1", ClaimTTLSeconds: 120})
	require.NoError(t, err)

	result, err := gateway.Verdict(ctx, VerdictInput{
		VerificationID: claim.Verification.ID,
		ClaimToken:     claim.Verification.ClaimToken,
		Verdict:        verification.VerdictPass,
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusDone, result.JobStatus)
	require.Equal(t, submission.StatusAccepted, result.SubStatus)

	events, err := store.ClaimPending(ctx, []string{outbox.TopicPayoutRequested}, "test", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, sub.ID, events[0].Payload["submissionId"])
}

func TestVerdictPassRequiresMultipleProofsBeforeCompleting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sub := seedSubmittedJob(t, store, 2)
	gateway := &VerificationGateway{Store: store}

	claim, err := gateway.Claim(ctx, ClaimInput{SubmissionID: sub.ID, AttemptNo: 1, VerifierInstanceID: "vf-1", ClaimTTLSeconds: 120})
	require.NoError(t, err)
	result, err := gateway.Verdict(ctx, VerdictInput{
		VerificationID: claim.Verification.ID,
		ClaimToken:     claim.Verification.ClaimToken,
		Verdict:        verification.VerdictPass,
	})
	require.NoError(t, err)
	require.NotEqual(t, job.StatusDone, result.JobStatus)

	events, err := store.ClaimPending(ctx, []string{outbox.TopicPayoutRequested}, "test", 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestVerdictFailReopensJobUnderAttemptLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sub := seedSubmittedJob(t, store, 1)
	gateway := &VerificationGateway{Store: store}

	claim, err := gateway.Claim(ctx, ClaimInput{SubmissionID: sub.ID, AttemptNo: 1, VerifierInstanceID: "vf-1", ClaimTTLSeconds: 120})
	require.NoError(t, err)

	result, err := gateway.Verdict(ctx, VerdictInput{
		VerificationID: claim.Verification.ID,
		ClaimToken:     claim.Verification.ClaimToken,
		Verdict:        verification.VerdictFail,
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusOpen, result.JobStatus)
}

func TestVerdictFailAtAttemptLimitFailsJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sub := seedSubmittedJob(t, store, 1)
	gateway := &VerificationGateway{Store: store}

	claim, err := gateway.Claim(ctx, ClaimInput{SubmissionID: sub.ID, AttemptNo: MaxVerificationAttempts, VerifierInstanceID: "vf-1", ClaimTTLSeconds: 120})
	require.NoError(t, err)

	result, err := gateway.Verdict(ctx, VerdictInput{
		VerificationID: claim.Verification.ID,
		ClaimToken:     claim.Verification.ClaimToken,
		Verdict:        verification.VerdictFail,
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, result.JobStatus)
}
