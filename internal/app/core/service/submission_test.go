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
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/internal/app/storage/memory"
)

func seedClaimedJob(t *testing.T, store *memory.Store, workerID string) (job.Job, bounty.Bounty) {
	t.Helper()
	ctx := context.Background()
	o, err := store.CreateOrg(ctx, org.Org{Name: "acme"})
	require.NoError(t, err)
	a, err := store.CreateApp(ctx, org.App{OrgID: o.ID, Slug: "captcha", TaskType: "captcha", Status: org.AppActive})
	require.NoError(t, err)
	b, err := store.CreateBounty(ctx, bounty.Bounty{
		OrgID:          o.ID,
		AppID:          a.ID,
		PayoutCents:    200,
		RequiredProofs: 1,
		Status:         bounty.StatusPublished,
	})
	require.NoError(t, err)
	j, err := store.CreateJob(ctx, job.Job{BountyID: b.ID, OrgID: o.ID})
	require.NoError(t, err)

	claimed, err := store.ClaimNextJob(ctx, workerID, storage.JobFilter{}, 3600)
	require.NoError(t, err)
	return claimed, b
}

func TestSubmitRejectsWrongLease(t *testing.T) {
	store := memory.New()
	claimed, _ := seedClaimedJob(t, store, "worker-1")
	engine := &SubmissionEngine{Store: store}

	_, err := engine.Submit(context.Background(), SubmitInput{
		JobID:      claimed.ID,
		WorkerID:   "worker-2",
		LeaseNonce: *claimed.LeaseNonce,
	})
	require.Error(t, err)
}

func TestSubmitTransitionsJobToVerifyingAndEnqueuesOutbox(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	claimed, _ := seedClaimedJob(t, store, "worker-1")
	engine := &SubmissionEngine{Store: store}

	result, err := engine.Submit(ctx, SubmitInput{
		JobID:          claimed.ID,
		WorkerID:       "worker-1",
		LeaseNonce:     *claimed.LeaseNonce,
		IdempotencyKey: "attempt-1",
		Manifest:       submission.Manifest{Result: map[string]any{"observed": "blocked"}},
	})
	require.NoError(t, err)
	require.Equal(t, "verifying", result.State)
	require.False(t, result.Duplicate)

	updatedJob, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusVerifying, updatedJob.Status)

	n, err := store.CountBacklog(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n) // no verification attempt exists until a verifier claims

	events, err := store.ClaimPending(ctx, []string{outbox.TopicVerificationRequested}, "test", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestSubmitIsIdempotentOnKey(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	claimed, _ := seedClaimedJob(t, store, "worker-1")
	engine := &SubmissionEngine{Store: store}

	in := SubmitInput{
		JobID:          claimed.ID,
		WorkerID:       "worker-1",
		LeaseNonce:     *claimed.LeaseNonce,
		IdempotencyKey: "attempt-1",
		Manifest:       submission.Manifest{Result: map[string]any{"observed": "blocked"}},
	}
	first, err := engine.Submit(ctx, in)
	require.NoError(t, err)

	second, err := engine.Submit(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.Submission.ID, second.Submission.ID)
}

func TestSubmitDetectsDuplicateByDedupeKey(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	claimed, b := seedClaimedJob(t, store, "worker-1")
	engine := &SubmissionEngine{Store: store}

	_, err := engine.Submit(ctx, SubmitInput{
		JobID:          claimed.ID,
		WorkerID:       "worker-1",
		LeaseNonce:     *claimed.LeaseNonce,
		IdempotencyKey: "attempt-1",
		Manifest:       submission.Manifest{Result: map[string]any{"observed": "blocked"}},
	})
	require.NoError(t, err)

	// A second job from the same bounty, claimed by another worker, produces
	// the same observed finding and should be flagged a duplicate.
	j2, err := store.CreateJob(ctx, job.Job{BountyID: b.ID, OrgID: b.OrgID})
	require.NoError(t, err)
	claimed2, err := store.ClaimNextJob(ctx, "worker-2", storage.JobFilter{RequireJobID: j2.ID}, 3600)
	require.NoError(t, err)

	result, err := engine.Submit(ctx, SubmitInput{
		JobID:          claimed2.ID,
		WorkerID:       "worker-2",
		LeaseNonce:     *claimed2.LeaseNonce,
		IdempotencyKey: "attempt-2",
		Manifest:       submission.Manifest{Result: map[string]any{"observed": "blocked"}},
	})
	require.NoError(t, err)
	require.True(t, result.Duplicate)
	require.Equal(t, "done", result.State)
}

func TestCheckOriginAllowedRejectsSubdomainEscape(t *testing.T) {
	err := checkOriginAllowed("https://example.com.evil.test/path", []string{"https://example.com"})
	require.Error(t, err)
}

func TestCheckOriginAllowedAcceptsExactMatch(t *testing.T) {
	err := checkOriginAllowed("https://example.com/path", []string{"https://example.com"})
	require.NoError(t, err)
}
