package memory

import (
	"context"
	"testing"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/stretchr/testify/require"
)

func TestStoreBountyPublishMaterializesJobsAndClaim(t *testing.T) {
	ctx := context.Background()
	s := New()

	o, err := s.CreateOrg(ctx, org.Org{Name: "acme"})
	require.NoError(t, err)

	a, err := s.CreateApp(ctx, org.App{OrgID: o.ID, Slug: "captcha", TaskType: "captcha", Status: org.AppActive})
	require.NoError(t, err)

	b, err := s.CreateBounty(ctx, bounty.Bounty{
		OrgID:              o.ID,
		AppID:              a.ID,
		Description:        "solve captchas",
		PayoutCents:        100,
		RequiredProofs:     1,
		FingerprintClasses: []string{"default"},
		Status:             bounty.StatusDraft,
	})
	require.NoError(t, err)

	j, err := s.CreateJob(ctx, job.Job{
		BountyID:         b.ID,
		OrgID:            o.ID,
		FingerprintClass: "default",
		TaskDescriptor:   map[string]any{"task_type": "captcha"},
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusOpen, j.Status)

	// Not claimable while the bounty is still a draft.
	_, err = s.ClaimNextJob(ctx, "worker-1", storage.JobFilter{}, 600)
	require.Error(t, err)

	b.Status = bounty.StatusPublished
	_, err = s.UpdateBounty(ctx, b)
	require.NoError(t, err)

	claimed, err := s.ClaimNextJob(ctx, "worker-1", storage.JobFilter{}, 600)
	require.NoError(t, err)
	require.Equal(t, j.ID, claimed.ID)
	require.Equal(t, job.StatusClaimed, claimed.Status)
	require.NotNil(t, claimed.LeaseNonce)

	// A second worker finds nothing eligible.
	_, err = s.ClaimNextJob(ctx, "worker-2", storage.JobFilter{}, 600)
	require.Error(t, err)
}

func TestStoreAddSubmissionIdempotentOnKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	sub := submission.Submission{JobID: "job-1", OrgID: "org-1", WorkerID: "worker-1", IdempotencyKey: "idem-1"}

	first, created, err := s.AddSubmission(ctx, sub)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := s.AddSubmission(ctx, sub)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestStoreOutboxClaimPendingRespectsProcessingLock(t *testing.T) {
	ctx := context.Background()
	s := New()

	e, created, err := s.InsertOutboxEvent(ctx, outbox.Event{
		Topic:          outbox.TopicVerificationRequested,
		IdempotencyKey: "sub-1",
		Payload:        map[string]any{"submission_id": "sub-1"},
	})
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := s.ClaimPending(ctx, []string{outbox.TopicVerificationRequested}, "worker-instance", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, e.IdempotencyKey, claimed[0].IdempotencyKey)

	// Already processing: a second claim attempt sees nothing.
	again, err := s.ClaimPending(ctx, []string{outbox.TopicVerificationRequested}, "worker-instance", 10)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, s.MarkSent(ctx, claimed[0].ID))
}

func TestStoreGetOrgNotFound(t *testing.T) {
	s := New()
	_, err := s.GetOrg(context.Background(), "missing")
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindNotFound, appErr.Kind)
}
