package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/proofwork/internal/app/domain/admin"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/payout"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/internal/app/storage/memory"
)

func TestBanWorkerRevokesActiveLease(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o, err := store.CreateOrg(ctx, org.Org{Name: "acme"})
	require.NoError(t, err)
	a, err := store.CreateApp(ctx, org.App{OrgID: o.ID, Slug: "captcha", TaskType: "captcha", Status: org.AppActive})
	require.NoError(t, err)
	b, err := store.CreateBounty(ctx, bounty.Bounty{OrgID: o.ID, AppID: a.ID, PayoutCents: 200, RequiredProofs: 1, Status: bounty.StatusPublished})
	require.NoError(t, err)
	_, err = store.CreateJob(ctx, job.Job{BountyID: b.ID, OrgID: o.ID})
	require.NoError(t, err)
	claimed, err := store.ClaimNextJob(ctx, "worker-1", storage.JobFilter{}, 3600)
	require.NoError(t, err)
	require.True(t, claimed.HasActiveLease())

	admSvc := &AdminService{Store: store}
	require.NoError(t, admSvc.BanWorker(ctx, "worker-1", "abuse", "admin-1"))

	reloaded, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	require.False(t, reloaded.HasActiveLease())

	banned, err := store.IsWorkerBanned(ctx, "worker-1")
	require.NoError(t, err)
	require.True(t, banned)
}

func TestTopUpBillingIsIdempotentOnExternalEventID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o, err := store.CreateOrg(ctx, org.Org{Name: "acme"})
	require.NoError(t, err)

	admSvc := &AdminService{Store: store}
	applied, err := admSvc.TopUpBilling(ctx, o.ID, 1000, "evt-1", "admin-1")
	require.NoError(t, err)
	require.True(t, applied)

	appliedAgain, err := admSvc.TopUpBilling(ctx, o.ID, 1000, "evt-1", "admin-1")
	require.NoError(t, err)
	require.False(t, appliedAgain)

	acct, err := store.GetBillingAccount(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), acct.BalanceCents)

	events, err := store.ClaimPending(ctx, []string{outbox.TopicBillingTopupCredited}, "test", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestMarkPayoutOverridesStatusAndSuppressesRetry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sub := seedAcceptedSubmission(t, store, 500)

	py, found, err := store.GetPayoutBySubmission(ctx, sub.ID)
	require.NoError(t, err)
	require.False(t, found)

	created, err := store.AddPayout(ctx, payout.Payout{SubmissionID: sub.ID, WorkerID: sub.WorkerID}, nil)
	require.NoError(t, err)

	admSvc := &AdminService{Store: store}
	require.NoError(t, admSvc.MarkPayout(ctx, created.ID, payout.StatusPaid, "manual-ref", "stuck transfer", "admin-1"))

	reloaded, err := store.GetPayout(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, payout.StatusPaid, reloaded.Status)

	events, err := store.ClaimPending(ctx, []string{outbox.TopicPayoutRequested}, "test", 10)
	require.NoError(t, err)
	require.Empty(t, events)
	_ = py
}

func TestBlockedDomainRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	admSvc := &AdminService{Store: store}

	blocked, err := store.IsBlockedDomain(ctx, "evil.example")
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, admSvc.AddBlockedDomain(ctx, "evil.example", "phishing", "admin-1"))
	blocked, err = store.IsBlockedDomain(ctx, "evil.example")
	require.NoError(t, err)
	require.True(t, blocked)

	require.NoError(t, admSvc.RemoveBlockedDomain(ctx, "evil.example", "admin-1"))
	blocked, err = store.IsBlockedDomain(ctx, "evil.example")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestIngestAlarmDedupesOnTopicAndMessageID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	admSvc := &AdminService{Store: store}

	first, err := admSvc.IngestAlarm(ctx, admin.AlarmNotification{TopicArn: "arn:aws:sns:x", SNSMessageID: "msg-1", Subject: "alarm"})
	require.NoError(t, err)
	require.True(t, first)

	second, err := admSvc.IngestAlarm(ctx, admin.AlarmNotification{TopicArn: "arn:aws:sns:x", SNSMessageID: "msg-1", Subject: "alarm"})
	require.NoError(t, err)
	require.False(t, second)

	alarms, err := admSvc.ListAlarms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
}
