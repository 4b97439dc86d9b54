package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/storage/memory"
)

func seedOrgAndApp(t *testing.T, store *memory.Store) (org.Org, org.App) {
	t.Helper()
	ctx := context.Background()
	o, err := store.CreateOrg(ctx, org.Org{Name: "acme"})
	require.NoError(t, err)
	a, err := store.CreateApp(ctx, org.App{OrgID: o.ID, Slug: "captcha", TaskType: "captcha", Status: org.AppActive})
	require.NoError(t, err)
	return o, a
}

func TestBountyCreateRejectsBelowMinPayout(t *testing.T) {
	store := memory.New()
	o, a := seedOrgAndApp(t, store)
	svc := &BountyService{Store: store, MinPayoutCents: 100}

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID:       o.ID,
		AppID:       a.ID,
		PayoutCents: 50,
	})
	require.Error(t, err)
}

func TestBountyCreateRejectsUnverifiedOrigin(t *testing.T) {
	store := memory.New()
	o, a := seedOrgAndApp(t, store)
	svc := &BountyService{Store: store, MinPayoutCents: 100}

	_, err := svc.Create(context.Background(), CreateInput{
		OrgID:          o.ID,
		AppID:          a.ID,
		PayoutCents:    500,
		AllowedOrigins: []string{"https://unverified.example"},
	})
	require.Error(t, err)
}

func TestBountyPublishReservesBudgetAndMaterializesJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o, a := seedOrgAndApp(t, store)

	_, err := store.ApplyEvent(ctx, billing.BillingEvent{OrgID: o.ID, Kind: billing.EventTopup, AmountCents: 1000, ExternalEventID: "evt1"})
	require.NoError(t, err)

	svc := &BountyService{Store: store, MinPayoutCents: 100}
	created, err := svc.Create(ctx, CreateInput{
		OrgID:              o.ID,
		AppID:              a.ID,
		PayoutCents:        200,
		FingerprintClasses: []string{"desktop", "mobile"},
	})
	require.NoError(t, err)
	require.Equal(t, bounty.StatusDraft, created.Status)

	published, err := svc.Publish(ctx, o.ID, created.ID)
	require.NoError(t, err)
	require.Equal(t, bounty.StatusPublished, published.Status)

	jobs, err := store.ListJobsByBounty(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	acct, err := store.GetBillingAccount(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000-400), acct.BalanceCents)
}

func TestBountyPublishRejectsInsufficientBudget(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o, a := seedOrgAndApp(t, store)

	svc := &BountyService{Store: store, MinPayoutCents: 100}
	created, err := svc.Create(ctx, CreateInput{OrgID: o.ID, AppID: a.ID, PayoutCents: 500})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, o.ID, created.ID)
	require.Error(t, err)
}

func TestBountyPublishRejectsOverOpenJobsQuota(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o, err := store.CreateOrg(ctx, org.Org{Name: "acme", QuotaOpenJobs: 1})
	require.NoError(t, err)
	a, err := store.CreateApp(ctx, org.App{OrgID: o.ID, Slug: "captcha", TaskType: "captcha", Status: org.AppActive})
	require.NoError(t, err)
	_, err = store.ApplyEvent(ctx, billing.BillingEvent{OrgID: o.ID, Kind: billing.EventTopup, AmountCents: 10000, ExternalEventID: "evt1"})
	require.NoError(t, err)

	svc := &BountyService{Store: store, MinPayoutCents: 100}
	created, err := svc.Create(ctx, CreateInput{
		OrgID:              o.ID,
		AppID:              a.ID,
		PayoutCents:        200,
		FingerprintClasses: []string{"desktop", "mobile"},
	})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, o.ID, created.ID)
	require.Error(t, err)
}

func TestCheckBountyVisibilityRejectsCrossOrg(t *testing.T) {
	b := bounty.Bounty{OrgID: "org-a"}
	require.Error(t, CheckBountyVisibility(b, "org-b"))
	require.NoError(t, CheckBountyVisibility(b, "org-a"))
}
