package service

import (
	"context"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

// BountyService implements bounty creation and publishing: descriptor
// validation, origin/domain governance, and the budget-reservation +
// job-materialization transaction that publish performs.
type BountyService struct {
	Store          storage.Store
	MinPayoutCents int64
	// StrictTaskDescriptor mirrors ENABLE_TASK_DESCRIPTOR: when true, Create
	// additionally rejects a descriptor carrying an unrecognized top-level
	// key or an unsupported schema_version.
	StrictTaskDescriptor bool
}

// CreateInput is the buyer-supplied bounty payload.
type CreateInput struct {
	OrgID              string
	AppID              string
	Description        string
	AllowedOrigins     []string
	PayoutCents        int64
	RequiredProofs     int
	FingerprintClasses []string
	TaskDescriptor     map[string]any
	CreatedBy          string
}

func (s *BountyService) Create(ctx context.Context, in CreateInput) (bounty.Bounty, error) {
	if in.PayoutCents < s.MinPayoutCents {
		return bounty.Bounty{}, apperr.BadRequest(apperr.CodeMinPayout, "payout_cents is below the configured minimum")
	}
	if in.RequiredProofs < 1 {
		in.RequiredProofs = 1
	}

	app, err := s.Store.GetApp(ctx, in.AppID)
	if err != nil {
		return bounty.Bounty{}, err
	}
	if app.OrgID != in.OrgID && !app.System {
		return bounty.Bounty{}, apperr.Forbidden("forbidden", "app belongs to a different org")
	}
	if !app.Enabled() {
		return bounty.Bounty{}, apperr.Conflict(apperr.CodeAppDisabled, "app is disabled")
	}

	if in.TaskDescriptor != nil {
		if key := bounty.FindSensitiveKey(in.TaskDescriptor); key != "" {
			return bounty.Bounty{}, apperr.BadRequest(apperr.CodeTaskDescriptorSensitive, "task_descriptor contains a disallowed key: "+key)
		}
		if s.StrictTaskDescriptor {
			if err := bounty.ValidateDescriptor(in.TaskDescriptor, true); err != nil {
				return bounty.Bounty{}, apperr.BadRequest(apperr.CodeInvalidTaskDescriptor, err.Error())
			}
		}
	}

	if err := verifyOriginVerified(ctx, s.Store, in.OrgID, in.AllowedOrigins); err != nil {
		return bounty.Bounty{}, err
	}

	b := bounty.Bounty{
		OrgID:              in.OrgID,
		AppID:              in.AppID,
		Description:        in.Description,
		AllowedOrigins:     in.AllowedOrigins,
		PayoutCents:        in.PayoutCents,
		RequiredProofs:     in.RequiredProofs,
		FingerprintClasses: in.FingerprintClasses,
		TaskDescriptor:     in.TaskDescriptor,
		Status:             bounty.StatusDraft,
		CreatedBy:          in.CreatedBy,
	}
	return s.Store.CreateBounty(ctx, b)
}

// Publish reserves the bounty's budget against the org's billing balance and
// materializes one Job per fingerprint class, atomically.
func (s *BountyService) Publish(ctx context.Context, orgID, bountyID string) (bounty.Bounty, error) {
	var published bounty.Bounty
	err := s.Store.WithTx(ctx, func(tx storage.Store) error {
		b, err := tx.GetBounty(ctx, bountyID)
		if err != nil {
			return err
		}
		if b.OrgID != orgID {
			return apperr.Forbidden("forbidden", "bounty belongs to a different org")
		}
		if b.Status != bounty.StatusDraft && b.Status != bounty.StatusPaused {
			return apperr.Conflict(apperr.CodeFeatureDisabled, "bounty is not publishable from its current status")
		}

		o, err := tx.GetOrg(ctx, orgID)
		if err != nil {
			return err
		}
		if !o.ReadyToPublish() {
			return apperr.BadRequest(apperr.CodeInvalidTaskDescriptor, "org has a nonzero platform fee with no configured wallet")
		}

		account, err := tx.GetBillingAccount(ctx, orgID)
		if err != nil {
			return err
		}
		reserve := b.ReservedBudgetCents()
		if account.BalanceCents < reserve {
			return apperr.Conflict(apperr.CodeInsufficientFunds, "insufficient billing balance to publish this bounty")
		}

		if o.QuotaOpenJobs > 0 {
			openCount, err := countOpenJobsForOrg(ctx, tx, orgID)
			if err != nil {
				return err
			}
			classCount := len(b.FingerprintClasses)
			if classCount == 0 {
				classCount = 1
			}
			if openCount+classCount > o.QuotaOpenJobs {
				return apperr.Conflict(apperr.CodeInsufficientFunds, "publishing this bounty would exceed the org's max open jobs quota")
			}
		}
		if _, err := tx.ApplyEvent(ctx, billing.BillingEvent{
			OrgID:           orgID,
			Kind:            billing.EventHold,
			AmountCents:     -reserve,
			ExternalEventID: "hold:" + bountyID,
		}); err != nil {
			return err
		}

		classes := b.FingerprintClasses
		if len(classes) == 0 {
			classes = []string{"any"}
		}
		for _, class := range classes {
			if _, err := tx.CreateJob(ctx, job.Job{
				BountyID:         b.ID,
				OrgID:            b.OrgID,
				FingerprintClass: class,
				Status:           job.StatusOpen,
				TaskDescriptor:   b.TaskDescriptor,
			}); err != nil {
				return err
			}
		}

		b.Status = bounty.StatusPublished
		now := nowPtr()
		b.PublishedAt = now
		published, err = tx.UpdateBounty(ctx, b)
		return err
	})
	return published, err
}

func (s *BountyService) Pause(ctx context.Context, orgID, bountyID string) (bounty.Bounty, error) {
	b, err := s.Store.GetBounty(ctx, bountyID)
	if err != nil {
		return bounty.Bounty{}, err
	}
	if b.OrgID != orgID {
		return bounty.Bounty{}, apperr.Forbidden("forbidden", "bounty belongs to a different org")
	}
	b.Status = bounty.StatusPaused
	return s.Store.UpdateBounty(ctx, b)
}

// CheckBountyVisibility enforces the multi-tenant isolation invariant:
// cross-org reads return forbidden, never not_found (which would leak
// existence) nor silently empty data.
func CheckBountyVisibility(b bounty.Bounty, callerOrgID string) error {
	if b.OrgID != callerOrgID {
		return apperr.Forbidden("forbidden", "bounty belongs to a different org")
	}
	return nil
}

func nowPtr() *time.Time {
	t := time.Now().UTC()
	return &t
}

// countOpenJobsForOrg sums open jobs across every bounty the org owns, for
// the QuotaOpenJobs check at publish time. It walks ListBountiesByOrg rather
// than requiring a dedicated org-scoped job query, since quota enforcement
// only happens on the comparatively rare publish path, not the hot claim
// path.
func countOpenJobsForOrg(ctx context.Context, tx storage.Store, orgID string) (int, error) {
	bounties, err := tx.ListBountiesByOrg(ctx, orgID, 0)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range bounties {
		jobs, err := tx.ListJobsByBounty(ctx, b.ID)
		if err != nil {
			return 0, err
		}
		for _, j := range jobs {
			if j.Status == job.StatusOpen || j.Status == job.StatusClaimed || j.Status == job.StatusVerifying {
				total++
			}
		}
	}
	return total, nil
}

