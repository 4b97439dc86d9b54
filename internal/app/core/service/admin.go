package service

import (
	"context"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/admin"
	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/payout"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

// AdminService implements the privileged break-glass operations gated
// behind ADMIN_TOKEN: banning workers, top-ups, blocked-domain governance,
// and payout overrides. Every call writes an audit row.
type AdminService struct {
	Store storage.Store
}

func (a *AdminService) BanWorker(ctx context.Context, workerID, reason, actor string) error {
	if err := a.Store.BanWorker(ctx, admin.WorkerBan{WorkerID: workerID, Reason: reason, BannedBy: actor}); err != nil {
		return err
	}
	if _, err := a.Store.RevokeLeasesForWorker(ctx, workerID); err != nil {
		return err
	}
	return a.Store.RecordAudit(ctx, admin.AuditEntry{
		Actor:  actor,
		Action: "ban_worker",
		Target: workerID,
		Detail: map[string]any{"reason": reason},
	})
}

func (a *AdminService) AddBlockedDomain(ctx context.Context, domain, reason, actor string) error {
	if err := a.Store.AddBlockedDomain(ctx, org.BlockedDomain{Domain: domain, Reason: reason}); err != nil {
		return err
	}
	return a.Store.RecordAudit(ctx, admin.AuditEntry{
		Actor:  actor,
		Action: "add_blocked_domain",
		Target: domain,
		Detail: map[string]any{"reason": reason},
	})
}

func (a *AdminService) RemoveBlockedDomain(ctx context.Context, domain, actor string) error {
	if err := a.Store.RemoveBlockedDomain(ctx, domain); err != nil {
		return err
	}
	return a.Store.RecordAudit(ctx, admin.AuditEntry{Actor: actor, Action: "remove_blocked_domain", Target: domain})
}

// TopUpBilling credits an org's balance, idempotent on externalEventID
// (the Stripe webhook's evt id, or an admin-supplied reference). The
// ledger event and the billing.topup.credited outbox row commit in the
// same transaction, so any downstream consumer subscribed to that topic
// never observes a credit the ledger doesn't already reflect.
func (a *AdminService) TopUpBilling(ctx context.Context, orgID string, amountCents int64, externalEventID, actor string) (bool, error) {
	var applied bool
	err := a.Store.WithTx(ctx, func(tx storage.Store) error {
		var txErr error
		applied, txErr = tx.ApplyEvent(ctx, billing.BillingEvent{
			OrgID:           orgID,
			Kind:            billing.EventTopup,
			AmountCents:     amountCents,
			ExternalEventID: externalEventID,
		})
		if txErr != nil {
			return txErr
		}
		if !applied {
			return nil
		}
		if _, _, txErr = tx.InsertOutboxEvent(ctx, outbox.Event{
			Topic:          outbox.TopicBillingTopupCredited,
			IdempotencyKey: "topup:" + externalEventID,
			Payload:        map[string]any{"orgId": orgID, "amountCents": amountCents, "externalEventId": externalEventID},
		}); txErr != nil {
			return txErr
		}
		return tx.RecordAudit(ctx, admin.AuditEntry{
			Actor:  actor,
			Action: "billing_topup",
			Target: orgID,
			Detail: map[string]any{"amount_cents": amountCents, "external_event_id": externalEventID},
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// BillingTopupCredited is the billing.topup.credited outbox handler. The
// credit itself already landed atomically in TopUpBilling; this handler
// only exists so the topic's row reaches a terminal state instead of
// accumulating as permanently pending. It is the hook a notification
// consumer (e.g. buyer-facing email) would attach to.
func (a *AdminService) BillingTopupCredited(ctx context.Context, payload map[string]any) error {
	return nil
}

// MarkPayout is the break-glass payout override: it forces a terminal
// status and stops the pipeline by marking any outstanding
// payout.requested outbox row for this payout as sent.
func (a *AdminService) MarkPayout(ctx context.Context, payoutID, status, providerRef, reason, actor string) error {
	if status != payout.StatusPaid && status != payout.StatusFailed {
		return apperr.BadRequest(apperr.CodeSchema, "status must be paid or failed")
	}
	py, err := a.Store.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if err := a.Store.UpdatePayoutStatus(ctx, payoutID, status, reason); err != nil {
		return err
	}
	if existing, _, err := a.Store.InsertOutboxEvent(ctx, outbox.Event{
		Topic:          outbox.TopicPayoutRequested,
		IdempotencyKey: "payout:" + py.SubmissionID,
		Payload:        map[string]any{"submissionId": py.SubmissionID},
	}); err == nil {
		_ = a.Store.MarkSent(ctx, existing.ID)
	}
	return a.Store.RecordAudit(ctx, admin.AuditEntry{
		Actor:  actor,
		Action: "mark_payout",
		Target: payoutID,
		Detail: map[string]any{"status": status, "provider_ref": providerRef, "reason": reason},
	})
}

func (a *AdminService) ListAlarms(ctx context.Context, limit int) ([]admin.AlarmNotification, error) {
	return a.Store.ListAlarms(ctx, ClampLimit(limit, DefaultListLimit, MaxListLimit))
}

// IngestAlarm records an inbound SNS envelope, deduped on
// (topic_arn, sns_message_id).
func (a *AdminService) IngestAlarm(ctx context.Context, in admin.AlarmNotification) (bool, error) {
	return a.Store.RecordAlarm(ctx, in)
}
