package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
)

func (s *Store) GetBillingAccount(ctx context.Context, orgID string) (billing.BillingAccount, error) {
	var (
		a       billing.BillingAccount
		updated sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, balance_cents, updated_at FROM billing_accounts WHERE org_id = $1`, orgID).
		Scan(&a.OrgID, &a.BalanceCents, &updated)
	if err != nil {
		if isNoRows(err) {
			return billing.BillingAccount{OrgID: orgID}, nil
		}
		return billing.BillingAccount{}, apperr.Internal(err)
	}
	if updated.Valid {
		a.UpdatedAt = updated.Time.UTC()
	}
	return a, nil
}

// balanceDelta reports the signed effect a ledger event kind has on an
// org's balance: inbound funds increase it, holds and payouts decrease it,
// releases give a hold back.
func balanceDelta(kind string, amountCents int64) int64 {
	switch kind {
	case billing.EventTopup, billing.EventRelease:
		return amountCents
	case billing.EventHold, billing.EventPayout:
		return -amountCents
	default:
		return 0
	}
}

// ApplyEvent inserts the ledger row and adjusts the account balance in one
// statement pair; idempotent on ExternalEventID via ON CONFLICT DO NOTHING.
func (s *Store) ApplyEvent(ctx context.Context, e billing.BillingEvent) (bool, error) {
	if e.ID == "" {
		e.ID = newID(idgen.BillingEvent)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_events (id, org_id, kind, amount_cents, external_event_id, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (external_event_id) DO NOTHING`,
		e.ID, e.OrgID, e.Kind, e.AmountCents, e.ExternalEventID)
	if err != nil {
		return false, apperr.Internal(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	delta := balanceDelta(e.Kind, e.AmountCents)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billing_accounts (org_id, balance_cents, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (org_id) DO UPDATE SET balance_cents = billing_accounts.balance_cents + $2, updated_at = now()`,
		e.OrgID, delta)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return true, nil
}

func (s *Store) CreatePaymentIntent(ctx context.Context, p billing.PaymentIntent) (billing.PaymentIntent, error) {
	if p.ID == "" {
		p.ID = newID(idgen.PaymentIntent)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, org_id, amount_cents, status, stripe_intent_id, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`,
		p.ID, p.OrgID, p.AmountCents, p.Status, p.StripeIntentID)
	if err != nil {
		return billing.PaymentIntent{}, apperr.Internal(err)
	}
	created, _, err := s.GetPaymentIntentByStripeID(ctx, p.StripeIntentID)
	return created, err
}

func (s *Store) GetPaymentIntentByStripeID(ctx context.Context, stripeID string) (billing.PaymentIntent, bool, error) {
	var (
		p       billing.PaymentIntent
		created sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, amount_cents, status, stripe_intent_id, created_at
		FROM payment_intents WHERE stripe_intent_id = $1`, stripeID).
		Scan(&p.ID, &p.OrgID, &p.AmountCents, &p.Status, &p.StripeIntentID, &created)
	if err != nil {
		if isNoRows(err) {
			return billing.PaymentIntent{}, false, nil
		}
		return billing.PaymentIntent{}, false, apperr.Internal(err)
	}
	if created.Valid {
		p.CreatedAt = created.Time.UTC()
	}
	return p, true, nil
}

func (s *Store) UpdatePaymentIntentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE payment_intents SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("payment_intent")
	}
	return nil
}
