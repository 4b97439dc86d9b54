package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/payout"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

const payoutSelectColumns = `id, submission_id, org_id, worker_id, amount_cents, platform_fee_cents,
	proofwork_fee_cents, net_amount_cents, status, failure_reason, created_at, updated_at`

// AddPayout creates a payout and its transfer rows in one transaction
// (reusing the caller's when already inside WithTx), so either all rows are
// written or none.
func (s *Store) AddPayout(ctx context.Context, p payout.Payout, transfers []payout.PayoutTransfer) (payout.Payout, error) {
	var created payout.Payout
	err := s.WithTx(ctx, func(tx storage.Store) error {
		var err error
		created, err = tx.(*Store).addPayout(ctx, p, transfers)
		return err
	})
	if err != nil {
		return payout.Payout{}, err
	}
	return created, nil
}

func (s *Store) addPayout(ctx context.Context, p payout.Payout, transfers []payout.PayoutTransfer) (payout.Payout, error) {
	if p.ID == "" {
		p.ID = newID(idgen.Payout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payouts (id, submission_id, org_id, worker_id, amount_cents, platform_fee_cents,
			proofwork_fee_cents, net_amount_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())`,
		p.ID, p.SubmissionID, p.OrgID, p.WorkerID, p.AmountCents, p.PlatformFeeCents, p.ProofworkFeeCents,
		p.NetAmountCents, p.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return payout.Payout{}, apperr.Conflict("conflict", "payout already exists for submission")
		}
		return payout.Payout{}, apperr.Internal(err)
	}
	for _, t := range transfers {
		if t.ID == "" {
			t.ID = newID(idgen.Transfer)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO payout_transfers (id, payout_id, kind, to_address, amount_cents, status, tx_hash, nonce, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())`,
			t.ID, p.ID, t.Kind, t.ToAddress, t.AmountCents, t.Status, toNullString(t.TxHash), toNullUint64(t.Nonce))
		if err != nil {
			return payout.Payout{}, apperr.Internal(err)
		}
	}
	return s.GetPayout(ctx, p.ID)
}

func (s *Store) GetPayout(ctx context.Context, id string) (payout.Payout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+payoutSelectColumns+` FROM payouts WHERE id = $1`, id)
	return scanPayout(row)
}

func (s *Store) GetPayoutBySubmission(ctx context.Context, submissionID string) (payout.Payout, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+payoutSelectColumns+` FROM payouts WHERE submission_id = $1`, submissionID)
	p, err := scanPayout(row)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return payout.Payout{}, false, nil
		}
		return payout.Payout{}, false, err
	}
	return p, true, nil
}

func scanPayout(scanner rowScanner) (payout.Payout, error) {
	var (
		p       payout.Payout
		reason  sql.NullString
		created sql.NullTime
		updated sql.NullTime
	)
	if err := scanner.Scan(&p.ID, &p.SubmissionID, &p.OrgID, &p.WorkerID, &p.AmountCents, &p.PlatformFeeCents,
		&p.ProofworkFeeCents, &p.NetAmountCents, &p.Status, &reason, &created, &updated); err != nil {
		if isNoRows(err) {
			return payout.Payout{}, apperr.NotFound("payout")
		}
		return payout.Payout{}, apperr.Internal(err)
	}
	p.FailureReason = fromNullString(reason)
	if created.Valid {
		p.CreatedAt = created.Time.UTC()
	}
	if updated.Valid {
		p.UpdatedAt = updated.Time.UTC()
	}
	return p, nil
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, id, status, failureReason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
		id, status, toNullString(failureReason))
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("payout")
	}
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, payoutID string) ([]payout.PayoutTransfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payout_id, kind, to_address, amount_cents, status, tx_hash, nonce, created_at, updated_at
		FROM payout_transfers WHERE payout_id = $1 ORDER BY kind`, payoutID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []payout.PayoutTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransfer(scanner rowScanner) (payout.PayoutTransfer, error) {
	var (
		t       payout.PayoutTransfer
		txHash  sql.NullString
		nonce   sql.NullInt64
		created sql.NullTime
		updated sql.NullTime
	)
	if err := scanner.Scan(&t.ID, &t.PayoutID, &t.Kind, &t.ToAddress, &t.AmountCents, &t.Status, &txHash, &nonce, &created, &updated); err != nil {
		if isNoRows(err) {
			return payout.PayoutTransfer{}, apperr.NotFound("payout_transfer")
		}
		return payout.PayoutTransfer{}, apperr.Internal(err)
	}
	t.TxHash = fromNullString(txHash)
	if nonce.Valid {
		v := uint64(nonce.Int64)
		t.Nonce = &v
	}
	if created.Valid {
		t.CreatedAt = created.Time.UTC()
	}
	if updated.Valid {
		t.UpdatedAt = updated.Time.UTC()
	}
	return t, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, t payout.PayoutTransfer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payout_transfers SET status = $2, tx_hash = $3, nonce = $4, updated_at = now() WHERE id = $1`,
		t.ID, t.Status, toNullString(t.TxHash), toNullUint64(t.Nonce))
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("payout_transfer")
	}
	return nil
}

func (s *Store) SetWorkerPayoutAddress(ctx context.Context, workerID, chain, address string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_payout_addresses (worker_id, chain, address, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (worker_id, chain) DO UPDATE SET address = EXCLUDED.address, updated_at = now()`,
		workerID, chain, address)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) GetWorkerPayoutAddress(ctx context.Context, workerID, chain string) (string, bool, error) {
	var address string
	err := s.db.QueryRowContext(ctx, `
		SELECT address FROM worker_payout_addresses WHERE worker_id = $1 AND chain = $2`, workerID, chain).Scan(&address)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, apperr.Internal(err)
	}
	return address, true, nil
}

func toNullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
