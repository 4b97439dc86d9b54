package postgres

import (
	"database/sql"
	"context"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
)

func (s *Store) CreateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error) {
	if b.ID == "" {
		b.ID = newID(idgen.Bounty)
	}
	allowed, err := marshalStringSlice(b.AllowedOrigins)
	if err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	classes, err := marshalStringSlice(b.FingerprintClasses)
	if err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	descriptor, err := marshalJSON(b.TaskDescriptor)
	if err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bounties (id, org_id, app_id, description, allowed_origins, payout_cents, required_proofs,
			fingerprint_classes, task_descriptor, status, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),$11)`,
		b.ID, b.OrgID, b.AppID, b.Description, allowed, b.PayoutCents, b.RequiredProofs,
		classes, descriptor, b.Status, b.CreatedBy)
	if err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	return s.GetBounty(ctx, b.ID)
}

func (s *Store) GetBounty(ctx context.Context, id string) (bounty.Bounty, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, app_id, description, allowed_origins, payout_cents, required_proofs,
			fingerprint_classes, task_descriptor, status, created_at, published_at, created_by
		FROM bounties WHERE id = $1`, id)
	return scanBounty(row)
}

func scanBounty(scanner rowScanner) (bounty.Bounty, error) {
	var (
		b           bounty.Bounty
		allowed     []byte
		classes     []byte
		descriptor  []byte
		created     sql.NullTime
		publishedAt sql.NullTime
	)
	if err := scanner.Scan(&b.ID, &b.OrgID, &b.AppID, &b.Description, &allowed, &b.PayoutCents, &b.RequiredProofs,
		&classes, &descriptor, &b.Status, &created, &publishedAt, &b.CreatedBy); err != nil {
		if isNoRows(err) {
			return bounty.Bounty{}, apperr.NotFound("bounty")
		}
		return bounty.Bounty{}, apperr.Internal(err)
	}
	var err error
	if b.AllowedOrigins, err = unmarshalStringSlice(allowed); err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	if b.FingerprintClasses, err = unmarshalStringSlice(classes); err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	if b.TaskDescriptor, err = unmarshalJSONMap(descriptor); err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	if created.Valid {
		b.CreatedAt = created.Time.UTC()
	}
	b.PublishedAt = fromNullTime(publishedAt)
	return b, nil
}

func (s *Store) UpdateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bounties SET status=$2, published_at=$3 WHERE id=$1`,
		b.ID, b.Status, toNullTime(b.PublishedAt))
	if err != nil {
		return bounty.Bounty{}, apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return bounty.Bounty{}, apperr.NotFound("bounty")
	}
	return s.GetBounty(ctx, b.ID)
}

func (s *Store) ListBountiesByOrg(ctx context.Context, orgID string, limit int) ([]bounty.Bounty, error) {
	// limit<=0 means unlimited, matching the memory Store's contract; NULL
	// disables Postgres's own LIMIT clause rather than returning zero rows.
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, app_id, description, allowed_origins, payout_cents, required_proofs,
			fingerprint_classes, task_descriptor, status, created_at, published_at, created_by
		FROM bounties WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`, orgID, limitArg)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []bounty.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
