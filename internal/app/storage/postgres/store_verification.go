package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/verification"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
)

const verificationSelectColumns = `id, submission_id, org_id, attempt_no, state, claim_token, claim_expires_at,
	verifier_instance_id, verdict, scorecard, reason, created_at, decided_at`

// GetOrCreateClaim inserts a claimed attempt row for (submissionID,
// attemptNo). If that attempt already exists the existing row is returned
// unchanged with created=false, letting the caller distinguish "I claimed
// it" from "someone already has it".
func (s *Store) GetOrCreateClaim(ctx context.Context, submissionID string, attemptNo int, verifierInstanceID, claimToken string, claimTTLSeconds int) (verification.Verification, bool, error) {
	id := newID(idgen.Verification)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, submission_id, attempt_no, state, claim_token, claim_expires_at,
			verifier_instance_id, created_at)
		VALUES ($1,$2,$3,$4,$5, now() + make_interval(secs => $6), $7, now())`,
		id, submissionID, attemptNo, verification.StateClaimed, claimToken, claimTTLSeconds, verifierInstanceID)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := s.getAttempt(ctx, submissionID, attemptNo)
			if ferr != nil {
				return verification.Verification{}, false, ferr
			}
			// A claim whose token lapsed without a verdict is reissued to
			// whichever verifier instance calls next, reopening single-flight.
			if existing.State == verification.StateClaimed && existing.ClaimExpired(timeNowUTC()) {
				reissued, rerr := s.reissueClaim(ctx, existing.ID, verifierInstanceID, claimToken, claimTTLSeconds)
				if rerr != nil {
					return verification.Verification{}, false, rerr
				}
				return reissued, true, nil
			}
			return existing, false, nil
		}
		return verification.Verification{}, false, apperr.Internal(err)
	}
	created, err := s.GetVerification(ctx, id)
	return created, true, err
}

func (s *Store) reissueClaim(ctx context.Context, id, verifierInstanceID, claimToken string, claimTTLSeconds int) (verification.Verification, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE verifications SET state = $1, claim_token = $2, claim_expires_at = now() + make_interval(secs => $3),
			verifier_instance_id = $4
		WHERE id = $5`,
		verification.StateClaimed, claimToken, claimTTLSeconds, verifierInstanceID, id)
	if err != nil {
		return verification.Verification{}, apperr.Internal(err)
	}
	return s.GetVerification(ctx, id)
}

func (s *Store) getAttempt(ctx context.Context, submissionID string, attemptNo int) (verification.Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationSelectColumns+` FROM verifications WHERE submission_id = $1 AND attempt_no = $2`, submissionID, attemptNo)
	return scanVerification(row)
}

func (s *Store) GetVerification(ctx context.Context, id string) (verification.Verification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationSelectColumns+` FROM verifications WHERE id = $1`, id)
	return scanVerification(row)
}

func (s *Store) GetLatestAttempt(ctx context.Context, submissionID string) (verification.Verification, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+verificationSelectColumns+` FROM verifications
		WHERE submission_id = $1 ORDER BY attempt_no DESC LIMIT 1`, submissionID)
	v, err := scanVerification(row)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return verification.Verification{}, false, nil
		}
		return verification.Verification{}, false, err
	}
	return v, true, nil
}

func scanVerification(scanner rowScanner) (verification.Verification, error) {
	var (
		v           verification.Verification
		claimExpire sql.NullTime
		verdict     sql.NullString
		scorecard   []byte
		reason      sql.NullString
		created     sql.NullTime
		decided     sql.NullTime
	)
	if err := scanner.Scan(&v.ID, &v.SubmissionID, &v.OrgID, &v.AttemptNo, &v.State, &v.ClaimToken, &claimExpire,
		&v.VerifierInstanceID, &verdict, &scorecard, &reason, &created, &decided); err != nil {
		if isNoRows(err) {
			return verification.Verification{}, apperr.NotFound("verification")
		}
		return verification.Verification{}, apperr.Internal(err)
	}
	v.ClaimExpiresAt = fromNullTime(claimExpire)
	v.Verdict = fromNullString(verdict)
	v.Reason = fromNullString(reason)
	if len(scorecard) > 0 {
		sc, err := unmarshalJSONMap(scorecard)
		if err != nil {
			return verification.Verification{}, apperr.Internal(err)
		}
		v.Scorecard = sc
	}
	if created.Valid {
		v.CreatedAt = created.Time.UTC()
	}
	v.DecidedAt = fromNullTime(decided)
	return v, nil
}

// RecordVerdict transitions a claimed attempt to decided, guarded on the
// claim token the caller was issued at claim time.
func (s *Store) RecordVerdict(ctx context.Context, id, claimToken, verdict, reason string, scorecard map[string]any) (verification.Verification, error) {
	sc, err := marshalJSON(scorecard)
	if err != nil {
		return verification.Verification{}, apperr.Internal(err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE verifications SET state = $1, verdict = $2, reason = $3, scorecard = $4, decided_at = now()
		WHERE id = $5 AND claim_token = $6 AND state = $7 AND claim_expires_at > now()`,
		verification.StateDecided, verdict, toNullString(reason), sc, id, claimToken, verification.StateClaimed)
	if err != nil {
		return verification.Verification{}, apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return verification.Verification{}, apperr.Conflict(apperr.CodeLeaseInvalid, "claim token is stale or already decided")
	}
	return s.GetVerification(ctx, id)
}

// CountBacklog reports verification attempts still queued or claimed.
func (s *Store) CountBacklog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verifications WHERE state IN ($1, $2)`,
		verification.StateQueued, verification.StateClaimed).Scan(&n)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

// CountPassingInstances returns the distinct verifier instances that
// recorded a pass verdict for submissionID, used to enforce
// required_proofs >= 2 (distinct-instance agreement, not attempt count).
func (s *Store) CountPassingInstances(ctx context.Context, submissionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT verifier_instance_id FROM verifications
		WHERE submission_id = $1 AND verdict = $2`, submissionID, verification.VerdictPass)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
