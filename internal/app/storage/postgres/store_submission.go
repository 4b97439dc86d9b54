package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
)

// AddSubmission performs a unique-upsert on (job_id, idempotency_key): a
// repeat call with the same key returns the original row and duplicate=true
// without writing again.
func (s *Store) AddSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, bool, error) {
	if existing, found, err := s.GetSubmissionByIdempotencyKey(ctx, sub.JobID, sub.IdempotencyKey); err != nil {
		return submission.Submission{}, false, err
	} else if found {
		return existing, true, nil
	}

	if sub.ID == "" {
		sub.ID = newID(idgen.Submission)
	}
	manifest, err := json.Marshal(sub.Manifest)
	if err != nil {
		return submission.Submission{}, false, apperr.Internal(err)
	}
	index, err := json.Marshal(sub.ArtifactIndex)
	if err != nil {
		return submission.Submission{}, false, apperr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, job_id, org_id, worker_id, manifest, artifact_index, status, dedupe_key,
			idempotency_key, payout_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())`,
		sub.ID, sub.JobID, sub.OrgID, sub.WorkerID, manifest, index, sub.Status, toNullString(sub.DedupeKey),
		sub.IdempotencyKey, sub.PayoutStatus)
	if err != nil {
		if isUniqueViolation(err) {
			if existing, found, ferr := s.GetSubmissionByIdempotencyKey(ctx, sub.JobID, sub.IdempotencyKey); ferr == nil && found {
				return existing, true, nil
			}
			return submission.Submission{}, false, apperr.Conflict(apperr.CodeIdempotencyConflict, "duplicate submission")
		}
		return submission.Submission{}, false, apperr.Internal(err)
	}
	created, err := s.GetSubmission(ctx, sub.ID)
	return created, false, err
}

const submissionSelectColumns = `id, job_id, org_id, worker_id, manifest, artifact_index, status, dedupe_key,
	idempotency_key, payout_status, created_at`

func (s *Store) GetSubmission(ctx context.Context, id string) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionSelectColumns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

func scanSubmission(scanner rowScanner) (submission.Submission, error) {
	var (
		sub       submission.Submission
		manifest  []byte
		index     []byte
		dedupe    sql.NullString
		created   sql.NullTime
	)
	if err := scanner.Scan(&sub.ID, &sub.JobID, &sub.OrgID, &sub.WorkerID, &manifest, &index, &sub.Status, &dedupe,
		&sub.IdempotencyKey, &sub.PayoutStatus, &created); err != nil {
		if isNoRows(err) {
			return submission.Submission{}, apperr.NotFound("submission")
		}
		return submission.Submission{}, apperr.Internal(err)
	}
	if err := json.Unmarshal(manifest, &sub.Manifest); err != nil {
		return submission.Submission{}, apperr.Internal(err)
	}
	if len(index) > 0 {
		if err := json.Unmarshal(index, &sub.ArtifactIndex); err != nil {
			return submission.Submission{}, apperr.Internal(err)
		}
	}
	sub.DedupeKey = fromNullString(dedupe)
	if created.Valid {
		sub.CreatedAt = created.Time.UTC()
	}
	return sub, nil
}

func (s *Store) GetSubmissionByIdempotencyKey(ctx context.Context, jobID, key string) (submission.Submission, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionSelectColumns+` FROM submissions WHERE job_id = $1 AND idempotency_key = $2`, jobID, key)
	sub, err := scanSubmission(row)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return submission.Submission{}, false, nil
		}
		return submission.Submission{}, false, err
	}
	return sub, true, nil
}

// FindActiveByDedupeKey looks up a non-rejected submission sharing the same
// (bounty, dedupe_key) pair, used to mark later submissions as duplicates.
func (s *Store) FindActiveByDedupeKey(ctx context.Context, bountyID, dedupeKey string) (submission.Submission, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+qualify("sub", submissionSelectColumns)+`
		FROM submissions sub
		JOIN jobs j ON j.id = sub.job_id
		WHERE j.bounty_id = $1 AND sub.dedupe_key = $2 AND sub.status != $3
		ORDER BY sub.created_at ASC
		LIMIT 1`, bountyID, dedupeKey, submission.StatusRejected)
	sub, err := scanSubmission(row)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return submission.Submission{}, false, nil
		}
		return submission.Submission{}, false, err
	}
	return sub, true, nil
}

func (s *Store) UpdateSubmissionStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("submission")
	}
	return nil
}

func (s *Store) SetPayoutStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET payout_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("submission")
	}
	return nil
}

func (s *Store) CreateArtifact(ctx context.Context, a submission.Artifact) (submission.Artifact, error) {
	if a.ID == "" {
		a.ID = newID(idgen.Artifact)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, org_id, sha256, size_bytes, content_type, storage_key, bucket_kind, status, uploaded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())`,
		a.ID, a.OrgID, a.SHA256, a.SizeBytes, a.ContentType, a.StorageKey, a.BucketKind, a.Status, a.UploadedBy)
	if err != nil {
		return submission.Artifact{}, apperr.Internal(err)
	}
	return s.GetArtifact(ctx, a.ID)
}

func (s *Store) GetArtifact(ctx context.Context, id string) (submission.Artifact, error) {
	var (
		a       submission.Artifact
		created sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, sha256, size_bytes, content_type, storage_key, bucket_kind, status, uploaded_by, created_at
		FROM artifacts WHERE id = $1`, id).
		Scan(&a.ID, &a.OrgID, &a.SHA256, &a.SizeBytes, &a.ContentType, &a.StorageKey, &a.BucketKind, &a.Status, &a.UploadedBy, &created)
	if err != nil {
		if isNoRows(err) {
			return submission.Artifact{}, apperr.NotFound("artifact")
		}
		return submission.Artifact{}, apperr.Internal(err)
	}
	if created.Valid {
		a.CreatedAt = created.Time.UTC()
	}
	return a, nil
}

func (s *Store) UpdateArtifactStatus(ctx context.Context, id, status, bucketKind string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE artifacts SET status = $2, bucket_kind = $3 WHERE id = $1`, id, status, bucketKind)
	if err != nil {
		return apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("artifact")
	}
	return nil
}

// qualify prefixes every column in a comma-separated select list with
// alias, for reuse in queries that join submissions against other tables.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
