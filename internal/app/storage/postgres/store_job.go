package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = newID(idgen.Job)
	}
	descriptor, err := marshalJSON(j.TaskDescriptor)
	if err != nil {
		return job.Job{}, apperr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, bounty_id, org_id, fingerprint_class, status, task_descriptor, capability_tags, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())`,
		j.ID, j.BountyID, j.OrgID, j.FingerprintClass, j.Status, descriptor, pq.Array(j.CapabilityTags))
	if err != nil {
		return job.Job{}, apperr.Internal(err)
	}
	return s.GetJob(ctx, j.ID)
}

const jobSelectColumns = `id, bounty_id, org_id, fingerprint_class, status, task_descriptor, capability_tags,
	lease_worker_id, lease_nonce, lease_expires_at, current_submission_id, final_verdict, created_at, updated_at`

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobSelectColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func scanJob(scanner rowScanner) (job.Job, error) {
	var (
		j              job.Job
		descriptor     []byte
		tags           []string
		leaseWorker    sql.NullString
		leaseNonce     sql.NullString
		leaseExpires   sql.NullTime
		currentSub     sql.NullString
		finalVerdict   sql.NullString
		created        sql.NullTime
		updated        sql.NullTime
	)
	if err := scanner.Scan(&j.ID, &j.BountyID, &j.OrgID, &j.FingerprintClass, &j.Status, &descriptor, pq.Array(&tags),
		&leaseWorker, &leaseNonce, &leaseExpires, &currentSub, &finalVerdict, &created, &updated); err != nil {
		if isNoRows(err) {
			return job.Job{}, apperr.NotFound("job")
		}
		return job.Job{}, apperr.Internal(err)
	}
	var err error
	if j.TaskDescriptor, err = unmarshalJSONMap(descriptor); err != nil {
		return job.Job{}, apperr.Internal(err)
	}
	j.CapabilityTags = tags
	if leaseWorker.Valid {
		v := leaseWorker.String
		j.LeaseWorkerID = &v
	}
	if leaseNonce.Valid {
		v := leaseNonce.String
		j.LeaseNonce = &v
	}
	j.LeaseExpiresAt = fromNullTime(leaseExpires)
	if currentSub.Valid {
		v := currentSub.String
		j.CurrentSubmissionID = &v
	}
	if finalVerdict.Valid {
		v := finalVerdict.String
		j.FinalVerdict = &v
	}
	if created.Valid {
		j.CreatedAt = created.Time.UTC()
	}
	if updated.Valid {
		j.UpdatedAt = updated.Time.UTC()
	}
	return j, nil
}

// UpdateJob applies an optimistic-concurrency guarded transition: the
// update only takes effect if the row's current status (and lease_nonce,
// when expectedNonce is non-nil) still matches what the caller observed.
func (s *Store) UpdateJob(ctx context.Context, expectedStatus string, expectedNonce *string, j job.Job) (job.Job, error) {
	descriptor, err := marshalJSON(j.TaskDescriptor)
	if err != nil {
		return job.Job{}, apperr.Internal(err)
	}
	var (
		leaseWorker sql.NullString
		leaseNonce  sql.NullString
	)
	if j.LeaseWorkerID != nil {
		leaseWorker = toNullString(*j.LeaseWorkerID)
	}
	if j.LeaseNonce != nil {
		leaseNonce = toNullString(*j.LeaseNonce)
	}
	var currentSub sql.NullString
	if j.CurrentSubmissionID != nil {
		currentSub = toNullString(*j.CurrentSubmissionID)
	}
	var finalVerdict sql.NullString
	if j.FinalVerdict != nil {
		finalVerdict = toNullString(*j.FinalVerdict)
	}

	query := `
		UPDATE jobs SET status=$1, task_descriptor=$2, lease_worker_id=$3, lease_nonce=$4, lease_expires_at=$5,
			current_submission_id=$6, final_verdict=$7, updated_at=now()
		WHERE id=$8 AND status=$9`
	args := []any{j.Status, descriptor, leaseWorker, leaseNonce, toNullTime(j.LeaseExpiresAt), currentSub, finalVerdict, j.ID, expectedStatus}
	if expectedNonce != nil {
		query += ` AND lease_nonce = $10`
		args = append(args, *expectedNonce)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return job.Job{}, apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return job.Job{}, apperr.Conflict("conflict", "job was modified concurrently")
	}
	return s.GetJob(ctx, j.ID)
}

func (s *Store) ListJobsByBounty(ctx context.Context, bountyID string) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobSelectColumns+` FROM jobs WHERE bounty_id = $1 ORDER BY created_at`, bountyID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ErrNoEligibleJob is returned by ClaimNextJob when no open, published,
// fresh, capability-compatible job exists for the worker.
var ErrNoEligibleJob = apperr.New(apperr.KindNotFound, "no_eligible_job", "no eligible job")

// ClaimNextJob selects one eligible open job and atomically transitions it
// to claimed. It implements the scheduler's per-request eligibility
// predicates that are expressible as a single query: job open, owning
// bounty published, capability superset, optional id/exclude filters, and
// freshness. Worker ban and outbox backpressure are checked by the caller
// before this is invoked; the open-jobs quota is enforced when a bounty is
// published, and blocked domains are not checked at claim time.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, filter storage.JobFilter, leaseTTLSeconds int) (job.Job, error) {
	args := []any{}
	conditions := []string{"j.status = 'open'", "b.status = 'published'"}

	if len(filter.CapabilityTags) > 0 {
		args = append(args, pq.Array(filter.CapabilityTags))
		conditions = append(conditions, "j.capability_tags <@ $"+itoa(len(args)))
	} else {
		conditions = append(conditions, "(j.capability_tags IS NULL OR array_length(j.capability_tags,1) IS NULL)")
	}
	if filter.TaskType != "" {
		args = append(args, filter.TaskType)
		conditions = append(conditions, "a.task_type = $"+itoa(len(args)))
	}
	if filter.RequireJobID != "" {
		args = append(args, filter.RequireJobID)
		conditions = append(conditions, "j.id = $"+itoa(len(args)))
	}
	if filter.RequireBountyID != "" {
		args = append(args, filter.RequireBountyID)
		conditions = append(conditions, "j.bounty_id = $"+itoa(len(args)))
	}
	if len(filter.ExcludeJobIDs) > 0 {
		args = append(args, pq.Array(filter.ExcludeJobIDs))
		conditions = append(conditions, "j.id != ALL($"+itoa(len(args))+")")
	}

	query := `
		SELECT j.id FROM jobs j
		JOIN bounties b ON b.id = j.bounty_id
		JOIN apps a ON a.id = b.app_id
		WHERE ` + joinConditions(conditions) + `
		ORDER BY j.created_at ASC
		LIMIT 1
		FOR UPDATE OF j SKIP LOCKED`

	var jobID string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&jobID)
	if err != nil {
		if isNoRows(err) {
			return job.Job{}, ErrNoEligibleJob
		}
		return job.Job{}, apperr.Internal(err)
	}

	nonce := uuid.NewString()
	expires := time.Now().Add(time.Duration(leaseTTLSeconds) * time.Second).UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status='claimed', lease_worker_id=$1, lease_nonce=$2, lease_expires_at=$3, updated_at=now()
		WHERE id=$4 AND status='open'`, workerID, nonce, expires, jobID)
	if err != nil {
		return job.Job{}, apperr.Internal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return job.Job{}, ErrNoEligibleJob
	}
	return s.GetJob(ctx, jobID)
}

func (s *Store) ReapExpiredLeases(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status='open', lease_worker_id=NULL, lease_nonce=NULL, lease_expires_at=NULL, updated_at=now()
		WHERE status='claimed' AND lease_expires_at < now()`)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) RevokeLeasesForWorker(ctx context.Context, workerID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status='open', lease_worker_id=NULL, lease_nonce=NULL, lease_expires_at=NULL, updated_at=now()
		WHERE status='claimed' AND lease_worker_id=$1`, workerID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func joinConditions(conds []string) string {
	out := ""
	for i, c := range conds {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	// filter argument counts stay well under 10 in practice; fall back for
	// completeness without pulling in strconv at call sites.
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
