package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/proofwork/internal/app/storage"
)

func TestClaimNextJobLocksLeasesAndReloads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT j\.id FROM jobs j\s+JOIN bounties b ON b\.id = j\.bounty_id\s+JOIN apps a ON a\.id = b\.app_id\s+WHERE j\.status = 'open' AND b\.status = 'published' AND \(j\.capability_tags IS NULL OR array_length\(j\.capability_tags,1\) IS NULL\)\s+ORDER BY j\.created_at ASC\s+LIMIT 1\s+FOR UPDATE OF j SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job_1"))

	mock.ExpectExec(`UPDATE jobs SET status='claimed', lease_worker_id=\$1, lease_nonce=\$2, lease_expires_at=\$3, updated_at=now\(\)\s+WHERE id=\$4 AND status='open'`).
		WithArgs("worker_1", sqlmock.AnyArg(), sqlmock.AnyArg(), "job_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = \$1`).
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "bounty_id", "org_id", "fingerprint_class", "status", "task_descriptor", "capability_tags",
			"lease_worker_id", "lease_nonce", "lease_expires_at", "current_submission_id", "final_verdict", "created_at", "updated_at",
		}).AddRow("job_1", "bounty_1", "org_1", "any", "claimed", []byte(`{}`), []byte(`{}`),
			"worker_1", "nonce-1", now.Add(time.Hour), nil, nil, now, now))

	claimed, err := store.ClaimNextJob(context.Background(), "worker_1", storage.JobFilter{}, 3600)
	require.NoError(t, err)
	require.Equal(t, "job_1", claimed.ID)
	require.Equal(t, "worker_1", *claimed.LeaseWorkerID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextJobNoEligibleJobTranslatesSentinel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)

	mock.ExpectQuery(`SELECT j\.id FROM jobs j`).
		WillReturnError(sql.ErrNoRows)

	_, err = store.ClaimNextJob(context.Background(), "worker_1", storage.JobFilter{}, 3600)
	require.ErrorIs(t, err, ErrNoEligibleJob)

	require.NoError(t, mock.ExpectationsWereMet())
}
