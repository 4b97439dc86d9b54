package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// ListBountiesByOrg must pass a NULL limit (not 0) when the caller asks for
// every bounty, since Postgres's LIMIT 0 returns zero rows rather than
// disabling the clause.
func TestListBountiesByOrgZeroLimitQueriesUnbounded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM bounties WHERE org_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("org_1", nil).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "app_id", "description", "allowed_origins", "payout_cents", "required_proofs",
			"fingerprint_classes", "task_descriptor", "status", "created_at", "published_at", "created_by",
		}).
			AddRow("bounty_1", "org_1", "app_1", "d1", []byte(`[]`), int64(500), 1, []byte(`[]`), []byte(`{}`), "published", now, now, "user_1").
			AddRow("bounty_2", "org_1", "app_1", "d2", []byte(`[]`), int64(500), 1, []byte(`[]`), []byte(`{}`), "published", now, now, "user_1"))

	out, err := store.ListBountiesByOrg(context.Background(), "org_1", 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBountiesByOrgPositiveLimitBindsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM bounties WHERE org_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("org_1", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "app_id", "description", "allowed_origins", "payout_cents", "required_proofs",
			"fingerprint_classes", "task_descriptor", "status", "created_at", "published_at", "created_by",
		}).AddRow("bounty_1", "org_1", "app_1", "d1", []byte(`[]`), int64(500), 1, []byte(`[]`), []byte(`{}`), "published", now, now, "user_1"))

	out, err := store.ListBountiesByOrg(context.Background(), "org_1", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}
