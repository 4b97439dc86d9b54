package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/proofwork/internal/app/domain/org"
)

func TestCreateOrgInsertsThenReloads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO orgs \(id, name, platform_fee_bps, platform_fee_wallet, cors_allow_origins, quota_open_jobs, quota_monthly_cents, created_at, updated_at\)`).
		WithArgs(sqlmock.AnyArg(), "acme", 250, "0xplatform", []byte(`["https://acme.example"]`), 10, int64(500000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`SELECT id, name, platform_fee_bps, platform_fee_wallet, cors_allow_origins, quota_open_jobs, quota_monthly_cents, created_at, updated_at\s+FROM orgs WHERE id = \$1`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "platform_fee_bps", "platform_fee_wallet", "cors_allow_origins", "quota_open_jobs", "quota_monthly_cents", "created_at", "updated_at",
		}).AddRow("org_1", "acme", 250, "0xplatform", []byte(`["https://acme.example"]`), 10, int64(500000), now, now))

	created, err := store.CreateOrg(context.Background(), org.Org{
		Name:              "acme",
		PlatformFeeBps:    250,
		PlatformFeeWallet: "0xplatform",
		CORSAllowOrigins:  []string{"https://acme.example"},
		QuotaOpenJobs:     10,
		QuotaMonthlyCents: 500000,
	})
	require.NoError(t, err)
	require.Equal(t, "org_1", created.ID)
	require.Equal(t, 250, created.PlatformFeeBps)
	require.Equal(t, []string{"https://acme.example"}, created.CORSAllowOrigins)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrgNotFoundTranslatesToAppError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)

	mock.ExpectQuery(`SELECT id, name, platform_fee_bps, platform_fee_wallet, cors_allow_origins, quota_open_jobs, quota_monthly_cents, created_at, updated_at\s+FROM orgs WHERE id = \$1`).
		WithArgs("org_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetOrg(context.Background(), "org_missing")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
