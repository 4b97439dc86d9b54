package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/storage/memory"
)

func TestAuthenticateAdminToken(t *testing.T) {
	a := &Authenticator{AdminToken: "pw_adm_secret"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer pw_adm_secret")

	p, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, KindAdmin, p.Kind)
}

func TestAuthenticateRejectsWrongAdminToken(t *testing.T) {
	a := &Authenticator{AdminToken: "pw_adm_secret"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer pw_adm_wrong")

	_, err := a.Authenticate(r)
	require.Error(t, err)
}

func TestWorkerTokenRoundTrip(t *testing.T) {
	secret := "worker-secret"
	token, err := MintWorkerToken(secret, "worker-123")
	require.NoError(t, err)
	require.Contains(t, token, PrefixWorker)

	a := &Authenticator{WorkerJWTSecret: secret}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	p, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, KindWorker, p.Kind)
	require.Equal(t, "worker-123", p.WorkerID)
}

func TestWorkerTokenRejectsWrongSecret(t *testing.T) {
	token, err := MintWorkerToken("secret-a", "worker-123")
	require.NoError(t, err)

	a := &Authenticator{WorkerJWTSecret: "secret-b"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err = a.Authenticate(r)
	require.Error(t, err)
}

func TestAuthenticateBuyerAPIKey(t *testing.T) {
	store := memory.New()
	const plaintext = "pw_bu_testkey"
	ctx := context.Background()
	key, err := store.CreateAPIKey(ctx, org.ApiKey{OrgID: "org-1", TokenHash: HashAPIKey(plaintext)})
	require.NoError(t, err)
	require.NotEmpty(t, key.ID)

	a := &Authenticator{Store: store}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+plaintext)

	p, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, KindBuyer, p.Kind)
	require.Equal(t, "org-1", p.OrgID)
}

func TestHashPasswordVerify(t *testing.T) {
	hash, salt, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse battery staple", salt, hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong password", salt, hash)
	require.NoError(t, err)
	require.False(t, ok)
}
