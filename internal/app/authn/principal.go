// Package authn resolves the bearer token on every authenticated request
// into a tagged Principal — buyer, worker, verifier, admin, or buyer
// session — the way the data model's Design Notes describe: one
// polymorphic projection computed once per request, instead of role
// checks scattered through every handler.
package authn

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

// Kind tags which of the five principal shapes a request resolved to.
type Kind string

const (
	KindBuyer    Kind = "buyer"
	KindWorker   Kind = "worker"
	KindVerifier Kind = "verifier"
	KindAdmin    Kind = "admin"
	KindSession  Kind = "session"
)

// Token prefixes distinguishing the principal kinds at a glance, matching
// what a caller actually sees minted by /api/workers/register or issued by
// an admin out of band.
const (
	PrefixBuyer    = "pw_bu_"
	PrefixWorker   = "pw_wk_"
	PrefixVerifier = "pw_vf_"
	PrefixAdmin    = "pw_adm_"
	PrefixOrigin   = "pw_verify_"
)

// Principal is the single projected identity attached to a request
// context after authentication. Only the fields relevant to Kind are
// populated; callers must not assume the others are zero-valued for a
// kind they don't expect.
type Principal struct {
	Kind     Kind
	OrgID    string
	WorkerID string
	UserID   string
}

type ctxKey struct{}

// WithPrincipal attaches p to ctx for downstream handlers to read via
// FromContext.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal attached by the auth middleware, or
// false if the request was never authenticated (a bug in route wiring,
// since every routed handler sits behind the middleware).
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Authenticator resolves a bearer token into a Principal. It holds no
// request state and is safe for concurrent use.
type Authenticator struct {
	Store           storage.Store
	AdminToken      string
	VerifierToken   string
	WorkerJWTSecret string
}

// Authenticate extracts the Authorization header's bearer token and
// dispatches on its prefix. An empty or malformed header, an unknown
// prefix, or a token that fails its kind-specific check all return
// apperr.Unauthorized.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	token := extractBearer(r)
	if token == "" {
		return Principal{}, apperr.Unauthorized("missing bearer token")
	}

	switch {
	case strings.HasPrefix(token, PrefixAdmin):
		if a.AdminToken == "" || !constantTimeEqual(token, a.AdminToken) {
			return Principal{}, apperr.Unauthorized("invalid admin token")
		}
		return Principal{Kind: KindAdmin}, nil

	case strings.HasPrefix(token, PrefixVerifier):
		if a.VerifierToken == "" || !constantTimeEqual(token, a.VerifierToken) {
			return Principal{}, apperr.Unauthorized("invalid verifier token")
		}
		return Principal{Kind: KindVerifier}, nil

	case strings.HasPrefix(token, PrefixWorker):
		workerID, err := a.verifyWorkerToken(token)
		if err != nil {
			return Principal{}, apperr.Unauthorized("invalid worker token")
		}
		return Principal{Kind: KindWorker, WorkerID: workerID}, nil

	case strings.HasPrefix(token, PrefixBuyer):
		if a.Store == nil {
			return Principal{}, apperr.Unauthorized("buyer auth not configured")
		}
		key, err := a.Store.GetAPIKeyByHash(r.Context(), HashAPIKey(token))
		if err != nil {
			return Principal{}, apperr.Unauthorized("invalid api key")
		}
		if key.Revoked() {
			return Principal{}, apperr.Unauthorized("api key revoked")
		}
		return Principal{Kind: KindBuyer, OrgID: key.OrgID}, nil

	default:
		return Principal{}, apperr.Unauthorized("unrecognized token prefix")
	}
}

// HashAPIKey returns the hex-encoded SHA-256 of a buyer API key token.
// Only the hash is ever persisted or compared; the plaintext token is
// shown to the buyer exactly once, at creation.
func HashAPIKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func extractBearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(h)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// workerClaims is the JWT payload minted at /api/workers/register. Workers
// have no persistent account row; the token itself is the only record of
// a worker's identity, so its subject becomes the worker id used on every
// subsequent job/submission operation.
type workerClaims struct {
	jwt.RegisteredClaims
}

// WorkerTokenTTL bounds how long a registered worker's session stays
// valid before it must re-register.
const WorkerTokenTTL = 30 * 24 * time.Hour

// MintWorkerToken issues a new pw_wk_-prefixed JWT binding a freshly
// generated worker id, signed with secret.
func MintWorkerToken(secret, workerID string) (string, error) {
	if secret == "" {
		return "", errors.New("authn: worker jwt secret not configured")
	}
	now := time.Now().UTC()
	claims := workerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(WorkerTokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}
	return PrefixWorker + signed, nil
}

func (a *Authenticator) verifyWorkerToken(token string) (string, error) {
	if a.WorkerJWTSecret == "" {
		return "", errors.New("authn: worker jwt secret not configured")
	}
	raw := strings.TrimPrefix(token, PrefixWorker)
	claims := &workerClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("authn: unexpected signing method")
		}
		return []byte(a.WorkerJWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("authn: invalid worker token")
	}
	if claims.Subject == "" {
		return "", errors.New("authn: worker token missing subject")
	}
	return claims.Subject, nil
}
