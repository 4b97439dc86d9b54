package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/authn"
)

// authenticate resolves the bearer token into a Principal and rejects the
// request up front unless its Kind is one of allowed. Handlers downstream
// read the Principal via authn.FromContext instead of re-parsing the header.
func (d *Deps) authenticate(allowed ...authn.Kind) func(http.Handler) http.Handler {
	allow := make(map[authn.Kind]struct{}, len(allowed))
	for _, k := range allowed {
		allow[k] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := d.Auth.Authenticate(r)
			if err != nil {
				writeError(w, err)
				return
			}
			if len(allow) > 0 {
				if _, ok := allow[p.Kind]; !ok {
					writeError(w, apperr.Forbidden("forbidden", "caller is not permitted to use this endpoint"))
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(authn.WithPrincipal(r.Context(), p)))
		})
	}
}

// rateLimitByPrincipal enforces a per-worker (or per-org) ceiling ahead of
// the hot job-polling and verdict endpoints, falling back to the client IP
// when the principal carries neither id (verifier tokens, for instance).
func (d *Deps) rateLimitByPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.WorkerLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := clientIP(r)
		if p, ok := authn.FromContext(r.Context()); ok {
			switch {
			case p.WorkerID != "":
				key = "worker:" + p.WorkerID
			case p.OrgID != "":
				key = "org:" + p.OrgID
			}
		}
		allowed, err := d.WorkerLimiter.Allow(r.Context(), key)
		if err != nil {
			writeError(w, apperr.Internal(err))
			return
		}
		if !allowed {
			writeError(w, apperr.RateLimited("rate limit exceeded, retry later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cors allows the configured dashboard origins (CORS_ALLOW_ORIGINS; with none
// configured, every origin — matching the teacher's permissive dev default)
// and short-circuits preflight requests.
func (d *Deps) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && d.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else if len(d.CORSAllowOrigins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Deps) originAllowed(origin string) bool {
	for _, allowed := range d.CORSAllowOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
