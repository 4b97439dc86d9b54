package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/proofwork/internal/app/authn"
	"github.com/R3E-Network/proofwork/internal/app/core/service"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/infrastructure/ratelimit"
	"github.com/R3E-Network/proofwork/pkg/logger"
	"github.com/R3E-Network/proofwork/pkg/metrics"
)

// Deps bundles everything a handler needs: the Store for reads the core
// services don't already wrap, the services themselves, auth, rate
// limiting, and the handful of config values the wire layer cares about.
type Deps struct {
	Store storage.Store

	Scheduler     *service.Scheduler
	Submissions   *service.SubmissionEngine
	Verifications *service.VerificationGateway
	Payouts       *service.PayoutPipeline
	Bounties      *service.BountyService
	Admin         *service.AdminService

	Auth          *authn.Authenticator
	WorkerLimiter ratelimit.KeyedLimiter

	CORSAllowOrigins    []string
	StripeWebhookSecret string
	BlockedContentTypes []string
	Version             string

	Log *logrus.Entry
}

// NewRouter builds the full chi.Mux for the control plane. Route grouping
// mirrors the principal kinds each group is gated behind.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(d.cors)
	r.Use(requestID)
	r.Use(d.instrument)

	r.Get("/api/version", d.handleVersion)
	r.Get("/health/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/workers", func(r chi.Router) {
		r.Post("/register", d.handleWorkerRegister)
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(d.authenticate(authn.KindWorker))
			r.Use(d.rateLimitByPrincipal)
			r.Get("/next", d.handleJobsNext)
			r.Post("/{jobID}/claim", d.handleJobClaim)
			r.Post("/{jobID}/release", d.handleJobRelease)
			r.Post("/{jobID}/submit", d.handleJobSubmit)
		})
	})

	r.Route("/api/worker", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindWorker))
		r.Post("/payout-address", d.handleSetWorkerPayoutAddress)
	})

	r.Route("/api/verifier", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindVerifier))
		r.Use(d.rateLimitByPrincipal)
		r.Post("/claim", d.handleVerifierClaim)
		r.Post("/verdict", d.handleVerifierVerdict)
	})

	r.Route("/api/bounties", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindBuyer))
		r.Post("/", d.handleBountyCreate)
		r.Get("/", d.handleBountyList)
		r.Post("/{bountyID}/publish", d.handleBountyPublish)
		r.Post("/{bountyID}/pause", d.handleBountyPause)
		r.Get("/{bountyID}/jobs", d.handleBountyJobs)
	})

	r.Route("/api/origins", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindBuyer))
		r.Post("/", d.handleOriginCreate)
		r.Post("/{originID}/verify", d.handleOriginVerify)
	})

	r.Route("/api/apps", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindBuyer))
		r.Post("/", d.handleAppCreate)
	})

	r.Route("/api/uploads", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindBuyer, authn.KindWorker))
		r.Post("/presign", d.handleUploadPresign)
		r.Post("/complete", d.handleUploadComplete)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindAdmin))
		r.Post("/workers/{workerID}/ban", d.handleAdminBanWorker)
		r.Post("/blocked-domains", d.handleAdminAddBlockedDomain)
		r.Delete("/blocked-domains/{domain}", d.handleAdminRemoveBlockedDomain)
		r.Post("/billing/{orgID}/topup", d.handleAdminTopUp)
		r.Post("/payouts/{payoutID}/mark", d.handleAdminMarkPayout)
		r.Get("/alarms", d.handleAdminListAlarms)
	})

	r.Post("/api/stripe/webhook", d.handleStripeWebhook)
	r.Post("/api/alarms/sns", d.handleAlarmsSNS)

	r.Route("/internal", func(r chi.Router) {
		r.Use(d.authenticate(authn.KindAdmin))
		r.Post("/reap-leases", d.handleReapLeases)
	})

	return r
}

func (d *Deps) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": d.Version})
}

// instrument records proofwork_requests_total/request_duration_seconds
// against the matched chi route pattern, not the raw path, after the
// handler completes, since the pattern is only fully resolved once routing
// has finished walking the tree. 5xx responses also get their request id
// logged, since the body itself stays opaque per §7.
func (d *Deps) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if rec.status >= http.StatusInternalServerError && d.Log != nil {
			logger.WithRequestID(d.Log, w.Header().Get("X-Request-Id")).
				WithField("route", route).
				Error("request failed")
		}
	})
}

// requestID stamps every response with an X-Request-Id so a 5xx's opaque
// body can still be correlated to the logged trace, per §7.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
