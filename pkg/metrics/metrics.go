// Package metrics exposes the Prometheus collectors the control plane is
// required to publish: request volume/latency, the verifier backlog, and
// outbox pending-event age, scraped from /health/metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every proofwork collector; Handler serves it.
	Registry = prometheus.NewRegistry()

	// RequestsTotal is proofwork_requests_total.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofwork",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled, labeled by method/route/status.",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proofwork",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	// VerifierBacklog is proofwork_verifier_backlog: verification attempts
	// awaiting a verdict (state queued or claimed).
	VerifierBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proofwork",
			Name:      "verifier_backlog",
			Help:      "Number of verification attempts currently queued or claimed.",
		},
	)

	// OutboxPendingAgeSeconds is proofwork_outbox_pending_age_seconds: age of
	// the oldest due-and-pending outbox row, the scheduler's backpressure signal.
	OutboxPendingAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proofwork",
			Name:      "outbox_pending_age_seconds",
			Help:      "Age in seconds of the oldest pending, due outbox event.",
		},
	)

	OutboxTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofwork",
			Name:      "outbox_transitions_total",
			Help:      "Outbox event transitions, labeled by topic and outcome.",
		},
		[]string{"topic", "outcome"},
	)

	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofwork",
			Name:      "payouts_total",
			Help:      "Payouts reaching a terminal state, labeled by status.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal,
		RequestDuration,
		VerifierBacklog,
		OutboxPendingAgeSeconds,
		OutboxTransitions,
		PayoutsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps h to record RequestsTotal/RequestDuration for the
// named route. route should be the router pattern (e.g. "/api/jobs/:id"),
// not the raw path, to keep cardinality bounded.
func InstrumentHandler(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		duration := time.Since(start).Seconds()
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(duration)
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

// ObserveOutboxOutcome records a single outbox processor transition.
func ObserveOutboxOutcome(topic, outcome string) {
	OutboxTransitions.WithLabelValues(topic, outcome).Inc()
}

// ObservePayoutTerminal records a payout reaching paid or failed.
func ObservePayoutTerminal(status string) {
	PayoutsTotal.WithLabelValues(status).Inc()
}

// RefreshGauges is called periodically (or after each scheduler poll) to
// keep VerifierBacklog and OutboxPendingAgeSeconds current from fresh Store
// reads, since Prometheus gauges otherwise only change on explicit Set.
func RefreshGauges(ctx context.Context, backlog func(context.Context) (int, error), outboxAge func(context.Context) (int64, bool, error)) {
	if backlog != nil {
		if n, err := backlog(ctx); err == nil {
			VerifierBacklog.Set(float64(n))
		}
	}
	if outboxAge != nil {
		if age, found, err := outboxAge(ctx); err == nil && found {
			OutboxPendingAgeSeconds.Set(float64(age))
		} else if err == nil {
			OutboxPendingAgeSeconds.Set(0)
		}
	}
}
