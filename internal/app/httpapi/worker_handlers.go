package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/proofwork/infrastructure/ratelimit"
	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/authn"
	"github.com/R3E-Network/proofwork/internal/app/core/service"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

// registerLimiter is the per-IP ceiling on worker registration, 30 req/min
// per instance, applied whenever rate limiting is enabled (WorkerLimiter set).
var registerLimiter = ratelimit.NewMemoryKeyedLimiter(30)

// handleWorkerRegister mints an anonymous worker identity: a fresh worker
// id and its signed pw_wk_ JWT. There is no persistent worker row — the
// token itself is the account.
func (d *Deps) handleWorkerRegister(w http.ResponseWriter, r *http.Request) {
	if d.WorkerLimiter != nil {
		allowed, err := registerLimiter.Allow(r.Context(), "register:"+clientIP(r))
		if err != nil {
			writeError(w, apperr.Internal(err))
			return
		}
		if !allowed {
			writeError(w, apperr.RateLimited("rate limit exceeded, retry later"))
			return
		}
	}
	workerID := uuid.NewString()
	token, err := authn.MintWorkerToken(d.Auth.WorkerJWTSecret, workerID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workerId": workerID, "token": token})
}

// handleJobsNext polls for the next claimable job matching the supplied
// filters, returning "idle" with next_steps when none is eligible yet.
func (d *Deps) handleJobsNext(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	q := r.URL.Query()

	filter := storage.JobFilter{
		TaskType:        q.Get("task_type"),
		RequireJobID:    q.Get("require_job_id"),
		RequireBountyID: q.Get("require_bounty_id"),
	}
	if tags := q.Get("capability_tags"); tags != "" {
		filter.CapabilityTags = splitCSV(tags)
	} else if tag := q.Get("capability_tag"); tag != "" {
		filter.CapabilityTags = []string{tag}
	}
	if exclude := q.Get("exclude_job_ids"); exclude != "" {
		filter.ExcludeJobIDs = splitCSV(exclude)
	}

	claimable, err := d.Scheduler.NextJob(r.Context(), p.WorkerID, filter)
	if err != nil {
		var idle *service.ErrIdle
		if asIdle(err, &idle) {
			writeJSON(w, http.StatusOK, map[string]any{"state": "idle", "next_steps": idle.NextSteps})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": "claimable",
		"data": map[string]any{
			"job":       jobView(claimable.Job, claimable.Descriptor),
			"leaseHint": int(claimable.LeaseHint.Seconds()),
		},
	})
}

func asIdle(err error, target **service.ErrIdle) bool {
	e, ok := err.(*service.ErrIdle)
	if !ok {
		return false
	}
	*target = e
	return true
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// jobView renders the worker-facing projection of a Job: its task
// descriptor has already been redacted by the scheduler, so this is a
// plain field copy, not a second redaction pass.
func jobView(j job.Job, descriptor map[string]any) map[string]any {
	return map[string]any{
		"jobId":            j.ID,
		"bountyId":         j.BountyID,
		"fingerprintClass": j.FingerprintClass,
		"status":           j.Status,
		"taskDescriptor":   descriptor,
		"capabilityTags":   j.CapabilityTags,
	}
}

// handleJobClaim re-asserts the open->claimed transition for a job id
// already named by a prior /jobs/next poll.
func (d *Deps) handleJobClaim(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")

	j, err := d.Scheduler.Claim(r.Context(), jobID, p.WorkerID)
	if err != nil {
		writeError(w, err)
		return
	}
	leaseExpiresAt := ""
	if j.LeaseExpiresAt != nil {
		leaseExpiresAt = j.LeaseExpiresAt.UTC().Format(timeLayout)
	}
	leaseNonce := ""
	if j.LeaseNonce != nil {
		leaseNonce = *j.LeaseNonce
	}
	writeData(w, http.StatusOK, map[string]any{
		"leaseNonce":     leaseNonce,
		"leaseExpiresAt": leaseExpiresAt,
	})
}

type releaseRequest struct {
	LeaseNonce string `json:"leaseNonce"`
	Reason     string `json:"reason,omitempty"`
}

// handleJobRelease voluntarily returns a leased job to open.
func (d *Deps) handleJobRelease(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")

	var in releaseRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := d.Scheduler.Release(r.Context(), jobID, p.WorkerID, in.LeaseNonce); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

type submitRequest struct {
	Manifest      submission.Manifest             `json:"manifest"`
	ArtifactIndex []submission.ArtifactIndexEntry `json:"artifactIndex"`
	LeaseNonce    string                           `json:"leaseNonce"`
}

// handleJobSubmit ingests a worker's manifest, honoring the Idempotency-Key
// header for safe replay.
func (d *Deps) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")

	var in submitRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}

	result, err := d.Submissions.Submit(r.Context(), service.SubmitInput{
		JobID:          jobID,
		WorkerID:       p.WorkerID,
		Manifest:       in.Manifest,
		ArtifactIndex:  in.ArtifactIndex,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		LeaseNonce:     in.LeaseNonce,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": result.State,
		"data":  map[string]any{"submission": result.Submission},
	})
}

type payoutAddressRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

// handleSetWorkerPayoutAddress records where a worker's payouts should
// settle. A payout that already failed with payout_address_missing stays
// failed; this call does not re-request it.
func (d *Deps) handleSetWorkerPayoutAddress(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	var in payoutAddressRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Chain == "" {
		in.Chain = "base"
	}
	if err := d.Store.SetWorkerPayoutAddress(r.Context(), p.WorkerID, in.Chain, in.Address); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
