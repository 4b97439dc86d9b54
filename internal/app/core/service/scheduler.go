package service

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

// DefaultFreshnessSLA applies when a task descriptor omits freshness_sla_sec.
const DefaultFreshnessSLA = 1 * time.Hour

// DefaultLeaseTTL is the job lease lifetime granted on claim.
const DefaultLeaseTTL = 10 * time.Minute

// Scheduler hands claimable jobs to workers under lease, reaps expired
// leases, and enforces the outbox-backpressure and worker-ban gates that
// apply before a candidate job is even looked up.
type Scheduler struct {
	Store                storage.Store
	MaxOutboxPendingAge  time.Duration
	UniversalWorkerPause func() bool
}

// Claimable is the verdict of a /jobs/next poll.
type Claimable struct {
	Job        job.Job
	Descriptor map[string]any
	LeaseHint  time.Duration
}

// ErrIdle is returned when no job is currently eligible; NextSteps carries a
// human-readable reason surfaced verbatim in the API response.
type ErrIdle struct {
	NextSteps []string
}

func (e *ErrIdle) Error() string { return "scheduler: idle" }

// NextJob evaluates the pre-query admission predicates (ban, pause,
// backpressure) then delegates candidate selection and the atomic
// open->claimed transition to the Store.
func (s *Scheduler) NextJob(ctx context.Context, workerID string, filter storage.JobFilter) (Claimable, error) {
	if s.UniversalWorkerPause != nil && s.UniversalWorkerPause() {
		return Claimable{}, &ErrIdle{NextSteps: []string{"Worker intake is globally paused by an operator."}}
	}
	banned, err := s.Store.IsWorkerBanned(ctx, workerID)
	if err != nil {
		return Claimable{}, err
	}
	if banned {
		return Claimable{}, apperr.Forbidden("worker_banned", "worker is banned")
	}

	if age, found, err := s.Store.OldestPendingAgeSeconds(ctx); err != nil {
		return Claimable{}, err
	} else if found && s.MaxOutboxPendingAge > 0 && time.Duration(age)*time.Second > s.MaxOutboxPendingAge {
		return Claimable{}, &ErrIdle{NextSteps: []string{
			fmt.Sprintf("Outbox queue lag high: oldest pending event is %ds old.", age),
		}}
	}

	j, err := s.Store.ClaimNextJob(ctx, workerID, filter, int(DefaultLeaseTTL.Seconds()))
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return Claimable{}, &ErrIdle{NextSteps: []string{"No eligible job matched the supplied filters."}}
		}
		return Claimable{}, err
	}

	// Freshness (predicate 7) depends on task_descriptor.freshness_sla_sec,
	// which only the application layer can interpret; the Store's query
	// can't push it down. A stale candidate is released back to open rather
	// than handed out, and the poll reports idle for this round.
	if !j.Fresh(time.Now(), freshnessSLA(j.TaskDescriptor)) {
		nonce := ""
		if j.LeaseNonce != nil {
			nonce = *j.LeaseNonce
		}
		j.Status = job.StatusOpen
		j.LeaseWorkerID = nil
		j.LeaseNonce = nil
		j.LeaseExpiresAt = nil
		_, _ = s.Store.UpdateJob(ctx, job.StatusClaimed, &nonce, j)
		return Claimable{}, &ErrIdle{NextSteps: []string{"No eligible job matched the supplied filters."}}
	}

	return Claimable{
		Job:        j,
		Descriptor: redactTaskDescriptor(j.TaskDescriptor),
		LeaseHint:  DefaultLeaseTTL,
	}, nil
}

// freshnessSLA reads task_descriptor.freshness_sla_sec, falling back to
// DefaultFreshnessSLA when absent or malformed.
func freshnessSLA(descriptor map[string]any) time.Duration {
	raw, ok := descriptor["freshness_sla_sec"]
	if !ok {
		return DefaultFreshnessSLA
	}
	switch v := raw.(type) {
	case float64:
		return time.Duration(v) * time.Second
	case int:
		return time.Duration(v) * time.Second
	default:
		return DefaultFreshnessSLA
	}
}

// Claim re-asserts the open->claimed transition for a specific job id, used
// by POST /api/jobs/:id/claim after a /jobs/next poll already named it.
func (s *Scheduler) Claim(ctx context.Context, jobID, workerID string) (job.Job, error) {
	filter := storage.JobFilter{RequireJobID: jobID}
	j, err := s.Store.ClaimNextJob(ctx, workerID, filter, int(DefaultLeaseTTL.Seconds()))
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return job.Job{}, apperr.Conflict(apperr.CodeStaleJob, "job is no longer claimable")
		}
		return job.Job{}, err
	}
	return j, nil
}

// Release voluntarily returns a leased job to open, verifying the caller
// holds the exact (worker, nonce) pair currently recorded.
func (s *Scheduler) Release(ctx context.Context, jobID, workerID, leaseNonce string) error {
	j, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.LeasedBy(workerID, leaseNonce) {
		return apperr.Conflict(apperr.CodeLeaseInvalid, "lease does not match")
	}
	j.Status = job.StatusOpen
	j.LeaseWorkerID = nil
	j.LeaseNonce = nil
	j.LeaseExpiresAt = nil
	_, err = s.Store.UpdateJob(ctx, job.StatusClaimed, &leaseNonce, j)
	return err
}

// ReapExpiredLeases sweeps claimed jobs whose lease has lapsed back to open.
// Safe to call from any replica; the underlying transition is idempotent.
func (s *Scheduler) ReapExpiredLeases(ctx context.Context) (int, error) {
	return s.Store.ReapExpiredLeases(ctx)
}

func redactTaskDescriptor(descriptor map[string]any) map[string]any {
	return bounty.RedactForWorker(descriptor)
}
