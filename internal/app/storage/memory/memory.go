// Package memory implements storage.Store entirely in process memory, for
// unit tests and local development without PostgreSQL. Its locking
// granularity (one Mutex around the whole Store) is coarser than the
// postgres package's row-level concurrency, but its copy-on-read semantics
// give callers the same optimistic-concurrency guarantees.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/admin"
	"github.com/R3E-Network/proofwork/internal/app/domain/billing"
	"github.com/R3E-Network/proofwork/internal/app/domain/bounty"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/payout"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/domain/verification"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of storage.Store. The zero value is
// not usable; construct with New.
type Store struct {
	mu sync.Mutex

	orgs         map[string]org.Org
	orgUsers     map[string]org.OrgUser
	apiKeys      map[string]org.ApiKey
	sessions     map[string]org.Session
	origins      map[string]org.Origin
	apps         map[string]org.App
	blockedDoms  map[string]org.BlockedDomain
	bounties     map[string]bounty.Bounty
	jobs         map[string]job.Job
	submissions  map[string]submission.Submission
	artifacts    map[string]submission.Artifact
	verifications map[string]verification.Verification
	payouts      map[string]payout.Payout
	transfers    map[string]payout.PayoutTransfer
	payoutAddrs  map[string]string // workerID|chain -> address
	billing      map[string]billing.BillingAccount
	billingEvts  map[string]struct{} // external event ids already applied
	intents      map[string]billing.PaymentIntent
	outboxEvents map[string]outbox.Event
	workerBans   map[string]admin.WorkerBan
	alarms       map[string]admin.AlarmNotification
	alarmDedup   map[string]struct{}
	audit        []admin.AuditEntry
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		orgs:          map[string]org.Org{},
		orgUsers:      map[string]org.OrgUser{},
		apiKeys:       map[string]org.ApiKey{},
		sessions:      map[string]org.Session{},
		origins:       map[string]org.Origin{},
		apps:          map[string]org.App{},
		blockedDoms:   map[string]org.BlockedDomain{},
		bounties:      map[string]bounty.Bounty{},
		jobs:          map[string]job.Job{},
		submissions:   map[string]submission.Submission{},
		artifacts:     map[string]submission.Artifact{},
		verifications: map[string]verification.Verification{},
		payouts:       map[string]payout.Payout{},
		transfers:     map[string]payout.PayoutTransfer{},
		payoutAddrs:   map[string]string{},
		billing:       map[string]billing.BillingAccount{},
		billingEvts:   map[string]struct{}{},
		intents:       map[string]billing.PaymentIntent{},
		outboxEvents:  map[string]outbox.Event{},
		workerBans:    map[string]admin.WorkerBan{},
		alarms:        map[string]admin.AlarmNotification{},
		alarmDedup:    map[string]struct{}{},
	}
}

func newID(prefix string) string { return idgen.New(prefix) }

// WithTx runs fn directly against the same Store. No lock is held across
// fn (each method takes the lock itself), so other callers may interleave,
// and there is no rollback: writes made before fn returns an error stay
// applied.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return fn(s)
}

// ---- OrgStore ----

func (s *Store) CreateOrg(ctx context.Context, o org.Org) (org.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = newID(idgen.Org)
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	s.orgs[o.ID] = o
	return o, nil
}

func (s *Store) GetOrg(ctx context.Context, id string) (org.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return org.Org{}, apperr.NotFound("org")
	}
	return o, nil
}

func (s *Store) UpdateOrg(ctx context.Context, o org.Org) (org.Org, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[o.ID]; !ok {
		return org.Org{}, apperr.NotFound("org")
	}
	o.UpdatedAt = time.Now().UTC()
	s.orgs[o.ID] = o
	return o, nil
}

func (s *Store) CreateOrgUser(ctx context.Context, u org.OrgUser) (org.OrgUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range s.orgUsers {
		if existing.Email == u.Email {
			return org.OrgUser{}, apperr.Conflict("duplicate_email", "email already registered")
		}
	}
	u.ID = newID(idgen.OrgUser)
	u.CreatedAt = time.Now().UTC()
	s.orgUsers[u.ID] = u
	return u, nil
}

func (s *Store) GetOrgUserByEmail(ctx context.Context, email string) (org.OrgUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range s.orgUsers {
		if u.Email == email {
			return u, nil
		}
	}
	return org.OrgUser{}, apperr.NotFound("org_user")
}

func (s *Store) CreateAPIKey(ctx context.Context, k org.ApiKey) (org.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k.ID = newID(idgen.APIKey)
	k.CreatedAt = time.Now().UTC()
	s.apiKeys[k.ID] = k
	return k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (org.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.apiKeys {
		if k.TokenHash == hash {
			return k, nil
		}
	}
	return org.ApiKey{}, apperr.NotFound("api_key")
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return apperr.NotFound("api_key")
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	s.apiKeys[id] = k
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess org.Session) (org.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = newID(idgen.Session)
	sess.CreatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (org.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return org.Session{}, apperr.NotFound("session")
	}
	return sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperr.NotFound("session")
	}
	now := time.Now().UTC()
	sess.RevokedAt = &now
	s.sessions[id] = sess
	return nil
}

func (s *Store) CreateOrigin(ctx context.Context, o org.Origin) (org.Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = newID(idgen.Origin)
	o.CreatedAt = time.Now().UTC()
	s.origins[o.ID] = o
	return o, nil
}

func (s *Store) GetOrigin(ctx context.Context, id string) (org.Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[id]
	if !ok {
		return org.Origin{}, apperr.NotFound("origin")
	}
	return o, nil
}

func (s *Store) ListVerifiedOrigins(ctx context.Context, orgID string) ([]org.Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []org.Origin
	for _, o := range s.origins {
		if o.OrgID == orgID && o.Status == org.OriginVerified {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateOrigin(ctx context.Context, o org.Origin) (org.Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.origins[o.ID]; !ok {
		return org.Origin{}, apperr.NotFound("origin")
	}
	s.origins[o.ID] = o
	return o, nil
}

func (s *Store) CreateApp(ctx context.Context, a org.App) (org.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = newID(idgen.App)
	s.apps[a.ID] = a
	return a, nil
}

func (s *Store) GetAppByTaskType(ctx context.Context, taskType string) (org.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.apps {
		if a.TaskType == taskType {
			return a, nil
		}
	}
	return org.App{}, apperr.NotFound("app")
}

func (s *Store) GetApp(ctx context.Context, id string) (org.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return org.App{}, apperr.NotFound("app")
	}
	return a, nil
}

func (s *Store) AddBlockedDomain(ctx context.Context, d org.BlockedDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Domain = strings.ToLower(d.Domain)
	d.CreatedAt = time.Now().UTC()
	s.blockedDoms[d.Domain] = d
	return nil
}

func (s *Store) RemoveBlockedDomain(ctx context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blockedDoms, strings.ToLower(domain))
	return nil
}

func (s *Store) IsBlockedDomain(ctx context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blockedDoms[strings.ToLower(domain)]
	return ok, nil
}

// ---- BountyStore ----

func (s *Store) CreateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = newID(idgen.Bounty)
	b.CreatedAt = time.Now().UTC()
	s.bounties[b.ID] = b
	return b, nil
}

func (s *Store) GetBounty(ctx context.Context, id string) (bounty.Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bounties[id]
	if !ok {
		return bounty.Bounty{}, apperr.NotFound("bounty")
	}
	return b, nil
}

func (s *Store) UpdateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bounties[b.ID]; !ok {
		return bounty.Bounty{}, apperr.NotFound("bounty")
	}
	s.bounties[b.ID] = b
	return b, nil
}

func (s *Store) ListBountiesByOrg(ctx context.Context, orgID string, limit int) ([]bounty.Bounty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bounty.Bounty
	for _, b := range s.bounties {
		if b.OrgID == orgID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- JobStore ----

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.ID = newID(idgen.Job)
	j.Status = job.StatusOpen
	j.CreatedAt = time.Now().UTC()
	j.UpdatedAt = j.CreatedAt
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, apperr.NotFound("job")
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, expectedStatus string, expectedNonce *string, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[j.ID]
	if !ok {
		return job.Job{}, apperr.NotFound("job")
	}
	if current.Status != expectedStatus {
		return job.Job{}, apperr.Conflict(apperr.CodeStaleJob, "job status changed since last read")
	}
	if expectedNonce != nil && *expectedNonce != "" {
		if current.LeaseNonce == nil || *current.LeaseNonce != *expectedNonce {
			return job.Job{}, apperr.Conflict(apperr.CodeLeaseInvalid, "lease nonce changed since last read")
		}
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) ListJobsByBounty(ctx context.Context, bountyID string) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []job.Job
	for _, j := range s.jobs {
		if j.BountyID == bountyID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ClaimNextJob(ctx context.Context, workerID string, filter storage.JobFilter, leaseTTLSeconds int) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exclude := map[string]struct{}{}
	for _, id := range filter.ExcludeJobIDs {
		exclude[id] = struct{}{}
	}
	wantTags := map[string]struct{}{}
	for _, t := range filter.CapabilityTags {
		wantTags[t] = struct{}{}
	}

	var candidates []job.Job
	for _, j := range s.jobs {
		if filter.RequireJobID != "" && j.ID != filter.RequireJobID {
			continue
		}
		if filter.RequireBountyID != "" && j.BountyID != filter.RequireBountyID {
			continue
		}
		if _, skip := exclude[j.ID]; skip {
			continue
		}
		if j.Status != job.StatusOpen {
			continue
		}
		if filter.TaskType != "" {
			if tt, _ := j.TaskDescriptor["task_type"].(string); tt != filter.TaskType {
				continue
			}
		}
		satisfied := true
		for _, t := range j.CapabilityTags {
			if _, ok := wantTags[t]; !ok {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		b, err := s.bountyLocked(j.BountyID)
		if err != nil || !b.Active() {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return job.Job{}, apperr.NotFound("job")
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })
	chosen := candidates[0]

	nonce := uuid.NewString()
	expires := time.Now().Add(time.Duration(leaseTTLSeconds) * time.Second).UTC()
	chosen.Status = job.StatusClaimed
	chosen.LeaseWorkerID = &workerID
	chosen.LeaseNonce = &nonce
	chosen.LeaseExpiresAt = &expires
	chosen.UpdatedAt = time.Now().UTC()
	s.jobs[chosen.ID] = chosen
	return chosen, nil
}

func (s *Store) bountyLocked(id string) (bounty.Bounty, error) {
	b, ok := s.bounties[id]
	if !ok {
		return bounty.Bounty{}, apperr.NotFound("bounty")
	}
	return b, nil
}

func (s *Store) ReapExpiredLeases(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, j := range s.jobs {
		if j.Status == job.StatusClaimed && j.LeaseExpired(now) {
			j.Status = job.StatusOpen
			j.LeaseWorkerID = nil
			j.LeaseNonce = nil
			j.LeaseExpiresAt = nil
			j.UpdatedAt = now.UTC()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *Store) RevokeLeasesForWorker(ctx context.Context, workerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.LeaseWorkerID != nil && *j.LeaseWorkerID == workerID {
			j.Status = job.StatusOpen
			j.LeaseWorkerID = nil
			j.LeaseNonce = nil
			j.LeaseExpiresAt = nil
			j.UpdatedAt = time.Now().UTC()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

// ---- SubmissionStore ----

func (s *Store) AddSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.submissions {
		if existing.JobID == sub.JobID && existing.IdempotencyKey == sub.IdempotencyKey && sub.IdempotencyKey != "" {
			return existing, true, nil
		}
	}
	sub.ID = newID(idgen.Submission)
	sub.CreatedAt = time.Now().UTC()
	s.submissions[sub.ID] = sub
	return sub, false, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (submission.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return submission.Submission{}, apperr.NotFound("submission")
	}
	return sub, nil
}

func (s *Store) GetSubmissionByIdempotencyKey(ctx context.Context, jobID, key string) (submission.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		return submission.Submission{}, false, nil
	}
	for _, sub := range s.submissions {
		if sub.JobID == jobID && sub.IdempotencyKey == key {
			return sub, true, nil
		}
	}
	return submission.Submission{}, false, nil
}

func (s *Store) FindActiveByDedupeKey(ctx context.Context, bountyID, dedupeKey string) (submission.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey == "" {
		return submission.Submission{}, false, nil
	}
	for _, sub := range s.submissions {
		if sub.DedupeKey != dedupeKey {
			continue
		}
		j, ok := s.jobs[sub.JobID]
		if !ok || j.BountyID != bountyID {
			continue
		}
		if sub.Status == submission.StatusSubmitted || sub.Status == submission.StatusAccepted {
			return sub, true, nil
		}
	}
	return submission.Submission{}, false, nil
}

func (s *Store) UpdateSubmissionStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return apperr.NotFound("submission")
	}
	sub.Status = status
	s.submissions[id] = sub
	return nil
}

func (s *Store) SetPayoutStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return apperr.NotFound("submission")
	}
	sub.PayoutStatus = status
	s.submissions[id] = sub
	return nil
}

func (s *Store) CreateArtifact(ctx context.Context, a submission.Artifact) (submission.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = newID(idgen.Artifact)
	a.CreatedAt = time.Now().UTC()
	s.artifacts[a.ID] = a
	return a, nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (submission.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return submission.Artifact{}, apperr.NotFound("artifact")
	}
	return a, nil
}

func (s *Store) UpdateArtifactStatus(ctx context.Context, id, status, bucketKind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return apperr.NotFound("artifact")
	}
	a.Status = status
	a.BucketKind = bucketKind
	s.artifacts[id] = a
	return nil
}

// ---- VerificationStore ----

func (s *Store) GetOrCreateClaim(ctx context.Context, submissionID string, attemptNo int, verifierInstanceID, claimToken string, claimTTLSeconds int) (verification.Verification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, v := range s.verifications {
		if v.SubmissionID == submissionID && v.AttemptNo == attemptNo {
			if v.ClaimExpired(now) {
				expires := now.Add(time.Duration(claimTTLSeconds) * time.Second)
				v.State = verification.StateClaimed
				v.ClaimToken = claimToken
				v.ClaimExpiresAt = &expires
				v.VerifierInstanceID = verifierInstanceID
				s.verifications[id] = v
				return v, true, nil
			}
			return v, false, nil
		}
	}
	expires := now.Add(time.Duration(claimTTLSeconds) * time.Second)
	v := verification.Verification{
		ID:                 newID(idgen.Verification),
		SubmissionID:       submissionID,
		AttemptNo:          attemptNo,
		State:              verification.StateClaimed,
		ClaimToken:         claimToken,
		ClaimExpiresAt:     &expires,
		VerifierInstanceID: verifierInstanceID,
		CreatedAt:          now,
	}
	if sub, ok := s.submissions[submissionID]; ok {
		v.OrgID = sub.OrgID
	}
	s.verifications[v.ID] = v
	return v, true, nil
}

func (s *Store) GetVerification(ctx context.Context, id string) (verification.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[id]
	if !ok {
		return verification.Verification{}, apperr.NotFound("verification")
	}
	return v, nil
}

func (s *Store) GetLatestAttempt(ctx context.Context, submissionID string) (verification.Verification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest verification.Verification
	found := false
	for _, v := range s.verifications {
		if v.SubmissionID != submissionID {
			continue
		}
		if !found || v.AttemptNo > latest.AttemptNo {
			latest = v
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) RecordVerdict(ctx context.Context, id, claimToken, verdict, reason string, scorecard map[string]any) (verification.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[id]
	if !ok {
		return verification.Verification{}, apperr.NotFound("verification")
	}
	now := time.Now().UTC()
	if v.ClaimToken != claimToken || v.State != verification.StateClaimed || v.ClaimExpired(now) {
		return verification.Verification{}, apperr.Conflict(apperr.CodeLeaseInvalid, "claim token is stale or already decided")
	}
	v.State = verification.StateDecided
	v.Verdict = verdict
	v.Reason = reason
	v.Scorecard = scorecard
	v.DecidedAt = &now
	s.verifications[id] = v
	return v, nil
}

func (s *Store) CountPassingInstances(ctx context.Context, submissionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for _, v := range s.verifications {
		if v.SubmissionID == submissionID && v.Verdict == verification.VerdictPass {
			seen[v.VerifierInstanceID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) CountBacklog(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.verifications {
		if v.State == verification.StateQueued || v.State == verification.StateClaimed {
			n++
		}
	}
	return n, nil
}

// ---- PayoutStore ----

func (s *Store) AddPayout(ctx context.Context, p payout.Payout, transfers []payout.PayoutTransfer) (payout.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = newID(idgen.Payout)
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payouts[p.ID] = p
	for _, t := range transfers {
		t.ID = newID(idgen.Transfer)
		t.PayoutID = p.ID
		t.CreatedAt = now
		t.UpdatedAt = now
		s.transfers[t.ID] = t
	}
	return p, nil
}

func (s *Store) GetPayout(ctx context.Context, id string) (payout.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return payout.Payout{}, apperr.NotFound("payout")
	}
	return p, nil
}

func (s *Store) GetPayoutBySubmission(ctx context.Context, submissionID string) (payout.Payout, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.SubmissionID == submissionID {
			return p, true, nil
		}
	}
	return payout.Payout{}, false, nil
}

func (s *Store) UpdatePayoutStatus(ctx context.Context, id, status, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return apperr.NotFound("payout")
	}
	p.Status = status
	p.FailureReason = failureReason
	p.UpdatedAt = time.Now().UTC()
	s.payouts[id] = p
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, payoutID string) ([]payout.PayoutTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payout.PayoutTransfer
	for _, t := range s.transfers {
		if t.PayoutID == payoutID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *Store) UpdateTransfer(ctx context.Context, t payout.PayoutTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[t.ID]; !ok {
		return apperr.NotFound("payout_transfer")
	}
	t.UpdatedAt = time.Now().UTC()
	s.transfers[t.ID] = t
	return nil
}

func (s *Store) SetWorkerPayoutAddress(ctx context.Context, workerID, chain, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payoutAddrs[workerID+"|"+chain] = address
	return nil
}

func (s *Store) GetWorkerPayoutAddress(ctx context.Context, workerID, chain string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.payoutAddrs[workerID+"|"+chain]
	return addr, ok, nil
}

// ---- BillingStore ----

func (s *Store) GetBillingAccount(ctx context.Context, orgID string) (billing.BillingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.billing[orgID]
	if !ok {
		return billing.BillingAccount{OrgID: orgID}, nil
	}
	return acct, nil
}

func (s *Store) ApplyEvent(ctx context.Context, e billing.BillingEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ExternalEventID != "" {
		if _, ok := s.billingEvts[e.ExternalEventID]; ok {
			return false, nil
		}
		s.billingEvts[e.ExternalEventID] = struct{}{}
	}
	acct := s.billing[e.OrgID]
	acct.OrgID = e.OrgID
	acct.BalanceCents += e.AmountCents
	acct.UpdatedAt = time.Now().UTC()
	s.billing[e.OrgID] = acct
	return true, nil
}

func (s *Store) CreatePaymentIntent(ctx context.Context, p billing.PaymentIntent) (billing.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = newID(idgen.PaymentIntent)
	p.CreatedAt = time.Now().UTC()
	s.intents[p.ID] = p
	return p, nil
}

func (s *Store) GetPaymentIntentByStripeID(ctx context.Context, stripeID string) (billing.PaymentIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.intents {
		if p.StripeIntentID == stripeID {
			return p, true, nil
		}
	}
	return billing.PaymentIntent{}, false, nil
}

func (s *Store) UpdatePaymentIntentStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.intents[id]
	if !ok {
		return apperr.NotFound("payment_intent")
	}
	p.Status = status
	s.intents[id] = p
	return nil
}

// ---- OutboxStore ----

func (s *Store) InsertOutboxEvent(ctx context.Context, e outbox.Event) (outbox.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.IdempotencyKey != "" {
		for _, existing := range s.outboxEvents {
			if existing.Topic == e.Topic && existing.IdempotencyKey == e.IdempotencyKey &&
				existing.Status != outbox.StatusSent && existing.Status != outbox.StatusDeadletter {
				return existing, false, nil
			}
		}
	}
	e.ID = newID(idgen.OutboxEvent)
	e.Status = outbox.StatusPending
	now := time.Now().UTC()
	if e.AvailableAt.IsZero() {
		e.AvailableAt = now
	}
	e.CreatedAt = now
	s.outboxEvents[e.ID] = e
	return e, true, nil
}

func (s *Store) ClaimPending(ctx context.Context, topics []string, lockedBy string, n int) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]struct{}{}
	for _, t := range topics {
		want[t] = struct{}{}
	}
	now := time.Now().UTC()
	var candidates []outbox.Event
	for _, e := range s.outboxEvents {
		if _, ok := want[e.Topic]; !ok {
			continue
		}
		if e.Status != outbox.StatusPending {
			continue
		}
		if e.AvailableAt.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	lockedAt := now
	for i := range candidates {
		candidates[i].Status = outbox.StatusProcessing
		candidates[i].LockedAt = &lockedAt
		candidates[i].LockedBy = lockedBy
		s.outboxEvents[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outboxEvents[id]
	if !ok {
		return apperr.NotFound("outbox_event")
	}
	now := time.Now().UTC()
	e.Status = outbox.StatusSent
	e.SentAt = &now
	s.outboxEvents[id] = e
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id string, nextAvailableAt int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outboxEvents[id]
	if !ok {
		return apperr.NotFound("outbox_event")
	}
	e.Status = outbox.StatusPending
	e.Attempts++
	e.AvailableAt = time.Unix(nextAvailableAt, 0).UTC()
	e.LastError = lastError
	e.LockedAt = nil
	e.LockedBy = ""
	s.outboxEvents[id] = e
	return nil
}

func (s *Store) MarkDeadletter(ctx context.Context, id, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outboxEvents[id]
	if !ok {
		return apperr.NotFound("outbox_event")
	}
	e.Status = outbox.StatusDeadletter
	e.LastError = lastError
	s.outboxEvents[id] = e
	return nil
}

func (s *Store) OldestPendingAgeSeconds(ctx context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var oldest *time.Time
	for _, e := range s.outboxEvents {
		if e.Status != outbox.StatusPending || e.AvailableAt.After(now) {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(*oldest) {
			t := e.CreatedAt
			oldest = &t
		}
	}
	if oldest == nil {
		return 0, false, nil
	}
	return int64(now.Sub(*oldest).Seconds()), true, nil
}

// ---- AdminStore ----

func (s *Store) BanWorker(ctx context.Context, b admin.WorkerBan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.BannedAt = time.Now().UTC()
	s.workerBans[b.WorkerID] = b
	return nil
}

func (s *Store) IsWorkerBanned(ctx context.Context, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workerBans[workerID]
	return ok, nil
}

func (s *Store) RecordAlarm(ctx context.Context, a admin.AlarmNotification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.TopicArn + "|" + a.SNSMessageID
	if _, ok := s.alarmDedup[key]; ok {
		return false, nil
	}
	s.alarmDedup[key] = struct{}{}
	a.ID = newID(idgen.Alarm)
	a.ReceivedAt = time.Now().UTC()
	s.alarms[a.ID] = a
	return true, nil
}

func (s *Store) ListAlarms(ctx context.Context, limit int) ([]admin.AlarmNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]admin.AlarmNotification, 0, len(s.alarms))
	for _, a := range s.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordAudit(ctx context.Context, e admin.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = newID(idgen.Audit)
	e.CreatedAt = time.Now().UTC()
	s.audit = append(s.audit, e)
	return nil
}
