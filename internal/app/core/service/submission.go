package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/job"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/storage"
)

// maxBrowserFlowSteps bounds manifest.reproSteps when the descriptor carries
// a browser_flow task type.
const maxBrowserFlowSteps = 100

// SubmissionEngine validates and ingests worker manifests, enforcing origin,
// artifact, and idempotency invariants before transitioning the owning job
// into verifying and enqueueing a verification request.
type SubmissionEngine struct {
	Store storage.Store
}

// SubmitInput carries the caller-supplied submission payload.
type SubmitInput struct {
	JobID          string
	WorkerID       string
	Manifest       submission.Manifest
	ArtifactIndex  []submission.ArtifactIndexEntry
	IdempotencyKey string
	LeaseNonce     string
}

// SubmitResult reports the post-submission state for the HTTP layer to render.
type SubmitResult struct {
	Submission submission.Submission
	State      string // "verifying" | "done"
	Duplicate  bool
}

func (e *SubmissionEngine) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	j, err := e.Store.GetJob(ctx, in.JobID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !j.LeasedBy(in.WorkerID, in.LeaseNonce) {
		return SubmitResult{}, apperr.Conflict(apperr.CodeLeaseInvalid, "job is not leased by this worker/nonce")
	}
	if !j.Fresh(time.Now(), freshnessSLA(j.TaskDescriptor)) {
		return SubmitResult{}, apperr.Conflict(apperr.CodeStaleJob, "job is past its freshness SLA")
	}

	b, err := e.Store.GetBounty(ctx, j.BountyID)
	if err != nil {
		return SubmitResult{}, err
	}

	if in.Manifest.FinalURL != "" {
		if err := checkOriginAllowed(in.Manifest.FinalURL, b.AllowedOrigins); err != nil {
			return SubmitResult{}, err
		}
	}

	if err := e.checkArtifacts(ctx, j.OrgID, in.ArtifactIndex, j.TaskDescriptor); err != nil {
		return SubmitResult{}, err
	}

	if err := checkBrowserFlowSteps(j.TaskDescriptor, in.Manifest.ReproSteps); err != nil {
		return SubmitResult{}, err
	}

	dedupeKey := computeDedupeKey(b.ID, in.Manifest.Result)

	sub := submission.Submission{
		JobID:          in.JobID,
		OrgID:          j.OrgID,
		WorkerID:       in.WorkerID,
		Manifest:       in.Manifest,
		ArtifactIndex:  in.ArtifactIndex,
		Status:         submission.StatusSubmitted,
		DedupeKey:      dedupeKey,
		IdempotencyKey: in.IdempotencyKey,
	}

	var (
		created   submission.Submission
		duplicate bool
	)
	err = e.Store.WithTx(ctx, func(tx storage.Store) error {
		existingIdem, found, err := tx.GetSubmissionByIdempotencyKey(ctx, in.JobID, in.IdempotencyKey)
		if err != nil {
			return err
		}
		if found {
			if !sameSubmissionPayload(existingIdem, sub) {
				return apperr.Conflict(apperr.CodeIdempotencyConflict, "idempotency key reused with a different payload")
			}
			created = existingIdem
			duplicate = existingIdem.Status == submission.StatusDuplicate
			return nil
		}

		if dedupeKey != "" {
			if active, found, err := tx.FindActiveByDedupeKey(ctx, b.ID, dedupeKey); err != nil {
				return err
			} else if found {
				sub.Status = submission.StatusDuplicate
				created, _, err = tx.AddSubmission(ctx, sub)
				if err != nil {
					return err
				}
				duplicate = true
				_ = active // duplicate is against an existing accepted/submitted row
				return nil
			}
		}

		inserted, dup, err := tx.AddSubmission(ctx, sub)
		if err != nil {
			return err
		}
		created = inserted
		if dup {
			return nil
		}

		nonce := ""
		if j.LeaseNonce != nil {
			nonce = *j.LeaseNonce
		}
		j.Status = job.StatusVerifying
		subID := inserted.ID
		j.CurrentSubmissionID = &subID
		if _, err := tx.UpdateJob(ctx, job.StatusClaimed, &nonce, j); err != nil {
			return err
		}

		payload := map[string]any{"submissionId": inserted.ID, "jobId": j.ID, "attemptNo": 1}
		_, _, err = tx.InsertOutboxEvent(ctx, outbox.Event{
			Topic:          outbox.TopicVerificationRequested,
			IdempotencyKey: "verify:" + inserted.ID,
			Payload:        payload,
		})
		return err
	})
	if err != nil {
		return SubmitResult{}, err
	}

	state := "verifying"
	if duplicate || created.Terminal() {
		state = "done"
	}
	return SubmitResult{Submission: created, State: state, Duplicate: duplicate}, nil
}

func sameSubmissionPayload(existing, attempt submission.Submission) bool {
	a, _ := json.Marshal(existing.Manifest)
	b, _ := json.Marshal(attempt.Manifest)
	return string(a) == string(b)
}

// checkOriginAllowed enforces scheme+host+port exact match after
// normalization, rejecting subdomain/suffix escapes like example.com.evil.
func checkOriginAllowed(finalURL string, allowed []string) error {
	u, err := url.Parse(finalURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperr.BadRequest(apperr.CodeOriginViolation, "finalUrl is not a valid absolute URL")
	}
	target := normalizeOrigin(u)
	for _, a := range allowed {
		au, err := url.Parse(a)
		if err != nil {
			continue
		}
		if normalizeOrigin(au) == target {
			return nil
		}
	}
	return apperr.BadRequest(apperr.CodeOriginViolation, "finalUrl is not within the bounty's allowed origins")
}

func normalizeOrigin(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return strings.ToLower(u.Scheme) + "://" + host + ":" + port
}

// checkArtifacts validates every referenced artifact belongs to the job's
// org, is clean/scanned, and that the descriptor's output_spec is satisfied.
func (e *SubmissionEngine) checkArtifacts(ctx context.Context, orgID string, index []submission.ArtifactIndexEntry, descriptor map[string]any) error {
	counts := map[string]int{}
	for _, entry := range index {
		art, err := e.Store.GetArtifact(ctx, entry.ArtifactID)
		if err != nil {
			return apperr.BadRequest(apperr.CodeInvalidArtifact, "artifact not found")
		}
		if art.OrgID != orgID {
			return apperr.BadRequest(apperr.CodeInvalidArtifact, "artifact does not belong to this org")
		}
		if art.Status == submission.ArtifactBlocked {
			return apperr.BadRequest(apperr.CodeInvalidArtifact, "artifact is blocked")
		}
		if !art.UsableByWorker() {
			return apperr.BadRequest(apperr.CodeInvalidArtifact, "artifact is not yet scanned clean")
		}
		counts[entry.Kind+"|"+entry.Label]++
	}

	outputSpec, _ := descriptor["output_spec"].(map[string]any)
	if outputSpec == nil {
		return nil
	}
	required, _ := outputSpec["required_artifacts"].([]any)
	for _, r := range required {
		spec, _ := r.(map[string]any)
		if spec == nil {
			continue
		}
		kind, _ := spec["kind"].(string)
		wantCount := 1
		if c, ok := spec["count"].(float64); ok {
			wantCount = int(c)
		}
		labelPrefix, _ := spec["label_prefix"].(string)

		got := 0
		for _, entry := range index {
			if entry.Kind == kind && (labelPrefix == "" || strings.HasPrefix(entry.Label, labelPrefix)) {
				got++
			}
		}
		if got < wantCount {
			return apperr.BadRequest(apperr.CodeInvalidArtifact, "required_artifacts not satisfied for kind "+kind)
		}
	}
	return nil
}

func checkBrowserFlowSteps(descriptor map[string]any, steps []string) error {
	taskType, _ := descriptor["task_type"].(string)
	if taskType != "browser_flow" {
		return nil
	}
	if len(steps) > maxBrowserFlowSteps {
		return apperr.BadRequest(apperr.CodeSchema, "reproSteps exceeds the allowed maximum")
	}
	for _, s := range steps {
		if strings.Contains(s, "value_env") || strings.Contains(s, "extract.fn") {
			return apperr.BadRequest(apperr.CodeSchema, "reproSteps may not reference value_env or extract.fn")
		}
	}
	return nil
}

// computeDedupeKey hashes the bounty id with a stably-ordered encoding of
// result.observed, so semantically identical findings collapse regardless
// of submission-time key ordering.
func computeDedupeKey(bountyID string, result map[string]any) string {
	observed, ok := result["observed"]
	if !ok {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(bountyID))
	h.Write([]byte("|"))
	h.Write([]byte(canonicalJSON(observed)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalJSON(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(canonicalJSON(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalJSON(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

// verifyOriginVerified confirms every entry of allowedOrigins is a verified,
// non-blocked origin for the org — enforced at bounty creation time.
func verifyOriginVerified(ctx context.Context, s storage.Store, orgID string, allowedOrigins []string) error {
	verified, err := s.ListVerifiedOrigins(ctx, orgID)
	if err != nil {
		return err
	}
	verifiedSet := map[string]struct{}{}
	for _, o := range verified {
		if o.Status == org.OriginVerified {
			verifiedSet[o.OriginURL] = struct{}{}
		}
	}
	for _, ao := range allowedOrigins {
		if _, ok := verifiedSet[ao]; !ok {
			return apperr.BadRequest(apperr.CodeOriginViolation, "allowed_origins entry is not a verified origin: "+ao)
		}
		host := hostOf(ao)
		if host != "" {
			blocked, err := s.IsBlockedDomain(ctx, host)
			if err != nil {
				return err
			}
			if blocked {
				return apperr.BadRequest(apperr.CodeBlockedDomain, "allowed_origins entry is a blocked domain: "+ao)
			}
		}
	}
	return nil
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
