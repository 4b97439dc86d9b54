package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/authn"
	"github.com/R3E-Network/proofwork/internal/app/core/service"
	"github.com/R3E-Network/proofwork/internal/app/domain/org"
	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
)

type createBountyRequest struct {
	AppID              string         `json:"appId"`
	Description        string         `json:"description"`
	AllowedOrigins     []string       `json:"allowedOrigins"`
	PayoutCents        int64          `json:"payoutCents"`
	RequiredProofs     int            `json:"requiredProofs"`
	FingerprintClasses []string       `json:"fingerprintClasses"`
	TaskDescriptor     map[string]any `json:"taskDescriptor"`
}

// handleBountyCreate creates a draft bounty for the buyer's org.
func (d *Deps) handleBountyCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	var in createBountyRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	b, err := d.Bounties.Create(r.Context(), service.CreateInput{
		OrgID:              p.OrgID,
		AppID:              in.AppID,
		Description:        in.Description,
		AllowedOrigins:     in.AllowedOrigins,
		PayoutCents:        in.PayoutCents,
		RequiredProofs:     in.RequiredProofs,
		FingerprintClasses: in.FingerprintClasses,
		TaskDescriptor:     in.TaskDescriptor,
		CreatedBy:          p.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

// handleBountyPublish reserves budget and materializes jobs.
func (d *Deps) handleBountyPublish(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	bountyID := chi.URLParam(r, "bountyID")
	b, err := d.Bounties.Publish(r.Context(), p.OrgID, bountyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (d *Deps) handleBountyPause(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	bountyID := chi.URLParam(r, "bountyID")
	b, err := d.Bounties.Pause(r.Context(), p.OrgID, bountyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, b)
}

// handleBountyList returns the caller's own bounties; multi-tenant
// isolation is enforced at the Store query level, not by post-filtering.
func (d *Deps) handleBountyList(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	limit, err := parseLimitParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, apperr.BadRequest("schema", err.Error()))
		return
	}
	list, err := d.Store.ListBountiesByOrg(r.Context(), p.OrgID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// handleBountyJobs lists a bounty's materialized jobs, 403 forbidden (never
// 404) when the caller doesn't own it — existence must not leak across org
// boundaries.
func (d *Deps) handleBountyJobs(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	bountyID := chi.URLParam(r, "bountyID")
	b, err := d.Store.GetBounty(r.Context(), bountyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := service.CheckBountyVisibility(b, p.OrgID); err != nil {
		writeError(w, err)
		return
	}
	jobs, err := d.Store.ListJobsByBounty(r.Context(), bountyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, jobs)
}

func parseLimitParam(raw string) (int, error) {
	if raw == "" {
		return service.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.BadRequest("schema", "limit must be a positive integer")
	}
	return service.ClampLimit(n, service.DefaultListLimit, service.MaxListLimit), nil
}

type createOriginRequest struct {
	OriginURL string `json:"originUrl"`
	Method    string `json:"method"`
}

// handleOriginCreate registers a pending origin verification, minting the
// pw_verify_ proof token the buyer must publish via the chosen method.
func (d *Deps) handleOriginCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	var in createOriginRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Method == "" {
		in.Method = org.OriginMethodDNSTXT
	}
	o, err := d.Store.CreateOrigin(r.Context(), org.Origin{
		OrgID:     p.OrgID,
		OriginURL: in.OriginURL,
		Status:    org.OriginPending,
		Method:    in.Method,
		Token:     authn.PrefixOrigin + uuid.NewString(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

// handleOriginVerify checks the proof per the origin's chosen method and
// flips it to verified. Proof delivery (DNS TXT lookup, HTTP file fetch,
// header probe) lives outside the control plane's write path; this
// endpoint only records the operator-confirmed result.
func (d *Deps) handleOriginVerify(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	originID := chi.URLParam(r, "originID")
	o, err := d.Store.GetOrigin(r.Context(), originID)
	if err != nil {
		writeError(w, err)
		return
	}
	if o.OrgID != p.OrgID {
		writeError(w, apperr.Forbidden("forbidden", "origin belongs to a different org"))
		return
	}
	now := nowUTC()
	o.Status = org.OriginVerified
	o.VerifiedAt = &now
	updated, err := d.Store.UpdateOrigin(r.Context(), o)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

type createAppRequest struct {
	Slug     string `json:"slug"`
	TaskType string `json:"taskType"`
}

func (d *Deps) handleAppCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	var in createAppRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	a, err := d.Store.CreateApp(r.Context(), org.App{
		OrgID:    p.OrgID,
		Slug:     in.Slug,
		TaskType: in.TaskType,
		Status:   org.AppActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, a)
}

type presignRequest struct {
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// maxArtifactBytes bounds a single upload; larger requests fail oversize
// before a storage key is even minted.
const maxArtifactBytes = 25 << 20

// handleUploadPresign validates the declared content type/size against the
// org's policy and mints a staging Artifact row plus the storage key the
// caller PUTs bytes to. Core never proxies the bytes themselves (the
// external object store does), so the response carries the key, not a URL.
func (d *Deps) handleUploadPresign(w http.ResponseWriter, r *http.Request) {
	p, _ := authn.FromContext(r.Context())
	var in presignRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.SizeBytes > maxArtifactBytes {
		writeError(w, apperr.BadRequest(apperr.CodeOversize, "artifact exceeds the maximum upload size"))
		return
	}
	for _, blocked := range d.BlockedContentTypes {
		if blocked == in.ContentType {
			writeError(w, apperr.BadRequest(apperr.CodeBlockedContentType, "content type is not accepted"))
			return
		}
	}

	orgID := p.OrgID
	actor := p.UserID
	if p.Kind == authn.KindWorker {
		orgID = "" // workers upload against the org context of the job they hold the lease for; resolved at complete time via the referencing submission
		actor = p.WorkerID
	}
	storageKey := "staging/" + uuid.NewString()
	art, err := d.Store.CreateArtifact(r.Context(), submission.Artifact{
		OrgID:       orgID,
		ContentType: in.ContentType,
		SizeBytes:   in.SizeBytes,
		StorageKey:  storageKey,
		BucketKind:  submission.BucketStaging,
		Status:      submission.ArtifactUploaded,
		UploadedBy:  actor,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"artifactId": art.ID,
		"storageKey": art.StorageKey,
	})
}

type uploadCompleteRequest struct {
	ArtifactID string `json:"artifactId"`
	SHA256     string `json:"sha256"`
}

// handleUploadComplete confirms the PUT finished and enqueues the scan
// request; the artifact stays unusable by a worker submission until the
// scan handler marks it scanned/clean.
func (d *Deps) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var in uploadCompleteRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	art, err := d.Store.GetArtifact(r.Context(), in.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := d.Store.UpdateArtifactStatus(r.Context(), art.ID, submission.ArtifactUploaded, submission.BucketStaging); err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := d.Store.InsertOutboxEvent(r.Context(), outboxArtifactScanEvent(art.ID, in.SHA256)); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
