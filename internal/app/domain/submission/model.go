// Package submission models worker-submitted manifests for a Job, their
// artifact references, and the uploaded blobs those artifacts describe.
package submission

import "time"

// Status values. At most one non-duplicate Submission exists per Job.
const (
	StatusSubmitted = "submitted"
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// PayoutStatus mirrors the owning Payout's lifecycle for quick lookups from
// the submission side without a join.
const (
	PayoutStatusNone    = ""
	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
	PayoutStatusFailed  = "failed"
)

// ArtifactIndexEntry references an uploaded Artifact by artifact id plus the
// role it plays in the manifest (kind/label), so the engine can match it
// against a descriptor's output_spec.required_artifacts.
type ArtifactIndexEntry struct {
	ArtifactID string `json:"artifactId"`
	Kind       string `json:"kind"`
	Label      string `json:"label"`
}

// Manifest is the worker-submitted proof of work.
type Manifest struct {
	FinalURL    string         `json:"finalUrl"`
	ReproSteps  []string       `json:"reproSteps,omitempty"`
	Result      map[string]any `json:"result"`
	Worker      string         `json:"worker"`
}

// Submission is a child of Job.
type Submission struct {
	ID             string
	JobID          string
	OrgID          string
	WorkerID       string
	Manifest       Manifest
	ArtifactIndex  []ArtifactIndexEntry
	Status         string
	DedupeKey      string
	IdempotencyKey string
	PayoutStatus   string
	CreatedAt      time.Time
}

func (s Submission) Terminal() bool {
	return s.Status == StatusDuplicate || s.Status == StatusRejected || s.Status == StatusAccepted
}

// Artifact bucket/lifecycle.
const (
	BucketStaging    = "staging"
	BucketClean      = "clean"
	BucketQuarantine = "quarantine"

	ArtifactUploaded = "uploaded"
	ArtifactScanned  = "scanned"
	ArtifactBlocked  = "blocked"
)

// Artifact is a child of Org; Proofwork records only metadata/lifecycle for
// a blob that lives in an external object store.
type Artifact struct {
	ID          string
	OrgID       string
	SHA256      string
	SizeBytes   int64
	ContentType string
	StorageKey  string
	BucketKind  string
	Status      string
	UploadedBy  string
	CreatedAt   time.Time
}

func (a Artifact) UsableByWorker() bool {
	return a.Status == ArtifactScanned && a.BucketKind == BucketClean
}
