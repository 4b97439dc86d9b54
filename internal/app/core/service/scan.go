package service

import (
	"context"
	"fmt"

	"github.com/R3E-Network/proofwork/internal/app/domain/submission"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/R3E-Network/proofwork/internal/platform"
)

// ArtifactScanService is the artifact.scan.requested outbox handler: it
// resolves synchronously against a platform.ContentDriver-backed scanner
// and writes the terminal scanned/blocked status. A real deployment only
// needs to swap the driver; this control-plane-only repo never touches
// artifact bytes itself.
type ArtifactScanService struct {
	Store   storage.Store
	Content platform.ContentDriver
}

// ArtifactScanRequested matches the service.Handler signature so it can be
// registered directly against an OutboxProcessor.
func (s *ArtifactScanService) ArtifactScanRequested(ctx context.Context, payload map[string]any) error {
	artifactID, _ := payload["artifactId"].(string)
	if artifactID == "" {
		return &TerminalError{Err: fmt.Errorf("scan: payload missing artifactId")}
	}
	expectedSHA256, _ := payload["sha256"].(string)

	art, err := s.Store.GetArtifact(ctx, artifactID)
	if err != nil {
		return &TerminalError{Err: fmt.Errorf("scan: artifact %s not found: %w", artifactID, err)}
	}

	if s.Content == nil {
		return fmt.Errorf("scan: content driver not configured")
	}
	if err := s.Content.Ping(ctx); err != nil {
		return fmt.Errorf("scan: scanner unreachable: %w", err)
	}
	meta, err := s.Content.GetMetadata(ctx, art.StorageKey)
	if err != nil {
		return fmt.Errorf("scan: fetch metadata: %w", err)
	}
	if meta == nil {
		// Object hasn't finished landing in the blob store yet; retry later.
		return fmt.Errorf("scan: object %s not yet visible in blob store", art.StorageKey)
	}
	if !meta.ScanDone {
		return fmt.Errorf("scan: scan still in progress for %s", art.StorageKey)
	}

	blocked := meta.Blocked
	if expectedSHA256 != "" && meta.SHA256 != "" && expectedSHA256 != meta.SHA256 {
		blocked = true
	}

	if blocked {
		return s.Store.UpdateArtifactStatus(ctx, art.ID, submission.ArtifactBlocked, submission.BucketQuarantine)
	}
	return s.Store.UpdateArtifactStatus(ctx, art.ID, submission.ArtifactScanned, submission.BucketClean)
}
