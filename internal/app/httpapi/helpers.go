package httpapi

import (
	"time"

	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
)

func nowUTC() time.Time { return time.Now().UTC() }

// outboxArtifactScanEvent enqueues the scan handler's input, deduped per
// artifact so a repeat /uploads/complete call never double-queues a scan.
func outboxArtifactScanEvent(artifactID, sha256 string) outbox.Event {
	return outbox.Event{
		Topic:          outbox.TopicArtifactScanRequested,
		IdempotencyKey: "scan:" + artifactID,
		Payload:        map[string]any{"artifactId": artifactID, "sha256": sha256},
	}
}
