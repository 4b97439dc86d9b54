// Package admin holds operator-facing types that don't belong to any
// single Org: worker bans, alarm notifications, and the audit trail of
// break-glass actions.
package admin

import "time"

// AlarmNotification is a deduplicated SNS envelope surfaced in the admin
// alarm inbox. Deduped on (TopicArn, SNSMessageID).
type AlarmNotification struct {
	ID            string
	TopicArn      string
	SNSMessageID  string
	Subject       string
	Message       string
	ReceivedAt    time.Time
}

// WorkerBan records that a worker is blocked from claiming jobs.
type WorkerBan struct {
	WorkerID  string
	Reason    string
	BannedBy  string
	BannedAt  time.Time
}

// AuditEntry records a synchronous admin action for traceability.
type AuditEntry struct {
	ID         string
	Actor      string
	Action     string
	Target     string
	Detail     map[string]any
	CreatedAt  time.Time
}
