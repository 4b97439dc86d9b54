package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/admin"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
)

func (s *Store) BanWorker(ctx context.Context, b admin.WorkerBan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_bans (worker_id, reason, banned_by, banned_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (worker_id) DO UPDATE SET reason = $2, banned_by = $3, banned_at = now()`,
		b.WorkerID, b.Reason, b.BannedBy)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) IsWorkerBanned(ctx context.Context, workerID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM worker_bans WHERE worker_id = $1)`, workerID).Scan(&exists)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return exists, nil
}

// RecordAlarm is idempotent on (TopicArn, SNSMessageID): a duplicate SNS
// delivery is absorbed without producing a second inbox entry.
func (s *Store) RecordAlarm(ctx context.Context, a admin.AlarmNotification) (bool, error) {
	if a.ID == "" {
		a.ID = newID(idgen.Alarm)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarm_notifications (id, topic_arn, sns_message_id, subject, message, received_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (topic_arn, sns_message_id) DO NOTHING`,
		a.ID, a.TopicArn, a.SNSMessageID, a.Subject, a.Message)
	if err != nil {
		return false, apperr.Internal(err)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM alarm_notifications WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
		return false, apperr.Internal(err)
	}
	return exists, nil
}

func (s *Store) ListAlarms(ctx context.Context, limit int) ([]admin.AlarmNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic_arn, sns_message_id, subject, message, received_at
		FROM alarm_notifications ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	defer rows.Close()
	var out []admin.AlarmNotification
	for rows.Next() {
		var (
			a          admin.AlarmNotification
			receivedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.TopicArn, &a.SNSMessageID, &a.Subject, &a.Message, &receivedAt); err != nil {
			return nil, apperr.Internal(err)
		}
		if receivedAt.Valid {
			a.ReceivedAt = receivedAt.Time.UTC()
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) RecordAudit(ctx context.Context, e admin.AuditEntry) error {
	if e.ID == "" {
		e.ID = newID(idgen.Audit)
	}
	detail, err := marshalJSON(e.Detail)
	if err != nil {
		return apperr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor, action, target, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,now())`, e.ID, e.Actor, e.Action, e.Target, detail)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}
