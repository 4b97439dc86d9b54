package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
	"github.com/lib/pq"
)

// InsertOutboxEvent is idempotent per (topic, idempotency_key) while the row
// is still live (not sent or deadlettered); a repeat insert collapses to the
// existing row instead of producing a duplicate side effect.
func (s *Store) InsertOutboxEvent(ctx context.Context, e outbox.Event) (outbox.Event, bool, error) {
	if e.ID == "" {
		e.ID = newID(idgen.OutboxEvent)
	}
	if e.Status == "" {
		e.Status = outbox.StatusPending
	}
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return outbox.Event{}, false, apperr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, topic, idempotency_key, payload, status, attempts, available_at, created_at)
		VALUES ($1,$2,$3,$4,$5,0,now(),now())`,
		e.ID, e.Topic, toNullString(e.IdempotencyKey), payload, e.Status)
	if err != nil {
		if isUniqueViolation(err) && e.IdempotencyKey != "" {
			if existing, found, ferr := s.getOutboxByIdempotencyKey(ctx, e.Topic, e.IdempotencyKey); ferr == nil && found {
				return existing, false, nil
			}
		}
		return outbox.Event{}, false, apperr.Internal(err)
	}
	created, err := s.getOutboxEvent(ctx, e.ID)
	return created, err == nil, err
}

const outboxSelectColumns = `id, topic, idempotency_key, payload, status, attempts, available_at, locked_at,
	locked_by, last_error, created_at, sent_at`

func (s *Store) getOutboxEvent(ctx context.Context, id string) (outbox.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxSelectColumns+` FROM outbox_events WHERE id = $1`, id)
	return scanOutboxEvent(row)
}

func (s *Store) getOutboxByIdempotencyKey(ctx context.Context, topic, key string) (outbox.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+outboxSelectColumns+` FROM outbox_events WHERE topic = $1 AND idempotency_key = $2
		ORDER BY created_at DESC LIMIT 1`, topic, key)
	e, err := scanOutboxEvent(row)
	if err != nil {
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindNotFound {
			return outbox.Event{}, false, nil
		}
		return outbox.Event{}, false, err
	}
	return e, true, nil
}

func scanOutboxEvent(scanner rowScanner) (outbox.Event, error) {
	var (
		e           outbox.Event
		idempotency sql.NullString
		payload     []byte
		lockedAt    sql.NullTime
		lockedBy    sql.NullString
		lastError   sql.NullString
		created     sql.NullTime
		sentAt      sql.NullTime
	)
	if err := scanner.Scan(&e.ID, &e.Topic, &idempotency, &payload, &e.Status, &e.Attempts, &e.AvailableAt,
		&lockedAt, &lockedBy, &lastError, &created, &sentAt); err != nil {
		if isNoRows(err) {
			return outbox.Event{}, apperr.NotFound("outbox_event")
		}
		return outbox.Event{}, apperr.Internal(err)
	}
	var err error
	if e.Payload, err = unmarshalJSONMap(payload); err != nil {
		return outbox.Event{}, apperr.Internal(err)
	}
	e.IdempotencyKey = fromNullString(idempotency)
	e.AvailableAt = e.AvailableAt.UTC()
	e.LockedAt = fromNullTime(lockedAt)
	e.LockedBy = fromNullString(lockedBy)
	e.LastError = fromNullString(lastError)
	if created.Valid {
		e.CreatedAt = created.Time.UTC()
	}
	e.SentAt = fromNullTime(sentAt)
	return e, nil
}

// ClaimPending locks up to n pending-and-due rows for the given topics using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent processors never claim
// the same row, then marks them processing under lockedBy.
func (s *Store) ClaimPending(ctx context.Context, topics []string, lockedBy string, n int) ([]outbox.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM outbox_events
		WHERE status = $1 AND available_at <= now() AND topic = ANY($2)
		ORDER BY available_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, outbox.StatusPending, pq.Array(topics), n)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperr.Internal(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, locked_at = now(), locked_by = $2, attempts = attempts + 1
		WHERE id = ANY($3)`, outbox.StatusProcessing, lockedBy, pq.Array(ids))
	if err != nil {
		return nil, apperr.Internal(err)
	}

	out := make([]outbox.Event, 0, len(ids))
	for _, id := range ids {
		e, err := s.getOutboxEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, sent_at = now(), locked_at = NULL, locked_by = NULL WHERE id = $2`,
		outbox.StatusSent, id)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id string, nextAvailableAt int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, available_at = $2, locked_at = NULL, locked_by = NULL, last_error = $3
		WHERE id = $4`, outbox.StatusPending, time.Unix(nextAvailableAt, 0).UTC(), lastError, id)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) MarkDeadletter(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET status = $1, locked_at = NULL, locked_by = NULL, last_error = $2 WHERE id = $3`,
		outbox.StatusDeadletter, lastError, id)
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// OldestPendingAgeSeconds reports the age of the oldest pending-and-due
// outbox row, used to drive the backpressure check in the scheduler.
func (s *Store) OldestPendingAgeSeconds(ctx context.Context) (int64, bool, error) {
	var seconds sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (now() - MIN(created_at)))
		FROM outbox_events WHERE status = $1 AND available_at <= now()`, outbox.StatusPending).
		Scan(&seconds)
	if err != nil {
		return 0, false, apperr.Internal(err)
	}
	if !seconds.Valid {
		return 0, false, nil
	}
	return int64(seconds.Float64), true, nil
}
