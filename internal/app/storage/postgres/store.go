// Package postgres implements storage.Store against PostgreSQL via
// database/sql and lib/pq. It is the only package in the application that
// issues SQL statements.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/apperr"
	"github.com/R3E-Network/proofwork/internal/app/idgen"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	_ "github.com/lib/pq"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every query method
// below run unmodified whether or not it is inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db dbtx
	// root is non-nil only on the top-level (non-transactional) Store, so
	// WithTx knows whether to open a new transaction or reuse the current
	// one (nested WithTx calls do not start a second transaction).
	root *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, root: db}
}

// WithTx runs fn against a Store scoped to a single transaction. Nested
// calls (fn called on an already-transactional Store) reuse the existing
// transaction rather than opening a new one, since Postgres doesn't nest
// transactions.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.root == nil {
		return fn(s)
	}
	tx, err := s.root.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal(err)
	}
	txStore := &Store{db: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func newID(prefix string) string { return idgen.New(prefix) }

func timeNowUTC() time.Time { return time.Now().UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

func toNullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func fromNullString(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSONMap(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalStringSlice(v []string) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalStringSlice(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), used to translate ON CONFLICT races into apperr.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

var errNoRows = errors.New("postgres: no rows")

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
