// Package migrations embeds the relational schema and applies it through
// golang-migrate, whose Postgres driver takes a session-level advisory lock
// for the duration of the run — concurrent replicas bootstrapping at once
// converge on exactly one apply per file instead of racing CREATE TABLE
// statements against each other.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Apply runs every embedded migration against db in lexical filename order.
// It is safe to call from any number of concurrent replicas at startup; the
// postgres driver's advisory lock serializes them. ctx is checked only once,
// before the run starts: the migrate library itself is not context-aware, so
// neither the wait for that lock nor a run in progress is cancelled by ctx.
func Apply(ctx context.Context, db *sql.DB) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migrations: open embedded source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations: init postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: init runner: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	return nil
}
