// Package sqlite implements the §4.1 storage contract on top of
// database/sql and mattn/go-sqlite3, using WAL mode and a BEGIN IMMEDIATE
// retry loop as the claim primitive's lock-or-skip mechanism (option (b)
// of §4.1). Grounded on pflow-xyz-go-pflow's examples/catacombs/storage
// package, which opens sqlite3 with the same WAL/synchronous pragmas and
// runs an idempotent migrate() on construction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

// Store is a SQLite-backed storage.Store. It has no push notification
// mechanism; Notify always returns a nil channel so callers fall back to
// polling, which the scheduler and executor must do identically to the
// push path per §4.1.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and applies
// the schema migration.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "open sqlite", err)
	}
	db.SetMaxOpenConns(1) // writer serialization; SQLite allows one writer at a time anyway
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return storage.NewError(storage.KindInternal, "migrate schema", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Notify always returns nil: SQLite has no LISTEN/NOTIFY analogue, so
// callers must poll (§4.1 "the scheduler must function identically on either").
func (s *Store) Notify(ctx context.Context) (<-chan struct{}, error) { return nil, nil }

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	if serr, ok := err.(sqlite3.Error); ok {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// withImmediateTx runs fn inside a BEGIN IMMEDIATE transaction (acquiring
// the write lock up front rather than on first write), retrying a bounded
// number of times on SQLITE_BUSY, matching the "short transaction ...
// accepting serialization aborts as retryable" contract of §4.1(b).
func (s *Store) withImmediateTx(ctx context.Context, fn func(*sql.Conn) error) error {
	const maxRetries = 10
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.attemptImmediateTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return storage.NewError(storage.KindSerialization, "sqlite BEGIN IMMEDIATE retries exhausted", lastErr)
}

func (s *Store) attemptImmediateTx(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return storage.NewError(storage.KindInternal, "acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var _ storage.Store = (*Store)(nil)

func wrapNotFound(kind string, err error) error {
	if err == sql.ErrNoRows {
		return storage.NewError(storage.KindNotFound, kind, err)
	}
	return storage.NewError(storage.KindInternal, kind, err)
}

func internalErr(op string, err error) error {
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
