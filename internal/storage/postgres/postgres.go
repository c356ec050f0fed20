// Package postgres implements the §4.1 storage contract on jackc/pgx/v5,
// using SELECT ... FOR UPDATE SKIP LOCKED as the claim primitive's
// lock-or-skip mechanism (option (a) of §4.1) and LISTEN/NOTIFY as the
// push notification channel. Connection construction follows the pattern
// observed in the example pack's db_connection tests: a dedicated
// *pgx.ConnConfig builder plus QueryExecModeDescribeExec (rather than
// QueryExecModeCacheStatement) so cached plans don't go stale across the
// schema migration this package runs on Open.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swarmguard/fluxion/internal/storage"
)

// Store is a Postgres-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewPgxConnConfig builds a pool config pinned to QueryExecModeDescribeExec,
// avoiding the stale-prepared-statement failures that QueryExecModeCacheStatement
// can produce immediately after a DDL migration runs on the same connection.
func NewPgxConnConfig(connString string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres connection string: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	return cfg, nil
}

// Open connects to Postgres and applies the schema migration.
func Open(ctx context.Context, connString string) (*Store, error) {
	cfg, err := NewPgxConnConfig(connString)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "connect postgres", err)
	}
	s := &Store{pool: pool}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, storage.NewError(storage.KindInternal, "migrate schema", err)
	}
	return s, nil
}

// Close releases the connection pool. It never returns an error; the
// signature matches io.Closer for storage.Store's embedding.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Notify listens on the fluxion_task_ready channel and forwards a signal
// per notification, implementing §4.1's LISTEN/NOTIFY-style push option.
func (s *Store) Notify(ctx context.Context) (<-chan struct{}, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "acquire listen connection", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN fluxion_task_ready"); err != nil {
		conn.Release()
		return nil, storage.NewError(storage.KindInternal, "listen fluxion_task_ready", err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer conn.Release()
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				close(ch)
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

var _ storage.Store = (*Store)(nil)
