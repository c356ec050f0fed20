package postgres

import (
	"context"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) PollOutbox(ctx context.Context, limit int) ([]model.TaskOutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT task_execution_id, created_at FROM task_outbox ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "poll outbox", err)
	}
	defer rows.Close()
	var out []model.TaskOutboxEntry
	for rows.Next() {
		var e model.TaskOutboxEntry
		if err := rows.Scan(&e.TaskExecutionID, &e.CreatedAt); err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan outbox entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOutboxEntry(ctx context.Context, taskExecutionID model.ID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM task_outbox WHERE task_execution_id = $1`, taskExecutionID)
	if err != nil {
		return storage.NewError(storage.KindInternal, "delete outbox entry", err)
	}
	return nil
}
