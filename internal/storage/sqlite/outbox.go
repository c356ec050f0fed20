package sqlite

import (
	"context"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) PollOutbox(ctx context.Context, limit int) ([]model.TaskOutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_execution_id, created_at FROM task_outbox ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "poll outbox", err)
	}
	defer rows.Close()
	var out []model.TaskOutboxEntry
	for rows.Next() {
		var idStr, createdAt string
		if err := rows.Scan(&idStr, &createdAt); err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan outbox entry", err)
		}
		id, _ := model.ParseID(idStr)
		out = append(out, model.TaskOutboxEntry{TaskExecutionID: id, CreatedAt: parseTime(createdAt)})
	}
	return out, rows.Err()
}

func (s *Store) DeleteOutboxEntry(ctx context.Context, taskExecutionID model.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_outbox WHERE task_execution_id = ?`, taskExecutionID.String())
	if err != nil {
		return storage.NewError(storage.KindInternal, "delete outbox entry", err)
	}
	return nil
}
