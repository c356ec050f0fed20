package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) CreateContext(ctx context.Context, c *model.Context) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO contexts (id, data, created_at) VALUES ($1, $2, $3)`, c.ID, c.Data, c.CreatedAt)
	if err != nil {
		return storage.NewError(storage.KindInternal, "create context", err)
	}
	return nil
}

func (s *Store) GetContext(ctx context.Context, id model.ID) (*model.Context, error) {
	var c model.Context
	row := s.pool.QueryRow(ctx, `SELECT id, data, created_at FROM contexts WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.Data, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.NewError(storage.KindNotFound, "get context", err)
		}
		return nil, storage.NewError(storage.KindInternal, "get context", err)
	}
	return &c, nil
}

func (s *Store) GetContextIDsForTasks(ctx context.Context, taskExecIDs []model.ID) (map[model.ID]model.ID, error) {
	out := make(map[model.ID]model.ID, len(taskExecIDs))
	if len(taskExecIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, context_id FROM task_executions WHERE id = ANY($1) AND context_id IS NOT NULL`, taskExecIDs)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "get context ids for tasks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, ctxID model.ID
		if err := rows.Scan(&taskID, &ctxID); err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan context id", err)
		}
		out[taskID] = ctxID
	}
	return out, rows.Err()
}

func (s *Store) SetTaskContext(ctx context.Context, taskExecID, contextID model.ID) error {
	_, err := s.pool.Exec(ctx, `UPDATE task_executions SET context_id = $1 WHERE id = $2`, contextID, taskExecID)
	if err != nil {
		return storage.NewError(storage.KindInternal, "set task context", err)
	}
	return nil
}
