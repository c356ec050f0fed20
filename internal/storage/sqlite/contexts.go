package sqlite

import (
	"context"
	"encoding/json"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) CreateContext(ctx context.Context, c *model.Context) error {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return storage.NewError(storage.KindInternal, "marshal context data", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO contexts (id, data, created_at) VALUES (?, ?, ?)`,
		c.ID.String(), string(data), formatTime(c.CreatedAt))
	if err != nil {
		return storage.NewError(storage.KindInternal, "create context", err)
	}
	return nil
}

func (s *Store) GetContext(ctx context.Context, id model.ID) (*model.Context, error) {
	var (
		idStr, data, createdAt string
	)
	row := s.db.QueryRowContext(ctx, `SELECT id, data, created_at FROM contexts WHERE id = ?`, id.String())
	if err := row.Scan(&idStr, &data, &createdAt); err != nil {
		return nil, wrapNotFound("get context", err)
	}
	var c model.Context
	c.ID, _ = model.ParseID(idStr)
	c.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(data), &c.Data); err != nil {
		return nil, storage.NewError(storage.KindDataCorruption, "unmarshal context data", err)
	}
	return &c, nil
}

// GetContextIDsForTasks reads the context a completed task's output was
// persisted under. Tasks with no completed context (not yet run) are
// simply absent from the result map.
func (s *Store) GetContextIDsForTasks(ctx context.Context, taskExecIDs []model.ID) (map[model.ID]model.ID, error) {
	out := make(map[model.ID]model.ID, len(taskExecIDs))
	if len(taskExecIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(taskExecIDs))
	placeholders := ""
	for i, id := range taskExecIDs {
		args[i] = id.String()
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, context_id FROM task_executions WHERE id IN ("+placeholders+") AND context_id IS NOT NULL", args...)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "get context ids for tasks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idStr, ctxIDStr string
		if err := rows.Scan(&idStr, &ctxIDStr); err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan context id", err)
		}
		taskID, _ := model.ParseID(idStr)
		ctxID, _ := model.ParseID(ctxIDStr)
		out[taskID] = ctxID
	}
	return out, rows.Err()
}

// SetTaskContext associates a completed task execution with its output
// context id. Called by the executor's success-outcome transaction.
func (s *Store) SetTaskContext(ctx context.Context, taskExecID, contextID model.ID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE task_executions SET context_id = ? WHERE id = ?`, contextID.String(), taskExecID.String())
	if err != nil {
		return storage.NewError(storage.KindInternal, "set task context", err)
	}
	return nil
}
