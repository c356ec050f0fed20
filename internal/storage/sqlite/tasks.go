package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) CreateTaskExecution(ctx context.Context, t *model.TaskExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_executions
			(id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
			 started_at, completed_at, retry_at, last_error, error_details,
			 recovery_attempts, last_recovery_at, trigger_rules, task_configuration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.PipelineExecution.String(), t.TaskName, string(t.Status), string(t.SubStatus),
		t.Attempt, t.MaxAttempts, formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt), formatTimePtr(t.RetryAt),
		t.LastError, t.ErrorDetails, t.RecoveryAttempts, formatTimePtr(t.LastRecoveryAt),
		t.TriggerRules, t.TaskConfiguration, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return storage.NewError(storage.KindInternal, "create task execution", err)
	}
	return nil
}

const taskSelectCols = `
	id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
	started_at, completed_at, retry_at, last_error, error_details,
	recovery_attempts, last_recovery_at, trigger_rules, task_configuration, created_at, updated_at`

func scanTask(scan func(...any) error) (*model.TaskExecution, error) {
	var (
		t                                                 model.TaskExecution
		idStr, pipeIDStr                                  string
		status, subStatus                                 string
		startedAt, completedAt, retryAt, lastRecoveryAt    sql.NullString
		createdAt, updatedAt                               string
	)
	err := scan(&idStr, &pipeIDStr, &t.TaskName, &status, &subStatus, &t.Attempt, &t.MaxAttempts,
		&startedAt, &completedAt, &retryAt, &t.LastError, &t.ErrorDetails,
		&t.RecoveryAttempts, &lastRecoveryAt, &t.TriggerRules, &t.TaskConfiguration, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.ID, _ = model.ParseID(idStr)
	t.PipelineExecution, _ = model.ParseID(pipeIDStr)
	t.Status = model.TaskExecStatus(status)
	t.SubStatus = model.TaskSubStatus(subStatus)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	t.RetryAt = parseTimePtr(retryAt)
	t.LastRecoveryAt = parseTimePtr(lastRecoveryAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (s *Store) GetTaskExecution(ctx context.Context, id model.ID) (*model.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskSelectCols+" FROM task_executions WHERE id = ?", id.String())
	t, err := scanTask(row.Scan)
	if err != nil {
		return nil, wrapNotFound("get task execution", err)
	}
	return t, nil
}

func (s *Store) ListTaskExecutionsByPipeline(ctx context.Context, pipelineID model.ID) ([]*model.TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskSelectCols+" FROM task_executions WHERE pipeline_execution_id = ?", pipelineID.String())
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "list task executions", err)
	}
	defer rows.Close()
	var out []*model.TaskExecution
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan task execution", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus applies a targeted update to one task row and, when
// EmitOutbox is set, inserts the TaskOutbox row in the same transaction
// (§4.4's "Ready transition emits an outbox row in the same transaction").
func (s *Store) UpdateTaskStatus(ctx context.Context, id model.ID, u storage.TaskStatusUpdate) error {
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		now := formatTime(model.Now())
		_, err := conn.ExecContext(ctx, `
			UPDATE task_executions SET
				status = ?,
				sub_status = COALESCE(?, sub_status),
				attempt = COALESCE(?, attempt),
				started_at = ?,
				completed_at = ?,
				retry_at = ?,
				last_error = COALESCE(?, last_error),
				error_details = COALESCE(?, error_details),
				recovery_attempts = COALESCE(?, recovery_attempts),
				last_recovery_at = ?,
				updated_at = ?
			WHERE id = ?`,
			string(u.Status),
			subStatusArg(u.SubStatus),
			intPtrArg(u.Attempt),
			formatTimePtr(u.StartedAt),
			formatTimePtr(u.CompletedAt),
			formatTimePtr(u.RetryAt),
			nullableString(u.LastError),
			nullableString(u.ErrorDetails),
			intPtrArg(u.RecoveryAttempts),
			formatTimePtr(u.LastRecoveryAt),
			now,
			id.String())
		if err != nil {
			return err
		}
		if u.EmitOutbox {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO task_outbox (task_execution_id, created_at) VALUES (?, ?)
				ON CONFLICT(task_execution_id) DO UPDATE SET created_at = excluded.created_at`,
				id.String(), now); err != nil {
				return err
			}
		}
		return nil
	})
}

func subStatusArg(s *model.TaskSubStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func intPtrArg(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

// ClaimReadyTasks implements the claim primitive via a BEGIN IMMEDIATE
// transaction: select candidate rows ordered by id, flip them to Running,
// commit. BEGIN IMMEDIATE acquires SQLite's single writer lock up front,
// so no other connection can interleave a conflicting claim; losers of
// the lock retry with backoff in withImmediateTx.
func (s *Store) ClaimReadyTasks(ctx context.Context, limit int) ([]storage.ClaimedTask, error) {
	var claimed []storage.ClaimedTask
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		claimed = nil
		now := formatTime(model.Now())
		rows, err := conn.QueryContext(ctx, `
			SELECT id, pipeline_execution_id, task_name, attempt FROM task_executions
			WHERE status = 'ready' AND (retry_at IS NULL OR retry_at <= ?)
			ORDER BY id ASC LIMIT ?`, now, limit)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var c storage.ClaimedTask
			var idStr, pipeIDStr string
			if err := rows.Scan(&idStr, &pipeIDStr, &c.TaskName, &c.Attempt); err != nil {
				rows.Close()
				return err
			}
			c.ID, _ = model.ParseID(idStr)
			c.PipelineExecutionID, _ = model.ParseID(pipeIDStr)
			claimed = append(claimed, c)
			ids = append(ids, idStr)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for _, idStr := range ids {
			if _, err := conn.ExecContext(ctx, `
				UPDATE task_executions SET status = 'running', started_at = ?, updated_at = ?
				WHERE id = ? AND status = 'ready'`, now, now, idStr); err != nil {
				return err
			}
			if _, err := conn.ExecContext(ctx, `DELETE FROM task_outbox WHERE task_execution_id = ?`, idStr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "claim ready tasks", err)
	}
	return claimed, nil
}

func (s *Store) FindStuckRunning(ctx context.Context, olderThan time.Time) ([]*model.TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskSelectCols+" FROM task_executions WHERE status = 'running' AND started_at IS NOT NULL AND started_at <= ?",
		formatTime(olderThan))
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "find stuck running", err)
	}
	defer rows.Close()
	var out []*model.TaskExecution
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan stuck task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
