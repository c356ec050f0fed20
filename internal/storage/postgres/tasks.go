package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) CreateTaskExecution(ctx context.Context, t *model.TaskExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_executions
			(id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
			 started_at, completed_at, retry_at, last_error, error_details,
			 recovery_attempts, last_recovery_at, trigger_rules, task_configuration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.PipelineExecution, t.TaskName, string(t.Status), string(t.SubStatus),
		t.Attempt, t.MaxAttempts, t.StartedAt, t.CompletedAt, t.RetryAt,
		t.LastError, t.ErrorDetails, t.RecoveryAttempts, t.LastRecoveryAt,
		t.TriggerRules, t.TaskConfiguration, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return storage.NewError(storage.KindInternal, "create task execution", err)
	}
	return nil
}

const taskSelectCols = `
	id, pipeline_execution_id, task_name, status, sub_status, attempt, max_attempts,
	started_at, completed_at, retry_at, last_error, error_details,
	recovery_attempts, last_recovery_at, trigger_rules, task_configuration, created_at, updated_at`

func scanTask(row pgx.Row) (*model.TaskExecution, error) {
	var t model.TaskExecution
	var status, subStatus string
	err := row.Scan(&t.ID, &t.PipelineExecution, &t.TaskName, &status, &subStatus, &t.Attempt, &t.MaxAttempts,
		&t.StartedAt, &t.CompletedAt, &t.RetryAt, &t.LastError, &t.ErrorDetails,
		&t.RecoveryAttempts, &t.LastRecoveryAt, &t.TriggerRules, &t.TaskConfiguration, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = model.TaskExecStatus(status)
	t.SubStatus = model.TaskSubStatus(subStatus)
	return &t, nil
}

func (s *Store) GetTaskExecution(ctx context.Context, id model.ID) (*model.TaskExecution, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+taskSelectCols+" FROM task_executions WHERE id = $1", id)
	t, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.NewError(storage.KindNotFound, "get task execution", err)
		}
		return nil, storage.NewError(storage.KindInternal, "get task execution", err)
	}
	return t, nil
}

func (s *Store) ListTaskExecutionsByPipeline(ctx context.Context, pipelineID model.ID) ([]*model.TaskExecution, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+taskSelectCols+" FROM task_executions WHERE pipeline_execution_id = $1", pipelineID)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "list task executions", err)
	}
	defer rows.Close()
	var out []*model.TaskExecution
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan task execution", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id model.ID, u storage.TaskStatusUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.NewError(storage.KindInternal, "begin update task status tx", err)
	}
	defer tx.Rollback(ctx)

	now := model.Now()
	_, err = tx.Exec(ctx, `
		UPDATE task_executions SET
			status = $1,
			sub_status = COALESCE($2, sub_status),
			attempt = COALESCE($3, attempt),
			started_at = $4,
			completed_at = $5,
			retry_at = $6,
			last_error = COALESCE($7, last_error),
			error_details = COALESCE($8, error_details),
			recovery_attempts = COALESCE($9, recovery_attempts),
			last_recovery_at = $10,
			updated_at = $11
		WHERE id = $12`,
		string(u.Status), subStatusArg(u.SubStatus), u.Attempt, u.StartedAt, u.CompletedAt, u.RetryAt,
		u.LastError, u.ErrorDetails, u.RecoveryAttempts, u.LastRecoveryAt, now, id)
	if err != nil {
		return storage.NewError(storage.KindInternal, "update task status", err)
	}

	if u.EmitOutbox {
		if _, err := tx.Exec(ctx, `
			INSERT INTO task_outbox (task_execution_id, created_at) VALUES ($1, $2)
			ON CONFLICT (task_execution_id) DO UPDATE SET created_at = excluded.created_at`, id, now); err != nil {
			return storage.NewError(storage.KindInternal, "insert outbox entry", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.NewError(storage.KindInternal, "commit update task status tx", err)
	}
	return nil
}

func subStatusArg(s *model.TaskSubStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

// ClaimReadyTasks implements the claim primitive via SELECT ... FOR UPDATE
// SKIP LOCKED followed by an UPDATE in the same transaction (option (a) of
// §4.1). Concurrent callers' SKIP LOCKED clauses guarantee disjoint
// result sets without any application-level coordination.
func (s *Store) ClaimReadyTasks(ctx context.Context, limit int) ([]storage.ClaimedTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "begin claim tx", err)
	}
	defer tx.Rollback(ctx)

	now := model.Now()
	rows, err := tx.Query(ctx, `
		SELECT id, pipeline_execution_id, task_name, attempt FROM task_executions
		WHERE status = 'ready' AND (retry_at IS NULL OR retry_at <= $1)
		ORDER BY id ASC LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "select claim candidates", err)
	}
	var claimed []storage.ClaimedTask
	for rows.Next() {
		var c storage.ClaimedTask
		if err := rows.Scan(&c.ID, &c.PipelineExecutionID, &c.TaskName, &c.Attempt); err != nil {
			rows.Close()
			return nil, storage.NewError(storage.KindInternal, "scan claim candidate", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storage.NewError(storage.KindInternal, "iterate claim candidates", err)
	}
	rows.Close()

	for _, c := range claimed {
		if _, err := tx.Exec(ctx, `UPDATE task_executions SET status = 'running', started_at = $1, updated_at = $1 WHERE id = $2`, now, c.ID); err != nil {
			return nil, storage.NewError(storage.KindInternal, "claim task", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM task_outbox WHERE task_execution_id = $1`, c.ID); err != nil {
			return nil, storage.NewError(storage.KindInternal, "delete claimed outbox entry", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storage.NewError(storage.KindInternal, "commit claim tx", err)
	}
	return claimed, nil
}

func (s *Store) FindStuckRunning(ctx context.Context, olderThan time.Time) ([]*model.TaskExecution, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+taskSelectCols+" FROM task_executions WHERE status = 'running' AND started_at IS NOT NULL AND started_at <= $1", olderThan)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "find stuck running", err)
	}
	defer rows.Close()
	var out []*model.TaskExecution
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan stuck task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
