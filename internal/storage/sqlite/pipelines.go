package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) CreatePipeline(ctx context.Context, p *model.PipelineExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_executions
			(id, workflow_name, workflow_version, status, context_id, started_at, completed_at, error_details, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.WorkflowName, p.WorkflowVersion, string(p.Status), p.ContextID.String(),
		formatTime(p.StartedAt), formatTimePtr(p.CompletedAt), p.ErrorDetails,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return storage.NewError(storage.KindInternal, "create pipeline", err)
	}
	return nil
}

func (s *Store) GetPipeline(ctx context.Context, id model.ID) (*model.PipelineExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_name, workflow_version, status, context_id, started_at, completed_at, error_details, created_at, updated_at
		FROM pipeline_executions WHERE id = ?`, id.String())
	return scanPipeline(row)
}

func scanPipeline(row *sql.Row) (*model.PipelineExecution, error) {
	var (
		p                          model.PipelineExecution
		idStr, ctxIDStr            string
		status                     string
		startedAt, createdAt, updA string
		completedAt                sql.NullString
	)
	err := row.Scan(&idStr, &p.WorkflowName, &p.WorkflowVersion, &status, &ctxIDStr,
		&startedAt, &completedAt, &p.ErrorDetails, &createdAt, &updA)
	if err != nil {
		return nil, wrapNotFound("get pipeline", err)
	}
	p.ID, _ = model.ParseID(idStr)
	p.ContextID, _ = model.ParseID(ctxIDStr)
	p.Status = model.PipelineStatus(status)
	p.StartedAt = parseTime(startedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updA)
	p.CompletedAt = parseTimePtr(completedAt)
	return &p, nil
}

func (s *Store) ListNonTerminalPipelines(ctx context.Context) ([]*model.PipelineExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_name, workflow_version, status, context_id, started_at, completed_at, error_details, created_at, updated_at
		FROM pipeline_executions WHERE status IN ('pending', 'running')`)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "list non-terminal pipelines", err)
	}
	defer rows.Close()

	var out []*model.PipelineExecution
	for rows.Next() {
		var (
			p                          model.PipelineExecution
			idStr, ctxIDStr            string
			status                     string
			startedAt, createdAt, updA string
			completedAt                sql.NullString
		)
		if err := rows.Scan(&idStr, &p.WorkflowName, &p.WorkflowVersion, &status, &ctxIDStr,
			&startedAt, &completedAt, &p.ErrorDetails, &createdAt, &updA); err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan pipeline", err)
		}
		p.ID, _ = model.ParseID(idStr)
		p.ContextID, _ = model.ParseID(ctxIDStr)
		p.Status = model.PipelineStatus(status)
		p.StartedAt = parseTime(startedAt)
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updA)
		p.CompletedAt = parseTimePtr(completedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePipelineStatus(ctx context.Context, id model.ID, status model.PipelineStatus, errorDetails string, completedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_executions SET status = ?, error_details = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), errorDetails, formatTimePtr(completedAt), formatTime(model.Now()), id.String())
	if err != nil {
		return storage.NewError(storage.KindInternal, "update pipeline status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.NewError(storage.KindNotFound, "update pipeline status", nil)
	}
	return nil
}
