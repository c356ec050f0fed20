package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) CreatePipeline(ctx context.Context, p *model.PipelineExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_executions
			(id, workflow_name, workflow_version, status, context_id, started_at, completed_at, error_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.WorkflowName, p.WorkflowVersion, string(p.Status), p.ContextID,
		p.StartedAt, p.CompletedAt, p.ErrorDetails, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return storage.NewError(storage.KindInternal, "create pipeline", err)
	}
	return nil
}

func (s *Store) GetPipeline(ctx context.Context, id model.ID) (*model.PipelineExecution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_name, workflow_version, status, context_id, started_at, completed_at, error_details, created_at, updated_at
		FROM pipeline_executions WHERE id = $1`, id)
	var p model.PipelineExecution
	var status string
	if err := row.Scan(&p.ID, &p.WorkflowName, &p.WorkflowVersion, &status, &p.ContextID,
		&p.StartedAt, &p.CompletedAt, &p.ErrorDetails, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.NewError(storage.KindNotFound, "get pipeline", err)
		}
		return nil, storage.NewError(storage.KindInternal, "get pipeline", err)
	}
	p.Status = model.PipelineStatus(status)
	return &p, nil
}

func (s *Store) ListNonTerminalPipelines(ctx context.Context) ([]*model.PipelineExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_name, workflow_version, status, context_id, started_at, completed_at, error_details, created_at, updated_at
		FROM pipeline_executions WHERE status IN ('pending', 'running')`)
	if err != nil {
		return nil, storage.NewError(storage.KindInternal, "list non-terminal pipelines", err)
	}
	defer rows.Close()

	var out []*model.PipelineExecution
	for rows.Next() {
		var p model.PipelineExecution
		var status string
		if err := rows.Scan(&p.ID, &p.WorkflowName, &p.WorkflowVersion, &status, &p.ContextID,
			&p.StartedAt, &p.CompletedAt, &p.ErrorDetails, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, storage.NewError(storage.KindInternal, "scan pipeline", err)
		}
		p.Status = model.PipelineStatus(status)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePipelineStatus(ctx context.Context, id model.ID, status model.PipelineStatus, errorDetails string, completedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_executions SET status = $1, error_details = $2, completed_at = $3, updated_at = $4
		WHERE id = $5`,
		string(status), errorDetails, completedAt, model.Now(), id)
	if err != nil {
		return storage.NewError(storage.KindInternal, "update pipeline status", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NewError(storage.KindNotFound, "update pipeline status", nil)
	}
	return nil
}
