package postgres

import (
	"context"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) AppendEvent(ctx context.Context, e *model.ExecutionEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, event_data, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.PipelineExecutionID, e.TaskExecutionID, e.EventType, e.EventData, e.WorkerID, e.CreatedAt)
	if err != nil {
		return storage.NewError(storage.KindInternal, "append event", err)
	}
	return nil
}
