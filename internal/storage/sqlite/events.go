package sqlite

import (
	"context"
	"encoding/json"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

func (s *Store) AppendEvent(ctx context.Context, e *model.ExecutionEvent) error {
	data, err := json.Marshal(e.EventData)
	if err != nil {
		return storage.NewError(storage.KindInternal, "marshal event data", err)
	}
	var pipeID, taskID any
	if e.PipelineExecutionID != nil {
		pipeID = e.PipelineExecutionID.String()
	}
	if e.TaskExecutionID != nil {
		taskID = e.TaskExecutionID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_events (id, pipeline_execution_id, task_execution_id, event_type, event_data, worker_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), pipeID, taskID, e.EventType, string(data), e.WorkerID, formatTime(e.CreatedAt))
	if err != nil {
		return storage.NewError(storage.KindInternal, "append event", err)
	}
	return nil
}
