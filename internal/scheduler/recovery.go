package scheduler

import (
	"context"
	"fmt"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

// recoveryPass finds tasks stuck in Running beyond the liveness bound and
// either resets them to Ready (incrementing a bounded recovery counter) or
// marks them permanently Abandoned, per §4.4. The claim primitive's row
// locking is what prevents this from racing an executor's own claim of
// the same row (§4.4: "Recovery must not race with executor claim").
func (s *Scheduler) recoveryPass(ctx context.Context) error {
	cutoff := model.Now().Add(-s.cfg.LivenessBound)
	stuck, err := s.store.FindStuckRunning(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, t := range stuck {
		if err := s.recoverOne(ctx, t); err != nil {
			s.logger.Error("recovery reset failed", "task_execution_id", t.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) recoverOne(ctx context.Context, t *model.TaskExecution) error {
	if t.RecoveryAttempts < s.cfg.MaxRecoveryAttempts {
		attempts := t.RecoveryAttempts + 1
		now := model.Now()
		update := storage.TaskStatusUpdate{
			Status:           model.TaskReady,
			StartedAt:        nil, // cleared
			RecoveryAttempts: &attempts,
			LastRecoveryAt:   &now,
			EmitOutbox:       true,
		}
		if err := s.store.UpdateTaskStatus(ctx, t.ID, update); err != nil {
			return err
		}
		if s.recoveryResets != nil {
			s.recoveryResets.Add(ctx, 1)
		}
		s.emitEvent(ctx, &t.PipelineExecution, &t.ID, model.EventTaskReset, map[string]any{"recovery_attempts": attempts})
		return nil
	}

	reason := fmt.Sprintf("ABANDONED: exceeded max_recovery_attempts (%d) while stuck in Running", s.cfg.MaxRecoveryAttempts)
	completed := model.Now()
	update := storage.TaskStatusUpdate{
		Status:       model.TaskFailed,
		ErrorDetails: &reason,
		CompletedAt:  &completed,
	}
	if err := s.store.UpdateTaskStatus(ctx, t.ID, update); err != nil {
		return err
	}
	s.emitEvent(ctx, &t.PipelineExecution, &t.ID, model.EventTaskAbandoned, map[string]any{"error_details": reason})
	return nil
}
