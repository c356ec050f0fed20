// Package scheduler advances task state machines based on dependency
// satisfaction and trigger rules, and runs the recovery pass that resets
// abandoned Running tasks (§4.4). It is a single logical agent: multiple
// replicas may run the loop concurrently, coordination comes entirely from
// the storage contract's claim/update primitives, not leader election.
//
// Grounded on the teacher's scheduler.go (services/orchestrator), which
// wraps a *cron.Cron and a *WorkflowStore behind a polling/push loop; this
// package keeps that loop shape but replaces cron-triggered workflow runs
// with the spec's dependency-driven state machine (cron itself moves to
// internal/triggers as an external adapter, per the spec's Non-goals).
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/fluxion/internal/execctx"
	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
	"github.com/swarmguard/fluxion/internal/workflow"
)

// Config tunes the scheduler's loop.
type Config struct {
	// PollInterval bounds how often the loop re-evaluates pipelines when
	// no push notification has arrived. Default ~100ms per §4.4.
	PollInterval time.Duration
	// LivenessBound is how long a task may sit in Running before the
	// recovery pass considers it stuck. Default a few minutes.
	LivenessBound time.Duration
	// MaxRecoveryAttempts bounds how many times a stuck task is reset to
	// Ready before being permanently Abandoned. Default 3.
	MaxRecoveryAttempts int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.LivenessBound <= 0 {
		c.LivenessBound = 5 * time.Minute
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = 3
	}
	return c
}

// Scheduler is the core §4.4 component.
type Scheduler struct {
	store     storage.Store
	workflows WorkflowSource
	cfg       Config
	logger    *slog.Logger

	recoveryResets metric.Int64Counter
}

// New constructs a Scheduler over store, resolving workflow definitions
// through workflows.
func New(store storage.Store, workflows WorkflowSource, cfg Config, logger *slog.Logger, meter metric.Meter) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	var recoveryResets metric.Int64Counter
	if meter != nil {
		recoveryResets, _ = meter.Int64Counter("fluxion_scheduler_recovery_resets_total")
	}
	return &Scheduler{
		store:          store,
		workflows:      workflows,
		cfg:            cfg.withDefaults(),
		logger:         logger.With("component", "scheduler"),
		recoveryResets: recoveryResets,
	}
}

// ScheduleWorkflow creates a new PipelineExecution(Pending) and one
// TaskExecution(NotStarted) per task, per §4.4's public contract.
func (s *Scheduler) ScheduleWorkflow(ctx context.Context, name string, initialContext map[string]any) (model.ID, error) {
	wf, ok := s.workflows.Get(name)
	if !ok {
		return model.NilID, errUnknownWorkflow(name)
	}
	if err := wf.Validate(); err != nil {
		return model.NilID, err
	}

	now := model.Now()
	pipelineID := model.NewID()

	initCtx := &model.Context{ID: model.NewID(), Data: initialContext, CreatedAt: now}
	if initCtx.Data == nil {
		initCtx.Data = map[string]any{}
	}
	if err := s.store.CreateContext(ctx, initCtx); err != nil {
		return model.NilID, err
	}

	pipeline := &model.PipelineExecution{
		ID:              pipelineID,
		WorkflowName:    wf.Name,
		WorkflowVersion: wf.Version(),
		Status:          model.PipelinePending,
		ContextID:       initCtx.ID,
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePipeline(ctx, pipeline); err != nil {
		return model.NilID, err
	}

	for _, id := range wf.TaskIDs() {
		task, _ := wf.Task(id)
		rulesJSON, err := json.Marshal(task.TriggerRules)
		if err != nil {
			return model.NilID, err
		}
		te := &model.TaskExecution{
			ID:                model.NewID(),
			PipelineExecution: pipelineID,
			TaskName:          id,
			Status:            model.TaskNotStarted,
			Attempt:           1,
			MaxAttempts:       task.RetryPolicy.MaxAttempts,
			TriggerRules:      string(rulesJSON),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if te.MaxAttempts <= 0 {
			te.MaxAttempts = workflow.DefaultRetryPolicy().MaxAttempts
		}
		if err := s.store.CreateTaskExecution(ctx, te); err != nil {
			return model.NilID, err
		}
	}

	if err := s.store.UpdatePipelineStatus(ctx, pipelineID, model.PipelineRunning, "", nil); err != nil {
		return model.NilID, err
	}
	s.emitEvent(ctx, &pipelineID, nil, model.EventPipelineStarted, map[string]any{"workflow": wf.Name})
	return pipelineID, nil
}

// Cancel best-effort transitions a pipeline to Cancelled and any
// non-terminal task rows to Skipped("cancelled"), per §4.4/§5.
func (s *Scheduler) Cancel(ctx context.Context, pipelineID model.ID) error {
	pipeline, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return errNotFound(pipelineID.String())
	}
	tasks, err := s.store.ListTaskExecutionsByPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		if t.Status == model.TaskRunning {
			// In-flight executions are not interrupted (§5); they still
			// write their outcome, the pipeline transitions on its own.
			continue
		}
		errDetails := "cancelled"
		if err := s.store.UpdateTaskStatus(ctx, t.ID, storage.TaskStatusUpdate{Status: model.TaskSkipped, ErrorDetails: &errDetails}); err != nil {
			return err
		}
		s.emitEvent(ctx, &pipelineID, &t.ID, model.EventTaskSkipped, map[string]any{"reason": "cancelled"})
	}
	if pipeline.Status == model.PipelineCompleted || pipeline.Status == model.PipelineFailed {
		return nil
	}
	if err := s.store.UpdatePipelineStatus(ctx, pipelineID, model.PipelineCancelled, "", nil); err != nil {
		return err
	}
	s.emitEvent(ctx, &pipelineID, nil, model.EventPipelineCancelled, nil)
	return nil
}

// StatusResult is the return shape of Status.
type StatusResult struct {
	Pipeline *model.PipelineExecution
	Tasks    []*model.TaskExecution
}

// Status returns the current pipeline status and all task-row statuses.
func (s *Scheduler) Status(ctx context.Context, pipelineID model.ID) (StatusResult, error) {
	pipeline, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return StatusResult{}, errNotFound(pipelineID.String())
	}
	tasks, err := s.store.ListTaskExecutionsByPipeline(ctx, pipelineID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Pipeline: pipeline, Tasks: tasks}, nil
}

// Run drives the scheduling loop until ctx is cancelled, waking on push
// notifications when the backend supports them and otherwise polling
// every PollInterval — the scheduler behaves identically either way.
func (s *Scheduler) Run(ctx context.Context) error {
	notifyCh, err := s.store.Notify(ctx)
	if err != nil {
		s.logger.Warn("push notifications unavailable, polling only", "error", err)
		notifyCh = nil
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil {
			s.logger.Error("scheduling tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-notifyCh:
			if !ok {
				notifyCh = nil
			}
		}
	}
}

// tick runs one pass of the scheduling loop's four steps (§4.4).
func (s *Scheduler) tick(ctx context.Context) error {
	pipelines, err := s.store.ListNonTerminalPipelines(ctx)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		if err := s.evaluatePipeline(ctx, p); err != nil {
			s.logger.Error("evaluate pipeline failed", "pipeline_id", p.ID, "error", err)
		}
	}
	return s.recoveryPass(ctx)
}

func (s *Scheduler) evaluatePipeline(ctx context.Context, p *model.PipelineExecution) error {
	tasks, err := s.store.ListTaskExecutionsByPipeline(ctx, p.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]*model.TaskExecution, len(tasks))
	for _, t := range tasks {
		byName[t.TaskName] = t
	}

	wf, hasWF := s.workflows.Get(p.WorkflowName)

	for _, t := range tasks {
		if t.Status != model.TaskNotStarted {
			continue
		}
		var deps []string
		if hasWF {
			deps = wf.DependenciesOf(t.TaskName)
		}

		allTerminal := true
		statuses := make(map[string]depStatus, len(deps))
		anyFailedOrSkipped := false
		allCompleted := true
		depContexts := make(map[string]map[string]any, len(deps))
		var depTaskExecIDs []model.ID
		depTaskExecByName := make(map[string]model.ID)
		for _, dep := range deps {
			dt, ok := byName[dep]
			if !ok || !dt.Status.Terminal() {
				allTerminal = false
				continue
			}
			statuses[dep] = depStatus{status: dt.Status}
			if dt.Status != model.TaskCompleted {
				allCompleted = false
			}
			if dt.Status == model.TaskFailed || dt.Status == model.TaskSkipped {
				anyFailedOrSkipped = true
			}
			depTaskExecIDs = append(depTaskExecIDs, dt.ID)
			depTaskExecByName[dep] = dt.ID
		}
		if !allTerminal {
			continue // rules evaluate only once every dependency is terminal
		}

		if len(depTaskExecIDs) > 0 {
			ctxIDs, err := s.store.GetContextIDsForTasks(ctx, depTaskExecIDs)
			if err != nil {
				return err
			}
			for dep, teID := range depTaskExecByName {
				ctxID, ok := ctxIDs[teID]
				if !ok {
					continue
				}
				c, err := s.store.GetContext(ctx, ctxID)
				if err != nil {
					continue
				}
				depContexts[dep] = c.Data
			}
		}
		merged := execctx.Merge(deps, depContexts)

		var rule workflow.TriggerRule
		if t.TriggerRules != "" {
			_ = json.Unmarshal([]byte(t.TriggerRules), &rule)
		}
		if !evaluateRule(rule, statuses, merged) {
			if err := s.markSkipped(ctx, p.ID, t, "trigger rules not satisfied"); err != nil {
				return err
			}
			continue
		}

		// A non-trivial rule (anything but the default Always) explicitly
		// permits running on this dependency mix, including a failed or
		// skipped one (§4.4: task_failed/task_skipped/any/none branches
		// exist precisely to run error handlers). Only the trivial,
		// always-true default falls back to skipping on a failed/skipped
		// dependency.
		explicitRule := rule.Kind != workflow.RuleAlways && rule.Kind != ""
		if allCompleted || explicitRule {
			if err := s.markReady(ctx, p.ID, t); err != nil {
				return err
			}
			continue
		}
		if anyFailedOrSkipped {
			if err := s.markSkipped(ctx, p.ID, t, "upstream dependency failed or skipped"); err != nil {
				return err
			}
		}
	}

	return s.maybeFinalizePipeline(ctx, p.ID)
}

func (s *Scheduler) markReady(ctx context.Context, pipelineID model.ID, t *model.TaskExecution) error {
	if err := s.store.UpdateTaskStatus(ctx, t.ID, storage.TaskStatusUpdate{Status: model.TaskReady, EmitOutbox: true}); err != nil {
		return err
	}
	s.emitEvent(ctx, &pipelineID, &t.ID, model.EventTaskMarkedReady, nil)
	return nil
}

func (s *Scheduler) markSkipped(ctx context.Context, pipelineID model.ID, t *model.TaskExecution, reason string) error {
	if err := s.store.UpdateTaskStatus(ctx, t.ID, storage.TaskStatusUpdate{Status: model.TaskSkipped, ErrorDetails: &reason}); err != nil {
		return err
	}
	s.emitEvent(ctx, &pipelineID, &t.ID, model.EventTaskSkipped, map[string]any{"reason": reason})
	return nil
}

// maybeFinalizePipeline sets the pipeline to Completed/Failed once every
// task row is terminal (§4.4 step 3).
func (s *Scheduler) maybeFinalizePipeline(ctx context.Context, pipelineID model.ID) error {
	tasks, err := s.store.ListTaskExecutionsByPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}
	var failing []string
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return nil
		}
		if t.Status == model.TaskFailed {
			failing = append(failing, t.TaskName)
		}
	}
	now := model.Now()
	if len(failing) == 0 {
		if err := s.store.UpdatePipelineStatus(ctx, pipelineID, model.PipelineCompleted, "", &now); err != nil {
			return err
		}
		s.emitEvent(ctx, &pipelineID, nil, model.EventPipelineCompleted, nil)
		return nil
	}
	details := "failed tasks: " + joinNames(failing)
	if err := s.store.UpdatePipelineStatus(ctx, pipelineID, model.PipelineFailed, details, &now); err != nil {
		return err
	}
	s.emitEvent(ctx, &pipelineID, nil, model.EventPipelineFailed, map[string]any{"failing_tasks": failing})
	return nil
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func (s *Scheduler) emitEvent(ctx context.Context, pipelineID, taskID *model.ID, eventType string, data map[string]any) {
	e := &model.ExecutionEvent{
		ID:                  model.NewID(),
		PipelineExecutionID: pipelineID,
		TaskExecutionID:     taskID,
		EventType:           eventType,
		EventData:           data,
		CreatedAt:           model.Now(),
	}
	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.logger.Warn("failed to append execution event", "event_type", eventType, "error", err)
	}
}
