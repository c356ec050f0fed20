// Package executor atomically claims Ready tasks, assembles their input
// context, runs them under a timeout, and persists the outcome, retrying
// failures under the claimed task's retry policy (§4.5). Grounded on the
// teacher's dag_engine.go executeTask/worker loop (cache-free retry with
// exponential backoff and a bounded worker pool) and cancellation.go's
// semaphore-bounded concurrency tracking, generalized from one in-process
// DAG run to claim-driven dispatch across any number of executor replicas.
package executor

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/fluxion/internal/execctx"
	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/registry"
	"github.com/swarmguard/fluxion/internal/resilience"
	"github.com/swarmguard/fluxion/internal/storage"
	"github.com/swarmguard/fluxion/internal/workflow"
)

// Config tunes one Executor.
type Config struct {
	// MaxConcurrentTasks bounds the semaphore gating claim-and-dispatch.
	MaxConcurrentTasks int
	// TaskTimeout is the wall-clock budget given to one task's execute call.
	TaskTimeout time.Duration
	// PollInterval bounds the wake interval when no push notification arrives.
	PollInterval time.Duration
	// WorkerID identifies this executor instance in audit events.
	WorkerID string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 8
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.WorkerID == "" {
		c.WorkerID = "executor-" + model.NewID().String()[:8]
	}
	return c
}

// WorkflowDependencies exposes just enough of a workflow definition for
// context assembly: a task's dependency list in declared order. Satisfied
// structurally by *scheduler.Workflows.
type WorkflowDependencies interface {
	DependenciesOf(workflowName, taskName string) ([]string, bool)
}

// Executor is the §4.5 component.
type Executor struct {
	store    storage.Store
	registry *registry.Registry
	deps     WorkflowDependencies
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer

	taskDuration metric.Float64Histogram
	taskFailures metric.Int64Counter
	taskRetries  metric.Int64Counter
}

// New constructs an Executor.
func New(store storage.Store, reg *registry.Registry, deps WorkflowDependencies, cfg Config, logger *slog.Logger, meter metric.Meter, tracer trace.Tracer) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		store:    store,
		registry: reg,
		deps:     deps,
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "executor", "worker_id", cfg.WorkerID),
		tracer:   tracer,
	}
	if meter != nil {
		e.taskDuration, _ = meter.Float64Histogram("fluxion_executor_task_duration_seconds")
		e.taskFailures, _ = meter.Int64Counter("fluxion_executor_task_failures_total")
		e.taskRetries, _ = meter.Int64Counter("fluxion_executor_task_retries_total")
	}
	return e
}

// Run drives the claim-and-dispatch loop until ctx is cancelled. Permits
// bound in-flight task handlers to MaxConcurrentTasks; the loop claims at
// most as many tasks as it currently has free permits for, per §4.5.
func (e *Executor) Run(ctx context.Context) error {
	notifyCh, err := e.store.Notify(ctx)
	if err != nil {
		e.logger.Warn("push notifications unavailable, polling only", "error", err)
		notifyCh = nil
	}
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	permits := make(chan struct{}, e.cfg.MaxConcurrentTasks)
	for i := 0; i < e.cfg.MaxConcurrentTasks; i++ {
		permits <- struct{}{}
	}

	for {
		e.claimAndDispatch(ctx, permits)
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

func (e *Executor) claimAndDispatch(ctx context.Context, permits chan struct{}) {
	available := len(permits)
	if available == 0 {
		return
	}
	claimed, err := e.store.ClaimReadyTasks(ctx, available)
	if err != nil {
		e.logger.Error("claim ready tasks failed", "error", err)
		return
	}
	for _, c := range claimed {
		<-permits
		go func(c storage.ClaimedTask) {
			defer func() { permits <- struct{}{} }()
			e.handle(ctx, c)
		}(c)
	}
}

func (e *Executor) handle(ctx context.Context, claimed storage.ClaimedTask) {
	start := time.Now()
	e.emitEvent(ctx, &claimed.PipelineExecutionID, &claimed.ID, model.EventTaskClaimed, nil)

	pipeline, err := e.store.GetPipeline(ctx, claimed.PipelineExecutionID)
	if err != nil {
		e.logger.Error("claimed task's pipeline missing", "task_execution_id", claimed.ID, "error", err)
		return
	}

	input, err := e.assembleContext(ctx, pipeline, claimed)
	if err != nil {
		e.failTask(ctx, claimed, workflow.RetryPolicy{Condition: workflow.RetryNever}, err)
		return
	}

	ctor, err := e.registry.ResolveTask(pipeline.WorkflowName, claimed.TaskName)
	if err != nil {
		e.failTask(ctx, claimed, workflow.RetryPolicy{Condition: workflow.RetryNever}, errTaskNotFound(pipeline.WorkflowName, claimed.TaskName))
		return
	}
	task := ctor()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	scope := execctx.ExecutionScope{
		PipelineExecutionID: claimed.PipelineExecutionID,
		TaskExecutionID:     claimed.ID,
		TaskName:            claimed.TaskName,
	}
	input = execctx.WithScope(input, scope)

	output, execErr := e.runWithTimeout(runCtx, task, input)
	duration := time.Since(start)
	if e.taskDuration != nil {
		e.taskDuration.Record(ctx, duration.Seconds())
	}

	if execErr == nil {
		e.completeTask(ctx, claimed, output)
		return
	}
	if e.taskFailures != nil {
		e.taskFailures.Add(ctx, 1)
	}
	e.failTask(ctx, claimed, task.RetryPolicy, execErr)
}

func (e *Executor) runWithTimeout(ctx context.Context, task workflow.Task, input map[string]any) (map[string]any, error) {
	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := task.Execute(ctx, input)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, errTimeout(task.ID)
	}
}

// assembleContext builds the task's input context per §4.5: the pipeline's
// initial context if the task has no dependencies, otherwise the merged
// output of its dependencies' contexts.
func (e *Executor) assembleContext(ctx context.Context, pipeline *model.PipelineExecution, claimed storage.ClaimedTask) (map[string]any, error) {
	depNames, _ := e.deps.DependenciesOf(pipeline.WorkflowName, claimed.TaskName)
	if len(depNames) == 0 {
		c, err := e.store.GetContext(ctx, pipeline.ContextID)
		if err != nil {
			return nil, err
		}
		return c.Data, nil
	}

	all, err := e.store.ListTaskExecutionsByPipeline(ctx, claimed.PipelineExecutionID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*model.TaskExecution, len(all))
	for _, t := range all {
		byName[t.TaskName] = t
	}
	var depIDs []model.ID
	depTaskExecByName := make(map[string]model.ID)
	for _, dep := range depNames {
		if t, ok := byName[dep]; ok {
			depIDs = append(depIDs, t.ID)
			depTaskExecByName[dep] = t.ID
		}
	}
	ctxIDs, err := e.store.GetContextIDsForTasks(ctx, depIDs)
	if err != nil {
		return nil, err
	}
	byDep := make(map[string]map[string]any, len(depNames))
	for dep, teID := range depTaskExecByName {
		ctxID, ok := ctxIDs[teID]
		if !ok {
			continue
		}
		c, err := e.store.GetContext(ctx, ctxID)
		if err != nil {
			continue
		}
		byDep[dep] = c.Data
	}
	return execctx.Merge(depNames, byDep), nil
}

func (e *Executor) completeTask(ctx context.Context, claimed storage.ClaimedTask, output map[string]any) {
	newCtx := &model.Context{ID: model.NewID(), Data: execctx.StripScope(output), CreatedAt: model.Now()}
	if err := e.store.CreateContext(ctx, newCtx); err != nil {
		e.logger.Error("persist output context failed", "task_execution_id", claimed.ID, "error", err)
		return
	}
	if err := e.store.SetTaskContext(ctx, claimed.ID, newCtx.ID); err != nil {
		e.logger.Error("set task context failed", "task_execution_id", claimed.ID, "error", err)
	}
	now := model.Now()
	if err := e.store.UpdateTaskStatus(ctx, claimed.ID, storage.TaskStatusUpdate{Status: model.TaskCompleted, CompletedAt: &now}); err != nil {
		e.logger.Error("update task status to completed failed", "task_execution_id", claimed.ID, "error", err)
		return
	}
	e.emitEvent(ctx, &claimed.PipelineExecutionID, &claimed.ID, model.EventTaskCompleted, nil)
}

func (e *Executor) failTask(ctx context.Context, claimed storage.ClaimedTask, policy workflow.RetryPolicy, taskErr error) {
	msg := taskErr.Error()
	if execErr, ok := taskErr.(*Error); ok && execErr.Kind() == KindTaskNotFound {
		now := model.Now()
		_ = e.store.UpdateTaskStatus(ctx, claimed.ID, storage.TaskStatusUpdate{Status: model.TaskFailed, LastError: &msg, CompletedAt: &now})
		e.emitEvent(ctx, &claimed.PipelineExecutionID, &claimed.ID, model.EventTaskFailed, map[string]any{"error": msg})
		return
	}

	canRetry := claimed.Attempt < maxAttemptsFallback(policy) && policy.ShouldRetry(taskErr)
	if canRetry {
		nextAttempt := claimed.Attempt + 1
		retryAt := model.Now().Add(applyJitter(policy, claimed.Attempt))
		if e.taskRetries != nil {
			e.taskRetries.Add(ctx, 1)
		}
		update := storage.TaskStatusUpdate{
			Status:    model.TaskReady,
			Attempt:   &nextAttempt,
			StartedAt: nil,
			RetryAt:   &retryAt,
			LastError: &msg,
			EmitOutbox: true,
		}
		if err := e.store.UpdateTaskStatus(ctx, claimed.ID, update); err != nil {
			e.logger.Error("schedule retry failed", "task_execution_id", claimed.ID, "error", err)
			return
		}
		e.emitEvent(ctx, &claimed.PipelineExecutionID, &claimed.ID, model.EventTaskRetryScheduled, map[string]any{"error": msg, "attempt": nextAttempt})
		return
	}

	now := model.Now()
	if err := e.store.UpdateTaskStatus(ctx, claimed.ID, storage.TaskStatusUpdate{Status: model.TaskFailed, LastError: &msg, CompletedAt: &now}); err != nil {
		e.logger.Error("update task status to failed failed", "task_execution_id", claimed.ID, "error", err)
		return
	}
	e.emitEvent(ctx, &claimed.PipelineExecutionID, &claimed.ID, model.EventTaskFailed, map[string]any{"error": msg})
}

// maxAttemptsFallback returns policy.MaxAttempts or the spec default of 3
// when the task was constructed without an explicit policy.
func maxAttemptsFallback(policy workflow.RetryPolicy) int {
	if policy.MaxAttempts > 0 {
		return policy.MaxAttempts
	}
	return workflow.DefaultRetryPolicy().MaxAttempts
}

func applyJitter(policy workflow.RetryPolicy, attempt int) time.Duration {
	d := policy.Delay(attempt)
	if d <= 0 {
		d = time.Second
	}
	if !policy.Jitter {
		return d
	}
	return resilience.FullJitter(d)
}

func (e *Executor) emitEvent(ctx context.Context, pipelineID, taskID *model.ID, eventType string, data map[string]any) {
	ev := &model.ExecutionEvent{
		ID:                  model.NewID(),
		PipelineExecutionID: pipelineID,
		TaskExecutionID:     taskID,
		EventType:           eventType,
		EventData:           data,
		WorkerID:            e.cfg.WorkerID,
		CreatedAt:           model.Now(),
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to append execution event", "event_type", eventType, "error", err)
	}
}
