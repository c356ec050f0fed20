package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/registry"
	"github.com/swarmguard/fluxion/internal/storage"
	"github.com/swarmguard/fluxion/internal/storage/sqlite"
	"github.com/swarmguard/fluxion/internal/workflow"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := sqlite.Open(filepath.Join(dir, "fluxion.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeDeps satisfies WorkflowDependencies for a single fixed workflow.
type fakeDeps struct {
	deps map[string][]string
}

func (f fakeDeps) DependenciesOf(workflowName, taskName string) ([]string, bool) {
	d, ok := f.deps[taskName]
	return d, ok
}

// schedulePipeline creates a pipeline + context + one task_execution row
// directly against the store, bypassing the scheduler package (which the
// executor must not import), mirroring what scheduler.ScheduleWorkflow
// would have written.
func schedulePipeline(t *testing.T, store storage.Store, workflowName, taskName string, seed map[string]any, maxAttempts int) (model.ID, model.ID) {
	t.Helper()
	ctx := context.Background()
	initCtx := &model.Context{ID: model.NewID(), Data: seed, CreatedAt: model.Now()}
	if err := store.CreateContext(ctx, initCtx); err != nil {
		t.Fatalf("create context: %v", err)
	}
	pipeline := &model.PipelineExecution{
		ID:              model.NewID(),
		WorkflowName:    workflowName,
		WorkflowVersion: "v1",
		Status:          model.PipelineRunning,
		ContextID:       initCtx.ID,
		StartedAt:       model.Now(),
		CreatedAt:       model.Now(),
		UpdatedAt:       model.Now(),
	}
	if err := store.CreatePipeline(ctx, pipeline); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	task := &model.TaskExecution{
		ID:                model.NewID(),
		PipelineExecution: pipeline.ID,
		TaskName:          taskName,
		Status:            model.TaskReady,
		Attempt:           1,
		MaxAttempts:       maxAttempts,
		CreatedAt:         model.Now(),
		UpdatedAt:         model.Now(),
	}
	if err := store.CreateTaskExecution(ctx, task); err != nil {
		t.Fatalf("create task execution: %v", err)
	}
	return pipeline.ID, task.ID
}

func TestExecuteToCompletion(t *testing.T) {
	store := openStore(t)
	reg := registry.New()
	task := workflow.Task{
		ID: "greet",
		Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"greeting": "hello " + in["name"].(string)}, nil
		},
	}
	if err := reg.Register(registry.Namespace{Tenant: "t", Package: "pkg", Workflow: "greetwf", LocalID: "greet"}, "pkg", func() workflow.Task { return task }); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := New(store, reg, fakeDeps{}, Config{PollInterval: time.Millisecond}, nil, nil, nil)

	ctx := context.Background()
	pipelineID, taskExecID := schedulePipeline(t, store, "greetwf", "greet", map[string]any{"name": "fluxion"}, 3)
	claimed, err := store.ClaimReadyTasks(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	exec.handle(ctx, claimed[0])

	got, err := store.GetTaskExecution(ctx, taskExecID)
	if err != nil {
		t.Fatalf("get task execution: %v", err)
	}
	if got.Status != model.TaskCompleted {
		t.Fatalf("expected Completed, got %v (last_error=%q)", got.Status, got.LastError)
	}

	tasks, err := store.ListTaskExecutionsByPipeline(ctx, pipelineID)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list tasks: %v %v", tasks, err)
	}
}

func TestRetryOnTransientError(t *testing.T) {
	store := openStore(t)
	reg := registry.New()
	calls := 0
	task := workflow.Task{
		ID:          "flaky",
		RetryPolicy: workflow.RetryPolicy{MaxAttempts: 3, InitialWait: time.Millisecond, Backoff: workflow.BackoffFixed, Condition: workflow.RetryTransientOnly},
		Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) {
			calls++
			return nil, errors.New("connection timeout talking to upstream")
		},
	}
	if err := reg.Register(registry.Namespace{Tenant: "t", Package: "pkg", Workflow: "flakywf", LocalID: "flaky"}, "pkg", func() workflow.Task { return task }); err != nil {
		t.Fatalf("register: %v", err)
	}
	exec := New(store, reg, fakeDeps{}, Config{}, nil, nil, nil)

	ctx := context.Background()
	_, taskExecID := schedulePipeline(t, store, "flakywf", "flaky", nil, 3)
	claimed, err := store.ClaimReadyTasks(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	exec.handle(ctx, claimed[0])

	if calls != 1 {
		t.Fatalf("expected task to run once, got %d calls", calls)
	}
	got, err := store.GetTaskExecution(ctx, taskExecID)
	if err != nil {
		t.Fatalf("get task execution: %v", err)
	}
	if got.Status != model.TaskReady {
		t.Fatalf("expected Ready (retry scheduled), got %v", got.Status)
	}
	if got.Attempt != 2 {
		t.Fatalf("expected attempt bumped to 2, got %d", got.Attempt)
	}
	if got.RetryAt == nil {
		t.Fatalf("expected retry_at to be set")
	}
}

// TestRetryBackoffGrowsWithAttempt ensures failTask passes the failing
// attempt number into the retry policy's Delay, so exponential backoff
// actually grows across successive retries instead of staying flat at the
// attempt-1 delay on every retry.
func TestRetryBackoffGrowsWithAttempt(t *testing.T) {
	store := openStore(t)
	reg := registry.New()
	exec := New(store, reg, fakeDeps{}, Config{}, nil, nil, nil)
	ctx := context.Background()
	policy := workflow.RetryPolicy{MaxAttempts: 4, InitialWait: 100 * time.Millisecond, Base: 2, Backoff: workflow.BackoffExponential, Condition: workflow.RetryTransientOnly}
	taskErr := errors.New("connection timeout talking to upstream")

	_, firstID := schedulePipeline(t, store, "flakywf", "flaky", nil, 4)
	before := model.Now()
	exec.failTask(ctx, storage.ClaimedTask{ID: firstID, TaskName: "flaky", Attempt: 1}, policy, taskErr)
	first, err := store.GetTaskExecution(ctx, firstID)
	if err != nil {
		t.Fatalf("get first task execution: %v", err)
	}
	firstDelay := first.RetryAt.Sub(before)

	_, secondID := schedulePipeline(t, store, "flakywf", "flaky", nil, 4)
	before = model.Now()
	exec.failTask(ctx, storage.ClaimedTask{ID: secondID, TaskName: "flaky", Attempt: 2}, policy, taskErr)
	second, err := store.GetTaskExecution(ctx, secondID)
	if err != nil {
		t.Fatalf("get second task execution: %v", err)
	}
	secondDelay := second.RetryAt.Sub(before)

	if secondDelay < firstDelay*3/2 {
		t.Fatalf("expected second retry (attempt=2) delay to roughly double the first (attempt=1) under exponential backoff, got first=%v second=%v", firstDelay, secondDelay)
	}
}

func TestTaskNotFoundFailsImmediately(t *testing.T) {
	store := openStore(t)
	reg := registry.New()
	exec := New(store, reg, fakeDeps{}, Config{}, nil, nil, nil)

	ctx := context.Background()
	_, taskExecID := schedulePipeline(t, store, "ghostwf", "ghost", nil, 3)
	claimed, err := store.ClaimReadyTasks(ctx, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	exec.handle(ctx, claimed[0])

	got, err := store.GetTaskExecution(ctx, taskExecID)
	if err != nil {
		t.Fatalf("get task execution: %v", err)
	}
	if got.Status != model.TaskFailed {
		t.Fatalf("expected Failed, got %v", got.Status)
	}
	if got.Attempt != 1 {
		t.Fatalf("expected no retry attempt bump, got %d", got.Attempt)
	}
}

func TestAssembleContextMergesDependencies(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	initCtx := &model.Context{ID: model.NewID(), Data: map[string]any{"seed": "s"}, CreatedAt: model.Now()}
	if err := store.CreateContext(ctx, initCtx); err != nil {
		t.Fatalf("create init context: %v", err)
	}
	pipeline := &model.PipelineExecution{
		ID: model.NewID(), WorkflowName: "chain", WorkflowVersion: "v1",
		Status: model.PipelineRunning, ContextID: initCtx.ID,
		StartedAt: model.Now(), CreatedAt: model.Now(), UpdatedAt: model.Now(),
	}
	if err := store.CreatePipeline(ctx, pipeline); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	depTask := &model.TaskExecution{
		ID: model.NewID(), PipelineExecution: pipeline.ID, TaskName: "a",
		Status: model.TaskCompleted, Attempt: 1, MaxAttempts: 1,
		CreatedAt: model.Now(), UpdatedAt: model.Now(),
	}
	if err := store.CreateTaskExecution(ctx, depTask); err != nil {
		t.Fatalf("create dep task: %v", err)
	}
	depOutput := &model.Context{ID: model.NewID(), Data: map[string]any{"from_a": 1}, CreatedAt: model.Now()}
	if err := store.CreateContext(ctx, depOutput); err != nil {
		t.Fatalf("create dep output context: %v", err)
	}
	if err := store.SetTaskContext(ctx, depTask.ID, depOutput.ID); err != nil {
		t.Fatalf("set dep task context: %v", err)
	}

	bTask := &model.TaskExecution{
		ID: model.NewID(), PipelineExecution: pipeline.ID, TaskName: "b",
		Status: model.TaskReady, Attempt: 1, MaxAttempts: 1,
		CreatedAt: model.Now(), UpdatedAt: model.Now(),
	}
	if err := store.CreateTaskExecution(ctx, bTask); err != nil {
		t.Fatalf("create b task: %v", err)
	}

	exec := New(store, registry.New(), fakeDeps{deps: map[string][]string{"b": {"a"}}}, Config{}, nil, nil, nil)
	claimed := storage.ClaimedTask{ID: bTask.ID, PipelineExecutionID: pipeline.ID, TaskName: "b", Attempt: 1}

	merged, err := exec.assembleContext(ctx, pipeline, claimed)
	if err != nil {
		t.Fatalf("assemble context: %v", err)
	}
	if merged["from_a"] != float64(1) {
		t.Fatalf("expected merged context to carry dependency output, got %v", merged)
	}
	if _, ok := merged["seed"]; ok {
		t.Fatalf("expected root seed context not to leak into a dependent task's merged context, got %v", merged)
	}
}
