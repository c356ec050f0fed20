package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
	"github.com/swarmguard/fluxion/internal/storage/sqlite"
	"github.com/swarmguard/fluxion/internal/workflow"
)

func noop(ctx context.Context, in map[string]any) (map[string]any, error) { return in, nil }

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

func TestScheduleWorkflowCreatesRows(t *testing.T) {
	store := openStore(t)
	wfs := NewWorkflows()
	wf := workflow.New("linear", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "a", Execute: noop})
	_ = wf.AddTask(workflow.Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	wfs.Put(wf)

	sched := New(store, wfs, Config{}, nil, nil)
	ctx := context.Background()
	pipelineID, err := sched.ScheduleWorkflow(ctx, "linear", map[string]any{"seed": "x"})
	if err != nil {
		t.Fatalf("schedule workflow: %v", err)
	}
	status, err := sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Pipeline.Status != model.PipelineRunning {
		t.Fatalf("expected Running, got %v", status.Pipeline.Status)
	}
	if len(status.Tasks) != 2 {
		t.Fatalf("expected 2 task rows, got %d", len(status.Tasks))
	}
}

func TestScheduleUnknownWorkflow(t *testing.T) {
	store := openStore(t)
	sched := New(store, NewWorkflows(), Config{}, nil, nil)
	_, err := sched.ScheduleWorkflow(context.Background(), "nope", nil)
	if e, ok := err.(*Error); !ok || e.Kind() != KindUnknownWorkflow {
		t.Fatalf("expected UnknownWorkflow, got %v", err)
	}
}

// TestTickMarksRootTaskReady exercises one scheduling tick end to end: a
// root task with no dependencies should be marked Ready immediately.
func TestTickMarksRootTaskReady(t *testing.T) {
	store := openStore(t)
	wfs := NewWorkflows()
	wf := workflow.New("linear", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "a", Execute: noop})
	_ = wf.AddTask(workflow.Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	wfs.Put(wf)

	sched := New(store, wfs, Config{}, nil, nil)
	ctx := context.Background()
	pipelineID, err := sched.ScheduleWorkflow(ctx, "linear", nil)
	if err != nil {
		t.Fatalf("schedule workflow: %v", err)
	}
	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	status, err := sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var aStatus, bStatus model.TaskExecStatus
	for _, tk := range status.Tasks {
		switch tk.TaskName {
		case "a":
			aStatus = tk.Status
		case "b":
			bStatus = tk.Status
		}
	}
	if aStatus != model.TaskReady {
		t.Fatalf("expected task a to be Ready, got %v", aStatus)
	}
	if bStatus != model.TaskNotStarted {
		t.Fatalf("expected task b to remain NotStarted until a completes, got %v", bStatus)
	}
}

func TestCancelSkipsNonTerminalTasks(t *testing.T) {
	store := openStore(t)
	wfs := NewWorkflows()
	wf := workflow.New("linear", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "a", Execute: noop})
	wfs.Put(wf)

	sched := New(store, wfs, Config{}, nil, nil)
	ctx := context.Background()
	pipelineID, err := sched.ScheduleWorkflow(ctx, "linear", nil)
	if err != nil {
		t.Fatalf("schedule workflow: %v", err)
	}
	if err := sched.Cancel(ctx, pipelineID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	status, err := sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Pipeline.Status != model.PipelineCancelled {
		t.Fatalf("expected Cancelled, got %v", status.Pipeline.Status)
	}
	if status.Tasks[0].Status != model.TaskSkipped {
		t.Fatalf("expected task to be Skipped, got %v", status.Tasks[0].Status)
	}
}

// TestTickRunsOnFailedDependencyWhenRuleAllows exercises the error-handler
// branch: task c's trigger rule explicitly permits running after task a
// fails, so c must be marked Ready, not Skipped, once a is terminal.
func TestTickRunsOnFailedDependencyWhenRuleAllows(t *testing.T) {
	store := openStore(t)
	wfs := NewWorkflows()
	wf := workflow.New("handler", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "a", Execute: noop})
	_ = wf.AddTask(workflow.Task{ID: "c", Dependencies: []string{"a"}, TriggerRules: workflow.TaskFailed("a"), Execute: noop})
	wfs.Put(wf)

	sched := New(store, wfs, Config{}, nil, nil)
	ctx := context.Background()
	pipelineID, err := sched.ScheduleWorkflow(ctx, "handler", nil)
	if err != nil {
		t.Fatalf("schedule workflow: %v", err)
	}

	status, err := sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var aID model.ID
	for _, tk := range status.Tasks {
		if tk.TaskName == "a" {
			aID = tk.ID
		}
	}
	now := model.Now()
	msg := "boom"
	if err := store.UpdateTaskStatus(ctx, aID, storage.TaskStatusUpdate{Status: model.TaskFailed, LastError: &msg, CompletedAt: &now}); err != nil {
		t.Fatalf("fail task a: %v", err)
	}

	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	status, err = sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var cStatus model.TaskExecStatus
	for _, tk := range status.Tasks {
		if tk.TaskName == "c" {
			cStatus = tk.Status
		}
	}
	if cStatus != model.TaskReady {
		t.Fatalf("expected task c to be Ready after a failed (rule permits it), got %v", cStatus)
	}
}

// TestTickSkipsOnFailedDependencyByDefault covers the complementary case:
// with the default Always rule and no explicit failure handling, a
// dependent task is skipped once its dependency fails.
func TestTickSkipsOnFailedDependencyByDefault(t *testing.T) {
	store := openStore(t)
	wfs := NewWorkflows()
	wf := workflow.New("linear", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "a", Execute: noop})
	_ = wf.AddTask(workflow.Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	wfs.Put(wf)

	sched := New(store, wfs, Config{}, nil, nil)
	ctx := context.Background()
	pipelineID, err := sched.ScheduleWorkflow(ctx, "linear", nil)
	if err != nil {
		t.Fatalf("schedule workflow: %v", err)
	}

	status, err := sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var aID model.ID
	for _, tk := range status.Tasks {
		if tk.TaskName == "a" {
			aID = tk.ID
		}
	}
	now := model.Now()
	msg := "boom"
	if err := store.UpdateTaskStatus(ctx, aID, storage.TaskStatusUpdate{Status: model.TaskFailed, LastError: &msg, CompletedAt: &now}); err != nil {
		t.Fatalf("fail task a: %v", err)
	}

	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	status, err = sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var bStatus model.TaskExecStatus
	for _, tk := range status.Tasks {
		if tk.TaskName == "b" {
			bStatus = tk.Status
		}
	}
	if bStatus != model.TaskSkipped {
		t.Fatalf("expected task b to be Skipped after a failed under default rule, got %v", bStatus)
	}
}

func TestRecoveryResetsStuckTask(t *testing.T) {
	store := openStore(t)
	wfs := NewWorkflows()
	wf := workflow.New("linear", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "a", Execute: noop})
	wfs.Put(wf)

	sched := New(store, wfs, Config{LivenessBound: time.Millisecond, MaxRecoveryAttempts: 2}, nil, nil)
	ctx := context.Background()
	pipelineID, err := sched.ScheduleWorkflow(ctx, "linear", nil)
	if err != nil {
		t.Fatalf("schedule workflow: %v", err)
	}
	if err := sched.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	claimed, err := store.ClaimReadyTasks(ctx, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected to claim 1 task, got %v err %v", claimed, err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := sched.recoveryPass(ctx); err != nil {
		t.Fatalf("recovery pass: %v", err)
	}
	status, err := sched.Status(ctx, pipelineID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Tasks[0].Status != model.TaskReady {
		t.Fatalf("expected task reset to Ready, got %v", status.Tasks[0].Status)
	}
	if status.Tasks[0].RecoveryAttempts != 1 {
		t.Fatalf("expected recovery_attempts=1, got %d", status.Tasks[0].RecoveryAttempts)
	}
}
