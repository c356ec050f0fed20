// Package storagetest is a conformance suite shared by every storage.Store
// implementation, per the design note that "the test suite must pass on
// both" backends (§9). internal/storage/sqlite and internal/storage/postgres
// each call Run from their own _test.go file against a freshly constructed
// backend instance.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/storage"
)

// Run exercises the full storage.Store contract against store. It does not
// close store; callers own that lifecycle.
func Run(t *testing.T, store storage.Store) {
	t.Run("PipelineCRUD", func(t *testing.T) { testPipelineCRUD(t, store) })
	t.Run("TaskExecutionCRUD", func(t *testing.T) { testTaskExecutionCRUD(t, store) })
	t.Run("ClaimDisjointness", func(t *testing.T) { testClaimDisjointness(t, store) })
	t.Run("ClaimRespectsRetryAt", func(t *testing.T) { testClaimRespectsRetryAt(t, store) })
	t.Run("ContextRoundTrip", func(t *testing.T) { testContextRoundTrip(t, store) })
	t.Run("OutboxPollAndDelete", func(t *testing.T) { testOutboxPollAndDelete(t, store) })
	t.Run("RecoveryFindsStuckRunning", func(t *testing.T) { testRecoveryFindsStuckRunning(t, store) })
	t.Run("AppendEvent", func(t *testing.T) { testAppendEvent(t, store) })
}

func newPipeline() *model.PipelineExecution {
	now := model.Now()
	return &model.PipelineExecution{
		ID:              model.NewID(),
		WorkflowName:    "demo",
		WorkflowVersion: "abc123",
		Status:          model.PipelinePending,
		ContextID:       model.NewID(),
		StartedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func testPipelineCRUD(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	if err := store.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	got, err := store.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("get pipeline: %v", err)
	}
	if got.WorkflowName != p.WorkflowName || got.Status != model.PipelinePending {
		t.Fatalf("unexpected pipeline read back: %+v", got)
	}

	completed := model.Now()
	if err := store.UpdatePipelineStatus(ctx, p.ID, model.PipelineCompleted, "", &completed); err != nil {
		t.Fatalf("update pipeline status: %v", err)
	}
	got, err = store.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("get pipeline after update: %v", err)
	}
	if got.Status != model.PipelineCompleted || got.CompletedAt == nil {
		t.Fatalf("expected pipeline to be completed with a completed_at, got %+v", got)
	}

	if _, err := store.GetPipeline(ctx, model.NewID()); err == nil {
		t.Fatal("expected NotFound for unknown pipeline id")
	}
}

func newTaskExecution(pipelineID model.ID, name string) *model.TaskExecution {
	now := model.Now()
	return &model.TaskExecution{
		ID:                model.NewID(),
		PipelineExecution: pipelineID,
		TaskName:          name,
		Status:            model.TaskNotStarted,
		Attempt:           1,
		MaxAttempts:       3,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func testTaskExecutionCRUD(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	if err := store.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	task := newTaskExecution(p.ID, "t1")
	if err := store.CreateTaskExecution(ctx, task); err != nil {
		t.Fatalf("create task execution: %v", err)
	}
	got, err := store.GetTaskExecution(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task execution: %v", err)
	}
	if got.Status != model.TaskNotStarted {
		t.Fatalf("expected NotStarted, got %v", got.Status)
	}

	if err := store.UpdateTaskStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: model.TaskReady, EmitOutbox: true}); err != nil {
		t.Fatalf("update task status: %v", err)
	}
	got, err = store.GetTaskExecution(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task execution after update: %v", err)
	}
	if got.Status != model.TaskReady {
		t.Fatalf("expected Ready, got %v", got.Status)
	}

	byPipeline, err := store.ListTaskExecutionsByPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("list task executions: %v", err)
	}
	if len(byPipeline) != 1 {
		t.Fatalf("expected 1 task execution, got %d", len(byPipeline))
	}
}

func testClaimDisjointness(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	if err := store.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	const n = 6
	for i := 0; i < n; i++ {
		task := newTaskExecution(p.ID, "t")
		if err := store.CreateTaskExecution(ctx, task); err != nil {
			t.Fatalf("create task execution: %v", err)
		}
		if err := store.UpdateTaskStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: model.TaskReady, EmitOutbox: true}); err != nil {
			t.Fatalf("mark ready: %v", err)
		}
	}

	seen := make(map[model.ID]bool)
	var mu chanMutex
	errs := make(chan error, 3)
	results := make(chan []storage.ClaimedTask, 3)
	for w := 0; w < 3; w++ {
		go func() {
			claimed, err := store.ClaimReadyTasks(ctx, 4)
			if err != nil {
				errs <- err
				results <- nil
				return
			}
			errs <- nil
			results <- claimed
		}()
	}
	var total int
	for w := 0; w < 3; w++ {
		if err := <-errs; err != nil {
			t.Fatalf("claim: %v", err)
		}
		claimed := <-results
		mu.lock()
		for _, c := range claimed {
			if seen[c.ID] {
				t.Fatalf("task %v claimed by more than one caller", c.ID)
			}
			seen[c.ID] = true
		}
		mu.unlock()
		total += len(claimed)
	}
	if total != n {
		t.Fatalf("expected %d tasks claimed across all callers, got %d", n, total)
	}
}

// chanMutex is a trivial channel-backed mutex, used instead of sync.Mutex
// only to keep this file import-light; behaviorally identical.
type chanMutex struct{ ch chan struct{} }

func (m *chanMutex) lock() {
	if m.ch == nil {
		m.ch = make(chan struct{}, 1)
	}
	m.ch <- struct{}{}
}
func (m *chanMutex) unlock() { <-m.ch }

func testClaimRespectsRetryAt(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	if err := store.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	task := newTaskExecution(p.ID, "future")
	if err := store.CreateTaskExecution(ctx, task); err != nil {
		t.Fatalf("create task execution: %v", err)
	}
	future := model.Now().Add(time.Hour)
	if err := store.UpdateTaskStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: model.TaskReady, RetryAt: &future, EmitOutbox: true}); err != nil {
		t.Fatalf("mark ready with future retry_at: %v", err)
	}
	claimed, err := store.ClaimReadyTasks(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	for _, c := range claimed {
		if c.ID == task.ID {
			t.Fatal("claimed a task whose retry_at is in the future")
		}
	}
}

func testContextRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	c := &model.Context{ID: model.NewID(), Data: map[string]any{"k": "v", "n": float64(3)}, CreatedAt: model.Now()}
	if err := store.CreateContext(ctx, c); err != nil {
		t.Fatalf("create context: %v", err)
	}
	got, err := store.GetContext(ctx, c.ID)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if got.Data["k"] != "v" {
		t.Fatalf("expected k=v, got %+v", got.Data)
	}

	p := newPipeline()
	_ = store.CreatePipeline(ctx, p)
	task := newTaskExecution(p.ID, "t")
	_ = store.CreateTaskExecution(ctx, task)
	if err := store.SetTaskContext(ctx, task.ID, c.ID); err != nil {
		t.Fatalf("set task context: %v", err)
	}
	ids, err := store.GetContextIDsForTasks(ctx, []model.ID{task.ID})
	if err != nil {
		t.Fatalf("get context ids for tasks: %v", err)
	}
	if ids[task.ID] != c.ID {
		t.Fatalf("expected context id %v, got %v", c.ID, ids[task.ID])
	}
}

func testOutboxPollAndDelete(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	_ = store.CreatePipeline(ctx, p)
	task := newTaskExecution(p.ID, "t")
	_ = store.CreateTaskExecution(ctx, task)
	if err := store.UpdateTaskStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: model.TaskReady, EmitOutbox: true}); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	entries, err := store.PollOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("poll outbox: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.TaskExecutionID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected outbox entry for newly-ready task")
	}
	if err := store.DeleteOutboxEntry(ctx, task.ID); err != nil {
		t.Fatalf("delete outbox entry: %v", err)
	}
	// Deleting twice must be safe (idempotent).
	if err := store.DeleteOutboxEntry(ctx, task.ID); err != nil {
		t.Fatalf("delete outbox entry again: %v", err)
	}
}

func testRecoveryFindsStuckRunning(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	_ = store.CreatePipeline(ctx, p)
	task := newTaskExecution(p.ID, "stuck")
	_ = store.CreateTaskExecution(ctx, task)
	if err := store.UpdateTaskStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: model.TaskReady, EmitOutbox: true}); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	claimed, err := store.ClaimReadyTasks(ctx, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected to claim the task, got %v, err %v", claimed, err)
	}

	stuck, err := store.FindStuckRunning(ctx, model.Now().Add(-time.Millisecond))
	if err != nil {
		t.Fatalf("find stuck running: %v", err)
	}
	found := false
	for _, s := range stuck {
		if s.ID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the claimed task to show up as stuck once its liveness window elapses")
	}
}

func testAppendEvent(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p := newPipeline()
	_ = store.CreatePipeline(ctx, p)
	e := &model.ExecutionEvent{
		ID:                  model.NewID(),
		PipelineExecutionID: &p.ID,
		EventType:           model.EventPipelineStarted,
		EventData:           map[string]any{"workflow": p.WorkflowName},
		CreatedAt:           model.Now(),
	}
	if err := store.AppendEvent(ctx, e); err != nil {
		t.Fatalf("append event: %v", err)
	}
}
