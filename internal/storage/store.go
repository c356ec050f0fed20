// Package storage defines the relational storage contract of §4.1: typed
// read/write of every §3 entity, an atomic claim primitive that never hands
// the same row to two callers, and a notification hook the scheduler uses
// to wake on pushes or fall back to polling. internal/storage/postgres and
// internal/storage/sqlite each satisfy Store; the core (scheduler,
// executor) never branches on which one is wired in.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/swarmguard/fluxion/internal/model"
)

// Kind values for storage.Error.
const (
	KindNotFound       = "NotFound"
	KindAlreadyExists  = "AlreadyExists"
	KindSerialization  = "Serialization" // retryable: caller should re-attempt the transaction
	KindInvalidID      = "InvalidId"
	KindDataCorruption = "DataCorruption"
	KindInternal       = "Internal"
)

// Error is the storage package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}
func (e *Error) Kind() string  { return e.kind }
func (e *Error) Unwrap() error { return e.err }

// NewError wraps err (which may be nil) in a storage.Error of kind.
func NewError(kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// ClaimedTask is the row shape the atomic claim primitive returns, exactly
// the tuple §4.5 names: {id, pipeline_execution_id, task_name, attempt}.
type ClaimedTask struct {
	ID                  model.ID
	PipelineExecutionID model.ID
	TaskName            string
	Attempt             int
}

// TaskStatusUpdate is a targeted, partial update to one TaskExecution row,
// used by both the scheduler (NotStarted -> Ready/Skipped) and the executor
// (Running -> Completed/Failed/Ready-on-retry). Status, StartedAt,
// CompletedAt, RetryAt and LastRecoveryAt are always written, so a nil
// timestamp clears its column; SubStatus, Attempt, LastError,
// ErrorDetails and RecoveryAttempts are written only when non-nil.
type TaskStatusUpdate struct {
	Status           model.TaskExecStatus
	SubStatus        *model.TaskSubStatus
	Attempt          *int
	StartedAt        *time.Time
	CompletedAt      *time.Time
	RetryAt          *time.Time
	LastError        *string
	ErrorDetails     *string
	RecoveryAttempts *int
	LastRecoveryAt   *time.Time
	// EmitOutbox, when true, inserts a TaskOutbox row in the same
	// transaction as the status write (the Ready-transition contract of §4.4).
	EmitOutbox bool
}

// Store is the full persistence contract the scheduler and executor
// depend on. Implementations must provide read-committed-or-stronger
// transactions and the claim primitive's disjointness guarantee.
type Store interface {
	io.Closer

	// Pipelines.
	CreatePipeline(ctx context.Context, p *model.PipelineExecution) error
	GetPipeline(ctx context.Context, id model.ID) (*model.PipelineExecution, error)
	ListNonTerminalPipelines(ctx context.Context) ([]*model.PipelineExecution, error)
	UpdatePipelineStatus(ctx context.Context, id model.ID, status model.PipelineStatus, errorDetails string, completedAt *time.Time) error

	// Task executions.
	CreateTaskExecution(ctx context.Context, t *model.TaskExecution) error
	GetTaskExecution(ctx context.Context, id model.ID) (*model.TaskExecution, error)
	ListTaskExecutionsByPipeline(ctx context.Context, pipelineID model.ID) ([]*model.TaskExecution, error)
	UpdateTaskStatus(ctx context.Context, id model.ID, update TaskStatusUpdate) error

	// ClaimReadyTasks is the atomic claim primitive of §4.5: selects up to
	// limit rows with status=Ready and retry_at either null or due, locks
	// and flips them to Running with started_at=now, in id-ascending
	// order, and returns the claimed tuples. Concurrent callers never
	// observe an overlapping result set.
	ClaimReadyTasks(ctx context.Context, limit int) ([]ClaimedTask, error)

	// FindStuckRunning returns task rows in Running whose started_at
	// predates the liveness bound, for the scheduler's recovery pass.
	FindStuckRunning(ctx context.Context, olderThan time.Time) ([]*model.TaskExecution, error)

	// Contexts.
	CreateContext(ctx context.Context, c *model.Context) error
	GetContext(ctx context.Context, id model.ID) (*model.Context, error)
	// GetContextIDsForTasks returns, for each given task-execution id that
	// has completed, the context id its output was written under.
	GetContextIDsForTasks(ctx context.Context, taskExecIDs []model.ID) (map[model.ID]model.ID, error)
	// SetTaskContext associates a completed task execution with its output
	// context id, as part of the success outcome-persistence transaction.
	SetTaskContext(ctx context.Context, taskExecID, contextID model.ID) error

	// Outbox. Consumers must tolerate spurious wakeups: a returned row may
	// already have been claimed by the time the caller acts on it.
	PollOutbox(ctx context.Context, limit int) ([]model.TaskOutboxEntry, error)
	DeleteOutboxEntry(ctx context.Context, taskExecutionID model.ID) error

	// Events.
	AppendEvent(ctx context.Context, e *model.ExecutionEvent) error

	// Notify returns a channel that receives a value whenever the backend's
	// push mechanism fires (e.g. Postgres LISTEN/NOTIFY), or nil if the
	// backend has no push mechanism and callers must poll instead.
	Notify(ctx context.Context) (<-chan struct{}, error)
}
