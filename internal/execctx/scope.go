package execctx

import "github.com/swarmguard/fluxion/internal/model"

// scopeKey is the reserved context-map key under which the executor
// attaches the current ExecutionScope before invoking a task, per §4.5:
// "An ExecutionScope ... is attached to the context so lazy readers
// inside the task can fetch further data." It is stripped back out before
// the output is persisted, since a task's code_fingerprint-hashed output
// contract should never include the executor's own bookkeeping.
const scopeKey = "__fluxion_execution_scope__"

// ExecutionScope identifies the pipeline, task execution, and task name a
// running task handler belongs to.
type ExecutionScope struct {
	PipelineExecutionID model.ID `json:"pipeline_execution_id"`
	TaskExecutionID     model.ID `json:"task_execution_id"`
	TaskName            string   `json:"task_name"`
}

// WithScope returns a copy of ctx with scope attached under the reserved key.
func WithScope(ctx map[string]any, scope ExecutionScope) map[string]any {
	out := make(map[string]any, len(ctx)+1)
	for k, v := range ctx {
		out[k] = v
	}
	out[scopeKey] = scope
	return out
}

// ScopeFrom recovers the ExecutionScope a task handler was invoked with.
func ScopeFrom(ctx map[string]any) (ExecutionScope, bool) {
	v, ok := ctx[scopeKey]
	if !ok {
		return ExecutionScope{}, false
	}
	scope, ok := v.(ExecutionScope)
	return scope, ok
}

// StripScope returns a copy of ctx with the reserved scope key removed,
// suitable for persisting as a task's output context.
func StripScope(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	if _, ok := ctx[scopeKey]; !ok {
		return ctx
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if k == scopeKey {
			continue
		}
		out[k] = v
	}
	return out
}
