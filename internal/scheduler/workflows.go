package scheduler

import (
	"sync"

	"github.com/swarmguard/fluxion/internal/workflow"
)

// WorkflowSource resolves a workflow name to its current definition. The
// scheduler needs this because Workflow values are ephemeral (§3: "not
// persisted per-run") — only their name and content-hash version are
// recorded on the PipelineExecution row, so the scheduling loop must look
// the definition back up to read task dependencies and trigger rules.
type WorkflowSource interface {
	Get(name string) (*workflow.Workflow, bool)
}

// Workflows is an in-memory, process-wide registry of named workflow
// definitions, grounded on the teacher's WorkflowStore warmCache pattern
// (persistence.go) but simplified to pure in-memory storage: the package
// registry (§4.7) is what actually persists workflow definitions across
// restarts, by reloading them from stored packages at startup.
type Workflows struct {
	mu  sync.RWMutex
	set map[string]*workflow.Workflow
}

// NewWorkflows constructs an empty workflow definition registry.
func NewWorkflows() *Workflows {
	return &Workflows{set: make(map[string]*workflow.Workflow)}
}

// Put registers or replaces the current definition for wf.Name. Lookups
// are by name only: after a replacement, pipelines already scheduled keep
// the task rows and trigger rules created for them, but dependency lookups
// for them read the new definition. Their workflow_version field records
// the version they were scheduled with and is not consulted.
func (w *Workflows) Put(wf *workflow.Workflow) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.set[wf.Name] = wf
}

// Get resolves a workflow by name.
func (w *Workflows) Get(name string) (*workflow.Workflow, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	wf, ok := w.set[name]
	return wf, ok
}

// DependenciesOf returns the declared-order dependency list of taskName
// within the named workflow. It satisfies executor.WorkflowDependencies
// structurally, letting the executor assemble context without importing
// the scheduler package.
func (w *Workflows) DependenciesOf(workflowName, taskName string) ([]string, bool) {
	wf, ok := w.Get(workflowName)
	if !ok {
		return nil, false
	}
	if _, ok := wf.Task(taskName); !ok {
		return nil, false
	}
	return wf.DependenciesOf(taskName), true
}

// Remove deregisters a workflow definition, used when the owning package
// is unloaded (§4.7).
func (w *Workflows) Remove(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.set, name)
}

var _ WorkflowSource = (*Workflows)(nil)
