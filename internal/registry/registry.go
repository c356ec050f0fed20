// Package registry is the process-wide lookup from task namespace to task
// constructor (§4.3). Each Registry is an instance built by New; it is
// grounded on the teacher's PluginRegistry
// (services/orchestrator/plugins.go) read/write-locked map-of-constructors
// pattern, generalized from a fixed set of built-in plugin kinds to an
// open, dynamically loaded namespace space.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/swarmguard/fluxion/internal/workflow"
)

// Namespace identifies one task constructor as tenant::package::workflow::local_id.
type Namespace struct {
	Tenant   string
	Package  string
	Workflow string
	LocalID  string
}

// String renders the namespace in its canonical double-colon form.
func (n Namespace) String() string {
	return fmt.Sprintf("%s::%s::%s::%s", n.Tenant, n.Package, n.Workflow, n.LocalID)
}

// Constructor builds a fresh Task value for one registered namespace. Most
// constructors simply close over a fixed Task and return it unchanged;
// the indirection exists so package-loaded tasks can be instantiated lazily.
type Constructor func() workflow.Task

// Kind values for registry.Error.
const (
	KindAlreadyRegistered = "AlreadyRegistered"
	KindNotFound          = "NotFound"
)

// Error is the registry package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

// Registry is a read-biased, process-wide map from namespace to
// constructor, read-heavy (every task claim performs a lookup) and
// write-rare (registrations happen only at package load/unload), matching
// the shared-resource discipline of §5.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Constructor
	byPkg   map[string]map[string]bool // package id -> set of namespace strings
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Constructor),
		byPkg:   make(map[string]map[string]bool),
	}
}

// Register adds one namespace. The registry cannot compare constructors by
// value, so any second Register call for a namespace already present fails
// with AlreadyRegistered, even when it passes the same constructor; a
// repeated registration is never treated as a no-op. packageID groups the
// namespace for later bulk-unregister; pass "" for process-local tasks
// registered outside any package.
func (r *Registry) Register(ns Namespace, packageID string, ctor Constructor) error {
	key := ns.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return &Error{kind: KindAlreadyRegistered, msg: fmt.Sprintf("namespace %q already registered", key)}
	}
	r.entries[key] = ctor
	if packageID != "" {
		set, ok := r.byPkg[packageID]
		if !ok {
			set = make(map[string]bool)
			r.byPkg[packageID] = set
		}
		set[key] = true
	}
	return nil
}

// Lookup resolves a namespace string to its constructor.
func (r *Registry) Lookup(namespace string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.entries[namespace]
	if !ok {
		return nil, &Error{kind: KindNotFound, msg: fmt.Sprintf("namespace %q not registered", namespace)}
	}
	return ctor, nil
}

// BulkUnregister removes every namespace registered under packageID. It is
// idempotent: unregistering an unknown or already-unregistered package
// succeeds silently, mirroring the package registry's idempotent
// deregistration contract (§4.7).
func (r *Registry) BulkUnregister(packageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byPkg[packageID]
	if !ok {
		return
	}
	for key := range set {
		delete(r.entries, key)
	}
	delete(r.byPkg, packageID)
}

// RegisterWorkflow registers every task in wf under tenant/pkg, namespaced
// as tenant::pkg::wf.Name::task_id, grouping them under packageID for
// later BulkUnregister. This is how the executor learns to resolve a
// TaskExecution's (workflow_name, task_name) pair back to an ExecuteFunc,
// whether the workflow was defined ad hoc or loaded from a signed package
// (§4.7's "task registration happens as a side effect of package load").
func (r *Registry) RegisterWorkflow(tenant, pkg, packageID string, wf *workflow.Workflow) error {
	for _, id := range wf.TaskIDs() {
		task, _ := wf.Task(id)
		taskCopy := *task
		ns := Namespace{Tenant: tenant, Package: pkg, Workflow: wf.Name, LocalID: id}
		ctor := func() workflow.Task { return taskCopy }
		if err := r.Register(ns, packageID, ctor); err != nil {
			return err
		}
	}
	return nil
}

// ResolveTask looks a task up by (workflow name, local task id) alone,
// without requiring the caller to know which tenant/package registered
// it — the shape the executor actually has on hand, since a
// TaskExecution row only carries its pipeline's workflow_name and its
// own task_name. When more than one namespace matches (two packages
// registering workflows of the same name), the first match by sorted
// namespace string wins; deployments that need to disambiguate should
// give workflows distinct names across packages.
func (r *Registry) ResolveTask(workflowName, taskID string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var keys []string
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	suffix := "::" + workflowName + "::" + taskID
	for _, key := range keys {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			return r.entries[key], nil
		}
	}
	return nil, &Error{kind: KindNotFound, msg: fmt.Sprintf("no task registered for workflow %q task %q", workflowName, taskID)}
}

// List returns every namespace string registered under packageID, sorted.
func (r *Registry) List(packageID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byPkg[packageID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
