// Package workflow implements the immutable DAG-of-tasks model: graph
// construction, cycle detection, content-addressed versioning, topological
// layering, and reachability queries (§4.2). It is generalized from the
// teacher's dag_engine.go buildDAG/Kahn's-algorithm logic, which this
// package now treats as a pure, persistable graph rather than an
// execution-time construct (execution itself lives in internal/executor).
package workflow

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sort"
)

// Workflow is a named, versioned DAG of tasks. It is ephemeral — never
// persisted as a row itself — but its name and version are referenced by
// every PipelineExecution it spawns.
type Workflow struct {
	Name        string
	Description string
	Tags        map[string]string

	tasks map[string]*Task
	order []string // insertion order, used for deterministic iteration
}

// New constructs an empty, named workflow builder.
func New(name, description string, tags map[string]string) *Workflow {
	if tags == nil {
		tags = map[string]string{}
	}
	return &Workflow{
		Name:        name,
		Description: description,
		Tags:        tags,
		tasks:       make(map[string]*Task),
	}
}

// AddTask inserts a task into the workflow's task map. It fails with
// DuplicateTask if the local id already exists. Dependency existence and
// acyclicity are checked lazily by Validate, not here, so tasks may be
// added in any order.
func (w *Workflow) AddTask(t Task) error {
	if _, exists := w.tasks[t.ID]; exists {
		return errDuplicateTask(t.ID)
	}
	cp := t
	w.tasks[t.ID] = &cp
	w.order = append(w.order, t.ID)
	return nil
}

// Task returns the task with the given local id, or nil if absent.
func (w *Workflow) Task(id string) (*Task, bool) {
	t, ok := w.tasks[id]
	return t, ok
}

// TaskIDs returns every local task id in insertion order.
func (w *Workflow) TaskIDs() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Len returns the number of tasks in the workflow.
func (w *Workflow) Len() int { return len(w.tasks) }

// Validate checks the three structural invariants of §4.2: at least one
// task, every dependency resolved, and the edge set acyclic.
func (w *Workflow) Validate() error {
	if len(w.tasks) == 0 {
		return errEmptyWorkflow()
	}
	for _, id := range w.order {
		t := w.tasks[id]
		for _, dep := range t.Dependencies {
			if _, ok := w.tasks[dep]; !ok {
				return errMissingDependency(id, dep)
			}
		}
	}
	if cycle := w.findCycle(); cycle != nil {
		return errCyclicDependency(cycle)
	}
	return nil
}

// findCycle runs DFS with a recursion-stack set over every task, returning
// the first cycle discovered (as an ordered slice of task ids) or nil if
// the graph is acyclic.
func (w *Workflow) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range w.tasks[id].Dependencies {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back-edge; extract the cycle from the stack.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append([]string{}, stack[start:]...)
				cycle = append(cycle, dep)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range w.order {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// versionPayload is the canonical, JSON-stable representation hashed into
// the workflow's content-addressed version.
type versionPayload struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        map[string]string `json:"tags"`
	Tasks       []versionTask     `json:"tasks"`
}

type versionTask struct {
	ID              string   `json:"id"`
	Dependencies    []string `json:"dependencies"`
	CodeFingerprint string   `json:"code_fingerprint"`
}

// Version computes the content-hash version per §4.2/§3: a deterministic
// function of task ids, dependency edges, per-task code fingerprints,
// name, description, and tags, truncated to 64 bits and hex-encoded.
// Tags are naturally canonical under Go's encoding/json (map keys sort),
// and sorted dependency lists plus sorted task order make the rest so.
func (w *Workflow) Version() string {
	ids := make([]string, 0, len(w.tasks))
	for id := range w.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payload := versionPayload{
		Name:        w.Name,
		Description: w.Description,
		Tags:        w.Tags,
		Tasks:       make([]versionTask, 0, len(ids)),
	}
	for _, id := range ids {
		t := w.tasks[id]
		deps := append([]string{}, t.Dependencies...)
		sort.Strings(deps)
		payload.Tasks = append(payload.Tasks, versionTask{
			ID:              id,
			Dependencies:    deps,
			CodeFingerprint: t.CodeFingerprint,
		})
	}

	b, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a struct of strings/maps/slices cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(b)
	truncated := binary.BigEndian.Uint64(sum[:8])
	return hex64(truncated)
}

func hex64(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// ExecutionLevels returns disjoint task-id sets: level k contains exactly
// the tasks whose dependencies all lie in levels < k. Ties within a level
// are broken deterministically by sorting ids, mirroring the teacher's
// Kahn's-algorithm in-degree bookkeeping from dag_engine.go's buildDAG
// and executeDAG, generalized to a pure (non-executing) query.
func (w *Workflow) ExecutionLevels() [][]string {
	inDegree := make(map[string]int, len(w.tasks))
	children := make(map[string][]string, len(w.tasks))
	for _, id := range w.order {
		t := w.tasks[id]
		inDegree[id] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			children[dep] = append(children[dep], id)
		}
	}

	var levels [][]string
	remaining := inDegree
	for len(remaining) > 0 {
		var level []string
		for id, deg := range remaining {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Validate() should have caught this; defensive stop.
			break
		}
		sort.Strings(level)
		levels = append(levels, level)
		for _, id := range level {
			delete(remaining, id)
		}
		for _, id := range level {
			for _, child := range children[id] {
				if _, ok := remaining[child]; ok {
					remaining[child]--
				}
			}
		}
	}
	return levels
}

// DependenciesOf returns the direct dependency ids of t, or nil if unknown.
func (w *Workflow) DependenciesOf(t string) []string {
	task, ok := w.tasks[t]
	if !ok {
		return nil
	}
	return append([]string{}, task.Dependencies...)
}

// DependentsOf returns the ids of tasks that directly depend on t.
func (w *Workflow) DependentsOf(t string) []string {
	var out []string
	for _, id := range w.order {
		for _, dep := range w.tasks[id].Dependencies {
			if dep == t {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Roots returns task ids with no dependencies.
func (w *Workflow) Roots() []string {
	var out []string
	for _, id := range w.order {
		if len(w.tasks[id].Dependencies) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Leaves returns task ids with no dependents.
func (w *Workflow) Leaves() []string {
	hasDependent := make(map[string]bool, len(w.tasks))
	for _, id := range w.order {
		for _, dep := range w.tasks[id].Dependencies {
			hasDependent[dep] = true
		}
	}
	var out []string
	for _, id := range w.order {
		if !hasDependent[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// reachableFrom returns the set of task ids reachable from start by
// following dependency edges (i.e. start's transitive dependencies,
// start included).
func (w *Workflow) reachableFrom(start string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, ok := w.tasks[id]
		if !ok {
			continue
		}
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return seen
}

// CanRunInParallel reports whether neither a nor b has a path to the other
// through dependency edges, i.e. they may run concurrently.
func (w *Workflow) CanRunInParallel(a, b string) bool {
	if a == b {
		return false
	}
	if w.reachableFrom(a)[b] {
		return false
	}
	if w.reachableFrom(b)[a] {
		return false
	}
	return true
}
