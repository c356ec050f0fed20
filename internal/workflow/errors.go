package workflow

import "fmt"

// Kind values for workflow.Error, per the top-level model.Error contract.
const (
	KindDuplicateTask     = "DuplicateTask"
	KindMissingDependency = "MissingDependency"
	KindCyclicDependency  = "CyclicDependency"
	KindEmptyWorkflow     = "EmptyWorkflow"
)

// Error is the workflow package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

func errDuplicateTask(id string) error {
	return &Error{kind: KindDuplicateTask, msg: fmt.Sprintf("duplicate task %q", id)}
}

func errMissingDependency(task, dep string) error {
	return &Error{kind: KindMissingDependency, msg: fmt.Sprintf("task %q depends on unknown task %q", task, dep)}
}

func errCyclicDependency(cycle []string) error {
	return &Error{kind: KindCyclicDependency, msg: fmt.Sprintf("cyclic dependency: %v", cycle)}
}

func errEmptyWorkflow() error {
	return &Error{kind: KindEmptyWorkflow, msg: "workflow has no tasks"}
}
