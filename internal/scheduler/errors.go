package scheduler

import "fmt"

// Kind values for scheduler.Error.
const (
	KindUnknownWorkflow = "UnknownWorkflow"
	KindNotFound        = "NotFound"
)

// Error is the scheduler package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

func errUnknownWorkflow(name string) error {
	return &Error{kind: KindUnknownWorkflow, msg: fmt.Sprintf("unknown workflow %q", name)}
}

func errNotFound(pipelineID string) error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf("pipeline %q not found", pipelineID)}
}
