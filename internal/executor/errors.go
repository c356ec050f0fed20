package executor

// Kind values for executor.Error.
const (
	KindTaskNotFound = "TaskNotFound"
	KindTimeout      = "Timeout"
)

// Error is the executor package's implementation of model.Error.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

func errTaskNotFound(workflowName, taskName string) error {
	return &Error{kind: KindTaskNotFound, msg: "task not found: " + workflowName + "/" + taskName}
}

func errTimeout(taskName string) error {
	return &Error{kind: KindTimeout, msg: "task timed out: " + taskName + " (connection unavailable after deadline)"}
}
