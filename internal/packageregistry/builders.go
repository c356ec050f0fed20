package packageregistry

import (
	"sync"

	"github.com/swarmguard/fluxion/internal/workflow"
)

// TaskBuilder produces the executable Task set a package's library
// implements, keyed by local task id. It stands in for §6's C-ABI entry
// points (cloacina_get_task_metadata / cloacina_execute_task): fluxion is
// a single statically-linked Go binary, so "loading a dynamic library" is
// replaced by a compile-time registration the package author links in,
// the same pattern database/sql uses for drivers. The archive's .so/.dylib
// bytes are still extracted, checksummed, and stored — satisfying the
// archive-format and storage contracts of §4.7/§6 — but execution dispatches
// through the registered builder rather than through dlopen.
type TaskBuilder func() map[string]workflow.Task

var (
	buildersMu sync.RWMutex
	builders   = map[string]TaskBuilder{}
)

// RegisterBuilder registers the task builder for a package name. Intended
// to be called from an init() in the Go package that implements a given
// workflow package's tasks, mirroring database/sql.Register.
func RegisterBuilder(packageName string, b TaskBuilder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[packageName] = b
}

func lookupBuilder(packageName string) (TaskBuilder, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	b, ok := builders[packageName]
	return b, ok
}
