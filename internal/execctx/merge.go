// Package execctx holds the dependency-context merge policy shared by the
// scheduler (to evaluate ContextValue trigger-rule leaves) and the
// executor (to assemble a task's input context), per §3's "Context" entity
// and §4.5's "Context assembly" section.
package execctx

// Merge combines each dependency's output context into one map, honoring
// "the first dependency (in dependency-list order) whose context contains
// the key wins" (§4.5). depOrder is the task's Dependencies list in its
// declared order; byDep maps each dependency's task name to its context
// data (absent entries are simply skipped, e.g. a Skipped dependency with
// no output).
func Merge(depOrder []string, byDep map[string]map[string]any) map[string]any {
	merged := make(map[string]any)
	seen := make(map[string]bool)
	for _, dep := range depOrder {
		data, ok := byDep[dep]
		if !ok {
			continue
		}
		for k, v := range data {
			if seen[k] {
				continue
			}
			merged[k] = v
			seen[k] = true
		}
	}
	return merged
}
