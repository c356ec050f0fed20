package scheduler

import (
	"fmt"
	"strings"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/workflow"
)

// depStatus is what trigger-rule evaluation needs to know about one
// dependency: whether it reached a terminal state and which one.
type depStatus struct {
	status model.TaskExecStatus
}

// evaluateRule evaluates rule (bit-exact per §4.4) against the current
// terminal statuses of a task's dependencies and their merged output
// context. statuses is keyed by dependency task name; mergedContext is the
// result of execctx.Merge over those same dependencies.
func evaluateRule(rule workflow.TriggerRule, statuses map[string]depStatus, mergedContext map[string]any) bool {
	switch rule.Kind {
	case workflow.RuleAlways, "":
		return true
	case workflow.RuleAll:
		for _, c := range rule.Children {
			if !evaluateRule(c, statuses, mergedContext) {
				return false
			}
		}
		return true
	case workflow.RuleAny:
		for _, c := range rule.Children {
			if evaluateRule(c, statuses, mergedContext) {
				return true
			}
		}
		return false
	case workflow.RuleNone:
		for _, c := range rule.Children {
			if evaluateRule(c, statuses, mergedContext) {
				return false
			}
		}
		return true
	case workflow.RuleTaskSuccess:
		return statuses[rule.TaskName].status == model.TaskCompleted
	case workflow.RuleTaskFailed:
		return statuses[rule.TaskName].status == model.TaskFailed
	case workflow.RuleTaskSkipped:
		return statuses[rule.TaskName].status == model.TaskSkipped
	case workflow.RuleContextValue:
		return evaluateContextValue(rule, mergedContext)
	default:
		return false
	}
}

// evaluateContextValue implements the ContextValue leaf: missing keys
// yield NotExists true and every other operator false, per §4.4.
func evaluateContextValue(rule workflow.TriggerRule, ctx map[string]any) bool {
	v, exists := ctx[rule.Key]
	switch rule.Operator {
	case workflow.OpExists:
		return exists
	case workflow.OpNotExists:
		return !exists
	}
	if !exists {
		return false
	}
	switch rule.Operator {
	case workflow.OpEquals:
		return equalValues(v, rule.Value)
	case workflow.OpNotEquals:
		return !equalValues(v, rule.Value)
	case workflow.OpGreaterThan:
		a, aok := toFloat(v)
		b, bok := toFloat(rule.Value)
		return aok && bok && a > b
	case workflow.OpLessThan:
		a, aok := toFloat(v)
		b, bok := toFloat(rule.Value)
		return aok && bok && a < b
	case workflow.OpContains:
		return strings.Contains(toString(v), toString(rule.Value))
	case workflow.OpNotContains:
		return !strings.Contains(toString(v), toString(rule.Value))
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
