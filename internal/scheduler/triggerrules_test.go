package scheduler

import (
	"testing"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/workflow"
)

func TestEvaluateRuleAlwaysTrue(t *testing.T) {
	if !evaluateRule(workflow.Always(), nil, nil) {
		t.Fatal("expected Always to be true")
	}
}

func TestEvaluateRuleAllAndAny(t *testing.T) {
	statuses := map[string]depStatus{
		"a": {status: model.TaskCompleted},
		"b": {status: model.TaskFailed},
	}
	all := workflow.All(workflow.TaskSuccess("a"), workflow.TaskSuccess("b"))
	if evaluateRule(all, statuses, nil) {
		t.Fatal("expected All to be false when one leaf is false")
	}
	any := workflow.Any(workflow.TaskSuccess("a"), workflow.TaskSuccess("b"))
	if !evaluateRule(any, statuses, nil) {
		t.Fatal("expected Any to be true when one leaf is true")
	}
	none := workflow.None(workflow.TaskFailed("a"))
	if !evaluateRule(none, statuses, nil) {
		t.Fatal("expected None(TaskFailed(a)) to be true since a completed")
	}
}

func TestEvaluateContextValueOperators(t *testing.T) {
	ctx := map[string]any{"count": float64(5), "name": "widgets"}

	cases := []struct {
		rule workflow.TriggerRule
		want bool
	}{
		{workflow.ContextValue("count", workflow.OpEquals, float64(5)), true},
		{workflow.ContextValue("count", workflow.OpGreaterThan, float64(1)), true},
		{workflow.ContextValue("count", workflow.OpLessThan, float64(1)), false},
		{workflow.ContextValue("name", workflow.OpContains, "widg"), true},
		{workflow.ContextValue("name", workflow.OpNotContains, "widg"), false},
		{workflow.ContextValue("missing", workflow.OpExists, nil), false},
		{workflow.ContextValue("missing", workflow.OpNotExists, nil), true},
		{workflow.ContextValue("missing", workflow.OpEquals, "x"), false},
	}
	for _, c := range cases {
		got := evaluateRule(c.rule, nil, ctx)
		if got != c.want {
			t.Fatalf("rule %+v: expected %v, got %v", c.rule, c.want, got)
		}
	}
}
