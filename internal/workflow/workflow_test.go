package workflow

import (
	"context"
	"testing"
)

func noop(ctx context.Context, in map[string]any) (map[string]any, error) {
	return in, nil
}

func TestAddTaskDuplicate(t *testing.T) {
	w := New("wf", "", nil)
	if err := w.AddTask(Task{ID: "a", Execute: noop}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := w.AddTask(Task{ID: "a", Execute: noop})
	if err == nil {
		t.Fatal("expected DuplicateTask error, got nil")
	}
	var werr *Error
	if !ok(err, &werr) || werr.Kind() != KindDuplicateTask {
		t.Fatalf("expected DuplicateTask, got %v", err)
	}
}

func ok(err error, target **Error) bool {
	e, is := err.(*Error)
	if !is {
		return false
	}
	*target = e
	return true
}

func TestValidateEmptyWorkflow(t *testing.T) {
	w := New("wf", "", nil)
	err := w.Validate()
	if err == nil {
		t.Fatal("expected EmptyWorkflow error, got nil")
	}
	if e, is := err.(*Error); !is || e.Kind() != KindEmptyWorkflow {
		t.Fatalf("expected EmptyWorkflow, got %v", err)
	}
}

func TestValidateMissingDependency(t *testing.T) {
	w := New("wf", "", nil)
	_ = w.AddTask(Task{ID: "a", Dependencies: []string{"b"}, Execute: noop})
	err := w.Validate()
	if e, is := err.(*Error); !is || e.Kind() != KindMissingDependency {
		t.Fatalf("expected MissingDependency, got %v", err)
	}
}

func TestValidateCyclicDependency(t *testing.T) {
	w := New("wf", "", nil)
	_ = w.AddTask(Task{ID: "a", Dependencies: []string{"b"}, Execute: noop})
	_ = w.AddTask(Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	err := w.Validate()
	if e, is := err.(*Error); !is || e.Kind() != KindCyclicDependency {
		t.Fatalf("expected CyclicDependency, got %v", err)
	}
}

func TestValidateAcyclic(t *testing.T) {
	w := New("wf", "", nil)
	_ = w.AddTask(Task{ID: "a", Execute: noop})
	_ = w.AddTask(Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	_ = w.AddTask(Task{ID: "c", Dependencies: []string{"a", "b"}, Execute: noop})
	if err := w.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func buildDiamond() *Workflow {
	w := New("diamond", "fan out then join", nil)
	_ = w.AddTask(Task{ID: "a", Execute: noop})
	_ = w.AddTask(Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	_ = w.AddTask(Task{ID: "c", Dependencies: []string{"a"}, Execute: noop})
	_ = w.AddTask(Task{ID: "d", Dependencies: []string{"b", "c"}, Execute: noop})
	return w
}

func TestExecutionLevels(t *testing.T) {
	w := buildDiamond()
	levels := w.ExecutionLevels()
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if len(levels) != len(want) {
		t.Fatalf("expected %d levels, got %d: %v", len(want), len(levels), levels)
	}
	for i := range want {
		if len(levels[i]) != len(want[i]) {
			t.Fatalf("level %d: expected %v, got %v", i, want[i], levels[i])
		}
		for j := range want[i] {
			if levels[i][j] != want[i][j] {
				t.Fatalf("level %d: expected %v, got %v", i, want[i], levels[i])
			}
		}
	}
}

func TestReachability(t *testing.T) {
	w := buildDiamond()
	if got := w.DependenciesOf("d"); len(got) != 2 {
		t.Fatalf("expected 2 dependencies of d, got %v", got)
	}
	if got := w.DependentsOf("a"); len(got) != 2 {
		t.Fatalf("expected 2 dependents of a, got %v", got)
	}
	if got := w.Roots(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected roots [a], got %v", got)
	}
	if got := w.Leaves(); len(got) != 1 || got[0] != "d" {
		t.Fatalf("expected leaves [d], got %v", got)
	}
	if w.CanRunInParallel("b", "c") != true {
		t.Fatal("expected b and c to be parallelizable")
	}
	if w.CanRunInParallel("a", "d") != false {
		t.Fatal("expected a and d to not be parallelizable (a is an ancestor of d)")
	}
}

func TestVersionDeterministicAndSensitive(t *testing.T) {
	w1 := buildDiamond()
	w2 := buildDiamond()
	if w1.Version() != w2.Version() {
		t.Fatalf("expected identical versions for structurally identical workflows, got %q vs %q", w1.Version(), w2.Version())
	}

	w3 := New("diamond", "fan out then join", nil)
	_ = w3.AddTask(Task{ID: "a", Execute: noop})
	_ = w3.AddTask(Task{ID: "b", Dependencies: []string{"a"}, Execute: noop})
	_ = w3.AddTask(Task{ID: "c", Dependencies: []string{"a"}, Execute: noop})
	_ = w3.AddTask(Task{ID: "d", Dependencies: []string{"b", "c"}, Execute: noop, CodeFingerprint: "changed"})
	if w1.Version() == w3.Version() {
		t.Fatal("expected version to change when a code fingerprint changes")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{InitialWait: 1, MaxWait: 100, Multiplier: 2, Base: 2, Backoff: BackoffExponential}
	if d := p.Delay(1); d != 2 {
		t.Fatalf("attempt 1: expected 2, got %v", d)
	}
	if d := p.Delay(2); d != 4 {
		t.Fatalf("attempt 2: expected 4, got %v", d)
	}
	if d := p.Delay(10); d != 100 {
		t.Fatalf("expected clamp to MaxWait=100, got %v", d)
	}
}

func TestShouldRetryTransientOnly(t *testing.T) {
	p := RetryPolicy{Condition: RetryTransientOnly}
	if !p.ShouldRetry(errString("connection reset by peer")) {
		t.Fatal("expected connection error to be transient")
	}
	if p.ShouldRetry(errString("task not found")) {
		t.Fatal("did not expect TaskNotFound-style error to be transient")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
