package registry

import (
	"context"
	"testing"

	"github.com/swarmguard/fluxion/internal/workflow"
)

func sampleCtor() workflow.Task {
	return workflow.Task{ID: "greet", Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}}
}

func TestRegisterLookup(t *testing.T) {
	r := New()
	ns := Namespace{Tenant: "public", Package: "greetings", Workflow: "hello", LocalID: "greet"}
	if err := r.Register(ns, "pkg-1", sampleCtor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctor, err := r.Lookup(ns.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task := ctor(); task.ID != "greet" {
		t.Fatalf("expected task id greet, got %q", task.ID)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	ns := Namespace{Tenant: "public", Package: "greetings", Workflow: "hello", LocalID: "greet"}
	if err := r.Register(ns, "pkg-1", sampleCtor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := r.Register(ns, "pkg-1", sampleCtor)
	if err == nil {
		t.Fatal("expected AlreadyRegistered error, got nil")
	}
	if e, ok := err.(*Error); !ok || e.Kind() != KindAlreadyRegistered {
		t.Fatalf("expected AlreadyRegistered, got %v", err)
	}
}

func TestLookupNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("public::none::none::none")
	if e, ok := err.(*Error); !ok || e.Kind() != KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestBulkUnregisterIdempotent(t *testing.T) {
	r := New()
	ns := Namespace{Tenant: "public", Package: "greetings", Workflow: "hello", LocalID: "greet"}
	_ = r.Register(ns, "pkg-1", sampleCtor)

	if got := r.List("pkg-1"); len(got) != 1 {
		t.Fatalf("expected 1 namespace, got %v", got)
	}

	r.BulkUnregister("pkg-1")
	if _, err := r.Lookup(ns.String()); err == nil {
		t.Fatal("expected namespace to be gone after unregister")
	}

	// Unregistering again, or an unknown package id, must not panic or error.
	r.BulkUnregister("pkg-1")
	r.BulkUnregister("unknown-pkg")
}

func TestRegisterWorkflow(t *testing.T) {
	wf := workflow.New("greetings", "", nil)
	_ = wf.AddTask(workflow.Task{ID: "greet", Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}})
	_ = wf.AddTask(workflow.Task{ID: "farewell", Dependencies: []string{"greet"}, Execute: func(ctx context.Context, in map[string]any) (map[string]any, error) {
		return in, nil
	}})

	r := New()
	if err := r.RegisterWorkflow("public", "core", "pkg-1", wf); err != nil {
		t.Fatalf("register workflow: %v", err)
	}
	ns := Namespace{Tenant: "public", Package: "core", Workflow: "greetings", LocalID: "greet"}
	if _, err := r.Lookup(ns.String()); err != nil {
		t.Fatalf("expected greet to resolve, got %v", err)
	}
	if got := r.List("pkg-1"); len(got) != 2 {
		t.Fatalf("expected 2 namespaces under pkg-1, got %v", got)
	}
}
