package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/swarmguard/fluxion/internal/resilience"
)

func TestHTTPTaskTemplatesURLAndDecodesJSON(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"greeting":"hello"}`))
	}))
	defer srv.Close()

	spec := HTTPTaskSpec{ID: "greet", Method: http.MethodGet, URL: srv.URL + "/users/{{user_id}}"}
	task := HTTPTask(spec, nil, nil)

	out, err := task.Execute(context.Background(), map[string]any{"user_id": "42"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotPath != "/users/42" {
		t.Fatalf("expected templated path /users/42, got %q", gotPath)
	}
	if out["greeting"] != "hello" {
		t.Fatalf("expected decoded greeting field, got %v", out)
	}
}

func TestHTTPTaskFallsBackToRawBodyOnNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text response"))
	}))
	defer srv.Close()

	task := HTTPTask(HTTPTaskSpec{ID: "raw", Method: http.MethodGet, URL: srv.URL}, nil, nil)
	out, err := task.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out["body"] != "plain text response" {
		t.Fatalf("expected raw body fallback, got %v", out)
	}
	if out["status_code"] != 200 {
		t.Fatalf("expected status_code 200, got %v", out["status_code"])
	}
}

func TestHTTPTaskErrorsAndRecordsFailureOnStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreakerAdaptive(time.Minute, 1, 1, 0.5, time.Minute, 1)
	task := HTTPTask(HTTPTaskSpec{ID: "fail", Method: http.MethodGet, URL: srv.URL}, nil, breaker)

	if _, err := task.Execute(context.Background(), nil); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if breaker.Allow() {
		t.Fatalf("expected breaker to be open after a recorded failure")
	}
}

func TestHTTPTaskBreakerRefusesWhenOpen(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreakerAdaptive(time.Minute, 1, 1, 0.5, time.Minute, 1)
	breaker.RecordResult(false) // single sample at 100% failure trips the breaker open

	task := HTTPTask(HTTPTaskSpec{ID: "gated", Method: http.MethodGet, URL: srv.URL}, nil, breaker)
	_, err := task.Execute(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected circuit-open error")
	}
	if called {
		t.Fatalf("expected request to be refused before reaching the upstream")
	}
}

func TestHTTPTaskTemplatesRequestBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	spec := HTTPTaskSpec{
		ID:     "post",
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   map[string]any{"name": "{{name}}"},
	}
	task := HTTPTask(spec, nil, nil)
	if _, err := task.Execute(context.Background(), map[string]any{"name": "ada"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotBody != `{"name":"ada"}` {
		t.Fatalf("expected templated body, got %q", gotBody)
	}
}
