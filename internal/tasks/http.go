// Package tasks provides illustrative, registerable Task implementations.
// None of it is part of the core contract (§4.3/§4.5 are agnostic to how a
// registered task's Execute works) — nothing in fluxion registers it, and
// its own tests call Execute directly. Adapted from the teacher's
// HTTPTaskExecutor/HTTPPlugin (services/orchestrator/task_executor.go,
// plugins.go).
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/fluxion/internal/resilience"
	"github.com/swarmguard/fluxion/internal/workflow"
)

// HTTPTaskSpec configures one HTTP call task. URL, Body (JSON-marshaled
// before templating), and Headers all support {{key}} templating against
// the task's merged input context, mirroring the teacher's
// {{task_id.field}} placeholder resolution but flattened to fluxion's
// single merged-context shape (§4.5: a task sees one merged map, not a
// per-dependency namespaced one).
type HTTPTaskSpec struct {
	ID      string
	Method  string
	URL     string
	Body    map[string]any
	Headers map[string]string
}

// HTTPTask builds a workflow.Task whose Execute performs one HTTP call,
// templating URL/body/headers against the input context and decoding a
// JSON response body into the task's output context. breaker, if non-nil,
// gates calls and records their outcome, adapted from the resilience
// package's adaptive circuit breaker.
func HTTPTask(spec HTTPTaskSpec, client *http.Client, breaker *resilience.CircuitBreaker) workflow.Task {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	tracer := otel.Tracer("fluxion-http-task")

	execute := func(ctx context.Context, input map[string]any) (map[string]any, error) {
		if breaker != nil && !breaker.Allow() {
			return nil, fmt.Errorf("http task %s: circuit open", spec.ID)
		}

		ctx, span := tracer.Start(ctx, "http_task.execute", trace.WithAttributes(
			attribute.String("task_id", spec.ID),
			attribute.String("url", spec.URL),
		))
		defer span.End()

		url := resolveTemplate(spec.URL, input)
		method := spec.Method
		if method == "" {
			method = http.MethodPost
		}

		var body io.Reader
		if spec.Body != nil {
			bodyJSON, err := json.Marshal(spec.Body)
			if err != nil {
				recordResult(breaker, false)
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			body = strings.NewReader(resolveTemplate(string(bodyJSON), input))
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			recordResult(breaker, false)
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Task-ID", spec.ID)
		for k, v := range spec.Headers {
			req.Header.Set(k, resolveTemplate(v, input))
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation(req.Header))

		resp, err := client.Do(req)
		if err != nil {
			recordResult(breaker, false)
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			recordResult(breaker, false)
			return nil, fmt.Errorf("read response: %w", err)
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		if resp.StatusCode >= 400 {
			recordResult(breaker, false)
			return nil, fmt.Errorf("http error %d: %s", resp.StatusCode, string(respBody))
		}
		recordResult(breaker, true)

		var result map[string]any
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, &result); err != nil {
				result = map[string]any{"body": string(respBody), "status_code": resp.StatusCode}
			}
		} else {
			result = map[string]any{"status_code": resp.StatusCode}
		}
		return result, nil
	}

	return workflow.Task{ID: spec.ID, Execute: execute}
}

func recordResult(breaker *resilience.CircuitBreaker, success bool) {
	if breaker != nil {
		breaker.RecordResult(success)
	}
}

// resolveTemplate replaces {{key}} with fmt.Sprint(input[key]) for every
// top-level key in input. Nested fields aren't addressable; a task that
// needs one should flatten it into its own context key beforehand.
func resolveTemplate(template string, input map[string]any) string {
	result := template
	for key, value := range input {
		placeholder := "{{" + key + "}}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
	}
	return result
}

type headerCarrier http.Header

func propagation(h http.Header) headerCarrier { return headerCarrier(h) }

func (hc headerCarrier) Get(key string) string   { return http.Header(hc).Get(key) }
func (hc headerCarrier) Set(key, value string)   { http.Header(hc).Set(key, value) }
func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc))
	for k := range hc {
		keys = append(keys, k)
	}
	return keys
}
