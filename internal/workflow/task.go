package workflow

import (
	"context"
	"strings"
	"time"
)

// ExecuteFunc is the shape every registered task implementation satisfies.
// It receives the merged input context (§4.5 context assembly) and returns
// the output context that becomes the task's persisted context row.
type ExecuteFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// BackoffKind selects how RetryPolicy computes the delay before a retry.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryCondition classifies which errors are eligible for retry.
type RetryCondition string

const (
	RetryNever         RetryCondition = "never"
	RetryAllErrors     RetryCondition = "all_errors"
	RetryTransientOnly RetryCondition = "transient_only"
	RetryErrorPattern  RetryCondition = "error_pattern"
)

// RetryPolicy governs backoff and eligibility for a task's failure path,
// mirroring the teacher's dag_engine.RetryPolicy generalized with the three
// backoff shapes and four retry-condition kinds the spec names.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Base        float64 // used by BackoffExponential
	Backoff     BackoffKind
	Condition   RetryCondition
	Patterns    []string // used by RetryErrorPattern
	Jitter      bool
}

// DefaultRetryPolicy matches the spec's stated defaults: 3 attempts,
// exponential backoff, transient-only eligibility, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		InitialWait: time.Second,
		MaxWait:     time.Minute,
		Multiplier:  2.0,
		Base:        2.0,
		Backoff:     BackoffExponential,
		Condition:   RetryTransientOnly,
		Jitter:      true,
	}
}

// Delay computes the backoff for the given 1-based attempt number.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = time.Duration(float64(p.InitialWait) * float64(attempt) * mulOrOne(p.Multiplier))
	case BackoffExponential:
		base := p.Base
		if base <= 0 {
			base = 2.0
		}
		d = time.Duration(float64(p.InitialWait) * mulOrOne(p.Multiplier) * pow(base, attempt-1))
	default: // BackoffFixed
		d = p.InitialWait
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	if d < 0 {
		d = 0
	}
	return d
}

func mulOrOne(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// transientSubstrings are the case-insensitive markers the spec defines as
// making an error message "transient" absent a more specific classification.
var transientSubstrings = []string{"timeout", "connection", "network", "temporary", "unavailable"}

// IsTransient classifies err per §4.5: timeouts, connection/network errors,
// and messages containing one of the transient substrings are transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ShouldRetry applies the policy's retry condition to a failed attempt.
// It does not consult max_attempts; callers check attempt >= max_attempts
// separately since that bound is enforced regardless of condition.
func (p RetryPolicy) ShouldRetry(err error) bool {
	switch p.Condition {
	case RetryNever:
		return false
	case RetryAllErrors:
		return true
	case RetryErrorPattern:
		msg := strings.ToLower(err.Error())
		for _, pat := range p.Patterns {
			if strings.Contains(msg, strings.ToLower(pat)) {
				return true
			}
		}
		return false
	case RetryTransientOnly:
		fallthrough
	default:
		return IsTransient(err)
	}
}

// TriggerOperator is a ContextValue leaf condition's comparison operator.
type TriggerOperator string

const (
	OpEquals      TriggerOperator = "equals"
	OpNotEquals   TriggerOperator = "not_equals"
	OpGreaterThan TriggerOperator = "greater_than"
	OpLessThan    TriggerOperator = "less_than"
	OpContains    TriggerOperator = "contains"
	OpNotContains TriggerOperator = "not_contains"
	OpExists      TriggerOperator = "exists"
	OpNotExists   TriggerOperator = "not_exists"
)

// TriggerRuleKind selects which node of the trigger-rule tree a TriggerRule
// represents. The zero value "" is evaluated like RuleAlways, the
// permissive default for tasks that don't specify trigger rules.
type TriggerRuleKind string

const (
	RuleAlways       TriggerRuleKind = "always"
	RuleAll          TriggerRuleKind = "all"
	RuleAny          TriggerRuleKind = "any"
	RuleNone         TriggerRuleKind = "none"
	RuleTaskSuccess  TriggerRuleKind = "task_success"
	RuleTaskFailed   TriggerRuleKind = "task_failed"
	RuleTaskSkipped  TriggerRuleKind = "task_skipped"
	RuleContextValue TriggerRuleKind = "context_value"
)

// TriggerRule is one node of the opaque trigger-rule tree attached to a
// task. It is JSON-serializable so it can be persisted verbatim as the
// TaskExecution.TriggerRules opaque field.
type TriggerRule struct {
	Kind     TriggerRuleKind `json:"kind"`
	Children []TriggerRule   `json:"children,omitempty"`
	TaskName string          `json:"task_name,omitempty"`
	Key      string          `json:"key,omitempty"`
	Operator TriggerOperator `json:"operator,omitempty"`
	Value    any             `json:"value,omitempty"`
}

// Always builds the trivially-true trigger rule, the default for tasks that
// don't customize scheduling.
func Always() TriggerRule { return TriggerRule{Kind: RuleAlways} }

// All builds a conjunction of child rules.
func All(children ...TriggerRule) TriggerRule {
	return TriggerRule{Kind: RuleAll, Children: children}
}

// Any builds a disjunction of child rules.
func Any(children ...TriggerRule) TriggerRule {
	return TriggerRule{Kind: RuleAny, Children: children}
}

// None builds a rule true iff no child rule is true.
func None(children ...TriggerRule) TriggerRule {
	return TriggerRule{Kind: RuleNone, Children: children}
}

// TaskSuccess builds a leaf rule true iff the named dependency completed.
func TaskSuccess(name string) TriggerRule { return TriggerRule{Kind: RuleTaskSuccess, TaskName: name} }

// TaskFailed builds a leaf rule true iff the named dependency failed.
func TaskFailed(name string) TriggerRule { return TriggerRule{Kind: RuleTaskFailed, TaskName: name} }

// TaskSkipped builds a leaf rule true iff the named dependency was skipped.
func TaskSkipped(name string) TriggerRule { return TriggerRule{Kind: RuleTaskSkipped, TaskName: name} }

// ContextValue builds a leaf rule comparing a merged-context key against value.
func ContextValue(key string, op TriggerOperator, value any) TriggerRule {
	return TriggerRule{Kind: RuleContextValue, Key: key, Operator: op, Value: value}
}

// Task is one node of a Workflow's DAG. It is a definition, never persisted
// directly — TaskExecution rows are what the scheduler and executor mutate.
type Task struct {
	ID              string
	Dependencies    []string
	RetryPolicy     RetryPolicy
	TriggerRules    TriggerRule
	CodeFingerprint string
	Execute         ExecuteFunc
}
