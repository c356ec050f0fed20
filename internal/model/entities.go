package model

import "time"

// PipelineStatus is the lifecycle state of one workflow run.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
	PipelineCancelled PipelineStatus = "cancelled"
)

// TaskExecStatus is the lifecycle state of one task within a pipeline.
type TaskExecStatus string

const (
	TaskNotStarted TaskExecStatus = "not_started"
	TaskReady      TaskExecStatus = "ready"
	TaskRunning    TaskExecStatus = "running"
	TaskCompleted  TaskExecStatus = "completed"
	TaskFailed     TaskExecStatus = "failed"
	TaskSkipped    TaskExecStatus = "skipped"
)

// Terminal reports whether status is one of the three terminal task states.
func (s TaskExecStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// TaskSubStatus refines a non-terminal task row with scheduling detail.
type TaskSubStatus string

const (
	SubStatusNone     TaskSubStatus = ""
	SubStatusActive   TaskSubStatus = "active"
	SubStatusDeferred TaskSubStatus = "deferred"
)

// PipelineExecution is one run of a named, versioned workflow.
type PipelineExecution struct {
	ID              ID
	WorkflowName    string
	WorkflowVersion string
	Status          PipelineStatus
	ContextID       ID
	StartedAt       time.Time
	CompletedAt     *time.Time
	ErrorDetails    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TaskExecution is the persisted per-run record for one task within a pipeline.
type TaskExecution struct {
	ID                ID
	PipelineExecution ID
	TaskName          string
	Status            TaskExecStatus
	SubStatus         TaskSubStatus
	Attempt           int
	MaxAttempts       int
	StartedAt         *time.Time
	CompletedAt       *time.Time
	RetryAt           *time.Time
	LastError         string
	ErrorDetails      string
	RecoveryAttempts  int
	LastRecoveryAt    *time.Time
	TriggerRules      string // opaque serialized trigger rule tree
	TaskConfiguration string // opaque serialized task configuration
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Context is an append-often key/value map persisted once per write.
type Context struct {
	ID        ID
	Data      map[string]any
	CreatedAt time.Time
}

// TaskOutboxEntry is a push hint; its absence never affects correctness.
type TaskOutboxEntry struct {
	TaskExecutionID ID
	CreatedAt       time.Time
}

// Stable event_type strings, per §6.
const (
	EventTaskMarkedReady    = "TaskMarkedReady"
	EventTaskClaimed        = "TaskClaimed"
	EventTaskCompleted      = "TaskCompleted"
	EventTaskFailed         = "TaskFailed"
	EventTaskRetryScheduled = "TaskRetryScheduled"
	EventTaskSkipped        = "TaskSkipped"
	EventTaskAbandoned      = "TaskAbandoned"
	EventTaskDeferred       = "TaskDeferred"
	EventTaskResumed        = "TaskResumed"
	EventTaskReset          = "TaskReset"
	EventPipelineStarted    = "PipelineStarted"
	EventPipelineCompleted  = "PipelineCompleted"
	EventPipelineFailed     = "PipelineFailed"
	EventPipelineCancelled  = "PipelineCancelled"

	// Trust and package audit events (Supplemented Feature #3).
	EventKeyCreated         = "key_created"
	EventKeyRevoked         = "key_revoked"
	EventKeyExported        = "key_exported"
	EventTrustGranted       = "trust_granted"
	EventTrustRevoked       = "trust_revoked"
	EventTrustedKeyAdded    = "trusted_key_added"
	EventTrustedKeyRevoked  = "trusted_key_revoked"
)

// ExecutionEvent is an append-only audit record.
type ExecutionEvent struct {
	ID                  ID
	PipelineExecutionID *ID
	TaskExecutionID     *ID
	EventType           string
	EventData           map[string]any
	WorkerID            string
	CreatedAt           time.Time
}

// SigningKey belongs to an organisation and wraps an encrypted Ed25519 private key.
type SigningKey struct {
	ID                  ID
	OrgID               string
	KeyName             string
	EncryptedPrivateKey []byte
	PublicKey           [32]byte
	KeyFingerprint      string
	CreatedAt           time.Time
	RevokedAt           *time.Time
}

// TrustedKey records that an org trusts a specific public key.
type TrustedKey struct {
	ID             ID
	OrgID          string
	KeyFingerprint string
	PublicKey      [32]byte
	KeyName        string
	TrustedAt      time.Time
	RevokedAt      *time.Time
}

// TrustAcl is a directed, non-transitive trust edge between two orgs.
type TrustAcl struct {
	ParentOrgID string
	ChildOrgID  string
	GrantedAt   time.Time
	RevokedAt   *time.Time
}

// WorkflowPackage is the metadata row for a signed, stored workflow package.
type WorkflowPackage struct {
	ID          ID
	RegistryID  string
	Tenant      string
	Name        string
	Version     string
	Description string
	Author      string
	Metadata    string // serialized task list and graph (manifest-derived)
	StorageType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
