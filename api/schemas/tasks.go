package schemas

import "time"

// -- Task Schemas --

// TaskStatus is the lifecycle state of a task. Transitions are owned
// exclusively by the engine; nothing else writes this field.
type TaskStatus string

const (
	StatusActive       TaskStatus = "active"
	StatusPlanning     TaskStatus = "planning"
	StatusExecuting    TaskStatus = "executing"
	StatusVerifying    TaskStatus = "verifying"
	StatusCorrecting   TaskStatus = "correcting"
	StatusAwaitingUser TaskStatus = "awaiting_user"
	StatusInterrupted  TaskStatus = "interrupted"
	StatusCompleted    TaskStatus = "completed"
	StatusFailed       TaskStatus = "failed"
)

// IsActiveFamily reports whether the status counts as "in flight" for the
// purposes of the stale-task reaper and active-task listings.
func (s TaskStatus) IsActiveFamily() bool {
	switch s {
	case StatusActive, StatusPlanning, StatusExecuting, StatusVerifying, StatusCorrecting:
		return true
	}
	return false
}

// IsTerminal reports whether the status can never progress again without an
// explicit resume (interrupted) or at all (completed, failed).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted:
		return true
	}
	return false
}

// BlockerContext explains why a task entered awaiting_user. It is surfaced to
// the human who has to act on it, so Message must be meaningful on its own.
type BlockerContext struct {
	Kind    string `json:"kind"` // "login", "mfa", "captcha", ...
	Message string `json:"message"`
}

// Task is one in-flight or completed multi-step browsing job. Exactly one
// Task exists per (TenantID, TaskID).
type Task struct {
	TaskID    string `json:"task_id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	Goal      string `json:"goal"`
	TargetURL string `json:"target_url"` // URL of the tab the task operates on.
	Domain    string `json:"domain"`     // Hostname, scopes the skill library.

	Status TaskStatus `json:"status"`

	// CurrentStepIndex is the authoritative ordering of steps. It only ever
	// advances forward, by exactly one per applied step.
	CurrentStepIndex int `json:"current_step_index"`

	// Memory is the task-scoped key/value map. It lives and dies with the
	// task; data escapes to session scope only through an explicit export.
	Memory map[string]any `json:"memory,omitempty"`

	// BlockerContext and PausedAt are set only while awaiting_user and are
	// cleared atomically with the status flip on resume.
	BlockerContext *BlockerContext `json:"blocker_context,omitempty"`
	PausedAt       *time.Time      `json:"paused_at,omitempty"`

	// UserResolutionData is the transient payload a human supplied to unblock
	// a paused task. The next step consumes it; afterwards it is discardable.
	UserResolutionData map[string]any `json:"user_resolution_data,omitempty"`

	// LastFailureReason carries the last verification or actuator failure so
	// a failed task never surfaces a generic message.
	LastFailureReason string `json:"last_failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepMetrics holds observability-only data about a step. Nothing may depend
// on it for correctness.
type StepMetrics struct {
	ProposeDuration time.Duration `json:"propose_duration,omitempty"`
	ApplyDuration   time.Duration `json:"apply_duration,omitempty"`
	VerifyDuration  time.Duration `json:"verify_duration,omitempty"`
	PromptTokens    int           `json:"prompt_tokens,omitempty"`
	OutputTokens    int           `json:"output_tokens,omitempty"`
	Corrections     int           `json:"corrections,omitempty"`
}

// TaskAction is the immutable record of one executed step. It is unique on
// (TenantID, TaskID, StepIndex); that constraint is the replay guard, so a
// retried write for an already-recorded step must be rejected by the store,
// never overwritten.
type TaskAction struct {
	TenantID  string `json:"tenant_id"`
	TaskID    string `json:"task_id"`
	StepIndex int    `json:"step_index"`

	Thought         string          `json:"thought,omitempty"`
	Action          Action          `json:"action"`
	ExpectedOutcome ExpectedOutcome `json:"expected_outcome"`

	// DOMSnapshot is the post-action DOM, usually skeletonized.
	DOMSnapshot string `json:"dom_snapshot,omitempty"`

	Metrics   StepMetrics `json:"metrics,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
