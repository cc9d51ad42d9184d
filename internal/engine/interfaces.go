package engine

import (
	"context"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/domproc"
	"github.com/pagepilot-ai/pagepilot/internal/skills"
	"github.com/pagepilot-ai/pagepilot/internal/verifier"
)

// -- Persistence interfaces (implemented by internal/store) --

// TaskRepository is the typed persistence surface for Task aggregates. The
// engine never touches a raw document store directly.
type TaskRepository interface {
	Create(ctx context.Context, task *schemas.Task) error
	Get(ctx context.Context, tenantID, taskID string) (*schemas.Task, error)
	Update(ctx context.Context, task *schemas.Task) error
	// ListActive returns the tenant/user's active-family tasks, most
	// recently updated first.
	ListActive(ctx context.Context, tenantID, userID string) ([]*schemas.Task, error)
}

// ActionRepository persists the append-only step log. Append must surface a
// PersistenceConflictError when the (tenant, task, stepIndex) key already
// exists, and ListByTask must return records in non-decreasing stepIndex
// order; wall-clock timestamps are informational only.
type ActionRepository interface {
	Append(ctx context.Context, action *schemas.TaskAction) error
	Get(ctx context.Context, tenantID, taskID string, stepIndex int) (*schemas.TaskAction, error)
	ListByTask(ctx context.Context, tenantID, taskID string) ([]*schemas.TaskAction, error)
}

// -- Collaborator interfaces (out-of-scope components, consumed narrowly) --

// Proposal is the LLM collaborator's candidate next step with its expected
// outcome.
type Proposal struct {
	Thought         string                  `json:"thought"`
	Action          schemas.Action          `json:"action"`
	ExpectedOutcome schemas.ExpectedOutcome `json:"expected_outcome"`
	PromptTokens    int                     `json:"-"`
	OutputTokens    int                     `json:"-"`
}

// ProposeRequest carries everything the proposer may condition on. Prompt
// composition is the proposer's concern, not the engine's.
type ProposeRequest struct {
	Task    *schemas.Task
	History []schemas.TaskAction
	Memory  map[string]any

	// DOMSkeleton is the skeletonized snapshot of the current page.
	DOMSkeleton string

	// Correction fields, set only in the correction sub-flow.
	FailedAction  *schemas.Action
	FailureReason string
	SkillHints    []schemas.SkillHint

	// UserResolutionData is present on the first step after a resume.
	UserResolutionData map[string]any
}

// Proposer obtains the next candidate action. A malformed response must come
// back as ErrNoCandidate, never as a crash.
type Proposer interface {
	Propose(ctx context.Context, req ProposeRequest) (*Proposal, error)
}

// ApplyResult is what the actuator observed after applying an action.
type ApplyResult struct {
	DOMSnapshot string
	URL         string
}

// Actuator applies an action in the remote browser and returns the new DOM
// snapshot. Errors classify as ActuatorError and route straight to the
// correction path, bypassing verification.
type Actuator interface {
	Apply(ctx context.Context, taskID string, action schemas.Action) (*ApplyResult, error)
}

// MemoryActions is the slice of the memory service the step loop dispatches
// to when the proposed action is remember/recall/exportToSession. RecallAll
// supplies the task-scoped snapshot handed to the proposer.
type MemoryActions interface {
	HandleMemoryAction(ctx context.Context, taskID, sessionID string, action schemas.Action) (string, any, error)
	RecallAll(ctx context.Context, taskID string) (map[string]any, error)
}

// SkillLookup is the slice of the skill library the engine consumes.
type SkillLookup interface {
	Lookup(ctx context.Context, tenantID, domain, goal string, opts skills.LookupOptions) ([]schemas.SkillHint, error)
	Record(ctx context.Context, tenantID, domain, goal string, failed schemas.FailedState, successful schemas.SuccessfulAction) error
	Penalize(ctx context.Context, tenantID, domain, goal, failedAction string) error
}

// DOMProcessor is the slice of the normalizer the engine uses per step.
type DOMProcessor interface {
	Normalize(rawDOM string) string
	Skeletonize(rawDOM string) (domproc.SkeletonResult, error)
	Hash(cleanedDOM string, maxBytes int) string
}

// OutcomeVerifier decides PASS/FAIL for one applied step.
type OutcomeVerifier interface {
	Verify(beforeDOM, afterDOM, beforeURL, afterURL string, expected schemas.ExpectedOutcome) verifier.Result
}
