package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/config"
	"github.com/pagepilot-ai/pagepilot/internal/skills"
)

// Engine is the task state machine. It owns every status transition and the
// append-only step log; collaborators are consumed through narrow interfaces
// so each one can be mocked in isolation.
type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger

	tasks    TaskRepository
	actions  ActionRepository
	memory   MemoryActions
	skills   SkillLookup
	proposer Proposer
	actuator Actuator
	dom      DOMProcessor
	verifier OutcomeVerifier

	// inflight is the per-task guard. It only prevents one process from
	// racing itself; duplicate writes across processes die on the
	// (tenant, task, stepIndex) uniqueness key instead.
	mu       sync.Mutex
	inflight map[string]struct{}

	now func() time.Time
}

// New wires an Engine from its collaborators. Every collaborator is
// required: a nil one is a wiring bug and is caught here, not on the first
// step.
func New(cfg config.EngineConfig, tasks TaskRepository, actions ActionRepository,
	memory MemoryActions, skillLib SkillLookup, proposer Proposer, actuator Actuator,
	dom DOMProcessor, verifier OutcomeVerifier, logger *zap.Logger) (*Engine, error) {

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if tasks == nil {
		return nil, errors.New("task repository cannot be nil")
	}
	if actions == nil {
		return nil, errors.New("action repository cannot be nil")
	}
	if memory == nil {
		return nil, errors.New("memory service cannot be nil")
	}
	if skillLib == nil {
		return nil, errors.New("skill library cannot be nil")
	}
	if proposer == nil {
		return nil, errors.New("proposer cannot be nil")
	}
	if actuator == nil {
		return nil, errors.New("actuator cannot be nil")
	}
	if dom == nil {
		return nil, errors.New("DOM processor cannot be nil")
	}
	if verifier == nil {
		return nil, errors.New("outcome verifier cannot be nil")
	}

	if cfg.MaxCorrectionAttempts <= 0 {
		cfg.MaxCorrectionAttempts = 2
	}
	if cfg.StaleTaskThreshold <= 0 {
		cfg.StaleTaskThreshold = 30 * time.Minute
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		tasks:    tasks,
		actions:  actions,
		memory:   memory,
		skills:   skillLib,
		proposer: proposer,
		actuator: actuator,
		dom:      dom,
		verifier: verifier,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}, nil
}

// CreateTaskRequest carries the inputs for a new task.
type CreateTaskRequest struct {
	TenantID  string
	UserID    string
	SessionID string
	Goal      string
	TargetURL string
}

// CreateTask registers a new task in status active. The skill-library domain
// is derived from the target URL's hostname.
func (e *Engine) CreateTask(ctx context.Context, req CreateTaskRequest) (*schemas.Task, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(req.Goal) == "" {
		return nil, &ValidationError{Field: "goal", Message: "must not be empty"}
	}
	parsed, err := url.Parse(req.TargetURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, &ValidationError{Field: "target_url", Message: "must be an absolute URL"}
	}

	now := e.now().UTC()
	task := &schemas.Task{
		TaskID:    uuid.New().String(),
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Goal:      req.Goal,
		TargetURL: req.TargetURL,
		Domain:    parsed.Hostname(),
		Status:    schemas.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	e.logger.Info("Created task",
		zap.String("task_id", task.TaskID),
		zap.String("tenant_id", task.TenantID),
		zap.String("domain", task.Domain))
	return task, nil
}

// StepResult is the outcome of one SubmitStep call.
type StepResult struct {
	Task   *schemas.Task
	Record *schemas.TaskAction

	// Passed reports the verification verdict for browser actions; memory
	// and control actions always pass.
	Passed bool
	Reason string

	// Message and Value are set for memory actions.
	Message string
	Value   any

	// AlreadyApplied is true when the step log already held this stepIndex
	// and the stored record was returned instead of a new one.
	AlreadyApplied bool
}

// SubmitStep advances the task by exactly one step: propose, apply, verify,
// record. rawDOM is the current capture of the page the task operates on.
// The step log grows by at most one record per call; a replayed call for an
// already-recorded step returns the stored record unchanged.
func (e *Engine) SubmitStep(ctx context.Context, tenantID, taskID, rawDOM string) (*StepResult, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(taskID) == "" {
		return nil, &ValidationError{Field: "task_id", Message: "tenant and task ids must not be empty"}
	}
	if !e.acquire(tenantID, taskID) {
		return nil, ErrStepInFlight
	}
	defer e.release(tenantID, taskID)

	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	task, err := e.tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	switch task.Status {
	case schemas.StatusActive, schemas.StatusExecuting:
	default:
		return nil, &InvalidTaskStateError{TaskID: taskID, Status: task.Status, Operation: "submit a step for"}
	}
	resumeData := task.UserResolutionData

	if err := e.transition(ctx, task, schemas.StatusPlanning); err != nil {
		return nil, err
	}

	beforeDOM := e.dom.Normalize(rawDOM)
	skeleton, err := e.dom.Skeletonize(rawDOM)
	if err != nil {
		e.logger.Warn("Skeletonization failed, prompting with cleaned DOM",
			zap.String("task_id", taskID), zap.Error(err))
		skeleton.Skeleton = beforeDOM
	}

	history, err := e.recentHistory(ctx, task)
	if err != nil {
		return nil, err
	}
	taskMemory, err := e.memory.RecallAll(ctx, task.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task memory: %w", err)
	}

	proposeStart := e.now()
	proposal, err := e.proposer.Propose(ctx, ProposeRequest{
		Task:               task,
		History:            history,
		Memory:             taskMemory,
		DOMSkeleton:        skeleton.Skeleton,
		UserResolutionData: resumeData,
	})
	if err != nil {
		// A bad proposal is retryable; hand the task back to the caller in
		// a submittable state.
		if revertErr := e.transition(ctx, task, schemas.StatusExecuting); revertErr != nil {
			e.logger.Error("Failed to revert status after proposal failure",
				zap.String("task_id", taskID), zap.Error(revertErr))
		}
		return nil, err
	}
	metrics := schemas.StepMetrics{
		ProposeDuration: e.now().Sub(proposeStart),
		PromptTokens:    proposal.PromptTokens,
		OutputTokens:    proposal.OutputTokens,
	}
	// The resolution payload is consumed by exactly one proposal.
	task.UserResolutionData = nil

	e.logger.Info("Proposed action",
		zap.String("task_id", taskID),
		zap.Int("step_index", task.CurrentStepIndex),
		zap.String("action", string(proposal.Action.Type)),
		zap.String("selector", proposal.Action.Selector))

	switch {
	case proposal.Action.Type.IsMemoryAction():
		return e.applyMemoryStep(ctx, task, proposal, metrics)
	case proposal.Action.Type == schemas.ActionFinish:
		return e.applyFinishStep(ctx, task, proposal, metrics)
	case proposal.Action.Type == schemas.ActionAwaitUser:
		return e.applyAwaitUserStep(ctx, task, proposal, metrics)
	default:
		return e.applyBrowserStep(ctx, task, proposal, beforeDOM, metrics)
	}
}

// applyBrowserStep runs the apply/verify leg for an actuator-bound action,
// entering the correction sub-flow on failure.
func (e *Engine) applyBrowserStep(ctx context.Context, task *schemas.Task, proposal *Proposal, beforeDOM string, metrics schemas.StepMetrics) (*StepResult, error) {
	if err := e.transition(ctx, task, schemas.StatusExecuting); err != nil {
		return nil, err
	}

	applyStart := e.now()
	applied, applyErr := e.actuator.Apply(ctx, task.TaskID, proposal.Action)
	metrics.ApplyDuration = e.now().Sub(applyStart)

	var failureReason string
	var errorClass string
	if applyErr != nil {
		failureReason = (&ActuatorError{Action: proposal.Action.Type, Err: applyErr}).Error()
		errorClass = "actuator"
	} else {
		if err := e.transition(ctx, task, schemas.StatusVerifying); err != nil {
			return nil, err
		}
		verifyStart := e.now()
		verdict := e.verifier.Verify(beforeDOM, e.dom.Normalize(applied.DOMSnapshot),
			task.TargetURL, applied.URL, proposal.ExpectedOutcome)
		metrics.VerifyDuration = e.now().Sub(verifyStart)
		if verdict.Passed {
			return e.commitStep(ctx, task, proposal, applied, metrics)
		}
		failureReason = verdict.Reason
		errorClass = "verification"
	}

	return e.runCorrection(ctx, task, proposal, beforeDOM, failureReason, errorClass, metrics)
}

// runCorrection is the bounded recovery sub-flow: look up learned skills,
// re-propose with hints, re-apply and re-verify. A success both commits the
// step and records the correction; exhausting the attempts fails the task.
func (e *Engine) runCorrection(ctx context.Context, task *schemas.Task, failed *Proposal, beforeDOM string, reason, errorClass string, metrics schemas.StepMetrics) (*StepResult, error) {
	if err := e.transition(ctx, task, schemas.StatusCorrecting); err != nil {
		return nil, err
	}
	e.logger.Warn("Step failed, entering correction",
		zap.String("task_id", task.TaskID),
		zap.Int("step_index", task.CurrentStepIndex),
		zap.String("error_class", errorClass),
		zap.String("reason", reason))

	hints, err := e.skills.Lookup(ctx, task.TenantID, task.Domain, task.Goal, skills.LookupOptions{})
	if err != nil {
		e.logger.Error("Skill lookup failed, correcting without hints",
			zap.String("task_id", task.TaskID), zap.Error(err))
		hints = nil
	}

	failedSignature := failed.Action.Signature()
	for attempt := 1; attempt <= e.cfg.MaxCorrectionAttempts; attempt++ {
		metrics.Corrections = attempt

		proposal, err := e.proposer.Propose(ctx, ProposeRequest{
			Task:          task,
			Memory:        nil,
			DOMSkeleton:   beforeDOM,
			FailedAction:  &failed.Action,
			FailureReason: reason,
			SkillHints:    hints,
		})
		if err != nil {
			if errors.Is(err, ErrNoCandidate) {
				continue
			}
			return nil, err
		}
		metrics.PromptTokens += proposal.PromptTokens
		metrics.OutputTokens += proposal.OutputTokens

		applied, applyErr := e.actuator.Apply(ctx, task.TaskID, proposal.Action)
		if applyErr != nil {
			reason = (&ActuatorError{Action: proposal.Action.Type, Err: applyErr}).Error()
			e.penalizeHints(ctx, task, failedSignature, hints)
			continue
		}
		verdict := e.verifier.Verify(beforeDOM, e.dom.Normalize(applied.DOMSnapshot),
			task.TargetURL, applied.URL, proposal.ExpectedOutcome)
		if !verdict.Passed {
			reason = verdict.Reason
			e.penalizeHints(ctx, task, failedSignature, hints)
			continue
		}

		if err := e.skills.Record(ctx, task.TenantID, task.Domain, task.Goal,
			schemas.FailedState{
				Action:     failedSignature,
				Element:    failed.Action.Selector,
				ErrorClass: errorClass,
			},
			schemas.SuccessfulAction{
				Action:   proposal.Action.Signature(),
				Element:  proposal.Action.Selector,
				Strategy: correctionStrategy(proposal),
			}); err != nil {
			e.logger.Error("Failed to record correction skill",
				zap.String("task_id", task.TaskID), zap.Error(err))
		}
		return e.commitStep(ctx, task, proposal, applied, metrics)
	}

	e.logger.Error("Task failed after exhausting corrections",
		zap.String("task_id", task.TaskID),
		zap.Int("attempts", e.cfg.MaxCorrectionAttempts),
		zap.String("reason", reason))
	return e.failTask(ctx, task, reason)
}

// penalizeHints weakens the skill record for the failed signature after a
// hinted correction did not survive verification.
func (e *Engine) penalizeHints(ctx context.Context, task *schemas.Task, failedSignature string, hints []schemas.SkillHint) {
	if len(hints) == 0 {
		return
	}
	if err := e.skills.Penalize(ctx, task.TenantID, task.Domain, task.Goal, failedSignature); err != nil {
		e.logger.Error("Failed to penalize skill",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
}

// correctionStrategy reads the proposer's self-declared technique, collapsing
// anything unknown to "other".
func correctionStrategy(proposal *Proposal) schemas.Strategy {
	if raw, ok := proposal.Action.Metadata["strategy"].(string); ok {
		return schemas.NormalizeStrategy(raw)
	}
	return schemas.StrategyOther
}

// commitStep appends the record for a verified step and advances the task.
// A uniqueness conflict means the step already landed (a replay or a lost
// response); the stored record wins and is returned as-is.
func (e *Engine) commitStep(ctx context.Context, task *schemas.Task, proposal *Proposal, applied *ApplyResult, metrics schemas.StepMetrics) (*StepResult, error) {
	skeleton, err := e.dom.Skeletonize(applied.DOMSnapshot)
	if err != nil {
		skeleton.Skeleton = e.dom.Normalize(applied.DOMSnapshot)
	}

	record := &schemas.TaskAction{
		TenantID:        task.TenantID,
		TaskID:          task.TaskID,
		StepIndex:       task.CurrentStepIndex,
		Thought:         proposal.Thought,
		Action:          proposal.Action,
		ExpectedOutcome: proposal.ExpectedOutcome,
		DOMSnapshot:     skeleton.Skeleton,
		Metrics:         metrics,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.actions.Append(ctx, record); err != nil {
		var conflict *PersistenceConflictError
		if errors.As(err, &conflict) {
			return e.recoverConflict(ctx, task, conflict)
		}
		return nil, fmt.Errorf("failed to append step record: %w", err)
	}

	if err := setStatus(task, schemas.StatusExecuting); err != nil {
		return nil, err
	}
	task.CurrentStepIndex++
	task.TargetURL = applied.URL
	if host := urlHostname(applied.URL); host != "" {
		task.Domain = host
	}
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to advance task: %w", err)
	}

	e.logger.Info("Step committed",
		zap.String("task_id", task.TaskID),
		zap.Int("step_index", record.StepIndex),
		zap.String("action", string(record.Action.Type)),
		zap.Duration("propose", metrics.ProposeDuration),
		zap.Duration("apply", metrics.ApplyDuration),
		zap.Duration("verify", metrics.VerifyDuration),
		zap.Int("corrections", metrics.Corrections))
	return &StepResult{Task: task, Record: record, Passed: true, Reason: "all declared clauses passed"}, nil
}

// applyMemoryStep routes a remember/recall/exportToSession action through the
// memory service. Memory actions do not touch the browser and are not
// verified; a successful dispatch is the outcome.
func (e *Engine) applyMemoryStep(ctx context.Context, task *schemas.Task, proposal *Proposal, metrics schemas.StepMetrics) (*StepResult, error) {
	if err := e.transition(ctx, task, schemas.StatusExecuting); err != nil {
		return nil, err
	}
	message, value, err := e.memory.HandleMemoryAction(ctx, task.TaskID, task.SessionID, proposal.Action)
	if err != nil {
		// Memory failures are not in the correction path and must not kill
		// the task; it stays submittable and the error reaches the caller.
		return nil, fmt.Errorf("memory action %s failed: %w", proposal.Action.Type, err)
	}

	record := &schemas.TaskAction{
		TenantID:        task.TenantID,
		TaskID:          task.TaskID,
		StepIndex:       task.CurrentStepIndex,
		Thought:         proposal.Thought,
		Action:          proposal.Action,
		ExpectedOutcome: proposal.ExpectedOutcome,
		Metrics:         metrics,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.actions.Append(ctx, record); err != nil {
		var conflict *PersistenceConflictError
		if errors.As(err, &conflict) {
			return e.recoverConflict(ctx, task, conflict)
		}
		return nil, fmt.Errorf("failed to append step record: %w", err)
	}

	task.CurrentStepIndex++
	if snapshot, memErr := e.memory.RecallAll(ctx, task.TaskID); memErr == nil {
		task.Memory = snapshot
	}
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to advance task: %w", err)
	}
	return &StepResult{Task: task, Record: record, Passed: true, Message: message, Value: value}, nil
}

// applyFinishStep concludes the task. The finish record is appended like any
// other step so the log tells the whole story.
func (e *Engine) applyFinishStep(ctx context.Context, task *schemas.Task, proposal *Proposal, metrics schemas.StepMetrics) (*StepResult, error) {
	record := &schemas.TaskAction{
		TenantID:        task.TenantID,
		TaskID:          task.TaskID,
		StepIndex:       task.CurrentStepIndex,
		Thought:         proposal.Thought,
		Action:          proposal.Action,
		ExpectedOutcome: proposal.ExpectedOutcome,
		Metrics:         metrics,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.actions.Append(ctx, record); err != nil {
		var conflict *PersistenceConflictError
		if errors.As(err, &conflict) {
			return e.recoverConflict(ctx, task, conflict)
		}
		return nil, fmt.Errorf("failed to append step record: %w", err)
	}

	if err := setStatus(task, schemas.StatusCompleted); err != nil {
		return nil, err
	}
	task.CurrentStepIndex++
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	e.logger.Info("Task completed",
		zap.String("task_id", task.TaskID),
		zap.Int("steps", task.CurrentStepIndex))
	return &StepResult{Task: task, Record: record, Passed: true, Message: proposal.Action.Value}, nil
}

// applyAwaitUserStep pauses the task on a blocker the agent cannot clear
// itself (login walls, MFA prompts, captchas). BlockerContext and PausedAt
// travel together with the status flip.
func (e *Engine) applyAwaitUserStep(ctx context.Context, task *schemas.Task, proposal *Proposal, metrics schemas.StepMetrics) (*StepResult, error) {
	record := &schemas.TaskAction{
		TenantID:        task.TenantID,
		TaskID:          task.TaskID,
		StepIndex:       task.CurrentStepIndex,
		Thought:         proposal.Thought,
		Action:          proposal.Action,
		ExpectedOutcome: proposal.ExpectedOutcome,
		Metrics:         metrics,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.actions.Append(ctx, record); err != nil {
		var conflict *PersistenceConflictError
		if errors.As(err, &conflict) {
			return e.recoverConflict(ctx, task, conflict)
		}
		return nil, fmt.Errorf("failed to append step record: %w", err)
	}

	if err := setStatus(task, schemas.StatusAwaitingUser); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	task.CurrentStepIndex++
	task.BlockerContext = &schemas.BlockerContext{
		Kind:    proposal.Action.BlockerKind,
		Message: proposal.Action.BlockerMessage,
	}
	task.PausedAt = &now
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to pause task: %w", err)
	}
	e.logger.Info("Task awaiting user",
		zap.String("task_id", task.TaskID),
		zap.String("blocker_kind", proposal.Action.BlockerKind))
	return &StepResult{Task: task, Record: record, Passed: true, Message: proposal.Action.BlockerMessage}, nil
}

// recoverConflict resolves an idempotence-key collision by returning the
// record that already won, leaving the task untouched.
func (e *Engine) recoverConflict(ctx context.Context, task *schemas.Task, conflict *PersistenceConflictError) (*StepResult, error) {
	existing, err := e.actions.Get(ctx, task.TenantID, task.TaskID, conflict.StepIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to load already-recorded step %d: %w", conflict.StepIndex, err)
	}
	current, err := e.tasks.Get(ctx, task.TenantID, task.TaskID)
	if err != nil {
		return nil, err
	}
	e.logger.Warn("Step replay detected, returning stored record",
		zap.String("task_id", task.TaskID),
		zap.Int("step_index", conflict.StepIndex))
	return &StepResult{Task: current, Record: existing, Passed: true, AlreadyApplied: true}, nil
}

// failTask moves the task to its terminal failed state with a reason.
func (e *Engine) failTask(ctx context.Context, task *schemas.Task, reason string) (*StepResult, error) {
	if err := setStatus(task, schemas.StatusFailed); err != nil {
		return nil, err
	}
	task.LastFailureReason = reason
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to mark task failed: %w", err)
	}
	return &StepResult{Task: task, Passed: false, Reason: reason}, nil
}

// lifecycleEdges is the authoritative transition table. Planning is entered
// at the top of every step: from active on the first and from executing on
// later ones. Finish and awaitUser conclude from planning because they never
// reach the actuator or verifier, and an actuator error jumps straight from
// executing to correcting, bypassing verification. Any active-family status
// can pause on a blocker or be reaped to interrupted.
var lifecycleEdges = map[schemas.TaskStatus]map[schemas.TaskStatus]bool{
	schemas.StatusActive: {
		schemas.StatusPlanning:     true,
		schemas.StatusAwaitingUser: true,
		schemas.StatusInterrupted:  true,
	},
	schemas.StatusPlanning: {
		schemas.StatusExecuting:    true,
		schemas.StatusCompleted:    true,
		schemas.StatusAwaitingUser: true,
		schemas.StatusInterrupted:  true,
	},
	schemas.StatusExecuting: {
		schemas.StatusPlanning:     true,
		schemas.StatusVerifying:    true,
		schemas.StatusCorrecting:   true,
		schemas.StatusAwaitingUser: true,
		schemas.StatusInterrupted:  true,
	},
	schemas.StatusVerifying: {
		schemas.StatusExecuting:    true,
		schemas.StatusCompleted:    true,
		schemas.StatusCorrecting:   true,
		schemas.StatusAwaitingUser: true,
		schemas.StatusInterrupted:  true,
	},
	schemas.StatusCorrecting: {
		schemas.StatusExecuting:    true,
		schemas.StatusFailed:       true,
		schemas.StatusAwaitingUser: true,
		schemas.StatusInterrupted:  true,
	},
	schemas.StatusAwaitingUser: {
		schemas.StatusExecuting: true,
	},
	schemas.StatusInterrupted: {
		schemas.StatusExecuting: true,
	},
}

// setStatus moves the task along a declared lifecycle edge without
// persisting; callers fold the write into their own Update.
func setStatus(task *schemas.Task, to schemas.TaskStatus) error {
	if !lifecycleEdges[task.Status][to] {
		return &InvalidTaskStateError{
			TaskID:    task.TaskID,
			Status:    task.Status,
			Operation: fmt.Sprintf("transition to %s for", to),
		}
	}
	task.Status = to
	return nil
}

// transition persists a status change immediately so concurrent readers see
// where the task is in its cycle.
func (e *Engine) transition(ctx context.Context, task *schemas.Task, status schemas.TaskStatus) error {
	if err := setStatus(task, status); err != nil {
		return err
	}
	if err := e.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("failed to transition task to %s: %w", status, err)
	}
	return nil
}

// recentHistory returns the newest HistoryWindow records, oldest first.
func (e *Engine) recentHistory(ctx context.Context, task *schemas.Task) ([]schemas.TaskAction, error) {
	all, err := e.actions.ListByTask(ctx, task.TenantID, task.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step history: %w", err)
	}
	if len(all) > e.cfg.HistoryWindow {
		all = all[len(all)-e.cfg.HistoryWindow:]
	}
	history := make([]schemas.TaskAction, 0, len(all))
	for _, record := range all {
		history = append(history, *record)
	}
	return history, nil
}

func (e *Engine) acquire(tenantID, taskID string) bool {
	key := tenantID + "/" + taskID
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(tenantID, taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, tenantID+"/"+taskID)
}

func urlHostname(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
