package engine

import (
	"errors"
	"fmt"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

// ErrNoCandidate signals that the proposer returned nothing usable (e.g.
// malformed JSON). It is retryable: the caller may simply submit the step
// again. It must never fail the task.
var ErrNoCandidate = errors.New("proposer returned no usable candidate action")

// ErrStepInFlight signals that another step for the same task is currently
// being processed by this instance. Callers should retry after it settles;
// cross-instance races are caught by the persistence uniqueness key instead.
var ErrStepInFlight = errors.New("another step is already in flight for this task")

// ValidationError reports malformed ids or inputs. It is never retried; the
// request is rejected immediately.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError is a typed miss: the record simply does not exist, which
// callers must be able to distinguish from "the lookup failed".
type NotFoundError struct {
	Kind string // "task", "task_action", "memory_key", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// InvalidTaskStateError reports an operation that is not valid for the
// task's current status, e.g. resuming a task that is not paused.
type InvalidTaskStateError struct {
	TaskID    string
	Status    schemas.TaskStatus
	Operation string
}

func (e *InvalidTaskStateError) Error() string {
	return fmt.Sprintf("cannot %s task %q in status %q", e.Operation, e.TaskID, e.Status)
}

// VerificationFailedError carries the verifier's reason. It drives the
// correction path, never a crash.
type VerificationFailedError struct {
	Reason string
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

// ActuatorError classifies a failed remote action application. It routes to
// the correction path like a verification failure, but under a separate
// classification so telemetry can split "agent reasoning wrong" from
// "environment flaky".
type ActuatorError struct {
	Action schemas.ActionType
	Err    error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator failed to apply %q: %v", e.Action, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// PersistenceConflictError reports a unique-constraint violation on the
// (tenant, task, stepIndex) idempotence key. The engine always recovers it
// locally by returning the already-recorded step.
type PersistenceConflictError struct {
	TaskID    string
	StepIndex int
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("step %d of task %q is already recorded", e.StepIndex, e.TaskID)
}
