package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
)

// TaskStore persists Task aggregates.
type TaskStore struct {
	pool DBPool
	log  *zap.Logger
}

const taskColumns = `tenant_id, task_id, user_id, session_id, goal, target_url, domain, status,
       current_step_index, memory, blocker_context, paused_at, user_resolution,
       last_failure_reason, created_at, updated_at`

// Create inserts a new task. Inserting an existing (tenant, task) pair is a
// PersistenceConflictError.
func (t *TaskStore) Create(ctx context.Context, task *schemas.Task) error {
	memoryJSON, blockerJSON, resolutionJSON, err := marshalTaskJSON(task)
	if err != nil {
		return err
	}

	_, err = t.pool.Exec(ctx, `
        INSERT INTO tasks (`+taskColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
    `,
		task.TenantID, task.TaskID, task.UserID, task.SessionID,
		task.Goal, task.TargetURL, task.Domain, string(task.Status),
		task.CurrentStepIndex, memoryJSON, blockerJSON, task.PausedAt, resolutionJSON,
		task.LastFailureReason, task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &engine.PersistenceConflictError{TaskID: task.TaskID}
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get fetches one task by its identity.
func (t *TaskStore) Get(ctx context.Context, tenantID, taskID string) (*schemas.Task, error) {
	row := t.pool.QueryRow(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE tenant_id = $1 AND task_id = $2;
    `, tenantID, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &engine.NotFoundError{Kind: "task", ID: taskID}
		}
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	return task, nil
}

// Update writes the task back. UpdatedAt is stamped here so every mutation
// through the state machine refreshes the staleness clock.
func (t *TaskStore) Update(ctx context.Context, task *schemas.Task) error {
	memoryJSON, blockerJSON, resolutionJSON, err := marshalTaskJSON(task)
	if err != nil {
		return err
	}

	task.UpdatedAt = time.Now().UTC()
	tag, err := t.pool.Exec(ctx, `
        UPDATE tasks SET
            status = $3,
            current_step_index = $4,
            memory = $5,
            blocker_context = $6,
            paused_at = $7,
            user_resolution = $8,
            last_failure_reason = $9,
            target_url = $10,
            updated_at = $11
        WHERE tenant_id = $1 AND task_id = $2;
    `,
		task.TenantID, task.TaskID,
		string(task.Status), task.CurrentStepIndex, memoryJSON,
		blockerJSON, task.PausedAt, resolutionJSON,
		task.LastFailureReason, task.TargetURL, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &engine.NotFoundError{Kind: "task", ID: task.TaskID}
	}
	return nil
}

// ListActive returns the tenant/user's active-family tasks, most recently
// updated first.
func (t *TaskStore) ListActive(ctx context.Context, tenantID, userID string) ([]*schemas.Task, error) {
	rows, err := t.pool.Query(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE tenant_id = $1 AND user_id = $2
          AND status IN ('active', 'planning', 'executing', 'verifying', 'correcting')
        ORDER BY updated_at DESC;
    `, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schemas.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func marshalTaskJSON(task *schemas.Task) (memory, blocker, resolution []byte, err error) {
	if task.Memory == nil {
		memory = []byte("{}")
	} else if memory, err = json.Marshal(task.Memory); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal task memory: %w", err)
	}
	if task.BlockerContext != nil {
		if blocker, err = json.Marshal(task.BlockerContext); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal blocker context: %w", err)
		}
	}
	if task.UserResolutionData != nil {
		if resolution, err = json.Marshal(task.UserResolutionData); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal user resolution data: %w", err)
		}
	}
	return memory, blocker, resolution, nil
}

func scanTask(row pgx.Row) (*schemas.Task, error) {
	var task schemas.Task
	var statusStr string
	var memoryJSON, blockerJSON, resolutionJSON []byte

	err := row.Scan(
		&task.TenantID, &task.TaskID, &task.UserID, &task.SessionID,
		&task.Goal, &task.TargetURL, &task.Domain, &statusStr,
		&task.CurrentStepIndex, &memoryJSON, &blockerJSON, &task.PausedAt, &resolutionJSON,
		&task.LastFailureReason, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = schemas.TaskStatus(statusStr)
	if len(memoryJSON) > 0 {
		if err := json.Unmarshal(memoryJSON, &task.Memory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task memory: %w", err)
		}
	}
	if len(blockerJSON) > 0 {
		task.BlockerContext = &schemas.BlockerContext{}
		if err := json.Unmarshal(blockerJSON, task.BlockerContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal blocker context: %w", err)
		}
	}
	if len(resolutionJSON) > 0 {
		if err := json.Unmarshal(resolutionJSON, &task.UserResolutionData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user resolution data: %w", err)
		}
	}
	return &task, nil
}

var _ engine.TaskRepository = (*TaskStore)(nil)
