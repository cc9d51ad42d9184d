package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
)

// ActionStore persists the append-only step log. The primary key on
// (tenant_id, task_id, step_index) is the engine's idempotence guard.
type ActionStore struct {
	pool DBPool
	log  *zap.Logger
}

const actionColumns = `tenant_id, task_id, step_index, thought, action, expected_outcome,
       dom_snapshot, metrics, created_at`

// Append inserts exactly one new TaskAction. A write colliding on the step
// index comes back as PersistenceConflictError so the engine can return the
// already-recorded step instead of re-executing it.
func (a *ActionStore) Append(ctx context.Context, action *schemas.TaskAction) error {
	actionJSON, err := json.Marshal(action.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	outcomeJSON, err := json.Marshal(action.ExpectedOutcome)
	if err != nil {
		return fmt.Errorf("failed to marshal expected outcome: %w", err)
	}
	metricsJSON, err := json.Marshal(action.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = a.pool.Exec(ctx, `
        INSERT INTO task_actions (`+actionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `,
		action.TenantID, action.TaskID, action.StepIndex,
		action.Thought, actionJSON, outcomeJSON,
		action.DOMSnapshot, metricsJSON, action.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &engine.PersistenceConflictError{TaskID: action.TaskID, StepIndex: action.StepIndex}
		}
		return fmt.Errorf("failed to insert task action: %w", err)
	}
	return nil
}

// Get fetches the action recorded at one step index.
func (a *ActionStore) Get(ctx context.Context, tenantID, taskID string, stepIndex int) (*schemas.TaskAction, error) {
	row := a.pool.QueryRow(ctx, `
        SELECT `+actionColumns+`
        FROM task_actions
        WHERE tenant_id = $1 AND task_id = $2 AND step_index = $3;
    `, tenantID, taskID, stepIndex)

	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &engine.NotFoundError{Kind: "task_action", ID: fmt.Sprintf("%s/%d", taskID, stepIndex)}
		}
		return nil, fmt.Errorf("failed to fetch task action: %w", err)
	}
	return action, nil
}

// ListByTask returns the task's actions ordered by step index ascending.
// That ordering is the only guarantee downstream consumers may rely on.
func (a *ActionStore) ListByTask(ctx context.Context, tenantID, taskID string) ([]*schemas.TaskAction, error) {
	rows, err := a.pool.Query(ctx, `
        SELECT `+actionColumns+`
        FROM task_actions
        WHERE tenant_id = $1 AND task_id = $2
        ORDER BY step_index ASC;
    `, tenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task actions: %w", err)
	}
	defer rows.Close()

	var actions []*schemas.TaskAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task action row: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func scanAction(row pgx.Row) (*schemas.TaskAction, error) {
	var action schemas.TaskAction
	var actionJSON, outcomeJSON, metricsJSON []byte

	err := row.Scan(
		&action.TenantID, &action.TaskID, &action.StepIndex,
		&action.Thought, &actionJSON, &outcomeJSON,
		&action.DOMSnapshot, &metricsJSON, &action.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(actionJSON, &action.Action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action: %w", err)
	}
	if err := json.Unmarshal(outcomeJSON, &action.ExpectedOutcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal expected outcome: %w", err)
	}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &action.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	return &action, nil
}

// isUniqueViolation reports PostgreSQL unique-constraint violations
// (SQLSTATE 23505), even when wrapped.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ engine.ActionRepository = (*ActionStore)(nil)
