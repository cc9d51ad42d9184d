package engine

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

// ReapStaleTasks flips active-family tasks whose last update is older than
// the configured threshold to interrupted, and returns how many it reaped.
// There is no background goroutine; the reaper runs lazily at the top of
// every active-task read, so a crashed agent's tasks are healed the moment
// anyone looks for them.
func (e *Engine) ReapStaleTasks(ctx context.Context, tenantID, userID string) (int, error) {
	active, err := e.tasks.ListActive(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}

	cutoff := e.now().UTC().Add(-e.cfg.StaleTaskThreshold)
	reaped := 0
	for _, task := range active {
		if !task.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := setStatus(task, schemas.StatusInterrupted); err != nil {
			return reaped, err
		}
		if err := e.tasks.Update(ctx, task); err != nil {
			return reaped, err
		}
		reaped++
		e.logger.Warn("Reaped stale task",
			zap.String("task_id", task.TaskID),
			zap.Time("last_update", task.UpdatedAt))
	}
	return reaped, nil
}

// GetActiveTask finds the task the user is most plausibly continuing on the
// given page. Stale tasks are reaped first; among the survivors an exact URL
// match wins, then any task on the same origin, then simply the most
// recently updated one. No active task at all is a typed miss.
func (e *Engine) GetActiveTask(ctx context.Context, tenantID, userID, currentURL string) (*schemas.Task, error) {
	if _, err := e.ReapStaleTasks(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	active, err := e.tasks.ListActive(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, &NotFoundError{Kind: "task", ID: "active for " + userID}
	}

	for _, task := range active {
		if task.TargetURL == currentURL {
			return task, nil
		}
	}
	if origin := urlOrigin(currentURL); origin != "" {
		for _, task := range active {
			if urlOrigin(task.TargetURL) == origin {
				return task, nil
			}
		}
	}
	// ListActive orders by recency, so the head is the fallback winner.
	return active[0], nil
}

// ResumeTask moves a paused or interrupted task back into execution. The
// blocker context and pause timestamp are cleared in the same write as the
// status flip; a half-resumed task must never be observable. The optional
// userResolutionData is stashed for the next proposal to consume.
func (e *Engine) ResumeTask(ctx context.Context, tenantID, taskID string, userResolutionData map[string]any) (*schemas.Task, error) {
	task, err := e.tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	switch task.Status {
	case schemas.StatusAwaitingUser, schemas.StatusInterrupted:
	default:
		return nil, &InvalidTaskStateError{TaskID: taskID, Status: task.Status, Operation: "resume"}
	}

	if err := setStatus(task, schemas.StatusExecuting); err != nil {
		return nil, err
	}
	task.BlockerContext = nil
	task.PausedAt = nil
	task.UserResolutionData = userResolutionData
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	e.logger.Info("Resumed task",
		zap.String("task_id", taskID),
		zap.Bool("with_resolution_data", len(userResolutionData) > 0))
	return task, nil
}

// urlOrigin reduces a URL to scheme://host for same-origin comparison.
func urlOrigin(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}
