package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
	"github.com/pagepilot-ai/pagepilot/internal/observability"
)

var (
	runGoal     string
	runURL      string
	runTenant   string
	runUser     string
	runSession  string
	runMaxSteps int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a task and drive it to completion against a live browser.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runTask(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&runGoal, "goal", "", "human-level goal for the task (required)")
	runCmd.Flags().StringVar(&runURL, "url", "", "URL the task starts on (required)")
	runCmd.Flags().StringVar(&runTenant, "tenant", "default", "tenant the task belongs to")
	runCmd.Flags().StringVar(&runUser, "user", "local", "user the task belongs to")
	runCmd.Flags().StringVar(&runSession, "session", "", "session id for session-scoped memory (defaults to a fresh id)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 25, "abort after this many steps")
	_ = runCmd.MarkFlagRequired("goal")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}

func runTask(ctx context.Context) error {
	logger := observability.GetLogger()

	comps, err := buildComponents(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		comps.Shutdown(shutdownCtx)
	}()

	session := runSession
	if session == "" {
		session = fmt.Sprintf("session-%d", time.Now().Unix())
	}
	task, err := comps.engine.CreateTask(ctx, engine.CreateTaskRequest{
		TenantID:  runTenant,
		UserID:    runUser,
		SessionID: session,
		Goal:      runGoal,
		TargetURL: runURL,
	})
	if err != nil {
		return err
	}
	logger.Info("Running task",
		zap.String("task_id", task.TaskID),
		zap.String("goal", task.Goal),
		zap.String("url", task.TargetURL))

	// The first step starts from a navigation to the target URL so the
	// engine has a page to reason about.
	rawDOM, err := bootstrapPage(ctx, comps, task)
	if err != nil {
		return err
	}

	for step := 0; step < runMaxSteps; step++ {
		result, err := comps.engine.SubmitStep(ctx, task.TenantID, task.TaskID, rawDOM)
		if err != nil {
			if errors.Is(err, engine.ErrNoCandidate) {
				logger.Warn("Proposer produced no usable action, retrying step")
				continue
			}
			return err
		}

		task = result.Task
		if result.Message != "" {
			logger.Info("Step message", zap.String("message", result.Message))
		}
		switch task.Status {
		case schemas.StatusCompleted:
			logger.Info("Task completed", zap.Int("steps", task.CurrentStepIndex))
			return nil
		case schemas.StatusFailed:
			return fmt.Errorf("task failed: %s", task.LastFailureReason)
		case schemas.StatusAwaitingUser:
			logger.Warn("Task paused on a blocker; resume it with `pagepilot resume`",
				zap.String("task_id", task.TaskID),
				zap.String("blocker", task.BlockerContext.Message))
			return nil
		}
		if result.Record != nil && result.Record.DOMSnapshot != "" {
			rawDOM = result.Record.DOMSnapshot
		}
	}
	return fmt.Errorf("task %s did not finish within %d steps", task.TaskID, runMaxSteps)
}

// bootstrapPage opens the task's tab on the target URL and returns the
// initial DOM capture.
func bootstrapPage(ctx context.Context, comps *components, task *schemas.Task) (string, error) {
	applied, err := comps.actuator.Apply(ctx, task.TaskID, schemas.Action{
		Type:  schemas.ActionNavigate,
		Value: task.TargetURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open target page: %w", err)
	}
	return applied.DOMSnapshot, nil
}
