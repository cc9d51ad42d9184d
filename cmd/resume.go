package cmd

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/internal/observability"
)

var (
	resumeTenant   string
	resumeDataJSON string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused or interrupted task.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()

		var resolution map[string]any
		if resumeDataJSON != "" {
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(resumeDataJSON, &resolution); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}

		comps, err := buildComponents(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			comps.Shutdown(shutdownCtx)
		}()

		task, err := comps.engine.ResumeTask(ctx, resumeTenant, args[0], resolution)
		if err != nil {
			return err
		}
		logger.Info("Task resumed",
			zap.String("task_id", task.TaskID),
			zap.String("status", string(task.Status)))
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeTenant, "tenant", "default", "tenant the task belongs to")
	resumeCmd.Flags().StringVar(&resumeDataJSON, "data", "", "JSON object with user-provided resolution data")
	rootCmd.AddCommand(resumeCmd)
}
