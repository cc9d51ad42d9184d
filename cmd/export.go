package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/internal/observability"
)

var (
	exportTenant string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <task-id>",
	Short: "Export a task and its step log as a redacted debug bundle.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
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

		data, err := comps.engine.ExportDebugSession(ctx, exportTenant, args[0])
		if err != nil {
			return err
		}

		if exportOut == "" || exportOut == "-" {
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}
		if err := os.WriteFile(exportOut, data, 0o600); err != nil {
			return fmt.Errorf("failed to write debug bundle: %w", err)
		}
		logger.Info("Wrote debug bundle",
			zap.String("task_id", args[0]),
			zap.String("path", exportOut))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTenant, "tenant", "default", "tenant the task belongs to")
	exportCmd.Flags().StringVar(&exportOut, "out", "-", "output file ('-' for stdout)")
	rootCmd.AddCommand(exportCmd)
}
