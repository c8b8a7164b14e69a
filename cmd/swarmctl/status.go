package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Print an Execution's status and SubTask progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		execID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid execution id: %w", err)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := context.Background()
		exec, err := st.GetExecution(ctx, execID)
		if err != nil {
			return fmt.Errorf("get execution: %w", err)
		}
		progress, err := st.Progress(ctx, execID)
		if err != nil {
			return fmt.Errorf("get progress: %w", err)
		}

		fmt.Printf("execution %s: %s\n", exec.ID, exec.Status)
		if exec.ErrorMessage != nil {
			fmt.Printf("  error: %s\n", *exec.ErrorMessage)
		}
		fmt.Printf("  reviewer_count=%d consensus_threshold=%d approvals=%d rejections=%d\n",
			exec.ReviewerCount, exec.ConsensusThreshold, exec.Approvals, exec.Rejections)
		fmt.Printf("  subtasks: %d total, %d completed, %d running, %d pending, %d failed, %d skipped\n",
			progress.Total, progress.Completed, progress.Running, progress.Pending, progress.Failed, progress.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
