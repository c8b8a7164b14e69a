package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <execution-id>",
	Short: "Pause an Executing Execution",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleAction(func(m lifecycleManager, ctx context.Context, id uuid.UUID) error { return m.Pause(ctx, id) }),
}

var resumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume a Paused Execution and dispatch its next tick",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleAction(func(m lifecycleManager, ctx context.Context, id uuid.UUID) error { return m.Resume(ctx, id) }),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel an Execution, skipping every Pending/Blocked SubTask",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycleAction(func(m lifecycleManager, ctx context.Context, id uuid.UUID) error { return m.Cancel(ctx, id) }),
}

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, cancelCmd)
}

// lifecycleManager is the subset of *manager.Manager the pause/resume/cancel
// commands need.
type lifecycleManager interface {
	Pause(ctx context.Context, executionID uuid.UUID) error
	Resume(ctx context.Context, executionID uuid.UUID) error
	Cancel(ctx context.Context, executionID uuid.UUID) error
}

// lifecycleAction wires the common parse-id/open-store/build-manager
// boilerplate shared by pause, resume, and cancel.
func lifecycleAction(fn func(m lifecycleManager, ctx context.Context, id uuid.UUID) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		mgr, err := newManager(cfg, st)
		if err != nil {
			return err
		}

		if err := fn(mgr, context.Background(), execID); err != nil {
			return err
		}
		fmt.Printf("execution %s: %s\n", execID, cmd.Name())
		return nil
	}
}
