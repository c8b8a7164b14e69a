package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bazelment/swarmctl/internal/events"
	"github.com/bazelment/swarmctl/internal/manager"
	"github.com/bazelment/swarmctl/internal/model"
)

var runTickInterval time.Duration
var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run <execution-id>",
	Short: "Drive an Execution's ready SubTasks to completion",
	Long: "run polls the Manager on a fixed interval, dispatching newly " +
		"ready SubTasks each tick, until the Execution reaches Reviewing " +
		"(run `swarmctl review` next) or a terminal status. The library " +
		"itself is event-driven; this polling loop exists for CLI use only.",
	Args: cobra.ExactArgs(1),
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
		ws, err := openWorkspaceProvider(cfg)
		if err != nil {
			return err
		}
		bus := events.NewBus()
		mgr := manager.New(st, ws, newAgentRuntime(), bus, cfg.Manager, newLogger())

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		done := make(chan struct{})
		if runJSON {
			go printEventsJSON(cmd.OutOrStdout(), bus.Subscribe(), done)
		} else {
			go printEvents(bus.Subscribe(), done)
		}

		ticker := time.NewTicker(runTickInterval)
		defer ticker.Stop()

		for {
			if err := mgr.ExecuteReadyTasks(ctx, execID); err != nil {
				bus.Close()
				<-done
				return fmt.Errorf("tick: %w", err)
			}

			exec, err := st.GetExecution(ctx, execID)
			if err != nil {
				bus.Close()
				<-done
				return fmt.Errorf("get execution: %w", err)
			}
			if exec.Status.IsTerminal() || exec.Status == model.ExecutionReviewing {
				fmt.Printf("execution %s now %s\n", execID, exec.Status)
				bus.Close()
				<-done
				return nil
			}

			select {
			case <-ctx.Done():
				bus.Close()
				<-done
				return ctx.Err()
			case <-ticker.C:
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runTickInterval, "interval", 2*time.Second, "Polling interval between ticks")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit events as newline-delimited JSON instead of text")
}

// printEvents drains ch until it's closed, printing one line per event.
func printEvents(ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range ch {
		switch e := ev.(type) {
		case events.TaskStarted:
			fmt.Printf("  task %s started (agent %s)\n", e.SubTaskID, e.AgentID)
		case events.TaskCompleted:
			fmt.Printf("  task %s completed (%dms)\n", e.SubTaskID, e.DurationMs)
		case events.TaskFailed:
			if e.Skipped {
				fmt.Printf("  task %s skipped: %s\n", e.SubTaskID, e.Reason)
			} else {
				fmt.Printf("  task %s failed: %s\n", e.SubTaskID, e.Reason)
			}
		case events.ExecutionProgress:
			fmt.Printf("  progress: %d/%d completed, %d running, %d failed, %d skipped\n",
				e.Completed, e.Total, e.Running, e.Failed, e.Skipped)
		case events.ConsensusRequired:
			fmt.Printf("  consensus required (round %d)\n", e.Round)
		case events.ExecutionFailed:
			fmt.Printf("  execution %s -> %s: %s\n", e.ExecutionID, e.Status, e.Reason)
		case events.ExecutionCompleted:
			fmt.Printf("  execution %s completed\n", e.ExecutionID)
		}
	}
}

// printEventsJSON drains ch until it's closed, writing one JSON object per
// line: snake_case keys and a "type" discriminator field, one event per
// line.
func printEventsJSON(w io.Writer, ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	enc := json.NewEncoder(w)
	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			fmt.Fprintf(os.Stderr, "encode event: %v\n", err)
		}
	}
}
