package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bazelment/swarmctl/internal/planner"
)

var (
	planTitle      string
	planDesc       string
	planBaseBranch string
)

var planCmd = &cobra.Command{
	Use:   "plan <epic-task-id>",
	Short: "Create an Execution for an Epic task and materialize its SubTasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid epic task id: %w", err)
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

		ctx := context.Background()
		task := planner.EpicTask{ID: taskID, Title: planTitle, Description: planDesc, IsEpic: true}

		branch := fmt.Sprintf("epic/%s", taskID.String()[:8])
		handle, err := ws.Create(ctx, branch, planBaseBranch)
		if err != nil {
			return fmt.Errorf("create epic workspace: %w", err)
		}

		p := planner.New(st, nil, cfg.Planner)
		exec, err := p.CreateExecution(ctx, task, handle.ID)
		if err != nil {
			return fmt.Errorf("create execution: %w", err)
		}

		plan, err := p.GeneratePlan(ctx, exec.ID, task)
		if err != nil {
			return fmt.Errorf("generate plan: %w", err)
		}

		subtasks, err := p.ExecutePlan(ctx, exec.ID, plan)
		if err != nil {
			return fmt.Errorf("materialize plan: %w", err)
		}

		fmt.Printf("execution %s created (%s complexity, %d subtasks)\n", exec.ID, plan.ComplexityLabel, len(subtasks))
		fmt.Printf("reasoning: %s\n", plan.Reasoning)
		for i, st := range subtasks {
			fmt.Printf("  [%d] %s  skills=%v depends_on=%v\n", i, st.ID, st.RequiredSkills, st.DependsOn)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&planTitle, "title", "", "Epic task title")
	planCmd.Flags().StringVar(&planDesc, "description", "", "Epic task description")
	planCmd.Flags().StringVar(&planBaseBranch, "base-branch", "main", "Base branch the epic workspace forks from")
}
