package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bazelment/swarmctl/internal/consensus"
)

var reviewFinalize bool

var reviewCmd = &cobra.Command{
	Use:   "review <execution-id>",
	Short: "Start (or re-tally) a consensus round and print the vote tally",
	Long: "review assigns reviewers for round 1 if the Execution has no " +
		"reviews yet, dispatches the Pending reviews to their reviewer " +
		"agents, then prints the current Approve/Reject/Abstain/Pending " +
		"tally against the pBFT threshold. Pass --finalize " +
		"to also evaluate the round and transition the Execution on a " +
		"decided outcome.",
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

		ctx := context.Background()
		cons := consensus.New(st, cfg.Consensus)

		existing, err := st.ListReviews(ctx, execID)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}
		if len(existing) == 0 {
			reviews, err := cons.StartReview(ctx, execID)
			if err != nil {
				return fmt.Errorf("start review: %w", err)
			}
			fmt.Printf("assigned %d reviewers for round 1\n", len(reviews))
		}

		if err := cons.DispatchReviews(ctx, execID, ws, newAgentRuntime()); err != nil {
			return fmt.Errorf("dispatch reviews: %w", err)
		}

		if reviewFinalize {
			result, err := cons.Finalize(ctx, execID, nil)
			if err != nil {
				return fmt.Errorf("finalize: %w", err)
			}
			printSummary(result.Summary)
			fmt.Printf("outcome: %s\n", outcomeString(result.Outcome))
			for _, reason := range result.Reasons {
				fmt.Printf("  reason: %s\n", reason)
			}
			return nil
		}

		summary, err := cons.GetSummary(ctx, execID)
		if err != nil {
			return fmt.Errorf("get summary: %w", err)
		}
		printSummary(summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().BoolVar(&reviewFinalize, "finalize", false, "Evaluate the round and transition the Execution on a decided outcome")
}

func printSummary(s consensus.Summary) {
	fmt.Printf("tally: %d approve, %d reject, %d abstain, %d pending (of %d), threshold=%d\n",
		s.Approvals, s.Rejections, s.Abstentions, s.Pending, s.Total, s.Threshold)
	fmt.Printf("has_consensus=%v consensus_failed=%v\n", s.HasConsensus, s.ConsensusFailed)
}

func outcomeString(o consensus.Outcome) string {
	switch o {
	case consensus.OutcomeApproved:
		return "approved"
	case consensus.OutcomeRejected:
		return "rejected"
	case consensus.OutcomeDeadlock:
		return "deadlock"
	default:
		return "pending"
	}
}
