// Package cli implements the forge command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newApproveCmd creates the approve command
func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <project-id>",
		Short: "Approve a plan and materialize its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireInit(); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pl, err := buildPipeline(cfg, store, nil, nil)
			if err != nil {
				return err
			}

			projectID := args[0]
			if err := pl.Approve(cmd.Context(), projectID); err != nil {
				return err
			}

			tasks, err := store.ListTasks(cmd.Context(), projectID)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Plan approved for %s (%d tasks queued)\n", projectID, len(tasks))
			fmt.Printf("   Run: forge run %s to execute\n", projectID)
			return nil
		},
	}
}

// newRejectCmd creates the reject command
func newRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <project-id>",
		Short: "Reject a plan and request a revision",
		Long: `Reject the plan waiting at the review gate.

The rejection reason goes back to the planning agent as feedback and
planning re-runs immediately, producing a revised plan for review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireInit(); err != nil {
				return err
			}

			reason, _ := cmd.Flags().GetString("reason")
			if reason == "" {
				reason = "rejected by user"
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pl, err := buildPipeline(cfg, store, nil, nil)
			if err != nil {
				return err
			}

			projectID := args[0]
			if err := pl.Reject(cmd.Context(), projectID, reason); err != nil {
				return err
			}

			p, err := store.GetProject(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			fmt.Printf("🔄 Plan rejected; revision %d is ready for review\n", p.PlanRevisionCount)
			return printPlanSummary(p)
		},
	}

	cmd.Flags().String("reason", "", "feedback for the planning agent")
	return cmd
}
