// Package cli implements the forge command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/project"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status [project-id]",
		Aliases: []string{"st"},
		Short:   "Show project status",
		Long: `Show project status.

Without arguments, lists all projects. With a project id, shows the
current phase, approval state and per-status task counts.

Examples:
  forge status
  forge status shop-api
  forge status shop-api --json`,
		Args: cobra.MaximumNArgs(1),
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

			if len(args) == 0 {
				return listProjects(cmd.Context(), store)
			}
			return showProject(cmd.Context(), store, args[0])
		},
	}
}

func listProjects(ctx context.Context, store *db.DB) error {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(projects)
	}

	if len(projects) == 0 {
		fmt.Println("No projects found. Create one with: forge plan my-project --blueprint spec.md")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tPHASE\tAPPROVAL\tREV\tUPDATED")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			p.ProjectID, p.CurrentPhase, p.PlanApprovalStatus,
			p.PlanRevisionCount, p.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func showProject(ctx context.Context, store *db.DB, projectID string) error {
	p, err := store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	tasks, err := store.ListTasks(ctx, projectID)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(struct {
			*project.Context
			Tasks []*db.AgentTask `json:"tasks"`
		}{p, tasks})
	}

	fmt.Printf("Project:  %s\n", p.ProjectID)
	fmt.Printf("Phase:    %s\n", p.CurrentPhase)
	fmt.Printf("Approval: %s (revision %d)\n", p.PlanApprovalStatus, p.PlanRevisionCount)
	if p.Architecture != "" {
		fmt.Printf("Arch:     %s\n", p.Architecture)
	}
	if p.CurrentPhase == project.PhaseFailed {
		fmt.Printf("Failed:   %s: %s\n", p.FailedPhase, p.FailureMsg)
	}

	if len(tasks) > 0 {
		counts := map[db.TaskStatus]int{}
		for _, t := range tasks {
			counts[t.Status]++
		}
		fmt.Printf("Tasks:    %d total", len(tasks))
		for _, s := range []db.TaskStatus{db.StatusPending, db.StatusInProgress, db.StatusCompleted, db.StatusFailed} {
			if counts[s] > 0 {
				fmt.Printf(", %d %s", counts[s], s)
			}
		}
		fmt.Println()
	}
	return nil
}
