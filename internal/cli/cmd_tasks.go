// Package cli implements the forge command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/forge/internal/db"
)

// newTasksCmd creates the tasks command
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks <project-id>",
		Short: "List a project's tasks",
		Long: `List the tasks materialized from an approved plan.

Example:
  forge tasks shop-api
  forge tasks shop-api --status failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireInit(); err != nil {
				return err
			}

			statusFilter, _ := cmd.Flags().GetString("status")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tasks, err := store.ListTasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if statusFilter != "" {
				filtered := tasks[:0]
				for _, t := range tasks {
					if string(t.Status) == statusFilter {
						filtered = append(filtered, t)
					}
				}
				tasks = filtered
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(tasks)
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks found. Approve a plan with: forge approve", args[0])
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tAGENT\tSTATUS\tWAVE\tITER\tNOTE")
			for _, t := range tasks {
				wave := "-"
				if t.WaveNumber != nil {
					wave = fmt.Sprintf("%d", *t.WaveNumber)
				}
				note := ""
				if t.Status == db.StatusFailed {
					note = t.Error
					if t.Recommendation != "" {
						note += " (" + t.Recommendation + ")"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					t.TaskKey, t.AgentName, t.Status, wave, t.Iterations, truncate(note, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("status", "", "only show tasks with this status")
	return cmd
}
