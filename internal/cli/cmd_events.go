// Package cli implements the forge command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <project-id>",
		Short: "Show a project's event log",
		Long: `Show the persisted event log for a project, oldest first.

Example:
  forge events shop-api --limit 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireInit(); err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.ListEvents(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(records)
			}

			if len(records) == 0 {
				fmt.Println("No events recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tTASK\tDATA")
			for _, r := range records {
				task := r.TaskID
				if task == "" {
					task = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.CreatedAt.Local().Format("15:04:05"), r.EventType, task, truncate(r.Data, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 100, "maximum events to show (0 for all)")
	return cmd
}
