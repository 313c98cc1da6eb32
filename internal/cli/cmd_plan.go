// Package cli implements the forge command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/plan"
	"github.com/forgelabs/forge/internal/project"
)

// newPlanCmd creates the plan command
func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <project-id>",
		Short: "Run the planning pipeline for a project",
		Long: `Run a project through analysis, research, validation and planning.

The first run needs a blueprint (--blueprint FILE, or - for stdin) and
creates the project. Re-running a failed project resumes from the phase
that broke. The pipeline stops at the plan review gate; inspect the plan
with "forge status" and approve it with "forge approve".

Examples:
  forge plan shop-api --blueprint blueprint.md
  cat blueprint.md | forge plan shop-api --blueprint -
  forge plan shop-api                               # resume after a failure`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireInit(); err != nil {
				return err
			}

			projectID := args[0]
			blueprintPath, _ := cmd.Flags().GetString("blueprint")
			userID, _ := cmd.Flags().GetString("user")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()

			_, err = store.GetProject(ctx, projectID)
			if fe := errors.AsForgeError(err); fe != nil && fe.Code == errors.CodeProjectNotFound {
				if blueprintPath == "" {
					return fmt.Errorf("project %s does not exist; provide --blueprint to create it", projectID)
				}
				blueprint, err := readBlueprint(blueprintPath)
				if err != nil {
					return err
				}
				if err := store.SaveProject(ctx, project.New(projectID, userID, blueprint)); err != nil {
					return err
				}
				fmt.Printf("Created project %s\n", projectID)
			} else if err != nil {
				return err
			}

			pl, err := buildPipeline(cfg, store, nil, nil)
			if err != nil {
				return err
			}

			if err := pl.Execute(ctx, projectID); err != nil {
				return err
			}

			p, err := store.GetProject(ctx, projectID)
			if err != nil {
				return err
			}
			return printPlanSummary(p)
		},
	}

	cmd.Flags().StringP("blueprint", "b", "", "blueprint file (- for stdin)")
	cmd.Flags().String("user", "", "user id recorded on the project")
	return cmd
}

func readBlueprint(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read blueprint: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("blueprint is empty")
	}
	return string(data), nil
}

func printPlanSummary(p *project.Context) error {
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(p)
	}

	ep, err := plan.Unmarshal(p.PlanJSON)
	if err != nil {
		return err
	}

	fmt.Printf("📋 Plan ready for %s (%d tasks, revision %d)\n\n",
		p.ProjectID, len(ep.Tasks), p.PlanRevisionCount)
	for i := range ep.Tasks {
		t := &ep.Tasks[i]
		deps := ""
		if len(t.Dependencies) > 0 {
			deps = fmt.Sprintf("  needs %v", t.Dependencies)
		}
		fmt.Printf("  %-6s %-10s p%d %-8s %s%s\n",
			t.ID, t.AgentName, t.Priority, t.Complexity, truncate(t.Title, 50), deps)
	}
	fmt.Printf("\nApprove with:  forge approve %s\n", p.ProjectID)
	fmt.Printf("Reject with:   forge reject %s --reason \"...\"\n", p.ProjectID)
	return nil
}
