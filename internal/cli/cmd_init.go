// Package cli implements the forge command-line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forgelabs/forge/internal/config"
)

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize forge in current directory",
		Long: `Initialize forge in the current directory.

Creates the .forge directory with a default config.yaml and an empty
task store. Edit the config to point agents.command at your agent
binary before planning a project.

Examples:
  forge init
  forge init --force    # Overwrite existing configuration`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			configPath := filepath.Join(config.ForgeDir, config.ConfigFileName)
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("forge already initialized. Use --force to reinitialize")
			}

			if err := os.MkdirAll(config.ForgeDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", config.ForgeDir, err)
			}

			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			// Open the store once so migrations run up front.
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("initialize task store: %w", err)
			}
			defer func() { _ = store.Close() }()

			fmt.Printf("✅ Initialized forge in %s\n", config.ForgeDir)
			fmt.Printf("   Config: %s\n", configPath)
			fmt.Printf("   Store:  %s\n", cfg.StoreDSN())
			fmt.Println("\nNext: set agents.command in the config, then run")
			fmt.Println("  forge plan my-project --blueprint spec.md")
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite existing configuration")
	return cmd
}
