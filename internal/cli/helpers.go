// Package cli implements the forge command-line interface.
// This file contains shared helper functions used across commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forgelabs/forge/internal/config"
	"github.com/forgelabs/forge/internal/db"
	"github.com/forgelabs/forge/internal/db/driver"
	"github.com/forgelabs/forge/internal/events"
	"github.com/forgelabs/forge/internal/pipeline"
	"github.com/forgelabs/forge/internal/project"
	"github.com/forgelabs/forge/internal/recall"
	"github.com/forgelabs/forge/internal/search"
)

// requireInit ensures the current directory has been initialized.
func requireInit() error {
	if _, err := os.Stat(config.ForgeDir); os.IsNotExist(err) {
		return fmt.Errorf("forge not initialized here. Run: forge init")
	}
	return nil
}

// loadConfig loads the effective configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// openStore opens the task store configured in cfg, running migrations.
func openStore(cfg *config.Config) (*db.DB, error) {
	dialect, err := driver.ParseDialect(cfg.Store.Dialect)
	if err != nil {
		return nil, err
	}
	dsn := cfg.StoreDSN()
	if dialect == driver.DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return db.OpenWithDialect(dsn, dialect)
}

// buildPipeline assembles the phase pipeline from configuration. The phase
// agent command must be configured; the searcher is optional.
func buildPipeline(cfg *config.Config, store *db.DB, publisher events.Publisher, logger *slog.Logger) (*pipeline.Pipeline, error) {
	command := cfg.Agents.PhaseCommand
	if command == "" {
		command = cfg.Agents.Command
	}
	if command == "" {
		return nil, fmt.Errorf("no agent command configured. Set agents.command in %s",
			filepath.Join(config.ForgeDir, config.ConfigFileName))
	}

	agents := make([]pipeline.PhaseAgent, 0, len(project.PipelinePhases))
	for _, phase := range project.PipelinePhases {
		agents = append(agents, pipeline.NewExecAgent(phase, command))
	}

	var searcher *search.Client
	if cfg.Search.Endpoint != "" {
		searcher = search.New(cfg.Search.Endpoint, cfg.Search.Timeout.Std(), logger)
	}

	return pipeline.New(store, agents, searcher, publisher, nil, logger)
}

// buildRecall picks the recall client from configuration.
func buildRecall(cfg *config.Config, logger *slog.Logger) recall.Client {
	if !cfg.Recall.Enabled {
		return recall.NewNopClient()
	}
	return recall.NewRedisClient(cfg.Recall.RedisAddr, logger)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
