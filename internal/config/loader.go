package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	forgeerrors "github.com/forgelabs/forge/internal/errors"
)

func errInvalid(field, reason string) error {
	return forgeerrors.ErrConfigInvalid(field, reason)
}

// Load loads configuration from all sources, later sources overriding
// earlier ones. User config errors are logged and skipped; project config
// errors are fatal.
func Load() (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ForgeDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	projectPath := filepath.Join(ForgeDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a single config file over the defaults. Used by the --config
// flag.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := mergeFromFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile merges configuration from a YAML file into cfg. Only fields
// present in the file override; absent fields keep their current value.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	// yaml.Unmarshal into the existing struct leaves absent fields untouched,
	// which is exactly the merge semantics wanted here.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv applies FORGE_* environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FORGE_STORE_DIALECT"); v != "" {
		cfg.Store.Dialect = v
	}
	if v := os.Getenv("FORGE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("FORGE_PER_AGENT_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.PerAgentCap = n
		}
	}
	if v := os.Getenv("FORGE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxConcurrent = n
		}
	}
	if v := os.Getenv("FORGE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxIterations = n
		}
	}
	if v := os.Getenv("FORGE_GENERATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.GenerationTimeout = Duration(d)
		}
	}
	if v := os.Getenv("FORGE_REDIS_ADDR"); v != "" {
		cfg.Recall.RedisAddr = v
		cfg.Recall.Enabled = true
	}
	if v := os.Getenv("FORGE_SEARCH_ENDPOINT"); v != "" {
		cfg.Search.Endpoint = v
	}
	if v := os.Getenv("FORGE_AGENT_COMMAND"); v != "" {
		cfg.Agents.Command = v
	}
}

// StoreDSN resolves the effective store DSN, defaulting to the project-local
// sqlite database.
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return filepath.Join(ForgeDir, "forge.db")
}
