// Package config provides layered configuration for forge.
//
// Load order (later sources override earlier):
//  1. Built-in defaults
//  2. User config (~/.forge/config.yaml) - optional
//  3. Project config (.forge/config.yaml) - optional
//  4. Environment variables (FORGE_*)
package config

import "time"

// ForgeDir is the project-local directory holding config and the task store.
const ForgeDir = ".forge"

// ConfigFileName is the config file name inside ForgeDir.
const ConfigFileName = "config.yaml"

// Config holds all forge configuration.
type Config struct {
	Version int `yaml:"version"`

	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retry     RetryConfig     `yaml:"retry"`
	Recall    RecallConfig    `yaml:"recall"`
	Search    SearchConfig    `yaml:"search"`
	Agents    AgentsConfig    `yaml:"agents"`
}

// StoreConfig configures the persistent task store.
type StoreConfig struct {
	// Dialect is "sqlite" (default) or "postgres".
	Dialect string `yaml:"dialect"`
	// DSN is the database path (sqlite) or connection string (postgres).
	// Empty means .forge/forge.db.
	DSN string `yaml:"dsn"`
}

// SchedulerConfig configures wave building and dispatch.
type SchedulerConfig struct {
	// PerAgentCap bounds how many tasks of one agent type fit in a wave.
	PerAgentCap int `yaml:"per_agent_cap"`
	// MaxConcurrent bounds worker-pool parallelism across a wave.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// RetryConfig configures the per-task retry supervisor.
type RetryConfig struct {
	// MaxIterations is the default iteration budget for medium tasks.
	MaxIterations int `yaml:"max_iterations"`
	// MaxCostDollars is the default per-task cost budget.
	MaxCostDollars float64 `yaml:"max_cost_dollars"`
	// GenerationTimeout is the wall-clock cap on one executor call.
	GenerationTimeout Duration `yaml:"generation_timeout"`
}

// RecallConfig configures the semantic recall client.
type RecallConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
}

// SearchConfig configures the solution-search collaborator.
type SearchConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// AgentsConfig configures executor agents.
type AgentsConfig struct {
	// Command is the external agent binary invoked per task. The task input
	// is written to stdin as JSON; the result is read from stdout.
	Command string `yaml:"command"`
	// PhaseCommand overrides Command for pipeline phase agents.
	PhaseCommand string `yaml:"phase_command"`
	// Workspace is the directory agents write generated files into.
	// Empty means the current directory.
	Workspace string `yaml:"workspace"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Dialect: "sqlite",
		},
		Scheduler: SchedulerConfig{
			PerAgentCap:   3,
			MaxConcurrent: 4,
		},
		Retry: RetryConfig{
			MaxIterations:     3,
			MaxCostDollars:    5.0,
			GenerationTimeout: Duration(3 * time.Minute),
		},
		Recall: RecallConfig{
			Enabled:   false,
			RedisAddr: "localhost:6379",
		},
		Search: SearchConfig{
			Timeout: Duration(10 * time.Second),
		},
	}
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.Scheduler.PerAgentCap < 1 {
		return errInvalid("scheduler.per_agent_cap", "must be at least 1")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return errInvalid("scheduler.max_concurrent", "must be at least 1")
	}
	if c.Retry.MaxIterations < 1 {
		return errInvalid("retry.max_iterations", "must be at least 1")
	}
	if c.Retry.GenerationTimeout <= 0 {
		return errInvalid("retry.generation_timeout", "must be positive")
	}
	switch c.Store.Dialect {
	case "", "sqlite", "sqlite3", "postgres", "postgresql", "pg":
	default:
		return errInvalid("store.dialect", "must be sqlite or postgres")
	}
	return nil
}
