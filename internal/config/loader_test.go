package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Scheduler.PerAgentCap)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 3, cfg.Retry.MaxIterations)
	assert.Equal(t, 3*time.Minute, cfg.Retry.GenerationTimeout.Std())
	assert.Equal(t, 10*time.Second, cfg.Search.Timeout.Std())
	assert.Equal(t, "sqlite", cfg.Store.Dialect)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  per_agent_cap: 5
retry:
  generation_timeout: 90s
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// Overridden fields
	assert.Equal(t, 5, cfg.Scheduler.PerAgentCap)
	assert.Equal(t, 90*time.Second, cfg.Retry.GenerationTimeout.Std())
	// Untouched fields keep defaults
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 3, cfg.Retry.MaxIterations)
}

func TestLoadFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler: ["), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.PerAgentCap = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Dialect = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Retry.GenerationTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_PER_AGENT_CAP", "7")
	t.Setenv("FORGE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("FORGE_GENERATION_TIMEOUT", "45s")

	cfg := Default()
	applyEnv(cfg)

	assert.Equal(t, 7, cfg.Scheduler.PerAgentCap)
	assert.Equal(t, "redis.internal:6379", cfg.Recall.RedisAddr)
	assert.True(t, cfg.Recall.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Retry.GenerationTimeout.Std())
}

func TestStoreDSNDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join(ForgeDir, "forge.db"), cfg.StoreDSN())

	cfg.Store.DSN = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", cfg.StoreDSN())
}
