package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Defaults.DelegationTimeout)
	assert.Equal(t, 3, cfg.Defaults.MaxDelegationRetries)
	assert.Equal(t, 0.7, cfg.Defaults.DelegationConfidenceThreshold)
	assert.Equal(t, time.Hour, cfg.Defaults.HumanInputTTL)
	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.True(t, cfg.Retention.Enabled)
}

func TestInitialize_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
defaults:
  delegation_timeout: 45s
  max_delegation_retries: 5
queue:
  worker_count: 4
  max_concurrent_executions: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Defaults.DelegationTimeout)
	assert.Equal(t, 5, cfg.Defaults.MaxDelegationRetries)
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, 20, cfg.Queue.MaxConcurrentExecutions)
	// Untouched values keep their defaults.
	assert.Equal(t, 0.7, cfg.Defaults.DelegationConfidenceThreshold)
	assert.Equal(t, 2*time.Second, cfg.Queue.PollInterval)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("QDRANT_HOST", "vector.internal")

	dir := t.TempDir()
	content := `
docaware:
  qdrant:
    host: ${QDRANT_HOST}
    port: 6334
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg.DocAware)
	assert.Equal(t, "vector.internal", cfg.DocAware.Qdrant.Host)
}

func TestInitialize_InvalidWorkerCount(t *testing.T) {
	dir := t.TempDir()
	content := `
queue:
  worker_count: 5
  max_concurrent_executions: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_executions")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AF_TEST_VALUE", "resolved")
	out := ExpandEnv([]byte("key: ${AF_TEST_VALUE}"))
	assert.Equal(t, "key: resolved", string(out))
}
