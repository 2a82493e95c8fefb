package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
pool:
  workers: 8
  task_limit: 100
  initializer: setup
  deinitializer: teardown
  lock_file_path: /tmp/custom.lock
task:
  default_timeout: 5s
metrics:
  enabled: true
  port: 9100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, 100, cfg.Pool.TaskLimit)
	assert.Equal(t, "setup", cfg.Pool.Initializer)
	assert.Equal(t, "teardown", cfg.Pool.Deinitializer)
	assert.Equal(t, "/tmp/custom.lock", cfg.Pool.LockFilePath)
	assert.Equal(t, 5*time.Second, cfg.Task.DefaultTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

func TestLoadDefaultsWorkerCount(t *testing.T) {
	path := writeConfig(t, "pool:\n  workers: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.Workers)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	path := writeConfig(t, "pool: [this is not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}
