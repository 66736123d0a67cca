package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
listen_addr: ":8080"
worker_id: "worker-a"
cache_addr: "localhost:6379"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.MaxPerKey)
	assert.Equal(t, "enforce", cfg.Plugins.Mode)
	assert.Equal(t, 3, cfg.CodeExecution.MaxRecursionDepth)
	assert.Equal(t, 300, cfg.SessionTTLSeconds)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	path := writeConfig(t, "worker_id: \"worker-a\"\ncache_addr: \"localhost:6379\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidPluginMode(t *testing.T) {
	path := writeConfig(t, minimalYAML+"plugins:\n  mode: \"bogus\"\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatcherReloadKeepsPreviousConfigOnBadEdit(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	w, err := NewWatcher(path)
	require.NoError(t, err)
	original := w.Current()

	require.NoError(t, os.WriteFile(path, []byte("not: valid: yaml: ][}"), 0o644))
	w.Reload()

	assert.Same(t, original, w.Current())
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"database_file: \"/tmp/x.db\"\n"), 0o644))

	require.Eventually(t, func() bool {
		return w.Current().DatabaseFile == "/tmp/x.db"
	}, time.Second, 20*time.Millisecond)
}
