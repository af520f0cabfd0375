package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "data/agentd.db", cfg.DBPath)
	assert.Equal(t, "data", cfg.DataRoot)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8787, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://127.0.0.1:8787", cfg.BaseURL)
	assert.Empty(t, cfg.Token)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/agentd/state.db
port: 9000
log_level: debug
cors_origins:
  - https://ops.example.com
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agentd/state.db", cfg.DBPath)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.CORSOrigins)
	// Untouched keys keep their defaults.
	assert.Equal(t, "data", cfg.DataRoot)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\ntoken: from-file\n"), 0o644))

	t.Setenv("AGENTD_PORT", "9001")
	t.Setenv("AGENTD_TOKEN", "from-env")
	t.Setenv("AGENTD_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestInvalidEnvPortFails(t *testing.T) {
	t.Setenv("AGENTD_PORT", "not-a-port")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTD_PORT")
}
