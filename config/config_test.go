package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "orchestrix.db", cfg.Store.Path)
	assert.Equal(t, ":8761", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Global.Logging.Level)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.PresetDirs)
}

func TestLoad_ExpandsEnvVarsAndAppliesDefaults(t *testing.T) {
	t.Setenv("ORCHESTRIX_DB_PATH", "/tmp/custom.db")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: ${ORCHESTRIX_DB_PATH}
providers:
  main:
    kind: openai
    model: gpt-4
    api_key: ${MISSING_KEY:-sk-default}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.Store.Path)
	require.Contains(t, cfg.Providers, "main")
	assert.Equal(t, "sk-default", cfg.Providers["main"].APIKey)
	assert.Equal(t, "main", cfg.Providers["main"].Name)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Providers["main"].BaseURL)
}

func TestConfig_Validate_RejectsBadProvider(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{"bad": {Kind: "openai"}}}
	cfg.SetDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestConfig_GetProvider(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{"main": {Kind: "anthropic", Model: "claude"}}}
	p, ok := cfg.GetProvider("main")
	require.True(t, ok)
	assert.Equal(t, "anthropic", p.Kind)

	_, ok = cfg.GetProvider("missing")
	assert.False(t, ok)
}

func TestConfig_ListProviders(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{"a": {}, "b": {}}}
	names := cfg.ListProviders()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestLoggingConfig_ValidateRejectsUnknownLevel(t *testing.T) {
	c := LoggingConfig{Level: "verbose", Format: "text", Output: "stdout"}
	require.Error(t, c.Validate())
}

func TestPerformanceConfig_DefaultsApplied(t *testing.T) {
	var c PerformanceConfig
	c.SetDefaults()
	assert.Equal(t, 4, c.MaxConcurrency)
	assert.NoError(t, c.Validate())
}
