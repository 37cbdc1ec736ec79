package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-4", cfg.Agent.DefaultModel)
	assert.Equal(t, 4096, cfg.Agent.MaxTokens)
	assert.Equal(t, 0.7, cfg.Agent.Temperature)
	assert.Equal(t, "sqlite:///agent_memory.db", cfg.StorageDSN())
	assert.True(t, cfg.Tools.EnableFileOperations)
	assert.Equal(t, ".", cfg.Tools.FileRoot, "file tools must be confined by default")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"OPENAI_API_KEY":         "sk-test",
		"GOOGLE_API_KEY":         "g-key",
		"AGENT_NAME":             "Helper",
		"MAX_TOKENS":             "1024",
		"TEMPERATURE":            "0.2",
		"FLASK_PORT":             "8080",
		"DATABASE_URL":           "postgres://localhost/chat",
		"ENABLE_WEB_SEARCH":      "FALSE",
		"ENABLE_FILE_OPERATIONS": "true",
		"FALLBACK_PROVIDERS":     "ollama, openai,,",
		"REQUEST_TIMEOUT":        "45s",
		"LOG_FILE":               "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "g-key", cfg.Providers.Gemini.APIKey)
	assert.Equal(t, "Helper", cfg.Agent.Name)
	assert.Equal(t, 1024, cfg.Agent.MaxTokens)
	assert.Equal(t, 0.2, cfg.Agent.Temperature)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "postgres://localhost/chat", cfg.Storage.URL)
	assert.False(t, cfg.Tools.EnableWebSearch)
	assert.True(t, cfg.Tools.EnableFileOperations)
	assert.Equal(t, []string{"ollama", "openai"}, cfg.Agent.Fallback)
	assert.Equal(t, 45*time.Second, cfg.Agent.RequestTimeout)
	assert.Empty(t, cfg.Log.File)
	assert.Equal(t, []string{"openai", "gemini"}, cfg.ConfiguredProviders())
}

func TestHTTPPortPrefersNewName(t *testing.T) {
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, envMap(map[string]string{"HTTP_PORT": "9000", "FLASK_PORT": "8080"})))
	assert.Equal(t, 9000, cfg.HTTP.Port)
}

func TestApplyEnvReportsBadNumbers(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{"MAX_TOKENS": "lots", "TEMPERATURE": "warm"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_TOKENS")
	assert.Contains(t, err.Error(), "TEMPERATURE")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Agent.MaxTokens = 0
	cfg.Agent.Temperature = 3
	cfg.HTTP.Port = 70000
	cfg.Storage.Driver = "floppy"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"max_tokens", "temperature", "http.port", "floppy"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  name: Yaml Bot
  default_model: claude-3-haiku-20240307
  request_timeout: 30s
storage:
  driver: memory
  cache_ttl: 5m
tools:
  enable_web_search: false
  mcp_servers:
    - name: files
      command: mcp-files
      args: ["--root", "/tmp"]
`), 0o644))

	t.Chdir(dir)
	t.Setenv("AGENT_NAME", "Env Bot")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Env Bot", cfg.Agent.Name)
	assert.Equal(t, "claude-3-haiku-20240307", cfg.Agent.DefaultModel)
	assert.Equal(t, 30*time.Second, cfg.Agent.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Storage.CacheTTL)
	assert.Equal(t, "memory://", cfg.StorageDSN())
	assert.False(t, cfg.Tools.EnableWebSearch)
	require.Len(t, cfg.Tools.MCPServers, 1)
	assert.Equal(t, []string{"--root", "/tmp"}, cfg.Tools.MCPServers[0].Args)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEFAULT_MODEL=gpt-4o\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("DEFAULT_MODEL", "")
	os.Unsetenv("DEFAULT_MODEL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Agent.DefaultModel)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
