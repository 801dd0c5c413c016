package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRetries, cfg.Workflow.MaxRetries)
	assert.Equal(t, int64(DefaultMaxFileSize), cfg.Workflow.MaxFileSize)
	assert.Equal(t, ProviderAnthropic, cfg.Providers.Primary)
	assert.Equal(t, ProviderOpenAI, cfg.Providers.Fallback)
	assert.NotEmpty(t, cfg.Sandbox.AllowedCommands)
	assert.Equal(t, DefaultTestTimeout, cfg.Sandbox.TestTimeout)
	assert.Equal(t, "http://localhost:11434", cfg.Providers.Ollama.BaseURL)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devflow.yaml")
	content := `
workflow:
  max_retries: 5
providers:
  primary: openai
  fallback: ollama
  allow_fallback: true
  openai:
    base_url: https://api.deepseek.com
    fast_model: deepseek-chat
    reasoning_model: deepseek-reasoner
sandbox:
  allowed_commands: [pytest, ruff]
  test_timeout: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Workflow.MaxRetries)
	assert.Equal(t, ProviderOpenAI, cfg.Providers.Primary)
	assert.Equal(t, ProviderOllama, cfg.Providers.Fallback)
	assert.Equal(t, "https://api.deepseek.com", cfg.Providers.OpenAI.BaseURL)
	assert.Equal(t, "deepseek-reasoner", cfg.Providers.OpenAI.ReasoningModel)
	assert.Equal(t, []string{"pytest", "ruff"}, cfg.Sandbox.AllowedCommands)
	assert.Equal(t, 90*time.Second, cfg.Sandbox.TestTimeout)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DEVFLOW_PRIMARY_PROVIDER", ProviderGemini)
	t.Setenv("DEVFLOW_MAX_RETRIES", "7")
	t.Setenv("DEVFLOW_ALLOW_FALLBACK", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.Providers.Primary)
	assert.Equal(t, 7, cfg.Workflow.MaxRetries)
	assert.True(t, cfg.Providers.AllowFallback)
}

func TestLoadConfigRejectsSameProviderPair(t *testing.T) {
	t.Setenv("DEVFLOW_PRIMARY_PROVIDER", ProviderOpenAI)
	t.Setenv("DEVFLOW_FALLBACK_PROVIDER", ProviderOpenAI)
	t.Setenv("DEVFLOW_ALLOW_FALLBACK", "true")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	model, err := cfg.Providers.ModelFor(ProviderAnthropic, "reasoning")
	require.NoError(t, err)
	assert.Equal(t, cfg.Providers.Anthropic.ReasoningModel, model)

	model, err = cfg.Providers.ModelFor(ProviderOllama, "fast")
	require.NoError(t, err)
	assert.Equal(t, cfg.Providers.Ollama.FastModel, model)

	_, err = cfg.Providers.ModelFor("nonexistent", "fast")
	assert.Error(t, err)
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		SecretAnthropicAPIKey: "sk-ant-test",
		SecretOpenAIAPIKey:    "sk-test",
	}

	require.NoError(t, EncryptSecretsFile(dir, "hunter2", secrets))
	assert.True(t, SecretsFileExists(dir))

	got, err := DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, got)

	_, err = DecryptSecretsFile(dir, "wrong-password")
	assert.Error(t, err)
}

func TestGetSecretEnvFallback(t *testing.T) {
	t.Setenv("DEVFLOW_TEST_SECRET", "from-env")

	value, err := GetSecret("DEVFLOW_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = GetSecret("DEVFLOW_DEFINITELY_MISSING")
	assert.Error(t, err)
}
