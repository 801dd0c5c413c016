package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied to zero fields after unmarshalling.
const (
	DefaultMaxRetries      = 2
	DefaultMaxFileSize     = 1 << 20 // 1MB
	DefaultCommandTimeout  = 60 * time.Second
	DefaultTestTimeout     = 120 * time.Second
	DefaultLintTimeout     = 60 * time.Second
	DefaultGitMetaTimeout  = 10 * time.Second
	DefaultGitWriteTimeout = 30 * time.Second
	DefaultProviderTimeout = 120 * time.Second
	DefaultServerPort      = 8080
)

// LoadConfig reads the settings file, applies defaults and environment
// overrides, and validates the result. A missing file yields pure defaults so
// the CLI can run without any on-disk configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Fall through to defaults.
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workflow.MaxRetries == 0 {
		cfg.Workflow.MaxRetries = DefaultMaxRetries
	}
	if cfg.Workflow.MaxFileSize == 0 {
		cfg.Workflow.MaxFileSize = DefaultMaxFileSize
	}

	if cfg.Providers.Primary == "" {
		cfg.Providers.Primary = ProviderAnthropic
	}
	if cfg.Providers.Fallback == "" {
		cfg.Providers.Fallback = ProviderOpenAI
	}
	applyProviderDefaults(&cfg.Providers.Anthropic, "claude-3-5-haiku-latest", "claude-sonnet-4-0")
	applyProviderDefaults(&cfg.Providers.OpenAI, "gpt-4o-mini", "o3-mini")
	applyProviderDefaults(&cfg.Providers.Ollama, "llama3.1", "deepseek-r1")
	applyProviderDefaults(&cfg.Providers.Gemini, "gemini-2.0-flash", "gemini-2.5-pro")
	if cfg.Providers.Ollama.BaseURL == "" {
		cfg.Providers.Ollama.BaseURL = "http://localhost:11434"
	}

	if len(cfg.Sandbox.AllowedCommands) == 0 {
		cfg.Sandbox.AllowedCommands = []string{
			"go", "gofmt", "golangci-lint",
			"pytest", "ruff", "mypy", "python",
			"npm", "npx", "node",
			"make",
		}
	}
	if cfg.Sandbox.CommandTimeout == 0 {
		cfg.Sandbox.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Sandbox.TestTimeout == 0 {
		cfg.Sandbox.TestTimeout = DefaultTestTimeout
	}
	if cfg.Sandbox.LintTimeout == 0 {
		cfg.Sandbox.LintTimeout = DefaultLintTimeout
	}

	if cfg.Git.MetadataTimeout == 0 {
		cfg.Git.MetadataTimeout = DefaultGitMetaTimeout
	}
	if cfg.Git.CommitTimeout == 0 {
		cfg.Git.CommitTimeout = DefaultGitWriteTimeout
	}

	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = ".devflow/devflow.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
}

func applyProviderDefaults(pc *ProviderConfig, fast, reasoning string) {
	if pc.FastModel == "" {
		pc.FastModel = fast
	}
	if pc.ReasoningModel == "" {
		pc.ReasoningModel = reasoning
	}
	if pc.Timeout == 0 {
		pc.Timeout = DefaultProviderTimeout
	}
}

// applyEnvOverrides overlays DEVFLOW_* environment variables on the loaded
// settings. Only operational knobs are overridable; API keys go through the
// secrets layer instead.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVFLOW_PRIMARY_PROVIDER"); v != "" {
		cfg.Providers.Primary = v
	}
	if v := os.Getenv("DEVFLOW_FALLBACK_PROVIDER"); v != "" {
		cfg.Providers.Fallback = v
	}
	if v := os.Getenv("DEVFLOW_ALLOW_FALLBACK"); v != "" {
		cfg.Providers.AllowFallback = v == "1" || v == "true"
	}
	if v := os.Getenv("DEVFLOW_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Workflow.MaxRetries = n
		}
	}
	if v := os.Getenv("DEVFLOW_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("DEVFLOW_OLLAMA_HOST"); v != "" {
		cfg.Providers.Ollama.BaseURL = v
	}
	if v := os.Getenv("DEVFLOW_OPENAI_BASE_URL"); v != "" {
		cfg.Providers.OpenAI.BaseURL = v
	}
	if v := os.Getenv("DEVFLOW_PROMETHEUS_URL"); v != "" {
		cfg.Metrics.PrometheusURL = v
	}
	if v := os.Getenv("DEVFLOW_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
}

func validateConfig(cfg *Config) error {
	valid := map[string]bool{
		ProviderAnthropic: true,
		ProviderOpenAI:    true,
		ProviderOllama:    true,
		ProviderGemini:    true,
	}
	if !valid[cfg.Providers.Primary] {
		return fmt.Errorf("invalid primary provider: %s", cfg.Providers.Primary)
	}
	if !valid[cfg.Providers.Fallback] {
		return fmt.Errorf("invalid fallback provider: %s", cfg.Providers.Fallback)
	}
	if cfg.Providers.Primary == cfg.Providers.Fallback && cfg.Providers.AllowFallback {
		return fmt.Errorf("fallback provider must differ from primary when fallback is enabled")
	}
	if cfg.Workflow.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if cfg.Workflow.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	for _, cmd := range cfg.Sandbox.AllowedCommands {
		if cmd == "" {
			return fmt.Errorf("allowed_commands must not contain empty entries")
		}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	return nil
}
