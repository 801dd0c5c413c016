// Package config provides configuration loading, validation, and secret
// management for the devflow run service.
//
// Settings are read from a YAML file, overlaid with environment variables, and
// validated before use. Provider API keys are never stored in the settings
// file: they come from the encrypted secrets file or from the environment.
package config

import (
	"fmt"
	"time"
)

// Provider names understood by the router. Each one has an adapter under
// pkg/llm/providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Secret names looked up via GetSecret for each provider.
const (
	SecretAnthropicAPIKey = "DEVFLOW_ANTHROPIC_API_KEY"
	SecretOpenAIAPIKey    = "DEVFLOW_OPENAI_API_KEY"
	SecretGeminiAPIKey    = "DEVFLOW_GEMINI_API_KEY"
)

// Config is the root settings structure loaded from devflow.yaml.
type Config struct {
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Providers ProvidersConfig `yaml:"providers"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Git       GitConfig       `yaml:"git"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// WorkflowConfig holds engine tuning knobs.
type WorkflowConfig struct {
	// MaxRetries bounds validate→execute loop-backs per run.
	MaxRetries int `yaml:"max_retries"`
	// MaxFileSize caps file reads and writes through the tool gateway (bytes).
	MaxFileSize int64 `yaml:"max_file_size"`
}

// ProvidersConfig selects the primary/fallback provider pair and configures
// each adapter.
type ProvidersConfig struct {
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`
	// AllowFallback disables failover entirely when false.
	AllowFallback bool `yaml:"allow_fallback"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Ollama    ProviderConfig `yaml:"ollama"`
	Gemini    ProviderConfig `yaml:"gemini"`
}

// ProviderConfig configures a single model provider adapter.
// FastModel serves the plan/checklist/validate/summarize steps, ReasoningModel
// serves execute.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url,omitempty"`
	FastModel      string        `yaml:"fast_model"`
	ReasoningModel string        `yaml:"reasoning_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SandboxConfig governs allow-listed command execution.
type SandboxConfig struct {
	// AllowedCommands lists permitted base command names. Anything else fails
	// closed before a process is spawned.
	AllowedCommands []string      `yaml:"allowed_commands"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
	TestTimeout     time.Duration `yaml:"test_timeout"`
	LintTimeout     time.Duration `yaml:"lint_timeout"`
	TestCommand     string        `yaml:"test_command"`
	LintCommand     string        `yaml:"lint_command"`
}

// GitConfig bounds version-control subprocess calls.
type GitConfig struct {
	// MetadataTimeout applies to status/branch/log calls.
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	// CommitTimeout applies to commit and diff calls.
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// StorageConfig locates the run store.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// ServerConfig configures the HTTP run service.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MetricsConfig configures metric aggregation queries.
type MetricsConfig struct {
	// PrometheusURL is the address of a Prometheus server scraping this
	// process. Empty disables the query service.
	PrometheusURL string `yaml:"prometheus_url"`
}

// ModelFor returns the configured model identifier for a provider and tier.
func (p *ProvidersConfig) ModelFor(provider, tier string) (string, error) {
	var pc *ProviderConfig
	switch provider {
	case ProviderAnthropic:
		pc = &p.Anthropic
	case ProviderOpenAI:
		pc = &p.OpenAI
	case ProviderOllama:
		pc = &p.Ollama
	case ProviderGemini:
		pc = &p.Gemini
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if tier == "reasoning" {
		return pc.ReasoningModel, nil
	}
	return pc.FastModel, nil
}
