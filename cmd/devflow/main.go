// devflow turns a feature request into a reviewed code change: it plans,
// breaks the plan into a checklist, executes each item with a model, runs
// lint and tests, and summarizes the result on a dedicated git branch.
//
// Modes:
//
//	devflow -request "add rate limiting" -repo ./myproject
//	devflow -serve
//	devflow -init-secrets
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"devflow/internal/server"
	"devflow/pkg/config"
	"devflow/pkg/llm"
	"devflow/pkg/llm/providers/anthropic"
	"devflow/pkg/llm/providers/google"
	"devflow/pkg/llm/providers/ollama"
	"devflow/pkg/llm/providers/openai"
	"devflow/pkg/logx"
	"devflow/pkg/metrics"
	"devflow/pkg/persistence"
	"devflow/pkg/tools"
	"devflow/pkg/utils"
	"devflow/pkg/workflow"
)

func main() {
	var (
		configPath  string
		request     string
		repoPath    string
		baseBranch  string
		serve       bool
		initSecrets bool
	)
	flag.StringVar(&configPath, "config", "devflow.yaml", "path to settings file")
	flag.StringVar(&request, "request", "", "feature request to implement")
	flag.StringVar(&repoPath, "repo", ".", "path to the target repository")
	flag.StringVar(&baseBranch, "base", "", "base branch (default: main)")
	flag.BoolVar(&serve, "serve", false, "start the HTTP run service")
	flag.BoolVar(&initSecrets, "init-secrets", false, "create the encrypted secrets file")
	flag.Parse()

	logger := logx.NewLogger("devflow")

	if initSecrets {
		if err := runInitSecrets(); err != nil {
			logger.Error("init-secrets failed: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config: %v", err)
		os.Exit(1)
	}

	if err := loadSecretsIfPresent(logger); err != nil {
		logger.Error("failed to load secrets: %v", err)
		os.Exit(1)
	}

	recorder := metrics.NewPrometheusRecorder()
	router, err := buildRouter(cfg, recorder)
	if err != nil {
		logger.Error("failed to build model router: %v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		logger.Error("failed to create storage directory: %v", err)
		os.Exit(1)
	}
	db, err := persistence.InitializeDatabase(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("failed to open run store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	store := persistence.NewStore(db)

	if serve {
		srv := server.New(cfg, store, router, recorder)
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("server failed: %v", err)
			os.Exit(1)
		}
		return
	}

	if request == "" {
		fmt.Fprintln(os.Stderr, "usage: devflow -request \"<feature request>\" [-repo <path>] | -serve | -init-secrets")
		os.Exit(2)
	}

	if err := runOnce(cfg, store, router, recorder, request, repoPath, baseBranch, logger); err != nil {
		logger.Error("run failed: %v", err)
		os.Exit(1)
	}
}

// runOnce drives a single run to completion and prints the summary.
func runOnce(cfg *config.Config, store *persistence.Store, router *llm.Router,
	recorder *metrics.PrometheusRecorder, request, repoPath, baseBranch string, logger *logx.Logger) error {

	absRepo, err := filepath.Abs(repoPath)
	if err != nil {
		return fmt.Errorf("invalid repo path: %w", err)
	}
	if info, err := os.Stat(absRepo); err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absRepo)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway := tools.NewGateway(absRepo, cfg)
	engine := workflow.NewEngine(gateway, router,
		workflow.WithStore(store),
		workflow.WithMetrics(recorder),
		workflow.WithMaxRetries(cfg.Workflow.MaxRetries),
	)

	state := workflow.NewRunState(utils.NewRunID(), workflow.FeatureRequest{
		Description: request,
		RepoPath:    absRepo,
		BaseBranch:  baseBranch,
	})

	logger.Info("run %s started", state.RunID)
	if err := engine.Run(ctx, state); err != nil {
		return err
	}

	if state.Summary != nil {
		fmt.Println(state.Summary.ToMarkdown())
	} else {
		fmt.Printf("run %s finished with status %s and no summary\n", state.RunID, state.Status)
	}
	if len(state.Errors) > 0 {
		fmt.Fprintln(os.Stderr, "\nErrors:")
		for _, e := range state.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
	}
	return nil
}

// buildRouter constructs adapters for every provider with usable
// configuration and wires them into the router.
func buildRouter(cfg *config.Config, recorder llm.Recorder) (*llm.Router, error) {
	var providers []llm.Provider

	if key, err := config.GetSecret(config.SecretAnthropicAPIKey); err == nil && key != "" {
		pc := cfg.Providers.Anthropic
		providers = append(providers, anthropic.New(key, []string{pc.FastModel, pc.ReasoningModel}, pc.Timeout))
	}
	if key, err := config.GetSecret(config.SecretOpenAIAPIKey); err == nil && key != "" {
		pc := cfg.Providers.OpenAI
		providers = append(providers, openai.New(key, pc.BaseURL, []string{pc.FastModel, pc.ReasoningModel}, pc.Timeout))
	}
	if key, err := config.GetSecret(config.SecretGeminiAPIKey); err == nil && key != "" {
		pc := cfg.Providers.Gemini
		providers = append(providers, google.New(key, []string{pc.FastModel, pc.ReasoningModel}, pc.Timeout))
	}
	// Ollama needs no key; include it whenever it is primary or fallback.
	if cfg.Providers.Primary == config.ProviderOllama || cfg.Providers.Fallback == config.ProviderOllama {
		pc := cfg.Providers.Ollama
		providers = append(providers, ollama.New(pc.BaseURL, []string{pc.FastModel, pc.ReasoningModel}, pc.Timeout))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured: set API keys via -init-secrets or environment")
	}
	return llm.NewRouter(providers, &cfg.Providers, recorder)
}

// loadSecretsIfPresent decrypts the secrets file when it exists, prompting
// for the password. Absence is not an error: keys may come from the
// environment instead.
func loadSecretsIfPresent(logger *logx.Logger) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	if !config.SecretsFileExists(dir) {
		return nil
	}

	password, err := promptPassword("Secrets password: ")
	if err != nil {
		return err
	}
	if err := config.LoadSecrets(dir, password); err != nil {
		return err
	}
	logger.Info("secrets loaded")
	return nil
}

// runInitSecrets interactively collects provider API keys and writes the
// encrypted secrets file.
func runInitSecrets() error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	password, err := promptPassword("Choose a secrets password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	secrets := make(map[string]string)
	reader := bufio.NewReader(os.Stdin)
	for _, name := range []string{
		config.SecretAnthropicAPIKey,
		config.SecretOpenAIAPIKey,
		config.SecretGeminiAPIKey,
	} {
		fmt.Printf("%s (blank to skip): ", name)
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if value := strings.TrimSpace(line); value != "" {
			secrets[name] = value
		}
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no secrets entered")
	}

	if err := config.EncryptSecretsFile(dir, password, secrets); err != nil {
		return err
	}
	fmt.Println("secrets file written")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
