package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"devflow/pkg/config"
	execpkg "devflow/pkg/exec"
	"devflow/pkg/logx"
)

// Sandbox executes allow-listed commands. The allow-list is checked by base
// command name before any process is spawned; unlisted commands fail closed.
type Sandbox struct {
	executor execpkg.Executor
	allowed  map[string]bool
	cfg      *config.SandboxConfig
	logger   *logx.Logger
}

// NewSandbox creates a sandbox over the given executor and configuration.
func NewSandbox(executor execpkg.Executor, cfg *config.SandboxConfig) *Sandbox {
	allowed := make(map[string]bool, len(cfg.AllowedCommands))
	for _, cmd := range cfg.AllowedCommands {
		allowed[cmd] = true
	}
	return &Sandbox{
		executor: executor,
		allowed:  allowed,
		cfg:      cfg,
		logger:   logx.NewLogger("sandbox"),
	}
}

// RunCommand runs one allow-listed command in cwd. timeout <= 0 selects the
// configured default.
func (s *Sandbox) RunCommand(ctx context.Context, command, cwd string, timeout time.Duration) Result {
	start := time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return Failure(CodeEmptyCommand, "command is empty", time.Since(start))
	}

	base := parts[0]
	if !s.allowed[base] {
		s.logger.Warn("blocked command %q", base)
		return Failure(CodeCommandNotAllowed,
			fmt.Sprintf("command %q is not in the allow-list", base), time.Since(start))
	}

	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		return Failure(CodeInvalidCwd, fmt.Sprintf("working directory does not exist: %s", cwd), time.Since(start))
	}

	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}

	res, err := s.executor.Run(ctx, parts, &execpkg.Opts{
		WorkDir: cwd,
		Timeout: timeout,
	})
	if err != nil {
		return Failure(CodeExecutionError, err.Error(), time.Since(start))
	}

	data := map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
		"command":   command,
	}

	if res.TimedOut {
		return FailureWithData(CodeCommandTimeout,
			fmt.Sprintf("command timed out after %s", timeout), data, time.Since(start))
	}
	if res.ExitCode != 0 {
		return FailureWithData(CodeCommandFailed, strings.TrimSpace(res.Stderr), data, time.Since(start))
	}
	return Success(data, time.Since(start))
}

// RunTests runs the configured test command in the repository and annotates
// the result with a parsed pass/fail summary.
func (s *Sandbox) RunTests(ctx context.Context, repoPath string) Result {
	result := s.RunCommand(ctx, s.cfg.TestCommand, repoPath, s.cfg.TestTimeout)

	if result.Data != nil {
		stdout, _ := result.Data["stdout"].(string)
		passed := strings.Count(stdout, " passed") + strings.Count(stdout, "ok  ")
		failed := strings.Count(stdout, " failed") + strings.Count(stdout, "FAIL")
		result.Data["tests_passed"] = result.OK && failed == 0
		result.Data["summary"] = map[string]any{
			"passed": passed,
			"failed": failed,
		}
	}
	return result
}

// RunLinter runs the configured lint command in the repository.
func (s *Sandbox) RunLinter(ctx context.Context, repoPath string) Result {
	return s.RunCommand(ctx, s.cfg.LintCommand, repoPath, s.cfg.LintTimeout)
}
