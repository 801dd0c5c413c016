package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	execpkg "devflow/pkg/exec"
	"devflow/pkg/logx"
)

// Commit is one entry returned by Log.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

// Git runs version-control operations against one repository. Metadata calls
// (status, branch, log) use a short timeout; commit and diff get a longer
// one.
type Git struct {
	executor      execpkg.Executor
	root          string
	metaTimeout   time.Duration
	commitTimeout time.Duration
	logger        *logx.Logger
}

// NewGit creates a git operations handle for the repository at root.
func NewGit(executor execpkg.Executor, root string, metaTimeout, commitTimeout time.Duration) *Git {
	if metaTimeout <= 0 {
		metaTimeout = 10 * time.Second
	}
	if commitTimeout <= 0 {
		commitTimeout = 30 * time.Second
	}
	return &Git{
		executor:      executor,
		root:          root,
		metaTimeout:   metaTimeout,
		commitTimeout: commitTimeout,
		logger:        logx.NewLogger("git"),
	}
}

func (g *Git) isRepo() bool {
	info, err := os.Stat(filepath.Join(g.root, ".git"))
	return err == nil && info.IsDir()
}

func (g *Git) run(ctx context.Context, timeout time.Duration, args ...string) (execpkg.Result, error) {
	return g.executor.Run(ctx, append([]string{"git"}, args...), &execpkg.Opts{
		WorkDir: g.root,
		Timeout: timeout,
	})
}

// Status reports the current branch and a parsed porcelain status.
func (g *Git) Status(ctx context.Context) Result {
	start := time.Now()

	if !g.isRepo() {
		return Failure(CodeNotAGitRepo, "directory is not a git repository", time.Since(start))
	}

	branchRes, err := g.run(ctx, g.metaTimeout, "branch", "--show-current")
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if branchRes.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}

	statusRes, err := g.run(ctx, g.metaTimeout, "status", "--porcelain")
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if statusRes.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}

	changes := map[string][]string{
		"modified":  {},
		"added":     {},
		"deleted":   {},
		"untracked": {},
	}
	for _, line := range strings.Split(strings.TrimRight(statusRes.Stdout, "\n"), "\n") {
		if len(line) < 4 {
			continue
		}
		code, path := line[:2], line[3:]
		switch {
		case code[0] == 'M' || code[1] == 'M':
			changes["modified"] = append(changes["modified"], path)
		case code[0] == 'A':
			changes["added"] = append(changes["added"], path)
		case code[0] == 'D':
			changes["deleted"] = append(changes["deleted"], path)
		case code == "??":
			changes["untracked"] = append(changes["untracked"], path)
		}
	}

	return Success(map[string]any{
		"branch":   strings.TrimSpace(branchRes.Stdout),
		"changes":  changes,
		"is_clean": strings.TrimSpace(statusRes.Stdout) == "",
	}, time.Since(start))
}

// CreateBranch creates a branch and checks it out. The branch name is
// sanitized for ref safety before use.
func (g *Git) CreateBranch(ctx context.Context, branchName string) Result {
	start := time.Now()

	if !g.isRepo() {
		return Failure(CodeNotAGitRepo, "directory is not a git repository", time.Since(start))
	}

	safeName := strings.ReplaceAll(branchName, " ", "-")
	res, err := g.run(ctx, g.metaTimeout, "checkout", "-b", safeName)
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if res.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}
	if res.ExitCode != 0 {
		return Failure(CodeBranchFailed, strings.TrimSpace(res.Stderr), time.Since(start))
	}

	g.logger.Info("created branch %s", safeName)
	return Success(map[string]any{
		"branch":      safeName,
		"checked_out": true,
	}, time.Since(start))
}

// Commit stages all changes and commits with the given message. A repository
// with nothing to commit succeeds with committed=false.
func (g *Git) Commit(ctx context.Context, message string) Result {
	start := time.Now()

	if !g.isRepo() {
		return Failure(CodeNotAGitRepo, "directory is not a git repository", time.Since(start))
	}

	addRes, err := g.run(ctx, g.metaTimeout, "add", "-A")
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if addRes.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}
	if addRes.ExitCode != 0 {
		return Failure(CodeGitAddFailed, strings.TrimSpace(addRes.Stderr), time.Since(start))
	}

	commitRes, err := g.run(ctx, g.commitTimeout, "commit", "-m", message)
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if commitRes.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}
	if commitRes.ExitCode != 0 {
		if strings.Contains(commitRes.Stdout, "nothing to commit") {
			return Success(map[string]any{
				"committed": false,
				"message":   "nothing to commit",
			}, time.Since(start))
		}
		return Failure(CodeGitCommitFailed, strings.TrimSpace(commitRes.Stderr), time.Since(start))
	}

	hashRes, err := g.run(ctx, g.metaTimeout, "rev-parse", "HEAD")
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	hash := strings.TrimSpace(hashRes.Stdout)
	if len(hash) > 8 {
		hash = hash[:8]
	}

	g.logger.Info("committed %s: %s", hash, message)
	return Success(map[string]any{
		"committed": true,
		"hash":      hash,
		"message":   message,
	}, time.Since(start))
}

// Diff returns the working-tree diff plus a stat summary. filePath narrows
// the diff to one file when non-empty.
func (g *Git) Diff(ctx context.Context, staged bool, filePath string) Result {
	start := time.Now()

	if !g.isRepo() {
		return Failure(CodeNotAGitRepo, "directory is not a git repository", time.Since(start))
	}

	args := []string{"diff"}
	if staged {
		args = append(args, "--staged")
	}
	if filePath != "" {
		args = append(args, "--", filePath)
	}

	diffRes, err := g.run(ctx, g.commitTimeout, args...)
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if diffRes.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}

	statsRes, err := g.run(ctx, g.metaTimeout, append(args, "--stat")...)
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}

	return Success(map[string]any{
		"diff":        diffRes.Stdout,
		"stats":       strings.TrimSpace(statsRes.Stdout),
		"has_changes": strings.TrimSpace(diffRes.Stdout) != "",
	}, time.Since(start))
}

// Log returns the most recent commits, newest first.
func (g *Git) Log(ctx context.Context, maxCommits int) Result {
	start := time.Now()

	if !g.isRepo() {
		return Failure(CodeNotAGitRepo, "directory is not a git repository", time.Since(start))
	}
	if maxCommits <= 0 {
		maxCommits = 10
	}

	res, err := g.run(ctx, g.metaTimeout,
		"log", fmt.Sprintf("-%d", maxCommits), "--format=%H|%s|%an|%ad", "--date=short")
	if err != nil {
		return Failure(CodeGitError, err.Error(), time.Since(start))
	}
	if res.TimedOut {
		return Failure(CodeGitTimeout, "git command timed out", time.Since(start))
	}

	var commits []Commit
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		hash := parts[0]
		if len(hash) > 8 {
			hash = hash[:8]
		}
		commits = append(commits, Commit{
			Hash:    hash,
			Message: parts[1],
			Author:  parts[2],
			Date:    parts[3],
		})
	}

	return Success(map[string]any{
		"commits": commits,
		"count":   len(commits),
	}, time.Since(start))
}
