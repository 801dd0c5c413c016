package tools

import (
	"context"
	"time"

	"devflow/pkg/config"
	execpkg "devflow/pkg/exec"
)

// Gateway bundles every side-effecting capability the workflow engine uses:
// repository file access, git operations, and sandboxed command execution.
// All operations return a Result envelope.
type Gateway struct {
	repo    *Repo
	git     *Git
	sandbox *Sandbox
}

// NewGateway creates a gateway rooted at the repository path.
func NewGateway(repoPath string, cfg *config.Config) *Gateway {
	executor := execpkg.NewLocalExec()
	return &Gateway{
		repo:    NewRepo(repoPath, cfg.Workflow.MaxFileSize),
		git:     NewGit(executor, repoPath, cfg.Git.MetadataTimeout, cfg.Git.CommitTimeout),
		sandbox: NewSandbox(executor, &cfg.Sandbox),
	}
}

// RepoPath returns the repository root this gateway operates on.
func (g *Gateway) RepoPath() string {
	return g.repo.Root()
}

// MapRepository scans the repository structure.
func (g *Gateway) MapRepository(_ context.Context, maxDepth int) Result {
	return g.repo.MapRepository(maxDepth)
}

// ReadFile reads a repository file, optionally limited to a line range.
func (g *Gateway) ReadFile(_ context.Context, relPath string, startLine, endLine int) Result {
	return g.repo.ReadFile(relPath, startLine, endLine)
}

// WriteFile writes a repository file.
func (g *Gateway) WriteFile(_ context.Context, relPath, content string) Result {
	return g.repo.WriteFile(relPath, content)
}

// SearchText searches repository files for the query.
func (g *Gateway) SearchText(_ context.Context, query, filePattern string, maxResults int) Result {
	return g.repo.SearchText(query, filePattern, maxResults)
}

// GitStatus reports branch and working-tree state.
func (g *Gateway) GitStatus(ctx context.Context) Result {
	return g.git.Status(ctx)
}

// GitCreateBranch creates and checks out a branch.
func (g *Gateway) GitCreateBranch(ctx context.Context, branchName string) Result {
	return g.git.CreateBranch(ctx, branchName)
}

// GitCommit stages everything and commits.
func (g *Gateway) GitCommit(ctx context.Context, message string) Result {
	return g.git.Commit(ctx, message)
}

// GitDiff returns the working-tree diff.
func (g *Gateway) GitDiff(ctx context.Context, staged bool, filePath string) Result {
	return g.git.Diff(ctx, staged, filePath)
}

// GitLog returns recent commits.
func (g *Gateway) GitLog(ctx context.Context, maxCommits int) Result {
	return g.git.Log(ctx, maxCommits)
}

// RunCommand executes one allow-listed command in the repository.
func (g *Gateway) RunCommand(ctx context.Context, command string, timeout time.Duration) Result {
	return g.sandbox.RunCommand(ctx, command, g.repo.Root(), timeout)
}

// RunTests runs the configured test command.
func (g *Gateway) RunTests(ctx context.Context) Result {
	return g.sandbox.RunTests(ctx, g.repo.Root())
}

// RunLinter runs the configured lint command.
func (g *Gateway) RunLinter(ctx context.Context) Result {
	return g.sandbox.RunLinter(ctx, g.repo.Root())
}
