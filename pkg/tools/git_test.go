package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execpkg "devflow/pkg/exec"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	return dir
}

func newTestGit(t *testing.T, dir string) *Git {
	t.Helper()
	return NewGit(execpkg.NewLocalExec(), dir, 10*time.Second, 30*time.Second)
}

func TestGitStatusNotARepo(t *testing.T) {
	g := newTestGit(t, t.TempDir())

	res := g.Status(context.Background())
	assert.False(t, res.OK)
	assert.Equal(t, CodeNotAGitRepo, res.ErrorCode)
	assert.False(t, res.Retryable)
}

func TestGitStatusCleanAndDirty(t *testing.T) {
	dir := initGitRepo(t)
	g := newTestGit(t, dir)

	res := g.Status(context.Background())
	require.True(t, res.OK, res.Message)
	assert.Equal(t, true, res.Data["is_clean"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	res = g.Status(context.Background())
	require.True(t, res.OK)
	assert.Equal(t, false, res.Data["is_clean"])
	changes := res.Data["changes"].(map[string][]string)
	assert.Contains(t, changes["untracked"], "new.txt")
}

func TestGitCreateBranchAndCommit(t *testing.T) {
	dir := initGitRepo(t)
	g := newTestGit(t, dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("base"), 0o644))
	first := g.Commit(ctx, "initial commit")
	require.True(t, first.OK, first.Message)
	assert.Equal(t, true, first.Data["committed"])

	branch := g.CreateBranch(ctx, "devflow/abc 123")
	require.True(t, branch.OK, branch.Message)
	assert.Equal(t, "devflow/abc-123", branch.Data["branch"])

	status := g.Status(ctx)
	require.True(t, status.OK)
	assert.Equal(t, "devflow/abc-123", status.Data["branch"])
}

func TestGitCommitNothingToCommit(t *testing.T) {
	dir := initGitRepo(t)
	g := newTestGit(t, dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("base"), 0o644))
	require.True(t, g.Commit(ctx, "initial").OK)

	res := g.Commit(ctx, "empty")
	require.True(t, res.OK)
	assert.Equal(t, false, res.Data["committed"])
}

func TestGitDiffAndLog(t *testing.T) {
	dir := initGitRepo(t)
	g := newTestGit(t, dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644))
	require.True(t, g.Commit(ctx, "feat: add a").OK)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644))
	diff := g.Diff(ctx, false, "")
	require.True(t, diff.OK, diff.Message)
	assert.Equal(t, true, diff.Data["has_changes"])
	assert.Contains(t, diff.Data["diff"], "+two")

	logRes := g.Log(ctx, 5)
	require.True(t, logRes.OK)
	commits := logRes.Data["commits"].([]Commit)
	require.NotEmpty(t, commits)
	assert.Equal(t, "feat: add a", commits[0].Message)
	assert.Len(t, commits[0].Hash, 8)
}
