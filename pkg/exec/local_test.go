package exec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecRun(t *testing.T) {
	e := NewLocalExec()
	require.True(t, e.Available())

	result, err := e.Run(context.Background(), []string{"echo", "hello"}, DefaultOpts())
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, "local", result.ExecutorUsed)
}

func TestLocalExecNonZeroExit(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"sh", "-c", "exit 3"}, DefaultOpts())
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestLocalExecEmptyCommand(t *testing.T) {
	e := NewLocalExec()

	_, err := e.Run(context.Background(), nil, DefaultOpts())
	require.Error(t, err)
}

func TestLocalExecWorkDir(t *testing.T) {
	e := NewLocalExec()
	dir := t.TempDir()

	result, err := e.Run(context.Background(), []string{"pwd"}, &Opts{WorkDir: dir, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)

	_, err = e.Run(context.Background(), []string{"pwd"}, &Opts{WorkDir: "/nonexistent-dir-xyz"})
	require.Error(t, err)
}

func TestLocalExecTimeout(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"sleep", "5"}, &Opts{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestLocalExecEnv(t *testing.T) {
	e := NewLocalExec()

	result, err := e.Run(context.Background(), []string{"sh", "-c", "echo $DEVFLOW_TEST_VAR"}, &Opts{
		Env:     []string{"DEVFLOW_TEST_VAR=42"},
		Timeout: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "42\n", result.Stdout)
}
