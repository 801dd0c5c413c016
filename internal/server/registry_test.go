package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRunRegistry()

	h := &RunHandle{RunID: "run-1", StartedAt: time.Now()}
	require.NoError(t, reg.Register(h))
	assert.Error(t, reg.Register(&RunHandle{RunID: "run-1"}))

	got, ok := reg.Get("run-1")
	require.True(t, ok)
	assert.Same(t, h, got)

	_, ok = reg.Get("run-2")
	assert.False(t, ok)

	assert.Equal(t, []string{"run-1"}, reg.List())
}

func TestRegistryActiveCount(t *testing.T) {
	reg := NewRunRegistry()

	active := &RunHandle{RunID: "run-1"}
	finished := &RunHandle{RunID: "run-2"}
	finished.Finish(nil)
	require.NoError(t, reg.Register(active))
	require.NoError(t, reg.Register(finished))

	assert.Equal(t, 1, reg.ActiveCount())
	assert.True(t, active.Active())
	assert.False(t, finished.Active())
}

func TestRegistryCancelAll(t *testing.T) {
	reg := NewRunRegistry()

	ctx, cancel := context.WithCancelCause(context.Background())
	require.NoError(t, reg.Register(&RunHandle{RunID: "run-1", Cancel: cancel}))

	reg.CancelAll("server shutting down")
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.EqualError(t, context.Cause(ctx), "server shutting down")

	reg.Remove("run-1")
	assert.Empty(t, reg.List())
}

func TestRunHandleFinish(t *testing.T) {
	h := &RunHandle{RunID: "run-1"}
	assert.True(t, h.Active())
	assert.NoError(t, h.Err())

	boom := errors.New("boom")
	h.Finish(boom)
	assert.False(t, h.Active())
	assert.ErrorIs(t, h.Err(), boom)
}
