package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devflow/pkg/workflow"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := InitializeDatabase(filepath.Join(t.TempDir(), "devflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), db
}

func sampleState(runID string) *workflow.RunState {
	s := workflow.NewRunState(runID, workflow.FeatureRequest{
		Description: "add a greeting",
		RepoPath:    "/tmp/repo",
	})
	s.Plan = &workflow.Plan{Title: "Add greeting", EstimatedComplexity: workflow.ComplexityLow}
	return s
}

func TestInitializeDatabaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devflow.db")

	db, err := InitializeDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitializeDatabase(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	version, err := getSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestSaveStateRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := sampleState("run-1")
	state.Status = workflow.StatusPlanning
	require.NoError(t, store.SaveState(ctx, state))

	loaded, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, workflow.StatusPlanning, loaded.Status)
	require.NotNil(t, loaded.Plan)
	assert.Equal(t, "Add greeting", loaded.Plan.Title)
}

func TestSaveStateUpsertsSummaryRow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := sampleState("run-1")
	require.NoError(t, store.SaveState(ctx, state))

	state.Status = workflow.StatusCompleted
	state.CurrentStep = workflow.StepTerminal
	state.EndedAt = time.Now().UTC()
	require.NoError(t, store.SaveState(ctx, state))

	records, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "completed", records[0].Status)
	assert.Equal(t, "terminal", records[0].CurrentStep)
	require.NotNil(t, records[0].EndedAt)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	done := sampleState("run-done")
	done.Status = workflow.StatusCompleted
	require.NoError(t, store.SaveState(ctx, done))

	running := sampleState("run-active")
	running.Status = workflow.StatusExecuting
	require.NoError(t, store.SaveState(ctx, running))

	records, err := store.ListRuns(ctx, string(workflow.StatusCompleted), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "run-done", records[0].ID)

	all, err := store.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStepHistoryAccumulates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := sampleState("run-1")
	state.CurrentStep = workflow.StepPlan
	require.NoError(t, store.SaveState(ctx, state))
	state.CurrentStep = workflow.StepChecklist
	require.NoError(t, store.SaveState(ctx, state))
	state.CurrentStep = workflow.StepExecute
	state.RetryCount = 1
	require.NoError(t, store.SaveState(ctx, state))

	history, err := store.StepHistory(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "plan", history[0].Step)
	assert.Equal(t, "checklist", history[1].Step)
	assert.Equal(t, "execute", history[2].Step)
	assert.Equal(t, 1, history[2].RetryCount)
}

func TestGetRunNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRunCascadesHistory(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	state := sampleState("run-1")
	require.NoError(t, store.SaveState(ctx, state))
	require.NoError(t, store.DeleteRun(ctx, "run-1"))

	_, err := store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM run_steps WHERE run_id = ?`, "run-1",
	).Scan(&count))
	assert.Zero(t, count)

	assert.ErrorIs(t, store.DeleteRun(ctx, "run-1"), ErrNotFound)
}
