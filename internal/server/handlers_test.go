package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devflow/pkg/config"
	"devflow/pkg/llm"
	"devflow/pkg/persistence"
	"devflow/pkg/tools"
	"devflow/pkg/workflow"
)

const (
	testPlanJSON = `{"title":"Add greeting","problem_statement":"p","proposed_approach":"a",` +
		`"affected_files":["main.go"],"estimated_complexity":"low"}`
	testChecklistJSON = `{"items":[{"id":"item-1","description":"add greeting","file_path":"main.go",` +
		`"action":"create"}],"test_strategy":"go test ./..."}`
	testExecuteJSON = `{"file_path":"main.go","new_content":"package main\n","explanation":"done"}`
	testSummaryJSON = `{"title":"Add greeting","description":"d","changes_made":["x"],` +
		`"verification_steps":["v"],"risk_notes":[]}`
)

// stubRouter answers every step with canned JSON and reports all providers
// healthy unless told otherwise.
type stubRouter struct {
	healthy bool
	block   chan struct{} // non-nil blocks Route until closed or ctx done
}

func (r *stubRouter) Route(ctx context.Context, step, _ string, _ llm.CompletionRequest) (llm.RouteResult, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return llm.RouteResult{}, ctx.Err()
		}
	}
	content := map[string]string{
		"plan":      testPlanJSON,
		"checklist": testChecklistJSON,
		"execute":   testExecuteJSON,
		"summarize": testSummaryJSON,
	}[step]
	return llm.RouteResult{
		Response: llm.CompletionResponse{Content: content, FinishReason: "stop"},
		Provider: "anthropic",
		Model:    "test-model",
	}, nil
}

func (r *stubRouter) HealthCheck(context.Context) map[string]bool {
	return map[string]bool{"anthropic": r.healthy}
}

// stubGateway is the minimal in-memory tool gateway for handler tests.
type stubGateway struct {
	files map[string]string
}

func (g *stubGateway) MapRepository(context.Context, int) tools.Result {
	return tools.Success(map[string]any{
		"key_files":  []tools.KeyFile{{Path: "main.go"}},
		"signatures": map[string][]string{},
	}, 0)
}

func (g *stubGateway) ReadFile(_ context.Context, relPath string, _, _ int) tools.Result {
	content, ok := g.files[relPath]
	if !ok {
		return tools.Failure(tools.CodeFileNotFound, "file not found", 0)
	}
	return tools.Success(map[string]any{"content": content}, 0)
}

func (g *stubGateway) WriteFile(_ context.Context, relPath, content string) tools.Result {
	g.files[relPath] = content
	return tools.Success(map[string]any{"path": relPath}, 0)
}

func (g *stubGateway) GitCreateBranch(_ context.Context, name string) tools.Result {
	return tools.Success(map[string]any{"branch": name}, 0)
}

func (g *stubGateway) GitCommit(context.Context, string) tools.Result {
	return tools.Success(map[string]any{"committed": true}, 0)
}

func (g *stubGateway) GitDiff(context.Context, bool, string) tools.Result {
	return tools.Success(map[string]any{"diff": "+x", "has_changes": true}, 0)
}

func (g *stubGateway) RunTests(context.Context) tools.Result {
	return tools.Success(map[string]any{"stdout": "ok", "tests_passed": true}, 0)
}

func (g *stubGateway) RunLinter(context.Context) tools.Result {
	return tools.Success(map[string]any{"stdout": ""}, 0)
}

func newTestServer(t *testing.T, router ModelRouter) (*Server, *httptest.Server) {
	t.Helper()

	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "devflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{}
	cfg.Workflow.MaxRetries = workflow.DefaultMaxRetries
	cfg.Server.Host = "127.0.0.1"

	s := New(cfg, persistence.NewStore(db), router, nil)
	s.newGateway = func(string) (workflow.ToolGateway, error) {
		return &stubGateway{files: map[string]string{}}, nil
	}

	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(s.cancel)
	return s, ts
}

func createRun(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(CreateRunRequest{Description: "add a greeting", RepoPath: "/tmp/repo"})
	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created["run_id"])
	return created["run_id"]
}

func waitForStatus(t *testing.T, ts *httptest.Server, runID, want string) RunStatusResponse {
	t.Helper()
	var status RunStatusResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("%s/api/runs/%s", ts.URL, runID))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Status == want
	}, 10*time.Second, 20*time.Millisecond)
	return status
}

func TestCreateRunLifecycle(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	runID := createRun(t, ts)
	status := waitForStatus(t, ts, runID, "completed")
	assert.Equal(t, "terminal", status.CurrentStep)
	assert.InDelta(t, 1.0, status.Progress, 0.001)
	assert.Empty(t, status.Errors)

	resp, err := http.Get(fmt.Sprintf("%s/api/runs/%s/artifacts", ts.URL, runID))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var artifacts ArtifactsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&artifacts))
	assert.Contains(t, artifacts.PlanMarkdown, "# Add greeting")
	assert.Contains(t, artifacts.ChecklistMarkdown, "add greeting")
	assert.Contains(t, artifacts.SummaryMarkdown, "## Changes Made")
}

func TestCreateRunValidation(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	tests := []struct {
		name string
		body string
	}{
		{"missing description", `{"repo_path":"/tmp/repo"}`},
		{"missing repo path", `{"description":"x"}`},
		{"malformed body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader([]byte(tt.body)))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	resp, err := http.Get(ts.URL + "/api/runs/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRunsFilter(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	runID := createRun(t, ts)
	waitForStatus(t, ts, runID, "completed")

	resp, err := http.Get(ts.URL + "/api/runs?status=completed")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []persistence.RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, runID, records[0].ID)
}

func TestStepHistoryEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	runID := createRun(t, ts)
	waitForStatus(t, ts, runID, "completed")

	resp, err := http.Get(fmt.Sprintf("%s/api/runs/%s/steps", ts.URL, runID))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []persistence.StepSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.NotEmpty(t, history)
}

func TestCancelRun(t *testing.T) {
	router := &stubRouter{healthy: true, block: make(chan struct{})}
	s, ts := newTestServer(t, router)

	runID := createRun(t, ts)

	resp, err := http.Post(fmt.Sprintf("%s/api/runs/%s/cancel", ts.URL, runID), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		h, ok := s.registry.Get(runID)
		return ok && !h.Active()
	}, 10*time.Second, 20*time.Millisecond)

	status := waitForStatus(t, ts, runID, "cancelled")
	assert.Equal(t, "cancelled", status.Status)

	// Cancelling a finished run conflicts.
	resp2, err := http.Post(fmt.Sprintf("%s/api/runs/%s/cancel", ts.URL, runID), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestDeleteRun(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	runID := createRun(t, ts)
	waitForStatus(t, ts, runID, "completed")

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/runs/%s", ts.URL, runID), nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(fmt.Sprintf("%s/api/runs/%s", ts.URL, runID))
	require.NoError(t, err)
	defer func() { _ = getResp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestUsageEndpointUnconfigured(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	resp, err := http.Get(ts.URL + "/api/metrics/usage")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &stubRouter{healthy: true})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, tsDown := newTestServer(t, &stubRouter{healthy: false})
	resp2, err := http.Get(tsDown.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}
