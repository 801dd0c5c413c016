package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"devflow/pkg/persistence"
	"devflow/pkg/utils"
	"devflow/pkg/workflow"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	providers := s.router.HealthCheck(ctx)
	healthy := true
	for _, ok := range providers {
		healthy = healthy && ok
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":      state,
		"providers":   providers,
		"active_runs": s.registry.ActiveCount(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusNotImplemented, "metrics query service not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	totals, err := s.queries.GetTotals(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("prometheus query failed: %v", err))
		return
	}
	byProvider, err := s.queries.GetTokensByProvider(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("prometheus query failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totals":             totals,
		"tokens_by_provider": byProvider,
	})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.RepoPath == "" {
		writeError(w, http.StatusBadRequest, "repo_path is required")
		return
	}

	gateway, err := s.newGateway(req.RepoPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot open repository: %v", err))
		return
	}

	state := workflow.NewRunState(utils.NewRunID(), workflow.FeatureRequest{
		Description:  req.Description,
		RepoPath:     req.RepoPath,
		BaseBranch:   req.BaseBranch,
		ModelProfile: req.ModelProfile,
	})
	if err := s.store.SaveState(r.Context(), state); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("cannot persist run: %v", err))
		return
	}

	opts := []workflow.Option{
		workflow.WithStore(s.store),
		workflow.WithMaxRetries(s.cfg.Workflow.MaxRetries),
	}
	if s.recorder != nil {
		opts = append(opts, workflow.WithMetrics(s.recorder))
	}
	engine := workflow.NewEngine(gateway, s.router, opts...)

	ctx, cancel := context.WithCancelCause(s.baseCtx)
	handle := &RunHandle{
		RunID:     state.RunID,
		Cancel:    cancel,
		StartedAt: state.StartedAt,
	}
	if err := s.registry.Register(handle); err != nil {
		cancel(nil)
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go func() {
		runErr := engine.Run(ctx, state)
		handle.Finish(runErr)
		if runErr != nil {
			s.logger.Warn("[%s] run ended: %v", state.RunID, runErr)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": state.RunID,
		"status": "accepted",
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	state, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	active := false
	if h, ok := s.registry.Get(runID); ok {
		active = h.Active()
	}

	resp := RunStatusResponse{
		RunID:       state.RunID,
		Status:      string(state.Status),
		CurrentStep: string(state.CurrentStep),
		Progress:    state.Progress(),
		RetryCount:  state.RetryCount,
		Active:      active,
		Errors:      state.Errors,
		StartedAt:   state.StartedAt,
	}
	if !state.EndedAt.IsZero() {
		t := state.EndedAt
		resp.EndedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	records, err := s.store.ListRuns(r.Context(), status, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*persistence.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	state, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ArtifactsResponse{
		RunID:             state.RunID,
		Patches:           state.Patches,
		ValidationResults: state.ValidationResults,
	}
	if state.Plan != nil {
		resp.PlanMarkdown = state.Plan.ToMarkdown()
	}
	if state.Checklist != nil {
		resp.ChecklistMarkdown = state.Checklist.ToMarkdown()
	}
	if state.Summary != nil {
		resp.SummaryMarkdown = state.Summary.ToMarkdown()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	history, err := s.store.StepHistory(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(history) == 0 {
		if _, err := s.store.GetRun(r.Context(), runID); errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
			return
		}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	h, ok := s.registry.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if !h.Active() {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s already finished", runID))
		return
	}

	h.Cancel(fmt.Errorf("cancelled via HTTP API"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if h, ok := s.registry.Get(runID); ok && h.Active() {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s is still active", runID))
		return
	}

	err := s.store.DeleteRun(r.Context(), runID)
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.registry.Remove(runID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
