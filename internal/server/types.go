package server

import "time"

// CreateRunRequest is the body of POST /api/runs.
type CreateRunRequest struct {
	Description  string `json:"description"`
	RepoPath     string `json:"repo_path"`
	BaseBranch   string `json:"base_branch,omitempty"`
	ModelProfile string `json:"model_profile,omitempty"`
}

// RunStatusResponse is the body of GET /api/runs/{id}.
type RunStatusResponse struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	CurrentStep string     `json:"current_step"`
	Progress    float64    `json:"progress"`
	RetryCount  int        `json:"retry_count"`
	Active      bool       `json:"active"`
	Errors      []string   `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// ArtifactsResponse is the body of GET /api/runs/{id}/artifacts. Markdown
// renders are included alongside the structured forms.
type ArtifactsResponse struct {
	RunID             string `json:"run_id"`
	PlanMarkdown      string `json:"plan_markdown,omitempty"`
	ChecklistMarkdown string `json:"checklist_markdown,omitempty"`
	SummaryMarkdown   string `json:"summary_markdown,omitempty"`
	Patches           any    `json:"patches"`
	ValidationResults any    `json:"validation_results"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
