// Package workflow implements the run orchestration engine: the plan →
// checklist → execute → validate → summarize state machine, its bounded
// retry policy, and the run state that threads through it.
package workflow

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusPlanning    Status = "planning"
	StatusChecklist   Status = "checklist"
	StatusExecuting   Status = "executing"
	StatusValidating  Status = "validating"
	StatusSummarizing Status = "summarizing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step names the workflow stages. StepTerminal is the pseudo-step the
// engine halts on.
type Step string

const (
	StepPlan      Step = "plan"
	StepChecklist Step = "checklist"
	StepExecute   Step = "execute"
	StepValidate  Step = "validate"
	StepSummarize Step = "summarize"
	StepTerminal  Step = "terminal"
)

// Complexity is the plan's estimated effort tier.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Action is the kind of change a checklist item performs.
type Action string

const (
	ActionCreate   Action = "create"
	ActionModify   Action = "modify"
	ActionDelete   Action = "delete"
	ActionTest     Action = "test"
	ActionRefactor Action = "refactor"
)

// FeatureRequest is the external trigger that starts a run.
type FeatureRequest struct {
	Description  string `json:"description"`
	RepoPath     string `json:"repo_path"`
	BaseBranch   string `json:"base_branch"`
	ModelProfile string `json:"model_profile"`
}

// Plan is the structured implementation proposal produced by the plan step.
// Read-only after production.
type Plan struct {
	Title               string     `json:"title"`
	ProblemStatement    string     `json:"problem_statement"`
	ProposedApproach    string     `json:"proposed_approach"`
	AffectedFiles       []string   `json:"affected_files"`
	EstimatedComplexity Complexity `json:"estimated_complexity"`
	Risks               []string   `json:"risks"`
}

// ToMarkdown renders the plan as a markdown artifact.
func (p *Plan) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "## Problem Statement\n%s\n\n", p.ProblemStatement)
	fmt.Fprintf(&b, "## Proposed Approach\n%s\n\n", p.ProposedApproach)
	b.WriteString("## Affected Files\n")
	for _, f := range p.AffectedFiles {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	fmt.Fprintf(&b, "\n## Estimated Complexity\n%s\n", p.EstimatedComplexity)
	if len(p.Risks) > 0 {
		b.WriteString("\n## Risks\n")
		for _, r := range p.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

// ChecklistItem is one atomic, file-scoped unit of work.
type ChecklistItem struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	FilePath     string   `json:"file_path"`
	Action       Action   `json:"action"`
	Dependencies []string `json:"dependencies"`
	Completed    bool     `json:"completed"`
}

// Checklist is the ordered task list derived from a plan. Item order is the
// execution order; declared dependencies are informational only.
type Checklist struct {
	Items        []ChecklistItem `json:"items"`
	TestStrategy string          `json:"test_strategy"`
}

// ToMarkdown renders the checklist as a markdown artifact.
func (c *Checklist) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("# Implementation Checklist\n\n")
	for i, item := range c.Items {
		checkbox := "[ ]"
		if item.Completed {
			checkbox = "[x]"
		}
		fileStr := ""
		if item.FilePath != "" {
			fileStr = fmt.Sprintf(" (`%s`)", item.FilePath)
		}
		fmt.Fprintf(&b, "%d. %s **%s**%s: %s\n",
			i+1, checkbox, strings.ToUpper(string(item.Action)), fileStr, item.Description)
	}
	fmt.Fprintf(&b, "\n## Test Strategy\n%s\n", c.TestStrategy)
	return b.String()
}

// ExecutionPatch is one materialized file change. Appended, never mutated.
type ExecutionPatch struct {
	FilePath        string `json:"file_path"`
	OriginalContent string `json:"original_content,omitempty"`
	NewContent      string `json:"new_content"`
	ChecklistItemID string `json:"checklist_item_id,omitempty"`
}

// ValidationResult is the outcome of one validation pass. Appended after
// every validate step, never overwritten.
type ValidationResult struct {
	Checks     map[string]bool `json:"checks"`
	Errors     []string        `json:"errors"`
	TestOutput string          `json:"test_output,omitempty"`
	Passed     bool            `json:"passed"`
}

// RunSummary is the final human-readable report.
type RunSummary struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ChangesMade       []string `json:"changes_made"`
	FilesChanged      []string `json:"files_changed"`
	VerificationSteps []string `json:"verification_steps"`
	RiskNotes         []string `json:"risk_notes"`
	TestsPassed       bool     `json:"tests_passed"`
}

// ToMarkdown renders the summary as a markdown artifact.
func (s *RunSummary) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", s.Title, s.Description)
	b.WriteString("## Changes Made\n")
	for _, c := range s.ChangesMade {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\n## Files Changed\n")
	for _, f := range s.FilesChanged {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	outcome := "All tests passed"
	if !s.TestsPassed {
		outcome = "Tests failed"
	}
	fmt.Fprintf(&b, "\n## Tests\n%s\n", outcome)
	b.WriteString("\n## Verification Steps\n")
	for i, v := range s.VerificationSteps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, v)
	}
	if len(s.RiskNotes) > 0 {
		b.WriteString("\n## Risk Notes\n")
		for _, r := range s.RiskNotes {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

// RunState is the single mutable record threading through one run. Steps
// mutate it under single-writer discipline; it becomes immutable once Status
// reaches a terminal value.
type RunState struct {
	RunID             string             `json:"run_id"`
	Request           FeatureRequest     `json:"request"`
	RepoContext       string             `json:"repo_context,omitempty"`
	Plan              *Plan              `json:"plan,omitempty"`
	Checklist         *Checklist         `json:"checklist,omitempty"`
	Patches           []ExecutionPatch   `json:"patches"`
	ValidationResults []ValidationResult `json:"validation_results"`
	Summary           *RunSummary        `json:"summary,omitempty"`
	Errors            []string           `json:"errors"`
	CurrentStep       Step               `json:"current_step"`
	Status            Status             `json:"status"`
	CurrentItemIndex  int                `json:"current_item_index"`
	RetryCount        int                `json:"retry_count"`
	StartedAt         time.Time          `json:"started_at"`
	EndedAt           time.Time          `json:"ended_at,omitzero"`
}

// NewRunState creates the initial state for a run.
func NewRunState(runID string, request FeatureRequest) *RunState {
	if request.BaseBranch == "" {
		request.BaseBranch = "main"
	}
	return &RunState{
		RunID:       runID,
		Request:     request,
		CurrentStep: StepPlan,
		Status:      StatusQueued,
		StartedAt:   time.Now().UTC(),
	}
}

// AddError appends one entry to the run's error log.
func (s *RunState) AddError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// LastValidation returns the most recent validation result, or nil.
func (s *RunState) LastValidation() *ValidationResult {
	if len(s.ValidationResults) == 0 {
		return nil
	}
	return &s.ValidationResults[len(s.ValidationResults)-1]
}

// FailedValidationCount returns how many validation results failed so far.
func (s *RunState) FailedValidationCount() int {
	n := 0
	for i := range s.ValidationResults {
		if !s.ValidationResults[i].Passed {
			n++
		}
	}
	return n
}

// Progress estimates run completion in [0,1] from the current step and
// checklist position.
func (s *RunState) Progress() float64 {
	switch s.CurrentStep {
	case StepPlan:
		return 0.1
	case StepChecklist:
		return 0.25
	case StepExecute:
		if s.Checklist != nil && len(s.Checklist.Items) > 0 {
			frac := float64(s.CurrentItemIndex) / float64(len(s.Checklist.Items))
			return 0.3 + 0.4*frac
		}
		return 0.3
	case StepValidate:
		return 0.8
	case StepSummarize:
		return 0.9
	case StepTerminal:
		return 1.0
	}
	return 0.0
}
