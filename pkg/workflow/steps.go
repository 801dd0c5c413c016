package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"devflow/pkg/llm"
	"devflow/pkg/tools"
)

// Per-step sampling temperatures. Code generation runs cooler than
// planning.
const (
	planTemperature      = 0.7
	checklistTemperature = 0.5
	executeTemperature   = 0.3
	summaryTemperature   = 0.5

	defaultMaxTokens = 4096
	maxDiffChars     = 5000
	contextKeyFiles  = 20
	contextSigsLimit = 5

	// fileTokenBudget caps how much of a file's current content goes into
	// an execute prompt.
	fileTokenBudget = 8000
)

// Completer is the slice of the model router the steps consume.
type Completer interface {
	Route(ctx context.Context, step, modelType string, req llm.CompletionRequest) (llm.RouteResult, error)
}

// ToolGateway is the slice of the tool gateway the steps consume. The
// concrete tools.Gateway satisfies it; tests substitute fakes.
type ToolGateway interface {
	MapRepository(ctx context.Context, maxDepth int) tools.Result
	ReadFile(ctx context.Context, relPath string, startLine, endLine int) tools.Result
	WriteFile(ctx context.Context, relPath, content string) tools.Result
	GitCreateBranch(ctx context.Context, branchName string) tools.Result
	GitCommit(ctx context.Context, message string) tools.Result
	GitDiff(ctx context.Context, staged bool, filePath string) tools.Result
	RunTests(ctx context.Context) tools.Result
	RunLinter(ctx context.Context) tools.Result
}

// complete issues one model call for a step and returns the content, or an
// empty string with the failure recorded on the state. modelType overrides
// the router's step→tier mapping when non-empty.
func (e *Engine) complete(ctx context.Context, s *RunState, step Step, modelType, prompt string, temperature float32) string {
	result, err := e.router.Route(ctx, string(step), modelType, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(prompt),
		},
		Temperature:    temperature,
		MaxTokens:      defaultMaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		s.AddError("%s: routing failed: %v", step, err)
		return ""
	}
	if result.Response.Failed() {
		s.AddError("%s: model call failed (%s via %s): %s",
			step, result.Response.ErrorType, result.Provider, result.Response.ErrorDetail)
		return ""
	}
	return result.Response.Content
}

// planStep maps the repository and asks the model for a structured plan.
// Failure leaves Plan nil and records the cause; the run continues.
func (e *Engine) planStep(ctx context.Context, s *RunState) {
	s.CurrentStep = StepPlan
	s.Status = StatusPlanning

	repoResult := e.gateway.MapRepository(ctx, 3)
	if !repoResult.OK {
		s.AddError("plan: failed to map repository: %s", repoResult.Message)
	} else {
		s.RepoContext = buildRepoContext(repoResult)
	}

	content := e.complete(ctx, s, StepPlan, "", formatPlanPrompt(s.Request.Description, s.RepoContext), planTemperature)
	if content == "" {
		return
	}

	var plan Plan
	if err := unmarshalModelJSON(content, &plan); err != nil {
		s.AddError("plan: failed to parse plan: %v", err)
		return
	}
	if plan.EstimatedComplexity == "" {
		plan.EstimatedComplexity = ComplexityMedium
	}
	s.Plan = &plan
	e.logger.Info("[%s] generated plan: %s", s.RunID, plan.Title)
}

// checklistStep turns the plan into an ordered task list. Requires a plan;
// its absence is a workflow error that leaves the checklist empty.
func (e *Engine) checklistStep(ctx context.Context, s *RunState) {
	s.CurrentStep = StepChecklist
	s.Status = StatusChecklist

	if s.Plan == nil {
		s.AddError("checklist: no plan available for checklist generation")
		return
	}

	content := e.complete(ctx, s, StepChecklist, "", formatChecklistPrompt(s.Plan.ToMarkdown()), checklistTemperature)
	if content == "" {
		return
	}

	var checklist Checklist
	if err := unmarshalModelJSON(content, &checklist); err != nil {
		s.AddError("checklist: failed to parse checklist: %v", err)
		return
	}
	for i := range checklist.Items {
		if checklist.Items[i].ID == "" {
			checklist.Items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
	}
	if checklist.TestStrategy == "" {
		checklist.TestStrategy = "Run the project's tests"
	}
	s.Checklist = &checklist
	e.logger.Info("[%s] generated checklist with %d items", s.RunID, len(checklist.Items))
}

// executeResponse is the structured output the execute prompt requests.
type executeResponse struct {
	FilePath    string `json:"file_path"`
	NewContent  string `json:"new_content"`
	Explanation string `json:"explanation"`
}

// executeStep processes the indexed checklist item: read current content
// for modifications, request replacement content, write it, and record the
// patch. Success advances the index and resets the retry counter; failure
// increments the counter and leaves the index so the same item is retried.
func (e *Engine) executeStep(ctx context.Context, s *RunState) {
	s.CurrentStep = StepExecute
	s.Status = StatusExecuting

	if s.Checklist == nil {
		s.AddError("execute: no checklist available for execution")
		return
	}
	if s.CurrentItemIndex >= len(s.Checklist.Items) {
		// All items executed. A loop back from a failed validation lands
		// here; repair the latest change instead of touching the index.
		if last := s.LastValidation(); s.RetryCount > 0 && last != nil && !last.Passed {
			e.repairStep(ctx, s)
		}
		return
	}

	item := &s.Checklist.Items[s.CurrentItemIndex]
	e.logger.Info("[%s] executing item %d/%d: %s",
		s.RunID, s.CurrentItemIndex+1, len(s.Checklist.Items), item.Description)

	// Declared dependencies never reorder execution; an unmet one only gets
	// logged.
	for _, dep := range item.Dependencies {
		for i := range s.Checklist.Items {
			if s.Checklist.Items[i].ID == dep && !s.Checklist.Items[i].Completed {
				e.logger.Warn("[%s] item %s runs before its declared dependency %s completed",
					s.RunID, item.ID, dep)
			}
		}
	}

	fileContent := ""
	if item.FilePath != "" && item.Action == ActionModify {
		if readResult := e.gateway.ReadFile(ctx, item.FilePath, 0, 0); readResult.OK {
			fileContent, _ = readResult.Data["content"].(string)
			fileContent = e.tokens.TruncateToTokenLimit(fileContent, fileTokenBudget)
		}
	}

	itemJSON, _ := json.Marshal(item)
	prompt := formatExecutePrompt(string(itemJSON), orPlaceholder(fileContent), s.RepoContext)

	content := e.complete(ctx, s, StepExecute, llm.TierReasoning, prompt, executeTemperature)
	if content == "" {
		s.RetryCount++
		return
	}

	var exec executeResponse
	if err := unmarshalModelJSON(content, &exec); err != nil {
		s.AddError("execute: failed to parse execution result for item %s: %v", item.ID, err)
		s.RetryCount++
		return
	}
	if exec.FilePath == "" {
		exec.FilePath = item.FilePath
	}

	if exec.FilePath == "" || exec.NewContent == "" {
		// Nothing to write for this item, e.g. a pure test action the
		// model answered without content. Count it done.
		item.Completed = true
		s.CurrentItemIndex++
		return
	}

	writeResult := e.gateway.WriteFile(ctx, exec.FilePath, exec.NewContent)
	if !writeResult.OK {
		s.AddError("execute: failed to write %s: %s", exec.FilePath, writeResult.Message)
		s.RetryCount++
		return
	}

	patch := ExecutionPatch{
		FilePath:        exec.FilePath,
		NewContent:      exec.NewContent,
		ChecklistItemID: item.ID,
	}
	if fileContent != "" {
		patch.OriginalContent = fileContent
	}
	s.Patches = append(s.Patches, patch)
	item.Completed = true
	s.CurrentItemIndex++
	s.RetryCount = 0
	e.logger.Info("[%s] wrote %s", s.RunID, exec.FilePath)
}

// repairStep re-attempts the change behind the most recent patch after a
// failed validation. It appends a fresh patch on success but leaves the
// checklist index and item completion flags alone.
func (e *Engine) repairStep(ctx context.Context, s *RunState) {
	item := repairTarget(s)
	if item == nil {
		return
	}
	e.logger.Info("[%s] repairing item %s after failed validation (retry %d)",
		s.RunID, item.ID, s.RetryCount)

	previous := ""
	for i := len(s.Patches) - 1; i >= 0; i-- {
		if s.Patches[i].ChecklistItemID == item.ID {
			previous = s.Patches[i].NewContent
			break
		}
	}
	if previous == "" && item.FilePath != "" {
		if readResult := e.gateway.ReadFile(ctx, item.FilePath, 0, 0); readResult.OK {
			previous, _ = readResult.Data["content"].(string)
		}
	}
	previous = e.tokens.TruncateToTokenLimit(previous, fileTokenBudget)

	itemJSON, _ := json.Marshal(item)
	prompt := formatRepairPrompt(string(itemJSON), orPlaceholder(previous),
		strings.Join(s.LastValidation().Errors, "\n"))

	content := e.complete(ctx, s, StepExecute, llm.TierReasoning, prompt, executeTemperature)
	if content == "" {
		s.RetryCount++
		return
	}

	var exec executeResponse
	if err := unmarshalModelJSON(content, &exec); err != nil {
		s.AddError("execute: failed to parse repair result for item %s: %v", item.ID, err)
		s.RetryCount++
		return
	}
	if exec.FilePath == "" {
		exec.FilePath = item.FilePath
	}
	if exec.FilePath == "" || exec.NewContent == "" {
		s.AddError("execute: repair for item %s produced no content", item.ID)
		s.RetryCount++
		return
	}

	writeResult := e.gateway.WriteFile(ctx, exec.FilePath, exec.NewContent)
	if !writeResult.OK {
		s.AddError("execute: failed to write %s: %s", exec.FilePath, writeResult.Message)
		s.RetryCount++
		return
	}

	patch := ExecutionPatch{
		FilePath:        exec.FilePath,
		NewContent:      exec.NewContent,
		ChecklistItemID: item.ID,
	}
	if previous != "" {
		patch.OriginalContent = previous
	}
	s.Patches = append(s.Patches, patch)
	s.RetryCount = 0
	e.logger.Info("[%s] wrote %s", s.RunID, exec.FilePath)
}

// repairTarget selects the checklist item behind the most recent patch,
// falling back to the last item when no patch exists.
func repairTarget(s *RunState) *ChecklistItem {
	if s.Checklist == nil || len(s.Checklist.Items) == 0 {
		return nil
	}
	items := s.Checklist.Items
	if len(s.Patches) > 0 {
		lastID := s.Patches[len(s.Patches)-1].ChecklistItemID
		for i := range items {
			if items[i].ID == lastID {
				return &items[i]
			}
		}
	}
	return &items[len(items)-1]
}

func orPlaceholder(fileContent string) string {
	if fileContent == "" {
		return "(new file)"
	}
	return fileContent
}

// validateStep runs the lint and test checks and appends a new validation
// result. History is never overwritten.
func (e *Engine) validateStep(ctx context.Context, s *RunState) {
	s.CurrentStep = StepValidate
	s.Status = StatusValidating

	checks := make(map[string]bool)
	var errs []string

	lintResult := e.gateway.RunLinter(ctx)
	checks["lint"] = lintResult.OK
	if !lintResult.OK {
		errs = append(errs, fmt.Sprintf("lint failed: %s", lintResult.Message))
	}

	testResult := e.gateway.RunTests(ctx)
	checks["tests"] = testResult.OK
	testOutput := ""
	if testResult.Data != nil {
		testOutput, _ = testResult.Data["stdout"].(string)
	}
	if !testResult.OK {
		errs = append(errs, fmt.Sprintf("tests failed: %s", testResult.Message))
	}

	passed := true
	for _, ok := range checks {
		passed = passed && ok
	}
	s.ValidationResults = append(s.ValidationResults, ValidationResult{
		Passed:     passed,
		Checks:     checks,
		Errors:     errs,
		TestOutput: testOutput,
	})

	outcome := "PASSED"
	if !passed {
		outcome = "FAILED"
	}
	e.logger.Info("[%s] validation %s", s.RunID, outcome)
}

// summaryResponse is the structured output the summary prompt requests.
type summaryResponse struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ChangesMade       []string `json:"changes_made"`
	VerificationSteps []string `json:"verification_steps"`
	RiskNotes         []string `json:"risk_notes"`
}

// summarizeStep gathers the diff and patch lists, requests the narrative
// summary, and marks the run completed. Completion is unconditional; the
// summary's tests-passed flag carries the real outcome.
func (e *Engine) summarizeStep(ctx context.Context, s *RunState) {
	s.CurrentStep = StepSummarize
	s.Status = StatusSummarizing

	diffContent := ""
	if diffResult := e.gateway.GitDiff(ctx, false, ""); diffResult.OK {
		diffContent, _ = diffResult.Data["diff"].(string)
	}
	if len(diffContent) > maxDiffChars {
		diffContent = diffContent[:maxDiffChars]
	}

	var changes []string
	var filesChanged []string
	for i := range s.Patches {
		changes = append(changes, fmt.Sprintf("- Modified `%s`", s.Patches[i].FilePath))
		filesChanged = append(filesChanged, s.Patches[i].FilePath)
	}

	testsPassed := len(s.ValidationResults) > 0
	for i := range s.ValidationResults {
		testsPassed = testsPassed && s.ValidationResults[i].Passed
	}
	testSummary := "All tests passed"
	if !testsPassed {
		testSummary = "Some tests failed"
	}

	changesBlock := fmt.Sprintf("%s\n\n### Diff\n```diff\n%s\n```", strings.Join(changes, "\n"), diffContent)
	content := e.complete(ctx, s, StepSummarize, "",
		formatSummaryPrompt(s.Request.Description, changesBlock, testSummary), summaryTemperature)

	if content != "" {
		var sum summaryResponse
		if err := unmarshalModelJSON(content, &sum); err != nil {
			s.AddError("summarize: failed to parse summary: %v", err)
		} else {
			if sum.Title == "" {
				sum.Title = "Changes"
			}
			s.Summary = &RunSummary{
				Title:             sum.Title,
				Description:       sum.Description,
				ChangesMade:       sum.ChangesMade,
				FilesChanged:      filesChanged,
				TestsPassed:       testsPassed,
				VerificationSteps: sum.VerificationSteps,
				RiskNotes:         sum.RiskNotes,
			}
		}
	}
}

// buildRepoContext condenses the repository scan into the prompt context
// block shared by the plan and execute steps.
func buildRepoContext(res tools.Result) string {
	lines := []string{"## Key Files"}

	keyFiles, _ := res.Data["key_files"].([]tools.KeyFile)
	signatures, _ := res.Data["signatures"].(map[string][]string)

	limit := len(keyFiles)
	if limit > contextKeyFiles {
		limit = contextKeyFiles
	}
	for _, kf := range keyFiles[:limit] {
		sigs := signatures[kf.Path]
		if len(sigs) > contextSigsLimit {
			sigs = sigs[:contextSigsLimit]
		}
		if len(sigs) > 0 {
			lines = append(lines, fmt.Sprintf("- `%s`: %s", kf.Path, strings.Join(sigs, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("- `%s`", kf.Path))
		}
	}
	return strings.Join(lines, "\n")
}

// unmarshalModelJSON parses model output that is supposed to be a JSON
// object, tolerating a markdown code fence around it.
func unmarshalModelJSON(content string, dst any) error {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return json.Unmarshal([]byte(trimmed), dst)
}
