package workflow

import "fmt"

// systemPrompt frames every model call in the workflow.
const systemPrompt = `You are DevFlow, an expert software engineer AI assistant. Your role is to:
1. Analyze feature requests and code repositories
2. Create detailed implementation plans
3. Generate high-quality, production-ready code changes
4. Ensure all changes are well-tested and documented

Guidelines:
- Write clean, idiomatic code following the project's existing style
- Prefer minimal, focused changes over large refactors
- Always consider edge cases and error handling
- Include appropriate tests for new functionality
- Provide clear explanations for complex changes`

const planPromptTemplate = `Analyze this feature request and create an implementation plan.

## Feature Request
%s

## Repository Context
%s

## Instructions
Create a structured implementation plan with:
1. **Title**: A brief title for this change
2. **Problem Statement**: Clear description of what needs to be done
3. **Proposed Approach**: How you will implement this
4. **Affected Files**: List of files that will be modified or created
5. **Estimated Complexity**: low, medium, or high
6. **Risks**: Any potential issues or concerns

Respond with a JSON object following this schema:
{
  "title": "string",
  "problem_statement": "string",
  "proposed_approach": "string",
  "affected_files": ["string"],
  "estimated_complexity": "low|medium|high",
  "risks": ["string"]
}`

const checklistPromptTemplate = `Based on this plan, create an ordered checklist of implementation steps.

## Plan
%s

## Instructions
Create an ordered checklist where each item is:
1. A single, atomic action (create/modify/delete/test)
2. Specific about which file to change
3. Clear about what the change accomplishes
4. Ordered by dependencies (do prerequisite steps first)

Also include a test strategy explaining how to verify the changes work.

Respond with a JSON object following this schema:
{
  "items": [
    {
      "id": "unique_id",
      "description": "What needs to be done",
      "file_path": "path/to/file",
      "action": "create|modify|delete|test",
      "dependencies": ["id of items this depends on"]
    }
  ],
  "test_strategy": "How to verify the changes work"
}`

const executePromptTemplate = `Execute this checklist item by making the required code changes.

## Checklist Item
%s

## Current File Content
%s

## Repository Context
%s

## Instructions
1. Analyze the checklist item carefully
2. Make the minimal changes needed to complete it
3. Ensure the code follows existing style conventions
4. Handle edge cases appropriately

Respond with a JSON object containing the new file content:
{
  "file_path": "path/to/file",
  "new_content": "complete file content with changes",
  "explanation": "Brief explanation of changes made"
}

IMPORTANT: Return the COMPLETE file content, not just the changes.`

const repairPromptTemplate = `The previous code change failed validation. Fix the issues.

## Original Checklist Item
%s

## Your Previous Attempt
%s

## Validation Errors
%s

## Instructions
1. Analyze what went wrong
2. Fix the specific issues mentioned
3. Ensure the fix addresses the root cause

Respond with the corrected file content:
{
  "file_path": "path/to/file",
  "new_content": "corrected complete file content",
  "explanation": "What was fixed and why"
}`

const summaryPromptTemplate = `Create a PR-ready summary of the changes made.

## Original Feature Request
%s

## Changes Made
%s

## Test Results
%s

## Instructions
Create a comprehensive summary including:
1. **Title**: PR title (concise, descriptive)
2. **Description**: Overall description of what was done
3. **Changes Made**: Bullet list of specific changes
4. **Verification Steps**: How a reviewer can verify the changes
5. **Risk Notes**: Any concerns for reviewers

Respond with a JSON object:
{
  "title": "PR title",
  "description": "Overall description",
  "changes_made": ["change 1", "change 2"],
  "verification_steps": ["step 1", "step 2"],
  "risk_notes": ["note 1"]
}`

func formatPlanPrompt(featureRequest, repoContext string) string {
	return fmt.Sprintf(planPromptTemplate, featureRequest, repoContext)
}

func formatChecklistPrompt(planMarkdown string) string {
	return fmt.Sprintf(checklistPromptTemplate, planMarkdown)
}

func formatExecutePrompt(checklistItem, fileContent, repoContext string) string {
	return fmt.Sprintf(executePromptTemplate, checklistItem, fileContent, repoContext)
}

func formatRepairPrompt(checklistItem, previousAttempt, validationErrors string) string {
	return fmt.Sprintf(repairPromptTemplate, checklistItem, previousAttempt, validationErrors)
}

func formatSummaryPrompt(featureRequest, changes, testResults string) string {
	return fmt.Sprintf(summaryPromptTemplate, featureRequest, changes, testResults)
}
