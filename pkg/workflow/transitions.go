package workflow

import "fmt"

// DefaultMaxRetries bounds the Validate → Execute loop.
const DefaultMaxRetries = 2

// Decision is the routing outcome a step produces. The engine feeds
// (step, decision) through the transition table to find the next step.
type Decision string

const (
	// DecisionAdvance moves to the step's normal successor.
	DecisionAdvance Decision = "advance"
	// DecisionLoop repeats a loop edge: Execute self-loop on remaining
	// items, Validate back to Execute on a failed check within budget.
	DecisionLoop Decision = "loop"
	// DecisionSkip routes Execute straight to Summarize when no checklist
	// exists.
	DecisionSkip Decision = "skip"
	// DecisionEscalate routes Validate to Summarize after the retry budget
	// is exhausted; the run is summarized best-effort rather than aborted.
	DecisionEscalate Decision = "escalate"
)

type transitionKey struct {
	step     Step
	decision Decision
}

// transitions is the full state machine. Keeping it as data makes the
// retry/escalation policy testable without any network or process call.
var transitions = map[transitionKey]Step{
	{StepPlan, DecisionAdvance}:      StepChecklist,
	{StepChecklist, DecisionAdvance}: StepExecute,
	{StepExecute, DecisionLoop}:      StepExecute,
	{StepExecute, DecisionAdvance}:   StepValidate,
	{StepExecute, DecisionSkip}:      StepSummarize,
	{StepValidate, DecisionAdvance}:  StepSummarize,
	{StepValidate, DecisionLoop}:     StepExecute,
	{StepValidate, DecisionEscalate}: StepSummarize,
	{StepSummarize, DecisionAdvance}: StepTerminal,
}

// Next resolves the transition table for one (step, decision) pair.
func Next(step Step, decision Decision) (Step, error) {
	next, ok := transitions[transitionKey{step, decision}]
	if !ok {
		return StepTerminal, fmt.Errorf("no transition from step %q with decision %q", step, decision)
	}
	return next, nil
}

// DecideAfterExecute routes the Execute step: skip to Summarize when no
// checklist exists, loop while items remain and the retry budget is intact,
// otherwise advance to Validate. A run whose current item keeps failing
// moves on to Validate rather than spinning on the self-loop.
func DecideAfterExecute(s *RunState, maxRetries int) Decision {
	if s.Checklist == nil || len(s.Checklist.Items) == 0 {
		return DecisionSkip
	}
	if s.CurrentItemIndex < len(s.Checklist.Items) && s.RetryCount <= maxRetries {
		return DecisionLoop
	}
	return DecisionAdvance
}

// DecideAfterValidate routes the Validate step: advance on a passing result,
// escalate once the retry budget is spent, otherwise loop back to Execute.
// Successful repairs reset the retry counter, so the loop is also capped by
// the number of failed validations: the (maxRetries+1)-th failure escalates.
func DecideAfterValidate(s *RunState, maxRetries int) Decision {
	if last := s.LastValidation(); last != nil && last.Passed {
		return DecisionAdvance
	}
	if s.RetryCount >= maxRetries || s.FailedValidationCount() > maxRetries {
		return DecisionEscalate
	}
	return DecisionLoop
}
