package workflow

import (
	"context"
	"fmt"
	"time"

	"devflow/pkg/logx"
	"devflow/pkg/utils"
)

// StepMetrics receives workflow-level observations. The Prometheus recorder
// satisfies it; a nil value disables recording.
type StepMetrics interface {
	RecordStep(step, decision string)
	RecordRun(status string)
}

// StateStore persists run state snapshots between steps. A nil value
// disables persistence.
type StateStore interface {
	SaveState(ctx context.Context, s *RunState) error
}

// Engine drives one run through the step machine: plan, checklist, the
// execute loop, validate, summarize. It owns all state mutation; callers
// observe the state only after Run returns or through the store.
type Engine struct {
	gateway    ToolGateway
	router     Completer
	store      StateStore
	metrics    StepMetrics
	logger     *logx.Logger
	tokens     *utils.TokenCounter
	maxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence backend for state snapshots.
func WithStore(store StateStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithMetrics sets the workflow metrics sink.
func WithMetrics(m StepMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxRetries overrides the retry budget for failed execution items.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// NewEngine builds an engine over the given tool gateway and model router.
func NewEngine(gateway ToolGateway, router Completer, opts ...Option) *Engine {
	tokens, err := utils.NewTokenCounter("gpt-4")
	if err != nil {
		// The counter falls back to a character estimate without a codec.
		tokens = &utils.TokenCounter{}
	}
	e := &Engine{
		gateway:    gateway,
		router:     router,
		logger:     logx.NewLogger("workflow"),
		tokens:     tokens,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the state through the step machine until it reaches a terminal
// step or the context is cancelled. The run itself always terminates: model
// or tool failures are absorbed into the state's error log and the machine
// still reaches the summary. The returned error is non-nil only for
// cancellation or a broken transition table.
func (e *Engine) Run(ctx context.Context, s *RunState) error {
	e.logger.Info("[%s] starting run: %s", s.RunID, s.Request.Description)

	branch := utils.BranchName(s.RunID)
	if res := e.gateway.GitCreateBranch(ctx, branch); res.OK {
		e.logger.Info("[%s] created branch %s", s.RunID, branch)
	} else {
		s.AddError("failed to create branch %s: %s", branch, res.Message)
	}

	for s.CurrentStep != StepTerminal {
		if err := ctx.Err(); err != nil {
			return e.cancel(ctx, s)
		}

		step := s.CurrentStep
		decision, err := e.runStep(ctx, s)
		if err != nil {
			return err
		}

		next, err := Next(step, decision)
		if err != nil {
			s.Status = StatusFailed
			s.EndedAt = time.Now().UTC()
			e.recordRun(s)
			return fmt.Errorf("run %s: %w", s.RunID, err)
		}

		// A loop back from validation re-enters Execute for a repair
		// pass, which costs one retry. The item index never moves
		// backwards.
		if step == StepValidate && decision == DecisionLoop {
			s.RetryCount++
		}

		if e.metrics != nil {
			e.metrics.RecordStep(string(step), string(decision))
		}
		s.CurrentStep = next
		e.save(ctx, s)
	}

	e.finish(ctx, s)
	return nil
}

// runStep executes the current step's body and returns the routing decision
// that selects the next step.
func (e *Engine) runStep(ctx context.Context, s *RunState) (Decision, error) {
	switch s.CurrentStep {
	case StepPlan:
		e.planStep(ctx, s)
		return DecisionAdvance, nil
	case StepChecklist:
		e.checklistStep(ctx, s)
		return DecisionAdvance, nil
	case StepExecute:
		e.executeStep(ctx, s)
		return DecideAfterExecute(s, e.maxRetries), nil
	case StepValidate:
		e.validateStep(ctx, s)
		return DecideAfterValidate(s, e.maxRetries), nil
	case StepSummarize:
		e.summarizeStep(ctx, s)
		return DecisionAdvance, nil
	}
	return "", fmt.Errorf("run %s: unknown step %q", s.RunID, s.CurrentStep)
}

// finish commits any written changes and seals the terminal state. Runs
// that produced no patches skip the commit.
func (e *Engine) finish(ctx context.Context, s *RunState) {
	if len(s.Patches) > 0 {
		message := "DevFlow changes"
		if s.Plan != nil && s.Plan.Title != "" {
			message = fmt.Sprintf("feat: %s", s.Plan.Title)
		}
		if res := e.gateway.GitCommit(ctx, message); !res.OK {
			s.AddError("failed to commit changes: %s", res.Message)
		}
	}

	s.Status = StatusCompleted
	s.EndedAt = time.Now().UTC()
	e.recordRun(s)
	e.save(ctx, s)
	e.logger.Info("[%s] run completed in %s with %d patches and %d errors",
		s.RunID, s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond), len(s.Patches), len(s.Errors))
}

// cancel seals the state after context cancellation, preserving whatever
// artifacts earlier steps produced.
func (e *Engine) cancel(ctx context.Context, s *RunState) error {
	s.Status = StatusCancelled
	s.EndedAt = time.Now().UTC()
	e.recordRun(s)
	// Save with a fresh context; the run's own context is already dead.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	e.save(saveCtx, s)
	e.logger.Info("[%s] run cancelled at step %s", s.RunID, s.CurrentStep)
	return context.Cause(ctx)
}

func (e *Engine) save(ctx context.Context, s *RunState) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveState(ctx, s); err != nil {
		e.logger.Warn("[%s] failed to persist state: %v", s.RunID, err)
	}
}

func (e *Engine) recordRun(s *RunState) {
	if e.metrics != nil {
		e.metrics.RecordRun(string(s.Status))
	}
}
