package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		step     Step
		decision Decision
		want     Step
	}{
		{StepPlan, DecisionAdvance, StepChecklist},
		{StepChecklist, DecisionAdvance, StepExecute},
		{StepExecute, DecisionLoop, StepExecute},
		{StepExecute, DecisionAdvance, StepValidate},
		{StepExecute, DecisionSkip, StepSummarize},
		{StepValidate, DecisionAdvance, StepSummarize},
		{StepValidate, DecisionLoop, StepExecute},
		{StepValidate, DecisionEscalate, StepSummarize},
		{StepSummarize, DecisionAdvance, StepTerminal},
	}
	for _, tt := range tests {
		t.Run(string(tt.step)+"/"+string(tt.decision), func(t *testing.T) {
			next, err := Next(tt.step, tt.decision)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNextRejectsUnknownEdge(t *testing.T) {
	_, err := Next(StepPlan, DecisionEscalate)
	require.Error(t, err)

	_, err = Next(StepSummarize, DecisionLoop)
	require.Error(t, err)
}

func TestDecideAfterExecute(t *testing.T) {
	oneItem := &Checklist{Items: []ChecklistItem{{ID: "item-1"}}}

	tests := []struct {
		name  string
		state *RunState
		want  Decision
	}{
		{
			name:  "no checklist skips to summarize",
			state: &RunState{},
			want:  DecisionSkip,
		},
		{
			name:  "empty checklist skips to summarize",
			state: &RunState{Checklist: &Checklist{}},
			want:  DecisionSkip,
		},
		{
			name:  "items remaining loops",
			state: &RunState{Checklist: oneItem},
			want:  DecisionLoop,
		},
		{
			name:  "all items done advances",
			state: &RunState{Checklist: oneItem, CurrentItemIndex: 1},
			want:  DecisionAdvance,
		},
		{
			name:  "retry budget intact still loops",
			state: &RunState{Checklist: oneItem, RetryCount: DefaultMaxRetries},
			want:  DecisionLoop,
		},
		{
			name:  "retry budget exhausted advances despite remaining items",
			state: &RunState{Checklist: oneItem, RetryCount: DefaultMaxRetries + 1},
			want:  DecisionAdvance,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideAfterExecute(tt.state, DefaultMaxRetries))
		})
	}
}

func TestDecideAfterValidate(t *testing.T) {
	tests := []struct {
		name  string
		state *RunState
		want  Decision
	}{
		{
			name: "passing validation advances",
			state: &RunState{
				ValidationResults: []ValidationResult{{Passed: true}},
			},
			want: DecisionAdvance,
		},
		{
			name: "failing validation loops within budget",
			state: &RunState{
				ValidationResults: []ValidationResult{{Passed: false}},
			},
			want: DecisionLoop,
		},
		{
			name: "failing validation escalates at budget",
			state: &RunState{
				ValidationResults: []ValidationResult{{Passed: false}},
				RetryCount:        DefaultMaxRetries,
			},
			want: DecisionEscalate,
		},
		{
			name: "only latest result counts",
			state: &RunState{
				ValidationResults: []ValidationResult{{Passed: false}, {Passed: true}},
				RetryCount:        DefaultMaxRetries,
			},
			want: DecisionAdvance,
		},
		{
			name:  "no validation result loops",
			state: &RunState{},
			want:  DecisionLoop,
		},
		{
			name: "repeated failures escalate even with retry counter reset",
			state: &RunState{
				ValidationResults: []ValidationResult{
					{Passed: false}, {Passed: false}, {Passed: false},
				},
			},
			want: DecisionEscalate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideAfterValidate(tt.state, DefaultMaxRetries))
		})
	}
}
