package domain

import "testing"

func TestClampTraits(t *testing.T) {
	a := &Agent{Personality: map[string]float64{
		"openness":      1.4,
		"conscientiousness": -0.2,
		"neutral":       0.5,
	}}
	a.ClampTraits()

	if got := a.Personality["openness"]; got != 1 {
		t.Errorf("openness = %v, want 1", got)
	}
	if got := a.Personality["conscientiousness"]; got != 0 {
		t.Errorf("conscientiousness = %v, want 0", got)
	}
	if got := a.Personality["neutral"]; got != 0.5 {
		t.Errorf("neutral = %v, want 0.5 (unchanged)", got)
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name string
		exp  ExperienceCounters
		want float64
	}{
		{"no tasks defaults to 1.0", ExperienceCounters{}, 1.0},
		{"all succeeded", ExperienceCounters{TasksCompleted: 4, Successes: 4}, 1.0},
		{"half succeeded", ExperienceCounters{TasksCompleted: 10, Successes: 5}, 0.5},
		{"none succeeded", ExperienceCounters{TasksCompleted: 3, Successes: 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.exp.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkflowStateIsTerminal(t *testing.T) {
	tests := []struct {
		state WorkflowState
		want  bool
	}{
		{WorkflowCreated, false},
		{WorkflowPreparing, false},
		{WorkflowExecuting, false},
		{WorkflowDebriefing, false},
		{WorkflowCancelling, false},
		{WorkflowCompleted, true},
		{WorkflowCancelled, true},
		{WorkflowFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
