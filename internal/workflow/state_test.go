package workflow

import (
	"testing"

	"github.com/evocrew/evocrew/internal/domain"
)

func TestCanTransitionLegalEdges(t *testing.T) {
	tests := []struct {
		from, to domain.WorkflowState
	}{
		{domain.WorkflowCreated, domain.WorkflowPreparing},
		{domain.WorkflowPreparing, domain.WorkflowExecuting},
		{domain.WorkflowExecuting, domain.WorkflowDebriefing},
		{domain.WorkflowDebriefing, domain.WorkflowCompleted},
		{domain.WorkflowExecuting, domain.WorkflowCancelling},
		{domain.WorkflowCancelling, domain.WorkflowCancelled},
	}
	for _, tt := range tests {
		if err := CanTransition(tt.from, tt.to); err != nil {
			t.Errorf("CanTransition(%s, %s) = %v, want nil", tt.from, tt.to, err)
		}
	}
}

func TestCanTransitionIllegalEdges(t *testing.T) {
	tests := []struct {
		from, to domain.WorkflowState
	}{
		{domain.WorkflowCreated, domain.WorkflowCompleted},
		{domain.WorkflowCompleted, domain.WorkflowExecuting},
		{domain.WorkflowExecuting, domain.WorkflowCreated},
		{domain.WorkflowDebriefing, domain.WorkflowCancelling},
	}
	for _, tt := range tests {
		if err := CanTransition(tt.from, tt.to); err == nil {
			t.Errorf("CanTransition(%s, %s) = nil, want error", tt.from, tt.to)
		}
	}
}

func TestTransitionRejectsLeavingATerminalState(t *testing.T) {
	w := &domain.Workflow{State: domain.WorkflowCompleted}
	if err := Transition(w, domain.WorkflowExecuting); err == nil {
		t.Error("Transition out of a terminal state succeeded, want error")
	}
}

func TestTransitionStampsEndedAtOnTerminal(t *testing.T) {
	w := &domain.Workflow{State: domain.WorkflowDebriefing}
	if err := Transition(w, domain.WorkflowCompleted); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if w.EndedAt == nil {
		t.Error("EndedAt is nil after transitioning into a terminal state")
	}
}

func TestTransitionLeavesEndedAtNilForNonTerminal(t *testing.T) {
	w := &domain.Workflow{State: domain.WorkflowCreated}
	if err := Transition(w, domain.WorkflowPreparing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if w.EndedAt != nil {
		t.Error("EndedAt is set after a non-terminal transition")
	}
}
