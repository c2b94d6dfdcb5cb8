// Package workflow implements the Workflow State Machine: Created,
// Preparing, Executing, Debriefing, Cancelling and the terminal states
// Completed, Cancelled, Failed, plus the instruction-intake loop and
// cooperative-cancellation handling that drive transitions between them.
// The transition validators below follow the
// internal/changes/state.go CanAdvance/Advance shape: validate first,
// mutate only after validation passes.
package workflow

import (
	"fmt"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
)

// transitions lists, for each state, the states it may move to directly.
var transitions = map[domain.WorkflowState][]domain.WorkflowState{
	domain.WorkflowCreated:    {domain.WorkflowPreparing, domain.WorkflowCancelled},
	domain.WorkflowPreparing:  {domain.WorkflowExecuting, domain.WorkflowCancelling, domain.WorkflowFailed},
	domain.WorkflowExecuting:  {domain.WorkflowDebriefing, domain.WorkflowCancelling, domain.WorkflowFailed},
	domain.WorkflowCancelling: {domain.WorkflowCancelled, domain.WorkflowFailed},
	domain.WorkflowDebriefing: {domain.WorkflowCompleted, domain.WorkflowFailed},
}

// CanTransition reports whether moving from cur to next is a legal edge.
func CanTransition(cur, next domain.WorkflowState) error {
	for _, candidate := range transitions[cur] {
		if candidate == next {
			return nil
		}
	}
	return fmt.Errorf("workflow: illegal transition %s -> %s", cur, next)
}

// Transition validates and applies a state change, stamping EndedAt when
// moving into a terminal state.
func Transition(w *domain.Workflow, next domain.WorkflowState) error {
	if w.State.IsTerminal() {
		return fmt.Errorf("workflow %q already in terminal state %s", w.ID, w.State)
	}
	if err := CanTransition(w.State, next); err != nil {
		return err
	}
	w.State = next
	if next.IsTerminal() {
		ended := time.Now().UTC()
		w.EndedAt = &ended
	}
	return nil
}
