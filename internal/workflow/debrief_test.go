package workflow

import (
	"context"
	"testing"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/runner"
)

func TestDebriefMovesCrewToDebriefingWhileItRuns(t *testing.T) {
	m, st, _ := newTestMachine(t, runner.NewSimulatedRunner(1), Deadlines{})
	crew, agents := newTestCrew(t, st)
	w := &domain.Workflow{CrewID: crew.ID, State: domain.WorkflowExecuting}

	m.debrief(context.Background(), w, crew, agents, kickoffOutcome{res: &domain.CrewResult{Succeeded: true}})

	if crew.State != domain.CrewDebriefing {
		t.Errorf("crew.State after debrief = %s, want %s (debrief does not itself reset to idle; that is setCrewIdle's job)", crew.State, domain.CrewDebriefing)
	}

	got, err := st.GetCrew(context.Background(), crew.ID)
	if err != nil {
		t.Fatalf("GetCrew: %v", err)
	}
	if got.State != domain.CrewDebriefing {
		t.Errorf("persisted crew state = %s, want %s", got.State, domain.CrewDebriefing)
	}
	if w.State != domain.WorkflowCompleted {
		t.Errorf("workflow state = %s, want %s", w.State, domain.WorkflowCompleted)
	}
}
