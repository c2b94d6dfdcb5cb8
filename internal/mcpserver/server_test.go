package mcpserver

import (
	"context"
	"testing"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
	"go.uber.org/zap"
)

func TestReconcileStaleWorkflowsResetsOwningCrewToIdle(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	agent := &domain.Agent{ID: ids.NewAgentId(), Role: "analyst", Personality: map[string]float64{"rigor": 0.5}}
	if err := st.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
	crew := &domain.Crew{
		ID:       ids.NewCrewId(),
		Name:     "crashed-crew",
		AgentIDs: []ids.AgentId{agent.ID},
		State:    domain.CrewRunning,
	}
	if err := st.PutCrew(ctx, crew); err != nil {
		t.Fatalf("PutCrew: %v", err)
	}
	w := &domain.Workflow{ID: ids.NewWorkflowId(), CrewID: crew.ID, State: domain.WorkflowExecuting}
	if err := st.PutWorkflow(ctx, w); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	if err := reconcileStaleWorkflows(ctx, st, zap.NewNop()); err != nil {
		t.Fatalf("reconcileStaleWorkflows: %v", err)
	}

	gotW, err := st.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if gotW.State != domain.WorkflowFailed {
		t.Errorf("workflow state = %s, want %s", gotW.State, domain.WorkflowFailed)
	}

	gotCrew, err := st.GetCrew(ctx, crew.ID)
	if err != nil {
		t.Fatalf("GetCrew: %v", err)
	}
	if gotCrew.State != domain.CrewIdle {
		t.Errorf("crew state after reconciling a crashed workflow = %s, want %s (otherwise StartCrew/DisbandCrew stay permanently blocked)", gotCrew.State, domain.CrewIdle)
	}
}
