package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/evocrew/evocrew/internal/bus"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/evolution"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/runner"
	"github.com/evocrew/evocrew/internal/store"
	"go.uber.org/zap"
)

func newTestMachine(t *testing.T, r runner.CrewRunner, d Deadlines) (*Machine, store.Store, *bus.Bus) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var m *Machine
	b := bus.New(st, func(ctx context.Context, crewID ids.CrewId, instr *domain.Instruction) {
		if m != nil {
			m.RequestEmergencyStop(ctx, crewID, instr)
		}
	})
	eng := evolution.New(st, evolution.DefaultThresholds(), zap.NewNop())
	m = New(st, b, eng, r, nil, d, 4, zap.NewNop())
	return m, st, b
}

// stubbornRunner ignores context cancellation entirely, for exercising
// cancelAndAwait's hard-deadline fallback.
type stubbornRunner struct{ PerTaskDuration time.Duration }

func (r *stubbornRunner) Kickoff(ctx context.Context, crew *domain.Crew, agents []*domain.Agent, updates <-chan runner.ContextUpdate) (*domain.CrewResult, error) {
	d := r.PerTaskDuration
	if d <= 0 {
		d = 5 * time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return &domain.CrewResult{}, nil
		case <-updates:
		}
	}
}

func newTestCrew(t *testing.T, st store.Store) (*domain.Crew, []*domain.Agent) {
	t.Helper()
	ctx := context.Background()
	agent := &domain.Agent{ID: ids.NewAgentId(), Role: "analyst", Personality: map[string]float64{"rigor": 0.5}}
	if err := st.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
	crew := &domain.Crew{
		ID:       ids.NewCrewId(),
		Name:     "test-crew",
		AgentIDs: []ids.AgentId{agent.ID},
		Tasks:    []domain.Task{{Description: "do the thing"}},
		State:    domain.CrewRunning,
	}
	if err := st.PutCrew(ctx, crew); err != nil {
		t.Fatalf("PutCrew: %v", err)
	}
	return crew, []*domain.Agent{agent}
}

func awaitTerminal(t *testing.T, st store.Store, workflowID ids.WorkflowId, timeout time.Duration) *domain.Workflow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		w, err := st.GetWorkflow(context.Background(), workflowID)
		if err == nil && w.State.IsTerminal() {
			return w
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("workflow %q did not reach a terminal state within %s", workflowID, timeout)
	return nil
}

func TestStartRunsToCompletion(t *testing.T) {
	r := runner.NewSimulatedRunner(1)
	r.PerTaskDuration = 10 * time.Millisecond
	m, st, _ := newTestMachine(t, r, Deadlines{InstructionPollInterval: 5 * time.Millisecond})

	crew, agents := newTestCrew(t, st)
	w := &domain.Workflow{ID: ids.NewWorkflowId(), CrewID: crew.ID, State: domain.WorkflowCreated, AllowEvolution: false}

	if err := m.Start(context.Background(), w, crew, agents); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsRunning(crew.ID) {
		t.Error("IsRunning() = false immediately after Start, want true")
	}

	final := awaitTerminal(t, st, w.ID, 2*time.Second)
	if final.State != domain.WorkflowCompleted {
		t.Errorf("final state = %s, want %s", final.State, domain.WorkflowCompleted)
	}
	if m.IsRunning(crew.ID) {
		t.Error("IsRunning() = true after workflow reached a terminal state")
	}

	// setCrewIdle runs after debrief returns, so give it a moment to land.
	var gotCrew *domain.Crew
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		gotCrew, _ = st.GetCrew(context.Background(), crew.ID)
		if gotCrew != nil && gotCrew.State == domain.CrewIdle {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if gotCrew == nil || gotCrew.State != domain.CrewIdle {
		t.Errorf("crew state after a completed run = %v, want %s", gotCrew, domain.CrewIdle)
	}
}

func TestStartRejectsSecondConcurrentWorkflow(t *testing.T) {
	r := runner.NewSimulatedRunner(1)
	r.PerTaskDuration = 200 * time.Millisecond
	m, st, _ := newTestMachine(t, r, Deadlines{InstructionPollInterval: 5 * time.Millisecond})

	crew, agents := newTestCrew(t, st)
	w1 := &domain.Workflow{ID: ids.NewWorkflowId(), CrewID: crew.ID, State: domain.WorkflowCreated}
	if err := m.Start(context.Background(), w1, crew, agents); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	w2 := &domain.Workflow{ID: ids.NewWorkflowId(), CrewID: crew.ID, State: domain.WorkflowCreated}
	if err := m.Start(context.Background(), w2, crew, agents); err == nil {
		t.Error("second concurrent Start for the same crew succeeded, want error")
	}
}

func TestEmergencyStopConvergesWithinDeadline(t *testing.T) {
	r := runner.NewSimulatedRunner(1)
	r.PerTaskDuration = 5 * time.Second // long enough that only cancellation ends it
	deadline := 300 * time.Millisecond
	m, st, b := newTestMachine(t, r, Deadlines{
		InstructionPollInterval: 5 * time.Millisecond,
		EmergencyStopDeadline:   deadline,
	})

	crew, agents := newTestCrew(t, st)
	w := &domain.Workflow{ID: ids.NewWorkflowId(), CrewID: crew.ID, State: domain.WorkflowCreated}
	if err := m.Start(context.Background(), w, crew, agents); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let it reach Executing
	instrID := ids.NewInstructionId()
	if err := b.Submit(context.Background(), &domain.Instruction{
		ID: instrID, CrewID: crew.ID, Kind: domain.InstructionEmergencyStop, Priority: 5,
	}); err != nil {
		t.Fatalf("Submit emergency stop: %v", err)
	}

	started := time.Now()
	final := awaitTerminal(t, st, w.ID, deadline+time.Second)
	if elapsed := time.Since(started); elapsed > deadline+500*time.Millisecond {
		t.Errorf("workflow took %s to converge after emergency stop, want close to the %s deadline", elapsed, deadline)
	}
	if final.State != domain.WorkflowCancelled {
		t.Errorf("final state = %s, want %s", final.State, domain.WorkflowCancelled)
	}

	instr, err := st.GetInstruction(context.Background(), instrID)
	if err != nil {
		t.Fatalf("GetInstruction: %v", err)
	}
	if instr.Status != domain.InstructionApplied {
		t.Errorf("instruction status = %s, want %s", instr.Status, domain.InstructionApplied)
	}
}

func TestEmergencyStopForcesCancelledOnHardDeadline(t *testing.T) {
	r := &stubbornRunner{PerTaskDuration: 5 * time.Second}
	deadline := 100 * time.Millisecond
	m, st, b := newTestMachine(t, r, Deadlines{
		InstructionPollInterval: 5 * time.Millisecond,
		EmergencyStopDeadline:   deadline,
	})

	crew, agents := newTestCrew(t, st)
	w := &domain.Workflow{ID: ids.NewWorkflowId(), CrewID: crew.ID, State: domain.WorkflowCreated}
	if err := m.Start(context.Background(), w, crew, agents); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let it reach Executing
	if err := b.Submit(context.Background(), &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crew.ID, Kind: domain.InstructionEmergencyStop, Priority: 5,
	}); err != nil {
		t.Fatalf("Submit emergency stop: %v", err)
	}

	final := awaitTerminal(t, st, w.ID, deadline+time.Second)
	if final.State != domain.WorkflowCancelled {
		t.Errorf("final state = %s, want %s", final.State, domain.WorkflowCancelled)
	}
	if final.CancellationReason != "hard-deadline" {
		t.Errorf("cancellation reason = %q, want %q", final.CancellationReason, "hard-deadline")
	}
}
