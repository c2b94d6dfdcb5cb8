// Package crew implements the Crew Manager: crew and agent lifecycle
// operations layered over the Store and the Workflow Machine. It is the
// component dispatcher handlers call into; it owns no concurrency
// primitives of its own beyond what Store and workflow.Machine already
// provide, acting as a thin orchestration layer over its own store.
package crew

import (
	"context"
	"time"

	"github.com/evocrew/evocrew/internal/bus"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/runner"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/evocrew/evocrew/internal/workflow"
	"go.uber.org/zap"
)

// Manager is the single entry point for every crew- and agent-facing
// operation the dispatcher exposes as a tool.
type Manager struct {
	store    store.Store
	bus      *bus.Bus
	machine  *workflow.Machine
	log      *zap.Logger
}

// New builds a Manager.
func New(st store.Store, b *bus.Bus, m *workflow.Machine, log *zap.Logger) *Manager {
	return &Manager{store: st, bus: b, machine: m, log: log}
}

// AgentSpec describes one agent to create alongside a crew.
type AgentSpec struct {
	Role        string
	Goal        string
	Backstory   string
	Personality map[string]float64
}

// CreateCrew creates the named agents and a crew containing them, all
// starting in CrewIdle.
func (m *Manager) CreateCrew(ctx context.Context, name string, autonomy float64, specs []AgentSpec, tasks []domain.Task) (*domain.Crew, []*domain.Agent, error) {
	if len(specs) == 0 {
		return nil, nil, domainerr.New(domainerr.InvalidArgument, "a crew needs at least one agent")
	}
	agents := make([]*domain.Agent, 0, len(specs))
	agentIDs := make([]ids.AgentId, 0, len(specs))
	now := time.Now().UTC()
	for _, s := range specs {
		a := &domain.Agent{
			ID:          ids.NewAgentId(),
			Role:        s.Role,
			Goal:        s.Goal,
			Backstory:   s.Backstory,
			Personality: s.Personality,
			CreatedAt:   now,
		}
		a.ClampTraits()
		if err := m.store.PutAgent(ctx, a); err != nil {
			return nil, nil, err
		}
		agents = append(agents, a)
		agentIDs = append(agentIDs, a.ID)
	}

	c := &domain.Crew{
		ID:            ids.NewCrewId(),
		Name:          name,
		AgentIDs:      agentIDs,
		Tasks:         tasks,
		AutonomyLevel: autonomy,
		FormationDate: now,
		State:         domain.CrewIdle,
	}
	if err := m.store.PutCrew(ctx, c); err != nil {
		return nil, nil, err
	}
	return c, agents, nil
}

// StartCrew transitions an idle crew into a running workflow and returns
// as soon as the workflow enters Preparing — it never blocks for the
// crew's tasks to finish.
func (m *Manager) StartCrew(ctx context.Context, crewID ids.CrewId, r runner.CrewRunner, allowEvolution bool) (*domain.Workflow, error) {
	c, err := m.store.GetCrew(ctx, crewID)
	if err != nil {
		return nil, err
	}
	if c.State != domain.CrewIdle {
		return nil, domainerr.Newf(domainerr.Conflict, "crew %q is not idle (state: %s)", crewID, c.State)
	}
	if existing, err := m.store.GetActiveWorkflowForCrew(ctx, crewID); err == nil && existing != nil {
		return nil, domainerr.Newf(domainerr.Conflict, "crew %q already has an active workflow %q", crewID, existing.ID)
	}

	agents := make([]*domain.Agent, 0, len(c.AgentIDs))
	for _, id := range c.AgentIDs {
		a, err := m.store.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	w := &domain.Workflow{
		ID:             ids.NewWorkflowId(),
		CrewID:         crewID,
		State:          domain.WorkflowCreated,
		StartedAt:      time.Now().UTC(),
		AllowEvolution: allowEvolution,
	}
	c.State = domain.CrewRunning
	if err := m.store.PutCrew(ctx, c); err != nil {
		return nil, err
	}
	if err := m.machine.Start(ctx, w, c, agents); err != nil {
		c.State = domain.CrewIdle
		_ = m.store.PutCrew(ctx, c)
		return nil, err
	}
	return w, nil
}

// AddInstruction submits a dynamic instruction to the crew's bus.
func (m *Manager) AddInstruction(ctx context.Context, crewID ids.CrewId, kind domain.InstructionKind, priority int, content string) (*domain.Instruction, error) {
	wf, _ := m.store.GetActiveWorkflowForCrew(ctx, crewID)
	var workflowID ids.WorkflowId
	if wf != nil {
		workflowID = wf.ID
	}
	instr := &domain.Instruction{
		ID:         ids.NewInstructionId(),
		CrewID:     crewID,
		WorkflowID: workflowID,
		Kind:       kind,
		Priority:   priority,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.bus.Submit(ctx, instr); err != nil {
		return nil, err
	}
	return instr, nil
}

// GetCrewStatus returns the crew, its active (non-terminal) workflow if it
// has one, and its agents. A workflow that has reached a terminal state is
// not returned.
func (m *Manager) GetCrewStatus(ctx context.Context, crewID ids.CrewId) (*domain.Crew, *domain.Workflow, []*domain.Agent, error) {
	c, err := m.store.GetCrew(ctx, crewID)
	if err != nil {
		return nil, nil, nil, err
	}
	wf, _ := m.store.GetActiveWorkflowForCrew(ctx, crewID)
	agents := make([]*domain.Agent, 0, len(c.AgentIDs))
	for _, id := range c.AgentIDs {
		a, err := m.store.GetAgent(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		agents = append(agents, a)
	}
	return c, wf, agents, nil
}

// ListActiveCrews returns every crew with a non-terminal workflow.
func (m *Manager) ListActiveCrews(ctx context.Context) ([]*domain.Crew, error) {
	workflows, err := m.store.ListActiveWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[ids.CrewId]bool, len(workflows))
	var crews []*domain.Crew
	for _, w := range workflows {
		if seen[w.CrewID] {
			continue
		}
		seen[w.CrewID] = true
		c, err := m.store.GetCrew(ctx, w.CrewID)
		if err != nil {
			continue
		}
		crews = append(crews, c)
	}
	return crews, nil
}

// GetAgentReflection returns an agent's full reflection log.
func (m *Manager) GetAgentReflection(ctx context.Context, agentID ids.AgentId) (*domain.Agent, error) {
	return m.store.GetAgent(ctx, agentID)
}

// SaveAgent persists a mutated agent — used by dispatcher handlers that
// append a reflection (e.g. a crew self-assessment) outside the debrief
// and evolution paths.
func (m *Manager) SaveAgent(ctx context.Context, a *domain.Agent) error {
	return m.store.PutAgent(ctx, a)
}

// DisbandCrew deletes an idle crew. Crews with a running workflow cannot
// be disbanded.
func (m *Manager) DisbandCrew(ctx context.Context, crewID ids.CrewId) error {
	c, err := m.store.GetCrew(ctx, crewID)
	if err != nil {
		return err
	}
	if c.State != domain.CrewIdle {
		return domainerr.Newf(domainerr.Conflict, "crew %q is not idle (state: %s)", crewID, c.State)
	}
	if m.machine.IsRunning(crewID) {
		return domainerr.Newf(domainerr.Conflict, "crew %q has a workflow in flight", crewID)
	}
	return m.store.DeleteCrew(ctx, crewID)
}
