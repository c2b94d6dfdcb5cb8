package workflow

import (
	"context"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"go.uber.org/zap"
)

// debrief transitions w into Debriefing, folds the crew's result into each
// agent's experience counters, persists everything, and moves w to
// Completed or Failed. It neither calls the Evolution Engine nor reads
// w.AllowEvolution; the Supervisor's next sweep evaluates the updated
// counters (debrief must stay fast; evolution is the Supervisor's concern).
func (m *Machine) debrief(ctx context.Context, w *domain.Workflow, crew *domain.Crew, agents []*domain.Agent, outcome kickoffOutcome) {
	if err := Transition(w, domain.WorkflowDebriefing); err != nil {
		m.log.Warn("illegal transition to debriefing", zap.Error(err))
	}
	if err := m.store.PutWorkflow(ctx, w); err != nil {
		m.log.Warn("failed to persist debriefing state", zap.Error(err))
	}

	crew.State = domain.CrewDebriefing
	if err := m.store.PutCrew(ctx, crew); err != nil {
		m.log.Warn("failed to persist crew debriefing state", zap.String("crew_id", string(crew.ID)), zap.Error(err))
	}

	if outcome.err != nil && outcome.res == nil {
		w.CancellationReason = outcome.err.Error()
		_ = Transition(w, domain.WorkflowFailed)
		if err := m.store.PutWorkflow(ctx, w); err != nil {
			m.log.Warn("failed to persist failed workflow", zap.Error(err))
		}
		return
	}

	w.Result = outcome.res
	m.applyExperience(ctx, agents, outcome.res)
	m.persistDeliverables(crew.ID, outcome.res)

	next := domain.WorkflowCompleted
	if outcome.res == nil || !outcome.res.Succeeded {
		next = domain.WorkflowFailed
	}
	if err := Transition(w, next); err != nil {
		m.log.Warn("illegal terminal transition", zap.Error(err))
	}
	if err := m.store.PutWorkflow(ctx, w); err != nil {
		m.log.Warn("failed to persist terminal workflow", zap.Error(err))
	}
}

// persistDeliverables writes a crew result's deliverable files to the
// secure file store, if one is configured. Failures are logged, not
// fatal: a debrief must still reach a terminal workflow state even if
// disk persistence fails.
func (m *Machine) persistDeliverables(crewID ids.CrewId, res *domain.CrewResult) {
	if m.deliverables == nil || res == nil || len(res.Deliverables) == 0 {
		return
	}
	if err := m.deliverables.PersistResult(crewID, res.Deliverables); err != nil {
		m.log.Warn("failed to persist crew deliverables", zap.String("crew_id", string(crewID)), zap.Error(err))
	}
}

// applyExperience updates each agent's rolling counters from the crew
// result's per-agent quality map and persists the mutated agents. This is
// the only place outside the Evolution Engine that writes to an agent's
// Experience field.
func (m *Machine) applyExperience(ctx context.Context, agents []*domain.Agent, res *domain.CrewResult) {
	if res == nil {
		return
	}
	succeeded := res.Succeeded
	for _, a := range agents {
		a.Experience.TasksCompleted++
		if succeeded {
			a.Experience.Successes++
			a.Experience.ConsecutiveFails = 0
		} else {
			a.Experience.Failures++
			a.Experience.ConsecutiveFails++
		}
		if q, ok := res.PerAgentQuality[a.ID]; ok {
			n := float64(a.Experience.TasksCompleted)
			a.Experience.AvgQuality = a.Experience.AvgQuality + (q-a.Experience.AvgQuality)/n
		}
		if err := m.store.PutAgent(ctx, a); err != nil {
			m.log.Warn("failed to persist agent experience", zap.String("agent_id", string(a.ID)), zap.Error(err))
		}
	}
}
