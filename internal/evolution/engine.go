// Package evolution implements the Evolution Engine: trigger evaluation
// against agent metrics, four deterministic mutation strategies,
// per-agent serialization, and cooldown enforcement. Trigger thresholds
// and the role-suggestion logic behind RoleSpecialization are grounded on
// original_source/src/mcp_crewai/models.py's
// EvolvingAgent.should_evolve / _suggest_role_changes.
package evolution

import (
	"context"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
	"go.uber.org/zap"
)

// TriggerReason names which condition fired.
type TriggerReason string

const (
	ReasonLowSuccessRate     TriggerReason = "rolling_success_rate_below_threshold"
	ReasonConsecutiveFails   TriggerReason = "consecutive_failures"
	ReasonStale              TriggerReason = "age_since_last_evolution"
	ReasonSelfAssessment     TriggerReason = "crew_self_assessment_imbalance"
	ReasonExplicitTrigger    TriggerReason = "explicit_user_trigger"
)

// Thresholds holds the trigger-rule constants.
type Thresholds struct {
	MinSuccessRateWindow int     // >= 10 tasks
	LowSuccessRate       float64 // < 0.6
	ConsecutiveFailures  int     // >= 3
	StaleAfter           time.Duration // > 4 weeks
	MinEvolutionInterval time.Duration // cooldown, default 6h
}

// DefaultThresholds returns the documented default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRateWindow: 10,
		LowSuccessRate:       0.6,
		ConsecutiveFailures:  3,
		StaleAfter:           4 * 7 * 24 * time.Hour,
		MinEvolutionInterval: 6 * time.Hour,
	}
}

// Engine evaluates trigger conditions and executes evolution strategies.
type Engine struct {
	store      store.Store
	thresholds Thresholds
	log        *zap.Logger

	locksMu sync.Mutex
	locks   map[ids.AgentId]*sync.Mutex
}

// New builds an Engine backed by st.
func New(st store.Store, thresholds Thresholds, log *zap.Logger) *Engine {
	return &Engine{store: st, thresholds: thresholds, log: log, locks: make(map[ids.AgentId]*sync.Mutex)}
}

func (e *Engine) lockFor(agentID ids.AgentId) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[agentID] = l
	}
	return l
}

// ShouldEvolve reports whether any trigger condition is satisfied for a,
// and which one fired first, in priority order.
// selfAssessmentFlagged is supplied by the caller; Sweep, the only caller
// outside tests, always passes false.
func (e *Engine) ShouldEvolve(a *domain.Agent, selfAssessmentFlagged bool) (bool, TriggerReason) {
	exp := a.Experience
	if exp.TasksCompleted >= e.thresholds.MinSuccessRateWindow && exp.SuccessRate() < e.thresholds.LowSuccessRate {
		return true, ReasonLowSuccessRate
	}
	if exp.ConsecutiveFails >= e.thresholds.ConsecutiveFailures {
		return true, ReasonConsecutiveFails
	}
	if a.LastEvolvedAt == nil {
		if exp.TasksCompleted >= 1 && time.Since(a.CreatedAt) > e.thresholds.StaleAfter {
			return true, ReasonStale
		}
	} else if exp.TasksCompleted >= 1 && time.Since(*a.LastEvolvedAt) > e.thresholds.StaleAfter {
		return true, ReasonStale
	}
	if selfAssessmentFlagged {
		return true, ReasonSelfAssessment
	}
	return false, ""
}

// InCooldown reports whether a has evolved within MinEvolutionInterval.
func (e *Engine) InCooldown(a *domain.Agent) bool {
	if a.LastEvolvedAt == nil {
		return false
	}
	return time.Since(*a.LastEvolvedAt) < e.thresholds.MinEvolutionInterval
}

// Evolve executes the strategy selected for reason, serialized per-agent
// via a lock, respecting cooldown unless force is true. It writes the
// mutated agent and a new EvolutionEvent in a single Store transaction.
func (e *Engine) Evolve(ctx context.Context, agentID ids.AgentId, reason TriggerReason, force bool) (*domain.EvolutionEvent, error) {
	lock := e.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if !force && e.InCooldown(agent) {
		return nil, domainerr.Newf(domainerr.Conflict, "agent %q is within its evolution cooldown", agentID)
	}

	strategy := SelectStrategy(agent, reason)
	previous := cloneTraits(agent.Personality)
	event := strategy.Apply(agent)
	agent.ClampTraits()
	agent.EvolutionCycles++
	evolvedAt := time.Now().UTC()
	agent.LastEvolvedAt = &evolvedAt

	evt := &domain.EvolutionEvent{
		ID:             ids.NewEvolutionEventId(),
		AgentID:        agentID,
		Cycle:          agent.EvolutionCycles,
		PreviousTraits: previous,
		NewTraits:      cloneTraits(agent.Personality),
		Kind:           event.Kind,
		Reason:         string(reason),
		CreatedAt:      evolvedAt,
	}

	if err := e.store.EvolveAgentTx(ctx, agent, evt); err != nil {
		return nil, err
	}
	e.log.Info("agent evolved",
		zap.String("agent_id", string(agentID)),
		zap.String("kind", string(evt.Kind)),
		zap.String("reason", string(reason)),
		zap.Int("cycle", evt.Cycle),
	)
	return evt, nil
}

// Sweep evaluates every agent against trigger rules and evolves those
// outside cooldown with a satisfied trigger. Called by the Supervisor's
// evolution-sweep tick.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return 0, err
	}
	evolved := 0
	for _, a := range agents {
		should, reason := e.ShouldEvolve(a, false)
		if !should || e.InCooldown(a) {
			continue
		}
		if _, err := e.Evolve(ctx, a.ID, reason, false); err != nil {
			if domainerr.KindOf(err) == domainerr.Conflict {
				continue // lost the cooldown race to another evolution; not an error
			}
			e.log.Warn("evolution sweep failed for agent", zap.String("agent_id", string(a.ID)), zap.Error(err))
			continue
		}
		evolved++
	}
	return evolved, nil
}

func cloneTraits(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
