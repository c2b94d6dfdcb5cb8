package evolution

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
)

// strategyResult carries the parts of a strategy's outcome the caller
// needs beyond the mutated agent itself.
type strategyResult struct {
	Kind domain.EvolutionKind
}

// Strategy mutates an agent in place and reports what kind of mutation it
// performed. Mutations are deterministic given the agent's current state
// and a caller-supplied random source, matching the four kinds named in
// the domain model's EvolutionKind enum.
type Strategy interface {
	Apply(agent *domain.Agent) strategyResult
}

// SelectStrategy picks a strategy from the trigger reason, loosely after
// original_source/src/mcp_crewai/models.py's _generate_evolution_suggestions:
// consecutive failures get role specialization, or a radical
// transformation once the agent has evolved at least twice; a low success
// rate gets role specialization; a self-assessment flag gets collaborative
// adaptation; age-based, explicit and unknown reasons get personality drift.
func SelectStrategy(agent *domain.Agent, reason TriggerReason) Strategy {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(agent.EvolutionCycles)))
	switch reason {
	case ReasonConsecutiveFails:
		if agent.EvolutionCycles >= 2 {
			return &RadicalTransformation{rng: rng}
		}
		return &RoleSpecialization{rng: rng}
	case ReasonLowSuccessRate:
		return &RoleSpecialization{rng: rng}
	case ReasonSelfAssessment:
		return &CollaborativeAdaptation{rng: rng}
	case ReasonStale, ReasonExplicitTrigger:
		return &PersonalityDrift{rng: rng}
	default:
		return &PersonalityDrift{rng: rng}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PersonalityDrift nudges 1–3 traits by a random amount of up to ±0.1
// each. It picks the agent's strongest traits when average quality is at
// least 0.5 and its weakest ones when it is lower; the direction of each
// nudge is random either way. The mildest strategy: used for routine,
// age-based re-evaluation.
type PersonalityDrift struct{ rng *rand.Rand }

func (s *PersonalityDrift) Apply(agent *domain.Agent) strategyResult {
	if len(agent.Personality) == 0 {
		return strategyResult{Kind: domain.EvolutionPersonalityDrift}
	}
	traits := make([]string, 0, len(agent.Personality))
	for t := range agent.Personality {
		traits = append(traits, t)
	}
	sort.Slice(traits, func(i, j int) bool { return agent.Personality[traits[i]] > agent.Personality[traits[j]] })

	n := 1 + s.rng.Intn(3) // 1..3 traits
	if n > len(traits) {
		n = len(traits)
	}
	selected := traits[:n]
	if agent.Experience.AvgQuality < 0.5 {
		selected = traits[len(traits)-n:] // bias toward the weakest when recent outcomes have been poor
	}
	for _, trait := range selected {
		delta := (s.rng.Float64()*2 - 1) * 0.1 // up to ±0.1
		agent.Personality[trait] = clamp01(agent.Personality[trait] + delta)
	}
	return strategyResult{Kind: domain.EvolutionPersonalityDrift}
}

// RoleSpecialization bumps the agent's dominant trait by +0.1, reduces its
// two weakest traits by -0.05 each, and narrows its goal text toward the
// dominant strength — mirroring _suggest_role_changes's "lean into
// strength" heuristic.
type RoleSpecialization struct{ rng *rand.Rand }

// goalSpecializationMarker separates an agent's original goal text from
// the specialization clause RoleSpecialization appends, so repeated
// cycles replace the clause instead of compounding it.
const goalSpecializationMarker = " — specializing toward "

func (s *RoleSpecialization) Apply(agent *domain.Agent) strategyResult {
	if len(agent.Personality) == 0 {
		return strategyResult{Kind: domain.EvolutionRoleSpecialization}
	}
	traits := make([]string, 0, len(agent.Personality))
	for t := range agent.Personality {
		traits = append(traits, t)
	}
	sort.Slice(traits, func(i, j int) bool { return agent.Personality[traits[i]] > agent.Personality[traits[j]] })

	strongest := traits[0]
	agent.Personality[strongest] = clamp01(agent.Personality[strongest] + 0.1)

	weakCount := 2
	if weakCount > len(traits)-1 {
		weakCount = len(traits) - 1
	}
	weakest := traits[len(traits)-weakCount:]
	for _, trait := range weakest {
		if trait == strongest {
			continue
		}
		agent.Personality[trait] = clamp01(agent.Personality[trait] - 0.05)
	}

	if idx := strings.Index(agent.Goal, goalSpecializationMarker); idx >= 0 {
		agent.Goal = agent.Goal[:idx]
	}
	agent.Goal += goalSpecializationMarker + strongest

	agent.Reflections = append(agent.Reflections, domain.Reflection{
		CreatedAt:   time.Now().UTC(),
		RoleFitNote: fmt.Sprintf("specializing toward %q based on recent performance", strongest),
		Suggestions: []string{fmt.Sprintf("lean further into %q, de-emphasize %v", strongest, weakest)},
	})
	return strategyResult{Kind: domain.EvolutionRoleSpecialization}
}

// CollaborativeAdaptation raises exactly one trait — the collaboration
// axis if the agent carries a trait named for it, else its current
// weakest — by +0.15, for agents flagged by a crew self-assessment as
// friction sources.
type CollaborativeAdaptation struct{ rng *rand.Rand }

func (s *CollaborativeAdaptation) Apply(agent *domain.Agent) strategyResult {
	if len(agent.Personality) == 0 {
		return strategyResult{Kind: domain.EvolutionCollaborativeAdaptation}
	}
	trait := collaborativeTrait(agent.Personality)
	agent.Personality[trait] = clamp01(agent.Personality[trait] + 0.15)
	agent.Reflections = append(agent.Reflections, domain.Reflection{
		CreatedAt:       time.Now().UTC(),
		PerformanceNote: fmt.Sprintf("raised %q following crew self-assessment", trait),
	})
	return strategyResult{Kind: domain.EvolutionCollaborativeAdaptation}
}

// collaborativeTrait picks the trait this strategy nudges: whichever key
// names the collaboration axis if the agent carries one, else its lowest
// trait (raising it narrows the interpersonal gap a self-assessment
// flagged, without this package hardcoding a fixed trait taxonomy).
func collaborativeTrait(traits map[string]float64) string {
	for name := range traits {
		if strings.Contains(strings.ToLower(name), "collab") {
			return name
		}
	}
	weakest := ""
	for name, v := range traits {
		if weakest == "" || v < traits[weakest] {
			weakest = name
		}
	}
	return weakest
}

// RadicalTransformation replaces an agent's personality with a blend of a
// randomly chosen template and 30% of its prior trait values, rather than
// re-rolling from scratch — reserved for agents that have already been
// through a milder strategy and are still failing.
type RadicalTransformation struct{ rng *rand.Rand }

func (s *RadicalTransformation) Apply(agent *domain.Agent) strategyResult {
	name := TemplateNames[s.rng.Intn(len(TemplateNames))]
	template := Templates[name]

	const retain = 0.3
	next := make(map[string]float64, len(template))
	for trait, templateValue := range template {
		old, ok := agent.Personality[trait]
		if !ok {
			old = 0.5
		}
		next[trait] = clamp01(retain*old + (1-retain)*templateValue)
	}
	for trait, old := range agent.Personality {
		if _, ok := next[trait]; !ok {
			next[trait] = clamp01(retain*old + (1-retain)*0.5)
		}
	}
	agent.Personality = next

	agent.Reflections = append(agent.Reflections, domain.Reflection{
		CreatedAt:       time.Now().UTC(),
		PerformanceNote: fmt.Sprintf("underwent a radical transformation toward the %q template after repeated failure", name),
		SkillGaps:       []string{"prior approach underperformed across multiple cycles"},
	})
	return strategyResult{Kind: domain.EvolutionRadicalTransformation}
}
