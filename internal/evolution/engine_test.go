package evolution

import (
	"context"
	"testing"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, DefaultThresholds(), zap.NewNop()), st
}

func TestShouldEvolveLowSuccessRate(t *testing.T) {
	e, _ := newTestEngine(t)
	a := &domain.Agent{Experience: domain.ExperienceCounters{TasksCompleted: 10, Successes: 3}}
	should, reason := e.ShouldEvolve(a, false)
	if !should || reason != ReasonLowSuccessRate {
		t.Errorf("ShouldEvolve() = (%v, %v), want (true, %v)", should, reason, ReasonLowSuccessRate)
	}
}

func TestShouldEvolveNotEnoughTasksYet(t *testing.T) {
	e, _ := newTestEngine(t)
	a := &domain.Agent{CreatedAt: time.Now(), Experience: domain.ExperienceCounters{TasksCompleted: 5, Successes: 1}}
	should, _ := e.ShouldEvolve(a, false)
	if should {
		t.Error("ShouldEvolve() = true with fewer than the minimum window of tasks, want false")
	}
}

func TestShouldEvolveConsecutiveFailures(t *testing.T) {
	e, _ := newTestEngine(t)
	a := &domain.Agent{Experience: domain.ExperienceCounters{ConsecutiveFails: 3}}
	should, reason := e.ShouldEvolve(a, false)
	if !should || reason != ReasonConsecutiveFails {
		t.Errorf("ShouldEvolve() = (%v, %v), want (true, %v)", should, reason, ReasonConsecutiveFails)
	}
}

func TestShouldEvolveSelfAssessmentFlag(t *testing.T) {
	e, _ := newTestEngine(t)
	a := &domain.Agent{}
	should, reason := e.ShouldEvolve(a, true)
	if !should || reason != ReasonSelfAssessment {
		t.Errorf("ShouldEvolve() = (%v, %v), want (true, %v)", should, reason, ReasonSelfAssessment)
	}
}

func TestInCooldownRespectsMinEvolutionInterval(t *testing.T) {
	e, _ := newTestEngine(t)
	recently := time.Now().Add(-time.Minute)
	a := &domain.Agent{LastEvolvedAt: &recently}
	if !e.InCooldown(a) {
		t.Error("InCooldown() = false immediately after evolving, want true")
	}

	longAgo := time.Now().Add(-24 * time.Hour)
	a.LastEvolvedAt = &longAgo
	if e.InCooldown(a) {
		t.Error("InCooldown() = true well past the interval, want false")
	}
}

func TestEvolveRespectsCooldownUnlessForced(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	recently := time.Now().Add(-time.Minute)
	agent := &domain.Agent{
		ID:            ids.NewAgentId(),
		Personality:   map[string]float64{"openness": 0.5},
		LastEvolvedAt: &recently,
	}
	if err := st.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	if _, err := e.Evolve(ctx, agent.ID, ReasonExplicitTrigger, false); err == nil {
		t.Error("Evolve() succeeded during cooldown without force, want error")
	}
	if _, err := e.Evolve(ctx, agent.ID, ReasonExplicitTrigger, true); err != nil {
		t.Errorf("Evolve() with force=true during cooldown failed: %v", err)
	}
}

func TestEvolveIncrementsCycleAndClampsTraits(t *testing.T) {
	ctx := context.Background()
	e, st := newTestEngine(t)

	agent := &domain.Agent{
		ID:          ids.NewAgentId(),
		Personality: map[string]float64{"openness": 0.5, "rigor": 0.5},
	}
	if err := st.PutAgent(ctx, agent); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	evt, err := e.Evolve(ctx, agent.ID, ReasonExplicitTrigger, false)
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if evt.Cycle != 1 {
		t.Errorf("event.Cycle = %d, want 1", evt.Cycle)
	}

	updated, err := st.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if updated.EvolutionCycles != 1 {
		t.Errorf("agent.EvolutionCycles = %d, want 1", updated.EvolutionCycles)
	}
	for trait, v := range updated.Personality {
		if v < 0 || v > 1 {
			t.Errorf("trait %q = %v, want within [0,1]", trait, v)
		}
	}
	if updated.LastEvolvedAt == nil {
		t.Error("agent.LastEvolvedAt is nil after evolving")
	}
}
