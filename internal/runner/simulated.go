package runner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
)

// SimulatedRunner produces a synthetic CrewResult after a short delay
// proportional to the crew's task count, draining any live context
// updates it receives but not acting on their content. It implements the
// same CrewRunner interface a real adapter would, so the rest of the
// kernel — workflow lifecycle, instruction intake, evolution — can be
// exercised end to end without a live LLM backend.
//
// Grounded on original_source/src/mcp_crewai/server.py's periodic
// simulated-execution fallback.
type SimulatedRunner struct {
	// PerTaskDuration is how long Kickoff "spends" per task. Defaults to
	// 50ms if zero, which keeps tests fast while still exercising the
	// intake loop's polling interval.
	PerTaskDuration time.Duration

	// FailureRate, in [0,1], is the chance a given Kickoff call reports
	// failure instead of success — useful for exercising the Evolution
	// Engine's consecutive-failure trigger in tests.
	FailureRate float64

	// rngMu guards rng: one SimulatedRunner is shared across every
	// concurrently running workflow (the worker pool is sized > 1 by
	// default), but *rand.Rand is not safe for concurrent use on its own.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSimulatedRunner builds a SimulatedRunner seeded from seed, so test
// callers can get deterministic outcomes.
func NewSimulatedRunner(seed int64) *SimulatedRunner {
	return &SimulatedRunner{
		PerTaskDuration: 50 * time.Millisecond,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

func (r *SimulatedRunner) perTask() time.Duration {
	if r.PerTaskDuration <= 0 {
		return 50 * time.Millisecond
	}
	return r.PerTaskDuration
}

func (r *SimulatedRunner) randFloat64() float64 {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Float64()
}

// Kickoff implements CrewRunner.
func (r *SimulatedRunner) Kickoff(ctx context.Context, crew *domain.Crew, agents []*domain.Agent, updates <-chan ContextUpdate) (*domain.CrewResult, error) {
	total := r.perTask() * time.Duration(max(len(crew.Tasks), 1))
	timer := time.NewTimer(total)
	defer timer.Stop()

	var received []ContextUpdate
	for {
		select {
		case <-ctx.Done():
			return &domain.CrewResult{
				Summary:   "cancelled before completion",
				Succeeded: false,
				Error:     ctx.Err().Error(),
			}, ctx.Err()
		case u, ok := <-updates:
			if ok {
				received = append(received, u)
			}
		case <-timer.C:
			succeeded := r.randFloat64() >= r.FailureRate
			perAgent := make(map[ids.AgentId]float64, len(agents))
			for _, a := range agents {
				q := 0.6 + r.randFloat64()*0.4
				if !succeeded {
					q = r.randFloat64() * 0.4
				}
				perAgent[a.ID] = q
			}
			summary := fmt.Sprintf("simulated execution of %d task(s) by %d agent(s), %d live instruction(s) observed",
				len(crew.Tasks), len(agents), len(received))
			res := &domain.CrewResult{
				Summary:         summary,
				Succeeded:       succeeded,
				Deliverables:    map[string][]byte{},
				PerAgentQuality: perAgent,
			}
			if !succeeded {
				res.Error = "simulated task failure"
			}
			return res, nil
		}
	}
}
