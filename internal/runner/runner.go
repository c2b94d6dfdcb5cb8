// Package runner defines the opaque CrewRunner boundary and a
// SimulatedRunner that exercises the rest of the kernel without a live LLM
// backend. The real agent framework (task planner, agent-to-agent chat
// loop) is explicitly out of scope; this package only specifies the
// interface a real adapter must satisfy.
package runner

import (
	"context"

	"github.com/evocrew/evocrew/internal/domain"
)

// ContextUpdate is a piece of live context pushed into a running Kickoff
// call by the instruction intake loop, for runners that support it —
// appended to the runner's mutable context channel if the runner supports
// live context.
type ContextUpdate struct {
	Kind    domain.InstructionKind
	Content string
	Strict  bool // true for constraint/pivot; only the runner sees it, debrief does not read it
}

// CrewRunner is the external agent framework boundary. Kickoff blocks
// until the crew's task list has been executed or ctx is cancelled; it
// must return promptly after cancellation (the Workflow SM enforces a hard
// deadline if it doesn't).
type CrewRunner interface {
	// Kickoff runs crew's tasks and blocks until completion or
	// cancellation. updates delivers live context pushed mid-run; Kickoff
	// may ignore it if it has no use for live context, but must still
	// drain the channel so the intake loop never blocks on send.
	Kickoff(ctx context.Context, crew *domain.Crew, agents []*domain.Agent, updates <-chan ContextUpdate) (*domain.CrewResult, error)
}
