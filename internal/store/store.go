// Package store defines the persistence contract for the orchestration
// kernel and its SQLite-backed reference implementation. The Store is
// the concurrency choke point: per-entity writes are atomic and
// the evolution path's agent-mutation-plus-event-append is a single
// transaction. Cross-references between entities are ids
// (internal/ids) resolved only here — callers never hold pointers into
// another entity's live state.
package store

import (
	"context"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
)

// Store is the durable state contract every component depends on through
// this interface (DIP) rather than on a concrete database.
type Store interface {
	PutAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, id ids.AgentId) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]*domain.Agent, error)

	PutCrew(ctx context.Context, c *domain.Crew) error
	GetCrew(ctx context.Context, id ids.CrewId) (*domain.Crew, error)
	ListCrews(ctx context.Context) ([]*domain.Crew, error)
	DeleteCrew(ctx context.Context, id ids.CrewId) error

	// AppendEvolutionEvent and the agent mutation that produced it are
	// always written together by EvolveAgentTx; this standalone append is
	// used only for events with no corresponding live mutation (none in
	// this core, kept for interface symmetry with the rest of the
	// evolution-event operations).
	AppendEvolutionEvent(ctx context.Context, e *domain.EvolutionEvent) error
	ListEvolutionEvents(ctx context.Context, agentID ids.AgentId, since int) ([]*domain.EvolutionEvent, error)

	// EvolveAgentTx writes the mutated agent and its evolution event in a
	// single transaction, so a reader never observes one without the other.
	EvolveAgentTx(ctx context.Context, a *domain.Agent, e *domain.EvolutionEvent) error

	PutWorkflow(ctx context.Context, w *domain.Workflow) error
	GetWorkflow(ctx context.Context, id ids.WorkflowId) (*domain.Workflow, error)
	ListActiveWorkflows(ctx context.Context) ([]*domain.Workflow, error)
	GetActiveWorkflowForCrew(ctx context.Context, crewID ids.CrewId) (*domain.Workflow, error)

	EnqueueInstruction(ctx context.Context, i *domain.Instruction) error
	UpdateInstructionStatus(ctx context.Context, id ids.InstructionId, status domain.InstructionStatus, processedAt bool, errMsg string) error
	GetInstruction(ctx context.Context, id ids.InstructionId) (*domain.Instruction, error)
	ListInstructions(ctx context.Context, crewID ids.CrewId, status domain.InstructionStatus) ([]*domain.Instruction, error)
	ListPendingInstructions(ctx context.Context, crewID ids.CrewId) ([]*domain.Instruction, error)

	AppendAudit(ctx context.Context, r *domain.AuditRecord) error

	GetApiKeyByHash(ctx context.Context, hash string) (*domain.ApiKey, error)
	PutApiKey(ctx context.Context, k *domain.ApiKey) error
	TouchApiKeyLastUsed(ctx context.Context, id ids.ApiKeyId) error
	CountApiKeys(ctx context.Context) (int, error)

	// Watch returns a channel that receives a value every time an
	// instruction is enqueued for crewID, letting the Workflow SM's
	// intake loop avoid polling the database directly (it still polls the
	// bus on a floor interval as a safety net — see internal/workflow).
	// Callers must Unwatch the returned channel once done with it, or its
	// registration leaks for the life of the process.
	Watch(crewID ids.CrewId) <-chan struct{}

	// Unwatch deregisters a channel previously returned by Watch, freeing
	// it for garbage collection.
	Unwatch(crewID ids.CrewId, ch <-chan struct{})

	Close() error
}
