// Package ids mints the opaque identifiers used across the orchestration
// kernel. Every cross-reference between entities (Crew -> Agent, Workflow ->
// Crew, Instruction -> Workflow) is one of these ids, never a pointer — the
// Store is the only place a reference gets resolved to a concrete entity.
package ids

import "github.com/google/uuid"

// AgentId uniquely identifies an Agent for its entire lifetime, independent
// of any crew it happens to belong to.
type AgentId string

// CrewId uniquely identifies a Crew.
type CrewId string

// WorkflowId uniquely identifies one execution instance of a crew.
type WorkflowId string

// InstructionId uniquely identifies a dynamic instruction.
type InstructionId string

// EvolutionEventId uniquely identifies an evolution event.
type EvolutionEventId string

// ApiKeyId uniquely identifies an API key record.
type ApiKeyId string

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// NewAgentId mints a fresh AgentId.
func NewAgentId() AgentId { return AgentId(newID("agent")) }

// NewCrewId mints a fresh CrewId.
func NewCrewId() CrewId { return CrewId(newID("crew")) }

// NewWorkflowId mints a fresh WorkflowId.
func NewWorkflowId() WorkflowId { return WorkflowId(newID("wf")) }

// NewInstructionId mints a fresh InstructionId.
func NewInstructionId() InstructionId { return InstructionId(newID("instr")) }

// NewEvolutionEventId mints a fresh EvolutionEventId.
func NewEvolutionEventId() EvolutionEventId { return EvolutionEventId(newID("evo")) }

// NewApiKeyId mints a fresh ApiKeyId.
func NewApiKeyId() ApiKeyId { return ApiKeyId(newID("key")) }
