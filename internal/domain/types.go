// Package domain holds the core entities of the orchestration kernel:
// agents, crews, workflows, instructions, evolution events, api keys and
// audit records. Cross-entity references are ids (internal/ids), never
// pointers — the Store is the only place that resolves a reference to a
// concrete value.
package domain

import (
	"time"

	"github.com/evocrew/evocrew/internal/ids"
)

// ExperienceCounters tracks an agent's observed track record across runs.
type ExperienceCounters struct {
	TasksCompleted   int
	Successes        int
	Failures         int
	ConsecutiveFails int
	AvgQuality       float64
}

// SuccessRate returns Successes/TasksCompleted, or 1.0 if no tasks have
// completed yet (an untested agent is not considered failing).
func (e ExperienceCounters) SuccessRate() float64 {
	if e.TasksCompleted == 0 {
		return 1.0
	}
	return float64(e.Successes) / float64(e.TasksCompleted)
}

// Reflection is one bounded entry in an agent's ordered self-assessment
// log, produced during a workflow's debrief phase or on explicit request.
type Reflection struct {
	CreatedAt        time.Time
	PerformanceNote  string
	RoleFitNote      string
	SkillGaps        []string
	Suggestions      []string
}

// Agent is a single member of a crew. Its Personality is mutated only by
// the Evolution Engine or during a workflow's debrief phase; values are
// always clamped to [0,1].
type Agent struct {
	ID             ids.AgentId
	Role           string
	Goal           string
	Backstory      string
	Personality    map[string]float64
	Experience     ExperienceCounters
	EvolutionCycles int
	CreatedAt      time.Time
	LastEvolvedAt  *time.Time
	Reflections    []Reflection
}

// ClampTraits clamps every personality trait value into [0,1] in place.
func (a *Agent) ClampTraits() {
	for k, v := range a.Personality {
		a.Personality[k] = clamp01(v)
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

// CrewState is the lifecycle state of a Crew (distinct from its current
// Workflow's state).
type CrewState string

const (
	CrewIdle       CrewState = "idle"
	CrewRunning    CrewState = "running"
	CrewDebriefing CrewState = "debriefing"
	CrewDisbanded  CrewState = "disbanded"
)

// Task is one unit of work assigned to a crew, optionally hinting at the
// agent that should perform it.
type Task struct {
	Description    string
	ExpectedOutput string
	AssignedAgent  ids.AgentId // optional, "" if unassigned
}

// Crew is a named collection of agents plus a task list, executed
// together under a shared autonomy level.
type Crew struct {
	ID            ids.CrewId
	Name          string
	AgentIDs      []ids.AgentId
	Tasks         []Task
	AutonomyLevel float64
	FormationDate time.Time
	State         CrewState
}

// WorkflowState is the Workflow State Machine's current node.
type WorkflowState string

const (
	WorkflowCreated     WorkflowState = "Created"
	WorkflowPreparing   WorkflowState = "Preparing"
	WorkflowExecuting   WorkflowState = "Executing"
	WorkflowDebriefing  WorkflowState = "Debriefing"
	WorkflowCancelling  WorkflowState = "Cancelling"
	WorkflowCompleted   WorkflowState = "Completed"
	WorkflowCancelled   WorkflowState = "Cancelled"
	WorkflowFailed      WorkflowState = "Failed"
)

// IsTerminal reports whether s is one of the workflow's terminal states.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowCancelled, WorkflowFailed:
		return true
	default:
		return false
	}
}

// CrewResult is the opaque outcome of a CrewRunner.Kickoff call.
type CrewResult struct {
	Summary         string
	PerAgentQuality map[ids.AgentId]float64
	Deliverables    map[string][]byte // relative filename -> content
	Succeeded       bool
	Error           string
}

// Workflow is one execution instance of a crew.
type Workflow struct {
	ID                 ids.WorkflowId
	CrewID             ids.CrewId
	State              WorkflowState
	StartedAt          time.Time
	EndedAt            *time.Time
	ContextSnapshot    string
	AllowEvolution     bool
	Result             *CrewResult
	CancellationReason string
}

// InstructionKind is the type of a dynamic instruction.
type InstructionKind string

const (
	InstructionGuidance      InstructionKind = "guidance"
	InstructionConstraint    InstructionKind = "constraint"
	InstructionResource      InstructionKind = "resource"
	InstructionFeedback      InstructionKind = "feedback"
	InstructionEmergencyStop InstructionKind = "emergency_stop"
	InstructionPivot         InstructionKind = "pivot"
	InstructionSkillBoost    InstructionKind = "skill_boost"
)

// InstructionStatus tracks a dynamic instruction's delivery lifecycle.
type InstructionStatus string

const (
	InstructionPending   InstructionStatus = "pending"
	InstructionDelivered InstructionStatus = "delivered"
	InstructionApplied   InstructionStatus = "applied"
	InstructionFailed    InstructionStatus = "failed"
	InstructionExpired   InstructionStatus = "expired"
)

// Instruction is a typed, prioritized directive sent to a running (or
// about-to-run) workflow and consumed cooperatively without stopping it.
type Instruction struct {
	ID          ids.InstructionId
	CrewID      ids.CrewId
	WorkflowID  ids.WorkflowId // may be empty if submitted before a workflow exists
	Kind        InstructionKind
	Priority    int // 1..5, 5 == emergency_stop
	Content     string
	Status      InstructionStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Error       string
}

// EvolutionKind names which strategy produced an EvolutionEvent.
type EvolutionKind string

const (
	EvolutionPersonalityDrift        EvolutionKind = "personality_drift"
	EvolutionRoleSpecialization      EvolutionKind = "role_specialization"
	EvolutionCollaborativeAdaptation EvolutionKind = "collaborative_adaptation"
	EvolutionRadicalTransformation   EvolutionKind = "radical_transformation"
)

// EvolutionEvent is an append-only record of a single mutation applied to
// an agent's personality and/or role.
type EvolutionEvent struct {
	ID             ids.EvolutionEventId
	AgentID        ids.AgentId
	Cycle          int
	PreviousTraits map[string]float64
	NewTraits      map[string]float64
	Kind           EvolutionKind
	Reason         string
	CreatedAt      time.Time
}

// ApiKey is a credential accepted by the Security Gate. Plaintext is
// never stored — only its SHA-256 hash.
type ApiKey struct {
	ID          ids.ApiKeyId
	KeyHash     string // hex-encoded SHA-256 of the plaintext key
	Permissions []string // tool-name glob patterns
	QuotaHourly int      // 0 means "use server default"
	QuotaBurst  int
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	Disabled    bool
}

// AuditRecord is an append-only log entry for one tool call.
type AuditRecord struct {
	Timestamp time.Time
	ClientID  string
	Tool      string
	ArgHash   string
	Outcome   string
	LatencyMS int64
}
