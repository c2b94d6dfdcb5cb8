package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/bus"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/evolution"
	"github.com/evocrew/evocrew/internal/fsio"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/runner"
	"github.com/evocrew/evocrew/internal/store"
	"go.uber.org/zap"
)

// Deadlines bundles the timing knobs a running workflow needs, read once
// from config.Config at Machine construction time.
type Deadlines struct {
	InstructionPollInterval time.Duration
	EmergencyStopDeadline   time.Duration
	MaxWorkflowDuration     time.Duration
}

// Machine owns the lifecycle of every Workflow: starting, feeding
// instructions in, cancelling, and debriefing. One Machine serves the
// whole process; each running workflow gets its own goroutine plus a
// handle registered in running. slots bounds how many of those goroutines
// may run at once, sized by config.Config.WorkerPoolSize.
type Machine struct {
	store        store.Store
	bus          *bus.Bus
	evolution    *evolution.Engine
	runner       runner.CrewRunner
	deliverables *fsio.Store
	deadlines    Deadlines
	log          *zap.Logger

	slots chan struct{}

	mu      sync.Mutex
	running map[ids.CrewId]*handle
}

type handle struct {
	workflowID ids.WorkflowId
	cancel     context.CancelFunc
	done       chan struct{}
}

// New builds a Machine. The Bus's EmergencyStopFunc should be wired to
// m.RequestEmergencyStop once both exist (see mcpserver.New).
// deliverables may be nil, in which case a crew result's deliverables are
// kept only in the in-memory Workflow.Result and never written to disk.
// workerPoolSize bounds the number of workflows Start will run
// concurrently; values <= 0 default to 4, matching config.Default().
func New(st store.Store, b *bus.Bus, eng *evolution.Engine, r runner.CrewRunner, deliverables *fsio.Store, d Deadlines, workerPoolSize int, log *zap.Logger) *Machine {
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}
	return &Machine{
		store: st, bus: b, evolution: eng, runner: r, deliverables: deliverables, deadlines: d, log: log,
		slots:   make(chan struct{}, workerPoolSize),
		running: make(map[ids.CrewId]*handle),
	}
}

// RequestEmergencyStop is the Bus's EmergencyStopFunc: it cancels the
// crew's running workflow immediately, bypassing the normal drain cycle,
// and marks the triggering instruction applied once the cancellation has
// been issued. A crew with no running workflow leaves instr untouched —
// the caller sees it stay pending, which is the correct signal that there
// was nothing to stop.
func (m *Machine) RequestEmergencyStop(ctx context.Context, crewID ids.CrewId, instr *domain.Instruction) {
	m.mu.Lock()
	h, ok := m.running[crewID]
	m.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	if instr == nil {
		return
	}
	if err := m.bus.MarkApplied(ctx, instr.ID); err != nil {
		m.log.Warn("failed to mark emergency stop instruction applied", zap.Error(err))
	}
}

// IsRunning reports whether crewID currently has a non-terminal workflow
// owned by this Machine (spec invariant: at most one per crew).
func (m *Machine) IsRunning(crewID ids.CrewId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[crewID]
	return ok
}

// Start transitions a freshly created Workflow through Preparing into
// Executing and returns immediately; the crew's task list runs to
// completion (or cancellation) in a background goroutine. w.AllowEvolution
// is stored with the workflow but not read here or in debrief: every
// run's result updates the agents' experience counters, which the
// Evolution Engine's sweep evaluates.
func (m *Machine) Start(ctx context.Context, w *domain.Workflow, crew *domain.Crew, agents []*domain.Agent) error {
	select {
	case m.slots <- struct{}{}:
	default:
		return domainerr.Newf(domainerr.Unavailable, "worker pool saturated (%d concurrent workflows)", cap(m.slots))
	}

	m.mu.Lock()
	if _, ok := m.running[crew.ID]; ok {
		m.mu.Unlock()
		<-m.slots
		return domainerr.Newf(domainerr.Conflict, "crew %q already has a running workflow", crew.ID)
	}
	if err := Transition(w, domain.WorkflowPreparing); err != nil {
		m.mu.Unlock()
		<-m.slots
		return domainerr.Wrap(domainerr.Internal, "workflow transition", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	if m.deadlines.MaxWorkflowDuration > 0 {
		var deadlineCancel context.CancelFunc
		runCtx, deadlineCancel = context.WithTimeout(runCtx, m.deadlines.MaxWorkflowDuration)
		_ = deadlineCancel // cancelled via parent cancel() on early exit; timeout fires its own
	}
	h := &handle{workflowID: w.ID, cancel: cancel, done: make(chan struct{})}
	m.running[crew.ID] = h
	m.mu.Unlock()

	if err := m.store.PutWorkflow(ctx, w); err != nil {
		m.mu.Lock()
		delete(m.running, crew.ID)
		m.mu.Unlock()
		cancel()
		<-m.slots
		return err
	}

	go m.run(runCtx, h, w, crew, agents)
	return nil
}

// run drives one workflow from Executing through to a terminal state. It
// always removes the crew's running handle on exit, regardless of
// outcome.
func (m *Machine) run(ctx context.Context, h *handle, w *domain.Workflow, crew *domain.Crew, agents []*domain.Agent) {
	defer close(h.done)
	defer func() { <-m.slots }()
	defer func() {
		m.mu.Lock()
		delete(m.running, crew.ID)
		m.mu.Unlock()
	}()

	if err := Transition(w, domain.WorkflowExecuting); err != nil {
		m.fail(context.Background(), w, err)
		m.setCrewIdle(context.Background(), crew.ID)
		return
	}
	if err := m.store.PutWorkflow(ctx, w); err != nil {
		m.log.Warn("failed to persist workflow transition", zap.Error(err))
	}

	updates := make(chan runner.ContextUpdate, 16)
	resultCh := make(chan kickoffOutcome, 1)

	go func() {
		res, err := m.runner.Kickoff(ctx, crew, agents, updates)
		resultCh <- kickoffOutcome{res: res, err: err}
	}()

	watchCh := m.store.Watch(crew.ID)
	defer m.store.Unwatch(crew.ID, watchCh)

	ticker := time.NewTicker(pollInterval(m.deadlines.InstructionPollInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.pumpInstructions(ctx, w, crew.ID, updates)
		case <-watchCh:
			m.pumpInstructions(ctx, w, crew.ID, updates)
		case outcome := <-resultCh:
			m.debrief(context.Background(), w, crew, agents, outcome)
			m.setCrewIdle(context.Background(), crew.ID)
			return
		case <-ctx.Done():
			m.cancelAndAwait(w, ctx, resultCh, updates)
			m.setCrewIdle(context.Background(), crew.ID)
			return
		}
	}
}

type kickoffOutcome struct {
	res *domain.CrewResult
	err error
}

func pollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Second
	}
	return d
}

// pumpInstructions drains the bus for crewID and forwards guidance-bearing
// kinds to the runner's live context channel, acking each one as applied
// or failed.
func (m *Machine) pumpInstructions(ctx context.Context, w *domain.Workflow, crewID ids.CrewId, updates chan<- runner.ContextUpdate) {
	drained, err := m.bus.DrainFor(ctx, crewID)
	if err != nil {
		m.log.Warn("failed to drain instructions", zap.Error(err))
		return
	}
	for _, instr := range drained {
		u := runner.ContextUpdate{
			Kind:    instr.Kind,
			Content: instr.Content,
			Strict:  instr.Kind == domain.InstructionConstraint || instr.Kind == domain.InstructionPivot,
		}
		select {
		case updates <- u:
			if err := m.bus.MarkApplied(ctx, instr.ID); err != nil {
				m.log.Warn("failed to mark instruction applied", zap.Error(err))
			}
		default:
			if err := m.bus.MarkFailed(ctx, instr.ID, "runner context channel saturated"); err != nil {
				m.log.Warn("failed to mark instruction failed", zap.Error(err))
			}
		}
	}
}

// cancelAndAwait moves w into Cancelling and waits, up to the configured
// emergency-stop deadline, for the runner to actually return. If it
// doesn't, the workflow is force-marked Cancelled with a "hard-deadline"
// reason rather than hanging forever — the hard-deadline fallback
// required by the resource model.
func (m *Machine) cancelAndAwait(w *domain.Workflow, ctx context.Context, resultCh <-chan kickoffOutcome, updates chan runner.ContextUpdate) {
	bg := context.Background()
	if err := Transition(w, domain.WorkflowCancelling); err != nil {
		m.log.Warn("illegal transition to cancelling", zap.Error(err))
	}
	w.CancellationReason = "emergency_stop or context cancellation"
	if err := m.store.PutWorkflow(bg, w); err != nil {
		m.log.Warn("failed to persist cancelling state", zap.Error(err))
	}

	deadline := m.deadlines.EmergencyStopDeadline
	if deadline <= 0 {
		deadline = 15 * time.Second
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-resultCh:
		_ = Transition(w, domain.WorkflowCancelled)
	case <-timer.C:
		w.CancellationReason = "hard-deadline"
		_ = Transition(w, domain.WorkflowCancelled)
	}
	if err := m.store.PutWorkflow(bg, w); err != nil {
		m.log.Warn("failed to persist terminal cancellation state", zap.Error(err))
	}
}

func (m *Machine) fail(ctx context.Context, w *domain.Workflow, cause error) {
	w.CancellationReason = cause.Error()
	w.State = domain.WorkflowFailed
	ended := time.Now().UTC()
	w.EndedAt = &ended
	if err := m.store.PutWorkflow(ctx, w); err != nil {
		m.log.Warn("failed to persist failed workflow", zap.Error(err))
	}
}

// setCrewIdle returns crewID's crew to CrewIdle once its workflow has
// reached a terminal state, so a subsequent run_autonomous_crew or
// disband_crew is not permanently blocked by a crew stuck reporting
// "running" after its only workflow ended.
func (m *Machine) setCrewIdle(ctx context.Context, crewID ids.CrewId) {
	c, err := m.store.GetCrew(ctx, crewID)
	if err != nil {
		m.log.Warn("failed to load crew for idle reset", zap.String("crew_id", string(crewID)), zap.Error(err))
		return
	}
	c.State = domain.CrewIdle
	if err := m.store.PutCrew(ctx, c); err != nil {
		m.log.Warn("failed to reset crew to idle", zap.String("crew_id", string(crewID)), zap.Error(err))
	}
}
