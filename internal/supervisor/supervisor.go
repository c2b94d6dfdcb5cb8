// Package supervisor runs the kernel's periodic maintenance loops —
// evolution sweep, instruction expiry, workflow reaper, health probe —
// on top of github.com/robfig/cron/v3, grounded on
// teradata-labs-loom's pkg/scheduler/scheduler.go: a single cron.Cron
// engine, one AddFunc per job, Start/Stop lifecycle, structured logging
// around every tick.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/bus"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/evolution"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config carries the tick intervals read from process configuration.
type Config struct {
	EvolutionSweepInterval time.Duration
	InstructionExpireTick  time.Duration
	WorkflowReaperTick     time.Duration
	HealthProbeTick        time.Duration
	InstructionTTL         time.Duration
	MaxWorkflowDuration    time.Duration
}

// Health is the last-observed snapshot the health_check tool reads.
type Health struct {
	LastProbeAt     time.Time
	ActiveWorkflows int
	StoreReachable  bool
}

// Supervisor owns the background maintenance loops for the whole process.
type Supervisor struct {
	store  store.Store
	bus    *bus.Bus
	engine *evolution.Engine
	cfg    Config
	log    *zap.Logger

	cronEngine *cron.Cron

	healthMu sync.RWMutex
	health   Health
}

// New builds a Supervisor. Call Start to begin ticking.
func New(st store.Store, b *bus.Bus, eng *evolution.Engine, cfg Config, log *zap.Logger) *Supervisor {
	return &Supervisor{
		store:      st,
		bus:        b,
		engine:     eng,
		cfg:        cfg,
		log:        log,
		cronEngine: cron.New(),
	}
}

func everySpec(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	return fmt.Sprintf("@every %s", d.String())
}

// Start registers every maintenance job and starts the cron engine. It
// does not block.
func (s *Supervisor) Start(ctx context.Context) error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"evolution_sweep", s.cfg.EvolutionSweepInterval, s.runEvolutionSweep},
		{"instruction_expirer", s.cfg.InstructionExpireTick, s.runInstructionExpirer},
		{"workflow_reaper", s.cfg.WorkflowReaperTick, s.runWorkflowReaper},
		{"health_probe", s.cfg.HealthProbeTick, s.runHealthProbe},
	}
	for _, j := range jobs {
		job := j
		_, err := s.cronEngine.AddFunc(everySpec(job.interval), func() {
			job.fn(context.Background())
		})
		if err != nil {
			return fmt.Errorf("supervisor: failed to schedule %s: %w", job.name, err)
		}
	}
	s.cronEngine.Start()
	s.log.Info("supervisor started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop halts the cron engine and waits for any in-flight job to finish.
func (s *Supervisor) Stop(ctx context.Context) {
	stopCtx := s.cronEngine.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.log.Warn("supervisor shutdown timed out with a job still running")
	}
}

func (s *Supervisor) runEvolutionSweep(ctx context.Context) {
	n, err := s.engine.Sweep(ctx)
	if err != nil {
		s.log.Error("evolution sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("evolution sweep evolved agents", zap.Int("count", n))
	}
}

func (s *Supervisor) runInstructionExpirer(ctx context.Context) {
	crews, err := s.store.ListCrews(ctx)
	if err != nil {
		s.log.Error("instruction expirer: failed to list crews", zap.Error(err))
		return
	}
	ids := make([]ids.CrewId, 0, len(crews))
	for _, c := range crews {
		ids = append(ids, c.ID)
	}
	ttl := s.cfg.InstructionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	n, err := s.bus.Expire(ctx, ids, ttl)
	if err != nil {
		s.log.Error("instruction expirer failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("expired stale instructions", zap.Int("count", n))
	}
}

// runWorkflowReaper submits an emergency_stop instruction for every
// workflow that has been non-terminal for longer than MaxWorkflowDuration
// — a second line of defense behind the Workflow Machine's own per-run
// timeout, for workflows whose runner stalled or ignores context
// cancellation. It never mutates workflow state directly: that would race
// the live Machine goroutine still driving the workflow, and wouldn't
// free the runner's worker-pool slot. Submitting through the bus reuses
// the same cancellation path add_dynamic_instruction does, converging on
// the Workflow SM's own cancelAndAwait hard-deadline fallback if the
// runner still doesn't honor it.
func (s *Supervisor) runWorkflowReaper(ctx context.Context) {
	active, err := s.store.ListActiveWorkflows(ctx)
	if err != nil {
		s.log.Error("workflow reaper: failed to list active workflows", zap.Error(err))
		return
	}
	maxDur := s.cfg.MaxWorkflowDuration
	if maxDur <= 0 {
		maxDur = time.Hour
	}
	for _, w := range active {
		if time.Since(w.StartedAt) <= maxDur {
			continue
		}
		instr := &domain.Instruction{
			ID:       ids.NewInstructionId(),
			CrewID:   w.CrewID,
			Kind:     domain.InstructionEmergencyStop,
			Priority: 5,
			Content:  "reaped: exceeded max workflow duration",
		}
		if err := s.bus.Submit(ctx, instr); err != nil {
			s.log.Error("workflow reaper: failed to submit emergency stop", zap.String("workflow_id", string(w.ID)), zap.Error(err))
			continue
		}
		s.log.Warn("reaped stale workflow", zap.String("workflow_id", string(w.ID)), zap.String("crew_id", string(w.CrewID)))
	}
}

func (s *Supervisor) runHealthProbe(ctx context.Context) {
	active, err := s.store.ListActiveWorkflows(ctx)
	reachable := err == nil
	s.healthMu.Lock()
	s.health = Health{
		LastProbeAt:     time.Now().UTC(),
		ActiveWorkflows: len(active),
		StoreReachable:  reachable,
	}
	s.healthMu.Unlock()
	if !reachable {
		s.log.Error("health probe: store unreachable", zap.Error(err))
	}
}

// Snapshot returns the most recent health probe result.
func (s *Supervisor) Snapshot() Health {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health
}
