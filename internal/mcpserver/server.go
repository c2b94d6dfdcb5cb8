// Package mcpserver is the composition root: it builds every component
// (store, bus, workflow machine, evolution engine, crew manager, security
// gate, supervisor) and wires them into the dispatcher's tool registry and
// an MCP server instance. No business logic lives here, only wiring.
package mcpserver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/evocrew/evocrew/internal/bus"
	"github.com/evocrew/evocrew/internal/config"
	"github.com/evocrew/evocrew/internal/crew"
	"github.com/evocrew/evocrew/internal/dispatcher"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/evolution"
	"github.com/evocrew/evocrew/internal/fsio"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/runner"
	"github.com/evocrew/evocrew/internal/security"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/evocrew/evocrew/internal/supervisor"
	"github.com/evocrew/evocrew/internal/workflow"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Kernel holds every long-lived component the composition root built, so
// main.go can start the supervisor's maintenance loops and the chosen
// transport without reaching back into this package's internals.
type Kernel struct {
	MCP        *server.MCPServer
	Supervisor *supervisor.Supervisor
	Gate       *security.Gate
	Store      store.Store
	Cfg        *config.Config

	// AdminKeyCtx wraps ctx with the bootstrap admin identity, for the
	// stdio transport's single trusted caller.
	AdminKeyCtx func(ctx context.Context) context.Context

	cleanup func() error
}

// Close releases the kernel's store connection. The Supervisor's cron
// engine is stopped separately, with Supervisor.Stop. New returns no
// Kernel when it fails, having already closed the store itself.
func (k *Kernel) Close() error {
	if k.cleanup == nil {
		return nil
	}
	return k.cleanup()
}

// New builds the full kernel: persistence, the Workflow Machine, the
// Evolution Engine, the Instruction Bus, the Crew Manager, the Security
// Gate, the Supervisor's maintenance loops, and every dispatcher tool
// registered on a fresh *server.MCPServer.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Kernel, error) {
	st, err := store.New(store.Config{DataDir: cfg.DataRoot})
	if err != nil {
		return nil, fmt.Errorf("mcpserver: open store: %w", err)
	}
	cleanup := func() error { return st.Close() }

	// The bus's emergency-stop callback must call the Machine, but the
	// Machine's constructor takes the bus — close the cycle with a
	// forwarding closure over a variable set right after construction
	// (avoids an import cycle between bus and workflow).
	var machine *workflow.Machine
	b := bus.New(st, func(ctx context.Context, crewID ids.CrewId, instr *domain.Instruction) {
		if machine != nil {
			machine.RequestEmergencyStop(ctx, crewID, instr)
		}
	})

	thresholds := evolution.DefaultThresholds()
	thresholds.MinEvolutionInterval = cfg.MinEvolutionInterval
	engine := evolution.New(st, thresholds, log)

	crewRunner := runner.NewSimulatedRunner(0)

	deadlines := workflow.Deadlines{
		InstructionPollInterval: cfg.InstructionPollInterval,
		EmergencyStopDeadline:   cfg.EmergencyStopDeadline,
		MaxWorkflowDuration:     cfg.MaxWorkflowDuration,
	}
	fsioStore := fsio.New(cfg.DataRoot, fsio.DefaultLimits())
	machine = workflow.New(st, b, engine, crewRunner, fsioStore, deadlines, cfg.WorkerPoolSize, log)

	if err := reconcileStaleWorkflows(ctx, st, log); err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("mcpserver: reconcile stale workflows: %w", err)
	}
	if err := rehydrateBus(ctx, st, b); err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("mcpserver: rehydrate instruction bus: %w", err)
	}

	manager := crew.New(st, b, machine, log)

	superCfg := supervisor.Config{
		EvolutionSweepInterval: cfg.EvolutionSweepInterval,
		InstructionExpireTick:  cfg.InstructionExpireTick,
		WorkflowReaperTick:     cfg.WorkflowReaperTick,
		HealthProbeTick:        cfg.HealthProbeTick,
		InstructionTTL:         cfg.InstructionTTL,
		MaxWorkflowDuration:    cfg.MaxWorkflowDuration,
	}
	super := supervisor.New(st, b, engine, superCfg, log)

	limiter := security.NewRateLimiter()
	secLimits := security.DefaultLimits()
	secLimits.DefaultRateLimitHourly = cfg.RateLimitHourly
	secLimits.BurstLimit = cfg.RateLimitBurst
	secLimits.BlockDuration = cfg.RateLimitBlockDuration
	gate := security.NewGate(st, limiter, secLimits, log)

	plaintext, minted, err := security.EnsureAdminKey(ctx, st, cfg.AdminBootstrapKey)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("mcpserver: bootstrap admin key: %w", err)
	}
	if minted {
		fmt.Fprintln(os.Stderr, "minted a new admin API key — record it now, it will not be shown again:")
		fmt.Fprintln(os.Stderr, plaintext)
		log.Warn("minted a new admin API key; plaintext was written directly to stderr, not logged")
	}
	// EnsureAdminKey only returns the plaintext on the boot that mints it.
	// On a later boot with a fixed AdminBootstrapKey configured, that
	// configured value IS the plaintext (idempotent insert by design); on
	// a later boot with no AdminBootstrapKey configured and a key already
	// minted from a previous run, the original random plaintext is gone
	// for good — the stdio transport's single trusted identity needs one
	// of the two paths above to resolve a usable key.
	adminPlaintext := plaintext
	if adminPlaintext == "" {
		adminPlaintext = cfg.AdminBootstrapKey
	}
	if adminPlaintext == "" {
		_ = cleanup()
		return nil, fmt.Errorf("mcpserver: no admin key available; set EVOCREW_ADMIN_BOOTSTRAP_KEY for a stable identity across restarts")
	}
	adminKey, err := st.GetApiKeyByHash(ctx, store.HashKey(adminPlaintext))
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("mcpserver: load bootstrapped admin key: %w", err)
	}
	adminKeyCtx := func(c context.Context) context.Context { return security.WithApiKey(c, adminKey) }

	s := server.NewMCPServer(
		"evocrew",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	dispatcher.Register(s, dispatcher.Deps{
		Manager:    manager,
		Runner:     crewRunner,
		Store:      st,
		Engine:     engine,
		Supervisor: super,
		Config:     cfg,
		Gate:       gate,
		Log:        log,
	})

	return &Kernel{
		MCP:         s,
		Supervisor:  super,
		Gate:        gate,
		Store:       st,
		Cfg:         cfg,
		AdminKeyCtx: adminKeyCtx,
		cleanup:     cleanup,
	}, nil
}

// reconcileStaleWorkflows fails every workflow left non-terminal (almost
// always Executing) from a previous process's crash or kill, since no
// Machine goroutine survives a restart to finish driving it. Runs once,
// at boot, before any new workflow can start.
func reconcileStaleWorkflows(ctx context.Context, st store.Store, log *zap.Logger) error {
	active, err := st.ListActiveWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, w := range active {
		w.State = domain.WorkflowFailed
		w.CancellationReason = "process-restart"
		ended := time.Now().UTC()
		w.EndedAt = &ended
		if err := st.PutWorkflow(ctx, w); err != nil {
			return fmt.Errorf("persist reconciled workflow %q: %w", w.ID, err)
		}
		log.Warn("failed stale workflow found at boot", zap.String("workflow_id", string(w.ID)), zap.String("crew_id", string(w.CrewID)))

		crew, err := st.GetCrew(ctx, w.CrewID)
		if err != nil {
			return fmt.Errorf("load crew %q for stale workflow %q: %w", w.CrewID, w.ID, err)
		}
		crew.State = domain.CrewIdle
		if err := st.PutCrew(ctx, crew); err != nil {
			return fmt.Errorf("reset crew %q to idle after stale workflow %q: %w", w.CrewID, w.ID, err)
		}
	}
	return nil
}

// rehydrateBus reloads every crew's pending instructions into the Bus's
// in-memory heaps at boot. Must run after reconcileStaleWorkflows: a
// workflow failed for "process-restart" no longer has a live intake loop
// to drain into, but the instructions themselves stay pending so a fresh
// run_autonomous_crew on the same crew sees them delivered in the right
// order instead of silently stuck.
func rehydrateBus(ctx context.Context, st store.Store, b *bus.Bus) error {
	crews, err := st.ListCrews(ctx)
	if err != nil {
		return err
	}
	crewIDs := make([]ids.CrewId, 0, len(crews))
	for _, c := range crews {
		crewIDs = append(crewIDs, c.ID)
	}
	return b.Rehydrate(ctx, crewIDs)
}

func serverInstructions() string {
	return `evocrew orchestrates crews of self-evolving agents.

Typical flow:
  1. create_evolving_crew — define a crew's agents (role/goal/backstory/personality) and its task list.
  2. run_autonomous_crew — start the crew; it runs in the background, returns immediately.
  3. get_crew_status / get_live_events — poll for progress.
  4. add_dynamic_instruction — steer a running crew without restarting it; priority 5
     (emergency_stop) cancels the run within a bounded deadline.
  5. crew_self_assessment / trigger_agent_evolution — agents accumulate experience across
     runs and evolve their personality and role on their own; these tools let you prompt
     or inspect that process directly instead of waiting for the periodic sweep.

Agents never disappear between runs: an agent's reflections, experience counters, and
evolution history persist across every crew it is later attached to.`
}
