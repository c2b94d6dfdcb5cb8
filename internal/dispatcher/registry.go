package dispatcher

import (
	"sync"

	"github.com/evocrew/evocrew/internal/config"
	"github.com/evocrew/evocrew/internal/crew"
	"github.com/evocrew/evocrew/internal/evolution"
	"github.com/evocrew/evocrew/internal/runner"
	"github.com/evocrew/evocrew/internal/security"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/evocrew/evocrew/internal/supervisor"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Deps bundles every component a dispatcher tool might need. Register
// builds one struct per tool (or tool family) and wraps each handler with
// the Security Gate before adding it to s.
type Deps struct {
	Manager    *crew.Manager
	Runner     runner.CrewRunner
	Store      store.Store
	Engine     *evolution.Engine
	Supervisor *supervisor.Supervisor
	Config     *config.Config
	Gate       *security.Gate
	Log        *zap.Logger
}

// Register constructs and wires every tool named in the server's surface.
func Register(s *server.MCPServer, d Deps) {
	// cfgMu guards every concurrent access to *d.Config: reload_config
	// replaces the struct wholesale in place, which would otherwise race
	// both get_server_config's read and secured()'s per-call deadline read.
	cfgMu := &sync.RWMutex{}

	add := func(name string, def mcp.Tool, handle server.ToolHandlerFunc) {
		s.AddTool(def, secured(d.Gate, name, d.Config, cfgMu, d.Log, handle))
	}

	crewTool := NewCreateEvolvingCrewTool(d.Manager)
	add("create_evolving_crew", crewTool.Definition(), crewTool.Handle)

	runTool := NewRunAutonomousCrewTool(d.Manager, d.Runner)
	add("run_autonomous_crew", runTool.Definition(), runTool.Handle)

	statusTool := NewGetCrewStatusTool(d.Manager)
	add("get_crew_status", statusTool.Definition(), statusTool.Handle)

	listCrewsTool := NewListActiveCrewsTool(d.Manager)
	add("list_active_crews", listCrewsTool.Definition(), listCrewsTool.Handle)

	assessTool := NewCrewSelfAssessmentTool(d.Manager)
	add("crew_self_assessment", assessTool.Definition(), assessTool.Handle)

	addInstrTool := NewAddDynamicInstructionTool(d.Manager)
	add("add_dynamic_instruction", addInstrTool.Definition(), addInstrTool.Handle)

	listInstrTool := NewListDynamicInstructionsTool(d.Store)
	add("list_dynamic_instructions", listInstrTool.Definition(), listInstrTool.Handle)

	instrStatusTool := NewGetInstructionStatusTool(d.Store)
	add("get_instruction_status", instrStatusTool.Definition(), instrStatusTool.Handle)

	triggerTool := NewTriggerAgentEvolutionTool(d.Engine)
	add("trigger_agent_evolution", triggerTool.Definition(), triggerTool.Handle)

	reflectionTool := NewGetAgentReflectionTool(d.Manager)
	add("get_agent_reflection", reflectionTool.Definition(), reflectionTool.Handle)

	templateTool := NewCreateAgentFromTemplateTool(d.Store)
	add("create_agent_from_template", templateTool.Definition(), templateTool.Handle)

	detailsTool := NewGetAgentDetailsTool(d.Store)
	add("get_agent_details", detailsTool.Definition(), detailsTool.Handle)

	summaryTool := NewGetEvolutionSummaryTool(d.Store)
	add("get_evolution_summary", summaryTool.Definition(), summaryTool.Handle)

	liveEventsTool := NewGetLiveEventsTool(d.Store)
	add("get_live_events", liveEventsTool.Definition(), liveEventsTool.Handle)

	healthTool := NewHealthCheckTool(d.Supervisor)
	add("health_check", healthTool.Definition(), healthTool.Handle)

	cfgTool := NewGetServerConfigTool(d.Config, cfgMu)
	add("get_server_config", cfgTool.Definition(), cfgTool.Handle)

	reloadTool := NewReloadConfigTool(d.Config, cfgMu)
	add("reload_config", reloadTool.Definition(), reloadTool.Handle)
}
