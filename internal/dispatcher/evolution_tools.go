package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evocrew/evocrew/internal/crew"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/evolution"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// TriggerAgentEvolutionTool handles trigger_agent_evolution: an explicit,
// user-requested evolution that bypasses trigger evaluation but still
// respects cooldown unless force is set.
type TriggerAgentEvolutionTool struct{ engine *evolution.Engine }

func NewTriggerAgentEvolutionTool(e *evolution.Engine) *TriggerAgentEvolutionTool {
	return &TriggerAgentEvolutionTool{engine: e}
}

func (t *TriggerAgentEvolutionTool) Definition() mcp.Tool {
	return mcp.NewTool("trigger_agent_evolution",
		mcp.WithDescription("Explicitly evolve an agent's personality/role now, instead of waiting for the periodic sweep to detect a trigger."),
		mcp.WithString("agent_id", mcp.Required()),
		mcp.WithBoolean("force", mcp.Description("Evolve even if the agent is within its cooldown window")),
	)
}

func (t *TriggerAgentEvolutionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := ids.AgentId(req.GetString("agent_id", ""))
	evt, err := t.engine.Evolve(ctx, agentID, evolution.ReasonExplicitTrigger, boolArg(req, "force", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Evolution Applied\n\n**Agent:** `%s`\n**Kind:** %s\n**Cycle:** %d\n", evt.AgentID, evt.Kind, evt.Cycle)), nil
}

// GetAgentReflectionTool handles get_agent_reflection.
type GetAgentReflectionTool struct{ manager *crew.Manager }

func NewGetAgentReflectionTool(m *crew.Manager) *GetAgentReflectionTool {
	return &GetAgentReflectionTool{manager: m}
}

func (t *GetAgentReflectionTool) Definition() mcp.Tool {
	return mcp.NewTool("get_agent_reflection",
		mcp.WithDescription("Get an agent's ordered self-assessment / reflection log."),
		mcp.WithString("agent_id", mcp.Required()),
	)
}

func (t *GetAgentReflectionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := ids.AgentId(req.GetString("agent_id", ""))
	a, err := t.manager.GetAgentReflection(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(a.Reflections) == 0 {
		return mcp.NewToolResultText("No reflections recorded yet."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Reflections for `%s`\n\n", a.ID)
	for _, r := range a.Reflections {
		fmt.Fprintf(&sb, "## %s\n", r.CreatedAt.Format(time.RFC3339))
		if r.PerformanceNote != "" {
			fmt.Fprintf(&sb, "- Performance: %s\n", r.PerformanceNote)
		}
		if r.RoleFitNote != "" {
			fmt.Fprintf(&sb, "- Role fit: %s\n", r.RoleFitNote)
		}
		for _, g := range r.SkillGaps {
			fmt.Fprintf(&sb, "- Skill gap: %s\n", g)
		}
		for _, s := range r.Suggestions {
			fmt.Fprintf(&sb, "- Suggestion: %s\n", s)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// CreateAgentFromTemplateTool handles create_agent_from_template: mints a
// single standalone agent (not attached to a crew yet) from a named
// personality template.
type CreateAgentFromTemplateTool struct{ store store.Store }

func NewCreateAgentFromTemplateTool(st store.Store) *CreateAgentFromTemplateTool {
	return &CreateAgentFromTemplateTool{store: st}
}

func (t *CreateAgentFromTemplateTool) Definition() mcp.Tool {
	return mcp.NewTool("create_agent_from_template",
		mcp.WithDescription("Create a standalone agent from a named personality template (analyst, creative, facilitator, executor)."),
		mcp.WithString("template", mcp.Required(), mcp.Enum("analyst", "creative", "facilitator", "executor")),
		mcp.WithString("role", mcp.Required()),
		mcp.WithString("goal", mcp.Required()),
		mcp.WithString("backstory"),
	)
}

func (t *CreateAgentFromTemplateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	template := req.GetString("template", "")
	personality, ok := evolution.Templates[template]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown template %q", template)), nil
	}
	cloned := make(map[string]float64, len(personality))
	for k, v := range personality {
		cloned[k] = v
	}
	a := &domain.Agent{
		ID:          ids.NewAgentId(),
		Role:        req.GetString("role", ""),
		Goal:        req.GetString("goal", ""),
		Backstory:   req.GetString("backstory", ""),
		Personality: cloned,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.store.PutAgent(ctx, a); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Agent Created\n\n**ID:** `%s`\n**Role:** %s\n**Template:** %s\n", a.ID, a.Role, template)), nil
}

// GetAgentDetailsTool handles get_agent_details.
type GetAgentDetailsTool struct{ store store.Store }

func NewGetAgentDetailsTool(st store.Store) *GetAgentDetailsTool { return &GetAgentDetailsTool{store: st} }

func (t *GetAgentDetailsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_agent_details",
		mcp.WithDescription("Get an agent's full record: role, personality, experience counters, evolution cycle count."),
		mcp.WithString("agent_id", mcp.Required()),
	)
}

func (t *GetAgentDetailsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := ids.AgentId(req.GetString("agent_id", ""))
	a, err := t.store.GetAgent(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Agent `%s`\n\n**Role:** %s\n**Goal:** %s\n**Evolution cycles:** %d\n", a.ID, a.Role, a.Goal, a.EvolutionCycles)
	fmt.Fprintf(&sb, "**Tasks completed:** %d (success rate %.2f)\n\n## Personality\n", a.Experience.TasksCompleted, a.Experience.SuccessRate())
	for trait, v := range a.Personality {
		fmt.Fprintf(&sb, "- %s: %.2f\n", trait, v)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// GetEvolutionSummaryTool handles get_evolution_summary.
type GetEvolutionSummaryTool struct{ store store.Store }

func NewGetEvolutionSummaryTool(st store.Store) *GetEvolutionSummaryTool {
	return &GetEvolutionSummaryTool{store: st}
}

func (t *GetEvolutionSummaryTool) Definition() mcp.Tool {
	return mcp.NewTool("get_evolution_summary",
		mcp.WithDescription("List an agent's evolution event history."),
		mcp.WithString("agent_id", mcp.Required()),
		mcp.WithNumber("since_cycle", mcp.Description("Only events at or after this cycle number")),
	)
}

func (t *GetEvolutionSummaryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := ids.AgentId(req.GetString("agent_id", ""))
	events, err := t.store.ListEvolutionEvents(ctx, agentID, intArg(req, "since_cycle", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No evolution events recorded."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Evolution History for `%s`\n\n", agentID)
	for _, e := range events {
		fmt.Fprintf(&sb, "- cycle %d: %s (%s) at %s\n", e.Cycle, e.Kind, e.Reason, e.CreatedAt.Format(time.RFC3339))
	}
	return mcp.NewToolResultText(sb.String()), nil
}
