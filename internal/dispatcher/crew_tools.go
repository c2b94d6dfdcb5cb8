package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/evocrew/evocrew/internal/crew"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/runner"
	"github.com/mark3labs/mcp-go/mcp"
)

// CreateEvolvingCrewTool handles create_evolving_crew: builds a crew and
// its agents, all starting idle.
type CreateEvolvingCrewTool struct {
	manager *crew.Manager
}

func NewCreateEvolvingCrewTool(m *crew.Manager) *CreateEvolvingCrewTool {
	return &CreateEvolvingCrewTool{manager: m}
}

func (t *CreateEvolvingCrewTool) Definition() mcp.Tool {
	return mcp.NewTool("create_evolving_crew",
		mcp.WithDescription("Create a crew of evolving agents with a task list. Agents start idle; call run_autonomous_crew to execute."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable crew name")),
		mcp.WithNumber("autonomy_level", mcp.Description("0..1, how much latitude agents have to deviate from instructions")),
		mcp.WithString("agents_json", mcp.Required(), mcp.Description(`JSON array of agent specs: [{"role","goal","backstory","personality":{trait:0..1}}]`)),
		mcp.WithString("tasks_json", mcp.Required(), mcp.Description(`JSON array of tasks: [{"description","expected_output","assigned_agent"}]`)),
	)
}

func (t *CreateEvolvingCrewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if strings.TrimSpace(name) == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	var rawAgents []struct {
		Role        string             `json:"role"`
		Goal        string             `json:"goal"`
		Backstory   string             `json:"backstory"`
		Personality map[string]float64 `json:"personality"`
	}
	if err := decodeJSONArg(req, "agents_json", &rawAgents); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid agents_json: %v", err)), nil
	}
	if len(rawAgents) == 0 {
		return mcp.NewToolResultError("agents_json must contain at least one agent"), nil
	}
	var rawTasks []struct {
		Description    string `json:"description"`
		ExpectedOutput string `json:"expected_output"`
		AssignedAgent  string `json:"assigned_agent"`
	}
	if err := decodeJSONArg(req, "tasks_json", &rawTasks); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid tasks_json: %v", err)), nil
	}

	specs := make([]crew.AgentSpec, 0, len(rawAgents))
	for _, a := range rawAgents {
		specs = append(specs, crew.AgentSpec{Role: a.Role, Goal: a.Goal, Backstory: a.Backstory, Personality: a.Personality})
	}
	tasks := make([]domain.Task, 0, len(rawTasks))
	for _, tk := range rawTasks {
		tasks = append(tasks, domain.Task{Description: tk.Description, ExpectedOutput: tk.ExpectedOutput, AssignedAgent: ids.AgentId(tk.AssignedAgent)})
	}

	c, agents, err := t.manager.CreateCrew(ctx, name, floatArg(req, "autonomy_level", 0.5), specs, tasks)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Crew Created\n\n**ID:** `%s`\n**Name:** %s\n**Agents:** %d\n\n", c.ID, c.Name, len(agents))
	for _, a := range agents {
		fmt.Fprintf(&sb, "- `%s` — %s\n", a.ID, a.Role)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// RunAutonomousCrewTool handles run_autonomous_crew: transitions a crew
// into Preparing/Executing and returns immediately.
type RunAutonomousCrewTool struct {
	manager *crew.Manager
	runner  runner.CrewRunner
}

func NewRunAutonomousCrewTool(m *crew.Manager, r runner.CrewRunner) *RunAutonomousCrewTool {
	return &RunAutonomousCrewTool{manager: m, runner: r}
}

func (t *RunAutonomousCrewTool) Definition() mcp.Tool {
	return mcp.NewTool("run_autonomous_crew",
		mcp.WithDescription("Start an idle crew's task list running. Returns immediately; poll get_crew_status for progress."),
		mcp.WithString("crew_id", mcp.Required()),
		mcp.WithBoolean("allow_evolution", mcp.Description("Stored with the workflow; the run's outcome feeds the evolution engine's triggers whether or not it is set")),
	)
}

func (t *RunAutonomousCrewTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crewID := ids.CrewId(req.GetString("crew_id", ""))
	if crewID == "" {
		return mcp.NewToolResultError("'crew_id' is required"), nil
	}
	w, err := t.manager.StartCrew(ctx, crewID, t.runner, boolArg(req, "allow_evolution", true))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Crew Started\n\n**Workflow ID:** `%s`\n**State:** %s\n", w.ID, w.State)), nil
}

// GetCrewStatusTool handles get_crew_status.
type GetCrewStatusTool struct{ manager *crew.Manager }

func NewGetCrewStatusTool(m *crew.Manager) *GetCrewStatusTool { return &GetCrewStatusTool{manager: m} }

func (t *GetCrewStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("get_crew_status",
		mcp.WithDescription("Get a crew's current state, its active workflow (if any), and its agents."),
		mcp.WithString("crew_id", mcp.Required()),
	)
}

func (t *GetCrewStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crewID := ids.CrewId(req.GetString("crew_id", ""))
	c, w, agents, err := t.manager.GetCrewStatus(ctx, crewID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Crew Status\n\n**ID:** `%s`\n**Name:** %s\n**State:** %s\n", c.ID, c.Name, c.State)
	if w != nil {
		fmt.Fprintf(&sb, "**Workflow:** `%s` (%s)\n", w.ID, w.State)
	}
	fmt.Fprintf(&sb, "\n## Agents (%d)\n", len(agents))
	for _, a := range agents {
		fmt.Fprintf(&sb, "- `%s` %s — tasks %d, success rate %.2f\n", a.ID, a.Role, a.Experience.TasksCompleted, a.Experience.SuccessRate())
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ListActiveCrewsTool handles list_active_crews.
type ListActiveCrewsTool struct{ manager *crew.Manager }

func NewListActiveCrewsTool(m *crew.Manager) *ListActiveCrewsTool { return &ListActiveCrewsTool{manager: m} }

func (t *ListActiveCrewsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_active_crews", mcp.WithDescription("List every crew with a non-terminal workflow."))
}

func (t *ListActiveCrewsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crews, err := t.manager.ListActiveCrews(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(crews) == 0 {
		return mcp.NewToolResultText("No active crews."), nil
	}
	var sb strings.Builder
	sb.WriteString("# Active Crews\n\n")
	for _, c := range crews {
		fmt.Fprintf(&sb, "- `%s` %s (%s)\n", c.ID, c.Name, c.State)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// CrewSelfAssessmentTool handles crew_self_assessment: appends a
// free-form self-assessment note as a reflection on one agent. The
// Evolution Engine's sweep does not read reflections, so a recorded
// self-assessment does not by itself trigger an evolution.
type CrewSelfAssessmentTool struct{ manager *crew.Manager }

func NewCrewSelfAssessmentTool(m *crew.Manager) *CrewSelfAssessmentTool {
	return &CrewSelfAssessmentTool{manager: m}
}

func (t *CrewSelfAssessmentTool) Definition() mcp.Tool {
	return mcp.NewTool("crew_self_assessment",
		mcp.WithDescription("Record a crew's self-assessment of its own performance as a reflection on one of its agents."),
		mcp.WithString("agent_id", mcp.Required()),
		mcp.WithString("performance_note", mcp.Required()),
		mcp.WithString("role_fit_note"),
	)
}

func (t *CrewSelfAssessmentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := ids.AgentId(req.GetString("agent_id", ""))
	a, err := t.manager.GetAgentReflection(ctx, agentID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a.Reflections = append(a.Reflections, domain.Reflection{
		PerformanceNote: req.GetString("performance_note", ""),
		RoleFitNote:     req.GetString("role_fit_note", ""),
	})
	if err := t.manager.SaveAgent(ctx, a); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Self-assessment recorded."), nil
}
