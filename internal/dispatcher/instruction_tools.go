package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/evocrew/evocrew/internal/crew"
	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// AddDynamicInstructionTool handles add_dynamic_instruction.
type AddDynamicInstructionTool struct{ manager *crew.Manager }

func NewAddDynamicInstructionTool(m *crew.Manager) *AddDynamicInstructionTool {
	return &AddDynamicInstructionTool{manager: m}
}

func (t *AddDynamicInstructionTool) Definition() mcp.Tool {
	return mcp.NewTool("add_dynamic_instruction",
		mcp.WithDescription("Submit a dynamic instruction to a crew's running or about-to-run workflow. Priority 5 (emergency_stop) bypasses the queue and cancels immediately."),
		mcp.WithString("crew_id", mcp.Required()),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("guidance", "constraint", "resource", "feedback", "emergency_stop", "pivot", "skill_boost")),
		mcp.WithNumber("priority", mcp.Required(), mcp.Description("1 (lowest) to 5 (emergency_stop)")),
		mcp.WithString("content", mcp.Required()),
	)
}

func (t *AddDynamicInstructionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crewID := ids.CrewId(req.GetString("crew_id", ""))
	kind := domain.InstructionKind(req.GetString("kind", ""))
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	priority := intArg(req, "priority", 0)
	if kind == domain.InstructionEmergencyStop {
		priority = 5
	}
	instr, err := t.manager.AddInstruction(ctx, crewID, kind, priority, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Instruction `%s` submitted (priority %d, status %s).", instr.ID, instr.Priority, instr.Status)), nil
}

// ListDynamicInstructionsTool handles list_dynamic_instructions.
type ListDynamicInstructionsTool struct{ store store.Store }

func NewListDynamicInstructionsTool(st store.Store) *ListDynamicInstructionsTool {
	return &ListDynamicInstructionsTool{store: st}
}

func (t *ListDynamicInstructionsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_dynamic_instructions",
		mcp.WithDescription("List a crew's dynamic instructions, optionally filtered by status."),
		mcp.WithString("crew_id", mcp.Required()),
		mcp.WithString("status", mcp.Enum("pending", "delivered", "applied", "failed", "expired")),
	)
}

func (t *ListDynamicInstructionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	crewID := ids.CrewId(req.GetString("crew_id", ""))
	status := domain.InstructionStatus(req.GetString("status", ""))
	instrs, err := t.store.ListInstructions(ctx, crewID, status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(instrs) == 0 {
		return mcp.NewToolResultText("No instructions found."), nil
	}
	var sb strings.Builder
	sb.WriteString("# Instructions\n\n")
	for _, i := range instrs {
		fmt.Fprintf(&sb, "- `%s` [%s] priority %d — %s: %s\n", i.ID, i.Kind, i.Priority, i.Status, truncate(i.Content, 80))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// GetInstructionStatusTool handles get_instruction_status.
type GetInstructionStatusTool struct{ store store.Store }

func NewGetInstructionStatusTool(st store.Store) *GetInstructionStatusTool {
	return &GetInstructionStatusTool{store: st}
}

func (t *GetInstructionStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("get_instruction_status",
		mcp.WithDescription("Get a single dynamic instruction's delivery status."),
		mcp.WithString("instruction_id", mcp.Required()),
	)
}

func (t *GetInstructionStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := ids.InstructionId(req.GetString("instruction_id", ""))
	i, err := t.store.GetInstruction(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status := fmt.Sprintf("**ID:** `%s`\n**Status:** %s\n**Kind:** %s\n**Priority:** %d\n", i.ID, i.Status, i.Kind, i.Priority)
	if i.Error != "" {
		status += fmt.Sprintf("**Error:** %s\n", i.Error)
	}
	return mcp.NewToolResultText(status), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
