package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/evocrew/evocrew/internal/config"
	"github.com/evocrew/evocrew/internal/store"
	"github.com/evocrew/evocrew/internal/supervisor"
	"github.com/mark3labs/mcp-go/mcp"
)

// GetLiveEventsTool handles get_live_events: a best-effort snapshot of
// what's currently happening across every crew — active workflows and
// their pending instructions — rather than a persisted event stream.
type GetLiveEventsTool struct{ store store.Store }

func NewGetLiveEventsTool(st store.Store) *GetLiveEventsTool { return &GetLiveEventsTool{store: st} }

func (t *GetLiveEventsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_live_events",
		mcp.WithDescription("Snapshot of currently active workflows and their pending instructions, across every crew."),
	)
}

func (t *GetLiveEventsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows, err := t.store.ListActiveWorkflows(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(workflows) == 0 {
		return mcp.NewToolResultText("No active workflows."), nil
	}
	var sb strings.Builder
	sb.WriteString("# Live Events\n\n")
	for _, w := range workflows {
		fmt.Fprintf(&sb, "## Crew `%s` — workflow `%s` (%s)\n", w.CrewID, w.ID, w.State)
		pending, err := t.store.ListPendingInstructions(ctx, w.CrewID)
		if err != nil {
			continue
		}
		for _, i := range pending {
			fmt.Fprintf(&sb, "- pending instruction `%s` [%s] priority %d\n", i.ID, i.Kind, i.Priority)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HealthCheckTool handles health_check.
type HealthCheckTool struct{ supervisor *supervisor.Supervisor }

func NewHealthCheckTool(s *supervisor.Supervisor) *HealthCheckTool { return &HealthCheckTool{supervisor: s} }

func (t *HealthCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("health_check", mcp.WithDescription("Report the last maintenance-loop health probe."))
}

func (t *HealthCheckTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h := t.supervisor.Snapshot()
	return mcp.NewToolResultText(fmt.Sprintf(
		"# Health\n\n**Last probe:** %s\n**Active workflows:** %d\n**Store reachable:** %t\n",
		h.LastProbeAt.Format("2006-01-02T15:04:05Z07:00"), h.ActiveWorkflows, h.StoreReachable,
	)), nil
}

// GetServerConfigTool handles get_server_config. mu is shared with
// ReloadConfigTool: it guards every read/write of the *config.Config both
// tools point at.
type GetServerConfigTool struct {
	cfg *config.Config
	mu  *sync.RWMutex
}

func NewGetServerConfigTool(cfg *config.Config, mu *sync.RWMutex) *GetServerConfigTool {
	return &GetServerConfigTool{cfg: cfg, mu: mu}
}

func (t *GetServerConfigTool) Definition() mcp.Tool {
	return mcp.NewTool("get_server_config", mcp.WithDescription("Return the running server's sanitized configuration."))
}

func (t *GetServerConfigTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t.mu.RLock()
	sanitized := t.cfg.Sanitized()
	t.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("# Server Configuration\n\n")
	for k, v := range sanitized {
		fmt.Fprintf(&sb, "- **%s:** %v\n", k, v)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ReloadConfigTool handles reload_config: re-reads configuration from the
// environment and swaps it in, in place, for every component holding a
// pointer to the shared *config.Config. mu guards the swap against any
// concurrent reader of *cfg (get_server_config, secured()'s per-call
// deadline lookup).
type ReloadConfigTool struct {
	cfg *config.Config
	mu  *sync.RWMutex
}

func NewReloadConfigTool(cfg *config.Config, mu *sync.RWMutex) *ReloadConfigTool {
	return &ReloadConfigTool{cfg: cfg, mu: mu}
}

func (t *ReloadConfigTool) Definition() mcp.Tool {
	return mcp.NewTool("reload_config", mcp.WithDescription("Reload configuration from the environment. Transport and data_root changes require a process restart to take effect."))
}

func (t *ReloadConfigTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fresh, err := config.Load()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.mu.Lock()
	*t.cfg = fresh
	t.mu.Unlock()
	return mcp.NewToolResultText("Configuration reloaded."), nil
}
