// Package dispatcher registers every MCP tool the orchestration kernel
// exposes and wires each handler through the Security Gate before it
// reaches the Crew Manager / Evolution Engine. Per-tool structs with
// Definition()/Handle() methods follow a one-file-per-tool-family shape,
// dependencies injected via constructor.
package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// decodeJSONArg re-marshals a string argument (or a pre-decoded JSON
// value, if the transport already parsed it) into dst.
func decodeJSONArg(req mcp.CallToolRequest, key string, dst any) error {
	raw, ok := req.GetArguments()[key]
	if !ok {
		return fmt.Errorf("missing argument %q", key)
	}
	switch v := raw.(type) {
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, dst)
	}
}

// intArg extracts an integer argument, defaulting if absent or the wrong
// type — JSON numbers decode as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// floatArg extracts a float argument, defaulting if absent or the wrong type.
func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}

// boolArg extracts a boolean argument, defaulting if absent or the wrong type.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringListArg extracts a []string from a JSON array argument.
func stringListArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// floatMapArg extracts a map[string]float64 from a JSON object argument.
func floatMapArg(req mcp.CallToolRequest, key string) map[string]float64 {
	raw, ok := req.GetArguments()[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
