package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/config"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/security"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// secured wraps a tool handler with the Security Gate's per-call steps:
// authorize, rate-limit, validate, sanitize, audit, plus a bounded
// deadline around the handler call itself. Authentication happens once
// per connection (stdio) or per HTTP request (the streamable HTTP
// server's context func) and is
// attached to ctx via security.WithApiKey before the handler tree is
// ever reached; secured re-checks everything that's per-tool. cfg/cfgMu
// are read under lock so reload_config swapping *cfg mid-flight never
// races this read.
func secured(gate *security.Gate, toolName string, cfg *config.Config, cfgMu *sync.RWMutex, log *zap.Logger, fn server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		key, ok := security.ApiKeyFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("unauthenticated"), nil
		}
		args := req.GetArguments()
		argHash := hashArgs(args)

		if err := gate.Authorize(key, toolName); err != nil {
			gate.Audit(ctx, string(key.ID), toolName, argHash, "forbidden", time.Since(start))
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := gate.RateLimit(string(key.ID), key.QuotaHourly, key.QuotaBurst); err != nil {
			gate.Audit(ctx, string(key.ID), toolName, argHash, "rate_limited", time.Since(start))
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := validateAndSanitize(args, gate.Limits()); err != nil {
			gate.Audit(ctx, string(key.ID), toolName, argHash, "invalid_argument", time.Since(start))
			return mcp.NewToolResultError(err.Error()), nil
		}

		gate.Audit(ctx, string(key.ID), toolName, argHash, "started", 0)

		cfgMu.RLock()
		deadline := cfg.ToolDeadlineDefault
		cfgMu.RUnlock()
		if deadline <= 0 {
			deadline = 30 * time.Second
		}
		callCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()

		done := make(chan toolOutcome, 1)
		go func() {
			result, err := fn(callCtx, req)
			done <- toolOutcome{result: result, err: err}
		}()

		var result *mcp.CallToolResult
		var err error
		outcome := "ok"
		select {
		case o := <-done:
			result, err = o.result, o.err
			if err != nil || (result != nil && result.IsError) {
				outcome = "error"
			}
		case <-callCtx.Done():
			err = domainerr.Newf(domainerr.DeadlineExceeded, "%s exceeded its %s deadline", toolName, deadline)
			result = mcp.NewToolResultError(err.Error())
			outcome = "deadline_exceeded"
		}

		gate.Audit(ctx, string(key.ID), toolName, argHash, outcome, time.Since(start))
		return result, err
	}
}

type toolOutcome struct {
	result *mcp.CallToolResult
	err    error
}

// validateAndSanitize enforces the gate's boundary limits (string length,
// list length, nesting depth) across every value in args, then sanitizes
// free-text string values in place. req.GetArguments() hands back the
// same map fn will see, so mutating here is visible to the handler.
func validateAndSanitize(args map[string]any, limits security.Limits) error {
	if err := security.ValidateJSONDepth(args, limits); err != nil {
		return err
	}
	for k, v := range args {
		switch val := v.(type) {
		case string:
			if err := security.ValidateString(k, val, limits); err != nil {
				return err
			}
			args[k] = security.Sanitize(val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					if err := security.ValidateString(k, s, limits); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// hashArgs fingerprints a tool call's arguments for the audit log without
// persisting the arguments themselves.
func hashArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
