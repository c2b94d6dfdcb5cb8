// Package security implements the Security Gate pipeline applied to every
// tool call: authenticate, authorize, rate-limit, validate, sanitize,
// audit. Constants are grounded on
// original_source/src/mcp_crewai/security.py's SecurityConfig.
package security

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/store"
	"go.uber.org/zap"
)

// Limits mirrors original_source's SecurityConfig constants.
type Limits struct {
	DefaultRateLimitHourly int
	BurstLimit             int
	BlockDuration          time.Duration
	MaxStringLength        int
	MaxListLength          int
	MaxJSONDepth           int
	AllowedExtensions      map[string]bool
	MaxFileSize            int64
	MaxTextFileSize        int64
}

// DefaultLimits returns the constants from original_source/security.py,
// translated 1:1 (JWT_EXPIRATION_HOURS has no counterpart, since this core
// mints no JWTs; API_KEY_LENGTH is not a Limits field, since MintKey
// hardcodes its 32-byte key length).
func DefaultLimits() Limits {
	return Limits{
		DefaultRateLimitHourly: 100,
		BurstLimit:             10,
		BlockDuration:          time.Hour,
		MaxStringLength:        10_000,
		MaxListLength:          1_000,
		MaxJSONDepth:           10,
		AllowedExtensions: map[string]bool{
			".txt": true, ".json": true, ".md": true, ".csv": true, ".log": true,
		},
		MaxFileSize:     10 * 1024 * 1024,
		MaxTextFileSize: 100 * 1024,
	}
}

// Credential is what the transport extracted from the request (API key
// header value or bearer token), still in plaintext at this point.
type Credential struct {
	Plaintext string
	ClientID  string // filled in once authenticated; used for rate limiting and audit
}

// ToolRequirement is what a Dispatcher handler declares about itself for
// the gate to enforce.
type ToolRequirement struct {
	Name       string
	Mutates    bool
	Schema     Schema
}

// Gate holds the pipeline's authenticate, authorize, rate-limit and audit
// steps; the dispatcher's secured wrapper calls them in order, with
// validate and sanitize between rate-limit and audit.
type Gate struct {
	store    store.Store
	limiter  *RateLimiter
	limits   Limits
	log      *zap.Logger
}

// NewGate builds a Gate backed by st for key lookups and rl for rate
// limiting.
func NewGate(st store.Store, rl *RateLimiter, limits Limits, log *zap.Logger) *Gate {
	return &Gate{store: st, limiter: rl, limits: limits, log: log}
}

// Limits returns the gate's configured boundary limits, for callers
// (e.g. the dispatcher's validate/sanitize step) that need them without
// duplicating DefaultLimits().
func (g *Gate) Limits() Limits { return g.limits }

// Authenticate resolves a credential to its owning ApiKey, rejecting with
// Unauthenticated if absent, unknown, or disabled. On success it updates
// last_used_at and fills in cred.ClientID.
func (g *Gate) Authenticate(ctx context.Context, cred *Credential) (*domain.ApiKey, error) {
	if strings.TrimSpace(cred.Plaintext) == "" {
		return nil, domainerr.New(domainerr.Unauthenticated, "missing credential")
	}
	hash := store.HashKey(cred.Plaintext)
	key, err := g.store.GetApiKeyByHash(ctx, hash)
	if err != nil {
		return nil, err // already Unauthenticated or Internal from the store
	}
	if key.Disabled {
		return nil, domainerr.New(domainerr.Unauthenticated, "credential disabled")
	}
	_ = g.store.TouchApiKeyLastUsed(ctx, key.ID)
	cred.ClientID = string(key.ID)
	return key, nil
}

// Authorize checks the key's permission globs against the requested tool
// name.
func (g *Gate) Authorize(key *domain.ApiKey, toolName string) error {
	for _, pattern := range key.Permissions {
		if matched, _ := filepath.Match(pattern, toolName); matched {
			return nil
		}
	}
	return domainerr.Newf(domainerr.Forbidden, "api key lacks permission for %q", toolName)
}

// RateLimit enforces the sliding hourly + burst-per-minute windows for
// clientID, returning RateLimited if either is exceeded.
func (g *Gate) RateLimit(clientID string, quotaHourly, quotaBurst int) error {
	if quotaHourly <= 0 {
		quotaHourly = g.limits.DefaultRateLimitHourly
	}
	if quotaBurst <= 0 {
		quotaBurst = g.limits.BurstLimit
	}
	return g.limiter.Allow(clientID, quotaHourly, quotaBurst, g.limits.BlockDuration)
}

// Audit emits an audit record. For a call that clears authorization, rate
// limiting and validation it is called twice (pre-dispatch with outcome
// "started", post-dispatch with the final outcome) so that the start
// record precedes the completion record; a call rejected at one of those
// steps gets a single record.
func (g *Gate) Audit(ctx context.Context, clientID, tool, argHash, outcome string, latency time.Duration) {
	rec := &domain.AuditRecord{
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
		Tool:      tool,
		ArgHash:   argHash,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
	}
	if err := g.store.AppendAudit(ctx, rec); err != nil {
		g.log.Warn("audit append failed", zap.Error(err), zap.String("tool", tool))
	}
}
