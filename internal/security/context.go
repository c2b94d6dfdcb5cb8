package security

import (
	"context"

	"github.com/evocrew/evocrew/internal/domain"
)

type contextKey int

const apiKeyContextKey contextKey = iota

// WithApiKey attaches the authenticated ApiKey to ctx, for transports that
// authenticate once per connection/request before dispatching to a tool
// handler (HTTP middleware; the stdio transport's single trusted caller).
func WithApiKey(ctx context.Context, key *domain.ApiKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// ApiKeyFromContext returns the authenticated ApiKey attached by
// WithApiKey, if any.
func ApiKeyFromContext(ctx context.Context) (*domain.ApiKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*domain.ApiKey)
	return key, ok
}
