package mcpserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/evocrew/evocrew/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
)

// NewHTTPHandler builds the gin router for the HTTP transport: an
// authenticated /mcp endpoint backed by the MCP server's streamable HTTP
// handler, plus unauthenticated /health and a token-gated /metrics.
// Grounded on kiosk404-echoryn's internal/hivemind/router.go (gin.Engine,
// middleware.BearerAuth) pattern, adapted to the Security Gate's own
// ApiKey authentication instead of a single shared bearer token.
func NewHTTPHandler(k *Kernel) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/health", func(c *gin.Context) {
		h := k.Supervisor.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"last_probe_at":   h.LastProbeAt,
			"active_workflows": h.ActiveWorkflows,
			"store_reachable":  h.StoreReachable,
		})
	})

	g.GET("/metrics", metricsAuth(k.Cfg.MetricsAuthToken), func(c *gin.Context) {
		h := k.Supervisor.Snapshot()
		c.String(http.StatusOK, "evocrew_active_workflows %d\nevocrew_store_reachable %d\n",
			h.ActiveWorkflows, boolToInt(h.StoreReachable))
	})

	streamable := server.NewStreamableHTTPServer(k.MCP,
		server.WithHTTPContextFunc(httpAuthContext(k.Gate)),
	)
	g.Any("/mcp", gin.WrapH(streamable))

	return g
}

// httpAuthContext resolves the caller's API key from the request's
// Authorization header (or X-Api-Key, for clients that can't set bearer
// auth) and attaches it to ctx once per request, so every tool handler
// downstream sees an already-authenticated identity.
func httpAuthContext(gate *security.Gate) server.HTTPContextFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		cred := &security.Credential{Plaintext: extractCredential(r)}
		key, err := gate.Authenticate(ctx, cred)
		if err != nil {
			return ctx // secured() rejects with "unauthenticated" downstream
		}
		return security.WithApiKey(ctx, key)
	}
}

func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.Header.Get("X-Api-Key")
}

func metricsAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if isLoopback(c.Request) {
			c.Next()
			return
		}
		provided := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid metrics token"})
			return
		}
		c.Next()
	}
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Addr formats the listen address from configuration.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
