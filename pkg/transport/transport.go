// Package transport implements C3: the four wire adapters (stdio, SSE,
// Streamable HTTP, WebSocket) that share one logical session abstraction
// and register every connection with C4's session.Registry. Adapters stop
// at producing/consuming opaque JSON-RPC messages; they never dispatch
// business logic themselves (spec.md §4.3).
//
// Grounded in the teacher's pkg/gateway/transport.go (startSseServer,
// startStreamingServer, originSecurityHandler, healthHandler) and
// pkg/gateway/auth.go (bearer middleware), generalized from a single
// hardcoded token to pkg/identity.Authenticator and extended with a
// WebSocket adapter the teacher does not have.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"os"

	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/session"
)

// Dispatcher is the single seam transports call into: a raw JSON-RPC
// request body in, a raw JSON-RPC response body out. The orchestrator
// wires this to federation.Dispatcher plus the plugin pipeline and
// identity propagation; transports never see those layers.
type Dispatcher interface {
	Dispatch(ctx context.Context, uc *identity.UserContext, sessionID string, message []byte) ([]byte, error)
}

// HealthState reports liveness/readiness for the /health endpoint.
type HealthState interface {
	IsHealthy() bool
}

// Server bundles everything every adapter needs: the session registry for
// ownership bookkeeping, the dispatcher, the authenticator, and the set of
// origins allowed to connect over browser-facing transports.
type Server struct {
	Registry       *session.Registry
	Dispatcher     Dispatcher
	Auth           *identity.Authenticator
	Health         HealthState
	AllowedOrigins []string
	InContainer    bool // skips origin/auth checks for compose-style networking, per teacher convention
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.Health == nil || s.Health.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func redirectHandler(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}

// isAllowedOrigin reports whether origin's hostname is localhost/127.0.0.1
// or appears in the server's configured allowlist.
func (s *Server) isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == host {
			return true
		}
	}
	return false
}

// originSecurityHandler rejects cross-origin browser requests to prevent
// DNS rebinding attacks against locally-bound transports.
func (s *Server) originSecurityHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.InContainer || os.Getenv("MCP_GATEWAY_IN_CONTAINER") == "1" {
			next.ServeHTTP(w, r)
			return
		}
		origin := r.Header.Get("Origin")
		if origin != "" && !s.isAllowedOrigin(origin) {
			http.Error(w, "Forbidden: invalid Origin header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware authenticates every request except /health, attaching the
// resulting identity.UserContext to the request context for downstream
// handlers to read via identity.FromContext.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.InContainer || os.Getenv("MCP_GATEWAY_IN_CONTAINER") == "1" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if s.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		uc, err := s.Auth.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="MCP Gateway"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := identity.WithUserContext(r.Context(), uc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
