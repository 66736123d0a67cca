package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/session"
)

const mcpSessionHeader = "Mcp-Session-Id"

// streamableHandleForRegistry is a no-op transport handle: Streamable HTTP
// has no persistent connection to write back to — any worker may answer
// any request for the session — so registration exists only to mark the
// session_id as known, never to receive out-of-band deliveries.
type streamableHandleForRegistry struct{}

func (streamableHandleForRegistry) Deliver(_ context.Context, _ []byte) error { return nil }
func (streamableHandleForRegistry) Close() error                             { return nil }

// StreamableHandler implements the RFC-style single POST transport: a
// logical mcp-session-id header groups requests, and any worker may answer
// any request for a session (spec.md §4.3, contrasted with SSE ownership).
func (s *Server) StreamableHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleStreamable)
	mux.Handle("/health", s.healthHandler())
	mux.Handle("/", redirectHandler("/mcp"))
	return s.authMiddleware(s.originSecurityHandler(mux))
}

func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uc, _ := identity.FromContext(r.Context())

	sessionID := r.Header.Get(mcpSessionHeader)
	isNew := sessionID == ""
	if isNew {
		sessionID = s.Registry.Generate()
	}

	if _, found, err := s.Registry.Lookup(r.Context(), sessionID); err != nil {
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	} else if !found {
		if _, _, err := s.Registry.Register(r.Context(), sessionID, session.TransportStreamableHTTP, streamableHandleForRegistry{}); err != nil {
			http.Error(w, "session registration failed", http.StatusInternalServerError)
			return
		}
	} else {
		_ = s.Registry.Touch(r.Context(), sessionID)
	}

	defer r.Body.Close()
	message, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	resp, err := s.Dispatcher.Dispatch(r.Context(), uc, sessionID, message)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set(mcpSessionHeader, sessionID)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}
