package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/session"
)

const sseKeepAliveInterval = 15 * time.Second

// sseHandle streams over an accepted SSE connection; Deliver writes one
// `data:` event per call and the owner flushes immediately so replies
// from other workers (routed via session.Registry.Route) reach the client
// without buffering delay.
type sseHandle struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

func (h *sseHandle) Deliver(_ context.Context, message []byte) error {
	if _, err := fmt.Fprintf(h.w, "data: %s\n\n", message); err != nil {
		return err
	}
	h.flusher.Flush()
	return nil
}

func (h *sseHandle) Close() error {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	return nil
}

// SSEHandler accepts the persistent GET that establishes SSE ownership.
// The accepting worker becomes the SSE owner for the session for its
// lifetime (spec.md §4.3).
func (s *Server) SSEHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleSSEConnect)
	mux.HandleFunc("/message", s.handleSSEMessage)
	mux.Handle("/health", s.healthHandler())
	mux.Handle("/", redirectHandler("/sse"))
	return s.authMiddleware(s.originSecurityHandler(mux))
}

func (s *Server) handleSSEConnect(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	uc, _ := identity.FromContext(r.Context())
	sessionID := s.Registry.Generate()
	handle := &sseHandle{w: w, flusher: flusher, done: make(chan struct{})}
	if _, _, err := s.Registry.Register(r.Context(), sessionID, session.TransportSSE, handle); err != nil {
		http.Error(w, "session registration failed", http.StatusInternalServerError)
		return
	}
	defer s.Registry.Unregister(r.Context(), sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: /message?session_id=%s\n\n", sessionID)
	flusher.Flush()

	_ = uc // identity is consulted per-POST in handleSSEMessage, not on connect

	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-handle.done:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleSSEMessage accepts a POST carrying one JSON-RPC request; the body
// may be handled by any worker, but the response always flows back over
// the SSE stream owned by the worker that accepted the original connect
// (spec.md §4.3: "responses are delivered back over the SSE stream owned
// by the original worker").
func (s *Server) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	uc, _ := identity.FromContext(r.Context())

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
	if resp != nil {
		if rerr := s.Registry.Route(r.Context(), sessionID, session.TransportSSE, resp); rerr != nil {
			http.Error(w, "failed to deliver response", http.StatusBadGateway)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}
