package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcpfed/gateway/pkg/identity"
)

// Routes assembles the full HTTP surface (spec.md §6): the four transport
// adapters on their own paths, the cancellation control endpoints, the
// internal forwarded-RPC endpoint, and REST passthrough.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	sse := g.Transport.SSEHandler()
	mux.Handle("/sse", sse)
	mux.Handle("/message", sse)
	mux.Handle("/mcp", g.Transport.StreamableHandler())
	mux.Handle("/ws", g.Transport.WebSocketHandler())
	mux.Handle("/health", sse) // any adapter's /health route answers identically

	mux.HandleFunc("/cancellation/cancel", g.handleCancelRun)
	mux.HandleFunc("/cancellation/status/", g.handleCancelStatus)
	mux.HandleFunc("/rpc", g.handleInternalRPC)
	mux.HandleFunc("/passthrough/", g.handlePassthrough)
	mux.HandleFunc("/oauth/", g.handleOAuth)

	return mux
}

// handleOAuth implements the two routes a configured oauth_providers entry
// needs: GET /oauth/{provider}/authorize redirects to the provider's
// consent screen, and GET /oauth/{provider}/callback exchanges the
// returned code (spec.md §3 "auth_config.type == oauth").
func (g *Gateway) handleOAuth(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/oauth/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "malformed oauth path", http.StatusBadRequest)
		return
	}
	provider, action := parts[0], parts[1]

	switch action {
	case "authorize":
		authURL, _, _, err := g.OAuth.BuildAuthorizationURL(r.Context(), provider, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	case "callback":
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			http.Error(w, "missing code or state", http.StatusBadRequest)
			return
		}
		if err := g.OAuth.ExchangeCode(r.Context(), code, state); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		// Refresh must outlive this request; it only stops via g.OAuth.Stop()
		// on gateway shutdown (run.go), not when the callback response is sent.
		if err := g.OAuth.StartRefresh(context.Background(), provider); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "authorized", "provider": provider})
	default:
		http.Error(w, "unknown oauth action", http.StatusNotFound)
	}
}

type cancelRequest struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// handleCancelRun implements POST /cancellation/cancel (spec.md §6).
func (g *Gateway) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := g.Cancellation.CancelRun(r.Context(), req.RequestID, req.Reason)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancelStatus implements GET /cancellation/status/{id} (spec.md §6).
func (g *Gateway) handleCancelStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/cancellation/status/")
	if id == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}
	run, ok := g.Cancellation.Status(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":    run.RequestID,
		"name":         run.Name,
		"sessionId":    run.SessionID,
		"registeredAt": run.RegisteredAt,
		"cancelled":    run.Cancelled,
		"cancelledAt":  run.CancelledAt,
		"cancelReason": run.CancelReason,
	})
}

type internalRPCRequest struct {
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

// handleInternalRPC implements POST /rpc (spec.md §6): the loop-prevention
// header is required because this path always dispatches locally — a
// worker receiving a forwarded call here must never re-forward it, or two
// workers disagreeing about ownership would bounce the request forever.
func (g *Gateway) handleInternalRPC(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Forwarded-Internally") != "true" {
		http.Error(w, "missing X-Forwarded-Internally header", http.StatusBadRequest)
		return
	}
	var req internalRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	uc, _ := identity.FromContext(r.Context())
	resp, err := g.Dispatch(r.Context(), uc, req.SessionID, req.Message)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

// handlePassthrough implements ANY /passthrough/{namespace}/{tool_id}/{path...}
// (spec.md §4.6.1), resolving the addressed tool and reusing invoke_tool so
// the same tool_pre_invoke/tool_post_invoke hooks and SSRF guards apply.
func (g *Gateway) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/passthrough/")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		http.Error(w, "malformed passthrough path", http.StatusBadRequest)
		return
	}
	toolID := parts[1]
	var subPath string
	if len(parts) == 3 {
		subPath = parts[2]
	}

	uc, ok := identity.FromContext(r.Context())
	if !ok {
		uc = &identity.UserContext{UserID: "anonymous"}
	}

	defer r.Body.Close()
	var body any
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	query := map[string]any{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	headers := map[string]any{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	args := map[string]any{
		"method":       r.Method,
		"path":         subPath,
		"query_params": query,
		"headers":      headers,
		"body":         body,
	}
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = toolID + ":" + subPath
	}

	result, err := g.Federation.InvokeTool(r.Context(), toolID, args, uc, "", requestID)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	status, _ := result["status_code"].(int)
	if status == 0 {
		status = http.StatusOK
	}
	if respHeaders, ok := result["headers"].(map[string]string); ok {
		for k, v := range respHeaders {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(status)
	if respBody, ok := result["body"].(string); ok {
		_, _ = w.Write([]byte(respBody))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, err error) {
	rerr := toRPCError(err)
	status := httpStatusFor(err)
	writeJSON(w, status, map[string]any{"error": rerr})
}

func httpStatusFor(err error) int {
	if he, ok := err.(interface{ HTTPStatus() int }); ok {
		return he.HTTPStatus()
	}
	return http.StatusInternalServerError
}
