package transport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/session"
)

// wsHandle wraps a gorilla/websocket connection; unlike Streamable HTTP,
// WebSocket sessions keep one owning worker since the connection itself is
// stateful, but notifications can be pushed without a client poll — the
// same ownership model as SSE (spec.md §4.3: "same session semantics as
// Streamable HTTP but with server-initiated notifications natively
// supported").
type wsHandle struct {
	conn *websocket.Conn
}

func (h *wsHandle) Deliver(_ context.Context, message []byte) error {
	return h.conn.WriteMessage(websocket.TextMessage, message)
}

func (h *wsHandle) Close() error {
	return h.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // origin enforced upstream by originSecurityHandler
}

// WebSocketHandler implements the full-duplex JSON-RPC framing transport.
func (s *Server) WebSocketHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/health", s.healthHandler())
	return s.authMiddleware(s.originSecurityHandler(mux))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	uc, _ := identity.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := s.Registry.Generate()
	handle := &wsHandle{conn: conn}
	if _, _, err := s.Registry.Register(r.Context(), sessionID, session.TransportWebSocket, handle); err != nil {
		return
	}
	defer s.Registry.Unregister(r.Context(), sessionID)

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		resp, err := s.Dispatcher.Dispatch(r.Context(), uc, sessionID, message)
		if err != nil {
			continue
		}
		if resp == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			return
		}
	}
}
