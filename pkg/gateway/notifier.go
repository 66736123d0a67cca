package gateway

import (
	"context"
	"fmt"

	"github.com/mcpfed/gateway/pkg/log"
	"github.com/mcpfed/gateway/pkg/session"
)

// sessionNotifier implements cancellation.Notifier by routing the
// notifications/cancelled JSON-RPC notification (spec.md §4.7) through the
// same session.Registry the transports use to deliver ordinary responses.
type sessionNotifier struct {
	registry *session.Registry
}

func (n *sessionNotifier) NotifyCancelled(sessionID, requestID, reason string) {
	msg := []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":%q,"reason":%q}}`,
		requestID, reason))

	// Best effort: the session may already be gone (client disconnected
	// before the cancel landed), which is not itself an error condition.
	// TransportSSE is passed unconditionally since Route only consults it
	// for the cross-worker case and this gateway's Forwarded-RPC path
	// expects a request/response pair rather than a bare notification;
	// cross-worker delivery of this particular notice is consequently
	// best-effort only when the owning worker differs from this one.
	if err := n.registry.Route(context.Background(), sessionID, session.TransportSSE, msg); err != nil {
		log.Logf("! Failed to deliver cancellation notice for %s: %v", requestID, err)
	}
}
