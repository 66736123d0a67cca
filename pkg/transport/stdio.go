package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/session"
)

// ServeStdio frames newline-delimited JSON-RPC 2.0 messages over r/w. One
// stream per subprocess; no multi-session multiplexing (spec.md §4.3).
// The stdio caller is trusted by construction (it is the process's own
// stdin/stdout), so it authenticates once at startup via uc rather than
// per-message.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer, uc *identity.UserContext) error {
	sessionID := s.Registry.Generate()
	handle := &stdioHandle{w: w}
	if _, _, err := s.Registry.Register(ctx, sessionID, session.TransportStdio, handle); err != nil {
		return err
	}
	defer s.Registry.Unregister(ctx, sessionID)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)

		resp, err := s.Dispatcher.Dispatch(ctx, uc, sessionID, msg)
		if err != nil {
			continue
		}
		if resp == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n", resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// stdioHandle satisfies session.Handle for a stdio connection; since stdio
// has exactly one session per process, Deliver just writes the line.
type stdioHandle struct {
	w io.Writer
}

func (h *stdioHandle) Deliver(_ context.Context, message []byte) error {
	_, err := fmt.Fprintf(h.w, "%s\n", message)
	return err
}

func (h *stdioHandle) Close() error { return nil }
