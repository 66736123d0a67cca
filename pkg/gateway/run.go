package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcpfed/gateway/pkg/log"
)

// Run starts every background loop and serves the HTTP surface until ctx is
// cancelled, then drains gracefully. Grounded in the teacher's own
// pkg/gateway/run.go top-level Run shape (build, then start loops, then
// serve, then drain on shutdown).
func (g *Gateway) Run(ctx context.Context, listenAddr string) error {
	if err := g.Watcher.Watch(ctx); err != nil {
		return err
	}
	if err := g.Cancellation.Subscribe(ctx); err != nil {
		return err
	}
	g.startForwardedRPCListener(ctx)
	g.Pool.StartReaper(ctx, g.Pool.HealthInterval)
	g.Health.SetHealthy(true)

	srv := &http.Server{Addr: listenAddr, Handler: g.Routes()}
	errCh := make(chan error, 1)
	go func() {
		log.Logf("mcp-gateway listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	g.Health.SetHealthy(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Logf("http server shutdown error: %v", err)
	}
	g.OAuth.Stop()
	g.Pool.CloseAll()
	if err := g.DB.Close(); err != nil {
		log.Logf("database close error: %v", err)
	}
	return nil
}

type forwardedRPCEnvelope struct {
	SessionID       string          `json:"session_id"`
	ResponseChannel string          `json:"response_channel"`
	DeadlineUnixMS  int64           `json:"deadline_unix_ms"`
	Params          json.RawMessage `json:"params"`
}

// startForwardedRPCListener subscribes to this worker's forwarded-call
// inbox (session.Registry.Route publishes here for non-SSE transports owned
// by a different worker, spec.md §4.4) and dispatches each envelope
// locally, publishing the raw dispatch response back on its one-shot
// response channel.
func (g *Gateway) startForwardedRPCListener(ctx context.Context) {
	channel := "pool_rpc:" + g.Sessions.WorkerID
	sub, err := g.Cache.Subscribe(ctx, channel)
	if err != nil {
		log.Logf("failed to subscribe to forwarded-rpc channel: %v", err)
		return
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				go g.handleForwardedRPC(ctx, msg.Payload)
			}
		}
	}()
}

func (g *Gateway) handleForwardedRPC(ctx context.Context, payload string) {
	var env forwardedRPCEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Logf("malformed forwarded-rpc envelope: %v", err)
		return
	}
	if time.Now().UnixMilli() > env.DeadlineUnixMS {
		return // expired before this worker picked it up
	}
	resp, err := g.Dispatch(ctx, nil, env.SessionID, env.Params)
	if err != nil {
		log.Logf("forwarded-rpc dispatch error for session %s: %v", env.SessionID, err)
		return
	}
	if resp == nil {
		resp = []byte("{}")
	}
	if err := g.Cache.Publish(ctx, env.ResponseChannel, string(resp)); err != nil {
		log.Logf("failed to publish forwarded-rpc response: %v", err)
	}
}
