// Package session implements C4: logical session lifecycle, cross-worker
// ownership, and message routing. Grounded in the two-phase
// Generate/CreateSession split used by toolhive's vmcp session manager,
// adapted to this gateway's cache-backed ownership model (spec.md §4.4).
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/gwerrors"
)

// TransportType names one of the four C3 transports.
type TransportType string

const (
	TransportStdio           TransportType = "stdio"
	TransportSSE             TransportType = "sse"
	TransportStreamableHTTP  TransportType = "streamable_http"
	TransportWebSocket       TransportType = "websocket"
)

// Logical is a client's conversational context over one transport
// (spec.md §3 "Logical Session").
type Logical struct {
	SessionID      string
	TransportType  TransportType
	OwnerWorkerID  string // worker that won Register, for every transport type
	CreatedAt      time.Time
	LastActivityAt time.Time
	MCPSessionID   string // assigned by upstream after MCP initialize
}

// Handle is the worker-local transport handle kept alongside a Logical
// session in this worker's Registry table; it is an interface value held
// only by the worker that registered it and is never shared across workers.
type Handle interface {
	// Deliver writes message to the client over this transport.
	Deliver(ctx context.Context, message []byte) error
	// Close tears down the transport-side resources.
	Close() error
}

const defaultSessionTTL = 300 * time.Second

func sessionKey(id string) string { return "session:" + id }

// Registry owns the session:{id} → worker_id ownership mapping in the
// cache plus a worker-local table of locally-owned transport handles.
type Registry struct {
	Cache    cache.Cache
	WorkerID string
	TTL      time.Duration

	mu    sync.RWMutex
	local map[string]*localSession
}

type localSession struct {
	logical *Logical
	handle  Handle
}

func NewRegistry(c cache.Cache, workerID string, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Registry{Cache: c, WorkerID: workerID, TTL: ttl, local: make(map[string]*localSession)}
}

// Generate produces a new opaque session ID without touching the cache or
// requiring a handle yet — the two-phase split lets a transport adapter
// hand the ID to the SDK transport layer before the domain Logical session
// (which needs identity/context) is constructed.
func (r *Registry) Generate() string {
	return uuid.NewString()
}

// Register attempts to become the owning worker for sessionID, racing other
// workers via the cache's atomic SETNX (spec.md "Ownership uniqueness").
// On success it installs handle as the locally-owned transport. On
// failure it returns the existing owner and does not install handle.
func (r *Registry) Register(ctx context.Context, sessionID string, transportType TransportType, handle Handle) (owner string, won bool, err error) {
	ok, err := r.Cache.SetNX(ctx, sessionKey(sessionID), r.WorkerID, r.TTL)
	if err != nil {
		return "", false, gwerrors.Wrap(gwerrors.Internal, err, "session register")
	}
	if !ok {
		existing, found, gerr := r.Cache.Get(ctx, sessionKey(sessionID))
		if gerr != nil {
			return "", false, gwerrors.Wrap(gwerrors.Internal, gerr, "session lookup after losing race")
		}
		if !found {
			return "", false, gwerrors.New(gwerrors.NotFound, "session expired during registration race")
		}
		return existing, false, nil
	}
	now := time.Now()
	r.mu.Lock()
	r.local[sessionID] = &localSession{
		logical: &Logical{SessionID: sessionID, TransportType: transportType, OwnerWorkerID: r.WorkerID, CreatedAt: now, LastActivityAt: now},
		handle:  handle,
	}
	r.mu.Unlock()
	return r.WorkerID, true, nil
}

// Lookup returns the owning worker for sessionID, or found=false if expired
// or never registered.
func (r *Registry) Lookup(ctx context.Context, sessionID string) (owner string, found bool, err error) {
	v, ok, err := r.Cache.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return "", false, gwerrors.Wrap(gwerrors.Internal, err, "session lookup")
	}
	return v, ok, nil
}

// Touch refreshes the ownership TTL and local activity timestamp on
// traffic, per spec.md's "refreshed on activity" lifecycle note.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if ls, ok := r.local[sessionID]; ok {
		ls.logical.LastActivityAt = time.Now()
	}
	r.mu.Unlock()
	return r.Cache.Expire(ctx, sessionKey(sessionID), r.TTL)
}

// Unregister deletes the ownership key and tears down local transport
// state.
func (r *Registry) Unregister(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	ls, ok := r.local[sessionID]
	delete(r.local, sessionID)
	r.mu.Unlock()
	if ok && ls.handle != nil {
		_ = ls.handle.Close()
	}
	return r.Cache.Del(ctx, sessionKey(sessionID))
}

// LocalHandle returns the transport handle for a locally-owned session.
func (r *Registry) LocalHandle(sessionID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls, ok := r.local[sessionID]
	if !ok {
		return nil, false
	}
	return ls.handle, true
}

// IsLocalOwner reports whether sessionID is owned by this worker's local
// table (a cheap check before consulting the cache for routing decisions).
func (r *Registry) IsLocalOwner(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.local[sessionID]
	return ok
}

func sessChannel(sessionID string) string { return "sess:" + sessionID }

// Route delivers message to sessionID's owner, locally if this worker owns
// it, else via SSE Pub/Sub or a Forwarded RPC depending on transport type
// (spec.md §4.4).
func (r *Registry) Route(ctx context.Context, sessionID string, transportType TransportType, message []byte) error {
	if r.IsLocalOwner(sessionID) {
		handle, _ := r.LocalHandle(sessionID)
		return handle.Deliver(ctx, message)
	}
	owner, found, err := r.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return gwerrors.New(gwerrors.NotFound, "session not found or expired")
	}
	switch transportType {
	case TransportSSE:
		return r.Cache.Publish(ctx, sessChannel(sessionID), string(message))
	default:
		_, err := r.ForwardRPC(ctx, owner, sessionID, message)
		return err
	}
}

// ForwardRPC publishes a Forwarded RPC envelope to the owning worker's
// inbox and returns the one response it publishes back on a per-call
// response channel (spec.md §4.4's Forwarded RPC envelope). Reused by C5
// to route a pool-owned call to the worker pinned to that upstream session
// (spec.md §4.5 "Cross-worker invocation") as well as by Route above.
func (r *Registry) ForwardRPC(ctx context.Context, owner, sessionID string, message []byte) ([]byte, error) {
	responseChannel := fmt.Sprintf("pool_rpc_response:%s", uuid.NewString())
	sub, err := r.Cache.Subscribe(ctx, responseChannel)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "subscribe to response channel")
	}
	defer sub.Close()

	deadline := time.Now().Add(30 * time.Second)
	envelope := forwardedRPCEnvelope(sessionID, responseChannel, message, deadline)
	if err := r.Cache.Publish(ctx, "pool_rpc:"+owner, envelope); err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "publish forwarded rpc")
	}

	select {
	case msg := <-sub.Channel():
		return []byte(msg.Payload), nil
	case <-time.After(time.Until(deadline)):
		return nil, gwerrors.New(gwerrors.UpstreamUnavailable, "forwarded rpc timed out")
	case <-ctx.Done():
		return nil, gwerrors.Wrap(gwerrors.Cancelled, ctx.Err(), "forwarded rpc cancelled")
	}
}

func forwardedRPCEnvelope(sessionID, responseChannel string, message []byte, deadline time.Time) string {
	return fmt.Sprintf(`{"session_id":%q,"response_channel":%q,"deadline_unix_ms":%d,"params":%s}`,
		sessionID, responseChannel, deadline.UnixMilli(), message)
}
