// Package pool implements C5: a keyed pool of reusable upstream MCP
// sessions with health checks, TTL, and a circuit breaker. Pool key
// construction and RoundTripper-chain connection setup are grounded in
// toolhive's vmcp BackendConnector; idle-eviction/reaper shape is grounded
// in manifold's MCPServerPool.
package pool

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
)

// streamableTransport is the TransportType value cross-worker pool affinity
// applies to (spec.md §4.5): only Streamable HTTP can land a request on any
// worker per-call, so only it needs a pinned owner to avoid a duplicate
// upstream session per worker.
const streamableTransport = "streamable_http"

const (
	// defaultTransportTimeout bounds connect+read+write for a pooled
	// session's transport (spec.md §4.5).
	defaultTransportTimeout = 30 * time.Second
	defaultAcquireTimeout   = 30 * time.Second
	defaultMaxPerKey        = 4
	defaultHealthInterval   = 60 * time.Second
	defaultHealthTimeout    = 5 * time.Second
	defaultCircuitThreshold = 5
	defaultCircuitReset     = 60 * time.Second
	defaultIdleEviction     = 600 * time.Second
)

// Key is the pool's addressing tuple (spec.md §3 "Pooled Upstream Session").
type Key struct {
	URL           string
	IdentityHash  string
	TransportType string
}

// Session is one active MCP session to an upstream server, held for reuse.
// Conn holds the connection as the UpstreamConn interface rather than the
// SDK's concrete session type, so this package has no compile-time
// dependency on the SDK beyond what Connector constructs.
type Session struct {
	Key       Key
	Conn      UpstreamConn
	CreatedAt time.Time
	LastUsed  time.Time
}

func (s *Session) age() time.Duration { return time.Since(s.CreatedAt) }

// UpstreamConn is the minimal surface the pool needs from a connected
// upstream MCP session: a cheap liveness probe and teardown.
type UpstreamConn interface {
	// Probe performs a bounded-time liveness check (an MCP tools/list call
	// in the default implementation).
	Probe(ctx context.Context) error
	Close() error
}

// Connector creates a new UpstreamConn for a pool key — performs MCP
// initialize against the upstream. Implemented per-transport by whichever
// package wires the modelcontextprotocol/go-sdk client (kept out of this
// package to avoid a hard SDK dependency in the pool's own tests).
type Connector interface {
	Connect(ctx context.Context, key Key, headers http.Header) (UpstreamConn, error)
}

type keyState struct {
	idle    []*Session
	active  int
	waiters []chan struct{}

	// circuit breaker state, per URL in practice but tracked per full key
	// for simplicity since URL is a component of Key.
	consecutiveFailures int
	circuitOpenUntil    time.Time

	lastActivity time.Time
}

// Pool is the C5 upstream session pool.
type Pool struct {
	Connector Connector

	// Cache and WorkerID back the pool_owner:{key} cross-worker pinning
	// SETNX (spec.md §4.5 "Cross-worker invocation"). Cache == nil or a
	// cache.Degraded instance reporting true disables the check: a single
	// worker is trivially its own owner.
	Cache    cache.Cache
	WorkerID string

	MaxPerKey         int
	AcquireTimeout    time.Duration
	TransportTimeout  time.Duration
	HealthInterval    time.Duration
	HealthTimeout     time.Duration
	CircuitThreshold  int
	CircuitReset      time.Duration
	IdleEvictionAfter time.Duration

	mu       sync.Mutex
	byKey    map[Key]*keyState
	creation int64
	closes   int64
}

func New(connector Connector) *Pool {
	return &Pool{
		Connector:         connector,
		MaxPerKey:         defaultMaxPerKey,
		AcquireTimeout:    defaultAcquireTimeout,
		TransportTimeout:  defaultTransportTimeout,
		HealthInterval:    defaultHealthInterval,
		HealthTimeout:     defaultHealthTimeout,
		CircuitThreshold:  defaultCircuitThreshold,
		CircuitReset:      defaultCircuitReset,
		IdleEvictionAfter: defaultIdleEviction,
		byKey:             make(map[Key]*keyState),
	}
}

// Handle is returned from Acquire; the caller MUST call Release exactly
// once, and never retain Conn past that call.
type Handle struct {
	session *Session
	pool    *Pool
	// poison marks the handle for Close rather than return-to-idle, set by
	// the dispatcher when cancellation interrupted this handle's I/O.
	poison bool
}

func (h *Handle) Conn() UpstreamConn { return h.session.Conn }

// Poison marks this handle to be closed instead of recycled on Release
// (spec.md §5: "close the current pooled handle rather than returning it").
func (h *Handle) Poison() { h.poison = true }

// BuildKey computes the pool key for a request, scrubbing identity headers
// first per C1.
func BuildKey(url string, headers http.Header, transportType string, denyList []string) Key {
	identity.ScrubRequestHeaders(headers, denyList)
	return Key{URL: url, IdentityHash: identity.IdentityHash(headers), TransportType: transportType}
}

func ownerCacheKey(key Key) string {
	return "pool_owner:" + key.URL + "|" + key.IdentityHash + "|" + key.TransportType
}

func (p *Pool) cacheDegraded() bool {
	if p.Cache == nil {
		return true
	}
	d, ok := p.Cache.(cache.Degraded)
	return ok && d.Degraded()
}

// Owner claims or confirms this worker's pin on key's upstream session for
// Streamable HTTP, via SETNX on pool_owner:{key} (spec.md §4.5). It returns
// isRemote=true when a different worker already holds the pin, so the
// caller can forward the call via C4's Forwarded-RPC mechanism instead of
// acquiring a duplicate local session. Non-streamable transports and a
// degraded (single-worker) cache always report local ownership.
func (p *Pool) Owner(ctx context.Context, key Key) (owner string, isRemote bool, err error) {
	if key.TransportType != streamableTransport || p.cacheDegraded() {
		return p.WorkerID, false, nil
	}
	ownerKey := ownerCacheKey(key)
	won, err := p.Cache.SetNX(ctx, ownerKey, p.WorkerID, p.IdleEvictionAfter)
	if err != nil {
		return "", false, gwerrors.Wrap(gwerrors.Internal, err, "pool owner claim")
	}
	if won {
		return p.WorkerID, false, nil
	}
	existing, found, err := p.Cache.Get(ctx, ownerKey)
	if err != nil {
		return "", false, gwerrors.Wrap(gwerrors.Internal, err, "pool owner lookup")
	}
	if !found || existing == p.WorkerID {
		_ = p.Cache.Expire(ctx, ownerKey, p.IdleEvictionAfter)
		return p.WorkerID, false, nil
	}
	return existing, true, nil
}

// Acquire implements the C5 acquire operation.
func (p *Pool) Acquire(ctx context.Context, key Key, headers http.Header) (*Handle, error) {
	state := p.state(key)

	p.mu.Lock()
	if p.circuitOpen(state) {
		p.mu.Unlock()
		return nil, gwerrors.New(gwerrors.CircuitOpen, "circuit open for "+key.URL)
	}

	for {
		if len(state.idle) > 0 {
			sess := state.idle[len(state.idle)-1]
			state.idle = state.idle[:len(state.idle)-1]
			p.mu.Unlock()

			if time.Since(sess.LastUsed) > p.HealthInterval {
				hctx, cancel := context.WithTimeout(ctx, p.HealthTimeout)
				err := sess.Conn.Probe(hctx)
				cancel()
				if err != nil {
					_ = sess.Conn.Close()
					p.mu.Lock()
					p.closes++
					continue
				}
				p.mu.Lock()
			} else {
				p.mu.Lock()
			}
			state.active++
			p.mu.Unlock()
			return &Handle{session: sess, pool: p}, nil
		}

		if state.active < p.MaxPerKey {
			state.active++
			p.mu.Unlock()

			conn, err := p.create(ctx, key, headers)
			if err != nil {
				p.mu.Lock()
				state.active--
				p.recordFailure(state)
				p.mu.Unlock()
				return nil, err
			}
			sess := &Session{Key: key, Conn: conn, CreatedAt: time.Now(), LastUsed: time.Now()}
			return &Handle{session: sess, pool: p}, nil
		}

		wait := make(chan struct{})
		state.waiters = append(state.waiters, wait)
		p.mu.Unlock()

		select {
		case <-wait:
			p.mu.Lock()
			continue
		case <-time.After(p.AcquireTimeout):
			return nil, gwerrors.New(gwerrors.AcquireTimeout, "pool saturated for "+key.URL)
		case <-ctx.Done():
			return nil, gwerrors.Wrap(gwerrors.Cancelled, ctx.Err(), "acquire cancelled")
		}
	}
}

func (p *Pool) create(ctx context.Context, key Key, headers http.Header) (UpstreamConn, error) {
	cctx, cancel := context.WithTimeout(ctx, p.TransportTimeout)
	defer cancel()
	conn, err := p.Connector.Connect(cctx, key, headers)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, "create upstream session")
	}
	p.mu.Lock()
	p.creation++
	p.mu.Unlock()
	return conn, nil
}

// Release implements the C5 release operation.
func (p *Pool) Release(h *Handle) {
	state := p.state(h.session.Key)
	p.mu.Lock()
	defer p.mu.Unlock()

	state.active--
	state.lastActivity = time.Now()

	if h.poison || h.session.age() > 24*time.Hour {
		p.closes++
		go h.session.Conn.Close()
	} else {
		h.session.LastUsed = time.Now()
		state.idle = append(state.idle, h.session)
	}

	if len(state.waiters) > 0 {
		w := state.waiters[0]
		state.waiters = state.waiters[1:]
		close(w)
	}

	if !h.poison && h.session.Key.TransportType == streamableTransport && !p.cacheDegraded() {
		key, ttl, c := h.session.Key, p.IdleEvictionAfter, p.Cache
		go func() { _ = c.Expire(context.Background(), ownerCacheKey(key), ttl) }()
	}
}

func (p *Pool) state(key Key) *keyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byKey[key]
	if !ok {
		s = &keyState{lastActivity: time.Now()}
		p.byKey[key] = s
	}
	return s
}

func (p *Pool) circuitOpen(s *keyState) bool {
	if s.circuitOpenUntil.IsZero() {
		return false
	}
	if time.Now().After(s.circuitOpenUntil) {
		s.circuitOpenUntil = time.Time{}
		s.consecutiveFailures = 0
		return false
	}
	return true
}

func (p *Pool) recordFailure(s *keyState) {
	s.consecutiveFailures++
	if s.consecutiveFailures >= p.CircuitThreshold {
		s.circuitOpenUntil = time.Now().Add(p.CircuitReset)
	}
}

// Metrics is a point-in-time snapshot for one pool key.
type Metrics struct {
	Idle, Active, Waiters int
	CircuitOpen           bool
	Creations, Closes     int64
}

func (p *Pool) MetricsFor(key Key) Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byKey[key]
	if !ok {
		return Metrics{}
	}
	return Metrics{
		Idle: len(s.idle), Active: s.active, Waiters: len(s.waiters),
		CircuitOpen: p.circuitOpen(s), Creations: p.creation, Closes: p.closes,
	}
}

// EvictIdle removes pool keys with zero idle and zero active sessions that
// have seen no activity for longer than IdleEvictionAfter (spec.md §4.5).
func (p *Pool) EvictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, s := range p.byKey {
		if len(s.idle) == 0 && s.active == 0 && time.Since(s.lastActivity) > p.IdleEvictionAfter {
			delete(p.byKey, k)
		}
	}
}

// StartReaper runs EvictIdle on a ticker until ctx is cancelled, mirroring
// the idle-reaper shape pooled MCP clients commonly run alongside a shared
// client pool.
func (p *Pool) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.EvictIdle()
			}
		}
	}()
}

// CloseAll implements close_all: graceful teardown on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.byKey {
		for _, sess := range s.idle {
			_ = sess.Conn.Close()
		}
		s.idle = nil
	}
}
