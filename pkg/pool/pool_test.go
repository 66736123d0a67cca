package pool

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/cache"
)

// fakeSharedCache is a minimal cache.Cache backed by a map, deliberately not
// implementing cache.Degraded — standing in for a shared (non-fallback)
// cache so cross-worker Owner checks actually run.
type fakeSharedCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeSharedCache() *fakeSharedCache { return &fakeSharedCache{data: make(map[string]string)} }

func (c *fakeSharedCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}
func (c *fakeSharedCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
func (c *fakeSharedCache) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}
func (c *fakeSharedCache) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }
func (c *fakeSharedCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
func (c *fakeSharedCache) Publish(_ context.Context, _, _ string) error { return nil }
func (c *fakeSharedCache) Subscribe(_ context.Context, _ string) (cache.Subscription, error) {
	return nil, nil
}
func (c *fakeSharedCache) Close() error { return nil }

type fakeConn struct {
	closed int32
	failProbe bool
}

func (c *fakeConn) Probe(ctx context.Context) error {
	if c.failProbe {
		return context.DeadlineExceeded
	}
	return nil
}
func (c *fakeConn) Close() error { atomic.StoreInt32(&c.closed, 1); return nil }

type fakeConnector struct {
	mu       sync.Mutex
	created  int
	failNext bool
}

func (f *fakeConnector) Connect(ctx context.Context, key Key, headers http.Header) (UpstreamConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, assertErr
	}
	f.created++
	return &fakeConn{}, nil
}

var assertErr = context.DeadlineExceeded

func TestAcquireReleaseRoundTrip(t *testing.T) {
	connector := &fakeConnector{}
	p := New(connector)
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	h, err := p.Acquire(context.Background(), key, http.Header{})
	require.NoError(t, err)
	p.Release(h)

	m := p.MetricsFor(key)
	assert.Equal(t, 1, m.Idle)
	assert.Equal(t, 0, m.Active)
}

func TestMaxPerKeyThenAcquireTimeout(t *testing.T) {
	connector := &fakeConnector{}
	p := New(connector)
	p.MaxPerKey = 1
	p.AcquireTimeout = 50 * time.Millisecond
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	h1, err := p.Acquire(context.Background(), key, http.Header{})
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), key, http.Header{})
	require.Error(t, err)

	p.Release(h1)
}

func TestMaxPerKeyWaiterSucceedsOnRelease(t *testing.T) {
	connector := &fakeConnector{}
	p := New(connector)
	p.MaxPerKey = 1
	p.AcquireTimeout = time.Second
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	h1, err := p.Acquire(context.Background(), key, http.Header{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), key, http.Header{})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	p.Release(h1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked")
	}
}

func TestCircuitOpensAfterThresholdFailures(t *testing.T) {
	connector := &fakeConnector{failNext: true}
	p := New(connector)
	p.CircuitThreshold = 5
	p.CircuitReset = time.Hour
	key := Key{URL: "https://down.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	for i := 0; i < 5; i++ {
		_, err := p.Acquire(context.Background(), key, http.Header{})
		require.Error(t, err)
	}
	_, err := p.Acquire(context.Background(), key, http.Header{})
	require.Error(t, err)
	m := p.MetricsFor(key)
	assert.True(t, m.CircuitOpen)
}

func TestPoolIsolationDistinctIdentityHashesNeverShareKey(t *testing.T) {
	connector := &fakeConnector{}
	p := New(connector)
	k1 := Key{URL: "https://up.example.com", IdentityHash: "alice-hash", TransportType: "streamable_http"}
	k2 := Key{URL: "https://up.example.com", IdentityHash: "bob-hash", TransportType: "streamable_http"}

	h1, err := p.Acquire(context.Background(), k1, http.Header{})
	require.NoError(t, err)
	p.Release(h1)

	m2 := p.MetricsFor(k2)
	assert.Equal(t, 0, m2.Idle, "session pooled under alice's key must not be visible under bob's key")
}

func TestOwnerClaimsLocallyOnFirstCall(t *testing.T) {
	p := New(&fakeConnector{})
	p.Cache = newFakeSharedCache()
	p.WorkerID = "worker-a"
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	owner, remote, err := p.Owner(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", owner)
	assert.False(t, remote)
}

func TestOwnerReportsRemoteWhenAnotherWorkerHoldsThePin(t *testing.T) {
	shared := newFakeSharedCache()
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	first := New(&fakeConnector{})
	first.Cache = shared
	first.WorkerID = "worker-a"
	owner, remote, err := first.Owner(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "worker-a", owner)
	require.False(t, remote)

	second := New(&fakeConnector{})
	second.Cache = shared
	second.WorkerID = "worker-b"
	owner, remote, err = second.Owner(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", owner)
	assert.True(t, remote)
}

func TestOwnerIgnoresNonStreamableTransports(t *testing.T) {
	p := New(&fakeConnector{})
	p.Cache = newFakeSharedCache()
	p.WorkerID = "worker-a"
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "sse"}

	owner, remote, err := p.Owner(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", owner)
	assert.False(t, remote, "SSE sessions are pinned by C4, not C5 pool affinity")
}

func TestOwnerSkipsCheckOnDegradedCache(t *testing.T) {
	p := New(&fakeConnector{})
	p.Cache = cache.NewMemoryCache()
	p.WorkerID = "worker-a"
	key := Key{URL: "https://up.example.com", IdentityHash: "anonymous", TransportType: "streamable_http"}

	owner, remote, err := p.Owner(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", owner)
	assert.False(t, remote, "a degraded (in-memory) cache can't coordinate across workers, so it must never claim a remote owner")
}
