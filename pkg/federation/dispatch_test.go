package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/cancellation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/plugins"
	"github.com/mcpfed/gateway/pkg/pool"
)

type memStore struct {
	tools    map[string]Entity
	gateways map[string]Gateway
}

func (s *memStore) ListTools(teamID string) ([]Entity, error) { return nil, nil }
func (s *memStore) ListResources(teamID string) ([]Entity, error) { return nil, nil }
func (s *memStore) ListPrompts(teamID string) ([]Entity, error) { return nil, nil }
func (s *memStore) FindTool(name, teamID string) (*Entity, bool, error) {
	e, ok := s.tools[name]
	return &e, ok, nil
}
func (s *memStore) FindResource(uri, teamID string) (*Entity, bool, error) { return nil, false, nil }
func (s *memStore) FindPrompt(name, teamID string) (*Entity, bool, error) { return nil, false, nil }
func (s *memStore) GetGateway(id string) (*Gateway, bool, error) {
	gw, ok := s.gateways[id]
	return &gw, ok, nil
}

type fakeMCPCaller struct {
	calls int
	failFirstWith error
}

func (f *fakeMCPCaller) CallTool(ctx context.Context, gw *Gateway, remoteName string, args map[string]any, headers map[string]string) (map[string]any, error) {
	f.calls++
	if f.calls == 1 && f.failFirstWith != nil {
		return nil, f.failFirstWith
	}
	return map[string]any{"ok": true}, nil
}
func (f *fakeMCPCaller) ReadResource(ctx context.Context, gw *Gateway, uri string, headers map[string]string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeMCPCaller) GetPrompt(ctx context.Context, gw *Gateway, name string, args map[string]any, headers map[string]string) (map[string]any, error) {
	return nil, nil
}

func newTestDispatcher(store *memStore, mcp MCPCaller) *Dispatcher {
	return &Dispatcher{
		Store:        store,
		Plugins:      &plugins.Registry{Default: map[plugins.Hook]plugins.ChainConfig{}},
		Cancellation: cancellation.NewService(cache.NewMemoryCache(), noopNotifier{}),
		MCP:          mcp,
		IdentityHdrs: func(*identity.UserContext, *Gateway) map[string]string { return nil },
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyCancelled(sessionID, requestID, reason string) {}

func TestInvokeToolNotFound(t *testing.T) {
	store := &memStore{tools: map[string]Entity{}}
	d := newTestDispatcher(store, &fakeMCPCaller{})
	_, err := d.InvokeTool(context.Background(), "missing", nil, &identity.UserContext{TeamID: "t1"}, "s1", "r1")
	require.Error(t, err)
	assert.Equal(t, gwerrors.NotFound, gwerrors.KindOf(err))
}

func TestInvokeToolMCPHappyPath(t *testing.T) {
	store := &memStore{
		tools:    map[string]Entity{"echo": {Name: "echo", Enabled: true, Visibility: VisibilityPublic, IntegrationType: IntegrationMCP, GatewayID: "gw1", RemoteName: "echo"}},
		gateways: map[string]Gateway{"gw1": {ID: "gw1", URL: "https://up.example.com"}},
	}
	mcp := &fakeMCPCaller{}
	d := newTestDispatcher(store, mcp)
	res, err := d.InvokeTool(context.Background(), "echo", map[string]any{"x": "hi"}, &identity.UserContext{TeamID: "t1"}, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 1, mcp.calls)
}

func TestInvokeToolRetriesOnUpstreamUnavailableOnce(t *testing.T) {
	store := &memStore{
		tools:    map[string]Entity{"echo": {Name: "echo", Enabled: true, Visibility: VisibilityPublic, IntegrationType: IntegrationMCP, GatewayID: "gw1", RemoteName: "echo"}},
		gateways: map[string]Gateway{"gw1": {ID: "gw1", URL: "https://up.example.com"}},
	}
	mcp := &fakeMCPCaller{failFirstWith: gwerrors.New(gwerrors.UpstreamUnavailable, "conn refused")}
	d := newTestDispatcher(store, mcp)
	res, err := d.InvokeTool(context.Background(), "echo", nil, &identity.UserContext{TeamID: "t1"}, "s1", "r1")
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 2, mcp.calls)
}

func TestInvokeToolDoesNotRetryOnTimeout(t *testing.T) {
	store := &memStore{
		tools:    map[string]Entity{"echo": {Name: "echo", Enabled: true, Visibility: VisibilityPublic, IntegrationType: IntegrationMCP, GatewayID: "gw1", RemoteName: "echo"}},
		gateways: map[string]Gateway{"gw1": {ID: "gw1", URL: "https://up.example.com"}},
	}
	mcp := &fakeMCPCaller{failFirstWith: gwerrors.New(gwerrors.UpstreamTimeout, "timed out")}
	d := newTestDispatcher(store, mcp)
	_, err := d.InvokeTool(context.Background(), "echo", nil, &identity.UserContext{TeamID: "t1"}, "s1", "r1")
	require.Error(t, err)
	assert.Equal(t, 1, mcp.calls)
}

type fakePoolOwnership struct {
	owner    string
	isRemote bool
}

func (f *fakePoolOwnership) Owner(context.Context, pool.Key) (string, bool, error) {
	return f.owner, f.isRemote, nil
}

type fakeForwarder struct {
	lastOwner, lastSessionID string
	lastMessage              []byte
	response                 []byte
}

func (f *fakeForwarder) ForwardRPC(_ context.Context, owner, sessionID string, message []byte) ([]byte, error) {
	f.lastOwner, f.lastSessionID, f.lastMessage = owner, sessionID, message
	return f.response, nil
}

func TestInvokeToolForwardsToRemoteOwnerInsteadOfDialingLocally(t *testing.T) {
	store := &memStore{
		tools:    map[string]Entity{"echo": {Name: "echo", Enabled: true, Visibility: VisibilityPublic, IntegrationType: IntegrationMCP, GatewayID: "gw1", RemoteName: "echo"}},
		gateways: map[string]Gateway{"gw1": {ID: "gw1", URL: "https://up.example.com", Transport: TransportStreamableHTTP}},
	}
	mcp := &fakeMCPCaller{}
	forwarder := &fakeForwarder{response: []byte(`{"jsonrpc":"2.0","id":"forwarded","result":{"forwarded":true}}`)}
	d := newTestDispatcher(store, mcp)
	d.Pool = &fakePoolOwnership{owner: "worker-b", isRemote: true}
	d.Forward = forwarder

	res, err := d.InvokeTool(context.Background(), "echo", map[string]any{"x": "hi"}, &identity.UserContext{TeamID: "t1"}, "sess-1", "r1")
	require.NoError(t, err)
	assert.Equal(t, true, res["forwarded"])
	assert.Equal(t, 0, mcp.calls, "a remote owner must never be dialed locally")
	assert.Equal(t, "worker-b", forwarder.lastOwner)
	assert.Equal(t, "sess-1", forwarder.lastSessionID)
}

func TestInvokeToolDialsLocallyWhenThisWorkerOwnsTheSession(t *testing.T) {
	store := &memStore{
		tools:    map[string]Entity{"echo": {Name: "echo", Enabled: true, Visibility: VisibilityPublic, IntegrationType: IntegrationMCP, GatewayID: "gw1", RemoteName: "echo"}},
		gateways: map[string]Gateway{"gw1": {ID: "gw1", URL: "https://up.example.com", Transport: TransportStreamableHTTP}},
	}
	mcp := &fakeMCPCaller{}
	d := newTestDispatcher(store, mcp)
	d.Pool = &fakePoolOwnership{owner: "worker-a", isRemote: false}
	d.Forward = &fakeForwarder{}

	res, err := d.InvokeTool(context.Background(), "echo", nil, &identity.UserContext{TeamID: "t1"}, "sess-1", "r1")
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 1, mcp.calls)
}

func TestInvokeToolAttachesIdentityMetaWhenConfigured(t *testing.T) {
	store := &memStore{
		tools:    map[string]Entity{"echo": {Name: "echo", Enabled: true, Visibility: VisibilityPublic, IntegrationType: IntegrationMCP, GatewayID: "gw1", RemoteName: "echo"}},
		gateways: map[string]Gateway{"gw1": {ID: "gw1", URL: "https://up.example.com"}},
	}
	var capturedArgs map[string]any
	mcp := &capturingMCPCaller{onCallTool: func(args map[string]any) { capturedArgs = args }}
	d := newTestDispatcher(store, mcp)
	d.IdentityMeta = func(uc *identity.UserContext, gw *Gateway) *identity.IdentityMeta {
		return &identity.IdentityMeta{UserID: uc.UserID}
	}

	_, err := d.InvokeTool(context.Background(), "echo", map[string]any{"x": "hi"}, &identity.UserContext{UserID: "alice", TeamID: "t1"}, "s1", "r1")
	require.NoError(t, err)
	require.NotNil(t, capturedArgs)
	meta, ok := capturedArgs["_meta"].(map[string]any)
	require.True(t, ok, "expected _meta to be attached to outbound args")
	user, ok := meta["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["user_id"])
	assert.Equal(t, "hi", capturedArgs["x"], "original args must survive alongside _meta")
}

type capturingMCPCaller struct {
	onCallTool func(args map[string]any)
}

func (f *capturingMCPCaller) CallTool(_ context.Context, _ *Gateway, _ string, args map[string]any, _ map[string]string) (map[string]any, error) {
	f.onCallTool(args)
	return map[string]any{"ok": true}, nil
}
func (f *capturingMCPCaller) ReadResource(context.Context, *Gateway, string, map[string]string) (map[string]any, error) {
	return nil, nil
}
func (f *capturingMCPCaller) GetPrompt(context.Context, *Gateway, string, map[string]any, map[string]string) (map[string]any, error) {
	return nil, nil
}

func TestPagePaginationStableOrdering(t *testing.T) {
	entities := []Entity{
		{Name: "b", TeamID: "t1", Visibility: VisibilityPublic, Enabled: true},
		{Name: "a", TeamID: "t1", Visibility: VisibilityPublic, Enabled: true},
		{Name: "secret", TeamID: "t2", Visibility: VisibilityPrivate, Enabled: true},
	}
	uc := &identity.UserContext{TeamID: "t1"}
	page := Page(entities, uc, 1, 10)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].Name)
	assert.Equal(t, "b", page[1].Name)
}
