// Package upstream wires the modelcontextprotocol/go-sdk client against
// C5's pool.Connector and C6's federation.MCPCaller, so neither of those
// packages carries a compile-time SDK dependency. Connection setup
// (NewClient, Connect, per-call timeout) is grounded in the pack's tarsy
// MCP client (createTransport/initializeServerLocked/CallTool shape),
// generalized from a fixed server registry to pool.Key-addressed dialing.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpfed/gateway/pkg/federation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/pool"
)

const (
	connectTimeout = 15 * time.Second
	callTimeout    = 30 * time.Second
)

// Conn adapts an *mcp.ClientSession to pool.UpstreamConn.
type Conn struct {
	session *mcp.ClientSession
}

func (c *Conn) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	_, err := c.session.ListTools(ctx, nil)
	return err
}

func (c *Conn) Close() error {
	return c.session.Close()
}

// Connector implements pool.Connector, dialing an upstream MCP server over
// the transport named by key.TransportType: "sse", or "streamable_http"
// (also selected by "http" or an empty value). Any other value, including
// "stdio", is rejected with an Internal error; no local server process is
// spawned.
type Connector struct {
	ClientName    string
	ClientVersion string
}

func (c *Connector) clientImpl() *mcp.Implementation {
	name, version := c.ClientName, c.ClientVersion
	if name == "" {
		name = "mcp-gateway"
	}
	if version == "" {
		version = "1.0.0"
	}
	return &mcp.Implementation{Name: name, Version: version}
}

func (c *Connector) Connect(ctx context.Context, key pool.Key, headers http.Header) (pool.UpstreamConn, error) {
	transport, err := c.transportFor(key, headers)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client := mcp.NewClient(c.clientImpl(), nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, fmt.Sprintf("connecting to upstream %s", key.URL))
	}
	return &Conn{session: session}, nil
}

func (c *Connector) transportFor(key pool.Key, headers http.Header) (mcp.Transport, error) {
	switch key.TransportType {
	case "sse":
		return mcp.NewSSEClientTransport(key.URL, &mcp.SSEClientTransportOptions{
			HTTPClient: httpClientWithHeaders(headers),
		}), nil
	case "streamable_http", "http", "":
		return mcp.NewStreamableClientTransport(key.URL, &mcp.StreamableClientTransportOptions{
			HTTPClient: httpClientWithHeaders(headers),
		}), nil
	default:
		return nil, gwerrors.New(gwerrors.Internal, fmt.Sprintf("unsupported upstream transport %q", key.TransportType))
	}
}

// headerInjectingTransport adds headers (identity propagation, spec.md
// §4.1) to every outbound request the SDK client makes.
type headerInjectingTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func httpClientWithHeaders(headers http.Header) *http.Client {
	return &http.Client{Transport: &headerInjectingTransport{headers: headers}}
}

// Caller implements federation.MCPCaller against the pool, acquiring a
// pooled connection per call and releasing it afterward; a call that
// returns any error, including an upstream error result, poisons the
// connection so it is closed instead of reused.
type Caller struct {
	Pool *pool.Pool
}

func (c *Caller) withSession(ctx context.Context, gw *federation.Gateway, headers map[string]string, fn func(*mcp.ClientSession) error) error {
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}
	key := pool.Key{URL: gw.URL, TransportType: string(gw.Transport), IdentityHash: hdr.Get("X-Forwarded-User-Id")}

	handle, err := c.Pool.Acquire(ctx, key, hdr)
	if err != nil {
		return err
	}
	conn, ok := handle.Conn().(*Conn)
	if !ok {
		c.Pool.Release(handle)
		return gwerrors.New(gwerrors.Internal, "unexpected upstream connection type")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if err := fn(conn.session); err != nil {
		handle.Poison()
		c.Pool.Release(handle)
		return err
	}
	c.Pool.Release(handle)
	return nil
}

func (c *Caller) CallTool(ctx context.Context, gw *federation.Gateway, remoteName string, args map[string]any, headers map[string]string) (map[string]any, error) {
	var out map[string]any
	err := c.withSession(ctx, gw, headers, func(session *mcp.ClientSession) error {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: remoteName, Arguments: args})
		if err != nil {
			return gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, fmt.Sprintf("calling upstream tool %s", remoteName))
		}
		if result.IsError {
			return gwerrors.New(gwerrors.UpstreamError, fmt.Sprintf("upstream tool %s returned an error result", remoteName))
		}
		out = map[string]any{"content": result.Content}
		return nil
	})
	return out, err
}

func (c *Caller) ReadResource(ctx context.Context, gw *federation.Gateway, uri string, headers map[string]string) (map[string]any, error) {
	var out map[string]any
	err := c.withSession(ctx, gw, headers, func(session *mcp.ClientSession) error {
		result, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
		if err != nil {
			return gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, fmt.Sprintf("reading upstream resource %s", uri))
		}
		out = map[string]any{"contents": result.Contents}
		return nil
	})
	return out, err
}

func (c *Caller) GetPrompt(ctx context.Context, gw *federation.Gateway, name string, args map[string]any, headers map[string]string) (map[string]any, error) {
	stringArgs := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			stringArgs[k] = s
		} else {
			stringArgs[k] = fmt.Sprintf("%v", v)
		}
	}

	var out map[string]any
	err := c.withSession(ctx, gw, headers, func(session *mcp.ClientSession) error {
		result, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: stringArgs})
		if err != nil {
			return gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, fmt.Sprintf("getting upstream prompt %s", name))
		}
		out = map[string]any{"messages": result.Messages, "description": result.Description}
		return nil
	})
	return out, err
}
