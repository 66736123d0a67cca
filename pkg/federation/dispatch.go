package federation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpfed/gateway/pkg/cancellation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
	"github.com/mcpfed/gateway/pkg/plugins"
	"github.com/mcpfed/gateway/pkg/pool"
)

// MCPCaller dispatches a tools/call (or resources/read, prompts/get) to an
// upstream MCP server through C5's pool, given the resolved Gateway.
type MCPCaller interface {
	CallTool(ctx context.Context, gw *Gateway, remoteName string, args map[string]any, headers map[string]string) (map[string]any, error)
	ReadResource(ctx context.Context, gw *Gateway, uri string, headers map[string]string) (map[string]any, error)
	GetPrompt(ctx context.Context, gw *Gateway, name string, args map[string]any, headers map[string]string) (map[string]any, error)
}

// RESTCaller executes a passthrough REST call, applying SSRF/allowlist
// guards (spec.md §4.6.1) before dispatch.
type RESTCaller interface {
	Call(ctx context.Context, spec *RESTSpec, args map[string]any) (map[string]any, error)
}

// GraphQLCaller executes a GraphQL operation (spec.md §4.6 step 4).
type GraphQLCaller interface {
	Call(ctx context.Context, spec *GraphQLSpec, args map[string]any) (map[string]any, error)
}

// GRPCCaller invokes a declared gRPC method (spec.md §4.6 step 4).
type GRPCCaller interface {
	Call(ctx context.Context, spec *GRPCSpec, args map[string]any) (map[string]any, error)
}

// CodeExecDispatcher routes CODE_EXECUTION tool calls to C8.
type CodeExecDispatcher interface {
	Invoke(ctx context.Context, toolName string, args map[string]any, uc *identity.UserContext) (map[string]any, error)
}

// PoolOwnership exposes C5's cross-worker pool-owner pin so C6 can forward
// a call rather than create a duplicate upstream session (spec.md §4.5).
type PoolOwnership interface {
	Owner(ctx context.Context, key pool.Key) (owner string, isRemote bool, err error)
}

// SessionForwarder is C4's Forwarded-RPC mechanism, reused by C5's
// cross-worker pool affinity to hand a call to the worker pinned to the
// target upstream session (spec.md §4.4, §4.5).
type SessionForwarder interface {
	ForwardRPC(ctx context.Context, owner, sessionID string, message []byte) ([]byte, error)
}

// Dispatcher implements C6's invoke_tool/read_resource/get_prompt.
type Dispatcher struct {
	Store         Store
	Plugins       *plugins.Registry
	Cancellation  *cancellation.Service
	MCP           MCPCaller
	REST          RESTCaller
	GraphQL       GraphQLCaller
	GRPC          GRPCCaller
	CodeExec      CodeExecDispatcher
	IdentityHdrs  func(*identity.UserContext, *Gateway) map[string]string
	// IdentityMeta is optional; when set and mode is meta/both, its result is
	// attached as `_meta.user` on outbound tools/call arguments (spec.md §8
	// scenario 3, mirroring IdentityHdrs).
	IdentityMeta func(*identity.UserContext, *Gateway) *identity.IdentityMeta

	// Pool and Forward are both optional; nil disables cross-worker pool
	// forwarding (e.g. single-worker deployments and unit tests), falling
	// back to always acquiring locally.
	Pool    PoolOwnership
	Forward SessionForwarder
}

// InvokeTool implements invoke_tool (spec.md §4.6).
func (d *Dispatcher) InvokeTool(ctx context.Context, name string, args map[string]any, uc *identity.UserContext, sessionID, requestID string) (map[string]any, error) {
	tool, err := ResolveTool(d.Store, name, uc)
	if err != nil {
		return nil, err
	}

	rc := &plugins.RequestContext{Context: ctx, User: uc}
	prePayload, err := d.Plugins.RunPre(plugins.HookToolPreInvoke, plugins.ToolPreInvokePayload{Name: name, Args: args}, rc)
	if err != nil {
		return nil, err
	}
	pre := prePayload.(plugins.ToolPreInvokePayload)

	run := d.Cancellation.RegisterRun(requestID, name, sessionID)
	defer d.Cancellation.DeregisterRun(requestID)

	result, dispatchErr := d.dispatchWithCancellation(ctx, tool, pre.Args, uc, sessionID, run)
	if dispatchErr != nil {
		return nil, dispatchErr
	}

	postPayload, err := d.Plugins.RunPost(plugins.HookToolPostInvoke, plugins.ToolPostInvokePayload{Name: name, Result: result}, rc)
	if err != nil {
		return nil, err
	}
	return postPayload.(plugins.ToolPostInvokePayload).Result, nil
}

func (d *Dispatcher) dispatchWithCancellation(ctx context.Context, tool *Entity, args map[string]any, uc *identity.UserContext, sessionID string, run *cancellation.Run) (map[string]any, error) {
	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := d.dispatch(ctx, tool, args, uc, sessionID)
		done <- outcome{r, err}
	}()
	select {
	case o := <-done:
		return o.result, o.err
	case <-run.Signal():
		return nil, gwerrors.New(gwerrors.Cancelled, "run cancelled: "+run.CancelReason)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, tool *Entity, args map[string]any, uc *identity.UserContext, sessionID string) (map[string]any, error) {
	switch tool.IntegrationType {
	case IntegrationMCP:
		gw, ok, err := d.Store.GetGateway(tool.GatewayID)
		if err != nil || !ok {
			return nil, gwerrors.New(gwerrors.UpstreamUnavailable, "gateway not found: "+tool.GatewayID)
		}
		headers := d.IdentityHdrs(uc, gw)
		args = d.withIdentityMeta(args, uc, gw)
		if owner, remote, err := d.checkPoolOwnership(ctx, gw, headers); err != nil {
			return nil, err
		} else if remote {
			return d.forwardToolCall(ctx, owner, sessionID, tool.Name, args)
		}
		return d.callMCPWithRetry(ctx, gw, tool.RemoteName, args, headers)

	case IntegrationREST, IntegrationPassthrough:
		if tool.REST == nil {
			return nil, gwerrors.New(gwerrors.Internal, "tool missing REST spec")
		}
		return d.REST.Call(ctx, tool.REST, args)

	case IntegrationGraphQL:
		if tool.GraphQL == nil {
			return nil, gwerrors.New(gwerrors.Internal, "tool missing GraphQL spec")
		}
		return d.GraphQL.Call(ctx, tool.GraphQL, args)

	case IntegrationGRPC:
		if tool.GRPC == nil {
			return nil, gwerrors.New(gwerrors.Internal, "tool missing GRPC spec")
		}
		return d.GRPC.Call(ctx, tool.GRPC, args)

	case IntegrationCodeExecution:
		return d.CodeExec.Invoke(ctx, tool.Name, args, uc)

	default:
		return nil, gwerrors.New(gwerrors.Internal, "unknown integration type: "+string(tool.IntegrationType))
	}
}

// callMCPWithRetry implements spec.md §4.6's retry policy: at most 1 retry,
// after a fixed 500ms wait, for an UpstreamUnavailable failure. Whether any
// bytes of the result had already arrived is not checked. Timeouts are
// never retried.
func (d *Dispatcher) callMCPWithRetry(ctx context.Context, gw *Gateway, remoteName string, args map[string]any, headers map[string]string) (map[string]any, error) {
	result, err := d.MCP.CallTool(ctx, gw, remoteName, args, headers)
	if err == nil {
		return result, nil
	}
	if gwerrors.Is(err, gwerrors.UpstreamTimeout) {
		return nil, err // timeouts are not retried
	}
	if !gwerrors.Is(err, gwerrors.UpstreamUnavailable) {
		return nil, err
	}
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return nil, gwerrors.Wrap(gwerrors.Cancelled, ctx.Err(), "retry cancelled")
	}
	return d.MCP.CallTool(ctx, gw, remoteName, args, headers)
}

// withIdentityMeta returns args with a `_meta.user` object attached when
// IdentityMeta is configured and mode is meta/both (spec.md §8 scenario 3).
// args itself is never mutated; a copy is returned when meta is attached.
func (d *Dispatcher) withIdentityMeta(args map[string]any, uc *identity.UserContext, gw *Gateway) map[string]any {
	if d.IdentityMeta == nil {
		return args
	}
	meta := d.IdentityMeta(uc, gw)
	if meta == nil {
		return args
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return args
	}
	var userMeta map[string]any
	if err := json.Unmarshal(raw, &userMeta); err != nil {
		return args
	}
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["_meta"] = map[string]any{"user": userMeta}
	return out
}

// checkPoolOwnership reports whether another worker already holds the
// pool_owner pin for gw's upstream session (spec.md §4.5). Disabled when
// either Pool or Forward is unset (single-worker mode, or tests).
func (d *Dispatcher) checkPoolOwnership(ctx context.Context, gw *Gateway, headers map[string]string) (owner string, isRemote bool, err error) {
	if d.Pool == nil || d.Forward == nil {
		return "", false, nil
	}
	key := pool.Key{URL: gw.URL, TransportType: string(gw.Transport), IdentityHash: headers["X-Forwarded-User-Id"]}
	return d.Pool.Owner(ctx, key)
}

// forwardToolCall hands a tools/call off to the worker pinned to the
// target upstream session via C4's Forwarded-RPC mechanism (spec.md §4.5
// "Cross-worker invocation"), rather than creating a second upstream
// session for the same pool key on this worker.
func (d *Dispatcher) forwardToolCall(ctx context.Context, owner, sessionID, name string, args map[string]any) (map[string]any, error) {
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      "forwarded",
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "marshal forwarded tools/call")
	}
	raw, err := d.Forward.ForwardRPC(ctx, owner, sessionID, req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result map[string]any `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamError, err, "parse forwarded tools/call response")
	}
	if resp.Error != nil {
		return nil, gwerrors.New(gwerrors.UpstreamError, resp.Error.Message)
	}
	return resp.Result, nil
}

// ReadResource implements read_resource (spec.md §4.6).
func (d *Dispatcher) ReadResource(ctx context.Context, uri string, uc *identity.UserContext) (map[string]any, error) {
	res, err := ResolveResource(d.Store, uri, uc)
	if err != nil {
		return nil, err
	}
	rc := &plugins.RequestContext{Context: ctx, User: uc}
	prePayload, err := d.Plugins.RunPre(plugins.HookResourcePreFetch, plugins.ResourcePreFetchPayload{URI: uri}, rc)
	if err != nil {
		return nil, err
	}
	pre := prePayload.(plugins.ResourcePreFetchPayload)

	var content map[string]any
	if res.IntegrationType == IntegrationMCP {
		gw, ok, err := d.Store.GetGateway(res.GatewayID)
		if err != nil || !ok {
			return nil, gwerrors.New(gwerrors.UpstreamUnavailable, "gateway not found")
		}
		content, err = d.MCP.ReadResource(ctx, gw, uri, d.IdentityHdrs(uc, gw))
		if err != nil {
			return nil, err
		}
	} else {
		content, err = d.REST.Call(ctx, res.REST, pre.Params)
		if err != nil {
			return nil, err
		}
	}

	postPayload, err := d.Plugins.RunPost(plugins.HookResourcePostFetch, plugins.ResourcePostFetchPayload{URI: uri, Content: content}, rc)
	if err != nil {
		return nil, err
	}
	return postPayload.(plugins.ResourcePostFetchPayload).Content, nil
}

// GetPrompt implements get_prompt (spec.md §4.6).
func (d *Dispatcher) GetPrompt(ctx context.Context, name string, args map[string]any, uc *identity.UserContext) (map[string]any, error) {
	prompt, err := ResolvePrompt(d.Store, name, uc)
	if err != nil {
		return nil, err
	}
	rc := &plugins.RequestContext{Context: ctx, User: uc}
	prePayload, err := d.Plugins.RunPre(plugins.HookPromptPreFetch, plugins.PromptPreFetchPayload{Name: name, Args: args}, rc)
	if err != nil {
		return nil, err
	}
	pre := prePayload.(plugins.PromptPreFetchPayload)

	gw, ok, err := d.Store.GetGateway(prompt.GatewayID)
	if err != nil || !ok {
		return nil, gwerrors.New(gwerrors.UpstreamUnavailable, "gateway not found")
	}
	rendered, err := d.MCP.GetPrompt(ctx, gw, name, pre.Args, d.IdentityHdrs(uc, gw))
	if err != nil {
		return nil, err
	}

	postPayload, err := d.Plugins.RunPost(plugins.HookPromptPostFetch, plugins.PromptPostFetchPayload{Name: name, Rendered: rendered}, rc)
	if err != nil {
		return nil, err
	}
	return postPayload.(plugins.PromptPostFetchPayload).Rendered, nil
}
