package gateway

import (
	"context"
	"encoding/json"

	"github.com/mcpfed/gateway/pkg/federation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
)

// rpcRequest is a standard JSON-RPC 2.0 request/notification.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcErrorCode maps the gateway's error taxonomy onto JSON-RPC 2.0 error
// codes. The standard range (-32700..-32600) is reserved for malformed
// envelopes; everything the core raises lives in the -32000..-32099
// "server error" range the spec reserves for implementations.
var rpcErrorCode = map[gwerrors.Kind]int{
	gwerrors.AuthRequired:        -32001,
	gwerrors.AuthInvalid:         -32001,
	gwerrors.NotFound:            -32002,
	gwerrors.Forbidden:           -32003,
	gwerrors.PolicyViolation:     -32004,
	gwerrors.SSRFBlocked:         -32005,
	gwerrors.AllowlistViolation:  -32005,
	gwerrors.PayloadTooLarge:     -32006,
	gwerrors.UpstreamUnavailable: -32010,
	gwerrors.UpstreamTimeout:     -32011,
	gwerrors.UpstreamError:       -32012,
	gwerrors.CircuitOpen:         -32013,
	gwerrors.AcquireTimeout:      -32014,
	gwerrors.Cancelled:           -32015,
	gwerrors.Internal:            -32000,
}

func toRPCError(err error) *rpcError {
	kind := gwerrors.KindOf(err)
	code, ok := rpcErrorCode[kind]
	if !ok {
		code = -32000
	}
	message := err.Error()
	if kind == gwerrors.Internal {
		message = "internal_error" // opaque externally per spec.md §7
	}
	var data any
	if te, ok := err.(*gwerrors.Error); ok && te.Detail != nil {
		data = te.Detail
	}
	return &rpcError{Code: code, Message: message, Data: data}
}

const protocolVersion = "2025-06-18"

// Dispatch implements transport.Dispatcher: decode one JSON-RPC message,
// route it to the matching operation, and encode the response. Returns nil
// for a notification (no id), per JSON-RPC 2.0.
func (g *Gateway) Dispatch(ctx context.Context, uc *identity.UserContext, sessionID string, message []byte) ([]byte, error) {
	var req rpcRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return encodeResponse(nil, nil, &rpcError{Code: -32700, Message: "parse error"})
	}

	if uc == nil {
		uc = &identity.UserContext{UserID: "anonymous"}
	}

	result, err := g.route(ctx, uc, sessionID, req)
	if req.ID == nil {
		return nil, nil // notification: no response frame
	}
	if err != nil {
		return encodeResponse(req.ID, nil, toRPCError(err))
	}
	return encodeResponse(req.ID, result, nil)
}

func encodeResponse(id json.RawMessage, result any, rerr *rpcError) ([]byte, error) {
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rerr}
	return json.Marshal(resp)
}

func (g *Gateway) route(ctx context.Context, uc *identity.UserContext, sessionID string, req rpcRequest) (any, error) {
	switch req.Method {
	case "initialize":
		return g.handleInitialize(), nil
	case "tools/list":
		return g.handleListTools(req.Params, uc)
	case "tools/call":
		return g.handleToolCall(ctx, req.Params, uc, sessionID, req.ID)
	case "resources/list":
		return g.handleListResources(req.Params, uc)
	case "resources/read":
		return g.handleReadResource(ctx, req.Params, uc)
	case "prompts/list":
		return g.handleListPrompts(req.Params, uc)
	case "prompts/get":
		return g.handleGetPrompt(ctx, req.Params, uc)
	case "notifications/cancelled":
		return nil, nil // server-originated in this gateway; accepted as a no-op if echoed back
	default:
		return nil, gwerrors.New(gwerrors.NotFound, "unknown method: "+req.Method)
	}
}

func (g *Gateway) handleInitialize() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "mcp-gateway",
			"version": "1.0.0",
		},
	}
}

type pageParams struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func entitySummaries(entities []federation.Entity) []map[string]any {
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		out = append(out, map[string]any{
			"name":        e.Name,
			"description": "",
			"inputSchema": e.Schema,
			"tags":        e.Tags,
		})
	}
	return out
}

func (g *Gateway) handleListTools(params json.RawMessage, uc *identity.UserContext) (any, error) {
	var p pageParams
	_ = json.Unmarshal(params, &p)
	tools, err := g.Federation.Store.ListTools(uc.TeamID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "list tools")
	}
	page := federation.Page(tools, uc, p.Page, p.PerPage)
	return map[string]any{"tools": entitySummaries(page)}, nil
}

func (g *Gateway) handleListResources(params json.RawMessage, uc *identity.UserContext) (any, error) {
	var p pageParams
	_ = json.Unmarshal(params, &p)
	resources, err := g.Federation.Store.ListResources(uc.TeamID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "list resources")
	}
	page := federation.Page(resources, uc, p.Page, p.PerPage)
	return map[string]any{"resources": entitySummaries(page)}, nil
}

func (g *Gateway) handleListPrompts(params json.RawMessage, uc *identity.UserContext) (any, error) {
	var p pageParams
	_ = json.Unmarshal(params, &p)
	prompts, err := g.Federation.Store.ListPrompts(uc.TeamID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "list prompts")
	}
	page := federation.Page(prompts, uc, p.Page, p.PerPage)
	return map[string]any{"prompts": entitySummaries(page)}, nil
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (g *Gateway) handleToolCall(ctx context.Context, params json.RawMessage, uc *identity.UserContext, sessionID string, id json.RawMessage) (any, error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerrors.New(gwerrors.Internal, "invalid tools/call params")
	}
	result, err := g.Federation.InvokeTool(ctx, p.Name, p.Arguments, uc, sessionID, string(id))
	if err != nil {
		return nil, err
	}
	return result, nil
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (g *Gateway) handleReadResource(ctx context.Context, params json.RawMessage, uc *identity.UserContext) (any, error) {
	var p resourceReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerrors.New(gwerrors.Internal, "invalid resources/read params")
	}
	return g.Federation.ReadResource(ctx, p.URI, uc)
}

type promptGetParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (g *Gateway) handleGetPrompt(ctx context.Context, params json.RawMessage, uc *identity.UserContext) (any, error) {
	var p promptGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, gwerrors.New(gwerrors.Internal, "invalid prompts/get params")
	}
	return g.Federation.GetPrompt(ctx, p.Name, p.Arguments, uc)
}
