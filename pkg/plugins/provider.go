package plugins

import "context"

// Provider creates Plugin instances from configuration. Two provider types
// are expected in practice: an in-process provider that wires Go-native
// Plugin implementations directly, and an MCP provider that adapts a
// remote MCP server's tool calls into the Plugin interface — the same
// split the gateway's plugin architecture uses for auth/audit/policy
// providers, generalized here to the hook-chain model.
type Provider interface {
	// Name returns the provider type, e.g. "in-memory" or "mcp".
	Name() string
	// Create builds a Plugin bound to the given hook from config.
	Create(ctx context.Context, hook Hook, config Config) (Plugin, error)
}

// Config configures one plugin instance.
type Config struct {
	// Provider selects which Provider builds this plugin: "in-memory" or "mcp".
	Provider string `json:"provider" yaml:"provider"`
	// Implementation names the concrete in-process implementation, e.g.
	// "redact-pii", "rate-limit", "audit-log".
	Implementation string `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	// Endpoint is the MCP server URL to call through for provider "mcp".
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// ToolName is the remote tool name invoked for provider "mcp", given the
	// hook's payload as its arguments.
	ToolName string `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
}

// mcpPlugin adapts a remote MCP tool call into the Plugin interface. The
// Caller is supplied by whoever wires the provider (the upstream session
// pool's invoke path), keeping this package free of C5/C6 dependencies.
type mcpPlugin struct {
	name     string
	endpoint string
	toolName string
	caller   MCPCaller
}

// MCPCaller is the minimal surface mcpPlugin needs from C5/C6 to invoke a
// remote plugin tool without importing those packages here.
type MCPCaller interface {
	CallTool(ctx context.Context, endpoint, toolName string, args map[string]any) (map[string]any, error)
}

// NewMCPPlugin builds a Plugin that proxies Invoke to a remote MCP tool
// call, encoding the payload as JSON-able args and decoding the result back
// into a payload of the same shape.
func NewMCPPlugin(name, endpoint, toolName string, caller MCPCaller) Plugin {
	return &mcpPlugin{name: name, endpoint: endpoint, toolName: toolName, caller: caller}
}

func (p *mcpPlugin) Name() string { return p.name }

func (p *mcpPlugin) Invoke(ctx context.Context, hook Hook, payload Payload, rc *RequestContext) (Payload, *Violation, error) {
	args := payloadToArgs(hook, payload)
	res, err := p.caller.CallTool(ctx, p.endpoint, p.toolName, args)
	if err != nil {
		return payload, nil, err
	}
	if v, ok := res["violation"].(map[string]any); ok {
		return payload, &Violation{
			Plugin:   p.name,
			Severity: Severity(stringOr(v["severity"], "medium")),
			Reason:   stringOr(v["reason"], "policy violation"),
		}, nil
	}
	return argsToPayload(hook, res, payload), nil, nil
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}
