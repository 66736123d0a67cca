package codeexec

import (
	"context"
	"path"

	"github.com/dop251/goja"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

// ToolCallPermissions gates which tools a sandboxed script may call through
// the bridge, and how deep a chain of sandbox-initiated tool calls may
// recurse (spec.md §4.8 "Tool bridge"). Allowlist and Denylist entries are
// path.Match glob patterns over the tool name; an entry without
// metacharacters matches that exact name.
type ToolCallPermissions struct {
	Allowlist []string
	Denylist  []string
	MaxDepth  int // default 3
}

func (p ToolCallPermissions) maxDepth() int {
	if p.MaxDepth > 0 {
		return p.MaxDepth
	}
	return 3
}

func (p ToolCallPermissions) allowed(name string) bool {
	matches := func(patterns []string) bool {
		for _, pat := range patterns {
			if ok, _ := path.Match(pat, name); ok {
				return true
			}
		}
		return false
	}
	if matches(p.Denylist) {
		return false
	}
	if len(p.Allowlist) == 0 {
		return true
	}
	return matches(p.Allowlist)
}

// bridgeDepthKey is the context key tracking how many nested callTool
// invocations the current chain has made.
type bridgeDepthKey struct{}

func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(bridgeDepthKey{}).(int)
	return d
}

func withDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, bridgeDepthKey{}, d)
}

// newBridgedToolCall returns a goja-callable func that routes a
// sandbox-initiated call back through C6's invoke_tool, enforcing the
// allow/deny list and the bounded recursion depth. ctx is passed on
// unchanged apart from the depth counter; the gateway's shell_exec handler
// attaches a copy of the caller's UserContext with its Attributes removed,
// so a script cannot relay captured attribute data.
func newBridgedToolCall(ctx context.Context, bridge ToolBridge, perms ToolCallPermissions) func(name string, args map[string]any) (map[string]any, error) {
	return func(name string, args map[string]any) (map[string]any, error) {
		depth := depthOf(ctx)
		if depth >= perms.maxDepth() {
			return nil, gwerrors.New(gwerrors.PolicyViolation, "tool-call bridge recursion limit exceeded")
		}
		if !perms.allowed(name) {
			return nil, gwerrors.New(gwerrors.Forbidden, "tool not permitted from sandbox: "+name)
		}
		nested := withDepth(ctx, depth+1)
		result, err := bridge.InvokeTool(nested, name, args)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// exportGojaValue is a small helper kept for callers that need to coerce a
// goja.Value result into a plain Go value outside the VM goroutine.
func exportGojaValue(v goja.Value) any {
	if v == nil {
		return nil
	}
	return v.Export()
}
