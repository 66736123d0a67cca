package gateway

import (
	"context"
	"fmt"

	"github.com/mcpfed/gateway/pkg/codeexec"
	"github.com/mcpfed/gateway/pkg/federation"
	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
)

// codeExecDispatcher adapts C8's Manager/ShellExec/FSBrowse to C6's
// CodeExecDispatcher, the same pairing spec.md §4.6 step 4's
// "CODE_EXECUTION: dispatch to C8" describes. toolName is one of the two
// meta-tools a CODE_EXECUTION entity exposes: "shell_exec" and "fs_browse".
type codeExecDispatcher struct {
	manager *codeexec.Manager
	// bridge is set by New after the federation.Dispatcher it belongs to is
	// constructed, so a sandboxed script's callTool() routes back through
	// the same tool_pre_invoke/tool_post_invoke pipeline as any other call.
	bridge *federation.Dispatcher
}

func (c *codeExecDispatcher) Invoke(ctx context.Context, toolName string, args map[string]any, uc *identity.UserContext) (map[string]any, error) {
	serverID, _ := args["server_id"].(string)
	if serverID == "" {
		serverID = "default"
	}

	switch toolName {
	case "shell_exec":
		return c.shellExec(ctx, serverID, args, uc)
	case "fs_browse":
		return c.fsBrowse(ctx, serverID, args, uc)
	default:
		return nil, gwerrors.New(gwerrors.NotFound, "unknown code-execution tool: "+toolName)
	}
}

func (c *codeExecDispatcher) sessionFor(ctx context.Context, serverID string, uc *identity.UserContext) (*codeexec.Session, error) {
	language, _ := ctx.Value(codeExecLanguageKey{}).(string)
	if language == "" {
		language = "javascript"
	}
	catalog := codeexec.ResolveMountFilter(nil, codeexec.MountRules{}, nil, "")
	return c.manager.EnsureSession(ctx, serverID, uc.Email, language, catalog)
}

type codeExecLanguageKey struct{}

func (c *codeExecDispatcher) shellExec(ctx context.Context, serverID string, args map[string]any, uc *identity.UserContext) (map[string]any, error) {
	code, _ := args["code"].(string)
	language, _ := args["language"].(string)
	if language == "" {
		language = "javascript"
	}

	ctx = context.WithValue(ctx, codeExecLanguageKey{}, language)
	if _, err := c.sessionFor(ctx, serverID, uc); err != nil {
		return nil, err
	}

	// Sandbox-initiated tool calls carry the caller's identity without its
	// free-form attributes.
	bridgeUC := *uc
	bridgeUC.Attributes = nil
	bridgeCtx := identity.WithUserContext(ctx, &bridgeUC)
	result, err := codeexec.ShellExec(bridgeCtx, code, language, codeexec.SandboxPolicy{}, c, codeexec.ToolCallPermissions{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"stdout": result.Stdout, "stderr": result.Stderr, "exit_code": result.ExitCode}, nil
}

func (c *codeExecDispatcher) fsBrowse(ctx context.Context, serverID string, args map[string]any, uc *identity.UserContext) (map[string]any, error) {
	session, err := c.sessionFor(ctx, serverID, uc)
	if err != nil {
		return nil, err
	}
	path, _ := args["path"].(string)
	op, _ := args["op"].(string)
	if op == "" {
		op = string(codeexec.FSBrowseList)
	}
	return codeexec.FSBrowse(session.RootDir, path, codeexec.FSBrowseOp(op))
}

// InvokeTool implements codeexec.ToolBridge, routing a sandbox-initiated
// callTool() back through the same federation dispatcher used for ordinary
// client requests, so plugin hooks and pooled upstream calls apply
// identically regardless of who issued the call.
func (c *codeExecDispatcher) InvokeTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	uc, ok := identity.FromContext(ctx)
	if !ok {
		return nil, gwerrors.New(gwerrors.Internal, "sandbox tool call missing identity")
	}
	requestID := fmt.Sprintf("sandbox:%s:%d", name, len(args))
	return c.bridge.InvokeTool(ctx, name, args, uc, "", requestID)
}
