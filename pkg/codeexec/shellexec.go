package codeexec

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

// SandboxPolicy bounds a shell_exec invocation (spec.md §4.8).
type SandboxPolicy struct {
	AllowRawHTTP    bool
	WallClock       time.Duration
	MaxOutputBytes  int
	DangerousPatterns []string // language-specific denylist, e.g. `require\(.?child_process`
}

func defaultWallClock(p SandboxPolicy) time.Duration {
	if p.WallClock > 0 {
		return p.WallClock
	}
	return 30 * time.Second
}

// ToolBridge is the callback shell_exec uses to route sandbox-invoked tool
// calls back through C6's invoke_tool (spec.md §4.8 "Tool bridge").
type ToolBridge interface {
	InvokeTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ShellExecResult captures captured stdout/stderr/exit per spec.md §4.8.
type ShellExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellExec runs code in the goja in-process JS VM — the fallback runtime
// when no external Deno/Python executor is configured (SPEC_FULL.md's
// DOMAIN STACK). Only "javascript" is supported by this in-process
// runtime; ShellExec rejects any other language itself.
//
// Dangerous-pattern checks and the tool-call bridge's allow/deny pattern
// matching run before and during execution respectively.
func ShellExec(ctx context.Context, code, language string, policy SandboxPolicy, bridge ToolBridge, permissions ToolCallPermissions) (*ShellExecResult, error) {
	if language != "javascript" {
		return nil, gwerrors.New(gwerrors.Internal, "unsupported sandbox language: "+language)
	}
	for _, pattern := range policy.DangerousPatterns {
		re, err := regexp.Compile(pattern)
		if err == nil && re.MatchString(code) {
			return nil, gwerrors.New(gwerrors.PolicyViolation, "code matched a denied pattern").WithDetail(map[string]any{"pattern": pattern})
		}
	}

	result := &ShellExecResult{}
	done := make(chan error, 1)

	go func() {
		vm := goja.New()
		var stdout, stderr []byte
		_ = vm.Set("console", map[string]any{
			"log": func(args ...any) { stdout = append(stdout, []byte(fmt.Sprintln(args...))...) },
			"error": func(args ...any) { stderr = append(stderr, []byte(fmt.Sprintln(args...))...) },
		})
		if bridge != nil {
			_ = vm.Set("callTool", newBridgedToolCall(ctx, bridge, permissions))
		}

		wrapped := "(() => {\n" + code + "\n})()"
		v, err := vm.RunString(wrapped)
		if err != nil {
			stderr = append(stderr, []byte(err.Error())...)
			result.ExitCode = 1
		} else if v != nil {
			if exported := v.Export(); exported != nil {
				stdout = append(stdout, []byte(fmt.Sprintf("%v", exported))...)
			}
		}
		result.Stdout = capTo(string(stdout), policy.MaxOutputBytes)
		result.Stderr = capTo(string(stderr), policy.MaxOutputBytes)
		done <- nil
	}()

	select {
	case <-done:
		return result, nil
	case <-time.After(defaultWallClock(policy)):
		return nil, gwerrors.New(gwerrors.Internal, "sandbox wall-clock exceeded")
	case <-ctx.Done():
		return nil, gwerrors.Wrap(gwerrors.Cancelled, ctx.Err(), "sandbox cancelled")
	}
}

func capTo(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
