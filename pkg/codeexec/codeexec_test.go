package codeexec

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/cache"
)

func testCatalog() Catalog {
	return ResolveMountFilter(
		[]ToolDescriptor{{Name: "search", Server: "docs", Tags: []string{"read"}, JSDoc: "function search() {}"}},
		MountRules{},
		[]SkillDescriptor{{Name: "readme.md", Content: "# how to search"}},
		"team:eng",
	)
}

// TestDeterministicSessionIDStableAcrossWorkers exercises the testable
// property from spec.md §8 scenario 5: two independent RootDir calls
// (standing in for two workers) derive the identical session_id and root
// path for the same (server, user, language) tuple, with the email
// compared case-insensitively.
func TestDeterministicSessionIDStableAcrossWorkers(t *testing.T) {
	idA, rootA := RootDir("/var/codeexec", "docs-server", "Alice@Example.com", "javascript")
	idB, rootB := RootDir("/var/codeexec", "docs-server", "alice@example.com", "javascript")
	assert.Equal(t, idA, idB)
	assert.Equal(t, rootA, rootB)
}

func TestEnsureSessionConcurrentWorkersMaterializeOnce(t *testing.T) {
	base := t.TempDir()
	shared := cache.NewMemoryCache()

	mgrA := NewManager(base, shared)
	mgrB := NewManager(base, shared)
	catalog := testCatalog()

	ctx := context.Background()
	sessA, err := mgrA.EnsureSession(ctx, "docs-server", "alice@example.com", "javascript", catalog)
	require.NoError(t, err)
	sessB, err := mgrB.EnsureSession(ctx, "docs-server", "alice@example.com", "javascript", catalog)
	require.NoError(t, err)

	assert.Equal(t, sessA.SessionID, sessB.SessionID)
	assert.Equal(t, sessA.RootDir, sessB.RootDir)
	assert.Equal(t, sessA.ContentHash, sessB.ContentHash)

	entries, err := os.ReadDir(sessA.RootDir + "/tools")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "search.js", entries[0].Name())
}

func TestFSBrowseConfinedToSessionRoot(t *testing.T) {
	base := t.TempDir()
	mgr := NewManager(base, cache.NewMemoryCache())
	sess, err := mgr.EnsureSession(context.Background(), "docs-server", "bob@example.com", "javascript", testCatalog())
	require.NoError(t, err)

	listing, err := FSBrowse(sess.RootDir, "tools", FSBrowseList)
	require.NoError(t, err)
	assert.Contains(t, listing["entries"], "search.js")

	read, err := FSBrowse(sess.RootDir, "tools/search.js", FSBrowseRead)
	require.NoError(t, err)
	assert.Contains(t, read["content"], "function search")

	_, err = FSBrowse(sess.RootDir, "../../etc/passwd", FSBrowseRead)
	require.Error(t, err)
}

type fakeBridge struct {
	calls int
}

func (b *fakeBridge) InvokeTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	b.calls++
	return map[string]any{"ok": true, "tool": name}, nil
}

func TestToolCallPermissionsEnforceAllowlistAndDepth(t *testing.T) {
	perms := ToolCallPermissions{Allowlist: []string{"search"}, MaxDepth: 2}
	assert.True(t, perms.allowed("search"))
	assert.False(t, perms.allowed("delete_everything"))

	bridge := &fakeBridge{}
	call := newBridgedToolCall(context.Background(), bridge, perms)

	_, err := call("search", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, bridge.calls)

	_, err = call("delete_everything", nil)
	require.Error(t, err)

	deep := newBridgedToolCall(withDepth(context.Background(), 2), bridge, perms)
	_, err = deep("search", nil)
	require.Error(t, err)
	assert.Equal(t, 1, bridge.calls)
}

func TestTokenizeRoundTripsPIIWithinSession(t *testing.T) {
	store := NewTokenStore()
	original := "contact alice@example.com or 555-123-4567"
	tokenized := store.Tokenize(original)
	assert.NotContains(t, tokenized, "alice@example.com")
	assert.NotContains(t, tokenized, "555-123-4567")

	restored := store.Detokenize(tokenized)
	assert.Equal(t, original, restored)
}

func TestPurgeTokenStoreDropsMapping(t *testing.T) {
	const sessionID = "sess-purge-test"
	store := TokenStoreFor(sessionID)
	tokenized := store.Tokenize("reach me at bob@example.com")
	PurgeTokenStore(sessionID)

	fresh := TokenStoreFor(sessionID)
	assert.Equal(t, tokenized, fresh.Detokenize(tokenized), "mapping should be gone after purge, token left unresolved")
}

func TestShellExecRejectsDangerousPattern(t *testing.T) {
	policy := SandboxPolicy{DangerousPatterns: []string{`require\(.*child_process`}}
	_, err := ShellExec(context.Background(), `require("child_process").exec("rm -rf /")`, "javascript", policy, nil, ToolCallPermissions{})
	require.Error(t, err)
}

func TestShellExecRunsSimpleExpression(t *testing.T) {
	policy := SandboxPolicy{}
	result, err := ShellExec(context.Background(), `console.log("hello"); 1+1`, "javascript", policy, nil, ToolCallPermissions{})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hello")
}
