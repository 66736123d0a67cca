// Package codeexec implements C8: deterministic per-user sandbox sessions
// with a virtual filesystem shared across workers, a Redis-backed cluster
// registry (graceful in-memory fallback), and a bridge back into C6's
// invoke_tool for sandbox-initiated tool calls.
package codeexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/gwerrors"
)

const defaultSessionTTL = 900 * time.Second

// Session is the deterministic per-(server, user, language) sandbox
// session (spec.md §3 "Code-Execution Session").
type Session struct {
	SessionID   string
	RootDir     string
	ContentHash string
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// DeterministicID computes the 24-hex-char session ID from the tuple,
// the same for every worker (spec.md §4.8, testable property "Deterministic
// code-exec paths"). The email is lowercased first, as Slug does, so
// addresses that differ only in case map to the same session.
func DeterministicID(serverID, userEmail, language string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", serverID, strings.ToLower(userEmail), language)))
	return hex.EncodeToString(sum[:])[:24]
}

// Slug lowercases and replaces path-unsafe characters in an email for use
// as a directory component.
func Slug(email string) string {
	s := strings.ToLower(email)
	replacer := strings.NewReplacer("@", "_at_", ".", "_", "+", "_", "/", "_")
	return replacer.Replace(s)
}

// RootDir computes the deterministic session root path under baseDir.
func RootDir(baseDir, serverID, userEmail, language string) (sessionID, root string) {
	sessionID = DeterministicID(serverID, userEmail, language)
	root = filepath.Join(baseDir, serverID, Slug(userEmail), sessionID)
	return
}

// Manager owns session creation, the virtual filesystem layout, and the
// cluster registry.
type Manager struct {
	BaseDir string
	Cache   cache.Cache
	TTL     time.Duration
}

func NewManager(baseDir string, c cache.Cache) *Manager {
	return &Manager{BaseDir: baseDir, Cache: c, TTL: defaultSessionTTL}
}

func (m *Manager) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return defaultSessionTTL
}

func registryKey(serverID, userSlug, language string) string {
	return fmt.Sprintf("code_exec_session:%s:%s:%s", serverID, userSlug, language)
}

type registryValue struct {
	SessionID   string    `json:"session_id"`
	ContentHash string    `json:"content_hash"`
	LastUsedAt  time.Time `json:"last_used_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// vfsDirs are the four subtrees under a session root (spec.md §4.8).
var vfsDirs = []string{"tools", "skills", "scratch", "results"}

// EnsureSession implements the deterministic-path + concurrent-init half
// of C8: computes the session root, takes the advisory lock only if no
// registry entry with a matching content hash exists, and materializes the
// virtual filesystem layout.
func (m *Manager) EnsureSession(ctx context.Context, serverID, userEmail, language string, catalog Catalog) (*Session, error) {
	sessionID, root := RootDir(m.BaseDir, serverID, userEmail, language)
	contentHash := catalog.Hash()
	key := registryKey(serverID, Slug(userEmail), language)

	existing, found, err := m.lookupRegistry(ctx, key)
	if err != nil {
		return nil, err
	}
	if found && existing.ContentHash == contentHash {
		_ = m.Cache.Expire(ctx, key, m.ttl())
		return &Session{SessionID: sessionID, RootDir: root, ContentHash: contentHash, CreatedAt: existing.CreatedAt, LastUsedAt: time.Now()}, nil
	}

	if err := m.withLock(ctx, root, func() error {
		return m.materialize(root, catalog)
	}); err != nil {
		return nil, err
	}

	now := time.Now()
	val := registryValue{SessionID: sessionID, ContentHash: contentHash, LastUsedAt: now, CreatedAt: now}
	if existing != nil {
		val.CreatedAt = existing.CreatedAt
	}
	if err := m.storeRegistry(ctx, key, val); err != nil {
		return nil, err
	}
	return &Session{SessionID: sessionID, RootDir: root, ContentHash: contentHash, CreatedAt: val.CreatedAt, LastUsedAt: now}, nil
}

func (m *Manager) lookupRegistry(ctx context.Context, key string) (*registryValue, bool, error) {
	raw, ok, err := m.Cache.Get(ctx, key)
	if err != nil {
		return nil, false, gwerrors.Wrap(gwerrors.Internal, err, "code-exec registry lookup")
	}
	if !ok {
		return nil, false, nil
	}
	var v registryValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *Manager) storeRegistry(ctx context.Context, key string, v registryValue) error {
	b, err := json.Marshal(v)
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "marshal registry value")
	}
	return m.Cache.Set(ctx, key, string(b), m.ttl())
}

// withLock serializes stub generation with an exclusive flock on
// {root}/.session.lock; a worker that finds the lock already held by
// another process polls for it, for up to 10 seconds, rather than
// regenerating concurrently.
func (m *Manager) withLock(ctx context.Context, root string, fn func() error) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "create session root")
	}
	lockPath := filepath.Join(root, ".session.lock")
	lock, err := acquireFileLock(ctx, lockPath, 10*time.Second)
	if err != nil {
		return err
	}
	defer lock.release()
	return fn()
}

// materialize creates the four virtual-filesystem subtrees and writes the
// tool/skill stubs from catalog.
func (m *Manager) materialize(root string, catalog Catalog) error {
	for _, d := range vfsDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return gwerrors.Wrap(gwerrors.Internal, err, "create vfs dir "+d)
		}
	}
	for name, stub := range catalog.ToolStubs() {
		if err := os.WriteFile(filepath.Join(root, "tools", name), []byte(stub), 0o644); err != nil {
			return gwerrors.Wrap(gwerrors.Internal, err, "write tool stub")
		}
	}
	for name, content := range catalog.SkillFiles() {
		if err := os.WriteFile(filepath.Join(root, "skills", name), []byte(content), 0o644); err != nil {
			return gwerrors.Wrap(gwerrors.Internal, err, "write skill file")
		}
	}
	return nil
}
