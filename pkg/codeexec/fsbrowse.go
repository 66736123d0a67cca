package codeexec

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

// FSBrowseOp is one of the ops fs_browse supports.
type FSBrowseOp string

const (
	FSBrowseList FSBrowseOp = "list"
	FSBrowseRead FSBrowseOp = "read"
	FSBrowseStat FSBrowseOp = "stat"
)

// FSBrowse implements the fs_browse meta-tool, confined to root; any path
// traversal escaping root is rejected (spec.md §4.8).
func FSBrowse(root, relPath string, op FSBrowseOp) (map[string]any, error) {
	target, err := confine(root, relPath)
	if err != nil {
		return nil, err
	}
	switch op {
	case FSBrowseList:
		entries, err := os.ReadDir(target)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.NotFound, err, "list failed")
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return map[string]any{"entries": names}, nil
	case FSBrowseRead:
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.NotFound, err, "read failed")
		}
		return map[string]any{"content": string(data)}, nil
	case FSBrowseStat:
		info, err := os.Stat(target)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.NotFound, err, "stat failed")
		}
		return map[string]any{"size": info.Size(), "is_dir": info.IsDir(), "mod_time": info.ModTime()}, nil
	default:
		return nil, gwerrors.New(gwerrors.Internal, "unknown fs_browse op: "+string(op))
	}
}

// confine resolves relPath against root and rejects any result that
// escapes root, including via ".." components or symlink-free traversal.
func confine(root, relPath string) (string, error) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.Internal, err, "resolve session root")
	}
	joined := filepath.Join(cleanRoot, relPath)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(os.PathSeparator)) {
		return "", gwerrors.New(gwerrors.Forbidden, "path escapes session root")
	}
	return joined, nil
}
