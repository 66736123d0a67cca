package codeexec

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

// fileLock wraps an advisory exclusive flock held on a session's
// .session.lock file for the duration of stub generation.
type fileLock struct {
	f *os.File
}

// acquireFileLock blocks (honoring ctx and wait) until the exclusive lock
// on path is obtained. A worker that finds the file already locked waits;
// one that finds no contention proceeds immediately.
func acquireFileLock(ctx context.Context, path string, wait time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "open session lock file")
	}

	deadline := time.Now().Add(wait)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, gwerrors.New(gwerrors.Internal, "timed out waiting for session lock")
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, gwerrors.Wrap(gwerrors.Cancelled, ctx.Err(), "session lock wait cancelled")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (l *fileLock) release() {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}
