package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpfed/gateway/pkg/log"
)

// Watch starts a background fsnotify watch on the config file's directory
// (editors replace files rather than writing in place, so the directory
// must be watched, not the file itself) and reloads on every write/create
// event targeting the file, until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Logf("config file changed, reloading: %s", event.Name)
					w.Reload()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Logf("config watch error: %v", werr)
			}
		}
	}()
	return nil
}
