package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchSources reloads the sources file whenever it changes and passes the
// new list to onChange. A file that fails to parse is logged and the
// previous list stays in effect. The parent directory is watched so that
// editors replacing the file by rename are noticed. Call the returned stop
// function to clean up.
func WatchSources(path string, onChange func([]SourceSpec), logger *slog.Logger) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sources watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("sources watcher add %s: %w", path, err)
	}
	target := filepath.Clean(path)

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				specs, err := LoadSources(path)
				if err != nil {
					logger.Warn("sources file reload failed, keeping previous sources", "path", path, "error", err)
					continue
				}
				logger.Info("sources file reloaded", "path", path, "sources", len(specs))
				onChange(specs)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("sources watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
