package hooks

import (
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds an Engine that is swapped atomically whenever the backing
// hooks file changes on disk, so a long-running host never has to restart
// to pick up an edited hooks.yaml.
type Watcher struct {
	path    string
	current atomic.Pointer[Engine]
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher loads path once via Load, then watches its parent directory
// for writes/creates/renames targeting path, reloading the Engine on each
// change. A reload that fails to parse is logged and the previous Engine
// stays active rather than being torn down.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	eng, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, logger: logger}
	w.current.Store(eng)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			eng, err := Load(w.path)
			if err != nil {
				w.logger.Warn("hooks reload failed, keeping previous engine", "path", w.path, "error", err)
				continue
			}
			w.current.Store(eng)
			w.logger.Info("hooks reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("hooks watcher error", "error", err)
		}
	}
}

// Engine returns the currently active Engine. Safe for concurrent use with
// reloads.
func (w *Watcher) Engine() *Engine {
	return w.current.Load()
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
