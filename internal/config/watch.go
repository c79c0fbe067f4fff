package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file's tool enable-flags table on change and
// hands the refreshed map to a callback. It deliberately only reacts to the
// [tools.*] table, not to the whole file: reloading tool *code* is a
// Non-goal, but reloading which tools are turned on is not.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(map[string]ToolConfig)
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching path for writes and invokes onChange with the
// freshly decoded tool table whenever the file changes and reparses
// cleanly. Parse errors are logged and the previous table is kept.
func NewWatcher(path string, logger *slog.Logger, onChange func(map[string]ToolConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{path: path, logger: logger, onChange: onChange, watcher: fw}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.logger != nil {
					w.logger.Warn("config reload failed, keeping previous tool table", "error", err)
				}
				continue
			}
			if w.logger != nil {
				w.logger.Info("tool enable-flags reloaded", "path", w.path)
			}
			w.onChange(cfg.Tools)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", "error", err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
