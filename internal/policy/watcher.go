package policy

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the rulebook when a .rego file changes. Reloads go
// through Engine.Reload, which swaps the compiled ruleset atomically, so
// in-flight evaluations are never observed mid-update.
type Watcher struct {
	engine   Engine
	dir      string
	logger   *zap.Logger
	debounce time.Duration
}

// NewWatcher prepares a rulebook watcher over dir.
func NewWatcher(engine Engine, dir string, logger *zap.Logger) *Watcher {
	return &Watcher{
		engine:   engine,
		dir:      dir,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until the context is cancelled. Editors produce bursts of
// write events, so changes are debounced before reloading.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("Watching rulebook directory", zap.String("dir", w.dir))

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(filepath.Ext(event.Name), ".rego") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Rulebook watcher error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.engine.Reload(); err != nil {
				// Keep serving the previous ruleset on a bad edit.
				w.logger.Error("Rulebook reload failed, keeping previous ruleset", zap.Error(err))
				continue
			}
			w.logger.Info("Rulebook reloaded")
		}
	}
}
