package discovery

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/pluginhost/core/internal/logger"
)

// ChangeHandler is invoked whenever a watched root reports a filesystem
// change, with the path of the changed entry; the caller typically re-runs
// Discover and diffs the result into load_one/reload_one calls on the
// supervisor.
type ChangeHandler func(root string)

// Watch starts an optional push-based discovery trigger on the configured
// roots (spec §4.2's walk remains the always-available, restartable path;
// this supplements it with a live trigger, enrichment from the wider Go
// ecosystem rather than anything in the teacher, which only ever polls).
// Watch blocks until ctx is cancelled or the watcher fails to start.
func (p *Pipeline) Watch(ctx context.Context, onChange ChangeHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range p.cfg.Roots {
		if err := watcher.Add(root); err != nil {
			logger.Discovery().Warn().Str("root", root).Err(err).Msg("watch: failed to add root")
			continue
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				onChange(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Discovery().Warn().Err(err).Msg("watch error")
		}
	}
}
