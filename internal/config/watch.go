package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the config file and signals on the returned channel each
// time a write completes. Metadata-only events are ignored. The channel
// has capacity 1 and notifications are dropped while one is pending, so a
// burst of filesystem events collapses into a single signal.
//
// Editors that replace the file atomically (rename over it) briefly make
// the watched path disappear; the watch is re-armed when that happens.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	changed := make(chan struct{}, 1)

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
				switch {
				case event.Op.Has(fsnotify.Write):
					logger.Debug("config file changed", "path", event.Name)
					notify(changed)
				case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
					// Atomic save: wait for the new file, then re-arm.
					if rearm(ctx, watcher, path) {
						logger.Debug("config watch re-armed", "path", path)
						notify(changed)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watch error", "error", err)
			}
		}
	}()

	return changed, nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func rearm(ctx context.Context, watcher *fsnotify.Watcher, path string) bool {
	for i := 0; i < 20; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
		if err := watcher.Add(path); err == nil {
			return true
		}
	}
	return false
}
