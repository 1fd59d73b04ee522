package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configReloadDebounce absorbs the burst of events editors produce for a
// single save (truncate + write, or write-to-temp + rename).
const configReloadDebounce = 200 * time.Millisecond

// watchConfigFile reloads path whenever it changes and sends the new throttle
// tunables to the daemon as ConfigReloaded. Flag overrides are re-applied on
// top of every reload, as at startup. Invalid rewrites are logged and
// skipped; the daemon keeps its previous tunables.
//
// The containing directory is watched rather than the file itself, so
// atomic rename-over saves are still seen.
func watchConfigFile(ctx context.Context, path string, overrides FlagOverrides, out chan<- Event, logger *slog.Logger) error {
	path = filepath.Clean(ExpandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("watching config file", "path", path)

	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(configReloadDebounce)

		case <-debounce.C:
			cfg, err := LoadConfigFile(path)
			if err == nil {
				overrides.Apply(&cfg)
				err = cfg.Validate()
			}
			if err != nil {
				logger.Warn("config reload rejected; keeping previous settings", "path", path, "error", err)
				continue
			}

			select {
			case out <- ConfigReloaded{Throttle: cfg.ToThrottleConfig()}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
