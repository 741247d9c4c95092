package viewer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce collects bursts of writes (editors often write, chmod and
// rename) into one reload.
var reloadDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes and passes the reloaded
// config to apply. The parent directory is watched so that atomic
// rename-over saves are seen. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, logger zerolog.Logger, apply func(Config)) error {
	if path == "" {
		return fmt.Errorf("watch: no config file in use")
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	logger = logger.With().Str("component", "config-watch").Logger()
	go watchLoop(ctx, watcher, path, logger, apply)

	logger.Info().Str("file", path).Msg("watching config for changes")
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, logger zerolog.Logger, apply func(Config)) {
	defer watcher.Close()

	var mu sync.Mutex
	var timer *time.Timer

	reload := func() {
		cfg, err := LoadConfig(path)
		if err != nil {
			logger.Error().Err(err).Msg("config reload failed, keeping current settings")
			return
		}
		logger.Info().Msg("config reloaded")
		apply(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("watcher error")
		}
	}
}
