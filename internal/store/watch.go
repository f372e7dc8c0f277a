package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce coalesces bursts of writes (the WAL and the main
// file usually change together) into one notification.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch calls onChange whenever the database at dbPath, or its write-ahead
// log, is written. It blocks until ctx is cancelled. Watcher errors are
// logged to logger and do not stop the watch.
func Watch(ctx context.Context, dbPath string, debounce time.Duration, logger zerolog.Logger, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: SQLite replaces and creates the side files.
	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("store: watch %s: %w", dir, err)
	}

	logger.Debug().Str("dir", dir).Msg("Watching store")

	base := filepath.Base(dbPath)
	relevant := map[string]bool{base: true, base + "-wal": true}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant[filepath.Base(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("path", dbPath).Msg("Store watcher error")
		case <-fire:
			fire = nil
			logger.Debug().Str("path", dbPath).Msg("Store changed")
			onChange()
		}
	}
}
