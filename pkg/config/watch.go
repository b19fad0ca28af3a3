package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

// Watch reloads the file at path whenever it changes and passes each
// configuration that loads and validates to onChange. Invalid edits are
// logged and skipped. Watch blocks until ctx is cancelled.
//
// The parent directory is watched so that editors which replace the file
// on save are still seen.
func Watch(ctx context.Context, path string, log *logrus.Entry, onChange func(*Config)) error {
	if path == "" {
		return ErrNoConfigFile
	}
	if log == nil {
		log = observability.Discard()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", target, err)
	}
	log = log.WithField("path", target)
	log.Info("Watching config file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(target)
			if err != nil {
				log.WithError(err).Warn("Ignoring invalid config change")
				continue
			}
			log.Info("Config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}
