package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittocache/internal/logger"
)

// Watch reloads the file at path whenever it is written or replaced and
// passes the new configuration to onChange. A file that fails to load is
// logged and skipped. Watch blocks until ctx is done.
//
// The directory is watched rather than the file so editors that save by
// rename are picked up.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Warn("Ignoring invalid configuration change", logger.KeyPath, path, logger.Err(err))
				continue
			}
			logger.Debug("Configuration reloaded", logger.KeyPath, path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// ApplyLogLevel is a Watch callback that applies the logging level of the
// reloaded configuration.
func ApplyLogLevel(cfg *Config) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		logger.Warn("Invalid log level in configuration", "level", cfg.Logging.Level, logger.Err(err))
		return
	}
	logger.Info("Log level changed", "level", cfg.Logging.Level)
}
