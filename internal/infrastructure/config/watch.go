package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay is how long the file must stay quiet before it is re-read.
// Truncate-then-write saves arrive as several events.
const reloadDelay = 150 * time.Millisecond

// ErrEmptyConfig is returned for a config file with no content, which is
// what a watcher sees between truncation and the rewrite.
var ErrEmptyConfig = errors.New("config file is empty")

// Watch monitors path and calls onChange with the freshly loaded Config
// once the file has settled after a change. It blocks until ctx is
// cancelled.
//
// The parent directory is watched so a save that renames a new file into
// place is seen. A reload that fails to parse or validate, or finds the
// file empty, is logged and skipped; the previous configuration stays in
// effect. Only settings that are safe to change at runtime (the log level)
// are acted on by callers: the adapter set is fixed for the life of the
// process.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	logger.Info("watching config for changes", "path", path)

	settled := make(chan struct{}, 1)
	timer := time.AfterFunc(time.Hour, func() {
		select {
		case settled <- struct{}{}:
		default:
		}
	})
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Editors often save by rename, which shows up as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDelay)

		case <-settled:
			cfg, err := reload(target)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}

func reload(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyConfig
	}
	return parse(data)
}
