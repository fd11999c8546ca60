package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file at path whenever it changes and passes the
// result to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors and
// config-map mounts that replace the file by rename keep triggering reloads.
// A reload that fails validation is logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("config: watching for changes", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(abs)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", abs, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// RestartRequired reports whether next differs from prev in settings that are
// fixed at startup: listeners, transports, sinks and the detector and scorer
// configuration. Log level, alert rules and webhooks apply live.
func RestartRequired(prev, next *Config) bool {
	if prev.Server != next.Server || prev.State != next.State || prev.Hub != next.Hub {
		return true
	}
	if prev.MQTT != next.MQTT || prev.Postgres != next.Postgres || prev.Redis != next.Redis {
		return true
	}
	if prev.Scorer != next.Scorer {
		return true
	}
	if prev.Detector.MinDuration != next.Detector.MinDuration ||
		prev.Detector.WindowTTL != next.Detector.WindowTTL ||
		len(prev.Detector.Rules) != len(next.Detector.Rules) {
		return true
	}
	for i := range prev.Detector.Rules {
		if prev.Detector.Rules[i] != next.Detector.Rules[i] {
			return true
		}
	}
	return false
}
