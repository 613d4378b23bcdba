package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with the new
// configuration. Invalid files are logged and skipped; the previous
// configuration stays in effect. Blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors that
// replace the file by rename keep being tracked.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: failed to watch %s: %w", filepath.Dir(abs), err)
	}

	slog.Info("config: watching for changes", "path", abs)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)

		case <-fire:
			fire = nil
			cfg, err := Load(abs)
			if err != nil {
				slog.Warn("config: reload failed, keeping previous configuration", "path", abs, "error", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)
		}
	}
}

// Diff lists the hot-reloadable settings that differ between old and new.
// Other changes need a restart and are reported separately.
func Diff(old, new *Config) (live []string, restart []string) {
	if old.Target != new.Target {
		live = append(live, fmt.Sprintf("target: %q → %q", old.Target, new.Target))
	}
	if old.Kernel() != new.Kernel() {
		live = append(live, fmt.Sprintf("postprocess: %s → %s", old.Kernel(), new.Kernel()))
	}

	if old.Source.Provider != new.Source.Provider {
		restart = append(restart, "source.provider")
	}
	if fmt.Sprint(old.ExtraTargets) != fmt.Sprint(new.ExtraTargets) {
		restart = append(restart, "extra_targets")
	}
	if old.Compute != new.Compute {
		restart = append(restart, "compute")
	}
	if old.Reconnect != new.Reconnect {
		restart = append(restart, "reconnect")
	}
	if old.Render.DelayFrames != new.Render.DelayFrames {
		restart = append(restart, "render.delay_frames")
	}
	return live, restart
}
