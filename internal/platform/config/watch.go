package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	dErrors "kanon/pkg/domain-errors"
)

// reloadDebounce coalesces the burst of events one editor save produces.
const reloadDebounce = 200 * time.Millisecond

// LiveProfile holds the profile currently in force. Reads never block a
// reload.
type LiveProfile struct {
	current atomic.Pointer[Profile]
}

// NewLiveProfile starts with p in force.
func NewLiveProfile(p *Profile) *LiveProfile {
	l := &LiveProfile{}
	l.current.Store(p)
	return l
}

// Current returns the profile in force.
func (l *LiveProfile) Current() *Profile {
	return l.current.Load()
}

// Set replaces the profile in force.
func (l *LiveProfile) Set(p *Profile) {
	l.current.Store(p)
}

// Watch reloads the profile at path whenever it changes and passes each
// valid revision to onChange. An invalid revision is logged and the previous
// profile stays in force. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file, since editors and
// config-map mounts replace files by rename.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Profile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "create profile watcher")
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfig, "resolve profile path")
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfig, "watch profile directory")
	}

	timer := time.NewTimer(reloadDebounce)
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
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "profile watcher error", "error", err)
		case <-timer.C:
			p, err := LoadProfile(abs)
			if err != nil {
				logger.ErrorContext(ctx, "profile reload rejected, keeping previous profile",
					"path", abs,
					"error", err,
				)
				continue
			}
			logger.InfoContext(ctx, "profile reloaded", "path", abs, "k", p.K)
			onChange(p)
		}
	}
}
