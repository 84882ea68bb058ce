// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long to wait after a change before reloading, so a
// save that arrives as several filesystem events triggers one reload.
const reloadDebounce = 200 * time.Millisecond

// OverrideWatcher hot-reloads a guardrail pattern override file.
//
// # Description
//
// Watches the directory containing the override file (editors typically
// replace files via rename, which drops a watch on the file itself) and
// reloads the guardrail when the file changes. A reload that fails leaves
// the previous catalog active.
//
// # Thread Safety
//
// Start should only be called once. Reloads go through the guardrail's
// atomic swap.
type OverrideWatcher struct {
	path    string
	guard   *Guardrail
	watcher *fsnotify.Watcher
}

// NewOverrideWatcher creates a watcher that keeps guard in sync with the
// override file at path. The file does not need to exist yet; it is loaded
// when it first appears.
func NewOverrideWatcher(path string, guard *Guardrail) (*OverrideWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &OverrideWatcher{
		path:    path,
		guard:   guard,
		watcher: watcher,
	}, nil
}

// Start begins watching. Blocks until the context is cancelled; run it in a
// goroutine. An existing override file is loaded immediately on start.
func (w *OverrideWatcher) Start(ctx context.Context) {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		slog.Warn("Failed to watch pattern override directory",
			"dir", dir,
			"error", err)
		return
	}

	if err := w.guard.ReloadFromFile(w.path); err == nil {
		slog.Info("Loaded guardrail pattern override", "path", w.path)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.guard.ReloadFromFile(w.path); err != nil {
				slog.Warn("Guardrail pattern reload failed, keeping previous patterns",
					"path", w.path,
					"error", err)
			} else {
				slog.Info("Reloaded guardrail patterns", "path", w.path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Pattern override watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("Pattern override watcher stopping")
			return
		}
	}
}

// Stop stops the watcher. Safe to call multiple times.
func (w *OverrideWatcher) Stop() error {
	return w.watcher.Close()
}
