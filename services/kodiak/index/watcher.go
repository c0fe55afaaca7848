// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the snapshot watcher waits for writes to
// settle before firing. A save renames two artifacts in quick succession;
// the window collapses them into one reload.
const DefaultWatchDebounce = 500 * time.Millisecond

// SnapshotWatcher watches a snapshot directory and fires a handler when a
// new snapshot has settled on disk.
//
// # Description
//
// The server uses this to pick up snapshots written by another process
// (typically CLI ingestion): when either snapshot artifact changes, the
// handler is invoked once after the debounce window passes without further
// writes. Temporary and lock files are ignored.
//
// # Thread Safety
//
// Safe for concurrent use. The handler runs on a single goroutine.
type SnapshotWatcher struct {
	dir      string
	handler  func()
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewSnapshotWatcher creates a watcher over the given snapshot directory.
// The handler is called after changes settle; it must be non-nil.
func NewSnapshotWatcher(dir string, handler func(), logger *slog.Logger) (*SnapshotWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SnapshotWatcher{
		dir:      dir,
		handler:  handler,
		debounce: DefaultWatchDebounce,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The watcher runs until Stop is called or the
// context is canceled.
func (w *SnapshotWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.loop(ctx)
	w.logger.Info("snapshot watcher started", slog.String("dir", w.dir))
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *SnapshotWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

// loop collects artifact events and fires the handler after the debounce
// window passes without further writes.
func (w *SnapshotWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isArtifact(event.Name) {
				continue
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename) {
				arm()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("snapshot watcher error", slog.String("error", err.Error()))
		case <-timerC:
			w.logger.Info("snapshot change settled, reloading", slog.String("dir", w.dir))
			w.handler()
		}
	}
}

// isArtifact reports whether the path names one of the snapshot artifacts.
func (w *SnapshotWatcher) isArtifact(path string) bool {
	switch filepath.Base(path) {
	case VectorsFile, MetadataFile:
		return true
	default:
		return false
	}
}
