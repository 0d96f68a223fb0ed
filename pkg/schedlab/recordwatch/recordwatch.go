// Package recordwatch reports progress records as workers publish them.
//
// Workers write their record once, atomically, when they finish sampling,
// so the appearance of <level dir>/<id>.data means that worker has
// completed its work even before the parent reaps it.
package recordwatch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
)

// Arrival is a progress record that appeared on disk.
type Arrival struct {
	Path     string
	NProc    int
	WorkerID int
}

// Watcher watches a run directory and its level directories.
type Watcher struct {
	watcher *fsnotify.Watcher
	paths   map[string]bool
	mu      sync.RWMutex
	closed  bool
}

// New creates a Watcher.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{watcher: fsw, paths: make(map[string]bool)}, nil
}

// Watch adds root and every directory below it. Level directories created
// later are picked up from their create events, but callers that create a
// level directory and immediately start workers should Watch it first.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.IsDir() {
			return nil
		}
		return w.addWatch(path)
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		logging.Get("recordwatch").Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// Watching reports whether path is watched.
func (w *Watcher) Watching(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[path]
}

// Run delivers arrivals to onArrival until ctx is cancelled or the
// watcher is closed.
func (w *Watcher) Run(ctx context.Context, onArrival func(Arrival)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if a, ok := w.handleCreate(event.Name); ok && onArrival != nil {
				onArrival(a)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get("recordwatch").Error("watcher error", "error", err)
		}
	}
}

// handleCreate watches new level directories and recognises records.
func (w *Watcher) handleCreate(path string) (Arrival, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return Arrival{}, false
	}

	if info.IsDir() {
		if _, ok := results.ParseLevelDir(filepath.Base(path)); ok {
			_ = w.addWatch(path)
		}
		return Arrival{}, false
	}

	id, ok := results.ParseProgressName(filepath.Base(path))
	if !ok {
		return Arrival{}, false
	}
	nproc, ok := results.ParseLevelDir(filepath.Base(filepath.Dir(path)))
	if !ok {
		return Arrival{}, false
	}
	return Arrival{Path: path, NProc: nproc, WorkerID: id}, true
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}
