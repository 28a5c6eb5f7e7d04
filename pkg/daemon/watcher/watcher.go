// Package watcher notices filesystem changes under indexed roots so the
// daemon can mark their snapshots dirty and rebuild them.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/store"
)

// ChangeFunc is called for every event with each watched root covering the
// changed path.
type ChangeFunc func(root, path string, op fsnotify.Op)

// Watcher watches directory trees for changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     *log.Logger

	mu     sync.RWMutex
	roots  map[string]bool
	paths  map[string]bool
	closed bool
}

// New creates a new Watcher.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher: fsw,
		log:     logging.Get("watcher"),
		roots:   make(map[string]bool),
		paths:   make(map[string]bool),
	}, nil
}

// Watch starts watching root and every directory beneath it. Symlinks are
// not followed. Directories that cannot be watched are logged and skipped.
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

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.roots[absRoot] = true
	w.mu.Unlock()

	if err := w.addTree(absRoot); err != nil {
		return err
	}
	w.log.Debug("watching", "root", absRoot, "directories", w.WatchCount())
	return nil
}

// addTree adds watches for dir and its subdirectories.
func (w *Watcher) addTree(dir string) error {
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable directories are not watched
		}
		if d.IsDir() {
			_ = w.addWatch(path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fastwalk.ErrSkipFiles) {
		return err
	}
	return nil
}

// addWatch adds a single directory to the watch list.
func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		w.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}

	w.paths[path] = true
	return nil
}

// Unwatch stops watching root and all its subdirectories that no other
// watched root still covers.
func (w *Watcher) Unwatch(root string) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	delete(w.roots, absRoot)
	for path := range w.paths {
		if !store.IsUnder(path, absRoot) || w.coveredLocked(path) {
			continue
		}
		_ = w.watcher.Remove(path)
		delete(w.paths, path)
	}
}

func (w *Watcher) coveredLocked(path string) bool {
	for r := range w.roots {
		if store.IsUnder(path, r) {
			return true
		}
	}
	return false
}

// Roots returns the watched roots, sorted.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// IsWatched reports whether root itself is a watched root.
func (w *Watcher) IsWatched(root string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.roots[root]
}

// RootsFor returns the watched roots at or above path, sorted.
func (w *Watcher) RootsFor(path string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []string
	for r := range w.roots {
		if store.IsUnder(path, r) {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// WatchCount returns the number of watched directories.
func (w *Watcher) WatchCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.paths)
}

// Run starts the event loop. It blocks until the context is cancelled or
// the watcher is closed.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

// handleEvent keeps the watch list in step with the tree and reports the
// change.
func (w *Watcher) handleEvent(event fsnotify.Event, onChange ChangeFunc) {
	switch {
	case event.Op&fsnotify.Create != 0:
		w.handleCreate(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename shows up as a remove here and a create at the new name.
		w.handleRemove(event.Name)
	}

	if event.Op == fsnotify.Chmod || onChange == nil {
		return
	}
	for _, root := range w.RootsFor(event.Name) {
		onChange(root, event.Name, event.Op)
	}
}

// handleCreate watches a new directory and anything created inside it
// before the watch was in place.
func (w *Watcher) handleCreate(path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = w.addTree(path)
}

// handleRemove drops the watches of a removed directory and its children.
func (w *Watcher) handleRemove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for p := range w.paths {
		if store.IsUnder(p, path) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.paths = make(map[string]bool)
	w.roots = make(map[string]bool)
	return w.watcher.Close()
}
