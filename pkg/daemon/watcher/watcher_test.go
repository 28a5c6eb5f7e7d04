package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", p, err)
		}
	}
}

// changeRecorder collects ChangeFunc calls.
type changeRecorder struct {
	mu    sync.Mutex
	roots []string
	paths []string
	ch    chan struct{}
}

func newRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 64)}
}

func (r *changeRecorder) record(root, path string, _ fsnotify.Op) {
	r.mu.Lock()
	r.roots = append(r.roots, root)
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	select {
	case r.ch <- struct{}{}:
	default:
	}
}

func (r *changeRecorder) waitFor(t *testing.T, path string) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		var roots []string
		for i, p := range r.paths {
			if p == path {
				roots = append(roots, r.roots[i])
			}
		}
		r.mu.Unlock()
		if len(roots) > 0 {
			return roots
		}
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("no change reported for %s", path)
		}
	}
}

func TestWatch(t *testing.T) {
	w := newWatcher(t)

	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	mkdirs(t, sub)

	if err := w.Watch(root); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	w.mu.RLock()
	rootTracked := w.paths[root]
	subTracked := w.paths[sub]
	w.mu.RUnlock()

	if !rootTracked || !subTracked {
		t.Errorf("Watch() tracked root=%v sub=%v, want both", rootTracked, subTracked)
	}
	if got := w.WatchCount(); got != 3 {
		t.Errorf("WatchCount() = %d, want 3", got)
	}
	if !w.IsWatched(root) {
		t.Error("IsWatched(root) = false")
	}
	if w.IsWatched(sub) {
		t.Error("IsWatched(sub) = true, only roots are watched roots")
	}
}

func TestWatchNonExistent(t *testing.T) {
	w := newWatcher(t)

	if err := w.Watch("/nonexistent/path/that/does/not/exist"); err == nil {
		t.Error("Watch() should return error for non-existent path")
	}
}

func TestWatchFileIsIgnored(t *testing.T) {
	w := newWatcher(t)

	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(file); err != nil {
		t.Fatalf("Watch(file) error = %v", err)
	}
	if len(w.Roots()) != 0 {
		t.Errorf("Roots() = %v, want none", w.Roots())
	}
}

func TestUnwatch(t *testing.T) {
	w := newWatcher(t)

	root := t.TempDir()
	mkdirs(t, filepath.Join(root, "sub"))

	if err := w.Watch(root); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	w.Unwatch(root)

	if got := w.WatchCount(); got != 0 {
		t.Errorf("WatchCount() after Unwatch = %d, want 0", got)
	}
	if len(w.Roots()) != 0 {
		t.Errorf("Roots() after Unwatch = %v", w.Roots())
	}
}

func TestUnwatchKeepsEnclosingRoot(t *testing.T) {
	w := newWatcher(t)

	outer := t.TempDir()
	inner := filepath.Join(outer, "inner")
	mkdirs(t, filepath.Join(inner, "deep"))

	if err := w.Watch(outer); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(inner); err != nil {
		t.Fatal(err)
	}
	w.Unwatch(inner)

	if got := w.WatchCount(); got != 3 {
		t.Errorf("WatchCount() = %d, want 3 still covered by %s", got, outer)
	}
	if got := w.Roots(); !slices.Equal(got, []string{outer}) {
		t.Errorf("Roots() = %v, want [%s]", got, outer)
	}
}

func TestRootsFor(t *testing.T) {
	w := newWatcher(t)

	outer := t.TempDir()
	inner := filepath.Join(outer, "inner")
	mkdirs(t, inner)
	_ = w.Watch(outer)
	_ = w.Watch(inner)

	tests := []struct {
		path string
		want []string
	}{
		{filepath.Join(inner, "x"), []string{outer, inner}},
		{filepath.Join(outer, "x"), []string{outer}},
		{outer + "-sibling", nil},
	}
	for _, tt := range tests {
		if got := w.RootsFor(tt.path); !slices.Equal(got, tt.want) {
			t.Errorf("RootsFor(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRun_ReportsChanges(t *testing.T) {
	w := newWatcher(t)

	root := t.TempDir()
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	go w.Run(ctx, rec.record)

	file := filepath.Join(root, "new.txt")
	if err := os.WriteFile(file, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	roots := rec.waitFor(t, file)
	if roots[0] != root {
		t.Errorf("change reported for root %q, want %q", roots[0], root)
	}
}

func TestRun_WatchesNewDirectories(t *testing.T) {
	w := newWatcher(t)

	root := t.TempDir()
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	go w.Run(ctx, rec.record)

	dir := filepath.Join(root, "newdir")
	mkdirs(t, dir)
	rec.waitFor(t, dir)

	// Wait for the watch on the new directory before writing into it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.RLock()
		ok := w.paths[dir]
		w.mu.RUnlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new directory was not watched")
		}
		time.Sleep(10 * time.Millisecond)
	}

	file := filepath.Join(dir, "inside.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, file)
}

func TestRun_RemovedDirectoryIsUnwatched(t *testing.T) {
	w := newWatcher(t)

	root := t.TempDir()
	dir := filepath.Join(root, "gone")
	mkdirs(t, filepath.Join(dir, "child"))
	if err := w.Watch(root); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	go w.Run(ctx, rec.record)

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, dir)

	deadline := time.Now().Add(2 * time.Second)
	for w.WatchCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("WatchCount() = %d after removal, want 1", w.WatchCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := newWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, nil)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestClose(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	// Watching after close is a no-op.
	if err := w.Watch(t.TempDir()); err != nil {
		t.Errorf("Watch() after Close error = %v", err)
	}
}
