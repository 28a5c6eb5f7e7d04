package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/progress"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// memTree builds an in-memory tree under /data. Keys ending in "/" are
// directories, everything else is a file with the given content.
func memTree(t *testing.T, layout map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", 0o755))
	for p, content := range layout {
		full := filepath.Join("/data", p)
		if p[len(p)-1] == '/' {
			require.NoError(t, fs.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, fs.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, afero.WriteFile(fs, full, []byte(content), 0o644))
	}
	return fs
}

func newScanner(t *testing.T, fs afero.Fs, mutate func(*Options)) *Scanner {
	t.Helper()
	opts := DefaultOptions()
	opts.Fs = fs
	opts.StatConcurrency = 4
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func paths(entries []types.IndexEntry) []string {
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Path
	}
	return out
}

func TestScan_Basic(t *testing.T) {
	fs := memTree(t, map[string]string{
		"a.txt":        "alpha",
		"b/c.JPG":      "image",
		"b/d/":         "",
		"b/e/f.mp3":    "song",
		".hidden":      "secret",
		".cache/x.bin": "x",
		"noext":        "n",
	})
	s := newScanner(t, fs, nil)

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/a.txt", "/data/b/c.JPG", "/data/b/e/f.mp3", "/data/noext"}, paths(res.Files))
	assert.Equal(t, []string{"/data/b", "/data/b/d", "/data/b/e"}, paths(res.Folders))
	assert.Empty(t, res.Errors)

	assert.Equal(t, "/data", res.Root.Path)
	assert.Equal(t, types.KindDirectory, res.Root.Kind)
	assert.True(t, res.Root.Walked)

	jpg := res.Files[1]
	assert.Equal(t, ".jpg", jpg.Extension)
	assert.Equal(t, "/data/b", jpg.ParentPath)
	assert.Equal(t, "c.JPG", jpg.Name)
	assert.Equal(t, int64(5), jpg.Size)
	assert.True(t, jpg.HasHash())
	assert.Equal(t, "", res.Files[3].Extension)

	for _, f := range res.Folders {
		assert.Zero(t, f.Size)
		assert.Empty(t, f.Extension)
		assert.False(t, f.HasHash())
		assert.True(t, f.Walked, f.Path)
	}
	assert.Equal(t, int64(5+5+4+1), res.TotalSize())
}

func TestScan_IncludeHidden(t *testing.T) {
	fs := memTree(t, map[string]string{
		".hidden":      "secret",
		".cache/x.bin": "x",
	})
	s := newScanner(t, fs, func(o *Options) { o.IncludeHidden = true })

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/.cache/x.bin", "/data/.hidden"}, paths(res.Files))
	assert.Equal(t, []string{"/data/.cache"}, paths(res.Folders))
	assert.Equal(t, "", res.Files[1].Extension)
}

func TestScan_Deterministic(t *testing.T) {
	layout := map[string]string{}
	for i := range 50 {
		layout[fmt.Sprintf("d%02d/f%03d.txt", i%7, i)] = fmt.Sprint(i % 5)
	}
	fs := memTree(t, layout)

	first, err := newScanner(t, fs, func(o *Options) { o.StatConcurrency = 1 }).Scan(context.Background(), "/data")
	require.NoError(t, err)
	second, err := newScanner(t, fs, func(o *Options) { o.StatConcurrency = 32 }).Scan(context.Background(), "/data")
	require.NoError(t, err)

	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, first.Folders, second.Folders)
}

func TestScan_HashSizeLimitBoundary(t *testing.T) {
	fs := memTree(t, map[string]string{
		"at.bin":    "0123456789",
		"over.bin":  "0123456789A",
		"under.bin": "012345678",
		"empty.bin": "",
	})
	s := newScanner(t, fs, func(o *Options) { o.HashSizeLimit = 10 })

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)

	byName := map[string]*types.IndexEntry{}
	for i := range res.Files {
		byName[res.Files[i].Name] = &res.Files[i]
	}
	assert.True(t, byName["at.bin"].HasHash(), "size == limit is hashed")
	assert.True(t, byName["under.bin"].HasHash())
	assert.True(t, byName["empty.bin"].HasHash())
	assert.False(t, byName["over.bin"].HasHash(), "size > limit is not hashed")
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", byName["empty.bin"].ContentHash)
}

func TestHashFile_StopsAtLimit(t *testing.T) {
	fs := memTree(t, map[string]string{
		"small.bin": "0123456789",
		"grown.bin": "0123456789ABCDEF",
	})

	sum, err := hashFile(fs, "/data/small.bin", 10)
	require.NoError(t, err)
	assert.Equal(t, "781e5e245d69b566979b86e28d23f2c7", sum)

	// Stat'ed under the limit, grown before it was read.
	sum, err = hashFile(fs, "/data/grown.bin", 10)
	require.NoError(t, err)
	assert.Empty(t, sum)
}

func TestScan_IdenticalContentSameHash(t *testing.T) {
	fs := memTree(t, map[string]string{
		"a/one.txt": "same bytes",
		"b/two.txt": "same bytes",
		"c/three":   "other bytes",
	})
	res, err := newScanner(t, fs, nil).Scan(context.Background(), "/data")
	require.NoError(t, err)
	require.Len(t, res.Files, 3)

	assert.Equal(t, res.Files[0].ContentHash, res.Files[1].ContentHash)
	assert.NotEqual(t, res.Files[0].ContentHash, res.Files[2].ContentHash)
}

func TestScan_NonRecursive(t *testing.T) {
	fs := memTree(t, map[string]string{
		"top.txt":      "t",
		"sub/deep.txt": "d",
		"sub/inner/":   "",
	})
	s := newScanner(t, fs, func(o *Options) { o.Recurse = false })

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/top.txt"}, paths(res.Files))
	require.Equal(t, []string{"/data/sub"}, paths(res.Folders))
	assert.False(t, res.Folders[0].Walked)
}

func TestScan_MaxDepth(t *testing.T) {
	fs := memTree(t, map[string]string{
		"l1/f1":       "1",
		"l1/l2/f2":    "2",
		"l1/l2/l3/f3": "3",
	})
	s := newScanner(t, fs, func(o *Options) { o.MaxDepth = 2 })

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/l1/f1", "/data/l1/l2/f2"}, paths(res.Files))
	require.Equal(t, []string{"/data/l1", "/data/l1/l2", "/data/l1/l2/l3"}, paths(res.Folders))
	assert.True(t, res.Folders[0].Walked)
	assert.True(t, res.Folders[1].Walked)
	assert.False(t, res.Folders[2].Walked)
}

func TestScan_Exclude(t *testing.T) {
	fs := memTree(t, map[string]string{
		"keep.txt":              "k",
		"tmp/drop.txt":          "d",
		"src/node_modules/x.js": "x",
		"src/main.go":           "m",
		"logs/app.log":          "l",
	})
	s := newScanner(t, fs, func(o *Options) {
		o.Exclude = []string{"tmp", "**/node_modules", "**/*.log"}
	})

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/keep.txt", "/data/src/main.go"}, paths(res.Files))
	assert.Equal(t, []string{"/data/logs", "/data/src"}, paths(res.Folders))
}

func TestNew_InvalidPattern(t *testing.T) {
	opts := DefaultOptions()
	opts.Exclude = []string{"[unclosed"}
	_, err := New(opts)
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestScan_RootUnavailable(t *testing.T) {
	fs := memTree(t, map[string]string{"file.txt": "x"})
	s := newScanner(t, fs, nil)

	_, err := s.Scan(context.Background(), "/missing")
	require.ErrorIs(t, err, types.ErrRootUnavailable)

	_, err = s.Scan(context.Background(), "/data/file.txt")
	require.ErrorIs(t, err, types.ErrRootUnavailable)
	require.ErrorIs(t, err, ErrNotDirectory)
}

// faultyFs fails Open for selected directories and stat for selected paths.
type faultyFs struct {
	afero.Fs
	failOpen map[string]bool
	failStat map[string]bool
}

func (f *faultyFs) Open(name string) (afero.File, error) {
	if f.failOpen[name] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}

func (f *faultyFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	if f.failStat[name] {
		return nil, false, &os.PathError{Op: "lstat", Path: name, Err: os.ErrPermission}
	}
	info, err := f.Fs.Stat(name)
	return info, false, err
}

func TestScan_EntryErrorsAreRecorded(t *testing.T) {
	base := memTree(t, map[string]string{
		"ok.txt":         "fine",
		"locked/in.txt":  "hidden away",
		"flaky.txt":      "x",
		"unhashable.txt": "y",
	})
	fs := &faultyFs{
		Fs:       base,
		failOpen: map[string]bool{"/data/locked": true, "/data/unhashable.txt": true},
		failStat: map[string]bool{"/data/flaky.txt": true},
	}
	s := newScanner(t, fs, nil)

	res, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/ok.txt"}, paths(res.Files))
	require.Equal(t, []string{"/data/locked"}, paths(res.Folders))
	assert.False(t, res.Folders[0].Walked, "unreadable directory is recorded unwalked")

	require.Len(t, res.Errors, 3)
	ops := map[string]string{}
	for _, e := range res.Errors {
		ops[e.Path] = e.Op
	}
	assert.Equal(t, map[string]string{
		"/data/flaky.txt":      "stat",
		"/data/locked":         "readdir",
		"/data/unhashable.txt": "hash",
	}, ops)
}

func TestScan_RootUnreadable(t *testing.T) {
	fs := &faultyFs{Fs: memTree(t, nil), failOpen: map[string]bool{"/data": true}}
	_, err := newScanner(t, fs, nil).Scan(context.Background(), "/data")
	require.ErrorIs(t, err, types.ErrRootUnavailable)
}

func TestScan_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("r"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "dirlink")))

	s := newScanner(t, nil, nil)
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "real.txt")}, paths(res.Files))
	assert.Equal(t, []string{filepath.Join(root, "dir")}, paths(res.Folders))
}

func TestWalk_BatchOrder(t *testing.T) {
	fs := memTree(t, map[string]string{
		"a/x.txt":   "x",
		"a/b/y.txt": "y",
		"c/z.txt":   "z",
	})
	s := newScanner(t, fs, nil)

	var dirs []string
	var depths []int
	sum, err := s.Walk(context.Background(), "/data", func(b Batch) error {
		dirs = append(dirs, b.Dir.Path)
		depths = append(depths, b.Depth)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/data", "/data/a", "/data/a/b", "/data/c"}, dirs)
	assert.Equal(t, []int{0, 1, 2, 1}, depths)
	assert.Equal(t, int64(3), sum.Files)
	assert.Equal(t, int64(3), sum.Folders)
	assert.Equal(t, int64(3), sum.TotalSize)
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	fs := memTree(t, map[string]string{"a/x": "x", "b/y": "y"})
	stop := errors.New("stop")

	calls := 0
	_, err := newScanner(t, fs, nil).Walk(context.Background(), "/data", func(Batch) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestStream(t *testing.T) {
	fs := memTree(t, map[string]string{"a/x": "x", "y": "y"})
	batches, errc := newScanner(t, fs, nil).Stream(context.Background(), "/data")

	var files int
	var n int
	for b := range batches {
		n++
		files += len(b.Files)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, files)
}

func TestScan_Cancelled(t *testing.T) {
	fs := memTree(t, map[string]string{"a/x": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newScanner(t, fs, nil).Scan(ctx, "/data")
	require.ErrorIs(t, err, context.Canceled)
}

func TestScan_ReportsProgress(t *testing.T) {
	fs := memTree(t, map[string]string{"a/x": "x", "b/y": "y", "z": "z"})
	rep := progress.New(256)
	rep.SetInterval(0)

	s := newScanner(t, fs, func(o *Options) { o.Reporter = rep })
	_, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)
	rep.Close()

	var events []progress.Event
	for ev := range rep.Events() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, progress.PhaseStart, events[0].Phase)

	last := events[len(events)-1]
	assert.Equal(t, progress.PhaseComplete, last.Phase)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, int64(3), last.FilesFound)
	assert.Equal(t, int64(2), last.FoldersFound)

	prev := 0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, prev)
		prev = ev.Percent
	}
}

// countingFs records the peak number of concurrent filesystem operations.
// A stat counts while it runs; an opened file counts until it is closed.
type countingFs struct {
	afero.Fs
	delay    time.Duration
	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
	opens    atomic.Int64
}

func (c *countingFs) enter() {
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (c *countingFs) leave() { c.inFlight.Add(-1) }

func (c *countingFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	c.enter()
	defer c.leave()
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	info, err := c.Fs.Stat(name)
	return info, false, err
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.enter()
	f, err := c.Fs.Open(name)
	if err != nil {
		c.leave()
		return nil, err
	}
	c.opens.Add(1)
	return &countedFile{File: f, fs: c}, nil
}

type countedFile struct {
	afero.File
	fs     *countingFs
	closed sync.Once
}

func (f *countedFile) Close() error {
	f.closed.Do(f.fs.leave)
	return f.File.Close()
}

func TestScan_BoundedConcurrencyFlatDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a 100,000 entry directory")
	}
	const entries = 100_000
	const limit = 16

	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/flat", 0o755))
	for i := range entries {
		require.NoError(t, afero.WriteFile(base, fmt.Sprintf("/flat/f%06d.dat", i), nil, 0o644))
	}
	fs := &countingFs{Fs: base}

	s := newScanner(t, fs, func(o *Options) { o.StatConcurrency = limit })
	res, err := s.Scan(context.Background(), "/flat")
	require.NoError(t, err)

	assert.Len(t, res.Files, entries)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(entries), fs.calls.Load())
	assert.Equal(t, int64(entries+1), fs.opens.Load(), "every file hashed plus the directory listing")
	assert.Zero(t, fs.inFlight.Load(), "every handle closed")
	assert.LessOrEqual(t, fs.peak.Load(), int64(limit))
}

func TestScan_StatsInParallel(t *testing.T) {
	layout := map[string]string{}
	for i := range 64 {
		layout[fmt.Sprintf("f%02d", i)] = "x"
	}
	fs := &countingFs{Fs: memTree(t, layout), delay: 2 * time.Millisecond}

	s := newScanner(t, fs, func(o *Options) { o.StatConcurrency = 8 })
	_, err := s.Scan(context.Background(), "/data")
	require.NoError(t, err)

	assert.Greater(t, fs.peak.Load(), int64(1))
	assert.LessOrEqual(t, fs.peak.Load(), int64(8))
}
