// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) store.Store

// File returns a file entry for path.
func File(path string, size int64, hash string) types.IndexEntry {
	name := filepath.Base(path)
	return types.IndexEntry{
		Path:        path,
		ParentPath:  filepath.Dir(path),
		Name:        name,
		Kind:        types.KindFile,
		Size:        size,
		Extension:   types.ExtensionOf(name),
		ModTime:     1_700_000_000_000,
		CreateTime:  1_700_000_000_000,
		IndexedAt:   1,
		ContentHash: hash,
	}
}

// Dir returns a walked directory entry for path.
func Dir(path string) types.IndexEntry {
	return types.IndexEntry{
		Path:       path,
		ParentPath: filepath.Dir(path),
		Name:       filepath.Base(path),
		Kind:       types.KindDirectory,
		ModTime:    1_700_000_000_000,
		CreateTime: 1_700_000_000_000,
		IndexedAt:  1,
		Walked:     true,
	}
}

// Run executes the suite.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"GetMissing", testGetMissing},
		{"UpsertRoundTrip", testUpsertRoundTrip},
		{"UpsertReplacesIndexes", testUpsertReplacesIndexes},
		{"QuerySubtree", testQuerySubtree},
		{"QueryDirectChildren", testQueryDirectChildren},
		{"QueryFilters", testQueryFilters},
		{"QueryStopsOnError", testQueryStopsOnError},
		{"DeleteSubtreeIsSeparatorAware", testDeleteSubtreeSeparator},
		{"ByHash", testByHash},
		{"StageCommitReplacesSubtree", testStageCommit},
		{"StageInvisibleUntilCommit", testStageInvisible},
		{"StageDiscardKeepsSnapshot", testStageDiscard},
		{"StageCommitDropsOverlappingRecords", testStageOverlappingRecords},
		{"StageFinished", testStageFinished},
		{"RootsAndCount", testRootsAndCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			tt.fn(t, st)
		})
	}
}

func collect(t *testing.T, st store.Store, q store.Query) []string {
	t.Helper()
	var out []string
	require.NoError(t, st.Query(context.Background(), q, func(e types.IndexEntry) error {
		out = append(out, e.Path)
		return nil
	}))
	return out
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), []types.IndexEntry{
		Dir("/data"),
		Dir("/data/foo"),
		Dir("/data/foo/sub"),
		Dir("/data/foobar"),
		File("/data/a.txt", 10, "h1"),
		File("/data/foo/b.jpg", 20, "h2"),
		File("/data/foo/sub/c.JPG.txt", 30, ""),
		File("/data/foo/sub/d.jpg", 40, "h2"),
		File("/data/foobar/e.jpg", 50, "h3"),
		File("/other/f.txt", 60, "h1"),
	}))
}

func testGetMissing(t *testing.T, st store.Store) {
	_, err := st.Get(context.Background(), "/nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.RootRecord(context.Background(), "/nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUpsertRoundTrip(t *testing.T, st store.Store) {
	ctx := context.Background()
	f := File("/data/x.bin", 123, "abc")
	d := Dir("/data")
	d.Walked = false
	unhashed := File("/data/big.iso", 1<<40, "")
	require.NoError(t, st.Upsert(ctx, []types.IndexEntry{f, d, unhashed}))

	got, err := st.Get(ctx, "/data/x.bin")
	require.NoError(t, err)
	assert.Equal(t, f, got)

	got, err = st.Get(ctx, "/data")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	got, err = st.Get(ctx, "/data/big.iso")
	require.NoError(t, err)
	assert.False(t, got.HasHash())
	assert.Equal(t, int64(1<<40), got.Size)
}

func testUpsertReplacesIndexes(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, []types.IndexEntry{Dir("/d"), File("/d/x.jpg", 1, "old")}))

	changed := File("/d/x.jpg", 2, "new")
	changed.Extension = ".png"
	require.NoError(t, st.Upsert(ctx, []types.IndexEntry{changed}))

	byOld, err := st.ByHash(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, byOld)

	byNew, err := st.ByHash(ctx, "new")
	require.NoError(t, err)
	require.Len(t, byNew, 1)
	assert.Equal(t, int64(2), byNew[0].Size)

	assert.Empty(t, collect(t, st, store.Query{Root: "/d", Recurse: true, Extension: ".jpg"}))
	assert.Equal(t, []string{"/d/x.jpg"}, collect(t, st, store.Query{Root: "/d", Recurse: true, Extension: ".png"}))
	assert.Equal(t, []string{"/d/x.jpg"}, collect(t, st, store.Query{Root: "/d"}))

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testQuerySubtree(t *testing.T, st store.Store) {
	seed(t, st)
	assert.Equal(t, []string{
		"/data/foo/b.jpg",
		"/data/foo/sub",
		"/data/foo/sub/c.JPG.txt",
		"/data/foo/sub/d.jpg",
	}, collect(t, st, store.Query{Root: "/data/foo", Recurse: true}))
}

func testQueryDirectChildren(t *testing.T, st store.Store) {
	seed(t, st)
	assert.Equal(t, []string{
		"/data/a.txt",
		"/data/foo",
		"/data/foobar",
	}, collect(t, st, store.Query{Root: "/data"}))
	assert.Equal(t, []string{"/data/foo/b.jpg"},
		collect(t, st, store.Query{Root: "/data/foo", Kind: store.FilesOnly}))
}

func testQueryFilters(t *testing.T, st store.Store) {
	seed(t, st)
	assert.Equal(t, []string{"/data/foo", "/data/foo/sub", "/data/foobar"},
		collect(t, st, store.Query{Root: "/data", Recurse: true, Kind: store.DirsOnly}))
	assert.Equal(t, []string{
		"/data/a.txt", "/data/foo/b.jpg", "/data/foo/sub/c.JPG.txt",
		"/data/foo/sub/d.jpg", "/data/foobar/e.jpg",
	}, collect(t, st, store.Query{Root: "/data", Recurse: true, Kind: store.FilesOnly}))
	assert.Equal(t, []string{"/data/foo/b.jpg", "/data/foo/sub/d.jpg"},
		collect(t, st, store.Query{Root: "/data/foo", Recurse: true, Extension: ".jpg"}))
	assert.Equal(t, []string{"/data/foo/sub/c.JPG.txt"},
		collect(t, st, store.Query{Root: "/data/foo", Recurse: true, Kind: store.FilesOnly, Extension: ".txt"}))
}

func testQueryStopsOnError(t *testing.T, st store.Store) {
	seed(t, st)
	stop := assert.AnError
	calls := 0
	err := st.Query(context.Background(), store.Query{Root: "/data", Recurse: true}, func(types.IndexEntry) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func testDeleteSubtreeSeparator(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st)

	n, err := st.DeleteSubtree(ctx, "/data/foo")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = st.Get(ctx, "/data/foo")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, "/data/foo/sub/d.jpg")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.Get(ctx, "/data/foobar/e.jpg")
	require.NoError(t, err, "sibling sharing the name prefix survives")
	assert.Equal(t, []string{"/data/a.txt", "/data/foobar"}, collect(t, st, store.Query{Root: "/data"}))

	byHash, err := st.ByHash(ctx, "h2")
	require.NoError(t, err)
	assert.Empty(t, byHash)
}

func testByHash(t *testing.T, st store.Store) {
	seed(t, st)
	got, err := st.ByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/data/a.txt", got[0].Path)
	assert.Equal(t, "/other/f.txt", got[1].Path)
}

func record(root string, gen int64) types.RootRecord {
	return types.RootRecord{Root: root, Generation: gen, RootModTime: 42, Options: "opts"}
}

func testStageCommit(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st)

	stage, err := st.BeginStage(ctx, "/data/foo", 7)
	require.NoError(t, err)
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{
		File("/data/foo/new.jpg", 5, "h9"),
		Dir("/data/foo/sub"),
	}))
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{File("/data/foo/sub/z.txt", 6, "")}))

	root := Dir("/data/foo")
	root.IndexedAt = 7
	require.NoError(t, stage.Commit(ctx, root, record("/data/foo", 7)))

	assert.Equal(t, []string{"/data/foo/new.jpg", "/data/foo/sub", "/data/foo/sub/z.txt"},
		collect(t, st, store.Query{Root: "/data/foo", Recurse: true}))

	got, err := st.Get(ctx, "/data/foo")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.IndexedAt)

	rec, err := st.RootRecord(ctx, "/data/foo")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Generation)

	_, err = st.Get(ctx, "/data/foobar/e.jpg")
	require.NoError(t, err, "rows outside the subtree are untouched")
	_, err = st.Get(ctx, "/other/f.txt")
	require.NoError(t, err)

	old, err := st.ByHash(ctx, "h2")
	require.NoError(t, err)
	assert.Empty(t, old, "hash index of replaced rows is gone")
}

func testStageInvisible(t *testing.T, st store.Store) {
	ctx := context.Background()
	stage, err := st.BeginStage(ctx, "/s", 1)
	require.NoError(t, err)
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{File("/s/a", 1, "x")}))

	_, err = st.Get(ctx, "/s/a")
	require.ErrorIs(t, err, store.ErrNotFound)
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, stage.Commit(ctx, Dir("/s"), record("/s", 1)))
	n, err = st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func testStageDiscard(t *testing.T, st store.Store) {
	ctx := context.Background()
	first, err := st.BeginStage(ctx, "/r", 1)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, []types.IndexEntry{File("/r/keep", 1, "k")}))
	require.NoError(t, first.Commit(ctx, Dir("/r"), record("/r", 1)))

	second, err := st.BeginStage(ctx, "/r", 2)
	require.NoError(t, err)
	require.NoError(t, second.Put(ctx, []types.IndexEntry{File("/r/other", 1, "o")}))
	require.NoError(t, second.Discard(ctx))

	assert.Equal(t, []string{"/r/keep"}, collect(t, st, store.Query{Root: "/r", Recurse: true}))
	rec, err := st.RootRecord(ctx, "/r")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Generation)

	// A later stage of the same root starts empty.
	third, err := st.BeginStage(ctx, "/r", 2)
	require.NoError(t, err)
	require.NoError(t, third.Commit(ctx, Dir("/r"), record("/r", 2)))
	assert.Empty(t, collect(t, st, store.Query{Root: "/r", Recurse: true}))
}

func testStageOverlappingRecords(t *testing.T, st store.Store) {
	ctx := context.Background()
	for i, root := range []string{"/a", "/a/b", "/a/bc", "/a/b/c"} {
		stage, err := st.BeginStage(ctx, root, int64(i+1))
		require.NoError(t, err)
		require.NoError(t, stage.Commit(ctx, Dir(root), record(root, int64(i+1))))
	}

	stage, err := st.BeginStage(ctx, "/a/b", 10)
	require.NoError(t, err)
	require.NoError(t, stage.Commit(ctx, Dir("/a/b"), record("/a/b", 10)))

	roots, err := st.Roots(ctx)
	require.NoError(t, err)
	var names []string
	for _, r := range roots {
		names = append(names, r.Root)
	}
	assert.Equal(t, []string{"/a/b", "/a/bc"}, names)
}

func testStageFinished(t *testing.T, st store.Store) {
	ctx := context.Background()
	stage, err := st.BeginStage(ctx, "/f", 1)
	require.NoError(t, err)
	require.NoError(t, stage.Commit(ctx, Dir("/f"), record("/f", 1)))

	require.ErrorIs(t, stage.Put(ctx, []types.IndexEntry{File("/f/x", 1, "")}), store.ErrStageDone)
	require.ErrorIs(t, stage.Commit(ctx, Dir("/f"), record("/f", 1)), store.ErrStageDone)
	require.NoError(t, stage.Discard(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	other, err := st.BeginStage(ctx, "/g", 1)
	require.NoError(t, err)
	require.ErrorIs(t, other.Commit(cancelled, Dir("/g"), record("/g", 1)), context.Canceled)
	_, err = st.RootRecord(ctx, "/g")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, other.Discard(ctx))
}

func testRootsAndCount(t *testing.T, st store.Store) {
	ctx := context.Background()
	seed(t, st)
	for _, root := range []string{"/other", "/data"} {
		stage, err := st.BeginStage(ctx, root, 3)
		require.NoError(t, err)
		require.NoError(t, stage.Commit(ctx, Dir(root), record(root, 3)))
	}

	roots, err := st.Roots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "/data", roots[0].Root)
	assert.Equal(t, "/other", roots[1].Root)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "both commits replaced their subtrees with empty stages")
}
