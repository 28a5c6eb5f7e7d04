package dupes_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/dupes"
	"github.com/jamesainslie/sift/pkg/sift/indexer"
	"github.com/jamesainslie/sift/pkg/sift/internal/testutil"
	"github.com/jamesainslie/sift/pkg/sift/scanner"
	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

func indexed(t *testing.T, layout map[string]string, mutate func(*scanner.Options)) store.Store {
	t.Helper()
	fs := testutil.MemTree(t, "/data", layout)
	st := testutil.Store(t)
	opts := testutil.ScanOptions(fs)
	if mutate != nil {
		mutate(&opts)
	}
	_, err := indexer.New(st).Rebuild(context.Background(), "/data", opts)
	require.NoError(t, err)
	return st
}

func TestFindDuplicates_Basic(t *testing.T) {
	st := indexed(t, map[string]string{
		"a.txt": "same content",
		"b.txt": "same content",
		"c.txt": "other content",
	}, nil)

	groups, err := dupes.NewDetector(st).FindDuplicates(context.Background(), "/data", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, []string{"/data/a.txt", "/data/b.txt"}, g.Paths)
	assert.Equal(t, 2, g.Count)
	assert.Equal(t, int64(12), g.Size)
	assert.Equal(t, int64(12), g.WastedBytes)
	assert.Len(t, g.ContentHash, 32)
}

func TestFindDuplicates_Ordering(t *testing.T) {
	st := indexed(t, map[string]string{
		"z/1":   "one",
		"a/1":   "one",
		"m/1":   "one",
		"b/2":   "two",
		"y/2":   "two",
		"solo":  "three",
		"empty": "",
		"none":  "",
	}, nil)

	groups, err := dupes.NewDetector(st).FindDuplicates(context.Background(), "/data", true)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, []string{"/data/a/1", "/data/m/1", "/data/z/1"}, groups[0].Paths)
	assert.Equal(t, int64(6), groups[0].WastedBytes)
	assert.Equal(t, []string{"/data/b/2", "/data/y/2"}, groups[1].Paths)
	assert.Equal(t, []string{"/data/empty", "/data/none"}, groups[2].Paths)
	assert.Zero(t, groups[2].WastedBytes)
	assert.Equal(t, int64(9), dupes.TotalWasted(groups))
}

func TestFindDuplicates_HashCeiling(t *testing.T) {
	st := indexed(t, map[string]string{
		"at/a":   strings.Repeat("x", 10),
		"at/b":   strings.Repeat("x", 10),
		"over/a": strings.Repeat("y", 11),
		"over/b": strings.Repeat("y", 11),
	}, func(o *scanner.Options) { o.HashSizeLimit = 10 })

	groups, err := dupes.NewDetector(st).FindDuplicates(context.Background(), "/data", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"/data/at/a", "/data/at/b"}, groups[0].Paths)
}

func TestFindDuplicates_NonRecursive(t *testing.T) {
	st := indexed(t, map[string]string{
		"a":     "dup",
		"b":     "dup",
		"sub/c": "dup",
		"sub/d": "sub only",
		"sub/e": "sub only",
	}, nil)
	d := dupes.NewDetector(st)

	groups, err := d.FindDuplicates(context.Background(), "/data", false)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"/data/a", "/data/b"}, groups[0].Paths)

	groups, err = d.FindDuplicates(context.Background(), "/data/sub", true)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"/data/sub/d", "/data/sub/e"}, groups[0].Paths)
}

func TestCopies(t *testing.T) {
	st := indexed(t, map[string]string{"a": "dup", "x/b": "dup", "c": "solo"}, nil)
	d := dupes.NewDetector(st)

	copies, err := d.Copies(context.Background(), "/data/x/b")
	require.NoError(t, err)
	require.Len(t, copies, 2)
	assert.Equal(t, "/data/a", copies[0].Path)

	_, err = d.Copies(context.Background(), "/data/missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGroup_InMemory(t *testing.T) {
	entries := []types.IndexEntry{
		{Path: "/r/b", Kind: types.KindFile, Size: 3, ContentHash: "h"},
		{Path: "/r/a", Kind: types.KindFile, Size: 3, ContentHash: "h"},
		{Path: "/r/big1", Kind: types.KindFile, Size: 1 << 40},
		{Path: "/r/big2", Kind: types.KindFile, Size: 1 << 40},
		{Path: "/r/dir", Kind: types.KindDirectory},
	}
	groups := dupes.Group(entries)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"/r/a", "/r/b"}, groups[0].Paths)
	assert.NotNil(t, dupes.Group(nil))
}
