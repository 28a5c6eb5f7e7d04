package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/types"
)

func TestIsUnder(t *testing.T) {
	tests := []struct {
		path, root string
		want       bool
	}{
		{"/data/foo", "/data/foo", true},
		{"/data/foo/a", "/data/foo", true},
		{"/data/foobar", "/data/foo", false},
		{"/data", "/data/foo", false},
		{"/anything", "/", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsUnder(tt.path, tt.root), "%s under %s", tt.path, tt.root)
	}
}

func TestSubtreePrefix(t *testing.T) {
	assert.Equal(t, "/data/", SubtreePrefix("/data"))
	assert.Equal(t, "/", SubtreePrefix("/"))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, "/data0", PrefixUpperBound("/data/"))
	assert.Empty(t, PrefixUpperBound(""))
	assert.Less(t, "/data/zzz", PrefixUpperBound("/data/"))
	assert.Greater(t, "/data0", "/data/\xff")
}

func TestAffectedRoots(t *testing.T) {
	roots := []string{"/", "/a", "/a/b", "/a/bc", "/a/b/c", "/x"}
	assert.Equal(t, []string{"/", "/a", "/a/b", "/a/b/c"}, AffectedRoots("/a/b", roots))
	assert.Equal(t, []string{"/"}, AffectedRoots("/y", roots))
	assert.Empty(t, AffectedRoots("/y", []string{"/x"}))
}

func TestKindFilter(t *testing.T) {
	f := types.IndexEntry{Kind: types.KindFile}
	d := types.IndexEntry{Kind: types.KindDirectory}
	assert.True(t, AnyKind.Match(&f))
	assert.True(t, AnyKind.Match(&d))
	assert.True(t, FilesOnly.Match(&f))
	assert.False(t, FilesOnly.Match(&d))
	assert.True(t, DirsOnly.Match(&d))
	assert.False(t, DirsOnly.Match(&f))
}

func TestRegistry(t *testing.T) {
	boom := errors.New("boom")
	Register("test-failing", func(string) (Store, error) { return nil, boom })

	assert.Contains(t, Backends(), "test-failing")
	assert.Panics(t, func() {
		Register("test-failing", func(string) (Store, error) { return nil, nil })
	})

	_, err := Open("test-failing", "/tmp/x")
	require.ErrorIs(t, err, types.ErrIndexUnavailable)
	require.ErrorIs(t, err, boom)

	_, err = Open("no-such-backend", "/tmp/x")
	require.ErrorIs(t, err, ErrUnknownBackend)
}
