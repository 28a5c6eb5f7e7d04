package badgerstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/store/storetest"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, err := OpenInMemory()
		require.NoError(t, err)
		return st
	})
}

func TestOpenOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	st, err := store.Open(Name, dir)
	require.NoError(t, err)
	assert.Equal(t, Name, st.Backend())
	require.NoError(t, st.Upsert(ctx, []types.IndexEntry{storetest.File("/d/a.txt", 3, "x")}))
	require.NoError(t, st.Close())

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Get(ctx, "/d/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Size)

	sc, err := st.(*Store).schema()
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, CurrentSchemaVersion, sc.Version)
}

func TestOpenPurgesStagedRows(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(dir)
	require.NoError(t, err)
	stage, err := st.BeginStage(ctx, "/d", 1)
	require.NoError(t, err)
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{storetest.File("/d/a", 1, "")}))
	// Simulate a crash: close without commit or discard.
	require.NoError(t, st.Close())

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()

	var staged int
	require.NoError(t, st.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixStage, false, func(*badger.Item) error {
			staged++
			return nil
		})
	}))
	assert.Zero(t, staged)
}

func TestSchemaTooNew(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.setSchema(CurrentSchemaVersion+1))
	require.NoError(t, st.Close())

	_, err = Open(dir)
	require.ErrorIs(t, err, store.ErrSchemaTooNew)

	_, err = store.Open(Name, dir)
	require.ErrorIs(t, err, types.ErrIndexUnavailable)
}

func TestIndexKeys(t *testing.T) {
	e := storetest.File("/d/photo.jpg", 1, "abc")
	keys := indexKeys(&e)

	var got []string
	for _, k := range keys {
		got = append(got, string(k))
	}
	assert.Contains(t, got, prefixParent+"/d\x00photo.jpg")
	assert.Contains(t, got, prefixKind+"file\x00/d/photo.jpg")
	assert.Contains(t, got, prefixExt+".jpg\x00/d/photo.jpg")
	assert.Contains(t, got, prefixHash+"abc\x00/d/photo.jpg")

	for _, k := range keys[1:] {
		assert.Equal(t, "/d/photo.jpg", pathFromIndexKey(k))
	}

	dir := storetest.Dir("/d/sub")
	for _, k := range indexKeys(&dir) {
		assert.NotContains(t, string(k), prefixHash)
	}
}

func TestFailedCommitCanBeDiscarded(t *testing.T) {
	ctx := context.Background()
	st, err := OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	stage, err := st.BeginStage(ctx, "/d", 1)
	require.NoError(t, err)
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{storetest.File("/d/a", 1, "")}))

	// An undecodable root record makes the commit fail before promotion.
	require.NoError(t, st.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rootKey("/d"), []byte("{broken"))
	}))
	require.Error(t, stage.Commit(ctx, storetest.Dir("/d"), types.RootRecord{Root: "/d", Generation: 1}))

	require.NoError(t, stage.Discard(ctx))
	var staged int
	require.NoError(t, st.db.View(func(txn *badger.Txn) error {
		return iterate(txn, prefixStage, false, func(*badger.Item) error {
			staged++
			return nil
		})
	}))
	assert.Zero(t, staged)
}
