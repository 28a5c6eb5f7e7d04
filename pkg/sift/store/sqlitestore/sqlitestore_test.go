package sqlitestore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sift/pkg/sift/store"
	"github.com/jamesainslie/sift/pkg/sift/store/storetest"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, err := Open(filepath.Join(t.TempDir(), "index.sqlite"))
		require.NoError(t, err)
		return st
	})
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "index.sqlite")
	st, err := store.Open(Name, path)
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, Name, st.Backend())
	assert.FileExists(t, path)
}

func TestNullHash(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "index.sqlite"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Upsert(ctx, []types.IndexEntry{storetest.File("/d/big", 10, "")}))

	var hash sql.NullString
	require.NoError(t, st.db.QueryRow(`SELECT content_hash FROM entries WHERE path = ?`, "/d/big").Scan(&hash))
	assert.False(t, hash.Valid, "absent hash is stored as NULL")

	byEmpty, err := st.ByHash(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, byEmpty)
}

func TestOpenPurgesStagedRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sqlite")

	st, err := Open(path)
	require.NoError(t, err)
	stage, err := st.BeginStage(ctx, "/d", 1)
	require.NoError(t, err)
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{storetest.File("/d/a", 1, "")}))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM staging`).Scan(&n))
	assert.Zero(t, n)
}

func TestSchemaTooNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	st, err := Open(path)
	require.NoError(t, err)
	_, err = st.db.Exec(`PRAGMA user_version = 99`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, store.ErrSchemaTooNew)
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	for range 2 {
		st, err := Open(path)
		require.NoError(t, err)
		var v int
		require.NoError(t, st.db.QueryRow(`PRAGMA user_version`).Scan(&v))
		assert.Equal(t, CurrentSchemaVersion, v)
		require.NoError(t, st.Close())
	}
}

func TestFailedCommitCanBeDiscarded(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "index.sqlite"))
	require.NoError(t, err)
	defer st.Close()

	stage, err := st.BeginStage(ctx, "/d", 1)
	require.NoError(t, err)
	require.NoError(t, stage.Put(ctx, []types.IndexEntry{storetest.File("/d/a", 1, "")}))

	_, err = st.db.Exec(`CREATE TRIGGER reject_roots BEFORE INSERT ON roots BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)
	require.Error(t, stage.Commit(ctx, storetest.Dir("/d"), types.RootRecord{Root: "/d", Generation: 1}))

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM staging`).Scan(&n))
	assert.Equal(t, 1, n, "rolled back commit keeps its staged rows")

	require.NoError(t, stage.Discard(ctx))
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM staging`).Scan(&n))
	assert.Zero(t, n)
}
